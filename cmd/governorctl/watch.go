package main

import (
	"context"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"github.com/openbeamline/governor/internal/pvbus"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"dashboard", "w"},
	Short:   "live status dashboard for every machine, following the PV bus websocket feed",
	Args:    cobra.NoArgs,
	Run:     wrapCall(runWatch),
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(c *Client, cmd *cobra.Command, args []string) error {
	list, err := c.Read(pvbus.Global(pvbus.SuffixListI))
	if err != nil {
		return err
	}
	var names []string
	if list != "" {
		names = strings.Split(list, ",")
	}
	sort.Strings(names)

	rows := make(map[string]int, len(names))

	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 0)
	table.SetBorder(true).SetTitle("governor watch — press q to quit")

	header := []string{"Machine", "Status", "State", "Message"}
	for col, h := range header {
		table.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false))
	}
	for i, name := range names {
		row := i + 1
		rows[name] = row
		table.SetCell(row, 0, tview.NewTableCell(name))
		for col := 1; col < len(header); col++ {
			table.SetCell(row, col, tview.NewTableCell("-"))
		}
	}

	table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return event
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := c.Subscribe(ctx, endpoint())
	if err != nil {
		return err
	}

	go func() {
		for snap := range updates {
			row, ok := rows[snap.Machine]
			if !ok {
				continue
			}
			app.QueueUpdateDraw(func() {
				table.SetCell(row, 1, tview.NewTableCell(string(snap.Status)).
					SetTextColor(tcellColorForStatus(string(snap.Status))))
				table.SetCell(row, 2, tview.NewTableCell(snap.State))
				table.SetCell(row, 3, tview.NewTableCell(snap.Msg))
			})
		}
		app.QueueUpdateDraw(func() {
			table.SetTitle("governor watch — connection lost, press q to quit")
		})
	}()

	return app.SetRoot(table, true).SetFocus(table).Run()
}

func tcellColorForStatus(st string) tcell.Color {
	switch st {
	case "Idle":
		return tcell.ColorGreen
	case "Busy":
		return tcell.ColorYellow
	case "Disabled":
		return tcell.ColorGray
	default:
		return tcell.ColorRed
	}
}
