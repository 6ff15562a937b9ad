package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/openbeamline/governor/internal/pvbus"
)

var statusCmd = &cobra.Command{
	Use:     "status [machine]",
	Aliases: []string{"st", "show"},
	Short:   "show one machine's status, or every machine if none is given",
	Args:    cobra.MaximumNArgs(1),
	Run:     wrapCall(runStatus),
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(c *Client, cmd *cobra.Command, args []string) error {
	var names []string
	if len(args) == 1 {
		names = []string{args[0]}
	} else {
		list, err := c.Read(pvbus.Global(pvbus.SuffixListI))
		if err != nil {
			return err
		}
		if list != "" {
			names = strings.Split(list, ",")
		}
		sort.Strings(names)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Machine", "Status", "State", "Reachable", "Message"})

	for _, name := range names {
		st, err := c.Read(pvbus.Machine(name, pvbus.SuffixStatusSts))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		state, err := c.Read(pvbus.Machine(name, pvbus.SuffixStateI))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		reachable, _ := c.Read(pvbus.Machine(name, pvbus.SuffixReachI))
		msg, _ := c.Read(pvbus.Machine(name, pvbus.SuffixMsgI))
		table.Append([]string{name, colorStatus(st), state, reachable, msg})
	}
	table.Render()
	return nil
}
