package main

import (
	"fmt"
	"strings"
	"time"

	survey "github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/openbeamline/governor/internal/pvbus"
)

var goCmd = &cobra.Command{
	Use:     "go MACHINE [STATE]",
	Aliases: []string{"transition", "tr"},
	Short:   "issue a Go command, moving MACHINE toward STATE",
	Long: `The go command writes the target state name to a machine's
Go-Cmd channel, then waits for the machine to settle back to Idle or
FAULT. It is rejected while the machine is Busy or Disabled, or if STATE
is neither the machine's initial state nor a defined transition from its
current state.

If STATE is omitted, go prompts interactively with the machine's
currently reachable states.`,
	Args: cobra.RangeArgs(1, 2),
	Run:  wrapCall(runGo),
}

var goYes bool

func init() {
	rootCmd.AddCommand(goCmd)
	goCmd.Flags().BoolVarP(&goYes, "yes", "y", false, "skip the confirmation prompt")
}

func runGo(c *Client, cmd *cobra.Command, args []string) error {
	machine := args[0]
	target := ""
	if len(args) == 2 {
		target = args[1]
	} else {
		reachable, err := c.Read(pvbus.Machine(machine, pvbus.SuffixReachI))
		if err != nil {
			return err
		}
		options := strings.Split(reachable, ",")
		if len(options) == 0 || options[0] == "" {
			return fmt.Errorf("machine %q has no reachable states right now", machine)
		}
		prompt := &survey.Select{Message: "Target state:", Options: options}
		if err := survey.AskOne(prompt, &target); err != nil {
			return err
		}
	}

	if !goYes {
		confirmed := false
		prompt := &survey.Confirm{Message: fmt.Sprintf("Send Go(%s) to machine %q?", target, machine)}
		if err := survey.AskOne(prompt, &confirmed); err != nil {
			return err
		}
		if !confirmed {
			return fmt.Errorf("aborted by operator")
		}
	}

	if err := c.Write(pvbus.Machine(machine, pvbus.SuffixGoCmd), target); err != nil {
		return err
	}

	return withSpinner(fmt.Sprintf("waiting for %s to reach %s...", machine, target), func() error {
		return waitForIdle(c, machine)
	})
}

// waitForIdle polls a machine's Status-Sts until it settles to Idle or
// FAULT, since Go-Cmd itself only blocks on acceptance, not completion
// (the controller replies to Go as soon as the event is accepted and the
// executor runs on its own goroutine).
func waitForIdle(c *Client, machine string) error {
	const (
		pollInterval = 100 * time.Millisecond
		maxPolls     = 600
	)
	for i := 0; i < maxPolls; i++ {
		st, err := c.Read(pvbus.Machine(machine, pvbus.SuffixStatusSts))
		if err != nil {
			return err
		}
		switch st {
		case "Idle":
			return nil
		case "FAULT":
			msg, _ := c.Read(pvbus.Machine(machine, pvbus.SuffixMsgI))
			return fmt.Errorf("transition faulted: %s", msg)
		}
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("timed out waiting for %s to settle", machine)
}
