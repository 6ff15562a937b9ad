package main

import (
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const spinnerTick = 100 * time.Millisecond

var (
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	grey   = color.New(color.FgWhite).SprintFunc()
)

// controlCall is one governorctl verb bound to a Client, following the
// teacher's control.ControlCall.
type controlCall func(c *Client, cmd *cobra.Command, args []string) error

// wrapCall adapts a controlCall into a cobra Run function, turning any
// returned error into a fatal log line, the way the teacher's
// control.WrapCall turns a failed RPC into one.
func wrapCall(call controlCall) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		c := NewClient(endpoint())
		if err := call(c, cmd, args); err != nil {
			log.WithPrefix(cmd.Use).WithField("error", err).Fatal("command finished with error")
			os.Exit(1)
		}
	}
}

// withSpinner runs fn behind a CLI spinner, scoped to just the network
// round trip so it never overlaps a survey confirmation prompt.
func withSpinner(suffix string, fn func() error) error {
	s := spinner.New(spinner.CharSets[11], spinnerTick)
	s.Color("yellow")
	s.Suffix = " " + suffix
	s.Start()
	err := fn()
	s.Stop()
	return err
}

func colorStatus(st string) string {
	switch st {
	case "Idle":
		return green(st)
	case "Busy":
		return yellow(st)
	case "Disabled":
		return grey(st)
	default:
		return red(st)
	}
}
