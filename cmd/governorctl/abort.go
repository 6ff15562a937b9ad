package main

import (
	"fmt"

	survey "github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/openbeamline/governor/internal/pvbus"
)

var abortCmd = &cobra.Command{
	Use:   "abort [machine]",
	Short: "abort the active transition, either a specific machine or the Governor's active one",
	Args:  cobra.MaximumNArgs(1),
	Run:   wrapCall(runAbort),
}

var abortYes bool

func init() {
	rootCmd.AddCommand(abortCmd)
	abortCmd.Flags().BoolVarP(&abortYes, "yes", "y", false, "skip the confirmation prompt")
}

func runAbort(c *Client, cmd *cobra.Command, args []string) error {
	target := "the active machine"
	if len(args) == 1 {
		target = fmt.Sprintf("machine %q", args[0])
	}

	if !abortYes {
		confirmed := false
		prompt := &survey.Confirm{Message: fmt.Sprintf("Abort %s?", target)}
		if err := survey.AskOne(prompt, &confirmed); err != nil {
			return err
		}
		if !confirmed {
			return fmt.Errorf("aborted by operator")
		}
	}

	return withSpinner("sending Abort-Cmd...", func() error {
		if len(args) == 1 {
			return c.Write(pvbus.Machine(args[0], pvbus.SuffixAbortCmd), "1")
		}
		return c.Write(pvbus.Global(pvbus.SuffixAbortCmdG), "1")
	})
}
