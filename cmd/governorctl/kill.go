package main

import (
	"fmt"

	survey "github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/openbeamline/governor/internal/pvbus"
)

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "shut down the governord process this client is talking to",
	Long: `kill aborts the active machine, stops every controller and
device poller, and terminates the daemon's PV bus listener. It cannot be
undone from governorctl; the daemon must be restarted manually.`,
	Args: cobra.NoArgs,
	Run:  wrapCall(runKill),
}

var killYes bool

func init() {
	rootCmd.AddCommand(killCmd)
	killCmd.Flags().BoolVarP(&killYes, "yes", "y", false, "skip the confirmation prompt")
}

func runKill(c *Client, cmd *cobra.Command, args []string) error {
	if !killYes {
		confirmed := false
		prompt := &survey.Confirm{Message: "This will shut down governord. Continue?"}
		if err := survey.AskOne(prompt, &confirmed); err != nil {
			return err
		}
		if !confirmed {
			return fmt.Errorf("aborted by operator")
		}
	}

	return withSpinner("sending Kill-Cmd...", func() error {
		return c.Write(pvbus.Global(pvbus.SuffixKillCmd), "1")
	})
}
