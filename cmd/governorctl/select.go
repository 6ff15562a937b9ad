package main

import (
	"github.com/spf13/cobra"

	"github.com/openbeamline/governor/internal/pvbus"
)

var selectCmd = &cobra.Command{
	Use:     "select MACHINE",
	Aliases: []string{"sel"},
	Short:   "select MACHINE as the Governor's single Active machine",
	Long: `select writes to the global Config-Sel channel, switching which
machine is Active. Rejected while any registered machine is Busy.`,
	Args: cobra.ExactArgs(1),
	Run:  wrapCall(runSelect),
}

func init() {
	rootCmd.AddCommand(selectCmd)
}

func runSelect(c *Client, cmd *cobra.Command, args []string) error {
	return withSpinner("selecting...", func() error {
		return c.Write(pvbus.Global(pvbus.SuffixConfigSel), args[0])
	})
}
