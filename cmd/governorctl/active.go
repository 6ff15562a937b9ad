package main

import (
	"github.com/spf13/cobra"

	"github.com/openbeamline/governor/internal/pvbus"
)

var activeCmd = &cobra.Command{
	Use:   "active {Active|Inactive}",
	Short: "set the Governor's global Active-Sel switch",
	Long: `active writes to the global Active-Sel channel. Inactive disables
every machine regardless of which one is selected; Active restores the
selected machine (if any) and leaves the rest Disabled.`,
	Args: cobra.ExactArgs(1),
	Run:  wrapCall(runActive),
}

func init() {
	rootCmd.AddCommand(activeCmd)
}

func runActive(c *Client, cmd *cobra.Command, args []string) error {
	return withSpinner("writing Active-Sel...", func() error {
		return c.Write(pvbus.Global(pvbus.SuffixActiveSel), args[0])
	})
}
