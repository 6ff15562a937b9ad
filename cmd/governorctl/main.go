// Command governorctl is the operator CLI for a running governord: it
// reads machine status and issues Go/Abort/Select commands over the PV
// bus's HTTP and websocket surface.
//
// The command layout follows the teacher's coconut utility: one cobra
// command per verb, a shared endpoint/verbose configuration loaded by
// viper from flags, environment or a settings file, and thin per-command
// files that each wrap a single call against the daemon.
package main

import (
	"fmt"
	"os"
	"path"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openbeamline/governor/common/logger"
)

const appName = "governorctl"

var log = logger.New(logrus.StandardLogger(), appName)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Operator CLI for the Governor beamline positioner supervisor",
	Long: `governorctl talks to a running governord over its PV bus to
report machine status and issue Go, Abort, Select and Kill commands.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("configuration file (default $HOME/.config/%s/settings.yaml)", appName))
	rootCmd.PersistentFlags().String("endpoint", "127.0.0.1:7777", "governord PV bus endpoint as HOST:PORT")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "show verbose output for debug purposes")

	_ = viper.BindPFlag("endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	viper.SetDefault("endpoint", "127.0.0.1:7777")
	viper.SetDefault("verbose", false)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			log.WithField("error", err).Error("cannot find configuration file")
			os.Exit(1)
		}
		viper.AddConfigPath(path.Join(home, ".config/"+appName))
		viper.SetConfigName("settings")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.WithField("file", viper.ConfigFileUsed()).Debug("configuration loaded")
	}

	if viper.GetBool("verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func endpoint() string {
	return viper.GetString("endpoint")
}
