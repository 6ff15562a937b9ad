// Command governord is the Governor daemon: it loads one or more
// machine configurations, compiles and starts them, and serves the PV
// bus described in spec §6 over HTTP and websocket.
//
// The CLI surface and startup sequence follow the teacher's
// cmd/o2-aliecs-core/main.go: cobra for command parsing, viper for the
// handful of settings that also make sense as env vars, a
// logrus-prefixed-formatter text formatter for the console, and a
// plugin-style registration step (here, one Controller per -c file)
// before the server blocks.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/k0kubun/pp"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	prefixed "github.com/teo/logrus-prefixed-formatter"

	"github.com/openbeamline/governor/common/logger"
	"github.com/openbeamline/governor/internal/config"
	"github.com/openbeamline/governor/internal/controller"
	"github.com/openbeamline/governor/internal/machine"
	"github.com/openbeamline/governor/internal/metrics"
	"github.com/openbeamline/governor/internal/pvbus"
	"github.com/openbeamline/governor/internal/status"
	"github.com/openbeamline/governor/internal/supervisor"
	"github.com/openbeamline/governor/internal/target"
)

var (
	configPaths []string
	syncPath    string
	logLevel    string
	prefix      string
	checkConfig bool
	listenAddr  string
)

func main() {
	root := &cobra.Command{
		Use:   "governord",
		Short: "Supervisory state manager for beamline positioners",
		RunE:  run,
	}
	root.Flags().StringSliceVarP(&configPaths, "config", "c", nil, "one or more machine configuration files (required)")
	root.Flags().StringVarP(&syncPath, "sync", "s", "", "optional cross-machine target sync file")
	root.Flags().StringVarP(&logLevel, "log-level", "l", "INFO", "log level: DEBUG, INFO, WARNING, ERROR, CRITICAL")
	root.Flags().StringVar(&prefix, "prefix", "", "string prepended to every published PV channel")
	root.Flags().BoolVar(&checkConfig, "check_config", false, "parse and validate configuration, then exit")
	root.Flags().StringVar(&listenAddr, "listen", ":7777", "HTTP/websocket listen address")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("GOVERNOR")
	_ = viper.BindPFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if len(configPaths) == 0 {
		return fmt.Errorf("at least one -c CONFIG is required")
	}

	// Settings not given as flags fall back to GOVERNOR_* environment
	// variables (e.g. GOVERNOR_PREFIX, GOVERNOR_LOG_LEVEL).
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	syncPath = viper.GetString("sync")
	logLevel = viper.GetString("log-level")
	prefix = viper.GetString("prefix")
	listenAddr = viper.GetString("listen")

	base := logrus.New()
	base.SetFormatter(&prefixed.TextFormatter{FullTimestamp: true})
	base.SetLevel(parseLevel(logLevel))
	log := logger.New(base, "governord")

	cfgs := make([]*config.MachineConfig, 0, len(configPaths))
	for _, p := range configPaths {
		cfg, err := config.LoadMachine(p)
		if err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
		cfgs = append(cfgs, cfg)
	}

	var syncCfg config.SyncConfig
	if syncPath != "" {
		sc, err := config.LoadSync(syncPath)
		if err != nil {
			return fmt.Errorf("loading sync file: %w", err)
		}
		syncCfg = sc
	}

	if checkConfig {
		return runCheckConfig(cfgs, log)
	}

	store := target.New(syncCfg, log)
	defer store.Close()

	metricsBundle := metrics.New()
	server := pvbus.NewServer(prefix, store, log)
	gov := supervisor.New(log)

	if err := compileAndRegister(cfgs, configPaths, store, log, gov, server, metricsBundle); err != nil {
		return err
	}
	server.SetGovernor(gov)
	server.Router().Handle("/metrics", metricsBundle.Handler())

	gov.Start()
	if names := gov.Names(); len(names) > 0 {
		if err := gov.SelectActive(names[0]); err != nil {
			log.Errorf("selecting initial active machine: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	server.SetKillFunc(stop)

	go func() {
		if err := server.ListenAndServe(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("pv bus server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	gov.Kill()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func compileAndRegister(
	cfgs []*config.MachineConfig,
	paths []string,
	store *target.Store,
	log *logger.Log,
	gov *supervisor.Governor,
	server *pvbus.Server,
	metricsBundle *metrics.Metrics,
) error {
	for i, cfg := range cfgs {
		m, err := machine.Compile(cfg, store, log)
		if err != nil {
			return fmt.Errorf("compiling %q: %w", cfg.Name, err)
		}
		// Wired as a setter rather than a Compile argument (spec §6's
		// LLim/HLim and position writes need somewhere to persist to,
		// but most callers — including every test — never touch them).
		m.SetConfigStore(config.NewStore(paths[i], cfg))
		c := controller.New(m, log, func(snap controller.Snapshot) {
			server.Publish(snap)
			metricsBundle.ObserveStatus(snap.Machine, snap.Status)
			if snap.Status == status.Fault {
				metricsBundle.ObserveFault(snap.Machine, snap.FailedDevices)
			}
		})
		gov.Register(cfg.Name, c)
	}
	return nil
}

func runCheckConfig(cfgs []*config.MachineConfig, log *logger.Log) error {
	failed := false
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Machine", "Result", "Detail"})

	for _, cfg := range cfgs {
		if err := config.Validate(cfg); err != nil {
			failed = true
			table.Append([]string{cfg.Name, color.RedString("INVALID"), err.Error()})
			continue
		}
		table.Append([]string{cfg.Name, color.GreenString("OK"), ""})
	}
	table.Render()

	if log.Logger.GetLevel() >= logrus.DebugLevel {
		for _, cfg := range cfgs {
			pp.Println(cfg)
		}
	}

	if failed {
		os.Exit(1)
	}
	return nil
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "DEBUG":
		return logrus.DebugLevel
	case "INFO":
		return logrus.InfoLevel
	case "WARNING":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	case "CRITICAL":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}
