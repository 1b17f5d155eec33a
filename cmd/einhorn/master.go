package main

import (
	"fmt"
	"net/http"
	"os"
	"runtime"

	"github.com/einhornteam/einhorn/internal/config"
	"github.com/einhornteam/einhorn/internal/logging"
	"github.com/einhornteam/einhorn/internal/metrics"
	"github.com/einhornteam/einhorn/internal/supervisor"
	"github.com/einhornteam/einhorn/internal/version"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	masterConfigPath string
	masterName       string
	masterSocket     string
	masterLockfile   string
	masterPidfile    string
	masterWorkers    int
)

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Run the einhorn master control plane",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadMasterConfig()
		if err != nil {
			return err
		}

		// Default to human-readable logs when talking to a terminal.
		logFormat := cfg.Master.LogFormat
		if !cmd.Flags().Changed("config") && term.IsTerminal(int(os.Stderr.Fd())) {
			logFormat = "text"
		}
		verbosity := logging.New(logging.LogConfig{
			Level:  cfg.Master.LogLevel,
			Format: logFormat,
		})

		coll := metrics.New()
		coll.SetBuildInfo(version.Version, runtime.Version())

		m := supervisor.NewMaster(supervisor.MasterConfig{
			Config:    cfg,
			Verbosity: verbosity,
			Metrics:   coll,
		})

		if err := m.Start(); err != nil {
			return err
		}

		if cfg.Metrics.Enabled {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", coll.Handler())
				if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
					verbosity.Logger.Error("metrics server error", "error", err)
				}
			}()
			verbosity.Logger.Info("metrics server started", "addr", cfg.Metrics.Listen)
		}

		m.Run()
		return nil
	},
}

func loadMasterConfig() (*config.Config, error) {
	cfg := config.Default()
	if masterConfigPath != "" {
		loaded, warnings, err := config.Load(masterConfigPath)
		if err != nil {
			return nil, err
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		cfg = loaded
	}

	// Flags override file settings.
	if masterName != "" {
		cfg.Master.Name = masterName
	}
	if masterSocket != "" {
		cfg.Master.SocketPath = masterSocket
	}
	if masterLockfile != "" {
		cfg.Master.LockfilePath = masterLockfile
	}
	if masterPidfile != "" {
		cfg.Master.PidfilePath = masterPidfile
	}
	if masterWorkers > 0 {
		cfg.Master.Workers = masterWorkers
	}

	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", errs[0])
	}
	return cfg, nil
}

func init() {
	masterCmd.Flags().StringVarP(&masterConfigPath, "config", "c", "", "path to TOML config file")
	masterCmd.Flags().StringVar(&masterName, "name", "", "instance name, used to derive default file paths")
	masterCmd.Flags().StringVar(&masterSocket, "socket-path", "", "command socket path override")
	masterCmd.Flags().StringVar(&masterLockfile, "lockfile-path", "", "lock file path override")
	masterCmd.Flags().StringVar(&masterPidfile, "pidfile-path", "", "pid file path override")
	masterCmd.Flags().IntVarP(&masterWorkers, "number", "n", 0, "target number of workers")
	rootCmd.AddCommand(masterCmd)
}
