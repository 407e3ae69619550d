// cmd/ntripctl/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/John-MustangGT/ntripwatch/internal/config"
	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/John-MustangGT/ntripwatch/internal/web"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	debug      bool
}

// load reads the config file, falling back to defaults when the file is
// absent so one-shot probes work without any setup.
func (g *globalFlags) load() (*config.Config, error) {
	if _, err := os.Stat(g.configFile); os.IsNotExist(err) {
		logrus.WithField("config_file", g.configFile).Debug("Config file not found, using defaults")
		return config.Default(), nil
	}
	return config.Load(g.configFile)
}

func (g *globalFlags) openStore() (*config.Config, database.Store, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, nil, err
	}
	store, err := database.Open(cfg.Database.Type, cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s database %s: %w", cfg.Database.Type, cfg.Database.Path, err)
	}
	return cfg, store, nil
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:           "ntripctl",
		Short:         "Operate the NTRIP caster monitor",
		Version:       web.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logrus.WarnLevel
			if g.debug {
				level = logrus.DebugLevel
			}
			logrus.SetLevel(level)
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&g.configFile, "config", "c", "config.yaml", "Configuration file path")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")

	root.AddCommand(probeCmd(&g))
	root.AddCommand(castersCmd(&g))
	root.AddCommand(statusCmd(&g))
	root.AddCommand(sweepCmd(&g))
	root.AddCommand(discoverCmd(&g))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, errorMsg("%v", err))
		os.Exit(1)
	}
}
