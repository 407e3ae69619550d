package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/John-MustangGT/ntripwatch/internal/monitoring"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// parseTarget splits host[:port], defaulting to the NTRIP port.
func parseTarget(target string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		// No port given
		return target, 2101, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", target)
	}
	if host == "" {
		return "", 0, fmt.Errorf("missing host in %q", target)
	}
	return host, port, nil
}

func probeCmd(g *globalFlags) *cobra.Command {
	var (
		username string
		password string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe <caster-name | host[:port]>",
		Short: "Probe one caster once and print the outcome",
		Long: "Probe a registered caster by name, or any host directly. Nothing is\n" +
			"recorded; use 'sweep' to run a persisted cycle.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			caster, err := resolveCaster(cmd.Context(), g, args[0])
			if err != nil {
				return err
			}
			if username != "" {
				caster.Username = username
			}
			if password != "" {
				caster.Password = password
			}
			if timeout <= 0 {
				timeout = cfg.Monitoring.Timeout
			}

			prober := monitoring.NewProber(timeout, cfg.Monitoring.UserAgent)
			result := prober.Probe(cmd.Context(), *caster)

			target := net.JoinHostPort(caster.Host, strconv.Itoa(caster.Port))
			if !result.Success {
				fmt.Println(errorMsg("%s %s %s", target, result.Message, muted(result.Duration.Round(time.Millisecond).String())))
				return errors.New("probe failed")
			}
			fmt.Println(successMsg("%s %s %s", target, result.Message, muted(result.Duration.Round(time.Millisecond).String())))
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "user", "u", "", "Username for Basic auth")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password for Basic auth")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Probe timeout (default from config)")
	return cmd
}

// resolveCaster looks the argument up in the registry and falls back to
// treating it as an address.
func resolveCaster(ctx context.Context, g *globalFlags, arg string) (*database.Caster, error) {
	_, store, err := g.openStore()
	if err == nil {
		defer store.Close()
		caster, err := store.GetCaster(ctx, arg)
		if err == nil {
			return caster, nil
		}
		if !errors.Is(err, database.ErrCasterNotFound) {
			return nil, err
		}
	} else {
		logrus.WithError(err).Debug("Registry unavailable, probing address directly")
	}

	host, port, err := parseTarget(arg)
	if err != nil {
		return nil, err
	}
	return &database.Caster{Name: arg, Host: host, Port: port}, nil
}
