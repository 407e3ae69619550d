package main

import (
	"fmt"
	"net/netip"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/config"
	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/John-MustangGT/ntripwatch/internal/monitoring"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// maxScanHosts bounds CIDR expansion to a /22.
const maxScanHosts = 1024

func discoverCmd(g *globalFlags) *cobra.Command {
	var (
		ports       []int
		timeout     time.Duration
		concurrency int
		output      string
	)

	cmd := &cobra.Command{
		Use:   "discover <host | CIDR>...",
		Short: "Scan hosts for NTRIP casters and emit a casters config snippet",
		Long: "Probe every host and port combination and write the responders as a\n" +
			"YAML file suitable for the include directory.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			hosts, err := expandTargets(args)
			if err != nil {
				return err
			}

			prober := monitoring.NewProber(timeout, cfg.Monitoring.UserAgent)
			found := scan(cmd, prober, hosts, ports, concurrency)
			if len(found) == 0 {
				fmt.Fprintln(os.Stderr, muted("no casters found"))
				return nil
			}

			data, err := yaml.Marshal(config.PartialConfig{Casters: found})
			if err != nil {
				return fmt.Errorf("failed to encode casters: %w", err)
			}
			if output == "" || output == "-" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintln(os.Stderr, successMsg("wrote %d casters to %s", len(found), output))
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&ports, "ports", []int{2101, 2102, 2103, 2104}, "Ports to probe on each host")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "Per-probe timeout")
	cmd.Flags().IntVar(&concurrency, "concurrency", 32, "Maximum concurrent probes")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file, - for stdout")
	return cmd
}

func scan(cmd *cobra.Command, prober *monitoring.Prober, hosts []string, ports []int, concurrency int) []config.CasterConfig {
	var (
		mu    sync.Mutex
		found []config.CasterConfig
	)

	if concurrency < 1 {
		concurrency = 1
	}
	var eg errgroup.Group
	eg.SetLimit(concurrency)
	for _, host := range hosts {
		for _, port := range ports {
			host, port := host, port
			eg.Go(func() error {
				if cmd.Context().Err() != nil {
					return nil
				}
				result := prober.Probe(cmd.Context(), database.Caster{Host: host, Port: port})
				logrus.WithFields(logrus.Fields{
					"host":    host,
					"port":    port,
					"success": result.Success,
					"message": result.Message,
				}).Debug("Discovery probe")
				if !result.Success {
					return nil
				}
				mu.Lock()
				found = append(found, config.CasterConfig{Name: casterName(host, port), Host: host, Port: port})
				mu.Unlock()
				return nil
			})
		}
	}
	eg.Wait()

	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })
	return found
}

// casterName derives a config name; the default port is left implicit.
func casterName(host string, port int) string {
	if port == 2101 {
		return host
	}
	return host + "-" + strconv.Itoa(port)
}

// expandTargets turns hosts and IPv4 CIDRs into a host list. Network and
// broadcast addresses are skipped for prefixes shorter than /31.
func expandTargets(args []string) ([]string, error) {
	var hosts []string
	for _, arg := range args {
		if !strings.Contains(arg, "/") {
			hosts = append(hosts, arg)
			continue
		}

		prefix, err := netip.ParsePrefix(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", arg, err)
		}
		prefix = prefix.Masked()
		if !prefix.Addr().Is4() {
			return nil, fmt.Errorf("only IPv4 networks can be scanned: %s", arg)
		}
		size := 1 << (32 - prefix.Bits())
		if size > maxScanHosts {
			return nil, fmt.Errorf("network %s has %d addresses, limit is %d", arg, size, maxScanHosts)
		}

		addr := prefix.Addr()
		for i := 0; i < size; i++ {
			if prefix.Bits() < 31 && (i == 0 || i == size-1) {
				addr = addr.Next()
				continue
			}
			hosts = append(hosts, addr.String())
			addr = addr.Next()
		}
	}
	return hosts, nil
}
