package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/metrics"
	"github.com/spf13/cobra"
)

func statusCmd(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show state, outage and uptime for every caster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := g.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			casters, err := store.ListCasters(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := metrics.NewDeriver(store).ReportAll(cmd.Context(), casters)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(os.Stdout, rows)
			}
			printStatus(rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func printStatus(rows []*metrics.CasterStatus) {
	if len(rows) == 0 {
		fmt.Println(muted("no casters registered"))
		return
	}
	fmt.Println(renderTable(
		[]string{"Caster", "State", "Since", "Outage", "24h", "7d", "Last message", "Last check"},
		statusRows(rows),
	))
}

func statusRows(rows []*metrics.CasterStatus) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		outage := "-"
		if r.InOutage {
			outage = r.Outage
		}
		out[i] = []string{
			r.Name,
			stateBadge(r.State),
			formatTime(r.StateSince),
			outage,
			fmt.Sprintf("%.2f%%", r.Uptime24h),
			fmt.Sprintf("%.2f%%", r.Uptime7d),
			r.LastMessage,
			formatTime(r.LastTimestamp),
		}
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
