package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mediastream/discoveryservice/internal/domain"
)

func newChartCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Chart collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newChartCollectCommand(ctx))
	cmd.AddCommand(newChartItemsCommand(ctx))
	cmd.AddCommand(newChartSourcesCommand(ctx))
	cmd.AddCommand(newChartStatsCommand(ctx))
	return cmd
}

func newChartCollectCommand(ctx *commandContext) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run a chart collection now",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if refresh {
				query.Set("refresh", "1")
			}
			var run domain.ChartRun
			if err := ctx.client().do(cmd.Context(), http.MethodPost, "/chart/collect", query, nil, &run); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, run)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %d results from %s in %s\n",
				run.ID, run.Total, strings.Join(run.Dispatched, ", "),
				run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
			fmt.Fprintln(cmd.OutOrStdout(), renderStatuses(run.PerSourceStatus))
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the chart cache")
	return cmd
}

func newChartItemsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "items",
		Short: "Show the latest stored chart",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			var resp struct {
				RunID      string                   `json:"run_id"`
				FinishedAt time.Time                `json:"finished_at"`
				Total      int                      `json:"total"`
				Items      []domain.CanonicalResult `json:"items"`
			}
			if err := ctx.client().get(cmd.Context(), "/chart/items", query, &resp); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, resp)
			}
			rows := make([][]string, 0, len(resp.Items))
			for i, item := range resp.Items {
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					item.Title,
					string(item.Kind),
					yearText(item.Year),
					strings.Join(item.Sources(), ","),
					strconv.FormatFloat(item.Score, 'f', 3, 64),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s finished %s\n", resp.RunID, resp.FinishedAt.Format(time.RFC3339))
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "Title", "Kind", "Year", "Sources", "Score"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum items")
	return cmd
}

func newChartSourcesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List chart providers, disabled ones included",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Items []domain.ChartSource `json:"items"`
			}
			if err := ctx.client().get(cmd.Context(), "/chart/sources", nil, &resp); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, resp)
			}
			rows := make([][]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				rows = append(rows, []string{
					item.Name,
					item.Label,
					strconv.FormatBool(item.Enabled),
					strconv.FormatFloat(item.Priority, 'f', -1, 64),
					item.Error,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Name", "Label", "Enabled", "Priority", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newChartStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show chart counters, cache and provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats domain.ChartStats
			if err := ctx.client().get(cmd.Context(), "/chart/stats", nil, &stats); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, stats)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Runs: %d (failures %d), stored: %d\n", stats.Runs, stats.Failures, stats.Stored)
			if stats.Schedule != "" {
				next := "-"
				if stats.NextRunAt != nil {
					next = stats.NextRunAt.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "Schedule: %s, next run %s\n", stats.Schedule, next)
			}
			if stats.LastRun != nil {
				fmt.Fprintf(out, "Last run: %s (%s) %d results\n", stats.LastRun.ID, stats.LastRun.Trigger, stats.LastRun.Total)
			}
			fmt.Fprintf(out, "Cache (%s): %d entries, %d hits, %d misses\n",
				stats.Cache.Backend, stats.Cache.Entries, stats.Cache.Hits, stats.Cache.Misses)
			fmt.Fprintln(out, renderDiagnostics(stats.Providers))
			return nil
		},
	}
}
