package main

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mediastream/discoveryservice/internal/domain"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var (
		kind    string
		sources []string
		limit   int
		offset  int
		year    int
		region  string
		expand  bool
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a multi-source search",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			query.Set("q", strings.Join(args, " "))
			if kind != "" {
				query.Set("type", kind)
			}
			if len(sources) > 0 {
				query.Set("sources", strings.Join(sources, ","))
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				query.Set("offset", strconv.Itoa(offset))
			}
			if year > 0 {
				query.Set("year", strconv.Itoa(year))
			}
			if region != "" {
				query.Set("region", region)
			}
			if expand {
				query.Set("expand", "1")
			}
			if noCache {
				query.Set("nocache", "1")
			}

			var resp domain.SearchResponse
			if err := ctx.client().get(cmd.Context(), "/search", query, &resp); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, resp)
			}

			rows := make([][]string, 0, len(resp.Results))
			for i, result := range resp.Results {
				rows = append(rows, []string{
					strconv.Itoa(resp.Offset + i + 1),
					result.Title,
					string(result.Kind),
					yearText(result.Year),
					strings.Join(result.Sources(), ","),
					strconv.FormatFloat(result.Score, 'f', 3, 64),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "Title", "Kind", "Year", "Sources", "Score"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignRight},
			))
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d results, %d/%d sources responded, cache hit: %t\n",
				len(resp.Results), resp.Total, resp.Responded, resp.Attempted, resp.CacheHit)
			fmt.Fprintln(cmd.OutOrStdout(), renderStatuses(resp.PerSourceStatus))
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "type", "t", "", "Media kind (movie, tv, anime, music)")
	cmd.Flags().StringSliceVar(&sources, "sources", nil, "Restrict to these providers")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")
	cmd.Flags().IntVar(&year, "year", 0, "Release year hint")
	cmd.Flags().StringVar(&region, "region", "", "Region hint")
	cmd.Flags().BoolVar(&expand, "expand", false, "Send every query variant to every source")
	cmd.Flags().BoolVar(&noCache, "nocache", false, "Skip the result cache")
	return cmd
}

func newSuggestCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "suggest <prefix>",
		Short: "Complete a query from search history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			query.Set("q", strings.Join(args, " "))
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			var resp struct {
				Items []string `json:"items"`
			}
			if err := ctx.client().get(cmd.Context(), "/search/suggest", query, &resp); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, resp)
			}
			if len(resp.Items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No suggestions")
				return nil
			}
			for _, item := range resp.Items {
				fmt.Fprintln(cmd.OutOrStdout(), item)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum suggestions")
	return cmd
}

func renderStatuses(statuses map[string]domain.SourceStatus) string {
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		status := statuses[name]
		detail := status.Error
		if detail == "" {
			detail = status.Reason
		}
		rows = append(rows, []string{
			name,
			string(status.State),
			strconv.Itoa(status.Items),
			strconv.FormatInt(status.LatencyMS, 10) + "ms",
			detail,
		})
	}
	return renderTable(
		[]string{"Source", "State", "Items", "Latency", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func yearText(year int) string {
	if year == 0 {
		return "-"
	}
	return strconv.Itoa(year)
}
