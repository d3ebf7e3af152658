package main

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mediastream/discoveryservice/internal/domain"
)

func newProvidersCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect and tune providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Items []domain.ProviderInfo `json:"items"`
			}
			if err := ctx.client().get(cmd.Context(), "/search/providers", nil, &resp); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, resp)
			}
			rows := make([][]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				capabilities := make([]string, 0, len(item.Capabilities))
				for _, capability := range item.Capabilities {
					capabilities = append(capabilities, string(capability))
				}
				rows = append(rows, []string{
					item.Name,
					item.Type,
					strconv.FormatBool(item.Enabled),
					strings.Join(capabilities, ","),
					strconv.FormatFloat(item.Priority, 'f', -1, 64),
					item.Error,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Name", "Type", "Enabled", "Capabilities", "Priority", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.AddCommand(newProvidersHealthCommand(ctx))
	cmd.AddCommand(newProvidersResetCommand(ctx))
	cmd.AddCommand(newProvidersSettingsCommand(ctx))
	cmd.AddCommand(newProvidersSetCommand(ctx))
	return cmd
}

func newProvidersHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show circuit breaker state per provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Items []domain.ProviderDiagnostics `json:"items"`
			}
			if err := ctx.client().get(cmd.Context(), "/search/providers/health", nil, &resp); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDiagnostics(resp.Items))
			return nil
		},
	}
}

func newProvidersResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [name]",
		Short: "Close the circuit of one provider, or of all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if len(args) == 1 {
				query.Set("provider", args[0])
			}
			var resp struct {
				Items []domain.ProviderDiagnostics `json:"items"`
			}
			if err := ctx.client().do(cmd.Context(), http.MethodPost, "/search/providers/reset", query, nil, &resp); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDiagnostics(resp.Items))
			return nil
		},
	}
}

func newProvidersSettingsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show effective provider settings (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Items []domain.ProviderSettingsView `json:"items"`
			}
			if err := ctx.client().get(cmd.Context(), "/search/settings/providers", nil, &resp); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSettings(resp.Items))
			return nil
		},
	}
}

func newProvidersSetCommand(ctx *commandContext) *cobra.Command {
	var (
		enabled  bool
		priority float64
		region   string
		settings map[string]string
	)

	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a runtime override for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{"provider": args[0]}
			flags := cmd.Flags()
			if flags.Changed("enabled") {
				payload["enabled"] = enabled
			}
			if flags.Changed("priority") {
				payload["priority"] = priority
			}
			if flags.Changed("region") {
				payload["region"] = region
			}
			if len(settings) > 0 {
				payload["settings"] = settings
			}
			if len(payload) == 1 {
				return fmt.Errorf("nothing to change: pass --enabled, --priority, --region or --setting")
			}

			var view domain.ProviderSettingsView
			if err := ctx.client().do(cmd.Context(), http.MethodPatch, "/search/settings/providers", nil, payload, &view); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, view)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSettings([]domain.ProviderSettingsView{view}))
			return nil
		},
	}

	cmd.Flags().BoolVar(&enabled, "enabled", true, "Enable or disable the provider")
	cmd.Flags().Float64Var(&priority, "priority", 1, "Priority weight")
	cmd.Flags().StringVar(&region, "region", "", "Region override")
	cmd.Flags().StringToStringVar(&settings, "setting", nil, "Adapter setting override (key=value, empty value clears)")
	return cmd
}

func renderDiagnostics(items []domain.ProviderDiagnostics) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.Name,
			string(item.Circuit),
			strconv.Itoa(item.ConsecutiveFailures),
			strconv.FormatInt(item.TotalRequests, 10),
			strconv.FormatInt(item.TotalFailures, 10),
			strconv.FormatInt(item.LastLatencyMS, 10) + "ms",
			item.LastError,
		})
	}
	return renderTable(
		[]string{"Name", "Circuit", "Failures", "Requests", "Errors", "Latency", "Last error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	)
}

func renderSettings(items []domain.ProviderSettingsView) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		keys := make([]string, 0, len(item.Settings))
		for key := range item.Settings {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, key := range keys {
			pairs = append(pairs, key+"="+item.Settings[key])
		}
		rows = append(rows, []string{
			item.Name,
			strconv.FormatBool(item.Enabled),
			strconv.FormatFloat(item.Priority, 'f', -1, 64),
			item.Region,
			strconv.FormatBool(item.Overridden),
			strings.Join(pairs, " "),
		})
	}
	return renderTable(
		[]string{"Name", "Enabled", "Priority", "Region", "Override", "Settings"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	)
}
