package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/davarch/aerotiles/internal/domain"
	"github.com/davarch/aerotiles/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var chartsJSON bool

type chartItem struct {
	Chart    domain.ChartType `json:"chart"`
	BaseURL  string           `json:"base_url"`
	Areas    int              `json:"areas"`
	Bundle   bool             `json:"bundle"`
	Disabled bool             `json:"disabled"`
}

var chartsCmd = &cobra.Command{
	Use:   "charts",
	Short: "List and toggle configured chart types",
}

var chartsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chart types from config.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		items := make([]chartItem, 0, len(cfg.ChartFiles))
		for _, ct := range domain.AllChartTypes() {
			src, ok := cfg.Source(ct)
			if !ok {
				continue
			}
			items = append(items, chartItem{
				Chart:    ct,
				BaseURL:  src.URLTemplate,
				Areas:    len(src.Areas),
				Bundle:   src.Bundle != nil,
				Disabled: src.Disabled,
			})
		}

		if chartsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "CHART\tSOURCE\tENABLED\tBASE_URL")
		for _, it := range items {
			source := fmt.Sprintf("%d areas", it.Areas)
			if it.Bundle {
				source = "bundle"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", it.Chart, source, !it.Disabled, it.BaseURL)
		}
		_ = w.Flush()
		return nil
	},
}

func toggleCmd(use, short string, disable bool) *cobra.Command {
	return &cobra.Command{
		Use:               use + " <CHART>",
		Short:             short,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeCharts,
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := domain.ParseChartType(args[0])
			if err != nil {
				return err
			}
			key, found := "", false
			for name := range cfg.ChartFiles {
				if p, err := domain.ParseChartType(name); err == nil && p == ct {
					key, found = name, true
					break
				}
			}
			if !found {
				return fmt.Errorf("chart %s is not configured", ct)
			}

			cf := cfg.ChartFiles[key]
			if cf.Disabled == disable {
				fmt.Printf("no change (%s already %sd)\n", ct, use)
				return nil
			}
			cf.Disabled = disable
			cfg.ChartFiles[key] = cf

			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Printf("%sd: %s\n", use, ct)
			return nil
		},
	}
}

func completeCharts(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	c, err := config.Load(cfgPath)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	out := make([]string, 0, len(c.ChartFiles))
	for _, ct := range c.EnabledCharts() {
		out = append(out, string(ct))
	}
	for _, ct := range domain.AllChartTypes() {
		if src, ok := c.Source(ct); ok && src.Disabled {
			out = append(out, string(ct))
		}
	}

	filtered := out[:0]
	for _, name := range out {
		if strings.HasPrefix(name, strings.ToUpper(toComplete)) {
			filtered = append(filtered, name)
		}
	}
	return filtered, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	chartsListCmd.Flags().BoolVar(&chartsJSON, "json", false, "print JSON")

	chartsCmd.AddCommand(
		chartsListCmd,
		toggleCmd("enable", "Enable a chart type in config.yaml", false),
		toggleCmd("disable", "Disable a chart type in config.yaml", true),
	)
	rootCmd.AddCommand(chartsCmd)
}
