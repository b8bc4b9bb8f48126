package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/davarch/aerotiles/internal/domain"
	"github.com/davarch/aerotiles/internal/infrastructure/report_csv"
	"github.com/spf13/cobra"
)

var (
	runsChart string
	runsJSON  bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List past pipeline runs from the run history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		chart := ""
		if runsChart != "" {
			ct, err := domain.ParseChartType(runsChart)
			if err != nil {
				return err
			}
			chart = string(ct)
		}

		rows, err := report_csv.Read(cfg.Report.Path)
		if err != nil {
			return err
		}
		items := report_csv.Summaries(rows, chart)

		if runsJSON {
			if items == nil {
				items = []report_csv.Row{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "STARTED\tCHART\tEDITION\tRESULT\tRASTERS\tUNIT_FAILURES\tDURATION")
		for _, r := range items {
			res := r.Result
			if r.Error != "" {
				res += ": " + r.Error
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				r.StartedAt.Local().Format(time.DateTime), r.Chart, r.Edition, res,
				r.Acquired, r.Failures, (time.Duration(r.DurationMS) * time.Millisecond).Round(time.Second))
		}
		_ = w.Flush()
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsChart, "chart", "", "show only runs of this chart type")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print JSON")

	rootCmd.AddCommand(runsCmd)
}
