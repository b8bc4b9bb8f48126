package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/davarch/aerotiles/internal/domain"
	"github.com/davarch/aerotiles/internal/infrastructure/config"
	"github.com/davarch/aerotiles/internal/infrastructure/edition_scrape"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	calendarToday string
	discoverWrite bool
)

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Inspect and extend the FAA update calendar",
}

var calendarListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every configured update date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, d := range cfg.Calendar.Dates() {
			fmt.Println(domain.FormatDate(d))
		}
		return nil
	},
}

var calendarNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Print the next update date after today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		today := time.Now()
		if calendarToday != "" {
			d, err := domain.ParseDate(calendarToday)
			if err != nil {
				return err
			}
			today = d
		}

		next, ok := cfg.Calendar.NextDue(today)
		if !ok {
			return fmt.Errorf("no update date after %s", domain.FormatDate(today))
		}
		fmt.Println(domain.FormatDate(next))
		return nil
	},
}

var calendarDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Scrape the FAA products page for edition dates not yet in the calendar",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Discovery.PageURL == "" {
			return fmt.Errorf("discovery.page_url is not set")
		}

		log := newLogger(cfg, true)
		defer func() { _ = log.Sync() }()

		found, err := edition_scrape.New(log, cfg.Download.Timeout).Discover(cmd.Context(), cfg.Discovery.PageURL)
		if err != nil {
			return err
		}
		fresh := edition_scrape.NewDates(cfg.Calendar, found)
		for _, d := range fresh {
			fmt.Println(domain.FormatDate(d))
		}
		if len(fresh) == 0 {
			_, _ = fmt.Fprintln(os.Stderr, "no new dates")
			return nil
		}
		if !discoverWrite {
			return nil
		}

		cfg.SetSchedule(cfg.Calendar.Merge(fresh))
		if err := config.Save(cfgPath, cfg); err != nil {
			return err
		}
		log.Info("calendar extended", zap.Int("added", len(fresh)), zap.Int("total", cfg.Calendar.Len()))
		return nil
	},
}

func init() {
	calendarNextCmd.Flags().StringVar(&calendarToday, "today", "", "reference day as MM-DD-YYYY (default: now)")
	calendarDiscoverCmd.Flags().BoolVar(&discoverWrite, "write", false, "merge new dates into config.yaml")

	calendarCmd.AddCommand(calendarListCmd, calendarNextCmd, calendarDiscoverCmd)
	rootCmd.AddCommand(calendarCmd)
}
