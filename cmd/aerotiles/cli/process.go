package cli

import (
	"os/signal"
	"syscall"

	"github.com/davarch/aerotiles/internal/domain"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var processCmd = &cobra.Command{
	Use:   "process <MM-DD-YYYY>",
	Short: "Run one full pass over every enabled chart for an edition date",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := domain.ParseDate(args[0])
		if err != nil {
			return err
		}

		log := newLogger(cfg, true)
		defer func() { _ = log.Sync() }()

		runner, tool, err := buildRunner(cfg, log)
		if err != nil {
			return err
		}
		if err := tool.CheckDependencies(); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		log.Info("manual pass", zap.String("date", args[0]), zap.String("version", version))
		return printRuns(cmd.OutOrStdout(), runner.RunPass(ctx, date))
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
}
