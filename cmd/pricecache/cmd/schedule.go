package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cronSpec string
	runNow   bool
)

// scheduleCmd cron 기반 주기 갱신
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "cron 기반 주기 갱신",
	Long: `update를 cron 일정에 따라 반복 실행합니다. Ctrl+C로 종료할 수 있습니다.

Examples:
  go run ./cmd/pricecache schedule                       # UPDATE_CRON 사용
  go run ./cmd/pricecache schedule --cron "0 7 * * 1-5" --run-now`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().StringVar(&cronSpec, "cron", "", "cron spec, 5 fields (default UPDATE_CRON)")
	scheduleCmd.Flags().BoolVar(&runNow, "run-now", false, "run one update before waiting for the schedule")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	spec := cronSpec
	if spec == "" {
		spec = cfg.Schedule.UpdateCron
	}

	universe, err := loadUniverse()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, universe, "scheduled")
	if err != nil {
		return err
	}
	defer a.Close()

	task := func() {
		if err := updateOnce(ctx, a, universe); err != nil {
			log.Error().Err(err).Msg("Scheduled update failed")
		}
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, task); err != nil {
		return fmt.Errorf("register update task %q: %w", spec, err)
	}

	if runNow {
		task()
	}

	c.Start()
	log.Info().Str("cron", spec).Int("tickers", len(universe.Symbols())).Msg("🕒 Scheduler started")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("🛑 Shutdown signal received, waiting for running update...")
	cancel()
	<-c.Stop().Done()
	log.Info().Msg("Scheduler stopped")
	return nil
}
