package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wonny/marketcache/internal/pkg/config"
)

var universeFile string

// updateCmd 유니버스 전체 1회 갱신
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "유니버스 전체 1회 갱신",
	Long: `유니버스 파일의 모든 종목(+환율)을 1회 갱신합니다.

Examples:
  go run ./cmd/pricecache update
  go run ./cmd/pricecache update --universe config/universe.yaml`,
	Args: cobra.NoArgs,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().StringVar(&universeFile, "universe", "", "universe file (default UNIVERSE_FILE)")
	for _, c := range []*cobra.Command{scheduleCmd, fetchCmd, statusCmd, serveCmd} {
		c.Flags().StringVar(&universeFile, "universe", "", "universe file (default UNIVERSE_FILE)")
	}
}

func runUpdate(cmd *cobra.Command, args []string) error {
	universe, err := loadUniverse()
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, universe, "update")
	if err != nil {
		return err
	}
	defer a.Close()

	return updateOnce(cmd.Context(), a, universe)
}

func loadUniverse() (*config.Universe, error) {
	path := universeFile
	if path == "" {
		path = cfg.Schedule.UniverseFile
	}
	return config.LoadUniverse(path)
}

// optionalUniverse loads the universe for commands that work without one.
// Without it every symbol is sent to the providers as-is.
func optionalUniverse() *config.Universe {
	universe, err := loadUniverse()
	if err != nil {
		log.Warn().Err(err).Msg("Universe not loaded, using plain symbols")
		return nil
	}
	return universe
}

// updateOnce runs one cycle over the universe. Per-ticker failures are logged,
// not returned.
func updateOnce(ctx context.Context, a *app, universe *config.Universe) error {
	tickers := universe.Symbols()

	prices, err := a.loader.FetchPrices(ctx, tickers, true)
	if err != nil {
		return fmt.Errorf("update universe: %w", err)
	}

	failed := prices.Failed()
	event := log.Info()
	if len(failed) > 0 {
		event = log.Warn().Strs("failed", failed)
	}
	event.
		Str("run_id", prices.RunID.String()).
		Int("tickers", len(tickers)).
		Str("state", string(prices.State)).
		Bool("persisted", prices.Persisted).
		Msg("Universe update finished")
	return nil
}
