// Package cmd - pricecache CLI commands
package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wonny/marketcache/internal/pkg/config"
	"github.com/wonny/marketcache/internal/pkg/logger"
)

const (
	serviceName    = "pricecache"
	serviceVersion = "1.0.0"
)

var (
	// 공통 플래그
	envFile string
	verbose bool

	cfg *config.Config
)

// rootCmd 루트 커맨드
var rootCmd = &cobra.Command{
	Use:   "pricecache",
	Short: "Daily open/close price cache",
	Long: `Daily open/close price cache

Usage:
    go run ./cmd/pricecache [command]

Commands:
    fetch       TICKER...     - Fetch prices for the given tickers
    update                    - Update the whole universe once
    schedule                  - Run update on a cron schedule
    status                    - Show cache state
    serve                     - Serve the cache over HTTP
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute 루트 커맨드 실행
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "env file (default is .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(statusCmd)
}

// initConfig loads configuration and initializes the global logger
func initConfig() error {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}

	c, err := config.Load(files...)
	if err != nil {
		return err
	}
	if verbose {
		c.Logging.Level = "debug"
	}

	if err := logger.Init(logger.Config{
		Level:          c.Logging.Level,
		Format:         c.Logging.Format,
		FileEnabled:    c.Logging.FileEnabled,
		FilePath:       c.Logging.FilePath,
		RotationSize:   c.Logging.RotationSize,
		RetentionDays:  c.Logging.RetentionDays,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
	}); err != nil {
		return err
	}

	log.Debug().
		Str("backend", c.Cache.Backend).
		Bool("tiingo", c.Tiingo.APIKey != "").
		Bool("database", c.Database.URL != "").
		Bool("redis", c.Redis.Addr != "").
		Msg("Configuration loaded")

	cfg = c
	return nil
}
