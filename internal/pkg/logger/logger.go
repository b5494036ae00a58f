package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration
type Config struct {
	Level          string // debug, info, warn, error
	Format         string // json, pretty
	FileEnabled    bool
	FilePath       string // logs directory path
	RotationSize   int    // MB
	RetentionDays  int
	ServiceName    string
	ServiceVersion string
}

// Log files under Config.FilePath. app.log and error.log are fed by the
// global logger; the others by the dedicated loggers below.
const (
	appLogFile     = "app.log"
	errorLogFile   = "error.log"
	queryLogFile   = "query.log"
	qualityLogFile = "quality.log"
)

// Init installs the global logger: console output plus, when FileEnabled,
// app.log and an ERROR-only error.log.
func Init(cfg Config) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	writers := []io.Writer{console(cfg.Format)}
	if cfg.FileEnabled {
		if err := os.MkdirAll(cfg.FilePath, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		writers = append(writers,
			rotating(cfg.FilePath, appLogFile, cfg.RotationSize, cfg.RetentionDays, 10),
			&minLevelWriter{
				Writer: rotating(cfg.FilePath, errorLogFile, cfg.RotationSize, cfg.RetentionDays, 10),
				min:    zerolog.ErrorLevel,
			},
		)
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.ServiceVersion).
		Logger()

	log.Info().
		Str("level", cfg.Level).
		Str("format", cfg.Format).
		Bool("file_enabled", cfg.FileEnabled).
		Msg("Logger initialized")

	return nil
}

func console(format string) io.Writer {
	if format == "pretty" {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	return os.Stderr
}

func rotating(dir, name string, sizeMB, days, backups int) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    sizeMB,
		MaxAge:     days,
		MaxBackups: backups,
		Compress:   true,
	}
}

// NewQueryLogger creates the logger for run-history statements.
func NewQueryLogger(logPath string, rotationSize int, retentionDays int) zerolog.Logger {
	return newFileLogger(logPath, queryLogFile, "query", rotationSize, retentionDays, 5)
}

// NewQualityLogger creates a logger for rows dropped by validation.
// Each event carries ticker, date and reason.
func NewQualityLogger(logPath string, rotationSize int, retentionDays int) zerolog.Logger {
	return newFileLogger(logPath, qualityLogFile, "data_quality", rotationSize, retentionDays, 10)
}

// newFileLogger falls back to the global logger when the directory is unset
// or cannot be created.
func newFileLogger(logPath, fileName, logType string, rotationSize, retentionDays, backups int) zerolog.Logger {
	if logPath == "" {
		return log.Logger.With().Str("type", logType).Logger()
	}
	if err := os.MkdirAll(logPath, 0755); err != nil {
		log.Warn().Err(err).Str("file", fileName).Msg("Failed to create log directory, using default logger")
		return log.Logger.With().Str("type", logType).Logger()
	}

	return zerolog.New(rotating(logPath, fileName, rotationSize, retentionDays, backups)).With().
		Timestamp().
		Str("type", logType).
		Logger()
}

// minLevelWriter drops events below min.
type minLevelWriter struct {
	io.Writer
	min zerolog.Level
}

func (w *minLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.min {
		return len(p), nil
	}
	return w.Writer.Write(p)
}
