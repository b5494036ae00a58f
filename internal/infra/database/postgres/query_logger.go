package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

type ctxKey int

const (
	queryTraceKey ctxKey = iota
	runIDKey
)

// WithRunID tags queries issued with ctx with a fetch run ID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// slowQuery is the duration above which a query is logged at WARN.
const slowQuery = 100 * time.Millisecond

// queryTrace is what TraceQueryStart hands to TraceQueryEnd. pgx only passes
// the SQL to the start hook.
type queryTrace struct {
	start time.Time
	sql   string
}

// QueryLogger writes one line per fetch-run history statement.
type QueryLogger struct {
	logger zerolog.Logger
	now    func() time.Time
}

// NewQueryLogger creates a query logger.
func NewQueryLogger(logger zerolog.Logger) *QueryLogger {
	return &QueryLogger{logger: logger, now: time.Now}
}

// TraceQueryStart implements pgx.QueryTracer.
func (ql *QueryLogger) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryTraceKey, queryTrace{start: ql.now(), sql: data.SQL})
}

// TraceQueryEnd implements pgx.QueryTracer. Failures log at ERROR, statements
// slower than slowQuery at WARN, the rest at DEBUG.
func (ql *QueryLogger) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	trace, ok := ctx.Value(queryTraceKey).(queryTrace)
	if !ok {
		trace.start = ql.now()
	}
	duration := ql.now().Sub(trace.start)

	var event *zerolog.Event
	msg := "Query executed"
	switch {
	case data.Err != nil:
		event = ql.logger.Error().Err(data.Err)
		msg = "Query failed"
	case duration > slowQuery:
		event = ql.logger.Warn()
		msg = "Slow query detected"
	default:
		event = ql.logger.Debug()
	}

	if runID := runIDFrom(ctx); runID != "" {
		event = event.Str("run_id", runID)
	}

	event.
		Str("sql", trace.sql).
		Int64("duration_ms", duration.Milliseconds()).
		Str("command_tag", data.CommandTag.String()).
		Msg(msg)
}

// pgxLevels maps tracelog levels onto zerolog. Unknown levels log at INFO.
var pgxLevels = map[tracelog.LogLevel]zerolog.Level{
	tracelog.LogLevelTrace: zerolog.TraceLevel,
	tracelog.LogLevelDebug: zerolog.DebugLevel,
	tracelog.LogLevelInfo:  zerolog.InfoLevel,
	tracelog.LogLevelWarn:  zerolog.WarnLevel,
	tracelog.LogLevelError: zerolog.ErrorLevel,
}

// PgxZerologAdapter is the tracelog.Logger used at debug verbosity, when
// connection and pool events are wanted on top of statements.
type PgxZerologAdapter struct {
	logger zerolog.Logger
}

// NewPgxZerologAdapter creates an adapter writing to logger.
func NewPgxZerologAdapter(logger zerolog.Logger) *PgxZerologAdapter {
	return &PgxZerologAdapter{logger: logger}
}

// Log implements tracelog.Logger.
func (l *PgxZerologAdapter) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]interface{}) {
	lvl, ok := pgxLevels[level]
	if !ok {
		lvl = zerolog.InfoLevel
	}

	event := l.logger.WithLevel(lvl).Fields(data)
	if runID := runIDFrom(ctx); runID != "" {
		event = event.Str("run_id", runID)
	}
	event.Msg(msg)
}

// newTracer picks the pgx tracer for the configured log level: the full
// tracelog stream at debug/trace, statement lines otherwise.
func newTracer(level string, logger zerolog.Logger) pgx.QueryTracer {
	switch level {
	case "debug", "trace":
		return &tracelog.TraceLog{
			Logger:   NewPgxZerologAdapter(logger),
			LogLevel: tracelog.LogLevelDebug,
		}
	default:
		return NewQueryLogger(logger)
	}
}
