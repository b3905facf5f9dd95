package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/observability"
)

var logLevels = map[string]gormlogger.LogLevel{
	"silent": gormlogger.Silent,
	"error":  gormlogger.Error,
	"warn":   gormlogger.Warn,
	"info":   gormlogger.Info,
}

// parseLogLevel maps a config level to GORM's; unknown levels mean info.
func parseLogLevel(level string) gormlogger.LogLevel {
	if l, ok := logLevels[strings.ToLower(level)]; ok {
		return l
	}
	return gormlogger.Info
}

// queryLogger routes GORM output to the service logger and records every
// statement as an event on the span in the query context.
type queryLogger struct {
	log   *logger.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newQueryLogger(log *logger.Logger, name string, slow time.Duration, level gormlogger.LogLevel) gormlogger.Interface {
	return queryLogger{log: log.WithComponent(name), level: level, slow: slow}
}

func (q queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	q.level = level
	return q
}

func (q queryLogger) Info(_ context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Info {
		q.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (q queryLogger) Warn(_ context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Warn {
		q.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (q queryLogger) Error(_ context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Error {
		q.log.Error(fmt.Sprintf(msg, args...))
	}
}

func (q queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		sql, rows := fc()
		span.AddEvent(observability.SpanDBQuery, trace.WithAttributes(
			attribute.String("db.statement", sql),
			attribute.Int64("db.rows", rows),
		))
	}
	if q.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	if !failed && elapsed <= q.slow && q.level < gormlogger.Info {
		return
	}
	sql, rows := fc()
	fields := logger.Fields("sql", sql, logger.FieldDuration, elapsed.Milliseconds(), "rows", rows)
	log := q.log.WithContext(ctx)
	switch {
	case failed:
		fields[logger.FieldError] = err.Error()
		log.Error("query failed", fields)
	case elapsed > q.slow:
		log.Warn("slow query", fields)
	default:
		log.Debug("query", fields)
	}
}
