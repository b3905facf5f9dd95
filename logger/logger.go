package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Logger is a zerolog logger bound to a service name.
type Logger struct {
	zl      zerolog.Logger
	service string
}

// New builds a logger writing to cfg.Output.
func New(cfg *Config, service string) *Logger {
	return NewWithWriter(cfg, service, output(cfg.Output))
}

// NewWithWriter builds a logger writing to w. Unknown levels log at info.
func NewWithWriter(cfg *Config, service string, w io.Writer) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	var ctx zerolog.Context
	if consoleFormats[strings.ToLower(cfg.Format)] {
		ctx = zerolog.New(console(w, service, cfg.NoColor)).With().Timestamp()
	} else {
		ctx = zerolog.New(w).With()
		if cfg.Timestamp {
			ctx = ctx.Timestamp()
		}
		if service != "" {
			ctx = ctx.Str(FieldService, service)
		}
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	return &Logger{zl: ctx.Logger().Level(level), service: service}
}

// Init installs cfg as the configuration of zerolog's global logger, which
// libraries logging through zerolog/log write to.
func Init(cfg Config) {
	cfg.ApplyDefaults()
	zlog.Logger = New(&cfg, "").zl
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) derive(ctx zerolog.Context) *Logger {
	return &Logger{zl: ctx.Logger(), service: l.service}
}

// WithContext adds the pipeline, run, step and trace ids carried by ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	zc := l.zl.With()
	for _, f := range contextFields {
		if v, _ := ctx.Value(f.key).(string); v != "" {
			zc = zc.Str(f.name, v)
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		zc = zc.Str(FieldTraceID, sc.TraceID().String()).Str(FieldSpanID, sc.SpanID().String())
	}
	return l.derive(zc)
}

// WithComponent tags every entry with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.derive(l.zl.With().Str(FieldComponent, name))
}

// WithFields adds fields to every entry.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return l.derive(l.zl.With().Fields(fields))
}

func (l *Logger) WithError(err error) *Logger {
	return l.derive(l.zl.With().Err(err))
}

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

func (l *Logger) Debug(msg string, fields ...map[string]any) { emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...map[string]any)  { emit(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...map[string]any)  { emit(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...map[string]any) { emit(l.zl.Error(), msg, fields) }

func emit(ev *zerolog.Event, msg string, fields []map[string]any) {
	for _, f := range fields {
		ev = ev.Fields(f)
	}
	ev.Msg(msg)
}

var consoleFormats = map[string]bool{FormatConsole: true, FormatPretty: true}

func output(name string) io.Writer {
	if strings.EqualFold(name, "stdout") {
		return os.Stdout
	}
	return os.Stderr
}

var levelColors = map[zerolog.Level]int{
	zerolog.TraceLevel: 90,
	zerolog.DebugLevel: 36,
	zerolog.InfoLevel:  32,
	zerolog.WarnLevel:  33,
	zerolog.ErrorLevel: 31,
	zerolog.FatalLevel: 35,
	zerolog.PanicLevel: 35,
}

// console renders "15:04:05 INF [bat] message key:value" lines.
func console(w io.Writer, service string, noColor bool) zerolog.ConsoleWriter {
	tag := ""
	if len(service) >= 3 {
		tag = " [" + service[:3] + "]"
	}
	return zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    noColor,
		TimeFormat: "15:04:05",
		FormatLevel: func(i any) string {
			s, _ := i.(string)
			lvl, err := zerolog.ParseLevel(s)
			if err != nil {
				return strings.ToUpper(s) + tag
			}
			short := zerolog.FormattedLevels[lvl]
			if noColor {
				return short + tag
			}
			return fmt.Sprintf("\x1b[%dm%s\x1b[0m%s", levelColors[lvl], short, tag)
		},
		FormatFieldName: func(i any) string { return fmt.Sprintf("%s:", i) },
	}
}
