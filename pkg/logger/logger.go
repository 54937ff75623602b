// Package logger is the typed-field logger of the application and HTTP
// layers. It writes through a log/slog handler, so lines from the scheduler
// and from command handlers share one format and one output.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelInfo:
		return slog.LevelInfo
	}
	// Above error: silent.
	return slog.LevelError + 4
}

// String returns the upper-case level name.
func (l Level) String() string { return l.slog().String() }

// ParseLevel parses a level name. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// ── fields ───────────────────────────────────────────────────────────────────

// Field is one structured key/value.
type Field = slog.Attr

// F creates a field of any type.
func F(key string, value any) Field { return slog.Any(key, value) }

func String(key, value string) Field          { return slog.String(key, value) }
func Int(key string, value int) Field         { return slog.Int(key, value) }
func Int64(key string, value int64) Field     { return slog.Int64(key, value) }
func Float64(key string, value float64) Field { return slog.Float64(key, value) }
func Bool(key string, value bool) Field       { return slog.Bool(key, value) }
func Duration(key string, d time.Duration) Field {
	return slog.String(key, d.String())
}

// Err records err under "error". A nil error is recorded as an empty value.
func Err(err error) Field {
	if err == nil {
		return slog.Any("error", nil)
	}
	return slog.String("error", err.Error())
}

// Engine fields.
func StudentID(id string) Field     { return String("student_id", id) }
func AchievementID(id int64) Field  { return Int64("achievement_id", id) }
func AdminID(id string) Field       { return String("admin_id", id) }
func Metric(name string) Field      { return String("metric", name) }
func Source(name string) Field      { return String("source", name) }
func Component(name string) Field   { return String("component", name) }
func Operation(name string) Field   { return String("operation", name) }
func Latency(d time.Duration) Field { return Duration("latency", d) }
func UnlockCount(n int) Field       { return Int("unlock_count", n) }
func TriggerValue(v float64) Field  { return Float64("trigger_value", v) }

// ── logger ───────────────────────────────────────────────────────────────────

// Logger writes typed fields to a slog.Handler.
type Logger struct {
	h         slog.Handler
	addCaller bool
}

// Options configures New.
type Options struct {
	Output io.Writer
	Level  Level

	// Text selects slog's text format instead of JSON.
	Text      bool
	AddCaller bool
}

// New builds a Logger with its own handler.
func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	ho := &slog.HandlerOptions{Level: opts.Level.slog(), AddSource: opts.AddCaller}
	var h slog.Handler = slog.NewJSONHandler(opts.Output, ho)
	if opts.Text {
		h = slog.NewTextHandler(opts.Output, ho)
	}
	return &Logger{h: h, addCaller: opts.AddCaller}
}

// FromSlog shares l's handler, level and output.
func FromSlog(l *slog.Logger, addCaller bool) *Logger {
	return &Logger{h: l.Handler(), addCaller: addCaller}
}

// Default logs JSON at info level to stdout.
func Default() *Logger { return New(Options{Level: LevelInfo}) }

// Nop discards everything.
func Nop() *Logger { return New(Options{Output: io.Discard, Level: LevelError + 1}) }

// With returns a child that adds fields to every line.
func (l *Logger) With(fields ...Field) *Logger {
	if len(fields) == 0 {
		return l
	}
	return &Logger{h: l.h.WithAttrs(fields), addCaller: l.addCaller}
}

// WithRequestID adds the request_id field.
func (l *Logger) WithRequestID(id string) *Logger { return l.With(String(RequestIDKey, id)) }

// RequestIDKey is the field key for request tracing.
const RequestIDKey = "request_id"

func (l *Logger) log(level Level, msg string, fields []Field) {
	ctx := context.Background()
	lv := level.slog()
	if !l.h.Enabled(ctx, lv) {
		return
	}
	var pc uintptr
	if l.addCaller {
		var pcs [1]uintptr
		// Skip runtime.Callers, log and the exported method.
		runtime.Callers(3, pcs[:])
		pc = pcs[0]
	}
	r := slog.NewRecord(time.Now(), lv, msg, pc)
	r.AddAttrs(fields...)
	_ = l.h.Handle(ctx, r)
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or Default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}
