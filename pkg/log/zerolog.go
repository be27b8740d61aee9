package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Output formats accepted by NewZerolog.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures the zerolog adapter.
type Options struct {
	// Output defaults to os.Stderr.
	Output io.Writer
	// Format is FormatConsole or FormatJSON. Default: console.
	Format string
	// Level is one of debug, info, warn, error. Default: info.
	Level string
}

// ZerologAdapter implements Logger on top of zerolog.
//
// The level is shared between an adapter and every child created with With,
// so SetLevel on the root adjusts the whole tree.
type ZerologAdapter struct {
	logger zerolog.Logger
	level  *atomic.Int32
}

// NewZerolog builds an adapter writing to opts.Output.
func NewZerolog(opts Options) (*ZerologAdapter, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	switch strings.ToLower(opts.Format) {
	case "", FormatConsole:
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case FormatJSON:
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	a := NewZerologAdapterWithLogger(zerolog.New(out).With().Timestamp().Logger())
	a.level.Store(int32(lvl))
	return a, nil
}

// NewZerologAdapterWithLogger wraps an existing zerolog.Logger. Filtering is
// left to the wrapped logger until SetLevel is called.
func NewZerologAdapterWithLogger(logger zerolog.Logger) *ZerologAdapter {
	level := &atomic.Int32{}
	level.Store(int32(zerolog.TraceLevel))
	return &ZerologAdapter{logger: logger, level: level}
}

// ParseLevel maps a config level name to a zerolog level. The empty string
// means info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// SetLevel changes the minimum level at runtime.
func (z *ZerologAdapter) SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	z.level.Store(int32(lvl))
	return nil
}

// Level returns the current minimum level.
func (z *ZerologAdapter) Level() zerolog.Level {
	return zerolog.Level(z.level.Load())
}

func (z *ZerologAdapter) Debug(msg string, fields ...Field) {
	z.emit(zerolog.DebugLevel, msg, fields)
}

func (z *ZerologAdapter) Info(msg string, fields ...Field) {
	z.emit(zerolog.InfoLevel, msg, fields)
}

func (z *ZerologAdapter) Warn(msg string, fields ...Field) {
	z.emit(zerolog.WarnLevel, msg, fields)
}

func (z *ZerologAdapter) Error(msg string, fields ...Field) {
	z.emit(zerolog.ErrorLevel, msg, fields)
}

// With returns a child adapter sharing this adapter's level.
func (z *ZerologAdapter) With(fields ...Field) Logger {
	ctx := z.logger.With()
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			ctx = ctx.Str(f.Key, v)
		case error:
			ctx = ctx.AnErr(f.Key, v)
		default:
			ctx = ctx.Interface(f.Key, v)
		}
	}
	return &ZerologAdapter{logger: ctx.Logger(), level: z.level}
}

// Logger returns the underlying zerolog.Logger.
func (z *ZerologAdapter) Logger() zerolog.Logger {
	return z.logger
}

func (z *ZerologAdapter) emit(lvl zerolog.Level, msg string, fields []Field) {
	if lvl < zerolog.Level(z.level.Load()) {
		return
	}
	event := z.logger.WithLevel(lvl)
	for _, f := range fields {
		event = addField(event, f)
	}
	event.Msg(msg)
}

func addField(event *zerolog.Event, f Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return event.Str(f.Key, v)
	case []string:
		return event.Strs(f.Key, v)
	case int:
		return event.Int(f.Key, v)
	case int64:
		return event.Int64(f.Key, v)
	case uint64:
		return event.Uint64(f.Key, v)
	case bool:
		return event.Bool(f.Key, v)
	case time.Duration:
		return event.Dur(f.Key, v)
	case error:
		return event.AnErr(f.Key, v)
	default:
		return event.Interface(f.Key, v)
	}
}
