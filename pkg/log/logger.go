package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	slmerrors "github.com/YuminosukeSato/slmgo/pkg/errors"
)

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// ZerologProvider is the LoggerProvider used by the package level functions.
// Loggers it hands out read the provider level at emit time, so SetLevel
// affects loggers that were created earlier.
type ZerologProvider struct {
	mu    sync.RWMutex
	base  zerolog.Logger
	level Level
}

// NewZerologProvider writes JSON lines to w.
func NewZerologProvider(w io.Writer, level Level) *ZerologProvider {
	return &ZerologProvider{
		base:  zerolog.New(w).With().Timestamp().Logger(),
		level: level,
	}
}

// GetLogger implements LoggerProvider.GetLogger.
func (p *ZerologProvider) GetLogger() Logger {
	return &zerologLogger{provider: p}
}

// GetLoggerWithName implements LoggerProvider.GetLoggerWithName.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return &zerologLogger{provider: p, fields: []any{ComponentKey, name}}
}

// SetLevel implements LoggerProvider.SetLevel.
func (p *ZerologProvider) SetLevel(level Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = level
}

// SetOutput redirects all loggers of the provider to w.
func (p *ZerologProvider) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.base = zerolog.New(w).With().Timestamp().Logger()
}

type zerologLogger struct {
	provider *ZerologProvider
	fields   []any
}

func (l *zerologLogger) Debug(msg string, fields ...any) { l.log(LevelDebug, msg, fields) }
func (l *zerologLogger) Info(msg string, fields ...any)  { l.log(LevelInfo, msg, fields) }
func (l *zerologLogger) Warn(msg string, fields ...any)  { l.log(LevelWarn, msg, fields) }

func (l *zerologLogger) Error(msg string, fields ...any) {
	if len(fields)%2 == 1 {
		if err, ok := fields[0].(error); ok {
			fields = append([]any{ErrAttrKey, err}, fields[1:]...)
		}
	}
	l.log(LevelError, msg, fields)
}

func (l *zerologLogger) With(fields ...any) Logger {
	merged := make([]any, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &zerologLogger{provider: l.provider, fields: merged}
}

func (l *zerologLogger) Enabled(_ context.Context, level Level) bool {
	l.provider.mu.RLock()
	defer l.provider.mu.RUnlock()
	return level >= l.provider.level
}

func (l *zerologLogger) log(level Level, msg string, fields []any) {
	l.provider.mu.RLock()
	if level < l.provider.level {
		l.provider.mu.RUnlock()
		return
	}
	zl := l.provider.base
	l.provider.mu.RUnlock()

	ev := zl.WithLevel(toZerologLevel(level))
	appendFields(ev, l.fields)
	appendFields(ev, fields)
	ev.Msg(msg)
}

func appendFields(ev *zerolog.Event, fields []any) {
	for i := 0; i < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		if i+1 >= len(fields) {
			ev.Interface("!BADKEY", fields[i])
			return
		}
		switch v := fields[i+1].(type) {
		case error:
			ev.AnErr(key, v)
			if st := extractStacktrace(v); st != "" {
				ev.Str(StacktraceAttrKey, st)
			}
		case zerolog.LogObjectMarshaler:
			ev.Object(key, v)
		case float64:
			ev.Float64(key, v)
		case int:
			ev.Int(key, v)
		case string:
			ev.Str(key, v)
		case time.Duration:
			ev.Dur(key, v)
		default:
			ev.Interface(key, v)
		}
	}
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level >= LevelError:
		return zerolog.ErrorLevel
	case level >= LevelWarn:
		return zerolog.WarnLevel
	case level >= LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

// extractStacktrace returns the first stack trace recorded by
// cockroachdb/errors along the wrap chain.
func extractStacktrace(err error) string {
	for e := err; e != nil; e = errors.UnwrapOnce(e) {
		if details := errors.GetSafeDetails(e).SafeDetails; len(details) > 0 {
			return details[0]
		}
	}
	return ""
}

var defaultProvider = NewZerologProvider(os.Stderr, LevelInfo)

func init() {
	warnings := defaultProvider.GetLoggerWithName("warnings")
	slmerrors.SetZerologWarnFunc(func(w error) {
		warnings.Warn(w.Error(), "warning", w)
	})
}

// GetLogger returns a logger of the default provider.
func GetLogger() Logger { return defaultProvider.GetLogger() }

// GetLoggerWithName returns a logger tagged with the component name.
func GetLoggerWithName(name string) Logger { return defaultProvider.GetLoggerWithName(name) }

// SetLevel sets the minimum level of the default provider.
func SetLevel(level Level) { defaultProvider.SetLevel(level) }

// SetOutput redirects the default provider.
func SetOutput(w io.Writer) { defaultProvider.SetOutput(w) }

// SetupLogger sets the default level from its name ("debug", "info", "warn", "error").
func SetupLogger(loglevel string) error {
	level, err := ParseLevel(loglevel)
	if err != nil {
		return err
	}
	SetLevel(level)
	return nil
}

// ParseLevel converts a level name to a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, slmerrors.NewValueError("log.ParseLevel", fmt.Sprintf("invalid log level: %q", level))
	}
}
