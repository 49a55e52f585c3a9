// Package log provides leveled key-value logging for the whole
// application on top of zerolog. Call sites pass alternating key/value
// pairs after the message, e.g. log.Info("Pool computed", "pool", name).
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
)

// Configure sets the global log level and output format.
// Level is one of trace, debug, info, warn, error; format is
// "console" or "json".
func Configure(level, format string) {
	configure(level, format, os.Stderr)
}

func configure(level, format string, out io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	if format == "json" {
		logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			Level(lvl).With().Timestamp().Logger()
	}
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Trace logs at trace level with key-value pairs.
func Trace(msg string, keyvals ...interface{}) {
	l := current()
	emit(l.Trace(), msg, keyvals)
}

// Debug logs at debug level with key-value pairs.
func Debug(msg string, keyvals ...interface{}) {
	l := current()
	emit(l.Debug(), msg, keyvals)
}

// Info logs at info level with key-value pairs.
func Info(msg string, keyvals ...interface{}) {
	l := current()
	emit(l.Info(), msg, keyvals)
}

// Warn logs at warn level with key-value pairs.
func Warn(msg string, keyvals ...interface{}) {
	l := current()
	emit(l.Warn(), msg, keyvals)
}

// Error logs at error level with key-value pairs.
func Error(msg string, keyvals ...interface{}) {
	l := current()
	emit(l.Error(), msg, keyvals)
}

// Audit logs a security-audit entry. Audit entries are emitted regardless
// of the configured level and carry logger=security so they can be routed
// separately.
func Audit(msg string, keyvals ...interface{}) {
	l := current().Level(zerolog.TraceLevel)
	emit(l.Info().Str("logger", "security"), msg, keyvals)
}

func emit(e *zerolog.Event, msg string, keyvals []interface{}) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		e = e.Interface(key, keyvals[i+1])
	}
	if len(keyvals)%2 != 0 {
		e = e.Interface("value", keyvals[len(keyvals)-1])
	}
	e.Msg(msg)
}
