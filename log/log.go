// Package log implements support for structured logging.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// defaultCallerUnwind skips the level method and emit on top of
// log.DefaultCaller.
const defaultCallerUnwind = 5

// Logger is a structured logger.
type Logger struct {
	// base is the formatting logger, without timestamp/caller prefixes.
	base log.Logger
	// logger is base plus prefixes and the accumulated context.
	logger log.Logger

	context      []interface{}
	callerUnwind int
	level        Level
	module       string
}

// NewDefaultLogger initializes a new logger instance with default settings.
// For usage outside tests, prefer RootLogger() from package `cmd/common`.
func NewDefaultLogger(module string) *Logger {
	logger, err := NewLogger(module, os.Stdout, FmtJSON, LevelInfo)
	if err != nil {
		// Shouldn't happen as NewLogger can only fail if an invalid format is provided.
		panic(err)
	}
	return logger
}

// NewLogger initializes a new logger instance.
func NewLogger(module string, w io.Writer, format Format, lvl Level) (*Logger, error) {
	var base log.Logger
	switch format {
	case FmtLogfmt:
		base = log.NewLogfmtLogger(log.NewSyncWriter(w))
	case FmtJSON:
		base = log.NewJSONLogger(log.NewSyncWriter(w))
	default:
		return nil, fmt.Errorf("log: unsupported log format: %v", format)
	}

	l := &Logger{
		base:         base,
		callerUnwind: defaultCallerUnwind,
		level:        lvl,
		module:       module,
	}
	l.build()
	return l, nil
}

func (l *Logger) build() {
	prefixes := []interface{}{
		"ts", log.DefaultTimestampUTC,
		"caller", log.Caller(l.callerUnwind),
	}
	logger := log.WithPrefix(l.base, prefixes...)
	if len(l.context) > 0 {
		logger = log.With(logger, l.context...)
	}
	l.logger = logger
}

func (l *Logger) clone() *Logger {
	return &Logger{
		base:         l.base,
		logger:       l.logger,
		context:      l.context,
		callerUnwind: l.callerUnwind,
		level:        l.level,
		module:       l.module,
	}
}

// levelValues maps a Level to the go-kit level value it is emitted with.
var levelValues = []level.Value{
	LevelDebug: level.DebugValue(),
	LevelInfo:  level.InfoValue(),
	LevelWarn:  level.WarnValue(),
	LevelError: level.ErrorValue(),
}

// emit must be called directly from the exported level methods; the caller
// unwind depth counts its frame.
func (l *Logger) emit(lvl Level, msg string, keyvals []interface{}) {
	if lvl < l.level {
		return
	}
	kv := make([]interface{}, 0, len(keyvals)+4)
	kv = append(kv, "module", l.module, "msg", msg)
	_ = log.WithPrefix(l.logger, level.Key(), levelValues[lvl]).Log(append(kv, keyvals...)...)
}

// Debug logs at the Debug level.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.emit(LevelDebug, msg, keyvals)
}

// Info logs at the Info level.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.emit(LevelInfo, msg, keyvals)
}

// Warn logs at the Warn level.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.emit(LevelWarn, msg, keyvals)
}

// Error logs at the Error level.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.emit(LevelError, msg, keyvals)
}

// With returns a clone of the logger with the provided key/value pairs
// added as context for all subsequent logs.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	c := l.clone()
	c.context = append(append([]interface{}{}, l.context...), keyvals...)
	c.build()
	return c
}

// WithModule returns a clone of the logger with the provided module
// added as context for all subsequent logs.
func (l *Logger) WithModule(module string) *Logger {
	c := l.clone()
	c.module = module
	return c
}

// WithCallerUnwind returns a clone of the logger that reports the caller
// `unwind` frames up the stack. Useful when log lines are produced by
// adapters wrapping this logger.
func (l *Logger) WithCallerUnwind(unwind int) *Logger {
	c := l.clone()
	c.callerUnwind = unwind
	c.build()
	return c
}

// Level is the logging level.
func (l *Logger) Level() Level {
	return l.level
}

type writerLogger struct {
	logger Logger
}

func (w writerLogger) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// WriterIntoLogger returns an io.Writer that logs every write as an
// Info-level message. Intended for libraries that log through the
// standard library `log` package.
func WriterIntoLogger(logger Logger) io.Writer {
	return writerLogger{logger: logger}
}
