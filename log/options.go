package log

import (
	"fmt"
	"strings"
)

// Format is an output encoding. It implements the pflag.Value interface.
type Format uint

const (
	// FmtLogfmt writes key=value lines.
	FmtLogfmt Format = iota
	// FmtJSON writes one JSON object per line.
	FmtJSON
)

var formatNames = []string{
	FmtLogfmt: "logfmt",
	FmtJSON:   "JSON",
}

func (f *Format) String() string {
	if int(*f) >= len(formatNames) {
		panic(fmt.Sprintf("log: unsupported format %d", uint(*f)))
	}
	return formatNames[*f]
}

// Set parses a format name, ignoring case.
func (f *Format) Set(s string) error {
	i, ok := lookupName(formatNames, s)
	if !ok {
		return fmt.Errorf("log: invalid log format: '%s'", s)
	}
	*f = Format(i)
	return nil
}

// Type returns the supported format names.
func (f *Format) Type() string {
	return "[" + strings.Join(formatNames, ",") + "]"
}

// Level is a minimum severity. It implements the pflag.Value interface.
type Level uint

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = []string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l *Level) String() string {
	if int(*l) >= len(levelNames) {
		panic(fmt.Sprintf("log: unsupported level %d", uint(*l)))
	}
	return levelNames[*l]
}

// Set parses a level name, ignoring case.
func (l *Level) Set(s string) error {
	i, ok := lookupName(levelNames, s)
	if !ok {
		return fmt.Errorf("log: invalid log level: '%s'", s)
	}
	*l = Level(i)
	return nil
}

// Type returns the supported level names.
func (l *Level) Type() string {
	return "[" + strings.Join(levelNames, ",") + "]"
}

func lookupName(names []string, s string) (int, bool) {
	for i, name := range names {
		if strings.EqualFold(name, s) {
			return i, true
		}
	}
	return 0, false
}
