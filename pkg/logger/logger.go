// Package logger provides leveled, component-tagged logging for picorelay.
//
// Call sites follow the form logger.InfoCF("component", "message", fields).
// The backend is a single zerolog.Logger shared by the whole process; tests
// and the gateway may redirect it with SetOutput.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel accepts DEBUG/INFO/WARN/ERROR/FATAL in any case. An empty string
// is INFO.
func ParseLevel(s string) (LogLevel, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return INFO, nil
	}
	if s == "WARNING" {
		return WARN, nil
	}
	for lvl, name := range levelNames {
		if name == s {
			return lvl, nil
		}
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

var (
	mu           sync.RWMutex
	currentLevel = INFO
	base         = newBase(os.Stderr, false)
)

func newBase(w io.Writer, console bool) zerolog.Logger {
	out := w
	if console {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// SetLevel sets the minimum level that is emitted.
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// GetLevel returns the current minimum level.
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetOutput redirects all log output. With console set, lines are rendered
// for humans instead of as JSON.
func SetOutput(w io.Writer, console bool) {
	mu.Lock()
	defer mu.Unlock()
	base = newBase(w, console)
}

// Configure applies a level name and format ("console" or "json") to the
// process logger writing to stderr.
func Configure(level, format string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	SetOutput(os.Stderr, strings.EqualFold(format, "console"))
	SetLevel(lvl)
	return nil
}

func logMessage(level LogLevel, component, message string, fields map[string]any) {
	mu.RLock()
	if level < currentLevel {
		mu.RUnlock()
		return
	}
	l := base
	mu.RUnlock()

	evt := l.WithLevel(level.zerolog())
	if component != "" {
		evt = evt.Str("component", component)
	}
	if len(fields) > 0 {
		evt = evt.Fields(fields)
	}
	evt.Msg(message)

	if level == FATAL {
		os.Exit(1)
	}
}

func Debug(message string) { logMessage(DEBUG, "", message, nil) }

func DebugC(component, message string) { logMessage(DEBUG, component, message, nil) }

func DebugF(message string, fields map[string]any) { logMessage(DEBUG, "", message, fields) }

func DebugCF(component, message string, fields map[string]any) {
	logMessage(DEBUG, component, message, fields)
}

func Info(message string) { logMessage(INFO, "", message, nil) }

func InfoC(component, message string) { logMessage(INFO, component, message, nil) }

func InfoF(message string, fields map[string]any) { logMessage(INFO, "", message, fields) }

func InfoCF(component, message string, fields map[string]any) {
	logMessage(INFO, component, message, fields)
}

func Warn(message string) { logMessage(WARN, "", message, nil) }

func WarnC(component, message string) { logMessage(WARN, component, message, nil) }

func WarnF(message string, fields map[string]any) { logMessage(WARN, "", message, fields) }

func WarnCF(component, message string, fields map[string]any) {
	logMessage(WARN, component, message, fields)
}

func Error(message string) { logMessage(ERROR, "", message, nil) }

func ErrorC(component, message string) { logMessage(ERROR, component, message, nil) }

func ErrorF(message string, fields map[string]any) { logMessage(ERROR, "", message, fields) }

func ErrorCF(component, message string, fields map[string]any) {
	logMessage(ERROR, component, message, fields)
}

func Fatal(message string) { logMessage(FATAL, "", message, nil) }

func FatalC(component, message string) { logMessage(FATAL, component, message, nil) }

func FatalCF(component, message string, fields map[string]any) {
	logMessage(FATAL, component, message, fields)
}
