// Package logging provides leveled, optionally colored diagnostic output.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Level is a log severity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// EnvColorLogs disables colored console output when set to "false".
const EnvColorLogs = "UPLOG_COLOR_LOGS"

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var levelStyles = map[Level]lipgloss.Style{
	LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
	LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
}

var nameStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

// Logger writes leveled, named log lines.
type Logger struct {
	name  string
	min   Level
	color bool

	mu  *sync.Mutex
	out io.Writer
}

// Option configures a Logger.
type Option func(*Logger)

// WithWriter directs log output to w instead of stderr.
func WithWriter(w io.Writer) Option {
	return func(l *Logger) {
		l.out = w
	}
}

// WithLevel sets the minimum level that is emitted.
func WithLevel(min Level) Option {
	return func(l *Logger) {
		l.min = min
	}
}

// WithColor forces colored output on or off, overriding the environment.
func WithColor(enabled bool) Option {
	return func(l *Logger) {
		l.color = enabled
	}
}

// New creates a Logger for the named component.
// Color is enabled when stderr is a terminal, unless UPLOG_COLOR_LOGS is
// set to "false".
func New(name string, opts ...Option) *Logger {
	l := &Logger{
		name:  name,
		min:   LevelInfo,
		color: colorFromEnv(),
		mu:    &sync.Mutex{},
		out:   os.Stderr,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Named returns a Logger sharing this logger's output and settings under a
// different component name.
func (l *Logger) Named(name string) *Logger {
	clone := *l
	clone.name = name
	return &clone
}

func colorFromEnv() bool {
	if strings.EqualFold(os.Getenv(EnvColorLogs), "false") {
		return false
	}
	return isatty.IsTerminal(os.Stderr.Fd())
}

func (l *Logger) log(level Level, format string, args ...any) {
	if level < l.min {
		return
	}

	label := levelNames[level]
	name := l.name
	if l.color {
		label = levelStyles[level].Render(label)
		name = nameStyle.Render(name)
	}

	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format("15:04:05.000")

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s %s [%s] %s\n", ts, label, name, msg)
}

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, format, args...)
}
