package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FileName is the run log written under the logs directory.
const FileName = "cortex.log"

// Options configures New.
type Options struct {
	App   string
	Level string
	// Dir receives an append-only cortex.log when non-empty.
	Dir string
	// Console defaults to os.Stderr. Pass io.Discard to silence it, as the
	// TUI does while it owns the terminal.
	Console io.Writer
}

// Logger pairs a zerolog logger with the run log file it may write to.
type Logger struct {
	zerolog.Logger
	file *os.File
	path string
}

// New builds a console logger and, when opts.Dir is set, tees every event
// into Dir/cortex.log so runs can be inspected afterwards. The result also
// becomes the global zerolog logger.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}}

	l := &Logger{}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: ensure log dir: %w", err)
		}
		l.path = filepath.Join(opts.Dir, FileName)
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		l.file = f
		writers = append(writers, f)
	}

	app := strings.TrimSpace(opts.App)
	if app == "" {
		app = "cortex"
	}
	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Str("app", app).Logger()
	log.Logger = l.Logger
	return l, nil
}

// ParseLevel maps a config level name onto zerolog. Empty means info.
func ParseLevel(name string) (zerolog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("logging: %w", err)
	}
	return level, nil
}

// Path returns the run log file, or "" when none is open.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Section logs a banner line marking the start of a driver phase.
func (l *Logger) Section(name string) {
	l.Info().Str("section", name).Msg(strings.ToUpper(name))
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
