// Package logging builds the slog loggers used by the server and the CLI.
package logging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
)

const (
	// DefaultMaxSize is the log file size that triggers rotation on open (5 MB).
	DefaultMaxSize = 5 * 1024 * 1024
	// DefaultBackups is the number of rotated log files kept.
	DefaultBackups = 3
)

// Options controls a logger's level, source annotation and, for file
// loggers, where the file lives and how it rotates.
type Options struct {
	Level     slog.Level
	AddSource bool

	// Path of the log file. Empty means DefaultPath for the app.
	Path string
	// MaxSize in bytes; zero means DefaultMaxSize.
	MaxSize int64
	// Backups kept after rotation; zero keeps none.
	Backups int
}

// ParseLevel parses debug, info, warn or error, with an optional +/- offset
// as slog accepts it.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// New returns a JSON logger writing to w at info level, or at debug level
// with source locations when debug is set.
func New(w io.Writer, debug bool) *slog.Logger {
	opts := Options{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	return NewWithOptions(w, opts)
}

// NewWithOptions returns a JSON logger writing to w.
func NewWithOptions(w io.Writer, opts Options) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}))
}

// OpenFile opens (creating directories as needed) the log file for app,
// rotating it first when it has grown past MaxSize. The caller closes the
// returned file once the logger is no longer used.
func OpenFile(app string, opts Options) (*slog.Logger, io.Closer, error) {
	path := opts.Path
	if path == "" {
		var err error
		if path, err = DefaultPath(app); err != nil {
			return nil, nil, fmt.Errorf("failed to get log file path: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if err := rotate(path, maxSize, opts.Backups); err != nil {
		return nil, nil, fmt.Errorf("failed to rotate log file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return NewWithOptions(f, opts), f, nil
}

// DefaultPath returns where a server named app keeps its log:
//   - macOS:   ~/Library/Logs/<app>/<app>.log
//   - Windows: %LOCALAPPDATA%\<app>\Logs\<app>.log
//   - others:  $XDG_STATE_HOME/<app>/<app>.log, defaulting to ~/.local/state
func DefaultPath(app string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Logs", app, app+".log"), nil
	case "windows":
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Local")
		}
		return filepath.Join(base, app, "Logs", app+".log"), nil
	default:
		base := os.Getenv("XDG_STATE_HOME")
		if !filepath.IsAbs(base) {
			base = filepath.Join(home, ".local", "state")
		}
		return filepath.Join(base, app, app+".log"), nil
	}
}

// rotate shifts path to path.1, path.1 to path.2 and so on once path
// reaches maxSize. The oldest backup beyond backups is removed; with no
// backups the file is simply removed.
func rotate(path string, maxSize int64, backups int) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < maxSize {
		return nil
	}

	if backups <= 0 {
		return os.Remove(path)
	}
	if err := os.Remove(backupName(path, backups)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for i := backups - 1; i >= 1; i-- {
		err := os.Rename(backupName(path, i), backupName(path, i+1))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return os.Rename(path, backupName(path, 1))
}

func backupName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}

// NewNopLogger returns a logger that discards everything, for tests.
func NewNopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
