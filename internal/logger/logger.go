package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Log file names, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (info/warning/error) to the console and,
// when a log directory is configured, to one file per level.
type Logger struct {
	zl     zerolog.Logger
	logDir string
	files  []*os.File
	mu     sync.Mutex
}

// NewLogger creates a Logger writing to the console and to per-level files
// in logDir. An empty logDir logs to the console only.
func NewLogger(logDir string) (*Logger, error) {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006/01/02 15:04:05"}
	if logDir == "" {
		return newLogger(console, "", nil), nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	lw := levelWriter{}
	var files []*os.File
	for level, name := range map[zerolog.Level]string{
		zerolog.InfoLevel:  InfoFile,
		zerolog.WarnLevel:  WarningFile,
		zerolog.ErrorLevel: ErrorFile,
	} {
		f, err := openLogFile(filepath.Join(logDir, name))
		if err != nil {
			for _, opened := range files {
				opened.Close()
			}
			return nil, err
		}
		lw[level] = f
		files = append(files, f)
	}

	return newLogger(zerolog.MultiLevelWriter(console, lw), logDir, files), nil
}

// New wraps an arbitrary writer, for tests and tools that capture output.
func New(w io.Writer) *Logger {
	return newLogger(w, "", nil)
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return newLogger(io.Discard, "", nil)
}

func newLogger(w io.Writer, logDir string, files []*os.File) *Logger {
	zl := zerolog.New(w).With().Timestamp().CallerWithSkipFrameCount(3).Logger()
	return &Logger{zl: zl, logDir: logDir, files: files}
}

// openLogFile opens or creates a log file for appending.
func openLogFile(filename string) (*os.File, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", filename, err)
	}
	return file, nil
}

// levelWriter routes each entry to the file of its level.
type levelWriter map[zerolog.Level]io.Writer

func (lw levelWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (lw levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if w, ok := lw[level]; ok {
		return w.Write(p)
	}
	return len(p), nil
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl.Info().Msgf(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl.Warn().Msgf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl.Error().Msgf(format, v...)
}

// LogDir returns the directory holding the level files, or "" when the
// logger only writes to the console.
func (l *Logger) LogDir() string {
	return l.logDir
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return fmt.Errorf("no log directory configured")
	}
	switch fileName {
	case InfoFile, WarningFile, ErrorFile:
	default:
		return fmt.Errorf("unknown log file %q", fileName)
	}

	l.mu.Lock()
	err := os.Truncate(filepath.Join(l.logDir, fileName), 0)
	l.mu.Unlock()
	if err != nil {
		l.Error("Error truncating %s: %v", fileName, err)
		return err
	}

	l.Info("File content has been cleared: %s", fileName)
	return nil
}

// Close closes the level files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}
