package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"trafficcounter/internal/config"
)

// Log file names, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (info/warning/error) to files and stdout/stderr.
type Logger struct {
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	logDir     string
	files      []*os.File
	mu         sync.Mutex
}

// NewLogger creates a Logger writing to LOG_DIR and the console.
func NewLogger(cfg *config.Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{logDir: cfg.LogDirectory}
	if err := l.setupLoggers(); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// New creates a Logger that writes every level to w and keeps no files.
func New(w io.Writer) *Logger {
	return &Logger{
		infoLog:    log.New(w, "INFO    ", log.Ldate|log.Ltime|log.Lshortfile),
		warningLog: log.New(w, "WARNING ", log.Ldate|log.Ltime|log.Lshortfile),
		errorLog:   log.New(w, "ERROR   ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard)
}

// setupLoggers initializes writers and per-level loggers.
func (l *Logger) setupLoggers() error {
	infoFile, err := l.openLogFile(InfoFile)
	if err != nil {
		return err
	}
	warningFile, err := l.openLogFile(WarningFile)
	if err != nil {
		return err
	}
	errorFile, err := l.openLogFile(ErrorFile)
	if err != nil {
		return err
	}

	l.infoLog = log.New(io.MultiWriter(os.Stdout, infoFile), "INFO    ", log.Ldate|log.Ltime|log.Lshortfile)
	l.warningLog = log.New(io.MultiWriter(os.Stdout, warningFile), "WARNING ", log.Ldate|log.Ltime|log.Lshortfile)
	l.errorLog = log.New(io.MultiWriter(os.Stderr, errorFile), "ERROR   ", log.Ldate|log.Ltime|log.Lshortfile)
	return nil
}

// openLogFile opens or creates a log file for appending.
func (l *Logger) openLogFile(name string) (*os.File, error) {
	file, err := os.OpenFile(filepath.Join(l.logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", name, err)
	}
	l.files = append(l.files, file)
	return file, nil
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Output(2, fmt.Sprintf(format, v...))
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Output(2, fmt.Sprintf(format, v...))
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Output(2, fmt.Sprintf(format, v...))
}

// Printf lets the logger stand in wherever a Printf-style logger is expected.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Output(2, fmt.Sprintf(format, v...))
}

// Dir returns the log directory, empty for writer-backed loggers.
func (l *Logger) Dir() string {
	return l.logDir
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(filepath.Join(l.logDir, filepath.Base(fileName)), os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to truncate %s: %w", fileName, err)
	}
	defer file.Close()

	l.infoLog.Printf("File %s has been cleared.", fileName)
	return nil
}

// Close closes the underlying log files.
func (l *Logger) Close() error {
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = nil
	return firstErr
}
