// Package logger is a small leveled logger writing one file per day.
//
// The package-level functions log through a process-wide default logger and
// are no-ops until Init has run, so library code can log unconditionally.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel defines log level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// DefaultPrefix names log files <prefix>-YYYY-MM-DD.log
const DefaultPrefix = "aimem"

const (
	defaultMaxDays = 7
	dateLayout     = "2006-01-02"
	stampLayout    = "2006-01-02 15:04:05"
)

var levelNames = [...]string{DEBUG: "DEBUG", INFO: "INFO", WARN: "WARN", ERROR: "ERROR"}

func (l LogLevel) String() string {
	if l < DEBUG || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a config string to a level. Unknown values are an error.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// Config logger configuration
type Config struct {
	LogDir     string   // Log directory
	Prefix     string   // File name prefix, DefaultPrefix if empty
	Level      LogLevel // Minimum level written
	MaxDays    int      // Files dated more than MaxDays before today are removed
	ConsoleOut bool     // Echo to stderr as well
}

// Logger writes leveled lines to a file named after the current date
type Logger struct {
	level   LogLevel
	logDir  string
	prefix  string
	maxDays int
	console io.Writer // nil = file only

	mu   sync.Mutex
	file *os.File
	date string
}

// NewLogger creates the log directory and opens today's file
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.MaxDays <= 0 {
		cfg.MaxDays = defaultMaxDays
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{
		level:   cfg.Level,
		logDir:  cfg.LogDir,
		prefix:  cfg.Prefix,
		maxDays: cfg.MaxDays,
	}
	if cfg.ConsoleOut {
		l.console = os.Stderr
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.switchTo(time.Now()); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) fileName(date string) string {
	return filepath.Join(l.logDir, l.prefix+"-"+date+".log")
}

// switchTo makes the file for now's date current; caller holds mu
func (l *Logger) switchTo(now time.Time) error {
	date := now.Format(dateLayout)
	if l.file != nil && l.date == date {
		return nil
	}

	f, err := os.OpenFile(l.fileName(date), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if l.file != nil {
		l.file.Close()
	}
	l.file, l.date = f, date

	go l.cleanOldLogs(now)
	return nil
}

// cleanOldLogs removes files whose date is more than maxDays before now.
// Files with an unparsable date are left alone.
func (l *Logger) cleanOldLogs(now time.Time) {
	files, err := filepath.Glob(filepath.Join(l.logDir, l.prefix+"-*.log"))
	if err != nil {
		return
	}

	cutoff := now.AddDate(0, 0, -l.maxDays).Format(dateLayout)
	for _, path := range files {
		date := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), l.prefix+"-"), ".log")
		if _, err := time.Parse(dateLayout, date); err != nil {
			continue
		}
		if date < cutoff {
			os.Remove(path)
		}
	}
}

// Logf writes one line at level
func (l *Logger) Logf(level LogLevel, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	now := time.Now()
	line := "[" + now.Format(stampLayout) + "] [" + level.String() + "] " + fmt.Sprintf(format, args...) + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.switchTo(now); err != nil {
		fmt.Fprintf(os.Stderr, "Logger rotation error: %v\n", err)
		return
	}
	l.file.WriteString(line)
	if l.console != nil {
		io.WriteString(l.console, line)
	}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.Logf(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.Logf(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.Logf(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.Logf(ERROR, format, args...) }

// Path returns the file currently written to
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fileName(l.date)
}

// Close closes the current file. Lines logged afterwards reopen it.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// GetWriter returns an io.Writer that logs each written line at level
func (l *Logger) GetWriter(level LogLevel) io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		for _, line := range strings.Split(string(p), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				l.Logf(level, "%s", line)
			}
		}
		return len(p), nil
	})
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

var (
	std  atomic.Pointer[Logger]
	once sync.Once
)

// Init creates the default logger. Only the first call has any effect.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var l *Logger
		if l, err = NewLogger(cfg); err == nil {
			std.Store(l)
		}
	})
	return err
}

// GetDefault returns the default logger, nil before Init
func GetDefault() *Logger {
	return std.Load()
}

// SetDefault replaces the default logger and returns the previous one
func SetDefault(l *Logger) *Logger {
	return std.Swap(l)
}

func Debug(format string, args ...interface{}) { logDefault(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { logDefault(INFO, format, args...) }
func Warn(format string, args ...interface{})  { logDefault(WARN, format, args...) }
func Error(format string, args ...interface{}) { logDefault(ERROR, format, args...) }

func logDefault(level LogLevel, format string, args ...interface{}) {
	if l := std.Load(); l != nil {
		l.Logf(level, format, args...)
	}
}

// Close closes the default logger
func Close() error {
	if l := std.Load(); l != nil {
		return l.Close()
	}
	return nil
}
