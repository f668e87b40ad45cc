// Package logger provides centralized logging for the VPN orchestrator
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// Level filters messages written by the package functions.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel converts a config string to a Level. Unknown values map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	logFile   *os.File
	logMutex  sync.Mutex
	logPath   string
	level     = LevelInfo
	listeners []func(string)
	listMutex sync.RWMutex
)

// Init opens the log file at path, or at the platform default when path is empty.
func Init(path string) error {
	logMutex.Lock()
	defer logMutex.Unlock()

	if path == "" {
		path = filepath.Join(getLogDir(), "vpn-orchestrator.log")
	}
	logPath = path

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if logFile != nil {
		logFile.Close()
	}
	logFile = f

	// Redirect stderr to log file so panics are captured
	redirectStderr(f)

	return nil
}

// SetLevel sets the minimum level written to the log.
func SetLevel(l Level) {
	logMutex.Lock()
	level = l
	logMutex.Unlock()
}

// Close closes the log file
func Close() {
	logMutex.Lock()
	defer logMutex.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// AddListener adds a callback that receives log messages
func AddListener(fn func(string)) {
	listMutex.Lock()
	defer listMutex.Unlock()
	listeners = append(listeners, fn)
}

// Log writes a log message regardless of level
func Log(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%s] %s", timestamp, message)

	logMutex.Lock()
	if logFile != nil {
		logFile.WriteString(line + "\n")
	}
	logMutex.Unlock()

	listMutex.RLock()
	for _, fn := range listeners {
		go fn(line)
	}
	listMutex.RUnlock()
}

func logAt(l Level, prefix, format string, args ...interface{}) {
	logMutex.Lock()
	enabled := l >= level
	logMutex.Unlock()
	if enabled {
		Log(prefix+format, args...)
	}
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	logAt(LevelInfo, "INFO: ", format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	logAt(LevelError, "ERROR: ", format, args...)
}

// Debug logs a debug message
func Debug(format string, args ...interface{}) {
	logAt(LevelDebug, "DEBUG: ", format, args...)
}

// Warning logs a warning message
func Warning(format string, args ...interface{}) {
	logAt(LevelWarn, "WARN: ", format, args...)
}

// Connection logs a connection event
func Connection(format string, args ...interface{}) {
	logAt(LevelInfo, "CONN: ", format, args...)
}

// GetLogPath returns the path to the log file
func GetLogPath() string {
	logMutex.Lock()
	defer logMutex.Unlock()
	return logPath
}

// Recover should be deferred at the top of every goroutine to catch panics.
// Usage: go func() { defer logger.Recover("myGoroutine"); ... }()
func Recover(name string) {
	if r := recover(); r != nil {
		stack := string(debug.Stack())
		Log("ERROR: PANIC in %s: %v\n%s", name, r, stack)
	}
}

// SafeGo launches a goroutine with panic recovery.
func SafeGo(name string, fn func()) {
	go func() {
		defer Recover(name)
		fn()
	}()
}

// ReadLogs returns the last n lines of the log file, or all of it when n <= 0.
func ReadLogs(n int) ([]string, error) {
	path := GetLogPath()
	if path == "" {
		return nil, fmt.Errorf("logger not initialized")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
