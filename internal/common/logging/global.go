package logging

import (
	"fmt"
	"os"
	"sync/atomic"
)

var global atomic.Pointer[Logger]

func init() {
	SetGlobalLogger(NewZapLogger(Options{Level: ParseLevel(os.Getenv("LOG_LEVEL"))}))
}

// SetGlobalLogger replaces the process-wide logger.
func SetGlobalLogger(logger Logger) {
	global.Store(&logger)
}

// GetGlobalLogger returns the process-wide logger.
func GetGlobalLogger() Logger {
	return *global.Load()
}

// InitGlobalLogger rebuilds the process-wide logger from LOG_LEVEL and
// LOG_FILE. Output goes to stdout unless LOG_FILE names a file to append to.
func InitGlobalLogger() error {
	opts := Options{
		Level: ParseLevel(os.Getenv("LOG_LEVEL")),
		Name:  "grouper-dispatcher",
	}

	logFile := os.Getenv("LOG_FILE")
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		opts.Output = f
	}

	logger := NewZapLogger(opts)
	SetGlobalLogger(logger)
	logger.Info("Logger initialized", String("level", opts.Level.String()), String("log_file", logFile))
	return nil
}

// MustSync flushes the process-wide logger. Call before exit.
func MustSync() {
	if z, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = z.Sync()
	}
}

// Component returns a child of the process-wide logger tagged with a
// component name.
func Component(name string) Logger {
	return GetGlobalLogger().WithFields(String("component", name))
}

func Debug(msg string, fields ...Field) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { GetGlobalLogger().Warn(msg, fields...) }

func Error(msg string, err error, fields ...Field) {
	GetGlobalLogger().Error(msg, err, fields...)
}
