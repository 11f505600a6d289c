package logger

import (
	"log/slog"
	"os"
	"sync"
)

var (
	defaultLogger *slog.Logger
	configured    slog.Level
	once          sync.Once
)

// Init initializes the default logger with a JSON handler writing to os.Stdout
// at the level last passed to InitWithLevel, or slog.LevelInfo if none was.
// It ensures that the logger is initialized only once;
// call InitWithLevel first if a non-default level is needed.
func Init() {
	once.Do(func() {
		build(configured)
	})
}

// InitWithLevel initializes the default logger at the given level. Must be
// called before the first Get()/Info()/... call to take effect; subsequent
// calls are no-ops once the logger has been built.
func InitWithLevel(level slog.Level) {
	configured = level
	once.Do(func() {
		build(level)
	})
}

func build(level slog.Level) {
	defaultLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(defaultLogger)
	defaultLogger.Info("logger initialized", "level", level.String())
}

// Get returns the initialized default logger.
// It calls Init() to ensure the logger is ready before returning it.
func Get() *slog.Logger {
	Init() // Ensures logger is initialized
	return defaultLogger
}

// Truncate8 shortens an identifying id to 8 characters for structured log
// context, per the error taxonomy's id-truncation rule.
func Truncate8(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// Info logs an informational message using the default logger.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs an error message using the default logger.
func Error(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	Get().Error(msg, args...)
}

// Debug logs a debug message using the default logger.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}
