package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"guildwarden/internal/config"
)

var (
	mu   sync.RWMutex
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006/01/02 15:04:05"}).
		With().Timestamp().Logger()
)

// createLogFilePath generates a log file path with the current date
func createLogFilePath(logDir, prefix string) string {
	currentDate := time.Now().Format("2006-01-02")
	return filepath.Join(logDir, fmt.Sprintf("%s-%s.log", prefix, currentDate))
}

// createRotatingLogger creates a lumberjack rotating logger
func createRotatingLogger(logFilePath string, cfg *config.Config) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.Logger.Rotation.MaxSize,
		MaxBackups: cfg.Logger.Rotation.MaxBackups,
		MaxAge:     cfg.Logger.Rotation.MaxAge,
		Compress:   cfg.Logger.Rotation.Compress,
	}
}

// createMultiWriter writes human-readable lines to stdout and JSON lines to the file
func createMultiWriter(rotatingLogger io.Writer) io.Writer {
	return zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006/01/02 15:04:05"},
		rotatingLogger,
	)
}

// Setup configures logging to output to both stdout and a rotating log file
func Setup(cfg *config.Config) error {
	logDir := cfg.Logger.Directory

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logFilePath := createLogFilePath(logDir, "guildwarden")
	writer := createMultiWriter(createRotatingLogger(logFilePath, cfg))

	mu.Lock()
	base = zerolog.New(writer).With().Timestamp().Logger().Level(ParseLevel(cfg.Logger.Level))
	mu.Unlock()

	// route the standard logger (used by config loading and third-party
	// packages) through the same sink
	log.SetFlags(0)
	log.SetOutput(Writer())

	Infof("Logging initialized: writing to %s", logFilePath)
	return nil
}

// ParseLevel maps the configured level name to a zerolog level. Unknown
// names fall back to INFO.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARNING", "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLevel changes the minimum level at runtime.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	base = base.Level(ParseLevel(level))
}

// SetOutput replaces the sink. Tests use it to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = zerolog.New(w).With().Timestamp().Logger().Level(base.GetLevel())
}

// Logger returns the current zerolog logger for structured call sites.
func Logger() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := base
	return &l
}

// With returns a child logger carrying the given fields.
func With(fields map[string]interface{}) zerolog.Logger {
	return Logger().With().Fields(fields).Logger()
}

// Writer exposes the logger as an io.Writer at info level.
func Writer() io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		Infof("%s", strings.TrimRight(string(p), "\n"))
		return len(p), nil
	})
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func Debugf(format string, args ...interface{}) {
	Logger().Debug().Msgf(format, args...)
}

func Infof(format string, args ...interface{}) {
	Logger().Info().Msgf(format, args...)
}

func Warningf(format string, args ...interface{}) {
	Logger().Warn().Msgf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Logger().Error().Msgf(format, args...)
}

func Error(msg string) {
	Logger().Error().Msg(msg)
}
