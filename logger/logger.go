// Package logger wraps zap: sugared, optionally file-rotated, exposing
// an Infof/Errorf/Debugf/FatalIfError call shape used throughout the
// coordinator and client packages.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu  sync.RWMutex
	log *zap.SugaredLogger
)

func init() {
	log = build("", "info", 0, 0, 0)
}

// Config controls file rotation and level; File empty means stderr only.
type Config struct {
	File       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init (re)configures the package-level logger. Call once at startup
// after config is loaded.
func Init(c Config) {
	mu.Lock()
	defer mu.Unlock()
	log = build(c.File, c.Level, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
}

func build(file, level string, maxSizeMB, maxBackups, maxAgeDays int) *zap.SugaredLogger {
	lvl := zapcore.InfoLevel
	_ = lvl.UnmarshalText([]byte(level))

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	var writer zapcore.WriteSyncer
	if file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    orInt(maxSizeMB, 100),
			MaxBackups: orInt(maxBackups, 7),
			MaxAge:     orInt(maxAgeDays, 14),
			Compress:   true,
		}
		writer = zapcore.AddSync(lj)
	} else {
		writer = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(encoder, writer, lvl)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

func orInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debugf logs at debug level.
func Debugf(format string, args ...interface{}) { get().Debugf(format, args...) }

// Infof logs at info level.
func Infof(format string, args ...interface{}) { get().Infof(format, args...) }

// Warnf logs at warn level.
func Warnf(format string, args ...interface{}) { get().Warnf(format, args...) }

// Errorf logs at error level.
func Errorf(format string, args ...interface{}) { get().Errorf(format, args...) }

// FatalIfError logs and exits the process if err is non-nil.
func FatalIfError(err error) {
	if err != nil {
		get().Fatalf("fatal error: %v", err)
	}
}

// Sync flushes buffered log entries; call before process exit.
func Sync() {
	_ = get().Sync()
}
