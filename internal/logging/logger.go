// Package logging builds the gateway's zap logger from a
// config.LoggingConfig: JSON encoding, level selection, and an optional
// lumberjack rotation sink when Output names a file path rather than
// stdout/stderr.
//
// Grounded on the teacher's internal/logging/logger.go New/Global/With,
// generalized from the teacher's package-level mutable global logger to
// a constructor the gateway's entrypoint wires explicitly into each
// component that needs one, while keeping the same global accessors for
// code that logs outside of any one request's call chain (cmd/gateway's
// startup, reload and shutdown messages). The registry's background
// refresh loop logs through its own Logger seam, adapted by RegistryLogger.
package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aussiegw/gateway/internal/config"
)

var (
	globalLogger *zap.Logger
	globalMu     sync.RWMutex
)

func init() {
	globalLogger, _ = zap.NewProduction()
}

// New builds a *zap.Logger from cfg. When cfg.Output names a file path the
// returned io.Closer must be closed on shutdown to flush the rotated log
// file; for stdout/stderr the closer is nil.
func New(cfg config.LoggingConfig) (*zap.Logger, io.Closer, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	var ws zapcore.WriteSyncer
	var closer io.Closer

	switch cfg.Output {
	case "", "stdout":
		ws = zapcore.AddSync(os.Stdout)
	case "stderr":
		ws = zapcore.AddSync(os.Stderr)
	default:
		lj := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		ws = zapcore.AddSync(lj)
		closer = lj
	}

	core := zapcore.NewCore(encoder, ws, level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return logger, closer, nil
}

// Global returns the process-wide logger used by background loops that
// run outside any one request's call chain.
func Global() *zap.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetGlobal replaces the process-wide logger, typically with the one New
// built from the loaded configuration.
func SetGlobal(l *zap.Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// Info logs at info level using the global logger.
func Info(msg string, fields ...zap.Field) { Global().Info(msg, fields...) }

// Warn logs at warn level using the global logger.
func Warn(msg string, fields ...zap.Field) { Global().Warn(msg, fields...) }

// Error logs at error level using the global logger.
func Error(msg string, fields ...zap.Field) { Global().Error(msg, fields...) }

// Debug logs at debug level using the global logger.
func Debug(msg string, fields ...zap.Field) { Global().Debug(msg, fields...) }

// With returns a child logger carrying additional fields.
func With(fields ...zap.Field) *zap.Logger { return Global().With(fields...) }

// Sync flushes any buffered log entries.
func Sync() { _ = Global().Sync() }

// RegistryLogger adapts a *zap.Logger to the registry.Logger seam
// (Warn/Error with alternating key-value pairs) so the registry's
// background refresh loop can log through the same sink as everything
// else without importing zap directly.
type RegistryLogger struct{ L *zap.Logger }

func (r RegistryLogger) Warn(msg string, kv ...any)  { r.L.Sugar().Warnw(msg, kv...) }
func (r RegistryLogger) Error(msg string, kv ...any) { r.L.Sugar().Errorw(msg, kv...) }
