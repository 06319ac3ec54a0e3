// Package logging wraps go.uber.org/zap in the small global-logger idiom
// shared by every pipeline phase: initialize once, then call the package
// functions from anywhere without threading a *zap.Logger through every
// signature.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	globalLevel  zap.AtomicLevel
)

// Config selects the global logger's verbosity and encoding.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// parseLevel falls back to info on an unrecognized level string rather
// than failing Init outright.
func parseLevel(s string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// encoderConfig picks development (console, human-friendly) encoding for
// "console" and production (JSON) encoding for any other format.
func encoderConfig(format string) zap.Config {
	if format == "console" {
		return zap.NewDevelopmentConfig()
	}
	return zap.NewProductionConfig()
}

// Init builds and installs the global logger from cfg. The caller skip is
// bumped by one so reported call sites point at the logging.Info/Warn/etc.
// caller, not this package's wrapper functions.
func Init(cfg Config) error {
	zc := encoderConfig(cfg.Format)
	globalLevel = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zc.Level = globalLevel

	logger, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

// InitDefault installs a production-default global logger, used lazily by
// L when nothing has called Init yet.
func InitDefault() {
	logger, _ := zap.NewProduction(zap.AddCallerSkip(1))
	globalLogger = logger
}

// Sync flushes any buffered log entries. Safe to call before Init.
func Sync() error {
	if globalLogger == nil {
		return nil
	}
	return globalLogger.Sync()
}

// SetLevel adjusts the global logger's verbosity at runtime. A level string
// SetLevel can't parse is ignored, leaving the current level in place
// (Init instead falls back to info).
func SetLevel(level string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return
	}
	globalLevel.SetLevel(l)
}

// L returns the global logger, lazily installing a production default on
// first use if Init was never called.
func L() *zap.Logger {
	if globalLogger == nil {
		InitDefault()
	}
	return globalLogger
}

// S returns the global logger's sugared form.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// Named scopes a child logger under component, e.g. logging.Named("pipeline")
// for a single phase's log lines to carry a consistent "logger" field.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// Field helpers, re-exported so call sites don't need their own zap import.
func String(key, val string) zap.Field          { return zap.String(key, val) }
func Int(key string, val int) zap.Field         { return zap.Int(key, val) }
func Int64(key string, val int64) zap.Field     { return zap.Int64(key, val) }
func Uint64(key string, val uint64) zap.Field   { return zap.Uint64(key, val) }
func Any(key string, val interface{}) zap.Field { return zap.Any(key, val) }
func Err(err error) zap.Field                   { return zap.Error(err) }
