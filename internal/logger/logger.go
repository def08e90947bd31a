package logger

import (
	"eddm-registry/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.Logger
}

// New creates a zap logger configured by environment.
func New(cfg *config.Config) *Logger {
	var zapCfg zap.Config

	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.TimeKey = "timestamp"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.TimeKey = "timestamp"
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	l, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}

	return &Logger{l.With(zap.String("service", "eddm-registry"))}
}

// Nop returns a logger that discards everything; used by tests and tools.
func Nop() *Logger {
	return &Logger{zap.NewNop()}
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() {
	_ = l.Logger.Sync() // ignore sync errors (often harmless in dev)
}

// HashField logs a short prefix of an address hash, never the full value.
func HashField(hash string) zap.Field {
	if len(hash) > 12 {
		hash = hash[:12]
	}
	return zap.String("address_hash", hash)
}
