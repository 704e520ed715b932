package logger

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// traceLevel lets logr V(2) messages through zap when debugging.
const traceLevel = zapcore.Level(-2)

func ZapLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(traceLevel)
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return cfg.Build()
}

// Logr adapts a zap logger for packages that log through logr.
func Logr(z *zap.Logger) logr.Logger {
	return zapr.NewLogger(z)
}

func SetupLogrus(debug bool) {
	formatter := &log.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	}
	log.SetFormatter(formatter)
	log.SetLevel(log.InfoLevel)
	if debug {
		log.SetLevel(log.DebugLevel)
	}
}
