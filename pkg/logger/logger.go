package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger
var sugar *zap.SugaredLogger

// New builds a logger tagged with service and env.
// Environment can be "dev", "local", "uat", or "prod"; the first two get a
// console encoder.
func New(service, env, level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch env {
	case "dev", "local":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		cfg = zap.NewProductionConfig()
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.InitialFields = map[string]any{"service": service, "env": env}

	return cfg.Build(zap.AddCaller())
}

// Init initializes the global logger. An unparseable level falls back to info.
func Init(service, env, level string) {
	logger, err := New(service, env, level)
	if err != nil {
		logger, err = New(service, env, "info")
	}
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}

	log = logger
	sugar = logger.Sugar()
	zap.ReplaceGlobals(logger)

	log.Info("logger initialized", zap.String("level", logger.Level().String()))
}

// L returns the base structured Zap logger.
func L() *zap.Logger {
	if log == nil {
		Init("unknown", "dev", "info")
	}
	return log
}

// S returns the Sugared logger.
func S() *zap.SugaredLogger {
	if sugar == nil {
		Init("unknown", "dev", "info")
	}
	return sugar
}

// Sync flushes any buffered logs (defer this in main()).
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
