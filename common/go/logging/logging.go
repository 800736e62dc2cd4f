package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Init initializes the logging subsystem.
//
// The returned level can be changed at runtime.
func Init(cfg *Config) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	config, err := newConfig(cfg, term.IsTerminal(int(os.Stderr.Fd())))
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	logger, err := config.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger.Sugar(), config.Level, nil
}

func newConfig(cfg *Config, isTerminal bool) (zap.Config, error) {
	var encoderConfig zapcore.EncoderConfig

	switch cfg.Encoding {
	case "", "console":
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		if isTerminal {
			encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
	case "json":
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return zap.Config{}, fmt.Errorf("unsupported log encoding %q", cfg.Encoding)
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "console"
	}

	return zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level),
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}, nil
}
