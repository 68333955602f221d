// Package logger provides zap logger implimentation logic.
package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	config "github.com/crabzie/swarm-coordinator/config/utils"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// atomicLevel is logger log level invariant
var atomicLevel = zap.NewAtomicLevel()

// Build is a build function that's responsible for setting up base logger.
// Levels below error go to stdout, error and above to stderr.
func Build(cfg *config.Logger) (*zap.Logger, error) {
	return build(cfg, os.Stdout, os.Stderr)
}

func build(cfg *config.Logger, low, high io.Writer) (*zap.Logger, error) {
	l, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("couldn't parse initial level: %w", err)
	}
	atomicLevel.SetLevel(l)

	// create encoder
	encoder := zapcore.NewJSONEncoder(cfg.EncoderConfig)
	if cfg.Encoding == "console" {
		encoder = zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	}

	// Level filters
	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})

	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return atomicLevel.Enabled(lvl) && lvl < zapcore.ErrorLevel
	})

	infoCore := zapcore.NewCore(encoder, zapcore.AddSync(low), lowPriority)
	errorCore := zapcore.NewCore(encoder, zapcore.AddSync(high), highPriority)

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	if !cfg.DisableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger := zap.New(zapcore.NewTee(infoCore, errorCore), opts...)
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Watch reapplies logger.level whenever viper sees the config file change
func Watch() {
	viper.OnConfigChange(func(in fsnotify.Event) {
		if in.Op&(fsnotify.Create) == 0 {
			SetLevel(viper.GetString("logger.level"))
		}
	})
	viper.WatchConfig()
}

// SetLevel changes logger level dynamically
func SetLevel(level string) {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		zap.L().Error("Couldn't parse level", zap.Error(err))
	} else {
		zap.L().Info("Atomic level updated", zap.String("value", level))
		atomicLevel.SetLevel(l)
	}
}

// Level returns the current minimum level of the low priority core
func Level() zapcore.Level {
	return atomicLevel.Level()
}
