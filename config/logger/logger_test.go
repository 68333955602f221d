package logger

import (
	"bytes"
	"testing"

	config "github.com/crabzie/swarm-coordinator/config/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func testConfig(level string) *config.Logger {
	return &config.Logger{
		Level:             level,
		Encoding:          "json",
		DisableStacktrace: true,
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:  "msg",
			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,
		},
	}
}

func TestBuildSplitsByLevel(t *testing.T) {
	var low, high bytes.Buffer
	log, err := build(testConfig("info"), &low, &high)
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("routine")
	log.Error("broken")
	require.NoError(t, log.Sync())

	assert.Contains(t, low.String(), "routine")
	assert.NotContains(t, low.String(), "hidden")
	assert.NotContains(t, low.String(), "broken")
	assert.Contains(t, high.String(), "broken")
}

func TestSetLevel(t *testing.T) {
	var low, high bytes.Buffer
	log, err := build(testConfig("info"), &low, &high)
	require.NoError(t, err)

	SetLevel("debug")
	assert.Equal(t, zapcore.DebugLevel, Level())
	log.Debug("now visible")
	assert.Contains(t, low.String(), "now visible")

	SetLevel("nonsense")
	assert.Equal(t, zapcore.DebugLevel, Level())
}

func TestBuildRejectsUnknownLevel(t *testing.T) {
	_, err := Build(testConfig("loud"))
	assert.Error(t, err)
}
