package consensus

import (
	"fmt"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// Config contains replica timing and membership settings
type Config struct {
	Validators         []string      `mapstructure:"validators"`
	FaultTolerance     int           `mapstructure:"faultTolerance"` // 0 derives floor((n-1)/3)
	PhaseTimeout       time.Duration `mapstructure:"phaseTimeout"`
	ViewChangeTimeout  time.Duration `mapstructure:"viewChangeTimeout"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeatInterval"` // 0 disables heartbeats and silence detection
	LivenessWindow     time.Duration `mapstructure:"livenessWindow"`
	CheckpointTimeout  time.Duration `mapstructure:"checkpointTimeout"`
	SuspicionThreshold float64       `mapstructure:"suspicionThreshold"`
	AutoViewChange     bool          `mapstructure:"autoViewChange"` // Change view when the primary goes silent
}

func DefaultConfig() Config {
	return Config{
		PhaseTimeout:       5 * time.Second,
		ViewChangeTimeout:  10 * time.Second,
		HeartbeatInterval:  time.Second,
		LivenessWindow:     5 * time.Second,
		CheckpointTimeout:  3 * time.Second,
		SuspicionThreshold: 0.9,
		AutoViewChange:     true,
	}
}

func (c Config) Validate() error {
	if c.PhaseTimeout <= 0 || c.ViewChangeTimeout <= 0 || c.CheckpointTimeout <= 0 {
		return fmt.Errorf("%w: consensus timeouts must be positive", domain.ErrInvalidConfig)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("%w: heartbeat interval must not be negative", domain.ErrInvalidConfig)
	}
	if c.HeartbeatInterval > 0 && c.LivenessWindow <= c.HeartbeatInterval {
		return fmt.Errorf("%w: liveness window must exceed the heartbeat interval", domain.ErrInvalidConfig)
	}
	if c.SuspicionThreshold <= 0 || c.SuspicionThreshold > 1 {
		return fmt.Errorf("%w: suspicion threshold must be in (0,1]", domain.ErrInvalidConfig)
	}
	return nil
}
