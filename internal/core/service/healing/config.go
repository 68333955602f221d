package healing

import (
	"fmt"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// Config contains self-healing settings
type Config struct {
	Interval                time.Duration `mapstructure:"interval"`
	MaxConcurrentRecoveries int64         `mapstructure:"maxConcurrentRecoveries"`
	ProbeTimeout            time.Duration `mapstructure:"probeTimeout"`
	RecoveryTimeout         time.Duration `mapstructure:"recoveryTimeout"` // Per strategy attempt

	HealthyThreshold  float64 `mapstructure:"healthyThreshold"`
	DegradedThreshold float64 `mapstructure:"degradedThreshold"`

	SlowResponse        time.Duration `mapstructure:"slowResponse"`
	HighMemory          float64       `mapstructure:"highMemory"`
	HighCPU             float64       `mapstructure:"highCPU"`
	HighErrorRate       float64       `mapstructure:"highErrorRate"`
	ConsecutiveFailures int           `mapstructure:"consecutiveFailures"`

	BreakerThreshold int           `mapstructure:"breakerThreshold"`
	BreakerCooldown  time.Duration `mapstructure:"breakerCooldown"`
}

func DefaultConfig() Config {
	return Config{
		Interval:                10 * time.Second,
		MaxConcurrentRecoveries: 3,
		ProbeTimeout:            5 * time.Second,
		RecoveryTimeout:         30 * time.Second,
		HealthyThreshold:        0.8,
		DegradedThreshold:       0.5,
		SlowResponse:            5 * time.Second,
		HighMemory:              0.85,
		HighCPU:                 0.9,
		HighErrorRate:           0.1,
		ConsecutiveFailures:     3,
		BreakerThreshold:        5,
		BreakerCooldown:         30 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Interval <= 0 || c.ProbeTimeout <= 0 || c.RecoveryTimeout <= 0 {
		return fmt.Errorf("%w: healing intervals and timeouts must be positive", domain.ErrInvalidConfig)
	}
	if c.MaxConcurrentRecoveries < 1 {
		return fmt.Errorf("%w: maxConcurrentRecoveries must be at least 1", domain.ErrInvalidConfig)
	}
	if c.DegradedThreshold <= 0 || c.HealthyThreshold <= c.DegradedThreshold || c.HealthyThreshold > 1 {
		return fmt.Errorf("%w: need 0 < degradedThreshold < healthyThreshold <= 1", domain.ErrInvalidConfig)
	}
	if c.ConsecutiveFailures < 1 || c.BreakerThreshold < 1 {
		return fmt.Errorf("%w: failure thresholds must be positive", domain.ErrInvalidConfig)
	}
	if c.HighMemory <= 0 || c.HighMemory > 1 || c.HighCPU <= 0 || c.HighCPU > 1 || c.HighErrorRate <= 0 || c.HighErrorRate > 1 {
		return fmt.Errorf("%w: usage thresholds must be in (0,1]", domain.ErrInvalidConfig)
	}
	return nil
}
