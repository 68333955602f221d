package coordinator

import (
	"fmt"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// Config contains hybrid coordination settings
type Config struct {
	FailoverThreshold       float64       `mapstructure:"failoverThreshold"`
	LargePoolSize           int           `mapstructure:"largePoolSize"`
	LowComplexity           int           `mapstructure:"lowComplexity"`
	HighComplexity          int           `mapstructure:"highComplexity"`
	HighSubtaskCount        int           `mapstructure:"highSubtaskCount"`
	ConsensusCategories     []string      `mapstructure:"consensusCategories"`
	MaxConcurrentExecutions int64         `mapstructure:"maxConcurrentExecutions"`
	ExecutionTimeout        time.Duration `mapstructure:"executionTimeout"`
	CoordinationTimeout     time.Duration `mapstructure:"coordinationTimeout"`
	HealthWindow            int           `mapstructure:"healthWindow"` // Recent outcomes considered by the health check
	SlowResponse            time.Duration `mapstructure:"slowResponse"`
}

func DefaultConfig() Config {
	return Config{
		FailoverThreshold:       0.5,
		LargePoolSize:           10,
		LowComplexity:           3,
		HighComplexity:          7,
		HighSubtaskCount:        5,
		ConsensusCategories:     []string{"critical", "security", "financial"},
		MaxConcurrentExecutions: 10,
		ExecutionTimeout:        time.Minute,
		CoordinationTimeout:     5 * time.Minute,
		HealthWindow:            50,
		SlowResponse:            10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.FailoverThreshold < 0 || c.FailoverThreshold > 1 {
		return fmt.Errorf("%w: failoverThreshold must be in [0,1]", domain.ErrInvalidConfig)
	}
	if c.LowComplexity < domain.MinComplexity || c.HighComplexity > domain.MaxComplexity || c.LowComplexity >= c.HighComplexity {
		return fmt.Errorf("%w: need %d <= lowComplexity < highComplexity <= %d", domain.ErrInvalidConfig, domain.MinComplexity, domain.MaxComplexity)
	}
	if c.LargePoolSize < 1 || c.HighSubtaskCount < 1 {
		return fmt.Errorf("%w: pool and subtask thresholds must be positive", domain.ErrInvalidConfig)
	}
	if c.MaxConcurrentExecutions < 1 {
		return fmt.Errorf("%w: maxConcurrentExecutions must be at least 1", domain.ErrInvalidConfig)
	}
	if c.ExecutionTimeout <= 0 || c.CoordinationTimeout <= 0 || c.SlowResponse <= 0 {
		return fmt.Errorf("%w: coordination timeouts must be positive", domain.ErrInvalidConfig)
	}
	if c.HealthWindow < 1 {
		return fmt.Errorf("%w: healthWindow must be positive", domain.ErrInvalidConfig)
	}
	return nil
}
