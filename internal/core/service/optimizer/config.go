// Package optimizer computes near-optimal task to worker mappings with metaheuristics.
//
// Particle-swarm optimization is the canonical algorithm; ant-colony
// optimization is available behind the same Optimizer interface.
package optimizer

import (
	"fmt"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

const (
	AlgorithmPSO = "pso"
	AlgorithmACO = "aco"
)

// Weights balance the four fitness sub-scores. They need not sum to 1; the
// fitness function divides by their sum.
type Weights struct {
	Time        float64 `mapstructure:"time"`
	Cost        float64 `mapstructure:"cost"`
	Quality     float64 `mapstructure:"quality"`
	LoadBalance float64 `mapstructure:"loadBalance"`
}

func (w Weights) sum() float64 {
	return w.Time + w.Cost + w.Quality + w.LoadBalance
}

// PSOConfig contains particle-swarm parameters
type PSOConfig struct {
	SwarmSize            int     `mapstructure:"swarmSize"`
	MaxIterations        int     `mapstructure:"maxIterations"`
	Inertia              float64 `mapstructure:"inertia"`
	Cognitive            float64 `mapstructure:"cognitive"`
	Social               float64 `mapstructure:"social"`
	MinVelocity          float64 `mapstructure:"minVelocity"`
	MaxVelocity          float64 `mapstructure:"maxVelocity"`
	ConvergenceThreshold float64 `mapstructure:"convergenceThreshold"`
	ConvergenceWindow    int     `mapstructure:"convergenceWindow"`
}

// ACOConfig contains ant-colony parameters
type ACOConfig struct {
	Ants          int     `mapstructure:"ants"`
	Iterations    int     `mapstructure:"iterations"`
	Alpha         float64 `mapstructure:"alpha"`       // Pheromone influence
	Beta          float64 `mapstructure:"beta"`        // Heuristic influence
	Evaporation   float64 `mapstructure:"evaporation"` // 0 to 1
	Deposit       float64 `mapstructure:"deposit"`
	ReinforceRate float64 `mapstructure:"reinforceRate"` // Learning rate of the pattern memory
}

// Config selects and parameterizes the optimizer
type Config struct {
	Algorithm     string    `mapstructure:"algorithm"`
	Seed          int64     `mapstructure:"seed"` // 0 seeds from the clock
	MinConfidence float64   `mapstructure:"minConfidence"`
	Weights       Weights   `mapstructure:"weights"`
	PSO           PSOConfig `mapstructure:"pso"`
	ACO           ACOConfig `mapstructure:"aco"`
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		Algorithm:     AlgorithmPSO,
		MinConfidence: 0.3,
		Weights: Weights{
			Time:        0.3,
			Cost:        0.2,
			Quality:     0.3,
			LoadBalance: 0.2,
		},
		PSO: PSOConfig{
			SwarmSize:            30,
			MaxIterations:        100,
			Inertia:              0.7,
			Cognitive:            1.5,
			Social:               1.5,
			MinVelocity:          -0.3,
			MaxVelocity:          0.3,
			ConvergenceThreshold: 1e-6,
			ConvergenceWindow:    10,
		},
		ACO: ACOConfig{
			Ants:          20,
			Iterations:    50,
			Alpha:         1.0,
			Beta:          2.0,
			Evaporation:   0.1,
			Deposit:       1.0,
			ReinforceRate: 0.2,
		},
	}
}

// Validate fails fast on unusable combinations
func (c Config) Validate() error {
	switch c.Algorithm {
	case AlgorithmPSO, AlgorithmACO:
	default:
		return fmt.Errorf("%w: unknown optimizer algorithm %q", domain.ErrInvalidConfig, c.Algorithm)
	}
	w := c.Weights
	if w.Time < 0 || w.Cost < 0 || w.Quality < 0 || w.LoadBalance < 0 {
		return fmt.Errorf("%w: fitness weights must be non-negative", domain.ErrInvalidConfig)
	}
	if w.sum() <= 0 {
		return fmt.Errorf("%w: at least one fitness weight must be positive", domain.ErrInvalidConfig)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("%w: minConfidence must be in [0,1]", domain.ErrInvalidConfig)
	}
	p := c.PSO
	if p.SwarmSize < 1 || p.MaxIterations < 1 {
		return fmt.Errorf("%w: pso swarmSize and maxIterations must be positive", domain.ErrInvalidConfig)
	}
	if p.MinVelocity >= p.MaxVelocity {
		return fmt.Errorf("%w: pso minVelocity must be below maxVelocity", domain.ErrInvalidConfig)
	}
	if p.Inertia < 0 || p.Cognitive < 0 || p.Social < 0 {
		return fmt.Errorf("%w: pso coefficients must be non-negative", domain.ErrInvalidConfig)
	}
	if p.ConvergenceWindow < 2 {
		return fmt.Errorf("%w: pso convergenceWindow must be at least 2", domain.ErrInvalidConfig)
	}
	a := c.ACO
	if a.Ants < 1 || a.Iterations < 1 {
		return fmt.Errorf("%w: aco ants and iterations must be positive", domain.ErrInvalidConfig)
	}
	if a.Evaporation <= 0 || a.Evaporation >= 1 {
		return fmt.Errorf("%w: aco evaporation must be in (0,1)", domain.ErrInvalidConfig)
	}
	if a.ReinforceRate < 0 || a.ReinforceRate > 1 {
		return fmt.Errorf("%w: aco reinforceRate must be in [0,1]", domain.ErrInvalidConfig)
	}
	return nil
}

// New builds the configured optimizer
func New(cfg Config) (Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Algorithm == AlgorithmACO {
		return NewACO(cfg), nil
	}
	return NewPSO(cfg), nil
}
