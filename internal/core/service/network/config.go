package network

import (
	"fmt"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// Config contains peer network settings
type Config struct {
	Seeds           []string      `mapstructure:"seeds"`
	MaxNeighbors    int           `mapstructure:"maxNeighbors"`
	ProposalTTL     int           `mapstructure:"proposalTTL"`
	GossipInterval  time.Duration `mapstructure:"gossipInterval"` // 0 disables the gossip loop
	GossipFanout    int           `mapstructure:"gossipFanout"`
	ResponseTimeout time.Duration `mapstructure:"responseTimeout"`
	DispatchTimeout time.Duration `mapstructure:"dispatchTimeout"`
	MinResponses    int           `mapstructure:"minResponses"` // 0 uses a quorum of the current neighbors
	SeenTTL         time.Duration `mapstructure:"seenTTL"`
	Seed            int64         `mapstructure:"seed"`
}

func DefaultConfig() Config {
	return Config{
		MaxNeighbors:    5,
		ProposalTTL:     3,
		GossipInterval:  time.Second,
		GossipFanout:    3,
		ResponseTimeout: 3 * time.Second,
		DispatchTimeout: 30 * time.Second,
		SeenTTL:         5 * time.Minute,
	}
}

func (c Config) Validate() error {
	if c.MaxNeighbors < 1 {
		return fmt.Errorf("%w: maxNeighbors must be positive", domain.ErrInvalidConfig)
	}
	if c.ProposalTTL < 1 {
		return fmt.Errorf("%w: proposalTTL must be at least 1", domain.ErrInvalidConfig)
	}
	if c.GossipInterval < 0 || c.GossipFanout < 1 {
		return fmt.Errorf("%w: gossip interval must not be negative and fanout must be positive", domain.ErrInvalidConfig)
	}
	if c.ResponseTimeout <= 0 || c.DispatchTimeout <= 0 {
		return fmt.Errorf("%w: network timeouts must be positive", domain.ErrInvalidConfig)
	}
	if c.MinResponses < 0 {
		return fmt.Errorf("%w: minResponses must not be negative", domain.ErrInvalidConfig)
	}
	return nil
}
