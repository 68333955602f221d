// Package system reads host resource usage with gopsutil.
package system

import (
	"context"
	"fmt"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Probe reports host memory pressure for the coordinator's health check and
// serves as the metrics source of the local node.
type Probe struct {
	nodeID string
}

func NewProbe(nodeID string) *Probe {
	return &Probe{nodeID: nodeID}
}

// MemoryPressure returns used memory as a ratio in [0,1]
func (p *Probe) MemoryPressure(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read virtual memory: %w", err)
	}
	return domain.Clamp01(vm.UsedPercent / 100), nil
}

// GetComponentMetrics only knows the local node; response time and error
// rate come from the healing manager's own execution stats.
func (p *Probe) GetComponentMetrics(ctx context.Context, componentID string) (domain.HealthMetrics, error) {
	if componentID != p.nodeID {
		return domain.HealthMetrics{}, fmt.Errorf("%w: %s is not the local node", domain.ErrComponentNotFound, componentID)
	}
	memory, err := p.MemoryPressure(ctx)
	if err != nil {
		return domain.HealthMetrics{}, err
	}
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return domain.HealthMetrics{}, fmt.Errorf("read cpu usage: %w", err)
	}
	var usage float64
	if len(percents) > 0 {
		usage = domain.Clamp01(percents[0] / 100)
	}
	return domain.HealthMetrics{MemoryUsage: memory, CPUUsage: usage}, nil
}
