package redis

import (
	"context"
	"fmt"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"go.uber.org/zap"
)

// Controller carries out recovery actions on registry entries. The worker
// heartbeat keeps deactivated members out, so state set here sticks until
// the next action.
type Controller struct {
	reg *Registry
	log *zap.Logger
}

func NewController(reg *Registry, log *zap.Logger) *Controller {
	return &Controller{reg: reg, log: log.Named("controller")}
}

// Restart puts the worker back in the pool with no load
func (c *Controller) Restart(ctx context.Context, componentID string) error {
	c.log.Info("Restarting worker", zap.String("id", componentID))
	return c.reg.update(ctx, componentID, func(w *domain.Worker) {
		w.Status = domain.WorkerStatusActive
		w.Workload = 0
	})
}

// ReleaseResources drains the worker's recorded workload
func (c *Controller) ReleaseResources(ctx context.Context, componentID string) error {
	return c.reg.update(ctx, componentID, func(w *domain.Worker) { w.Workload = 0 })
}

// Replace takes the worker out of the pool and returns the active worker
// that best covers its domains, least loaded first.
func (c *Controller) Replace(ctx context.Context, componentID string) (string, error) {
	old, err := c.reg.GetWorker(ctx, componentID)
	if err != nil {
		return "", err
	}
	workers, err := c.reg.GetActiveWorkers(ctx)
	if err != nil {
		return "", err
	}

	var best *domain.Worker
	bestCover := -1
	for _, w := range workers {
		if w.ID == componentID {
			continue
		}
		cover := 0
		for _, d := range old.Capabilities.Domains {
			if w.HasDomain(d) {
				cover++
			}
		}
		if cover > bestCover || (cover == bestCover && w.Workload < best.Workload) {
			best, bestCover = w, cover
		}
	}
	if best == nil {
		return "", fmt.Errorf("%w: no replacement for %s", domain.ErrNoWorkers, componentID)
	}
	if err := c.reg.MarkInactive(ctx, componentID); err != nil {
		return "", err
	}
	c.log.Info("Replaced worker", zap.String("id", componentID), zap.String("replacement", best.ID))
	return best.ID, nil
}
