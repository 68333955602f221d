package consensus

import (
	"fmt"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"go.uber.org/zap"
)

// TriggerViewChange starts moving to the next view. No proposal is
// finalized until a quorum of validators agrees on the new view. It returns
// the view being voted for.
func (r *Replica) TriggerViewChange(reason string) uint64 {
	r.mu.Lock()
	target := r.view + 1
	if r.targetView >= target {
		target = r.targetView
		if r.changing.Load() {
			r.mu.Unlock()
			return target
		}
	}
	r.mu.Unlock()
	r.startViewChange(target, reason)
	return target
}

func (r *Replica) startViewChange(target uint64, reason string) {
	r.mu.Lock()
	if target <= r.view || (r.changing.Load() && r.targetView >= target) {
		r.mu.Unlock()
		return
	}
	r.targetView = target
	r.changing.Store(true)
	if r.viewTimer != nil {
		r.viewTimer.Stop()
	}
	r.viewTimer = time.AfterFunc(r.cfg.ViewChangeTimeout, func() { r.escalate(target) })
	r.mu.Unlock()

	r.log.Warn("view change started", zap.Uint64("target_view", target), zap.String("reason", reason))
	m := r.newMessage(domain.MessageViewChange, target, 0, "", true)
	m.Reason = reason
	r.broadcast(m)
}

// escalate moves on to the following view when target was not adopted in time
func (r *Replica) escalate(target uint64) {
	if !r.running.Load() {
		return
	}
	r.mu.Lock()
	stuck := r.changing.Load() && r.targetView == target
	r.mu.Unlock()
	if stuck {
		r.startViewChange(target+1, fmt.Sprintf("view %d not adopted within %s", target, r.cfg.ViewChangeTimeout))
	}
}

func (r *Replica) handleViewChange(m *domain.Message) {
	r.mu.Lock()
	if m.View <= r.view {
		r.mu.Unlock()
		return
	}
	voters, ok := r.viewVotes[m.View]
	if !ok {
		voters = make(map[string]bool)
		r.viewVotes[m.View] = voters
	}
	voters[m.SenderID] = true
	votes := 0
	for id := range voters {
		if r.set.IsActive(id) {
			votes++
		}
	}
	join := votes >= r.set.F()+1 && !voters[r.id] && !(r.changing.Load() && r.targetView >= m.View)
	adopt := votes >= r.set.Quorum()
	r.mu.Unlock()

	if join {
		r.startViewChange(m.View, fmt.Sprintf("joined view change to %d", m.View))
		return
	}
	if adopt {
		r.adoptView(m.View)
	}
}

func (r *Replica) adoptView(view uint64) {
	r.mu.Lock()
	if view <= r.view {
		r.mu.Unlock()
		return
	}
	r.view = view
	if r.targetView <= view {
		r.targetView = 0
		r.changing.Store(false)
		if r.viewTimer != nil {
			r.viewTimer.Stop()
		}
	}
	for v := range r.viewVotes {
		if v <= view {
			delete(r.viewVotes, v)
		}
	}
	var stale []*instance
	for key, inst := range r.instances {
		if key.view < view {
			stale = append(stale, inst)
		}
	}
	r.mu.Unlock()

	for _, inst := range stale {
		inst.mu.Lock()
		if inst.finished {
			inst.mu.Unlock()
			continue
		}
		res := r.closeSlot(inst, false, 0, 0, fmt.Sprintf("view changed to %d before finalization", view))
		inst.mu.Unlock()
		r.finish(res)
	}

	primary := r.set.Primary(view)
	r.log.Info("view adopted", zap.Uint64("view", view), zap.String("primary", primary))
	r.metrics.ObserveViewChange(view)
	r.notifier.Emit(domain.EventViewChanged, map[string]any{
		"view":    view,
		"primary": primary,
	})
}
