package consensus

import (
	"fmt"
	"sort"
	"sync"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// MaxFaulty is the number of Byzantine validators n validators tolerate
func MaxFaulty(n int) int {
	if n < 1 {
		return 0
	}
	return (n - 1) / 3
}

// Quorum is the vote count needed to finalize among n active validators:
// max(2f+1, n/2+1). This is stricter than plain 2f+1 when n is not 3f+1,
// e.g. n=6 gives f=1 but needs 4 votes, so two quorums always intersect.
func Quorum(n int) int {
	if n < 1 {
		return 1
	}
	q := 2*MaxFaulty(n) + 1
	if majority := n/2 + 1; majority > q {
		q = majority
	}
	return q
}

// ValidatorSet is the ordered membership of a consensus group. Excluded
// validators keep their slot in the configured list but no longer count
// toward quorum or primary rotation.
type ValidatorSet struct {
	mu       sync.RWMutex
	ids      []string
	excluded map[string]bool
}

// NewValidatorSet validates membership against the fault tolerance f.
// f = 0 derives the maximum tolerable faults from the set size.
func NewValidatorSet(ids []string, f int) (*ValidatorSet, error) {
	if f < 0 {
		return nil, fmt.Errorf("%w: fault tolerance must be non-negative", domain.ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(ids))
	var uniq []string
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("%w: empty validator id", domain.ErrInvalidConfig)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		uniq = append(uniq, id)
	}
	if len(uniq) == 0 {
		return nil, fmt.Errorf("%w: validator set is empty", domain.ErrInvalidConfig)
	}
	if len(uniq) < 3*f+1 {
		return nil, fmt.Errorf("%w: n=%d cannot tolerate f=%d (need n >= %d)", domain.ErrUnsafeValidatorSet, len(uniq), f, 3*f+1)
	}
	sort.Strings(uniq)
	return &ValidatorSet{ids: uniq, excluded: make(map[string]bool)}, nil
}

// Contains reports configured membership regardless of exclusion
func (v *ValidatorSet) Contains(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	i := sort.SearchStrings(v.ids, id)
	return i < len(v.ids) && v.ids[i] == id
}

// IsActive reports whether id is a member that has not been excluded
func (v *ValidatorSet) IsActive(id string) bool {
	return v.Contains(id) && !v.IsExcluded(id)
}

func (v *ValidatorSet) IsExcluded(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.excluded[id]
}

// Active returns the sorted ids that still count toward quorum
func (v *ValidatorSet) Active() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.ids))
	for _, id := range v.ids {
		if !v.excluded[id] {
			out = append(out, id)
		}
	}
	return out
}

// Size is the number of active validators
func (v *ValidatorSet) Size() int {
	return len(v.Active())
}

// F is the current fault tolerance, recomputed from the active size
func (v *ValidatorSet) F() int {
	return MaxFaulty(v.Size())
}

// Quorum is the current quorum size
func (v *ValidatorSet) Quorum() int {
	return Quorum(v.Size())
}

// Primary returns the round-robin primary for view
func (v *ValidatorSet) Primary(view uint64) string {
	active := v.Active()
	if len(active) == 0 {
		return ""
	}
	return active[view%uint64(len(active))]
}

// Exclude removes id from quorum counting. It returns false if id is unknown,
// already excluded, or the last active validator.
func (v *ValidatorSet) Exclude(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := sort.SearchStrings(v.ids, id)
	if i >= len(v.ids) || v.ids[i] != id || v.excluded[id] {
		return false
	}
	if len(v.ids)-len(v.excluded) <= 1 {
		return false
	}
	v.excluded[id] = true
	return true
}
