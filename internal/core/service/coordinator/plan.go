package coordinator

import (
	"fmt"
	"sort"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// waves orders the schedulable units of task into dependency levels. A unit
// depends on the ids listed by itself and its ancestors; an id naming a
// composite subtask stands for all of its units. Unknown ids are ignored.
func waves(task *domain.Task) ([][]*domain.Task, error) {
	unitsOf := make(map[string][]string)
	var walk func(t *domain.Task) []string
	walk = func(t *domain.Task) []string {
		if len(t.Subtasks) == 0 {
			unitsOf[t.ID] = []string{t.ID}
			return unitsOf[t.ID]
		}
		var ids []string
		for _, s := range t.Subtasks {
			ids = append(ids, walk(s)...)
		}
		unitsOf[t.ID] = ids
		return ids
	}
	walk(task)

	units := task.Units()
	index := make(map[string]*domain.Task, len(units))
	order := make(map[string]int, len(units))
	for i, u := range units {
		index[u.ID] = u
		order[u.ID] = i
	}

	deps := make(map[string]map[string]bool, len(units))
	var collect func(t *domain.Task, inherited []string)
	collect = func(t *domain.Task, inherited []string) {
		own := append(append([]string(nil), inherited...), t.Dependencies...)
		if len(t.Subtasks) == 0 {
			set := make(map[string]bool)
			for _, d := range own {
				for _, u := range unitsOf[d] {
					if u != t.ID {
						set[u] = true
					}
				}
			}
			deps[t.ID] = set
			return
		}
		for _, s := range t.Subtasks {
			collect(s, own)
		}
	}
	collect(task, nil)

	indegree := make(map[string]int, len(units))
	dependents := make(map[string][]string)
	for id, set := range deps {
		indegree[id] = len(set)
		for d := range set {
			dependents[d] = append(dependents[d], id)
		}
	}

	var out [][]*domain.Task
	var ready []string
	for _, u := range units {
		if indegree[u.ID] == 0 {
			ready = append(ready, u.ID)
		}
	}
	placed := 0
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return order[ready[i]] < order[ready[j]] })
		wave := make([]*domain.Task, 0, len(ready))
		var next []string
		for _, id := range ready {
			wave = append(wave, index[id])
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		placed += len(wave)
		out = append(out, wave)
		ready = next
	}
	if placed != len(units) {
		return nil, fmt.Errorf("%w: dependency cycle in task %s", domain.ErrInvalidTask, task.ID)
	}
	return out, nil
}
