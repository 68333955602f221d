package rabbitmq

import (
	"errors"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
)

// requeue reports whether a failed delivery is worth retrying
func requeue(err error) bool {
	return !errors.Is(err, domain.ErrInvalidTask)
}
