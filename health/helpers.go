package health

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Status values
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Aggregate reports the worst of subStatuses under component. Its message
// names the sub-components that are not healthy, e.g. "degraded: nt4".
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no components reporting")
	}

	worst := StateHealthy
	var failing []string
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			worst = StateUnhealthy
		case sub.IsDegraded():
			if worst == StateHealthy {
				worst = StateDegraded
			}
		default:
			continue
		}
		failing = append(failing, sub.Component)
	}

	message := fmt.Sprintf("%d components healthy", len(subStatuses))
	if len(failing) > 0 {
		message = worst + ": " + strings.Join(failing, ", ")
	}
	status := newStatus(component, worst, message)
	status.SubStatuses = slices.Clone(subStatuses)
	return status
}
