package worker

import (
	stderrors "errors"

	"github.com/c360/ntscope/errors"
)

var (
	// ErrPoolNotStarted is returned by Submit before Start
	ErrPoolNotStarted = stderrors.New("worker pool not started")

	// ErrPoolStopped is returned by Submit after Stop
	ErrPoolStopped = stderrors.New("worker pool stopped")

	// ErrPoolAlreadyStarted is returned by a second Start
	ErrPoolAlreadyStarted = stderrors.New("worker pool already started")

	// ErrQueueFull is returned by Submit when the queue has no free slot.
	// It is the shared sentinel, so errors.IsTransient reports true for it.
	ErrQueueFull = errors.ErrQueueFull

	// ErrNilProcessor is the panic value for a nil processor
	ErrNilProcessor = stderrors.New("processor function cannot be nil")

	// ErrStopTimeout is returned when workers outlive the Stop timeout
	ErrStopTimeout = stderrors.New("timeout waiting for workers to stop")
)
