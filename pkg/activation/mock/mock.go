// Package mock provides an in-memory mock implementation of the
// [activation.Controller] interface for use in unit tests.
//
// The mock records every method call and lets tests inject turn boundaries:
//
//	ctrl := mock.NewController()
//	ctrl.Emit(activation.SpeechStart)
//	ctrl.Emit(activation.SpeechEnd)
//	ctrl.Finish()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/activation"
)

// Controller is a mock implementation of [activation.Controller].
// Set the exported Result fields before use; inspect the Call* fields after.
type Controller struct {
	mu sync.Mutex

	// StartError is returned by [Controller.Start].
	StartError error

	// CloseError is returned by [Controller.Close].
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	events   chan activation.Event
	finished bool
}

var _ activation.Controller = (*Controller)(nil)

// NewController creates a mock controller with a buffered event channel.
func NewController() *Controller {
	return &Controller{
		events: make(chan activation.Event, 16),
	}
}

// Start implements [activation.Controller]. Returns StartError.
func (c *Controller) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	return c.StartError
}

// Events implements [activation.Controller].
func (c *Controller) Events() <-chan activation.Event {
	return c.events
}

// Close implements [activation.Controller]. It closes the event channel on
// first call and returns CloseError.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	if !c.finished {
		c.finished = true
		close(c.events)
	}
	return c.CloseError
}

// Emit injects a turn boundary as if the user produced it. It panics when
// called after Finish or Close, mirroring a real controller's guarantee
// that no events follow channel close.
func (c *Controller) Emit(t activation.EventType) {
	c.events <- activation.Event{Type: t, At: time.Now()}
}

// Finish closes the event channel without counting as a Close call, the way
// a real controller ends when the user quits.
func (c *Controller) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finished {
		c.finished = true
		close(c.events)
	}
}
