// Package teardown provides an ordered collector of resources that need
// explicit release — containers before their volumes, volumes before the
// directories they're mounted under — because Go has no synchronous
// destructor that could await a container engine call.
package teardown

import (
	"context"
	"sync"

	"github.com/rurikawa-judge/judger/logger"
)

// Resource is anything that owns an external side effect (a container, a
// volume, a temp directory) that must be released exactly once.
type Resource interface {
	// Teardown releases the resource. Errors are logged by Collector, not
	// propagated, so that one failed teardown never stops the rest.
	Teardown(ctx context.Context) error
	// Name is used only for logging.
	Name() string
}

// Func adapts a plain function to the Resource interface.
type Func struct {
	Label string
	Run   func(ctx context.Context) error
}

func (f Func) Teardown(ctx context.Context) error { return f.Run(ctx) }
func (f Func) Name() string                       { return f.Label }

// Collector is an append-only list of resources, released in reverse
// insertion order. A zero Collector is ready to use.
type Collector struct {
	mu        sync.Mutex
	resources []Resource
	done      bool
}

// Push registers a resource. Safe to call concurrently. Pushing after
// TeardownAll has run is a programming error and panics — by that point
// nothing will ever release the resource, which is exactly the forgotten-
// teardown bug this type exists to prevent.
func (c *Collector) Push(r Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		panic("teardown: Push called after TeardownAll")
	}
	c.resources = append(c.resources, r)
}

// PushFunc is a convenience wrapper around Push(Func{...}).
func (c *Collector) PushFunc(name string, fn func(ctx context.Context) error) {
	c.Push(Func{Label: name, Run: fn})
}

// TeardownAll releases every collected resource, sequentially, in reverse
// insertion order, exactly once. A failing teardown is logged and does not
// stop subsequent ones. Calling TeardownAll more than once is a no-op.
func (c *Collector) TeardownAll(ctx context.Context) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	resources := c.resources
	c.resources = nil
	c.mu.Unlock()

	for i := len(resources) - 1; i >= 0; i-- {
		r := resources[i]
		if err := r.Teardown(ctx); err != nil {
			logger.JobErrorw("teardown failed", "resource", r.Name(), "error", err)
		}
	}
}

// Len reports how many resources are currently pending teardown. Mostly
// useful in tests.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resources)
}
