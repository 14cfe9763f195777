// Package suite implements the three-lock per-suite coordination
// protocol (§4.3) and the suite-sync download/unzip path (§4.8).
package suite

import (
	"sync"
	"sync/atomic"

	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/rurikawa-judge/judger/internal/model"
)

// slot is the per-suite lock/refcount bundle. The modify/update locks use
// go-deadlock's drop-in Mutex/RWMutex instead of sync's: the ordering
// invariant in §4.3 ("onSuiteRun must be acquired before beforeSuiteMightModify
// is released") is exactly the kind of cross-goroutine lock-order bug
// go-deadlock's background cycle detector is built to catch early in tests.
type slot struct {
	rc         int
	modifyLock deadlock.Mutex
	updateLock deadlock.RWMutex
}

// Coordinator holds one slot per suite currently referenced by a running
// job, created lazily and removed once its refcount returns to zero
// (Invariant 4, Testable Property 3).
type Coordinator struct {
	mu    sync.Mutex
	slots map[model.SuiteID]*slot
}

// NewCoordinator returns an empty Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{slots: make(map[model.SuiteID]*slot)}
}

func (c *Coordinator) getOrCreate(id model.SuiteID) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[id]
	if !ok {
		s = &slot{}
		c.slots[id] = s
	}
	return s
}

// RCGuard is returned by BeforeJobStart; release it exactly once when the
// job is done with the suite (success, error, cancel, or abort).
type RCGuard struct {
	c        *Coordinator
	id       model.SuiteID
	released atomic.Bool
}

// Release decrements the suite's refcount, removing its slot once it
// reaches zero. Safe to call more than once; only the first call counts.
func (g *RCGuard) Release() {
	if !g.released.CompareAndSwap(false, true) {
		return
	}
	g.c.mu.Lock()
	defer g.c.mu.Unlock()
	s, ok := g.c.slots[g.id]
	if !ok {
		return
	}
	s.rc--
	if s.rc <= 0 {
		delete(g.c.slots, g.id)
	}
}

// BeforeJobStart increments the suite's refcount, creating its slot on
// first reference. Step 1 of the §4.3 protocol.
func (c *Coordinator) BeforeJobStart(id model.SuiteID) *RCGuard {
	c.mu.Lock()
	s, ok := c.slots[id]
	if !ok {
		s = &slot{}
		c.slots[id] = s
	}
	s.rc++
	c.mu.Unlock()
	return &RCGuard{c: c, id: id}
}

// SlotRefCount returns the current refcount for a suite, or 0 if no slot
// exists. Exposed for Testable Property 3 (rc=0 ⇔ no slot entry).
func (c *Coordinator) SlotRefCount(id model.SuiteID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[id]
	if !ok {
		return 0
	}
	return s.rc
}

// MightModifyGuard holds the suite's modify-mutex. Release it to let the
// next job's update check proceed.
type MightModifyGuard struct {
	lock *deadlock.Mutex
	once sync.Once
}

func (g *MightModifyGuard) Release() {
	g.once.Do(g.lock.Unlock)
}

// BeforeSuiteMightModify acquires the modify-mutex, serializing "is this
// suite stale" checks across concurrently-starting jobs. Step 2.
func (c *Coordinator) BeforeSuiteMightModify(id model.SuiteID) *MightModifyGuard {
	s := c.getOrCreate(id)
	s.modifyLock.Lock()
	return &MightModifyGuard{lock: &s.modifyLock}
}

// WriteGuard holds the suite's update-lock for writing, excluding every
// reader. Used only while actually rewriting suite files on disk.
type WriteGuard struct {
	lock *deadlock.RWMutex
	once sync.Once
}

func (g *WriteGuard) Release() {
	g.once.Do(g.lock.Unlock)
}

// BeforeSuiteModify acquires the update-lock for writing. Step 3: only
// taken when the lockfile shows the suite is stale.
func (c *Coordinator) BeforeSuiteModify(id model.SuiteID) *WriteGuard {
	s := c.getOrCreate(id)
	s.updateLock.Lock()
	return &WriteGuard{lock: &s.updateLock}
}

// ReadGuard holds the suite's update-lock for reading. A JobPipeline
// holds one for its whole test-running phase, so no writer can start
// mutating the suite's files out from under it.
type ReadGuard struct {
	lock *deadlock.RWMutex
	once sync.Once
}

func (g *ReadGuard) Release() {
	g.once.Do(g.lock.RUnlock)
}

// OnSuiteRun acquires the update-lock for reading. Step 4: MUST be
// acquired before the caller releases its might-modify guard (step 5),
// or a writer could slip in between the two and corrupt files mid-read.
func (c *Coordinator) OnSuiteRun(id model.SuiteID) *ReadGuard {
	s := c.getOrCreate(id)
	s.updateLock.RLock()
	return &ReadGuard{lock: &s.updateLock}
}
