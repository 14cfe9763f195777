package suite

import (
	"sync"
	"testing"
	"time"

	"github.com/rurikawa-judge/judger/internal/model"
)

func TestSlotGCAtZeroRefcount(t *testing.T) {
	c := NewCoordinator()
	const id model.SuiteID = "s1"

	g1 := c.BeforeJobStart(id)
	g2 := c.BeforeJobStart(id)

	if got := c.SlotRefCount(id); got != 2 {
		t.Fatalf("refcount = %d, want 2", got)
	}

	g1.Release()
	if got := c.SlotRefCount(id); got != 1 {
		t.Fatalf("refcount = %d, want 1", got)
	}

	g2.Release()
	if got := c.SlotRefCount(id); got != 0 {
		t.Fatalf("refcount = %d, want 0 (slot must be gone)", got)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := NewCoordinator()
	const id model.SuiteID = "s1"

	g := c.BeforeJobStart(id)
	g.Release()
	g.Release() // must not double-decrement

	if got := c.SlotRefCount(id); got != 0 {
		t.Fatalf("refcount = %d, want 0 after idempotent release", got)
	}
}

func TestWriterExcludesReaders(t *testing.T) {
	c := NewCoordinator()
	const id model.SuiteID = "s1"

	readerStarted := make(chan struct{})
	readerDone := make(chan struct{})
	writerDone := make(chan struct{})

	w := c.BeforeSuiteModify(id)

	go func() {
		close(readerStarted)
		r := c.OnSuiteRun(id) // must block until writer releases
		close(readerDone)
		r.Release()
	}()

	<-readerStarted
	time.Sleep(20 * time.Millisecond)
	select {
	case <-readerDone:
		t.Fatal("reader acquired updateLock while writer still held it")
	default:
	}

	w.Release()
	close(writerDone)

	select {
	case <-readerDone:
	case <-time.After(time.Second):
		t.Fatal("reader never acquired updateLock after writer released")
	}
}

func TestModifyMutexSerializesConcurrentUpdateChecks(t *testing.T) {
	c := NewCoordinator()
	const id model.SuiteID = "s1"

	var mu sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := c.BeforeSuiteMightModify(id)
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			g.Release()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("modify mutex allowed %d concurrent holders, want 1", maxActive)
	}
}
