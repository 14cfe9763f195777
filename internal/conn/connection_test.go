package conn

import (
	"testing"
	"time"

	"github.com/rurikawa-judge/judger/internal/idgen"
)

func TestNextBackoffMultipliesByFactorAndCaps(t *testing.T) {
	got := nextBackoff(200 * time.Second)
	if got != maxBackoff {
		t.Fatalf("backoff = %v, want capped at %v", got, maxBackoff)
	}

	got = nextBackoff(250 * time.Millisecond)
	want := time.Duration(float64(250*time.Millisecond) * backoffFactor)
	if got != want {
		t.Fatalf("backoff = %v, want %v", got, want)
	}
}

func TestPollStateClearIfMatchesOnlyClearsExactMatch(t *testing.T) {
	var ps pollState
	id := idgen.Gen()
	ps.set(id)

	if ps.clearIfMatches(idgen.Gen()) {
		t.Fatal("clearIfMatches should not clear on a different id")
	}
	if !ps.isPending() {
		t.Fatal("pending id should still be set")
	}

	if !ps.clearIfMatches(id) {
		t.Fatal("clearIfMatches should clear on the matching id")
	}
	if ps.isPending() {
		t.Fatal("pending id should be cleared after a match")
	}
}

func TestPollStateClearIfStillPendingIsNoOpAfterAlreadyCleared(t *testing.T) {
	var ps pollState
	id := idgen.Gen()
	ps.set(id)
	ps.clearIfMatches(id)

	ps.clearIfStillPending(id) // must not panic or resurrect state
	if ps.isPending() {
		t.Fatal("expected no pending id")
	}
}
