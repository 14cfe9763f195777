package teardown

import (
	"context"
	"errors"
	"testing"
)

func TestTeardownOrderIsReversed(t *testing.T) {
	var c Collector
	var order []string

	for _, name := range []string{"r1", "r2", "r3"} {
		name := name
		c.PushFunc(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	c.TeardownAll(context.Background())

	want := []string{"r3", "r2", "r1"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestTeardownContinuesPastErrors(t *testing.T) {
	var c Collector
	var ran []string

	c.PushFunc("first", func(ctx context.Context) error {
		ran = append(ran, "first")
		return errors.New("boom")
	})
	c.PushFunc("second", func(ctx context.Context) error {
		ran = append(ran, "second")
		return nil
	})

	c.TeardownAll(context.Background())

	if len(ran) != 2 {
		t.Fatalf("expected both teardowns to run despite the first erroring, got %v", ran)
	}
}

func TestTeardownAllIsIdempotent(t *testing.T) {
	var c Collector
	calls := 0
	c.PushFunc("once", func(ctx context.Context) error {
		calls++
		return nil
	})

	c.TeardownAll(context.Background())
	c.TeardownAll(context.Background())

	if calls != 1 {
		t.Fatalf("expected exactly one teardown call, got %d", calls)
	}
}
