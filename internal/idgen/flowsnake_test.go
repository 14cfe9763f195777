package idgen

import "testing"

func TestMonotonicWithinASecond(t *testing.T) {
	g := &Generator{workerID: 1, lastT: 1 << 40, seq: 5}

	// Force Generate to see "no new second" by pinning lastT to the
	// future; every draw then comes from the same in-second counter.
	var first FlowSnake
	for i := 0; i < 10; i++ {
		got := g.Generate()
		if i > 0 && got < first {
			t.Fatalf("sequence decreased: %d < %d", got, first)
		}
		first = got
	}
}

func TestGenerateProducesIncreasingIdsWithoutYielding(t *testing.T) {
	g := NewGenerator()
	var prev FlowSnake
	for i := 0; i < 1000; i++ {
		id := g.Generate()
		if i > 0 && id <= prev {
			t.Fatalf("ids must strictly increase within a second: %d then %d", prev, id)
		}
		prev = id
	}
}

func TestNewPartsRoundTrip(t *testing.T) {
	id := newParts(123456789, 42, 7)
	raw := uint64(id)

	gotSeq := raw & sequenceMask
	gotWorker := (raw >> sequenceBits) & workerIDMask
	gotTime := (raw >> (sequenceBits + workerIDBits)) & timestampMask

	if gotSeq != 7 || gotWorker != 42 || gotTime != 123456789 {
		t.Fatalf("unpacked (%d,%d,%d), want (123456789,42,7)", gotTime, gotWorker, gotSeq)
	}
}
