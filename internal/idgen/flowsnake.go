// Package idgen generates FlowSnake ids: 64-bit, time-ordered within a
// clock second, unique enough across workers without any coordination.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

const (
	timestampBits = 34
	workerIDBits  = 12
	sequenceBits  = 18

	timestampMask = (uint64(1) << timestampBits) - 1
	workerIDMask  = (uint64(1) << workerIDBits) - 1
	sequenceMask  = (uint64(1) << sequenceBits) - 1

	// reseedSpan bounds the random jump-ahead applied at the start of a
	// new second: [0, 2^18 - 2^16), leaving headroom before the sequence
	// counter could wrap and collide with another worker's ids minted in
	// the same second.
	reseedSpan = (uint64(1) << sequenceBits) - (uint64(1) << (sequenceBits - 2))
)

// FlowSnake is a 64-bit id: [time:34][worker:12][seq:18].
type FlowSnake uint64

// String renders the id as lowercase hex, fixed-width.
func (f FlowSnake) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// newParts packs the three fields into a FlowSnake.
func newParts(timestamp, workerID, seq uint64) FlowSnake {
	n := (timestamp&timestampMask)<<(workerIDBits+sequenceBits) |
		(workerID&workerIDMask)<<sequenceBits |
		(seq & sequenceMask)
	return FlowSnake(n)
}

// Generator mints FlowSnake ids. A Generator is NOT safe for concurrent
// use by itself — callers needing concurrent generation should wrap one
// in a mutex (see Gen, the package-level convenience below) because the
// monotonicity guarantee (§8 Testable Property 4) only holds for a single
// un-yielding caller; interleaving callers would need to serialize anyway
// to get a total order.
type Generator struct {
	workerID uint64
	lastT    uint64
	seq      uint64
}

// NewGenerator creates a Generator with a random 12-bit worker id, picked
// once per process so that ids minted by different worker processes in
// the same second are unlikely to collide.
func NewGenerator() *Generator {
	return &Generator{workerID: randomWorkerID()}
}

// Generate returns the next FlowSnake for this generator.
func (g *Generator) Generate() FlowSnake {
	t := uint64(time.Now().Unix())

	var seq uint64
	if t > g.lastT {
		g.lastT = t
		seq = randomReseed()
		g.seq = seq + 1
	} else {
		seq = g.seq
		g.seq++ // overflow past 2^18 within a second silently truncates on pack
	}

	return newParts(t, g.workerID, seq)
}

func randomWorkerID() uint64 {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return binary.BigEndian.Uint64(buf[:]) & workerIDMask
}

func randomReseed() uint64 {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return binary.BigEndian.Uint64(buf[:]) % reseedSpan
}

// defaultGenerator backs the package-level Gen function, for callers that
// don't need their own worker-id identity.
var (
	defaultMu  sync.Mutex
	defaultGen = NewGenerator()
)

// Gen returns the next FlowSnake from a shared, mutex-guarded generator.
func Gen() FlowSnake {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultGen.Generate()
}
