package framepool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// MinCapacity is the smallest pool the constructor accepts.
const MinCapacity = 8

var (
	// ErrPoolExhausted is returned by Dequeue when every slot is owned by
	// the producer or the consumer. Callers treat it as a lost buffer.
	ErrPoolExhausted = errors.New("framepool: pool exhausted")

	// ErrDoubleRelease is returned when a Frame handle is released twice
	// or belongs to a different pool.
	ErrDoubleRelease = errors.New("framepool: frame already released")

	// ErrStaleBuffer is returned when a producer Buffer is queued or
	// cancelled after it was already handed back.
	ErrStaleBuffer = errors.New("framepool: buffer already returned")

	// ErrPoolClosed is returned by producer operations after Close.
	ErrPoolClosed = errors.New("framepool: pool is closed")
)

type slotState int

const (
	slotFree slotState = iota
	slotFilling
	slotReady
	slotAcquired
)

type slot struct {
	state slotState
	gen   uint64

	y, u, v                   []byte
	strideY, strideU, strideV int

	ts     int64
	number uint64
}

// Pool is a fixed-capacity ring of planar buffers shared by one producer
// (the hardware source) and one consumer (the dispatcher).
//
// Slot lifecycle: free -> filling (Dequeue) -> ready (Queue) ->
// acquired (AcquireNext) -> free (Release). Cancel returns a filling slot
// to free without publishing it.
type Pool struct {
	mu       sync.Mutex
	slots    []slot
	free     []int
	ready    []int
	closed   bool
	capacity int

	dequeued       uint64
	queued         uint64
	acquired       uint64
	emptyPolls     uint64
	released       uint64
	exhausted      uint64
	doubleReleases uint64
}

// New creates a pool with capacity slots. Plane storage is allocated lazily
// on first fill and reused afterwards.
func New(capacity int) (*Pool, error) {
	if capacity < MinCapacity {
		return nil, fmt.Errorf("framepool: capacity %d below minimum %d", capacity, MinCapacity)
	}

	p := &Pool{
		slots:    make([]slot, capacity),
		free:     make([]int, 0, capacity),
		ready:    make([]int, 0, capacity),
		capacity: capacity,
	}
	for i := capacity - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}

	slog.Debug("framepool: pool created", "capacity", capacity)
	return p, nil
}

// Capacity returns the fixed number of slots.
func (p *Pool) Capacity() int { return p.capacity }

// Dequeue hands a free slot to the producer. It never blocks: when no slot
// is free it returns ErrPoolExhausted.
func (p *Pool) Dequeue() (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if len(p.free) == 0 {
		atomic.AddUint64(&p.exhausted, 1)
		return nil, fmt.Errorf("%w: capacity=%d ready=%d", ErrPoolExhausted, p.capacity, len(p.ready))
	}

	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	s := &p.slots[idx]
	s.state = slotFilling
	atomic.AddUint64(&p.dequeued, 1)

	return &Buffer{
		Y:    Plane{Data: s.y[:0]},
		U:    Plane{Data: s.u[:0]},
		V:    Plane{Data: s.v[:0]},
		pool: p,
		slot: idx,
		gen:  s.gen,
	}, nil
}

// Queue publishes a filled buffer as ready for the consumer. The buffer
// handle must not be used afterwards.
func (p *Pool) Queue(b *Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.fillingSlot(b)
	if err != nil {
		return err
	}

	s.y, s.u, s.v = b.Y.Data, b.U.Data, b.V.Data
	s.strideY, s.strideU, s.strideV = b.Y.Stride, b.U.Stride, b.V.Stride
	s.ts = b.Timestamp
	s.number = b.Number
	s.state = slotReady
	b.pool = nil

	p.ready = append(p.ready, b.slot)
	atomic.AddUint64(&p.queued, 1)
	return nil
}

// Cancel returns a buffer to the free list without publishing it.
func (p *Pool) Cancel(b *Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.fillingSlot(b)
	if err != nil {
		return err
	}

	// Keep the storage so the next fill can reuse it.
	s.y, s.u, s.v = b.Y.Data, b.U.Data, b.V.Data
	s.state = slotFree
	s.gen++
	b.pool = nil

	p.free = append(p.free, b.slot)
	return nil
}

func (p *Pool) fillingSlot(b *Buffer) (*slot, error) {
	if b == nil || b.pool != p {
		return nil, ErrStaleBuffer
	}
	s := &p.slots[b.slot]
	if s.state != slotFilling || s.gen != b.gen {
		return nil, ErrStaleBuffer
	}
	return s, nil
}

// AcquireNext returns the oldest ready frame, or false when none is ready.
// It never blocks.
func (p *Pool) AcquireNext() (*Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.ready) == 0 {
		atomic.AddUint64(&p.emptyPolls, 1)
		return nil, false
	}

	idx := p.ready[0]
	copy(p.ready, p.ready[1:])
	p.ready = p.ready[:len(p.ready)-1]

	s := &p.slots[idx]
	s.state = slotAcquired
	atomic.AddUint64(&p.acquired, 1)

	return &Frame{
		Y:         Plane{Data: s.y, Stride: s.strideY},
		U:         Plane{Data: s.u, Stride: s.strideU},
		V:         Plane{Data: s.v, Stride: s.strideV},
		Timestamp: s.ts,
		Number:    s.number,
		pool:      p,
		slot:      idx,
		gen:       s.gen,
	}, true
}

// Release hands an acquired frame back to the producer side. Releasing the
// same handle twice returns ErrDoubleRelease and leaves the pool untouched.
func (p *Pool) Release(f *Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f == nil || f.pool != p {
		atomic.AddUint64(&p.doubleReleases, 1)
		return ErrDoubleRelease
	}
	s := &p.slots[f.slot]
	if s.state != slotAcquired || s.gen != f.gen {
		atomic.AddUint64(&p.doubleReleases, 1)
		return fmt.Errorf("%w: slot=%d number=%d", ErrDoubleRelease, f.slot, f.Number)
	}

	s.state = slotFree
	s.gen++
	f.pool = nil
	p.free = append(p.free, f.slot)
	atomic.AddUint64(&p.released, 1)
	return nil
}

// Close rejects further Dequeue calls. Ready and acquired frames can still
// be drained and released.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Stats returns a snapshot of pool occupancy and counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	var filling, acquired int
	for i := range p.slots {
		switch p.slots[i].state {
		case slotFilling:
			filling++
		case slotAcquired:
			acquired++
		}
	}
	st := Stats{
		Capacity:    p.capacity,
		Free:        len(p.free),
		Ready:       len(p.ready),
		Filling:     filling,
		Outstanding: acquired,
	}
	p.mu.Unlock()

	st.Dequeued = atomic.LoadUint64(&p.dequeued)
	st.Queued = atomic.LoadUint64(&p.queued)
	st.Acquired = atomic.LoadUint64(&p.acquired)
	st.EmptyPolls = atomic.LoadUint64(&p.emptyPolls)
	st.Released = atomic.LoadUint64(&p.released)
	st.Exhausted = atomic.LoadUint64(&p.exhausted)
	st.DoubleReleases = atomic.LoadUint64(&p.doubleReleases)
	return st
}
