package capture

import (
	"log/slog"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/galoko/PeopleWatcher/internal/engine"
	"github.com/galoko/PeopleWatcher/internal/framepool"
)

// FrameSource is the consumer side of the frame pool.
type FrameSource interface {
	AcquireNext() (*framepool.Frame, bool)
	Release(f *framepool.Frame) error
}

// FrameSink receives forwarded frames.
type FrameSink interface {
	SendFrame(f engine.Frame) error
}

// Dispatcher drains the pool on every delivery and forwards each frame to
// the engine.
type Dispatcher struct {
	src    FrameSource
	sink   FrameSink
	logger *slog.Logger

	forwarded uint64
	discarded uint64
	batches   uint64
	maxBatch  uint64
}

// NewDispatcher creates a dispatcher reading from src and writing to sink.
func NewDispatcher(src FrameSource, sink FrameSink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{src: src, sink: sink, logger: logger}
}

// Drain acquires frames until the pool reports empty.
//
// With forward set, onFrame is called and the frame is sent to the sink
// before it is released. Without it frames are released unsent. Every
// acquired frame is released exactly once whatever happens. After the
// first forward failure the rest of the batch is released unsent and the
// failure is returned.
func (d *Dispatcher) Drain(forward bool, onFrame func(f *framepool.Frame)) (int, error) {
	var fwdErr, relErr error
	n := 0

	for {
		f, ok := d.src.AcquireNext()
		if !ok {
			break
		}
		n++

		if forward && fwdErr == nil {
			if onFrame != nil {
				onFrame(f)
			}
			if err := d.sink.SendFrame(toEngineFrame(f)); err != nil {
				fwdErr = newRunError(KindEngineForwardFailed, "send frame", err)
				d.logger.Error("capture: engine rejected frame",
					"frame", f.Number,
					"timestamp", f.Timestamp,
					"error", err,
				)
			} else {
				atomic.AddUint64(&d.forwarded, 1)
			}
		} else {
			atomic.AddUint64(&d.discarded, 1)
		}

		if err := d.src.Release(f); err != nil {
			relErr = multierr.Append(relErr, err)
		}
	}

	if n > 0 {
		atomic.AddUint64(&d.batches, 1)
		for {
			cur := atomic.LoadUint64(&d.maxBatch)
			if uint64(n) <= cur || atomic.CompareAndSwapUint64(&d.maxBatch, cur, uint64(n)) {
				break
			}
		}
	}

	if fwdErr != nil {
		return n, fwdErr
	}
	if relErr != nil {
		return n, newRunError(KindBufferLost, "release", relErr)
	}
	return n, nil
}

func toEngineFrame(f *framepool.Frame) engine.Frame {
	return engine.Frame{
		Y:         f.Y.Data,
		U:         f.U.Data,
		V:         f.V.Data,
		StrideY:   f.Y.Stride,
		StrideU:   f.U.Stride,
		StrideV:   f.V.Stride,
		Timestamp: f.Timestamp,
	}
}

// DispatchStats is a snapshot of dispatcher counters.
type DispatchStats struct {
	Forwarded uint64 `json:"forwarded"`
	Discarded uint64 `json:"discarded"`
	Batches   uint64 `json:"batches"`
	MaxBatch  uint64 `json:"max_batch"`
}

// Stats returns current counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Forwarded: atomic.LoadUint64(&d.forwarded),
		Discarded: atomic.LoadUint64(&d.discarded),
		Batches:   atomic.LoadUint64(&d.batches),
		MaxBatch:  atomic.LoadUint64(&d.maxBatch),
	}
}
