package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Frame is one planar frame forwarded to an engine. Plane slices are only
// valid for the duration of SendFrame.
type Frame struct {
	Y, U, V                   []byte
	StrideY, StrideU, StrideV int
	Timestamp                 int64 // hardware timestamp, nanoseconds
}

// Engine is the external recording consumer. Calls arrive in the order
// Initialize, StartRecording, SendFrame*, StopRecording, Finalize.
type Engine interface {
	Initialize(storageRoot string) error
	StartRecording() error
	SendFrame(f Frame) error
	StopRecording() error
	// Finalize drains in-flight work. It returns ctx.Err() if ctx ends
	// first.
	Finalize(ctx context.Context) error
}

// ErrOutOfOrder is returned by Sequenced when a call violates the engine
// call order.
var ErrOutOfOrder = errors.New("engine: call out of order")

// Phase is the position of an engine in its call sequence.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseInitialized
	PhaseRecording
	PhaseStopped
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseInitialized:
		return "initialized"
	case PhaseRecording:
		return "recording"
	case PhaseStopped:
		return "stopped"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Sequencer wraps an Engine and rejects calls that break the call order
// before they reach it.
type Sequencer struct {
	mu    sync.Mutex
	inner Engine
	phase Phase
}

// Sequenced wraps e.
func Sequenced(e Engine) *Sequencer {
	return &Sequencer{inner: e}
}

// Phase returns the current phase.
func (s *Sequencer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Sequencer) advance(op string, from []Phase, to Phase, call func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := false
	for _, p := range from {
		if s.phase == p {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s in phase %s", ErrOutOfOrder, op, s.phase)
	}
	if err := call(); err != nil {
		return err
	}
	s.phase = to
	return nil
}

func (s *Sequencer) Initialize(storageRoot string) error {
	return s.advance("initialize", []Phase{PhaseNew}, PhaseInitialized, func() error {
		return s.inner.Initialize(storageRoot)
	})
}

func (s *Sequencer) StartRecording() error {
	return s.advance("start recording", []Phase{PhaseInitialized}, PhaseRecording, s.inner.StartRecording)
}

func (s *Sequencer) SendFrame(f Frame) error {
	return s.advance("send frame", []Phase{PhaseRecording}, PhaseRecording, func() error {
		return s.inner.SendFrame(f)
	})
}

func (s *Sequencer) StopRecording() error {
	return s.advance("stop recording", []Phase{PhaseRecording}, PhaseStopped, s.inner.StopRecording)
}

// Finalize is accepted after StopRecording, and also straight after
// Initialize for runs that never started recording. The phase moves to
// finalized even when the inner call fails or times out.
func (s *Sequencer) Finalize(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseStopped && s.phase != PhaseInitialized {
		phase := s.phase
		s.mu.Unlock()
		return fmt.Errorf("%w: finalize in phase %s", ErrOutOfOrder, phase)
	}
	s.phase = PhaseFinalized
	s.mu.Unlock()

	// Not held across the call: Finalize may block until ctx ends.
	return s.inner.Finalize(ctx)
}
