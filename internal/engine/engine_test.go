package engine

import (
	"context"
	"errors"
	"testing"
)

type nopEngine struct{ calls []string }

func (n *nopEngine) record(call string) error {
	n.calls = append(n.calls, call)
	return nil
}

func (n *nopEngine) Initialize(string) error {
	return n.record("init")
}

func (n *nopEngine) StartRecording() error {
	return n.record("start")
}

func (n *nopEngine) SendFrame(Frame) error {
	return n.record("frame")
}

func (n *nopEngine) StopRecording() error {
	return n.record("stop")
}

func (n *nopEngine) Finalize(context.Context) error {
	return n.record("finalize")
}

func TestSequencer_Order(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		steps   func(s *Sequencer) error
		wantErr bool
	}{
		{
			name: "full sequence",
			steps: func(s *Sequencer) error {
				if err := s.Initialize("/tmp"); err != nil {
					return err
				}
				if err := s.StartRecording(); err != nil {
					return err
				}
				for i := 0; i < 3; i++ {
					if err := s.SendFrame(Frame{}); err != nil {
						return err
					}
				}
				if err := s.StopRecording(); err != nil {
					return err
				}
				return s.Finalize(ctx)
			},
		},
		{
			name: "finalize without recording",
			steps: func(s *Sequencer) error {
				s.Initialize("/tmp")
				return s.Finalize(ctx)
			},
		},
		{
			name: "frame before start",
			steps: func(s *Sequencer) error {
				s.Initialize("/tmp")
				return s.SendFrame(Frame{})
			},
			wantErr: true,
		},
		{
			name: "frame after stop",
			steps: func(s *Sequencer) error {
				s.Initialize("/tmp")
				s.StartRecording()
				s.StopRecording()
				return s.SendFrame(Frame{})
			},
			wantErr: true,
		},
		{
			name: "finalize while recording",
			steps: func(s *Sequencer) error {
				s.Initialize("/tmp")
				s.StartRecording()
				return s.Finalize(ctx)
			},
			wantErr: true,
		},
		{
			name: "double initialize",
			steps: func(s *Sequencer) error {
				s.Initialize("/tmp")
				return s.Initialize("/tmp")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Sequenced(&nopEngine{})
			err := tt.steps(s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrOutOfOrder) {
				t.Errorf("error = %v, want ErrOutOfOrder", err)
			}
		})
	}
}

func TestSequencer_RejectedCallsNeverReachEngine(t *testing.T) {
	inner := &nopEngine{}
	s := Sequenced(inner)

	s.SendFrame(Frame{})
	s.Initialize("/tmp")
	s.StopRecording()

	if len(inner.calls) != 1 || inner.calls[0] != "init" {
		t.Errorf("inner calls = %v, want [init]", inner.calls)
	}
	if s.Phase() != PhaseInitialized {
		t.Errorf("Phase() = %s", s.Phase())
	}
}
