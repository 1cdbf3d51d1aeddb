package hal

import (
	"context"

	"github.com/galoko/PeopleWatcher/internal/framepool"
)

// Camera is a hardware capture source. Every method returns promptly;
// outcomes arrive through the callbacks, possibly on another goroutine.
type Camera interface {
	// Devices enumerates the devices currently present.
	Devices(ctx context.Context) ([]DeviceInfo, error)

	// Open starts opening the device with the given ID. Exactly one of
	// the callbacks fires for the open attempt; OnDisconnected and
	// OnError may fire again later while the device is open.
	Open(id string, cb DeviceCallbacks) error
}

// Device is an open camera handle.
type Device interface {
	ID() string

	// CreateCaptureSession binds target as the output surface. Exactly
	// one of the session callbacks fires.
	CreateCaptureSession(target *framepool.Pool, cb SessionCallbacks) error

	Close() error
}

// Session is a configured capture session. At most one repeating request
// may be active; SetRepeatingRequest fails if one already is.
type Session interface {
	SetRepeatingRequest(d Descriptor, cb CaptureCallbacks) error
	StopRepeating() error
	Close() error
}

// DeviceCallbacks receive device open and loss notifications.
type DeviceCallbacks struct {
	OnOpened       func(dev Device)
	OnDisconnected func(dev Device)
	OnError        func(dev Device, code int)
}

// SessionCallbacks receive the session configuration outcome.
type SessionCallbacks struct {
	OnConfigured      func(s Session)
	OnConfigureFailed func(s Session, reason string)
}

// CaptureCallbacks receive per-frame outcomes of a repeating request.
// OnCaptureCompleted fires after the frame was queued into the target pool.
type CaptureCallbacks struct {
	OnCaptureCompleted func(res CaptureResult)
	OnCaptureFailed    func(f CaptureFailure)
	OnBufferLost       func(frameNumber uint64, err error)
}
