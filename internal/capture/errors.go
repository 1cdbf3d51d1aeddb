package capture

import (
	"errors"
	"fmt"
)

// Kind classifies a run failure.
type Kind int

const (
	// KindDeviceUnavailable: no qualifying device, or the open was refused.
	KindDeviceUnavailable Kind = iota
	// KindDeviceLost: the open device disconnected or reported an error.
	KindDeviceLost
	// KindSessionConfigureFailed: the capture session could not be configured.
	KindSessionConfigureFailed
	// KindCaptureFailed: the hardware reported a failed capture or rejected a request.
	KindCaptureFailed
	// KindBufferLost: a frame buffer was lost or could not be obtained.
	KindBufferLost
	// KindEngineForwardFailed: the engine rejected a frame.
	KindEngineForwardFailed
	// KindEngineFailed: the engine rejected a lifecycle call.
	KindEngineFailed
	// KindEngineFinalizeTimeout: the engine did not acknowledge finalize in time.
	KindEngineFinalizeTimeout
	// KindInternal: a transition the machine does not allow was attempted.
	KindInternal
)

// String returns the kind name used in logs and status payloads.
func (k Kind) String() string {
	switch k {
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindDeviceLost:
		return "device_lost"
	case KindSessionConfigureFailed:
		return "session_configure_failed"
	case KindCaptureFailed:
		return "capture_failed"
	case KindBufferLost:
		return "buffer_lost"
	case KindEngineForwardFailed:
		return "engine_forward_failed"
	case KindEngineFailed:
		return "engine_failed"
	case KindEngineFinalizeTimeout:
		return "engine_finalize_timeout"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Fatal reports whether a failure of this kind aborts the run.
func (k Kind) Fatal() bool {
	return k != KindEngineFinalizeTimeout
}

// RunError is the error type produced by the capture core.
type RunError struct {
	Kind Kind
	Op   string
	Err  error
}

func newRunError(kind Kind, op string, err error) *RunError {
	return &RunError{Kind: kind, Op: op, Err: err}
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capture: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("capture: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Is matches another *RunError of the same kind, so callers can test with
// errors.Is(err, &RunError{Kind: KindDeviceLost}).
func (e *RunError) Is(target error) bool {
	t, ok := target.(*RunError)
	return ok && t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf extracts the kind of a capture error.
func KindOf(err error) (Kind, bool) {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

// IsFatal reports whether err aborts a run. Errors that did not come from
// the capture core are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if k, ok := KindOf(err); ok {
		return k.Fatal()
	}
	return true
}

var (
	// ErrNoQualifyingDevice is wrapped by DeviceUnavailable errors when
	// enumeration found no rear device with a stream configuration map.
	ErrNoQualifyingDevice = errors.New("capture: no qualifying camera device")

	// ErrRequestActive is returned when a repeating request is submitted
	// while another one is still active on the session.
	ErrRequestActive = errors.New("capture: repeating request already active")

	// ErrNoSession is returned for request operations without a session.
	ErrNoSession = errors.New("capture: no capture session")
)
