package capture

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/galoko/PeopleWatcher/internal/framepool"
	"github.com/galoko/PeopleWatcher/internal/hal"
)

// Selection is the outcome of the device selection policy.
type Selection struct {
	Device  hal.DeviceInfo
	Index   int
	Skipped []SkippedDevice
}

// SkippedDevice is a device the selection policy passed over.
type SkippedDevice struct {
	ID     string
	Reason string
}

// SelectDevice picks the first device with the wanted facing and a
// stream configuration map. Devices without a configuration map are
// skipped, not treated as errors.
func SelectDevice(devices []hal.DeviceInfo, facing hal.Facing) (Selection, error) {
	var sel Selection
	for i, d := range devices {
		switch {
		case d.Facing != facing:
			sel.Skipped = append(sel.Skipped, SkippedDevice{ID: d.ID, Reason: "facing " + d.Facing.String()})
		case d.StreamConfigs == nil:
			sel.Skipped = append(sel.Skipped, SkippedDevice{ID: d.ID, Reason: "no stream configuration map"})
		default:
			sel.Device = d
			sel.Index = i
			return sel, nil
		}
	}
	return sel, fmt.Errorf("%w: facing=%s enumerated=%d", ErrNoQualifyingDevice, facing, len(devices))
}

// DeviceSession owns the open device handle and its single capture
// session. It is driven from the event loop only.
type DeviceSession struct {
	cam    hal.Camera
	facing hal.Facing
	logger *slog.Logger

	info      hal.DeviceInfo
	dev       hal.Device
	sess      hal.Session
	repeating bool
	lost      bool
}

// NewDeviceSession creates a session bound to cam.
func NewDeviceSession(cam hal.Camera, facing hal.Facing, logger *slog.Logger) *DeviceSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceSession{cam: cam, facing: facing, logger: logger}
}

// Open enumerates devices, applies the selection policy and starts opening
// the selected device. Completion arrives through cb.
func (s *DeviceSession) Open(ctx context.Context, cb hal.DeviceCallbacks) (Selection, error) {
	devices, err := s.cam.Devices(ctx)
	if err != nil {
		return Selection{}, newRunError(KindDeviceUnavailable, "enumerate", err)
	}

	sel, err := SelectDevice(devices, s.facing)
	for _, sk := range sel.Skipped {
		s.logger.Info("capture: skipping device", "device", sk.ID, "reason", sk.Reason)
	}
	if err != nil {
		return sel, newRunError(KindDeviceUnavailable, "select", err)
	}

	s.info = sel.Device
	s.logger.Info("capture: device selected",
		"device", sel.Device.ID,
		"name", sel.Device.Name,
		"index", sel.Index,
		"stream_configs", len(sel.Device.StreamConfigs),
		"manual_white_balance", sel.Device.SupportsAWBMode(hal.AWBModeOff),
	)

	if err := s.cam.Open(sel.Device.ID, cb); err != nil {
		return sel, newRunError(KindDeviceUnavailable, "open", err)
	}
	return sel, nil
}

// Info returns the selected device.
func (s *DeviceSession) Info() hal.DeviceInfo { return s.info }

// Attach stores the handle delivered by the Opened callback.
func (s *DeviceSession) Attach(dev hal.Device) { s.dev = dev }

// Invalidate marks the handle as lost. Close still releases it.
func (s *DeviceSession) Invalidate() {
	s.lost = true
	s.repeating = false
}

// Configure creates the capture session with pool as output surface.
func (s *DeviceSession) Configure(pool *framepool.Pool, cb hal.SessionCallbacks) error {
	if s.dev == nil {
		return newRunError(KindSessionConfigureFailed, "configure", fmt.Errorf("device not open"))
	}
	if err := s.dev.CreateCaptureSession(pool, cb); err != nil {
		return newRunError(KindSessionConfigureFailed, "configure", err)
	}
	return nil
}

// AttachSession stores the session delivered by the Configured callback.
func (s *DeviceSession) AttachSession(sess hal.Session) { s.sess = sess }

// Submit installs d as the repeating request. A request that is still
// active must be stopped first.
func (s *DeviceSession) Submit(d hal.Descriptor, cb hal.CaptureCallbacks) error {
	if s.sess == nil {
		return ErrNoSession
	}
	if s.repeating {
		return ErrRequestActive
	}
	if err := s.sess.SetRepeatingRequest(d, cb); err != nil {
		return err
	}
	s.repeating = true
	s.logger.Info("capture: repeating request submitted", "descriptor", d.String())
	return nil
}

// StopRepeating stops the active repeating request, if any.
func (s *DeviceSession) StopRepeating() error {
	if s.sess == nil || !s.repeating {
		return nil
	}
	s.repeating = false
	return s.sess.StopRepeating()
}

// Repeating reports whether a repeating request is active.
func (s *DeviceSession) Repeating() bool { return s.repeating }

// Close stops any request and releases the session and the device.
func (s *DeviceSession) Close() error {
	var err error
	if !s.lost {
		err = multierr.Append(err, s.StopRepeating())
	}
	if s.sess != nil {
		err = multierr.Append(err, s.sess.Close())
		s.sess = nil
	}
	if s.dev != nil {
		err = multierr.Append(err, s.dev.Close())
		s.dev = nil
	}
	s.repeating = false
	return err
}
