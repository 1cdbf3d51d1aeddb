package gstcam

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/galoko/PeopleWatcher/internal/framepool"
	"github.com/galoko/PeopleWatcher/internal/hal"
)

var (
	// ErrUnsupported is returned on platforms without V4L2.
	ErrUnsupported = errors.New("gstcam: v4l2 capture is only available on linux")
	// ErrRequestActive is returned when a repeating request is submitted
	// while another one is active.
	ErrRequestActive = errors.New("gstcam: repeating request already active")
	// ErrUnknownDevice is returned by Open for a path not in the device list.
	ErrUnknownDevice = errors.New("gstcam: unknown device")
	// ErrClosed is returned by operations on a closed device or session.
	ErrClosed = errors.New("gstcam: closed")
	// ErrNoAWBControl is returned when a request turns white balance off
	// on a node without the auto white balance control.
	ErrNoAWBControl = errors.New("gstcam: device has no auto white balance control")
)

// Device error codes passed to DeviceCallbacks.OnError.
const (
	ErrorCameraInUse  = 1
	ErrorCameraDevice = 4
)

// DeviceSpec is one configured V4L2 device. V4L2 has no notion of lens
// facing, so it comes from configuration.
type DeviceSpec struct {
	Path   string
	Name   string
	Facing hal.Facing
}

// Options configures the camera.
type Options struct {
	Devices []DeviceSpec
	Width   int
	Height  int
	FPS     int
	// SettleFrames is the number of frames reported as searching before
	// white balance is reported converged. V4L2 exposes no AWB state.
	SettleFrames uint64
	Logger       *slog.Logger
}

func (o *Options) normalize() error {
	if len(o.Devices) == 0 {
		return fmt.Errorf("gstcam: no devices configured")
	}
	if o.Width <= 0 || o.Height <= 0 || o.Width%2 != 0 || o.Height%2 != 0 {
		return fmt.Errorf("gstcam: invalid frame size %dx%d", o.Width, o.Height)
	}
	if o.FPS <= 0 {
		return fmt.Errorf("gstcam: invalid fps %d", o.FPS)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

func (o *Options) spec(path string) (DeviceSpec, bool) {
	for _, d := range o.Devices {
		if d.Path == path {
			return d, true
		}
	}
	return DeviceSpec{}, false
}

// buildCaps returns the appsink caps for I420 frames.
func buildCaps(width, height, fps int) string {
	return fmt.Sprintf("video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1", width, height, fps)
}

// failure is how a pipeline error is reported to the capture core.
type failure int

const (
	failureCapture failure = iota
	failureDeviceLost
)

func (f failure) String() string {
	if f == failureDeviceLost {
		return "device_lost"
	}
	return "capture_failed"
}

var deviceLostKeywords = []string{
	"no such device",
	"could not read from resource",
	"failed to open",
	"device is gone",
	"disconnected",
	"resource busy",
	"enodev",
}

// classifyBusError decides whether a GStreamer error means the device went
// away or only the capture broke.
func classifyBusError(msg, debug string) failure {
	combined := strings.ToLower(msg + " " + debug)
	for _, kw := range deviceLostKeywords {
		if strings.Contains(combined, kw) {
			return failureDeviceLost
		}
	}
	return failureCapture
}

// awbStateFor reports the white balance state of the n-th frame (1-based)
// produced under a request. V4L2 only tells whether auto white balance is
// on, so convergence is assumed after settle frames.
func awbStateFor(mode hal.AWBMode, n, settle uint64) hal.AWBState {
	if mode == hal.AWBModeOff {
		return hal.AWBStateInactive
	}
	if n > settle {
		return hal.AWBStateConverged
	}
	return hal.AWBStateSearching
}

// awbControl switches a node's auto white balance control.
type awbControl interface {
	SetAutoWhiteBalance(on bool) error
}

// applyAWBMode puts the node in the white balance mode of a request. A nil
// ctrl is a node without the control: it always runs auto and is left
// untouched unless the request needs it off.
func applyAWBMode(ctrl awbControl, mode hal.AWBMode) error {
	if ctrl == nil {
		if mode == hal.AWBModeOff {
			return ErrNoAWBControl
		}
		return nil
	}
	return ctrl.SetAutoWhiteBalance(mode != hal.AWBModeOff)
}

// sampleTimestamp returns the capture time of a sample in the pipeline
// clock. Samples without a presentation timestamp have none.
func sampleTimestamp(pts int64) (int64, bool) {
	if pts < 0 {
		return 0, false
	}
	return pts, true
}

// frameSize is one enumerated capture size of a pixel format.
type frameSize struct {
	format        string
	width, height int
}

// streamConfigs turns enumerated sizes into the stream configuration list.
// Duplicates are dropped and the list is ordered largest first. An empty
// input yields nil: the device has no usable configuration map.
func streamConfigs(sizes []frameSize, fps int) []hal.StreamConfig {
	seen := make(map[frameSize]bool)
	var out []hal.StreamConfig
	for _, s := range sizes {
		if s.width <= 0 || s.height <= 0 || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, hal.StreamConfig{Format: s.format, Width: s.width, Height: s.height, FPS: fps})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Width*out[i].Height > out[j].Width*out[j].Height
	})
	return out
}

// awbModes lists the modes a device can honour. Without the auto white
// balance control the device can neither lock nor leave auto. Preset modes
// are requested as plain auto white balance.
func awbModes(hasAutoWBControl bool) []hal.AWBMode {
	if !hasAutoWBControl {
		return []hal.AWBMode{hal.AWBModeAuto}
	}
	return []hal.AWBMode{hal.AWBModeOff, hal.AWBModeAuto}
}

// fourccString renders a V4L2 pixel format code.
func fourccString(code uint32) string {
	b := []byte{byte(code), byte(code >> 8), byte(code >> 16), byte(code >> 24)}
	return strings.TrimRight(string(b), " \x00")
}

// fillI420 copies a packed GStreamer I420 frame into buf. GStreamer's
// default I420 strides and plane offsets match framepool.I420.
func fillI420(buf *framepool.Buffer, g framepool.Geometry, data []byte) error {
	if len(data) < g.FrameSize() {
		return fmt.Errorf("gstcam: short frame: %d bytes, want %d", len(data), g.FrameSize())
	}
	buf.Resize(g)
	y, u := g.SizeY(), g.SizeU()
	copy(buf.Y.Data, data[:y])
	copy(buf.U.Data, data[y:y+u])
	copy(buf.V.Data, data[y+u:y+u+g.SizeV()])
	return nil
}
