package simcam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/galoko/PeopleWatcher/internal/framepool"
	"github.com/galoko/PeopleWatcher/internal/hal"
)

var (
	// ErrRequestActive is returned when a repeating request is submitted
	// while another is active on the session.
	ErrRequestActive = errors.New("simcam: repeating request already active")
	// ErrNotRepeating is returned by Produce when no request is active.
	ErrNotRepeating = errors.New("simcam: no repeating request")
	// ErrUnknownDevice is returned by Open for an ID not in the script.
	ErrUnknownDevice = errors.New("simcam: unknown device")
	// ErrClosed is returned for operations on a closed device or session.
	ErrClosed = errors.New("simcam: closed")
)

// Script describes the simulated hardware.
type Script struct {
	Devices []hal.DeviceInfo

	// OpenErrors maps device IDs to an error code delivered instead of
	// OnOpened.
	OpenErrors map[string]int
	// ConfigureFailure, when set, is delivered as OnConfigureFailed.
	ConfigureFailure string
	// HoldOpen withholds the open callback until DeliverOpen is called.
	HoldOpen bool

	Width, Height int
	// FrameInterval is the spacing of hardware timestamps.
	FrameInterval time.Duration
	// BaseTimestamp is the hardware timestamp of frame 0.
	BaseTimestamp int64

	// ConvergeAt is the first frame number whose result reports AWB
	// converged under an automatic request. Zero means never.
	ConvergeAt uint64
	// NoColor suppresses color correction state in results.
	NoColor bool
}

// DefaultScript is one rear camera at 640x480, 20 fps, converging after
// two seconds.
func DefaultScript() Script {
	return Script{
		Devices: []hal.DeviceInfo{{
			ID:     "sim0",
			Name:   "simulated rear camera",
			Facing: hal.FacingBack,
			StreamConfigs: []hal.StreamConfig{
				{Format: "I420", Width: 640, Height: 480, FPS: 20},
			},
			AWBModes: []hal.AWBMode{hal.AWBModeOff, hal.AWBModeAuto, hal.AWBModeCloudyDaylight},
		}},
		Width:         640,
		Height:        480,
		FrameInterval: 50 * time.Millisecond,
		BaseTimestamp: 1_000_000_000,
		ConvergeAt:    40,
	}
}

// Submission is one repeating request accepted by the session.
type Submission struct {
	Descriptor hal.Descriptor
	AtFrame    uint64 // frames produced before it was submitted
}

// FrameLog records which request produced a frame.
type FrameLog struct {
	Number    uint64
	Variant   hal.Variant
	Timestamp int64
}

type request struct {
	desc hal.Descriptor
	cb   hal.CaptureCallbacks
}

// Camera is a deterministic in-process hal.Camera. Callbacks are invoked
// synchronously from the calling goroutine.
type Camera struct {
	script Script
	geom   framepool.Geometry

	mu          sync.Mutex
	device      *device
	session     *session
	active      *request
	frameNumber uint64
	submissions []Submission
	frames      []FrameLog
	stops       int
	opens       []string
}

// New creates a camera from script, filling unset geometry and timing.
func New(script Script) *Camera {
	if script.Width <= 0 || script.Height <= 0 {
		script.Width, script.Height = 640, 480
	}
	if script.FrameInterval <= 0 {
		script.FrameInterval = 50 * time.Millisecond
	}
	return &Camera{
		script: script,
		geom:   framepool.I420(script.Width, script.Height),
	}
}

// Devices implements hal.Camera.
func (c *Camera) Devices(ctx context.Context) ([]hal.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]hal.DeviceInfo, len(c.script.Devices))
	copy(out, c.script.Devices)
	return out, nil
}

// Open implements hal.Camera.
func (c *Camera) Open(id string, cb hal.DeviceCallbacks) error {
	found := false
	for _, d := range c.script.Devices {
		if d.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	dev := &device{cam: c, id: id, cb: cb}
	c.mu.Lock()
	c.opens = append(c.opens, id)
	c.device = dev
	c.mu.Unlock()

	if code, ok := c.script.OpenErrors[id]; ok {
		cb.OnError(dev, code)
		return nil
	}
	if c.script.HoldOpen {
		return nil
	}
	cb.OnOpened(dev)
	return nil
}

// DeliverOpen delivers a withheld open callback.
func (c *Camera) DeliverOpen() {
	c.mu.Lock()
	dev := c.device
	c.mu.Unlock()

	if dev != nil {
		dev.cb.OnOpened(dev)
	}
}

// Produce fills n frames, one completion per frame.
func (c *Camera) Produce(n int) error {
	for i := 0; i < n; i++ {
		if err := c.produce(1); err != nil {
			return err
		}
	}
	return nil
}

// ProduceBatch queues n frames into the pool before delivering any
// completion, the way hardware coalesces deliveries.
func (c *Camera) ProduceBatch(n int) error {
	return c.produce(n)
}

func (c *Camera) produce(n int) error {
	c.mu.Lock()
	if c.active == nil || c.session == nil {
		c.mu.Unlock()
		return ErrNotRepeating
	}
	req := *c.active
	pool := c.session.pool

	type delivery struct {
		res  hal.CaptureResult
		lost error
	}
	deliveries := make([]delivery, 0, n)

	for i := 0; i < n; i++ {
		c.frameNumber++
		num := c.frameNumber
		ts := c.script.BaseTimestamp + int64(num)*int64(c.script.FrameInterval)

		buf, err := pool.Dequeue()
		if err != nil {
			deliveries = append(deliveries, delivery{res: hal.CaptureResult{FrameNumber: num}, lost: err})
			continue
		}
		buf.Resize(c.geom)
		paint(buf, num)
		buf.Timestamp = ts
		buf.Number = num
		if err := pool.Queue(buf); err != nil {
			deliveries = append(deliveries, delivery{res: hal.CaptureResult{FrameNumber: num}, lost: err})
			continue
		}

		c.frames = append(c.frames, FrameLog{Number: num, Variant: req.desc.Variant(), Timestamp: ts})
		deliveries = append(deliveries, delivery{res: c.resultFor(req.desc, num, ts)})
	}
	c.mu.Unlock()

	for _, d := range deliveries {
		if d.lost != nil {
			req.cb.OnBufferLost(d.res.FrameNumber, d.lost)
			continue
		}
		req.cb.OnCaptureCompleted(d.res)
	}
	return nil
}

func (c *Camera) resultFor(d hal.Descriptor, num uint64, ts int64) hal.CaptureResult {
	res := hal.CaptureResult{
		FrameNumber: num,
		Timestamp:   ts,
		Variant:     d.Variant(),
		AWBMode:     d.AWBMode(),
	}

	if d.Variant() == hal.VariantLocked {
		res.AWBState = hal.AWBStateInactive
		if cc, ok := d.Color(); ok {
			res.Color = &cc
		}
		return res
	}

	res.AWBState = hal.AWBStateSearching
	if c.script.ConvergeAt > 0 && num >= c.script.ConvergeAt {
		res.AWBState = hal.AWBStateConverged
	}
	if !c.script.NoColor {
		cc := ColorFor(num)
		res.Color = &cc
	}
	return res
}

// ColorFor returns the color state the simulated sensor reports for
// frame num under automatic white balance.
func ColorFor(num uint64) hal.ColorCorrection {
	drift := float32(num%100) / 1000
	unit := hal.Rational{Num: 128, Den: 128}
	zero := hal.Rational{Num: 0, Den: 128}
	return hal.ColorCorrection{
		Gains: [4]float32{1.8 + drift, 1.0, 1.0, 1.5 - drift},
		Transform: [9]hal.Rational{
			unit, zero, zero,
			zero, unit, zero,
			zero, zero, {Num: 128 + int32(num%7), Den: 128},
		},
		AberrationMode: hal.AberrationFast,
	}
}

func paint(buf *framepool.Buffer, num uint64) {
	for i := range buf.Y.Data {
		buf.Y.Data[i] = byte(uint64(i) + num)
	}
	for i := range buf.U.Data {
		buf.U.Data[i] = 128
		buf.V.Data[i] = 128
	}
}

// FailCapture delivers a capture failure for the next frame number.
func (c *Camera) FailCapture(reason string) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return ErrNotRepeating
	}
	cb := c.active.cb
	c.frameNumber++
	num := c.frameNumber
	c.mu.Unlock()

	cb.OnCaptureFailed(hal.CaptureFailure{FrameNumber: num, Reason: reason})
	return nil
}

// LoseBuffer reports a lost buffer for the next frame number.
func (c *Camera) LoseBuffer() error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return ErrNotRepeating
	}
	cb := c.active.cb
	c.frameNumber++
	num := c.frameNumber
	c.mu.Unlock()

	cb.OnBufferLost(num, errors.New("simcam: buffer lost"))
	return nil
}

// Disconnect reports the open device as disconnected.
func (c *Camera) Disconnect() {
	c.mu.Lock()
	dev := c.device
	c.active = nil
	c.mu.Unlock()

	if dev != nil {
		dev.cb.OnDisconnected(dev)
	}
}

// Submissions returns every repeating request accepted so far.
func (c *Camera) Submissions() []Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Submission(nil), c.submissions...)
}

// Frames returns the log of produced frames.
func (c *Camera) Frames() []FrameLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]FrameLog(nil), c.frames...)
}

// Opens returns the device IDs passed to Open.
func (c *Camera) Opens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.opens...)
}

// Stops returns how many times StopRepeating stopped an active request.
func (c *Camera) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

// Repeating reports whether a request is active.
func (c *Camera) Repeating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Closed reports whether the device and session were closed.
func (c *Camera) Closed() (device, session bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		device = c.device.closed
	}
	if c.session != nil {
		session = c.session.closed
	}
	return device, session
}

// Pace produces one frame per interval of clk until ctx ends or the
// request stops. Frames are produced only while a request is active.
func (c *Camera) Pace(ctx context.Context, clk clock.Clock) {
	if clk == nil {
		clk = clock.New()
	}
	t := clk.Ticker(c.script.FrameInterval)
	defer t.Stop()

	slog.Info("simcam: pacing frames", "interval", c.script.FrameInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.produce(1); err != nil && !errors.Is(err, ErrNotRepeating) {
				slog.Warn("simcam: produce failed", "error", err)
			}
		}
	}
}

type device struct {
	cam    *Camera
	id     string
	cb     hal.DeviceCallbacks
	closed bool
}

func (d *device) ID() string { return d.id }

func (d *device) CreateCaptureSession(target *framepool.Pool, cb hal.SessionCallbacks) error {
	c := d.cam
	c.mu.Lock()
	if d.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	s := &session{cam: c, pool: target}
	c.session = s
	c.mu.Unlock()

	if reason := c.script.ConfigureFailure; reason != "" {
		cb.OnConfigureFailed(s, reason)
		return nil
	}
	cb.OnConfigured(s)
	return nil
}

func (d *device) Close() error {
	d.cam.mu.Lock()
	defer d.cam.mu.Unlock()
	d.closed = true
	d.cam.active = nil
	return nil
}

type session struct {
	cam    *Camera
	pool   *framepool.Pool
	closed bool
}

func (s *session) SetRepeatingRequest(d hal.Descriptor, cb hal.CaptureCallbacks) error {
	c := s.cam
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if c.active != nil {
		return ErrRequestActive
	}
	c.active = &request{desc: d, cb: cb}
	c.submissions = append(c.submissions, Submission{Descriptor: d, AtFrame: c.frameNumber})
	return nil
}

func (s *session) StopRepeating() error {
	c := s.cam
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.active = nil
		c.stops++
	}
	return nil
}

func (s *session) Close() error {
	c := s.cam
	c.mu.Lock()
	defer c.mu.Unlock()
	s.closed = true
	c.active = nil
	return nil
}
