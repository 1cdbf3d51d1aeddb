//go:build linux && cgo

package gstcam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"github.com/vladimirvivien/go4vl/device"

	"github.com/galoko/PeopleWatcher/internal/framepool"
	"github.com/galoko/PeopleWatcher/internal/hal"
)

// Camera is a hal.Camera over V4L2 nodes. Controls go through go4vl; frames
// come from a GStreamer v4l2src pipeline.
type Camera struct {
	opts   Options
	logger *slog.Logger
	geom   framepool.Geometry

	mu   sync.Mutex
	open map[string]*camDevice
}

var _ hal.Camera = (*Camera)(nil)

// New validates opts and initializes GStreamer.
func New(opts Options) (*Camera, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	gst.Init(nil)
	return &Camera{
		opts:   opts,
		logger: opts.Logger,
		geom:   framepool.I420(opts.Width, opts.Height),
		open:   make(map[string]*camDevice),
	}, nil
}

// Devices probes every configured node. Nodes that cannot be opened are
// left out.
func (c *Camera) Devices(ctx context.Context) ([]hal.DeviceInfo, error) {
	var out []hal.DeviceInfo
	for _, spec := range c.opts.Devices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := probe(spec, c.opts.FPS)
		if err != nil {
			c.logger.Warn("gstcam: device not available", "device", spec.Path, "error", err)
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Open opens the node on a separate goroutine and reports through cb.
func (c *Camera) Open(id string, cb hal.DeviceCallbacks) error {
	spec, ok := c.opts.spec(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	c.mu.Lock()
	busy := c.open[id] != nil
	c.mu.Unlock()
	if busy {
		go cb.OnError(nil, ErrorCameraInUse)
		return nil
	}

	go func() {
		v4l, err := device.Open(spec.Path)
		if err != nil {
			code := ErrorCameraDevice
			if errors.Is(err, syscall.EBUSY) {
				code = ErrorCameraInUse
			}
			c.logger.Error("gstcam: open failed", "device", spec.Path, "error", err)
			cb.OnError(nil, code)
			return
		}

		d := &camDevice{cam: c, spec: spec, v4l: v4l, awb: awbControlOf(v4l), cb: cb}
		c.mu.Lock()
		if c.open[id] != nil {
			c.mu.Unlock()
			v4l.Close()
			cb.OnError(nil, ErrorCameraInUse)
			return
		}
		c.open[id] = d
		c.mu.Unlock()

		c.logger.Info("gstcam: device opened", "device", spec.Path)
		cb.OnOpened(d)
	}()
	return nil
}

func (c *Camera) forget(d *camDevice) {
	c.mu.Lock()
	if c.open[d.spec.Path] == d {
		delete(c.open, d.spec.Path)
	}
	c.mu.Unlock()
}

type camDevice struct {
	cam  *Camera
	spec DeviceSpec
	v4l  *device.Device
	awb  awbControl
	cb   hal.DeviceCallbacks

	mu      sync.Mutex
	session *camSession
	closed  bool
	lost    bool
}

func (d *camDevice) ID() string { return d.spec.Path }

// CreateCaptureSession builds the pipeline and brings it to READY, which
// opens the node for streaming.
func (d *camDevice) CreateCaptureSession(target *framepool.Pool, cb hal.SessionCallbacks) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	prev := d.session
	d.session = nil
	d.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	go func() {
		opts := d.cam.opts
		elements, err := createPipeline(d.spec.Path, opts.Width, opts.Height, opts.FPS)
		if err != nil {
			cb.OnConfigureFailed(nil, err.Error())
			return
		}
		s := &camSession{dev: d, elements: elements, target: target, geom: d.cam.geom, logger: d.cam.logger}
		elements.AppSink.SetCallbacks(&app.SinkCallbacks{
			NewSampleFunc: s.onSample,
		})
		if err := elements.Pipeline.SetState(gst.StateReady); err != nil {
			destroyPipeline(elements)
			cb.OnConfigureFailed(nil, fmt.Sprintf("pipeline ready: %v", err))
			return
		}

		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			destroyPipeline(elements)
			return
		}
		d.session = s
		d.mu.Unlock()

		d.cam.logger.Info("gstcam: session configured", "device", d.spec.Path, "caps", buildCaps(opts.Width, opts.Height, opts.FPS))
		cb.OnConfigured(s)
	}()
	return nil
}

// Close releases the session and the node. It is idempotent.
func (d *camDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	s := d.session
	d.session = nil
	d.mu.Unlock()

	var err error
	if s != nil {
		err = s.Close()
	}
	if cerr := d.v4l.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("gstcam: close %s: %w", d.spec.Path, cerr)
	}
	d.cam.forget(d)
	return err
}

// disconnected reports device loss once.
func (d *camDevice) disconnected() {
	d.mu.Lock()
	if d.closed || d.lost {
		d.mu.Unlock()
		return
	}
	d.lost = true
	d.mu.Unlock()
	if d.cb.OnDisconnected != nil {
		d.cb.OnDisconnected(d)
	}
}

type request struct {
	desc     hal.Descriptor
	cb       hal.CaptureCallbacks
	produced uint64
}

type camSession struct {
	dev      *camDevice
	elements *pipelineElements
	target   *framepool.Pool
	geom     framepool.Geometry
	logger   *slog.Logger

	mu          sync.Mutex
	active      *request
	frameNumber uint64
	playing     bool
	stopMonitor context.CancelFunc
	closed      bool
}

// SetRepeatingRequest applies the white balance mode of desc and starts
// the pipeline on first use. Preset modes run as auto white balance. A node
// without the white balance control only accepts auto requests.
func (s *camSession) SetRepeatingRequest(desc hal.Descriptor, cb hal.CaptureCallbacks) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.active != nil {
		return ErrRequestActive
	}

	if err := applyAWBMode(s.dev.awb, desc.AWBMode()); err != nil {
		return err
	}
	s.active = &request{desc: desc, cb: cb}

	if !s.playing {
		if err := s.elements.Pipeline.SetState(gst.StatePlaying); err != nil {
			s.active = nil
			return fmt.Errorf("gstcam: start pipeline: %w", err)
		}
		s.playing = true
		ctx, cancel := context.WithCancel(context.Background())
		s.stopMonitor = cancel
		go monitorBus(ctx, s.elements.Pipeline, s.dev.spec.Path, s.logger, s.onBusFailure)
	}

	s.logger.Debug("gstcam: repeating request set", "device", s.dev.spec.Path, "request", desc.String())
	return nil
}

// StopRepeating detaches the active request. The pipeline keeps running;
// samples without a request are dropped.
func (s *camSession) StopRepeating() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.active = nil
	return nil
}

// Close stops the bus monitor and tears the pipeline down. It is
// idempotent.
func (s *camSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.active = nil
	stop := s.stopMonitor
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	return destroyPipeline(s.elements)
}

func (s *camSession) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	s.mu.Lock()
	req := s.active
	if req == nil || s.closed {
		s.mu.Unlock()
		return gst.FlowOK
	}
	s.frameNumber++
	num := s.frameNumber
	req.produced++
	n := req.produced
	s.mu.Unlock()

	ts, ok := sampleTimestamp(int64(buffer.PresentationTimestamp()))
	if !ok {
		req.cb.OnCaptureFailed(hal.CaptureFailure{FrameNumber: num, Reason: "buffer without timestamp"})
		return gst.FlowOK
	}

	buf, err := s.target.Dequeue()
	if err != nil {
		req.cb.OnBufferLost(num, err)
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	err = fillI420(buf, s.geom, mapInfo.Bytes())
	buffer.Unmap()
	if err != nil {
		s.target.Cancel(buf)
		req.cb.OnCaptureFailed(hal.CaptureFailure{FrameNumber: num, Reason: err.Error()})
		return gst.FlowOK
	}
	buf.Timestamp = ts
	buf.Number = num
	if err := s.target.Queue(buf); err != nil {
		req.cb.OnBufferLost(num, err)
		return gst.FlowOK
	}

	mode := req.desc.AWBMode()
	req.cb.OnCaptureCompleted(hal.CaptureResult{
		FrameNumber: num,
		Timestamp:   ts,
		Variant:     req.desc.Variant(),
		AWBMode:     mode,
		AWBState:    awbStateFor(mode, n, s.dev.cam.opts.SettleFrames),
	})
	return gst.FlowOK
}

func (s *camSession) onBusFailure(kind failure, reason string) {
	if kind == failureDeviceLost {
		s.dev.disconnected()
		return
	}

	s.mu.Lock()
	req := s.active
	num := s.frameNumber + 1
	s.mu.Unlock()
	if req == nil {
		s.logger.Warn("gstcam: pipeline failed with no active request", "device", s.dev.spec.Path, "reason", reason)
		return
	}
	req.cb.OnCaptureFailed(hal.CaptureFailure{FrameNumber: num, Reason: reason})
}
