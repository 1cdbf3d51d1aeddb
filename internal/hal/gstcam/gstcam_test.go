package gstcam

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/galoko/PeopleWatcher/internal/framepool"
	"github.com/galoko/PeopleWatcher/internal/hal"
)

func TestClassifyBusError(t *testing.T) {
	tests := []struct {
		name  string
		msg   string
		debug string
		want  failure
	}{
		{"unplugged", "Could not read from resource.", "v4l2src0: poll error", failureDeviceLost},
		{"enodev in debug", "Internal data stream error.", "gstv4l2src.c: error ENODEV", failureDeviceLost},
		{"busy", "Device '/dev/video0' is busy", "Resource busy", failureDeviceLost},
		{"negotiation", "Internal data stream error.", "streaming stopped, reason not-negotiated (-4)", failureCapture},
		{"empty", "", "", failureCapture},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyBusError(tt.msg, tt.debug); got != tt.want {
				t.Errorf("classifyBusError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAWBStateFor(t *testing.T) {
	tests := []struct {
		name   string
		mode   hal.AWBMode
		n      uint64
		settle uint64
		want   hal.AWBState
	}{
		{"off is inactive", hal.AWBModeOff, 100, 10, hal.AWBStateInactive},
		{"first frame searching", hal.AWBModeAuto, 1, 10, hal.AWBStateSearching},
		{"last settle frame searching", hal.AWBModeAuto, 10, 10, hal.AWBStateSearching},
		{"after settle converged", hal.AWBModeAuto, 11, 10, hal.AWBStateConverged},
		{"no settle converges at once", hal.AWBModeAuto, 1, 0, hal.AWBStateConverged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := awbStateFor(tt.mode, tt.n, tt.settle); got != tt.want {
				t.Errorf("awbStateFor(%v, %d, %d) = %v, want %v", tt.mode, tt.n, tt.settle, got, tt.want)
			}
		})
	}
}

func TestStreamConfigs(t *testing.T) {
	sizes := []frameSize{
		{"YUYV", 640, 480},
		{"MJPG", 1920, 1080},
		{"YUYV", 640, 480},
		{"YUYV", 0, 0},
		{"MJPG", 1280, 720},
	}
	want := []hal.StreamConfig{
		{Format: "MJPG", Width: 1920, Height: 1080, FPS: 30},
		{Format: "MJPG", Width: 1280, Height: 720, FPS: 30},
		{Format: "YUYV", Width: 640, Height: 480, FPS: 30},
	}
	if diff := cmp.Diff(want, streamConfigs(sizes, 30)); diff != "" {
		t.Errorf("streamConfigs() mismatch (-want +got):\n%s", diff)
	}

	if got := streamConfigs(nil, 30); got != nil {
		t.Errorf("streamConfigs(nil) = %v, want nil", got)
	}
	t.Logf("✅ sizes deduplicated and ordered largest first")
}

func TestAWBModes(t *testing.T) {
	withControl := hal.DeviceInfo{AWBModes: awbModes(true)}
	if !withControl.SupportsAWBMode(hal.AWBModeOff) || !withControl.SupportsAWBMode(hal.AWBModeAuto) {
		t.Errorf("awbModes(true) = %v, want off and auto", withControl.AWBModes)
	}

	without := hal.DeviceInfo{AWBModes: awbModes(false)}
	if without.SupportsAWBMode(hal.AWBModeOff) {
		t.Errorf("awbModes(false) = %v, must not offer off", without.AWBModes)
	}
}

type fakeAWBControl struct {
	calls []bool
	err   error
}

func (f *fakeAWBControl) SetAutoWhiteBalance(on bool) error {
	f.calls = append(f.calls, on)
	return f.err
}

func TestApplyAWBMode(t *testing.T) {
	refused := errors.New("EINVAL")
	tests := []struct {
		name      string
		noControl bool
		ctrlErr   error
		mode      hal.AWBMode
		wantCalls []bool
		wantErr   error
	}{
		{name: "auto with control", mode: hal.AWBModeAuto, wantCalls: []bool{true}},
		{name: "off with control", mode: hal.AWBModeOff, wantCalls: []bool{false}},
		{name: "preset runs as auto", mode: hal.AWBModeDaylight, wantCalls: []bool{true}},
		{name: "auto without control is untouched", noControl: true, mode: hal.AWBModeAuto},
		{name: "off without control", noControl: true, mode: hal.AWBModeOff, wantErr: ErrNoAWBControl},
		{name: "control refuses", mode: hal.AWBModeOff, ctrlErr: refused, wantCalls: []bool{false}, wantErr: refused},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAWBControl{err: tt.ctrlErr}
			var ctrl awbControl = fake
			if tt.noControl {
				ctrl = nil
			}

			err := applyAWBMode(ctrl, tt.mode)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("applyAWBMode() error = %v, want %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.wantCalls, fake.calls); diff != "" {
				t.Errorf("control calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSampleTimestamp(t *testing.T) {
	if ts, ok := sampleTimestamp(1_500_000); !ok || ts != 1_500_000 {
		t.Errorf("sampleTimestamp(1500000) = %d, %v", ts, ok)
	}
	if ts, ok := sampleTimestamp(0); !ok || ts != 0 {
		t.Errorf("sampleTimestamp(0) = %d, %v; pipeline start is a valid time", ts, ok)
	}
	if _, ok := sampleTimestamp(-1); ok {
		t.Error("sampleTimestamp(-1) reported a timestamp for a buffer without one")
	}
	t.Logf("✅ buffers without timestamp are rejected")
}

func TestOptionsNormalize(t *testing.T) {
	dev := []DeviceSpec{{Path: "/dev/video0"}}
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{Devices: dev, Width: 640, Height: 480, FPS: 30}, false},
		{"no devices", Options{Width: 640, Height: 480, FPS: 30}, true},
		{"odd width", Options{Devices: dev, Width: 641, Height: 480, FPS: 30}, true},
		{"zero height", Options{Devices: dev, Width: 640, FPS: 30}, true},
		{"zero fps", Options{Devices: dev, Width: 640, Height: 480}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.normalize()
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.opts.Logger == nil {
				t.Error("normalize() left Logger nil")
			}
		})
	}

	o := Options{Devices: []DeviceSpec{{Path: "/dev/video2", Name: "usb"}}}
	if spec, ok := o.spec("/dev/video2"); !ok || spec.Name != "usb" {
		t.Errorf("spec(/dev/video2) = %+v, %v", spec, ok)
	}
	if _, ok := o.spec("/dev/video9"); ok {
		t.Error("spec(/dev/video9) found an unconfigured device")
	}
}

func TestBuildCaps(t *testing.T) {
	want := "video/x-raw,format=I420,width=1280,height=720,framerate=30/1"
	if got := buildCaps(1280, 720, 30); got != want {
		t.Errorf("buildCaps() = %q, want %q", got, want)
	}
}

func TestFourccString(t *testing.T) {
	yuyv := uint32('Y') | uint32('U')<<8 | uint32('Y')<<16 | uint32('V')<<24
	if got := fourccString(yuyv); got != "YUYV" {
		t.Errorf("fourccString(YUYV) = %q", got)
	}
	grey := uint32('Y') | uint32('8')<<8 | uint32(' ')<<16 | uint32(' ')<<24
	if got := fourccString(grey); got != "Y8" {
		t.Errorf("fourccString(Y8) = %q", got)
	}
}

func TestFillI420(t *testing.T) {
	// 6x4: luma stride 8, chroma stride 4, planes 32+8+8 bytes.
	g := framepool.I420(6, 4)
	data := make([]byte, g.FrameSize())
	for i := range data {
		data[i] = byte(i)
	}

	var buf framepool.Buffer
	if err := fillI420(&buf, g, data); err != nil {
		t.Fatalf("fillI420() error = %v", err)
	}
	if buf.Y.Stride != 8 || buf.U.Stride != 4 || buf.V.Stride != 4 {
		t.Errorf("strides = %d/%d/%d, want 8/4/4", buf.Y.Stride, buf.U.Stride, buf.V.Stride)
	}
	if len(buf.Y.Data) != 32 || buf.Y.Data[31] != 31 {
		t.Errorf("Y plane = %d bytes, last %d", len(buf.Y.Data), buf.Y.Data[len(buf.Y.Data)-1])
	}
	if buf.U.Data[0] != 32 || buf.V.Data[0] != 40 || buf.V.Data[7] != 47 {
		t.Errorf("chroma offsets wrong: U[0]=%d V[0]=%d V[7]=%d", buf.U.Data[0], buf.V.Data[0], buf.V.Data[7])
	}

	if err := fillI420(&buf, g, data[:40]); err == nil {
		t.Error("fillI420() accepted a short frame")
	}
	t.Logf("✅ I420 planes split at %d/%d", g.SizeY(), g.SizeY()+g.SizeU())
}
