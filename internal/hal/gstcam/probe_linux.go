//go:build linux && cgo

package gstcam

import (
	"fmt"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"github.com/galoko/PeopleWatcher/internal/hal"
)

// probe reads the card name, the discrete frame sizes of every pixel
// format and whether the node has an auto white balance control.
func probe(spec DeviceSpec, fps int) (hal.DeviceInfo, error) {
	dev, err := device.Open(spec.Path)
	if err != nil {
		return hal.DeviceInfo{}, fmt.Errorf("gstcam: open %s: %w", spec.Path, err)
	}
	defer dev.Close()

	info := hal.DeviceInfo{ID: spec.Path, Name: spec.Name, Facing: spec.Facing}
	caps := dev.Capability()
	if info.Name == "" {
		info.Name = caps.Card
	}
	if !caps.IsVideoCaptureSupported() {
		return info, nil
	}

	descs, err := v4l2.GetAllFormatDescriptions(dev.Fd())
	if err != nil {
		return info, nil
	}
	var sizes []frameSize
	for _, d := range descs {
		enums, err := v4l2.GetFormatFrameSizes(dev.Fd(), d.PixelFormat)
		if err != nil {
			continue
		}
		format := fourccString(uint32(d.PixelFormat))
		for _, e := range enums {
			sizes = append(sizes, frameSize{format: format, width: int(e.Size.MaxWidth), height: int(e.Size.MaxHeight)})
		}
	}
	info.StreamConfigs = streamConfigs(sizes, fps)

	info.AWBModes = awbModes(awbControlOf(dev) != nil)
	return info, nil
}

// v4lAWB is the auto white balance control of an open node.
type v4lAWB struct {
	dev *device.Device
}

// awbControlOf returns the node's white balance control, or nil when the
// node has none.
func awbControlOf(dev *device.Device) awbControl {
	if _, err := dev.GetControl(v4l2.CtrlAutoWhiteBalance); err != nil {
		return nil
	}
	return v4lAWB{dev: dev}
}

func (c v4lAWB) SetAutoWhiteBalance(on bool) error {
	var v v4l2.CtrlValue
	if on {
		v = 1
	}
	if err := c.dev.SetControlValue(v4l2.CtrlAutoWhiteBalance, v); err != nil {
		return fmt.Errorf("gstcam: set auto white balance: %w", err)
	}
	return nil
}
