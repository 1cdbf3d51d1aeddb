package main

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/galoko/PeopleWatcher/internal/config"
	"github.com/galoko/PeopleWatcher/internal/hal"
	"github.com/galoko/PeopleWatcher/internal/hal/gstcam"
	"github.com/galoko/PeopleWatcher/internal/hal/simcam"
	"github.com/galoko/PeopleWatcher/internal/logging"
)

// newCamera builds the configured source. The simulated camera is paced
// in real time until ctx ends.
func newCamera(ctx context.Context, cfg *config.Config, logger *logging.Logger) (hal.Camera, error) {
	if cfg.Capture.Source == "v4l2" {
		specs := make([]gstcam.DeviceSpec, 0, len(cfg.Capture.Devices))
		for _, d := range cfg.Capture.Devices {
			facing, err := hal.ParseFacing(d.Facing)
			if err != nil {
				return nil, err
			}
			specs = append(specs, gstcam.DeviceSpec{Path: d.Path, Name: d.Name, Facing: facing})
		}
		cam, err := gstcam.New(gstcam.Options{
			Devices:      specs,
			Width:        cfg.Capture.Width,
			Height:       cfg.Capture.Height,
			FPS:          cfg.Capture.FPS,
			SettleFrames: uint64(cfg.AWB.SettleFrames),
			Logger:       logger.Logger,
		})
		if err != nil {
			return nil, err
		}
		return cam, nil
	}

	cam := simcam.New(simScript(cfg))
	go cam.Pace(ctx, clock.New())
	return cam, nil
}

// simScript shapes the simulated device after the capture section.
func simScript(cfg *config.Config) simcam.Script {
	s := simcam.DefaultScript()
	s.Width = cfg.Capture.Width
	s.Height = cfg.Capture.Height
	s.FrameInterval = time.Second / time.Duration(cfg.Capture.FPS)
	s.ConvergeAt = uint64(cfg.AWB.SettleFrames)
	s.Devices[0].Facing = cfg.Facing()
	s.Devices[0].StreamConfigs = []hal.StreamConfig{{
		Format: "I420",
		Width:  cfg.Capture.Width,
		Height: cfg.Capture.Height,
		FPS:    cfg.Capture.FPS,
	}}
	return s
}
