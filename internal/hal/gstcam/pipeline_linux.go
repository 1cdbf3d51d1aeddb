//go:build linux && cgo

package gstcam

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// pipelineElements holds the elements a session needs after creation.
type pipelineElements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
	Source   *gst.Element
}

// createPipeline builds
//
//	v4l2src → videoconvert → videoscale → capsfilter(I420) → appsink
//
// The pipeline is left in the NULL state.
func createPipeline(path string, width, height, fps int) (*pipelineElements, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", path)
	src.SetProperty("do-timestamp", true)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(buildCaps(width, height, fps)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 4)
	appsink.SetProperty("drop", false)

	pipeline.AddMany(src, converter, scaler, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(src, converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	return &pipelineElements{Pipeline: pipeline, AppSink: appsink, Source: src}, nil
}

// destroyPipeline releases the device and all pipeline resources.
func destroyPipeline(elements *pipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// monitorBus polls the pipeline bus until ctx is cancelled or the pipeline
// reports end of stream or an error. The first such message is passed to
// report and ends the monitor.
func monitorBus(ctx context.Context, pipeline *gst.Pipeline, path string, logger *slog.Logger, report func(failure, string)) {
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("gstcam: context cancelled, stopping bus monitor", "device", path)
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			// v4l2src only ends its stream when the node goes away.
			logger.Warn("gstcam: end of stream", "device", path)
			report(failureDeviceLost, "end of stream")
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			kind := classifyBusError(gerr.Error(), gerr.DebugString())
			logger.Error("gstcam: pipeline error",
				"device", path,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", kind.String(),
			)
			report(kind, gerr.Error())
			return
		}
	}
}
