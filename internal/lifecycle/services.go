package lifecycle

import (
	"context"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	"github.com/galoko/PeopleWatcher/internal/capture"
	"github.com/galoko/PeopleWatcher/internal/config"
	"github.com/galoko/PeopleWatcher/internal/status"
)

// services are the optional side surfaces of a run. None of them can
// change the run outcome.
type services struct {
	logger  *slog.Logger
	emitter *status.MQTTEmitter
	control string
	qos     byte
	health  *status.HealthServer
	listen  string
}

func newServices(cfg *config.Config, runID string, client mqtt.Client, logger *slog.Logger) *services {
	s := &services{logger: logger, listen: cfg.Health.Listen, qos: cfg.MQTT.QoS}

	if cfg.MQTT.Broker != "" || client != nil {
		opts := status.MQTTOptions{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			InstanceID:  cfg.InstanceID,
			QoS:         cfg.MQTT.QoS,
		}
		s.emitter = status.NewMQTTEmitter(opts, logger)
		s.emitter.Client = client
		s.control = opts.ControlTopic()
	}
	return s
}

func (s *services) observer() capture.Observer {
	observers := []capture.Observer{status.LogObserver{Logger: s.logger}}
	if s.emitter != nil {
		observers = append(observers, s.emitter)
	}
	return status.Multi(observers...)
}

// start launches the services on g. connectCtx bounds the broker
// connection; runCtx stops the services once the run is over.
func (s *services) start(connectCtx, runCtx context.Context, g *errgroup.Group, m *capture.Machine) {
	stats := func() any { return m.Stats() }

	if s.listen != "" {
		s.health = status.NewHealthServer(s.listen, stats, s.logger)
		g.Go(func() error { return s.health.Run(runCtx) })
	}

	if s.emitter == nil {
		return
	}
	if err := s.emitter.Connect(connectCtx); err != nil {
		// The client keeps retrying in the background; events queue until
		// it is up.
		s.logger.Warn("lifecycle: mqtt unavailable, run continues without remote control", "error", err)
	} else {
		control := status.NewControlHandler(s.emitter.Client, s.control, s.qos, status.ControlCallbacks{
			OnStop:   m.RequestStop,
			OnStatus: stats,
		}, s.logger)
		g.Go(func() error { return control.Run(runCtx) })
	}
	g.Go(func() error { return s.emitter.Run(runCtx) })
}
