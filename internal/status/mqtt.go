package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/galoko/PeopleWatcher/internal/capture"
)

// MQTTOptions configures the emitter.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	InstanceID  string
	QoS         byte
	// Backlog bounds events waiting to be published.
	Backlog int
}

// StatusTopic returns <prefix>/<instance>/status.
func (o MQTTOptions) StatusTopic() string {
	return fmt.Sprintf("%s/%s/status", o.TopicPrefix, o.InstanceID)
}

// ControlTopic returns <prefix>/<instance>/control.
func (o MQTTOptions) ControlTopic() string {
	return fmt.Sprintf("%s/%s/control", o.TopicPrefix, o.InstanceID)
}

// MQTTEmitter publishes run events to the status topic. It implements
// capture.Observer; notifications are queued and published by Run, so the
// capture event loop never waits on the broker.
type MQTTEmitter struct {
	opts   MQTTOptions
	logger *slog.Logger
	Client mqtt.Client // Exported for the control handler

	pending chan Event

	mu        sync.RWMutex
	published uint64
	dropped   uint64
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates an emitter. Set Client before Connect to use an
// existing client.
func NewMQTTEmitter(opts MQTTOptions, logger *slog.Logger) *MQTTEmitter {
	if opts.Backlog <= 0 {
		opts.Backlog = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTEmitter{
		opts:    opts,
		logger:  logger,
		pending: make(chan Event, opts.Backlog),
	}
}

// Connect establishes the connection to the broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	if e.Client == nil {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(e.opts.Broker)
		opts.SetClientID(e.opts.ClientID)
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectRetryInterval(2 * time.Second)
		opts.SetMaxReconnectInterval(30 * time.Second)

		opts.OnConnect = func(c mqtt.Client) {
			e.setConnected(true)
			e.logger.Info("status: mqtt connection established",
				"broker", e.opts.Broker,
				"client_id", e.opts.ClientID,
			)
		}
		opts.OnConnectionLost = func(c mqtt.Client, err error) {
			e.setConnected(false)
			e.logger.Warn("status: mqtt connection lost, will auto-reconnect",
				"error", err,
				"broker", e.opts.Broker,
			)
		}
		e.Client = mqtt.NewClient(opts)
	}

	e.logger.Info("status: connecting to mqtt broker", "broker", e.opts.Broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("status: mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("status: mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Run publishes queued events until ctx ends, then flushes what is left
// and disconnects.
func (e *MQTTEmitter) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-e.pending:
			e.publish(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-e.pending:
					e.publish(ev)
				default:
					e.Disconnect()
					return nil
				}
			}
		}
	}
}

func (e *MQTTEmitter) OnStateChange(c capture.StateChange) { e.enqueue(StateEvent(c)) }

func (e *MQTTEmitter) OnAWBLocked(l capture.AWBLock) { e.enqueue(AWBEvent(l)) }

func (e *MQTTEmitter) OnTerminated(runID string, t capture.Termination) {
	e.enqueue(TerminationEvent(runID, t))
}

func (e *MQTTEmitter) enqueue(ev Event) {
	ev.InstanceID = e.opts.InstanceID
	select {
	case e.pending <- ev:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
		e.logger.Warn("status: event backlog full, dropping event", "type", ev.Type)
	}
}

func (e *MQTTEmitter) publish(ev Event) {
	if err := e.Publish(ev); err != nil {
		e.logger.Warn("status: publish failed", "type", ev.Type, "error", err)
	}
}

// Publish sends one event to the status topic
func (e *MQTTEmitter) Publish(ev Event) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("status: mqtt not connected")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("status: failed to marshal event: %w", err)
	}

	topic := e.opts.StatusTopic()
	token := e.Client.Publish(topic, e.opts.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("status: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("status: publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	e.logger.Debug("status: event published", "topic", topic, "type", ev.Type, "size", len(payload))
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		e.logger.Info("status: mqtt disconnected")
	}
	e.setConnected(false)
}

// EmitterStats contains emitter statistics
type EmitterStats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Errors    uint64 `json:"errors"`
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() EmitterStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return EmitterStats{
		Connected: e.connected,
		Published: e.published,
		Dropped:   e.dropped,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
