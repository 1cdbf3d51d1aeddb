package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Command is a control message.
type Command struct {
	Command string `json:"command"`
	Reason  string `json:"reason,omitempty"`
}

// Response acknowledges a command on <control topic>/response.
type Response struct {
	CommandAck string    `json:"command_ack"`
	Status     string    `json:"status"`
	Data       any       `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ControlCallbacks are invoked for recognised commands.
type ControlCallbacks struct {
	OnStop   func(reason string)
	OnStatus func() any
}

// ControlHandler subscribes to the control topic and maps commands onto
// callbacks.
type ControlHandler struct {
	client    mqtt.Client
	topic     string
	qos       byte
	callbacks ControlCallbacks
	logger    *slog.Logger
	commands  chan Command
}

// NewControlHandler creates a handler for topic.
func NewControlHandler(client mqtt.Client, topic string, qos byte, callbacks ControlCallbacks, logger *slog.Logger) *ControlHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlHandler{
		client:    client,
		topic:     topic,
		qos:       qos,
		callbacks: callbacks,
		logger:    logger,
		commands:  make(chan Command, 10),
	}
}

// Run subscribes and processes commands until ctx ends.
func (h *ControlHandler) Run(ctx context.Context) error {
	h.logger.Info("status: subscribing to control topic", "topic", h.topic, "qos", h.qos)

	token := h.client.Subscribe(h.topic, h.qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("status: control subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("status: control subscription failed: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			if h.client.IsConnected() {
				h.client.Unsubscribe(h.topic).WaitTimeout(time.Second)
			}
			h.logger.Info("status: control handler stopped")
			return nil
		case cmd := <-h.commands:
			h.handleCommand(cmd)
		}
	}
}

func (h *ControlHandler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		h.logger.Error("status: failed to parse control command", "error", err)
		h.sendResponse(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}

	h.logger.Info("status: control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		h.logger.Warn("status: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *ControlHandler) handleCommand(cmd Command) {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "stop":
		if h.callbacks.OnStop == nil {
			resp.Status, resp.Error = "error", "stop not available"
			break
		}
		reason := cmd.Reason
		if reason == "" {
			reason = "remote stop"
		}
		h.callbacks.OnStop(reason)
		resp.Status = "stopping"

	case "status":
		if h.callbacks.OnStatus == nil {
			resp.Status, resp.Error = "error", "status not available"
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnStatus()

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

func (h *ControlHandler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("status: failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.topic+"/response", h.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		h.logger.Error("status: response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		h.logger.Error("status: failed to publish response", "error", err)
		return
	}
	h.logger.Debug("status: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
