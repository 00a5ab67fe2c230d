package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/filtercam/modules/filter"
)

const (
	commandQueueSize = 10
	subscribeTimeout = 5 * time.Second
	publishTimeout   = 2 * time.Second
)

// ErrBrokerUnreachable is returned by Connect when the broker cannot be reached.
var ErrBrokerUnreachable = errors.New("control: mqtt broker unreachable")

// MQTTConfig configures the MQTT control surface.
type MQTTConfig struct {
	Broker         string // host:port or tcp://host:port
	ClientID       string
	ControlTopic   string
	ResponseTopic  string
	StatusTopic    string        // optional, periodic status
	StatusInterval time.Duration // default 30s
	QoS            byte
}

// BrokerURL returns the broker address with a scheme.
func (c MQTTConfig) BrokerURL() string {
	if strings.Contains(c.Broker, "://") {
		return c.Broker
	}
	return "tcp://" + c.Broker
}

// Connect opens an auto-reconnecting client to the configured broker.
func Connect(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		slog.Info("control: mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("control: mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	slog.Info("control: connecting to mqtt broker", "broker", cfg.Broker)

	token := client.Connect()
	if !token.WaitTimeout(subscribeTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: connection timeout", ErrBrokerUnreachable, cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBrokerUnreachable, cfg.Broker, err)
	}
	return client, nil
}

// MQTTHandler executes control commands received over MQTT.
type MQTTHandler struct {
	cfg      MQTTConfig
	client   mqtt.Client
	dispatch dispatcher
	commands chan Command

	stopOnce sync.Once
	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewMQTTHandler creates a handler on an already connected client.
func NewMQTTHandler(cfg MQTTConfig, client mqtt.Client, selector *filter.Selector, callbacks Callbacks) *MQTTHandler {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 30 * time.Second
	}
	return &MQTTHandler{
		cfg:    cfg,
		client: client,
		dispatch: dispatcher{
			selector:  selector,
			callbacks: callbacks,
			now:       time.Now,
		},
		commands: make(chan Command, commandQueueSize),
	}
}

// Start subscribes to the control topic and processes commands until ctx is done.
func (h *MQTTHandler) Start(ctx context.Context) error {
	slog.Info("control: subscribing to control topic", "topic", h.cfg.ControlTopic, "qos", h.cfg.QoS)

	token := h.client.Subscribe(h.cfg.ControlTopic, h.cfg.QoS, h.messageHandler)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("control: subscription to %s timed out", h.cfg.ControlTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription to %s failed: %w", h.cfg.ControlTopic, err)
	}

	go h.processCommands(ctx)
	if h.cfg.StatusTopic != "" && h.dispatch.callbacks.OnGetStatus != nil {
		go h.publishStatus(ctx)
	}

	slog.Info("control: mqtt handler started")
	return nil
}

// Stop unsubscribes and disconnects. Safe to call more than once.
func (h *MQTTHandler) Stop() error {
	h.stopOnce.Do(func() {
		if h.client.IsConnected() {
			h.client.Unsubscribe(h.cfg.ControlTopic).WaitTimeout(publishTimeout)
			h.client.Disconnect(250)
		}
		slog.Info("control: mqtt handler stopped",
			"received", h.received.Load(),
			"dropped", h.dropped.Load(),
		)
	})
	return nil
}

// Dropped returns the number of commands dropped because the queue was full.
func (h *MQTTHandler) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *MQTTHandler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	h.received.Add(1)

	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Warn("control: failed to parse command", "topic", msg.Topic(), "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     StatusError,
			Error:      "invalid JSON",
			Timestamp:  h.dispatch.now().UTC().Format(time.RFC3339Nano),
		})
		return
	}

	slog.Debug("control: command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		h.dropped.Add(1)
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *MQTTHandler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.sendResponse(h.dispatch.execute(cmd))
		}
	}
}

func (h *MQTTHandler) publishStatus(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := h.dispatch.callbacks.OnGetStatus()
			h.publish(h.cfg.StatusTopic, status)
		}
	}
}

func (h *MQTTHandler) sendResponse(resp Response) {
	if h.publish(h.cfg.ResponseTopic, resp) {
		slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
	}
}

func (h *MQTTHandler) publish(topic string, v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("control: failed to marshal message", "topic", topic, "error", err)
		return false
	}

	token := h.client.Publish(topic, h.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		slog.Warn("control: publish timed out", "topic", topic)
		return false
	}
	if err := token.Error(); err != nil {
		slog.Warn("control: publish failed", "topic", topic, "error", err)
		return false
	}
	return true
}
