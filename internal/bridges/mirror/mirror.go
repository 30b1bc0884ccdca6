package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SaiMyBB/Matter-Gateway/internal/device"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/mqtt"
)

const (
	defaultQueueSize = 256
	commandTimeout   = 5 * time.Second
)

// MQTTClient is the subset of *mqtt.Client the mirror needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Registry is the subset of *device.Registry the mirror needs.
type Registry interface {
	ListAll() map[string]device.State
	SetAttributeFrom(ctx context.Context, source device.Source, name, attr string, val any) error
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Mirror.
type Options struct {
	Client   MQTTClient
	Registry Registry
	Topics   mqtt.Topics
	QoS      byte
	// QueueSize bounds pending outbound messages. Defaults to 256.
	QueueSize int
	Logger    Logger
}

type outbound struct {
	topic    string
	payload  []byte
	retained bool
}

// eventMessage is the payload on the event topic.
type eventMessage struct {
	Event     string `json:"event"`
	Dev       string `json:"dev"`
	Attr      string `json:"attr"`
	Val       any    `json:"val"`
	Source    string `json:"source"`
	Timestamp string `json:"ts"`
}

// Mirror publishes registry changes to MQTT and applies MQTT commands.
//
// Thread Safety: All methods are safe for concurrent use.
type Mirror struct {
	client   MQTTClient
	registry Registry
	topics   mqtt.Topics
	qos      byte
	logger   Logger

	queue   chan outbound
	dropped atomic.Uint64

	ctxMu sync.RWMutex
	ctx   context.Context
}

// New validates options and builds a Mirror. Call Start to subscribe and
// Run to drain the outbound queue.
func New(opts Options) (*Mirror, error) {
	if opts.Client == nil {
		return nil, ErrNoClient
	}
	if opts.Registry == nil {
		return nil, ErrNoRegistry
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Mirror{
		client:   opts.Client,
		registry: opts.Registry,
		topics:   opts.Topics,
		qos:      opts.QoS,
		logger:   opts.Logger,
		queue:    make(chan outbound, opts.QueueSize),
		ctx:      context.Background(),
	}, nil
}

// Start subscribes to the command topics and queues the retained state of
// every registered device. Commands received later run under ctx.
func (m *Mirror) Start(ctx context.Context) error {
	m.ctxMu.Lock()
	m.ctx = ctx
	m.ctxMu.Unlock()

	if err := m.client.Subscribe(m.topics.AllDeviceCommands(), m.qos, m.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	m.PublishSnapshot()
	return nil
}

// PublishSnapshot queues the retained state of every device. It is also
// suitable as an on-reconnect callback.
func (m *Mirror) PublishSnapshot() {
	for name, state := range m.registry.ListAll() {
		m.enqueueState(name, state)
	}
}

// Publish implements device.Publisher.
func (m *Mirror) Publish(_ context.Context, ev device.Event) {
	m.enqueueState(ev.Dev, ev.State)

	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	payload, err := json.Marshal(eventMessage{
		Event:     ev.Event,
		Dev:       ev.Dev,
		Attr:      ev.Attr,
		Val:       ev.Val,
		Source:    string(ev.Source),
		Timestamp: ts.Format(time.RFC3339Nano),
	})
	if err != nil {
		m.logger.Error("encoding mqtt event", "dev", ev.Dev, "error", err)
		return
	}
	m.enqueue(outbound{topic: m.topics.DeviceEvent(ev.Dev), payload: payload})
}

func (m *Mirror) enqueueState(name string, state device.State) {
	if state == nil {
		return
	}
	payload, err := json.Marshal(state)
	if err != nil {
		m.logger.Error("encoding mqtt state", "dev", name, "error", err)
		return
	}
	m.enqueue(outbound{topic: m.topics.DeviceState(name), payload: payload, retained: true})
}

func (m *Mirror) enqueue(msg outbound) {
	select {
	case m.queue <- msg:
	default:
		n := m.dropped.Add(1)
		m.logger.Warn("mqtt mirror queue full, dropping message", "topic", msg.topic, "dropped_total", n)
	}
}

// Dropped returns how many outbound messages were discarded on a full queue.
func (m *Mirror) Dropped() uint64 {
	return m.dropped.Load()
}

// Run publishes queued messages until ctx is cancelled. Messages that fail
// to publish are logged and discarded; the retained snapshot republished on
// reconnect restores state consumers.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-m.queue:
			if !m.client.IsConnected() {
				m.logger.Debug("mqtt offline, skipping message", "topic", msg.topic)
				continue
			}
			if err := m.client.Publish(msg.topic, msg.payload, m.qos, msg.retained); err != nil {
				m.logger.Warn("mqtt publish failed", "topic", msg.topic, "error", err)
			}
		}
	}
}

// handleCommand applies one {prefix}/command/{device}/{attr} message.
func (m *Mirror) handleCommand(topic string, payload []byte) error {
	name, attr, ok := m.topics.ParseCommand(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", ErrBadCommand, topic)
	}
	val, err := decodeCommandValue(payload)
	if err != nil {
		return err
	}

	m.ctxMu.RLock()
	base := m.ctx
	m.ctxMu.RUnlock()
	ctx, cancel := context.WithTimeout(base, commandTimeout)
	defer cancel()

	if err := m.registry.SetAttributeFrom(ctx, device.SourceMQTT, name, attr, val); err != nil {
		return fmt.Errorf("applying mqtt command: %w", err)
	}
	return nil
}

// decodeCommandValue accepts a bare JSON value or {"value": ...}.
func decodeCommandValue(payload []byte) (any, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrBadCommand)
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadCommand, err)
	}
	if obj, isObj := v.(map[string]any); isObj {
		inner, has := obj["value"]
		if !has {
			return nil, fmt.Errorf("%w: object without \"value\"", ErrBadCommand)
		}
		return inner, nil
	}
	return v, nil
}
