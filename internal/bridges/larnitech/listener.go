package larnitech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SaiMyBB/Matter-Gateway/internal/device"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/config"
)

// Status is the state of the stream connection.
type Status string

// Stream connection states. There is no terminal state: a lost stream is
// always redialled.
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusStreaming    Status = "streaming"
)

const (
	defaultReconnectDelay = 10 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 20 * time.Second
	handshakeTimeout      = 10 * time.Second
	frameApplyTimeout     = 5 * time.Second
)

// Registry is the subset of the device registry the listener writes to.
type Registry interface {
	FindByUpstreamID(id string) (device.Device, bool)
	SetAttributeFrom(ctx context.Context, source device.Source, name, attr string, val any) error
}

// LinkObserver receives connection state changes (satisfied by
// *metrics.Metrics).
type LinkObserver interface {
	SetUpstreamConnected(connected bool)
	UpstreamReconnect()
}

// frame is one pushed update. The controller sends ids as strings or
// numbers; both are normalised to their string form.
type frame struct {
	ID    string
	Value any
}

type wireFrame struct {
	ID    json.RawMessage `json:"id"`
	Value any             `json:"value"`
}

// Listener keeps the controller's event stream open and applies each frame
// to the registry.
type Listener struct {
	cfg      config.UpstreamConfig
	registry Registry
	dialer   *websocket.Dialer
	logger   Logger
	observer LinkObserver

	mu     sync.RWMutex
	status Status
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the listener logger.
func WithListenerLogger(l Logger) ListenerOption {
	return func(ln *Listener) {
		if l != nil {
			ln.logger = l
		}
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) ListenerOption {
	return func(ln *Listener) { ln.dialer = d }
}

// WithObserver installs a connection state observer.
func WithObserver(o LinkObserver) ListenerOption {
	return func(ln *Listener) { ln.observer = o }
}

// NewListener creates a stream listener. Zero-valued timing fields in cfg
// take their defaults.
func NewListener(cfg config.UpstreamConfig, reg Registry, opts ...ListenerOption) *Listener {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}

	l := &Listener{
		cfg:      cfg,
		registry: reg,
		dialer:   &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger:   noopLogger{},
		status:   StatusDisconnected,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Status returns the current connection state.
func (l *Listener) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

func (l *Listener) setStatus(s Status) {
	l.mu.Lock()
	prev := l.status
	l.status = s
	l.mu.Unlock()

	if prev == s || l.observer == nil {
		return
	}
	l.observer.SetUpstreamConnected(s == StatusStreaming)
}

// Run dials the stream and redials it after every failure until ctx is
// cancelled. It returns nil on cancellation and an error only when no
// stream URL can be derived from the configuration.
func (l *Listener) Run(ctx context.Context) error {
	endpoint, err := l.cfg.StreamEndpoint()
	if err != nil {
		return fmt.Errorf("larnitech listener: %w", err)
	}

	for {
		l.setStatus(StatusConnecting)
		err := l.session(ctx, endpoint)
		l.setStatus(StatusDisconnected)

		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("controller stream lost", "error", err, "retry_in", l.cfg.ReconnectDelay.String())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.cfg.ReconnectDelay):
		}
		if l.observer != nil {
			l.observer.UpstreamReconnect()
		}
	}
}

// session runs one connection from dial to failure.
func (l *Listener) session(ctx context.Context, endpoint string) error {
	header := http.Header{}
	if l.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+l.cfg.Token)
	}
	header.Set("User-Agent", userAgent)

	l.logger.Info("connecting to controller stream", "url", endpoint)
	conn, resp, err := l.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dialling stream: %w", err)
	}
	defer conn.Close()

	l.setStatus(StatusStreaming)
	l.logger.Info("controller stream connected")

	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(l.cfg.PingInterval + l.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(l.cfg.PingInterval + l.cfg.PongTimeout))
	})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.pingLoop(ctx, conn, done)
	}()
	defer wg.Wait()
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
		//nolint:errcheck // Best-effort deadline reset
		conn.SetReadDeadline(time.Now().Add(l.cfg.PingInterval + l.cfg.PongTimeout))
		l.handleFrame(ctx, data)
	}
}

// pingLoop keeps the connection alive and closes it when ctx is cancelled,
// which unblocks the reader.
func (l *Listener) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			//nolint:errcheck // Best-effort close frame on shutdown
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.Close()
			return
		case <-ticker.C:
			deadline := time.Now().Add(l.cfg.PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				l.logger.Debug("controller stream ping failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

// handleFrame applies one {id, value} frame. Malformed frames and unknown
// ids are logged and skipped.
func (l *Listener) handleFrame(ctx context.Context, data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		l.logger.Warn("skipping stream frame", "error", err)
		return
	}

	dev, ok := l.registry.FindByUpstreamID(f.ID)
	if !ok {
		l.logger.Debug("stream frame for unmapped device", "id", f.ID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, frameApplyTimeout)
	defer cancel()

	attr := dev.PrimaryAttribute()
	if err := l.registry.SetAttributeFrom(ctx, device.SourceUpstream, dev.Name(), attr, f.Value); err != nil {
		l.logger.Warn("controller value rejected", "dev", dev.Name(), "attr", attr, "val", f.Value, "error", err)
		return
	}
	l.logger.Debug("device updated from controller", "dev", dev.Name(), "attr", attr, "val", f.Value)
}

func decodeFrame(data []byte) (frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return frame{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	id, err := frameID(w.ID)
	if err != nil {
		return frame{}, err
	}
	return frame{ID: id, Value: w.Value}, nil
}

// frameID accepts a JSON string or number id.
func frameID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w: missing id", ErrInvalidFrame)
	}

	var id string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidFrame, err)
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("%w: id must be a string or number", ErrInvalidFrame)
		}
		id = n.String()
	}
	if id == "" {
		return "", fmt.Errorf("%w: missing id", ErrInvalidFrame)
	}
	return id, nil
}
