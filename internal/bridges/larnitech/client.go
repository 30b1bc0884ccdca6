package larnitech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/config"
)

// Defaults applied when the configuration leaves a field at zero.
const (
	defaultTimeout      = 5 * time.Second
	defaultProbeTimeout = 2 * time.Second
	defaultRetries      = 3
	defaultRetryDelay   = 1500 * time.Millisecond

	userAgent = "MatterGateway/1.0"

	// maxResponseSize bounds response bodies read from the controller.
	maxResponseSize = 4 << 20
)

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RemoteDevice is a device as the controller reports it.
type RemoteDevice struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Value any    `json:"value,omitempty"`
}

// builtinFallback is served when the controller is unreachable and no
// fallback inventory is configured.
var builtinFallback = []RemoteDevice{
	{ID: "lamp1", Name: "LivingRoomLamp", Value: false},
	{ID: "dimmer1", Name: "BedroomDimmer", Value: 45},
	{ID: "temp1", Name: "RoomTempSensor", Value: 24.5},
}

// Client performs request/response calls against the controller.
//
// The base URL is resolved once, on first use, and cached for the life of
// the client. All methods are safe for concurrent use.
type Client struct {
	cfg    config.UpstreamConfig
	http   *http.Client
	logger Logger
	sleep  func(ctx context.Context, d time.Duration) error

	baseMu   sync.Mutex
	baseURL  string
	resolved bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client. Per-attempt timeouts are applied
// through the request context, so the client's own Timeout may stay zero.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// withSleep replaces the back-off sleep.
func withSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates a client. Zero-valued timing fields in cfg take their
// defaults.
func NewClient(cfg config.UpstreamConfig, opts ...ClientOption) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.Retries < 1 {
		cfg.Retries = defaultRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.LocalPort == 0 {
		cfg.LocalPort = 1111
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: noopLogger{},
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BaseURL returns the api2 endpoint in use, resolving it on first call.
//
// When a LAN address is configured it is probed with GET device/list; an
// HTTP 200 selects it. Anything else selects the remote endpoint.
func (c *Client) BaseURL(ctx context.Context) string {
	c.baseMu.Lock()
	defer c.baseMu.Unlock()
	if c.resolved {
		return c.baseURL
	}

	if local := c.cfg.LocalBaseURL(); local != "" && c.probe(ctx, local) {
		c.logger.Info("using local controller endpoint", "url", local)
		c.baseURL = local
	} else {
		remote, err := c.cfg.RemoteBaseURL()
		if err != nil {
			c.logger.Error("no controller endpoint configured", "error", err)
		} else {
			c.logger.Info("using remote controller endpoint", "url", remote)
		}
		c.baseURL = remote
	}
	c.resolved = true
	return c.baseURL
}

func (c *Client) probe(ctx context.Context, base string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/device/list", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("local controller probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize)) //nolint:errcheck // Drain for connection reuse
	return resp.StatusCode == http.StatusOK
}

func (c *Client) setHeaders(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	} else {
		req.Header.Set("e-passw", c.cfg.Password)
		req.Header.Set("srv-serial", c.cfg.Serial)
		req.Header.Set("mode-is-remote", "4")
	}
	req.Header.Set("User-Agent", userAgent)
}

// request runs one call with retries and returns the response body.
func (c *Client) request(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	base := c.BaseURL(ctx)
	if base == "" {
		return nil, fmt.Errorf("%w: no endpoint configured", ErrUnavailable)
	}
	target := base + "/" + strings.TrimLeft(endpoint, "/")

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		data, err := c.attempt(ctx, method, target, body)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("controller request failed", "endpoint", endpoint, "attempt", attempt, "error", err)

		if attempt < c.cfg.Retries {
			if err := c.sleep(ctx, c.cfg.RetryDelay*time.Duration(attempt)); err != nil {
				lastErr = err
				break
			}
		}
	}

	c.logger.Error("controller request gave up", "endpoint", endpoint, "attempts", c.cfg.Retries)
	return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, endpoint, lastErr)
}

// attempt performs a single HTTP exchange, retrying a 502 from a legacy
// /api/ path once against /api2/.
func (c *Client) attempt(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	status, data, err := c.do(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusBadGateway && strings.Contains(target, "/api/") {
		alt := strings.Replace(target, "/api/", "/api2/", 1)
		c.logger.Warn("502 from legacy api path, retrying on api2", "url", alt)
		status, data, err = c.do(ctx, method, alt, body)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, status)
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// ListDevices returns the controller's device inventory.
//
// The controller answers either with a bare array or with an object
// wrapping it under "devices".
func (c *Client) ListDevices(ctx context.Context) ([]RemoteDevice, error) {
	data, err := c.request(ctx, http.MethodGet, "device/list", nil)
	if err != nil {
		return nil, err
	}

	var list []RemoteDevice
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Devices []RemoteDevice `json:"devices"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: device list: %w", ErrInvalidResponse, err)
	}
	return wrapped.Devices, nil
}

// ListDevicesOrFallback returns the live inventory, or the configured
// fallback inventory when the controller cannot be reached.
func (c *Client) ListDevicesOrFallback(ctx context.Context) []RemoteDevice {
	list, err := c.ListDevices(ctx)
	if err == nil {
		return list
	}
	c.logger.Warn("using fallback device list", "error", err)

	if len(c.cfg.Fallback) == 0 {
		out := make([]RemoteDevice, len(builtinFallback))
		copy(out, builtinFallback)
		return out
	}
	out := make([]RemoteDevice, 0, len(c.cfg.Fallback))
	for _, d := range c.cfg.Fallback {
		out = append(out, RemoteDevice{ID: d.ID, Name: d.Name, Type: d.Type})
	}
	return out
}

// GetState returns the controller's state object for one device.
func (c *Client) GetState(ctx context.Context, id string) (map[string]any, error) {
	data, err := c.request(ctx, http.MethodGet, "device/get?id="+url.QueryEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var state map[string]any
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: device %s: %w", ErrInvalidResponse, id, err)
	}
	return state, nil
}

// SetState sends a value to one device. It reports false when the
// controller could not be reached, answered with something other than JSON,
// or answered {"result": false}.
func (c *Client) SetState(ctx context.Context, id string, value any) bool {
	body, err := json.Marshal(map[string]any{"id": id, "value": value})
	if err != nil {
		c.logger.Error("encoding set request", "id", id, "error", err)
		return false
	}

	data, err := c.request(ctx, http.MethodPost, "device/set", body)
	if err != nil {
		c.logger.Error("setting controller device failed", "id", id, "error", err)
		return false
	}

	var reply map[string]any
	if err := json.Unmarshal(data, &reply); err != nil {
		return false
	}
	result, ok := reply["result"].(bool)
	if !ok {
		return true
	}
	return result
}
