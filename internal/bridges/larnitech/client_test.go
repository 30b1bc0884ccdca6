package larnitech

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/config"
)

// sleepRecorder replaces the back-off sleep and records requested delays.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// newTestClient points a client at handler through its remote URL.
func newTestClient(t *testing.T, handler http.Handler, mutate func(*config.UpstreamConfig)) (*Client, *sleepRecorder) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := config.UpstreamConfig{
		Serial:     "1876d100",
		Password:   "secret",
		RemoteURL:  ts.URL + "/api2",
		Timeout:    2 * time.Second,
		Retries:    3,
		RetryDelay: 1500 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	rec := &sleepRecorder{}
	return NewClient(cfg, withSleep(rec.sleep)), rec
}

func TestClient_ListDevices(t *testing.T) {
	t.Run("bare array", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api2/device/list", r.URL.Path)
			w.Write([]byte(`[{"id":"lamp1","name":"LivingRoomLamp","type":"light"}]`))
		}), nil)

		list, err := c.ListDevices(context.Background())
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "lamp1", list[0].ID)
		assert.Equal(t, "LivingRoomLamp", list[0].Name)
	})

	t.Run("wrapped object", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"devices":[{"id":"a"},{"id":"b"}]}`))
		}), nil)

		list, err := c.ListDevices(context.Background())
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("garbage body", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`<html>`))
		}), nil)

		_, err := c.ListDevices(context.Background())
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})
}

func TestClient_RetriesWithLinearBackoff(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[]`))
	}), nil)

	_, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 3 * time.Second}, rec.recorded())
}

func TestClient_StopsAfterSuccess(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"state":"on"}`))
	}), nil)

	_, err := c.GetState(context.Background(), "lamp1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, rec.recorded())
}

func TestClient_ExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}), nil)

	_, err := c.ListDevices(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, ErrBadStatus)
	assert.EqualValues(t, 3, calls.Load())
	assert.Len(t, rec.recorded(), 2)
}

func TestClient_CancelledContextStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := c.ListDevices(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 1, calls.Load())
}

func TestClient_LegacyPathRetriedOnAPI2(t *testing.T) {
	var legacy, current atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/device/list":
			legacy.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		case "/api2/device/list":
			current.Add(1)
			w.Write([]byte(`[{"id":"lamp1"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}), func(cfg *config.UpstreamConfig) {
		cfg.RemoteURL = cfg.RemoteURL[:len(cfg.RemoteURL)-len("/api2")] + "/api"
	})

	list, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.EqualValues(t, 1, legacy.Load())
	assert.EqualValues(t, 1, current.Load())
}

func TestClient_AuthHeaders(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		assert func(t *testing.T, h http.Header)
	}{
		{
			name: "static controller headers",
			assert: func(t *testing.T, h http.Header) {
				assert.Equal(t, "secret", h.Get("e-passw"))
				assert.Equal(t, "1876d100", h.Get("srv-serial"))
				assert.Equal(t, "4", h.Get("mode-is-remote"))
				assert.Empty(t, h.Get("Authorization"))
			},
		},
		{
			name:  "bearer token",
			token: "tok-123",
			assert: func(t *testing.T, h http.Header) {
				assert.Equal(t, "Bearer tok-123", h.Get("Authorization"))
				assert.Empty(t, h.Get("e-passw"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got http.Header
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Clone()
				w.Write([]byte(`[]`))
			}), func(cfg *config.UpstreamConfig) { cfg.Token = tt.token })

			_, err := c.ListDevices(context.Background())
			require.NoError(t, err)
			assert.Equal(t, userAgent, got.Get("User-Agent"))
			tt.assert(t, got)
		})
	}
}

func TestClient_BaseURLSelection(t *testing.T) {
	hostPort := func(t *testing.T, ts *httptest.Server) (string, int) {
		t.Helper()
		host, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
		require.NoError(t, err)
		port, err := strconv.Atoi(portStr)
		require.NoError(t, err)
		return host, port
	}

	t.Run("local probe succeeds", func(t *testing.T) {
		var probes atomic.Int32
		local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api2/device/list" {
				probes.Add(1)
			}
			w.Write([]byte(`[]`))
		}))
		defer local.Close()
		host, port := hostPort(t, local)

		c := NewClient(config.UpstreamConfig{Serial: "1876d100", LocalIP: host, LocalPort: port})
		want := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/api2"
		assert.Equal(t, want, c.BaseURL(context.Background()))

		// Resolved once and cached.
		assert.Equal(t, want, c.BaseURL(context.Background()))
		assert.EqualValues(t, 1, probes.Load())
	})

	t.Run("local probe fails", func(t *testing.T) {
		local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer local.Close()
		host, port := hostPort(t, local)

		c := NewClient(config.UpstreamConfig{Serial: "1876d100", LocalIP: host, LocalPort: port})
		assert.Equal(t, "https://1876d100.in.larnitech.com:8443/api2", c.BaseURL(context.Background()))
	})

	t.Run("no local address", func(t *testing.T) {
		c := NewClient(config.UpstreamConfig{RemoteURL: "https://relay.example/api2/"})
		assert.Equal(t, "https://relay.example/api2", c.BaseURL(context.Background()))
	})

	t.Run("nothing configured", func(t *testing.T) {
		c := NewClient(config.UpstreamConfig{})
		assert.Empty(t, c.BaseURL(context.Background()))
		_, err := c.ListDevices(context.Background())
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestClient_GetState(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api2/device/get", r.URL.Path)
		assert.Equal(t, "temp 1", r.URL.Query().Get("id"))
		w.Write([]byte(`{"id":"temp 1","value":21.5}`))
	}), nil)

	state, err := c.GetState(context.Background(), "temp 1")
	require.NoError(t, err)
	assert.Equal(t, 21.5, state["value"])
}

func TestClient_SetState(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"result true", http.StatusOK, `{"result":true}`, true},
		{"result false", http.StatusOK, `{"result":false}`, false},
		{"no result field", http.StatusOK, `{"ok":1}`, true},
		{"not json", http.StatusOK, `done`, false},
		{"server error", http.StatusInternalServerError, ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sent map[string]any
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api2/device/set", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}), nil)

			assert.Equal(t, tt.want, c.SetState(context.Background(), "dimmer1", 45))
			assert.Equal(t, "dimmer1", sent["id"])
			assert.EqualValues(t, 45, sent["value"])
		})
	}
}

func TestClient_ListDevicesOrFallback(t *testing.T) {
	down := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	t.Run("configured fallback", func(t *testing.T) {
		c, _ := newTestClient(t, down, func(cfg *config.UpstreamConfig) {
			cfg.Fallback = []config.RemoteDeviceConfig{{ID: "x1", Name: "Porch", Type: "light"}}
		})
		list := c.ListDevicesOrFallback(context.Background())
		require.Len(t, list, 1)
		assert.Equal(t, RemoteDevice{ID: "x1", Name: "Porch", Type: "light"}, list[0])
	})

	t.Run("built-in fallback", func(t *testing.T) {
		c, _ := newTestClient(t, down, nil)
		list := c.ListDevicesOrFallback(context.Background())
		require.Len(t, list, 3)
		assert.Equal(t, "lamp1", list[0].ID)

		// Callers may mutate the result freely.
		list[0].ID = "changed"
		assert.Equal(t, "lamp1", c.ListDevicesOrFallback(context.Background())[0].ID)
	})

	t.Run("live list preferred", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`[{"id":"live"}]`))
		}), nil)
		list := c.ListDevicesOrFallback(context.Background())
		require.Len(t, list, 1)
		assert.Equal(t, "live", list[0].ID)
	})
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(sleepContext(ctx, time.Hour), context.Canceled))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
