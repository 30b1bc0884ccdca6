package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SaiMyBB/Matter-Gateway/internal/auth"
	"github.com/SaiMyBB/Matter-Gateway/internal/device"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/config"
	"github.com/SaiMyBB/Matter-Gateway/internal/infrastructure/logging"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// testServer creates a Server over a registry holding the demo inventory.
// An empty secret disables authentication.
func testServer(t *testing.T, secret string) (*Server, *device.Registry) {
	t.Helper()

	registry := device.NewRegistry(nil)
	ctx := context.Background()
	for _, d := range device.Defaults() {
		registry.Register(ctx, d)
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     64,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: secret},
		},
		Logger:   logging.Discard(),
		Registry: registry,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	registry.SetPublisher(srv.Hub())

	return srv, registry
}

// signToken issues an HS256 token for sub.
func signToken(t *testing.T, secret, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func doRequest(t *testing.T, srv *Server, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{Registry: device.NewRegistry(nil)}); err == nil {
		t.Error("New() without logger: expected error")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without registry: expected error")
	}
}

func TestServer_StartClose(t *testing.T) {
	srv, _ := testServer(t, "")

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start: expected error")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if srv.Addr() == "" {
		t.Error("Addr() empty after Start")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer(t, testSecret)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestHandleListDevices(t *testing.T) {
	srv, _ := testServer(t, "")

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(7) {
		t.Errorf("count = %v, want 7", body["count"])
	}
	devices, ok := body["devices"].(map[string]any)
	if !ok {
		t.Fatalf("devices = %T, want object", body["devices"])
	}
	lamp, ok := devices["LivingRoomLamp"].(map[string]any)
	if !ok || lamp["power"] != false {
		t.Errorf("LivingRoomLamp = %v", devices["LivingRoomLamp"])
	}
}

func TestHandleGetDevice(t *testing.T) {
	srv, _ := testServer(t, "")

	t.Run("found", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices/MainThermostat", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		body := decodeBody(t, rec)
		if body["dev"] != "MainThermostat" || body["kind"] != "thermostat" {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices/Nope", "", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		if body := decodeBody(t, rec); body["code"] != ErrCodeNotFound {
			t.Errorf("code = %v, want %s", body["code"], ErrCodeNotFound)
		}
	})
}

func TestHandleSetAttribute(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"valid brightness", "/api/v1/devices/BedroomDimmer/brightness", `{"value": 40}`, http.StatusOK, ""},
		{"valid power", "/api/v1/devices/LivingRoomLamp/power", `{"value": true}`, http.StatusOK, ""},
		{"string power rejected", "/api/v1/devices/LivingRoomLamp/power", `{"value": "on"}`, http.StatusBadRequest, device.CodeInvalidAttribute},
		{"out of range", "/api/v1/devices/BedroomDimmer/brightness", `{"value": 101}`, http.StatusBadRequest, device.CodeInvalidAttribute},
		{"unknown attribute", "/api/v1/devices/LivingRoomLamp/colour", `{"value": "red"}`, http.StatusBadRequest, device.CodeInvalidAttribute},
		{"unknown device", "/api/v1/devices/Nope/power", `{"value": true}`, http.StatusNotFound, ErrCodeNotFound},
		{"missing value", "/api/v1/devices/LivingRoomLamp/power", `{}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"bad json", "/api/v1/devices/LivingRoomLamp/power", `{"value":`, http.StatusBadRequest, ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, "")
			rec := doRequest(t, srv, http.MethodPut, tt.path, tt.body, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantErr != "" {
				if body := decodeBody(t, rec); body["code"] != tt.wantErr {
					t.Errorf("code = %v, want %s", body["code"], tt.wantErr)
				}
			}
		})
	}
}

func TestHandleSetAttribute_UpdatesState(t *testing.T) {
	srv, registry := testServer(t, "")

	rec := doRequest(t, srv, http.MethodPut, "/api/v1/devices/BedroomDimmer/brightness", `{"value": 40}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	state, ok := decodeBody(t, rec)["state"].(map[string]any)
	if !ok {
		t.Fatal("response has no state object")
	}
	if state["brightness"] != float64(40) || state["power"] != true {
		t.Errorf("state = %v, want brightness 40 and power on", state)
	}

	d, _ := registry.Get("BedroomDimmer")
	if got := d.Read()["brightness"]; got != 40 {
		t.Errorf("registry brightness = %v, want 40", got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	valid := signToken(t, testSecret, "dashboard")

	tests := []struct {
		name     string
		path     string
		header   http.Header
		wantCode int
	}{
		{"no token", "/api/v1/devices", nil, http.StatusUnauthorized},
		{"bearer token", "/api/v1/devices", http.Header{"Authorization": {"Bearer " + valid}}, http.StatusOK},
		{"query token", "/api/v1/devices?token=" + valid, nil, http.StatusOK},
		{"cookie token", "/api/v1/devices", http.Header{"Cookie": {tokenCookie + "=" + valid}}, http.StatusOK},
		{"wrong secret", "/api/v1/devices", http.Header{"Authorization": {"Bearer " + signToken(t, "another-secret", "x")}}, http.StatusUnauthorized},
		{"missing subject", "/api/v1/devices", http.Header{"Authorization": {"Bearer " + signToken(t, testSecret, "")}}, http.StatusUnauthorized},
		{"garbage", "/api/v1/devices", http.Header{"Authorization": {"Bearer not.a.jwt"}}, http.StatusUnauthorized},
		{"health stays open", "/api/v1/health", nil, http.StatusOK},
		{"metrics stays open", "/api/v1/metrics", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, srv, http.MethodGet, tt.path, "", tt.header)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestValidateToken_Issuer(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	srv.secCfg.JWT.Issuer = "matter-gateway"

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ui", Issuer: "someone-else"})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if _, err := srv.validateToken(signed); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Errorf("validateToken() error = %v, want ErrTokenInvalid", err)
	}

	token = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ui", Issuer: "matter-gateway"})
	signed, _ = token.SignedString([]byte(testSecret))
	sub, err := srv.validateToken(signed)
	if err != nil || sub != "ui" {
		t.Errorf("validateToken() = %q, %v; want ui, nil", sub, err)
	}
}

type fakeHistory struct {
	entries []device.StateHistoryEntry
	err     error
	limit   int
}

func (f *fakeHistory) RecordStateChange(context.Context, string, string, device.State, device.Source) error {
	return nil
}

func (f *fakeHistory) GetHistory(_ context.Context, _ string, limit int) ([]device.StateHistoryEntry, error) {
	f.limit = limit
	return f.entries, f.err
}

func TestHandleGetDeviceHistory(t *testing.T) {
	t.Run("history disabled", func(t *testing.T) {
		srv, _ := testServer(t, "")
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices/BedroomDimmer/history", "", nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("returns entries", func(t *testing.T) {
		srv, _ := testServer(t, "")
		repo := &fakeHistory{entries: []device.StateHistoryEntry{
			{ID: 2, Device: "BedroomDimmer", Attr: "brightness", State: device.State{"brightness": 40}, Source: "command"},
			{ID: 1, Device: "BedroomDimmer", Attr: "power", State: device.State{"power": true}, Source: "mqtt"},
		}}
		srv.history = repo

		rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices/BedroomDimmer/history?limit=10", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if body := decodeBody(t, rec); body["count"] != float64(2) {
			t.Errorf("count = %v, want 2", body["count"])
		}
		if repo.limit != 10 {
			t.Errorf("limit passed = %d, want 10", repo.limit)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		srv, _ := testServer(t, "")
		srv.history = &fakeHistory{}
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices/Nope/history", "", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("repository error", func(t *testing.T) {
		srv, _ := testServer(t, "")
		srv.history = &fakeHistory{err: errors.New("disk gone")}
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices/BedroomDimmer/history", "", nil)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})
}

func TestParseHistoryLimit(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", defaultHistoryLimit, false},
		{"1", 1, false},
		{"200", 200, false},
		{"201", 0, true},
		{"0", 0, true},
		{"-5", 0, true},
		{"ten", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseHistoryLimit(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

type stubChecker bool

func (s stubChecker) IsConnected() bool { return bool(s) }

func TestHandleMetrics(t *testing.T) {
	srv, _ := testServer(t, "")
	srv.mqtt = stubChecker(true)
	srv.upstreamStatus = func() string { return "connected" }

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var m SystemMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if m.Devices.Total != 7 {
		t.Errorf("Devices.Total = %d, want 7", m.Devices.Total)
	}
	if m.Devices.ByKind["switch"] != 1 || m.Devices.ByKind["leak_sensor"] != 1 {
		t.Errorf("Devices.ByKind = %v", m.Devices.ByKind)
	}
	if m.MQTT == nil || !m.MQTT.Connected {
		t.Errorf("MQTT = %+v, want connected", m.MQTT)
	}
	if m.Upstream == nil || m.Upstream.Status != "connected" {
		t.Errorf("Upstream = %+v, want connected", m.Upstream)
	}
	if m.Database != nil {
		t.Errorf("Database = %+v, want omitted", m.Database)
	}
	if m.Runtime.Goroutines <= 0 {
		t.Error("Runtime.Goroutines not populated")
	}
}

func TestPrometheusRoute(t *testing.T) {
	srv, _ := testServer(t, "")
	srv.prometheus = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("# prometheus")) //nolint:errcheck // Test handler
	})

	rec := doRequest(t, srv, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("disabled: status = %d, want 404", rec.Code)
	}

	srv.metricsCfg = config.MetricsConfig{Enabled: true, Path: "/metrics"}
	rec = doRequest(t, srv, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "# prometheus" {
		t.Errorf("enabled: status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestCORSMiddleware(t *testing.T) {
	srv, _ := testServer(t, "")
	srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health", "", http.Header{"Origin": {"http://panel.local"}})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("allowed origin header = %q", got)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/health", "", http.Header{"Origin": {"http://evil.example"}})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin header = %q, want empty", got)
	}
}
