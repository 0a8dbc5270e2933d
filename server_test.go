package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	srv    *httptest.Server
	attr   *ModeAttribute
	drv    *SimDriver
	events *EventLogger
}

// syncBuffer is a bytes.Buffer safe for the server goroutines to log into.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func cheapHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newTestServer(t *testing.T, rl RateLimitConfig) *testServer {
	t.Helper()
	return newTestServerWithLogger(t, rl, testLogger(t))
}

func newTestServerWithLogger(t *testing.T, rl RateLimitConfig, logger *slog.Logger) *testServer {
	t.Helper()
	dir := t.TempDir()
	cm := NewConfigManager(filepath.Join(dir, "config.yaml"))
	cm.cfg = Config{
		HTTPPort:  8443,
		GPIO:      GPIOConfig{Pin: DefaultPin, Driver: DriverSim},
		LogFile:   filepath.Join(dir, "events.log"),
		RateLimit: rl,
		Users: []User{
			{Username: "admin", PasswordHash: cheapHash(t, "admin"), Admin: true},
			{Username: "op", PasswordHash: cheapHash(t, "op")},
		},
	}
	cm.loaded = true

	events := NewEventLogger(cm.cfg.LogFile)
	drv := NewSimDriver()
	reg := NewAttributeRegistry(0)
	attr := NewModeAttribute(NewPinConfig(DefaultPin), drv, reg, testLogger(t),
		WithEventLogger(events), WithChangeHandlers(LogHandler{}))
	require.NoError(t, attr.Init())
	t.Cleanup(attr.Exit)

	s := NewServer(cm, reg, attr, drv, events, logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testServer{srv: ts, attr: attr, drv: drv, events: events}
}

func (ts *testServer) do(t *testing.T, method, path, body, user, pass string) (*http.Response, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(t, err)
	if user != "" {
		req.SetBasicAuth(user, pass)
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

const modeURL = "/sys/ebb/gpio76/mode"

func TestServer_ReadMode(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})
	resp, body := ts.do(t, http.MethodGet, modeURL, "", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "on\n", body)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
}

func TestServer_WriteMode(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})

	resp, _ := ts.do(t, http.MethodPut, modeURL, "0\n", "op", "op")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("X-Bytes-Written"))

	_, body := ts.do(t, http.MethodGet, modeURL, "", "", "")
	assert.Equal(t, "off\n", body)
	lvl, _ := ts.drv.Level(76)
	assert.Equal(t, Low, lvl)

	resp, _ = ts.do(t, http.MethodPost, modeURL, "1", "admin", "admin")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, ModeOn, ts.attr.Mode())
}

func TestServer_WriteRequiresCredentials(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})

	resp, _ := ts.do(t, http.MethodPut, modeURL, "0", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	resp, _ = ts.do(t, http.MethodPut, modeURL, "0", "op", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, ModeOn, ts.attr.Mode())
}

func TestServer_WriteErrors(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})

	resp, _ := ts.do(t, http.MethodPut, modeURL, "7", "op", "op")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ts.drv.FailSet = errors.New("bus error")
	resp, _ = ts.do(t, http.MethodPut, modeURL, "0", "op", "op")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	ts.drv.FailSet = nil

	resp, _ = ts.do(t, http.MethodPut, "/sys/ebb/gpio99/mode", "0", "op", "op")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPut, modeURL, strings.Repeat("0", maxWriteSize+1), "op", "op")
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, modeURL, "", "op", "op")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	_, body := ts.do(t, http.MethodGet, modeURL, "", "", "")
	assert.Equal(t, "on\n", body)
}

func TestServer_Listings(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})

	_, body := ts.do(t, http.MethodGet, "/sys/", "", "", "")
	var groups []GroupInfo
	require.NoError(t, json.Unmarshal([]byte(body), &groups))
	assert.Equal(t, []GroupInfo{{Path: "ebb/gpio76", Attributes: []string{"mode"}}}, groups)

	_, body = ts.do(t, http.MethodGet, "/sys/class/gpio", "", "", "")
	var exported []struct {
		Pin  int    `json:"pin"`
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &exported))
	require.Len(t, exported, 1)
	assert.Equal(t, "gpio76", exported[0].Name)
}

func TestServer_Status(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})
	_, body := ts.do(t, http.MethodGet, "/api/status", "", "", "")
	var st Status
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, Status{Pin: 76, Name: "gpio76", Mode: "on", Path: "/sys/ebb/gpio76/mode", Driver: DriverSim}, st)

	ts.attr.Exit()
	_, body = ts.do(t, http.MethodGet, "/api/status", "", "", "")
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, "inactive", st.Mode)

	resp, _ := ts.do(t, http.MethodGet, modeURL, "", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Logs(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{})
	ts.do(t, http.MethodPut, modeURL, "0", "op", "op")
	require.Eventually(t, func() bool {
		lines, err := ts.events.Tail(1)
		return err == nil && len(lines) == 1 && strings.Contains(lines[0], "mode gpio76")
	}, time.Second, 5*time.Millisecond)

	resp, _ := ts.do(t, http.MethodGet, "/api/logs", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/logs", "", "op", "op")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/api/logs?lines=1", "", "admin", "admin")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lines []string
	require.NoError(t, json.Unmarshal([]byte(body), &lines))
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "mode gpio76: on -> off by op")
}

func TestServer_RateLimit(t *testing.T) {
	ts := newTestServer(t, RateLimitConfig{RequestsPerMin: 1, Burst: 2})

	for i := 0; i < 2; i++ {
		resp, _ := ts.do(t, http.MethodPut, modeURL, "1", "op", "op")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	resp, _ := ts.do(t, http.MethodPut, modeURL, "0", "op", "op")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, ModeOn, ts.attr.Mode())

	// Reads are not limited.
	resp, _ = ts.do(t, http.MethodGet, modeURL, "", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_WarnsOnPlainHTTPCredentials(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	ts := newTestServerWithLogger(t, RateLimitConfig{}, logger)

	ts.do(t, http.MethodGet, modeURL, "", "", "")
	assert.NotContains(t, out.String(), "without TLS", "anonymous reads carry no credentials")

	for i := 0; i < 2; i++ {
		resp, _ := ts.do(t, http.MethodPut, modeURL, "0", "op", "op")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	assert.Equal(t, 1, strings.Count(out.String(), "basic auth credentials accepted without TLS"))
}

func TestServer_StartWarnsWithoutTLS(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	cm := NewConfigManager(filepath.Join(t.TempDir(), "config.yaml"))
	cm.cfg = Config{
		GPIO:  GPIOConfig{Pin: DefaultPin, Driver: DriverSim},
		Users: []User{{Username: "admin", PasswordHash: cheapHash(t, "admin"), Admin: true}},
	}
	cm.loaded = true
	drv := NewSimDriver()
	reg := NewAttributeRegistry(0)
	attr := NewModeAttribute(NewPinConfig(DefaultPin), drv, reg, logger)
	s := NewServer(cm, reg, attr, drv, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Start(ctx))
	assert.Contains(t, out.String(), "serving plain HTTP")
}
