package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/meshconf/conference-relay/internal/config"
	"github.com/meshconf/conference-relay/internal/turnrest"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg config.Config, turn *turnrest.Minter) (*Server, *httptest.Server) {
	t.Helper()
	s := New(cfg, testLogger(t), BuildInfo{Commit: "deadbeef", BuildTime: "2026-01-01T00:00:00Z"}, turn)
	ts := httptest.NewServer(s.srv.Handler)
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return resp, body
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, config.Config{}, nil)
	resp, body := getJSON(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if body["ok"] != true {
		t.Fatalf("body: got %v", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestReadyz_TracksServeLifecycle(t *testing.T) {
	s, ts := newTestServer(t, config.Config{}, nil)

	resp, _ := getJSON(t, ts.URL+"/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("before serve: got %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}

	s.ready.Store(true)
	resp, body := getJSON(t, ts.URL+"/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("after serve: got %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if body["ready"] != true {
		t.Fatalf("body: got %v", body)
	}
}

func TestReadyz_ReportsDeferredICEError(t *testing.T) {
	t.Setenv("MESHCONF_MODE", "dev")
	t.Setenv("MESHCONF_ICE_SERVERS_JSON", "{not json")
	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatal("expected deferred ICE config error in dev mode")
	}

	s, ts := newTestServer(t, cfg, nil)
	s.ready.Store(true)
	resp, body := getJSON(t, ts.URL+"/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
	if _, found := body["error"]; !found {
		t.Fatal("expected error detail in body")
	}
}

func TestVersion(t *testing.T) {
	_, ts := newTestServer(t, config.Config{}, nil)
	resp, body := getJSON(t, ts.URL+"/version")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if body["commit"] != "deadbeef" {
		t.Fatalf("commit: got %v", body["commit"])
	}
}

func TestICE_StaticServers(t *testing.T) {
	cfg := config.Config{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
	}
	_, ts := newTestServer(t, cfg, nil)
	resp, body := getJSON(t, ts.URL+"/api/v1/ice")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	servers, ok := body["iceServers"].([]any)
	if !ok || len(servers) != 1 {
		t.Fatalf("iceServers: got %v", body["iceServers"])
	}
}

func TestICE_MintsEphemeralTURNCredentials(t *testing.T) {
	turn, err := turnrest.NewMinter("shared-secret", "meshconf", time.Hour)
	if err != nil {
		t.Fatalf("NewMinter: %v", err)
	}
	cfg := config.Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
			{URLs: []string{"turn:turn.example.com:3478"}},
		},
	}
	_, ts := newTestServer(t, cfg, turn)
	_, body := getJSON(t, ts.URL+"/api/v1/ice")
	servers := body["iceServers"].([]any)
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}

	stun := servers[0].(map[string]any)
	if _, found := stun["username"]; found && stun["username"] != "" {
		t.Errorf("stun entry should not carry credentials: %v", stun)
	}
	turnEntry := servers[1].(map[string]any)
	username, _ := turnEntry["username"].(string)
	credential, _ := turnEntry["credential"].(string)
	if username == "" || credential == "" {
		t.Fatalf("turn entry missing minted credentials: %v", turnEntry)
	}
}

func TestWebSocketUpgradeThroughMiddleware(t *testing.T) {
	s := New(config.Config{}, testLogger(t), BuildInfo{}, nil)

	upgrader := websocket.Upgrader{}
	s.Mux().HandleFunc("GET /echo", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(msgType, data)
	})

	ts := httptest.NewServer(s.srv.Handler)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/echo"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial through middleware chain: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(data) != "ping" {
		t.Fatalf("echo: got %q", data)
	}
}

func TestICE_OriginPolicy(t *testing.T) {
	cfg := config.Config{
		AllowedOrigins: []string{"https://app.example.com"},
		ICEServers:     []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com"}}},
	}
	_, ts := newTestServer(t, cfg, nil)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/ice", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("disallowed origin: got %d, want %d", resp.StatusCode, http.StatusForbidden)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/v1/ice", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("allowed origin: got %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin: got %q", got)
	}
}
