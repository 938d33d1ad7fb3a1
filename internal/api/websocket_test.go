package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openspool/tagbridge-agent/internal/bridge"
)

func TestBridgeHandlerUpgradesAndConnects(t *testing.T) {
	s := bridge.NewSession()
	SetSession(s)
	defer SetSession(nil)

	server := httptest.NewServer(BridgeHandler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for !s.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !s.IsConnected() {
		t.Fatal("session did not report connected after websocket upgrade")
	}
}

func TestBridgeHandlerWithoutSessionRejects(t *testing.T) {
	SetSession(nil)

	server := httptest.NewServer(BridgeHandler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}
