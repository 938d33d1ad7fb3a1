package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/openspool/tagbridge-agent/internal/bridge"
	"github.com/openspool/tagbridge-agent/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local-only service; no browser origin to police
	},
}

// signalingConn wraps a bridge.Conn and closes done the first time Close is
// called, so the handler that owns the underlying HTTP connection knows
// when the session has finished with it (disconnected, or replaced by a
// newer reader via Session.Accept).
type signalingConn struct {
	bridge.Conn
	once sync.Once
	done chan struct{}
}

func (c *signalingConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { close(c.done) })
	return err
}

// BridgeHandler upgrades the single bridge connection (spec.md §4.5) at
// /v1/bridge and hands it to the process-wide Session. Mirrors the
// teacher's websocket.go upgrade/readPump/writePump split, collapsed to one
// handler now that there is one connection of interest rather than a hub
// broadcasting to many browser clients.
func BridgeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if session == nil {
			http.Error(w, "bridge session not initialized", http.StatusServiceUnavailable)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn(logging.CatBridge, "websocket upgrade failed", map[string]any{"error": err.Error()})
			return
		}

		raw := bridge.NewWebsocketConn(ws)
		done := make(chan struct{})
		session.Accept(&signalingConn{Conn: raw, done: done})

		stop := make(chan struct{})
		go bridge.KeepAlive(raw, stop)

		<-done
		close(stop)
	}
}
