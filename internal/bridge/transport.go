package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn abstracts the bidirectional text-frame channel to one reader
// process, the same way core/interfaces.go abstracted smart-card access in
// the teacher for testability: production code talks to a
// *websocketConn, tests talk to an in-memory fake.
type Conn interface {
	ReadMessage() (Message, error)
	WriteMessage(Message) error
	Close() error
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // generous bound on one JSON frame
)

// websocketConn adapts a *websocket.Conn to the Conn interface, carrying
// forward the teacher's ping/pong keepalive and deadline discipline from
// internal/api/websocket.go's readPump/writePump. writeMu serializes every
// write to ws — gorilla allows at most one concurrent writer per
// connection, and both message writes and KeepAlive's pings share this
// connection.
type websocketConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewWebsocketConn wraps an upgraded websocket connection as a bridge Conn.
func NewWebsocketConn(ws *websocket.Conn) Conn {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &websocketConn{ws: ws}
}

func (c *websocketConn) ReadMessage() (Message, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, ErrProtocol
	}
	if msg.Action == "" {
		return Message{}, ErrProtocol
	}
	return msg, nil
}

func (c *websocketConn) WriteMessage(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *websocketConn) writePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

func (c *websocketConn) Close() error {
	return c.ws.Close()
}

// KeepAlive runs the ping loop for a websocket-backed connection until stop
// is closed or a ping fails; mirrors the teacher's writePump ticker. Pings
// go through writePing so they serialize against concurrent WriteMessage
// calls on the same connection instead of writing to the socket directly.
func KeepAlive(conn Conn, stop <-chan struct{}) {
	wc, ok := conn.(*websocketConn)
	if !ok {
		return
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := wc.writePing(); err != nil {
				return
			}
		}
	}
}
