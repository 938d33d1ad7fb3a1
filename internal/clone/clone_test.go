package clone

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openspool/tagbridge-agent/internal/bridge"
	"github.com/openspool/tagbridge-agent/internal/filament"
)

// stubConn is a minimal bridge.Conn fake driving just enough of the wire
// protocol for the clone pipeline's ReadTag/WriteTag calls.
type stubConn struct {
	mu       sync.Mutex
	sent     []bridge.Message
	toSend   chan bridge.Message
	writeErr error
}

func newStubConn() *stubConn {
	return &stubConn{toSend: make(chan bridge.Message, 16)}
}

func (c *stubConn) ReadMessage() (bridge.Message, error) {
	msg, ok := <-c.toSend
	if !ok {
		return bridge.Message{}, errors.New("stub: closed")
	}
	return msg, nil
}

func (c *stubConn) WriteMessage(msg bridge.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.toSend)
	return nil
}

func (c *stubConn) waitFor(action string) (bridge.Message, bool) {
	for i := 0; i < 200; i++ {
		c.mu.Lock()
		for _, m := range c.sent {
			if m.Action == action {
				c.mu.Unlock()
				return m, true
			}
		}
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	return bridge.Message{}, false
}

func zeroBlockValues() []string {
	out := make([]string, 64)
	b := make([]byte, 16)
	for i := range out {
		out[i] = base64.StdEncoding.EncodeToString(b)
	}
	return out
}

func TestPipelineLiveReadEditWrite(t *testing.T) {
	session := bridge.NewSession()
	conn := newStubConn()
	session.Accept(conn)
	time.Sleep(5 * time.Millisecond)

	go func() {
		req, ok := conn.waitFor(bridge.ActionReadTag)
		if !ok {
			return
		}
		conn.toSend <- bridge.Message{
			Action:    bridge.ActionTagData,
			RequestID: req.RequestID,
			UID:       "DEADBEEF",
			Blocks:    zeroBlockValues(),
		}
		write, ok := conn.waitFor(bridge.ActionWriteTag)
		if !ok {
			return
		}
		success := true
		conn.toSend <- bridge.Message{Action: bridge.ActionWriteResult, RequestID: write.RequestID, Success: &success}
	}()

	p := New(session, nil)
	result, err := p.Run(context.Background(), Request{
		Source: SourceLiveRead,
		Edits: func(fd *filament.FilamentData) {
			fd.FilamentType = filament.StringPtr("PLA")
		},
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Source.FilamentType == nil || *result.Source.FilamentType != "PLA" {
		t.Fatalf("edit was not applied to source record")
	}

	writeReq, ok := conn.waitFor(bridge.ActionWriteTag)
	if !ok {
		t.Fatal("no WRITE_TAG was sent to the bridge")
	}
	if writeReq.UID != "DEADBEEF" {
		t.Errorf("write UID = %q, want DEADBEEF", writeReq.UID)
	}
	if len(writeReq.Keys) != 16 {
		t.Errorf("write carried %d sector keys, want 16", len(writeReq.Keys))
	}
}

func TestPipelineRejectsInvalidUID(t *testing.T) {
	session := bridge.NewSession()
	conn := newStubConn()
	session.Accept(conn)
	time.Sleep(5 * time.Millisecond)

	go func() {
		req, ok := conn.waitFor(bridge.ActionReadTag)
		if !ok {
			return
		}
		conn.toSend <- bridge.Message{
			Action:    bridge.ActionTagData,
			RequestID: req.RequestID,
			UID:       "00000000", // all-zero UID is invalid per mifare.ValidUID
			Blocks:    zeroBlockValues(),
		}
	}()

	p := New(session, nil)
	_, err := p.Run(context.Background(), Request{Source: SourceLiveRead, Timeout: time.Second})
	if !errors.Is(err, ErrInvalidUID) {
		t.Fatalf("Run error = %v, want ErrInvalidUID", err)
	}
}

func TestPipelineCatalogSourceRequiresEntry(t *testing.T) {
	session := bridge.NewSession()
	p := New(session, nil)
	_, err := p.Run(context.Background(), Request{Source: SourceCatalog})
	if !errors.Is(err, ErrNoCatalogEntry) {
		t.Fatalf("Run error = %v, want ErrNoCatalogEntry", err)
	}
}
