// Package bridge implements the asynchronous request/response session
// between the backend and one external contactless-reader process
// (spec.md §4.5), blending the teacher's gorilla/websocket hub pattern
// (internal/api/websocket.go: read pump, deadline discipline) with the
// correlation-table design of backend/bridge/nfc_bridge.py.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openspool/tagbridge-agent/internal/logging"
	"github.com/openspool/tagbridge-agent/internal/mifare"
)

// DefaultRequestTimeout is the bound applied to a request when the caller
// does not specify one (spec.md §4.5).
const DefaultRequestTimeout = 30 * time.Second

type slotResult struct {
	msg Message
	err error
}

// Session is the process-wide bridge singleton: it owns at most one active
// reader connection plus the two correlation tables described in spec.md
// §3. The zero value is not usable; construct with NewSession.
type Session struct {
	mu            sync.Mutex
	conn          Conn
	connEpoch     string
	deviceName    string
	pendingReads  map[string]chan slotResult
	pendingWrites map[string]chan slotResult
	nextID        int64

	// onTagDetected, if set, receives TAG_DATA frames that carry no
	// matching request id (an unsolicited scan) per spec.md §4.5.
	onTagDetected func(uid string, blocks [mifare.BlockCount][mifare.BlockSize]byte)
}

// NewSession constructs an empty bridge session with no active connection.
func NewSession() *Session {
	return &Session{
		pendingReads:  make(map[string]chan slotResult),
		pendingWrites: make(map[string]chan slotResult),
	}
}

// OnTagDetected registers a listener for unsolicited tag-data frames (a
// reader announcing a scan with no outstanding READ_TAG request).
func (s *Session) OnTagDetected(fn func(uid string, blocks [mifare.BlockCount][mifare.BlockSize]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTagDetected = fn
}

// IsConnected reports whether a reader is currently attached.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// DeviceName returns the name last announced by a STATUS frame, if any.
func (s *Session) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceName
}

// Accept installs conn as the active reader connection. Any prior
// connection is closed and every one of its pending correlation slots is
// resolved with ErrCancelled (spec.md §4.5 step 1, testable property 8).
// The receive loop runs on its own goroutine until the connection errors
// or is itself replaced.
func (s *Session) Accept(conn Conn) {
	epoch := uuid.NewString()

	s.mu.Lock()
	prior := s.conn
	priorReads := s.pendingReads
	priorWrites := s.pendingWrites
	s.conn = conn
	s.connEpoch = epoch
	s.deviceName = ""
	s.pendingReads = make(map[string]chan slotResult)
	s.pendingWrites = make(map[string]chan slotResult)
	s.mu.Unlock()

	if prior != nil {
		_ = prior.Close()
	}
	cancelMaps(priorReads, priorWrites, ErrCancelled)

	logging.Info(logging.CatBridge, "reader connected", map[string]any{"epoch": epoch})

	go s.receiveLoop(conn, epoch)
}

// receiveLoop owns the connection's read side; messages are processed in
// receive order (spec.md §5 "Ordering").
func (s *Session) receiveLoop(conn Conn, epoch string) {
	defer logging.RecoverAndLog("bridge.receiveLoop", false)

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			s.onConnectionLost(conn, epoch, err)
			return
		}
		s.dispatch(conn, epoch, msg)
	}
}

func (s *Session) onConnectionLost(conn Conn, epoch string, cause error) {
	s.mu.Lock()
	current := s.conn == conn && s.connEpoch == epoch
	var reads, writes map[string]chan slotResult
	if current {
		s.conn = nil
		s.connEpoch = ""
		reads, writes = s.pendingReads, s.pendingWrites
		s.pendingReads = make(map[string]chan slotResult)
		s.pendingWrites = make(map[string]chan slotResult)
	}
	s.mu.Unlock()

	if !current {
		// This connection was already replaced; Accept already cancelled
		// its slots and closed it, nothing further to do here.
		return
	}

	if cause == ErrProtocol {
		logging.Warn(logging.CatBridge, "reader protocol violation, closing session", nil)
	} else {
		logging.Info(logging.CatBridge, "reader disconnected", map[string]any{"cause": cause.Error()})
	}
	_ = conn.Close()
	cancelMaps(reads, writes, ErrCancelled)
}

func (s *Session) dispatch(conn Conn, epoch string, msg Message) {
	logging.Debug(logging.CatBridge, "received bridge message", map[string]any{"action": msg.Action})

	switch msg.Action {
	case ActionTagData:
		if !s.resolveRead(msg.RequestID, slotResult{msg: msg}) {
			s.notifyTagDetected(msg)
		}
	case ActionWriteResult:
		s.resolveWrite(msg.RequestID, slotResult{msg: msg})
	case ActionTagDetected:
		s.notifyTagDetected(msg)
	case ActionStatus:
		s.mu.Lock()
		if s.conn == conn && s.connEpoch == epoch {
			s.deviceName = msg.Device
		}
		s.mu.Unlock()
		logging.Info(logging.CatBridge, "reader status", map[string]any{"device": msg.Device})
	case ActionError:
		logging.Error(logging.CatBridge, "reader reported error", map[string]any{"message": msg.Error})
		err := fmt.Errorf("bridge: reader error: %s", msg.Error)
		s.cancelAll(err)
	default:
		logging.Warn(logging.CatBridge, "unknown bridge action, ignoring", map[string]any{"action": msg.Action})
	}
}

func (s *Session) notifyTagDetected(msg Message) {
	s.mu.Lock()
	listener := s.onTagDetected
	s.mu.Unlock()
	if listener == nil {
		return
	}
	blocks, err := decodeBlocks(msg.Blocks)
	if err != nil {
		return
	}
	listener(msg.UID, blocks)
}

// resolveRead delivers result to the pending read slot with the given id, if
// any, removing it from the session's current read table. Returns false if
// no such slot existed. The table is looked up under the same lock
// acquisition that removes the entry, so a concurrent Accept/onConnectionLost
// swapping in a fresh table cannot race this lookup.
func (s *Session) resolveRead(id string, result slotResult) bool {
	s.mu.Lock()
	ch, ok := s.pendingReads[id]
	if ok {
		delete(s.pendingReads, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- result
	return true
}

// resolveWrite is resolveRead for the write correlation table.
func (s *Session) resolveWrite(id string, result slotResult) bool {
	s.mu.Lock()
	ch, ok := s.pendingWrites[id]
	if ok {
		delete(s.pendingWrites, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- result
	return true
}

// cancelAll fails every currently pending request (both tables) with err
// and clears the tables.
func (s *Session) cancelAll(err error) {
	s.mu.Lock()
	reads := s.pendingReads
	writes := s.pendingWrites
	s.pendingReads = make(map[string]chan slotResult)
	s.pendingWrites = make(map[string]chan slotResult)
	s.mu.Unlock()

	cancelMaps(reads, writes, err)
}

// cancelMaps resolves every slot in the given tables with err. It takes the
// maps by value (a snapshot taken under the session's lock) so the caller
// can release the lock before the potentially-blocking sends below, without
// racing a concurrent request that registers into the session's *current*
// tables in the meantime.
func cancelMaps(reads, writes map[string]chan slotResult, err error) {
	for _, ch := range reads {
		ch <- slotResult{err: err}
	}
	for _, ch := range writes {
		ch <- slotResult{err: err}
	}
}

// ReadTag requests the attached reader perform a tag read and waits for the
// matching TAG_DATA response, up to timeout (spec.md §4.5, §4.6 testable
// properties 9, 10). A non-positive timeout uses DefaultRequestTimeout.
func (s *Session) ReadTag(ctx context.Context, timeout time.Duration) (uid []byte, blocks [mifare.BlockCount][mifare.BlockSize]byte, err error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return nil, blocks, ErrNotConnected
	}
	id := s.allocIDLocked()
	ch := make(chan slotResult, 1)
	table := s.pendingReads
	table[id] = ch
	s.mu.Unlock()

	if err := conn.WriteMessage(Message{Action: ActionReadTag, RequestID: id}); err != nil {
		s.removePending(table, id)
		return nil, blocks, err
	}

	result, err := s.await(ctx, ch, id, table, timeout)
	if err != nil {
		return nil, blocks, err
	}

	decoded, err := decodeBlocks(result.msg.Blocks)
	if err != nil {
		return nil, blocks, err
	}
	uidBytes, err := decodeUID(result.msg.UID)
	if err != nil {
		return nil, blocks, err
	}
	return uidBytes, decoded, nil
}

// WriteTag requests the attached reader write keys and blocks to a tag,
// optionally retargeting a magic (UID-writable) tag's UID, and waits for
// the matching WRITE_RESULT (spec.md §4.5).
func (s *Session) WriteTag(ctx context.Context, keys [mifare.SectorCount]string, blocks [mifare.BlockCount][mifare.BlockSize]byte, uid *string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	id := s.allocIDLocked()
	ch := make(chan slotResult, 1)
	table := s.pendingWrites
	table[id] = ch
	s.mu.Unlock()

	msg := Message{
		Action:    ActionWriteTag,
		RequestID: id,
		Keys:      keys[:],
		Blocks:    encodeBlocks(blocks),
	}
	if uid != nil {
		msg.UID = *uid
	}

	if err := conn.WriteMessage(msg); err != nil {
		s.removePending(table, id)
		return err
	}

	result, err := s.await(ctx, ch, id, table, timeout)
	if err != nil {
		return err
	}
	if result.msg.Success != nil && !*result.msg.Success {
		if result.msg.Error != "" {
			return fmt.Errorf("bridge: write failed: %s", result.msg.Error)
		}
		return fmt.Errorf("bridge: write failed")
	}
	return nil
}

// allocIDLocked is allocID for callers that already hold s.mu.
func (s *Session) allocIDLocked() string {
	s.nextID++
	return strconv.FormatInt(s.nextID, 10)
}

func (s *Session) removePending(table map[string]chan slotResult, id string) {
	s.mu.Lock()
	delete(table, id)
	s.mu.Unlock()
}

// await blocks on a pending slot until it resolves, the timeout elapses, or
// ctx is cancelled — whichever happens first removes the slot (spec.md §5
// "Resource scoping").
func (s *Session) await(ctx context.Context, ch chan slotResult, id string, table map[string]chan slotResult, timeout time.Duration) (slotResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		if result.err != nil {
			return slotResult{}, result.err
		}
		return result, nil
	case <-timer.C:
		s.removePending(table, id)
		return slotResult{}, ErrTimeout
	case <-ctx.Done():
		s.removePending(table, id)
		return slotResult{}, ctx.Err()
	}
}

func decodeBlocks(values []string) ([mifare.BlockCount][mifare.BlockSize]byte, error) {
	var out [mifare.BlockCount][mifare.BlockSize]byte
	if len(values) != mifare.BlockCount {
		return out, fmt.Errorf("bridge: expected %d blocks, got %d", mifare.BlockCount, len(values))
	}
	for i, v := range values {
		raw, err := base64.StdEncoding.DecodeString(v)
		if err != nil || len(raw) != mifare.BlockSize {
			return out, fmt.Errorf("bridge: invalid block %d in TAG_DATA frame", i)
		}
		copy(out[i][:], raw)
	}
	return out, nil
}

func encodeBlocks(blocks [mifare.BlockCount][mifare.BlockSize]byte) []string {
	out := make([]string, mifare.BlockCount)
	for i, b := range blocks {
		out[i] = base64.StdEncoding.EncodeToString(b[:])
	}
	return out
}

func decodeUID(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("bridge: invalid uid in TAG_DATA frame: %w", err)
	}
	return raw, nil
}
