package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/samvad/pkg/model"
	"github.com/mahaj/samvad/pkg/wire"
)

// ErrEmptyMessage rejects a send with neither body nor attachment
// before anything reaches the wire.
var ErrEmptyMessage = errors.New("client: message needs a body or an attachment")

// EmitFunc carries an event toward the server. The engine itself never
// touches the transport; the connection plugs itself in here.
type EmitFunc func(event string, data interface{})

// Engine exclusively owns the client's message sequence and everything
// derived from it: unread counters, the read-emission guard, and the
// presence/typing views. All handlers run under one lock, mirroring the
// single-threaded event processing of the protocol.
type Engine struct {
	mu sync.Mutex

	username string
	emit     EmitFunc

	timeline Timeline
	users    []model.User
	typing   []string

	// unread counts per peer connection identity, reset on focus switch.
	unread map[string]int
	focus  string
	seen   map[string]bool

	// read receipts already emitted this session, keyed by message id.
	readSent map[int64]bool
}

// NewEngine creates an engine for the given display name. The name is
// how the engine recognizes its own authored messages in broadcasts.
func NewEngine(username string) *Engine {
	return &Engine{
		username: username,
		emit:     func(string, interface{}) {},
		unread:   make(map[string]int),
		seen:     make(map[string]bool),
		readSent: make(map[int64]bool),
	}
}

// SetEmit wires the outbound path. Called by the connection once per
// (re)connect; a reconnect voids nothing here, the timeline survives.
func (e *Engine) SetEmit(emit EmitFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emit = emit
}

// Username returns the display name the engine was created with.
func (e *Engine) Username() string { return e.username }

// SubmitLocal validates a compose and appends the optimistic pending
// entry. The returned request carries the generated temp id; the caller
// emits it as send_message.
func (e *Engine) SubmitLocal(body, attachment, to string) (wire.SendRequest, error) {
	if body == "" && attachment == "" {
		return wire.SendRequest{}, ErrEmptyMessage
	}

	tempID := fmt.Sprintf("t-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	req := wire.SendRequest{
		TempID:     tempID,
		Message:    body,
		Attachment: attachment,
		To:         to,
		IsPrivate:  to != "",
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeline.AppendPending(tempID, model.Message{
		TempID:     tempID,
		Sender:     e.username,
		Body:       body,
		Attachment: attachment,
		To:         to,
		IsPrivate:  to != "",
		Timestamp:  time.Now().UTC(),
		ReadBy:     []model.ReadReceipt{},
	})
	return req, nil
}

// OnAck folds the direct send acknowledgement for a temp id.
func (e *Engine) OnAck(tempID string, ack wire.SendAck) {
	if ack.Status != "ok" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeline.MergeAck(tempID, ack.ID, ack.Timestamp)
	e.markSeen(ack.ID, tempID)
}

// OnReceive folds a broadcast or private message and keeps the unread
// counters: a non-own arrival increments its sender's count unless that
// peer currently has conversation focus.
func (e *Engine) OnReceive(msg model.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.timeline.MergeEcho(msg)

	own := msg.Sender == e.username
	key := seenKey(msg)
	if key == "" || e.seen[key] {
		return
	}
	e.seen[key] = true
	if own {
		return
	}
	if e.focus != msg.SenderID {
		e.unread[msg.SenderID]++
	}
}

// OnDelivered folds the sender-only delivery confirmation.
func (e *Engine) OnDelivered(d wire.Delivered) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeline.MergeDelivered(d.ID, d.DeliveredAt)
}

// OnRead folds a broadcast read receipt.
func (e *Engine) OnRead(ev wire.ReadEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeline.FoldRead(ev.MessageID, model.ReadReceipt{
		ReaderID: ev.ReaderID,
		Reader:   ev.Reader,
		ReadAt:   time.Now().UTC(),
	})
}

// OnUserList replaces the roster view.
func (e *Engine) OnUserList(users []model.User) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.users = users
}

// OnUserJoined appends a local system notice.
func (e *Engine) OnUserJoined(n wire.Notice) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeline.AppendSystem(n.Username+" joined the chat", time.Now().UTC())
}

// OnUserLeft appends a local system notice.
func (e *Engine) OnUserLeft(n wire.Notice) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeline.AppendSystem(n.Username+" left the chat", time.Now().UTC())
}

// OnTypingUsers replaces the typing view with the full broadcast list.
func (e *Engine) OnTypingUsers(names []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.typing = names
}

// MarkVisible emits a read receipt the first time a message becomes
// substantially visible. Repeated visibility re-emits nothing, and the
// engine never emits for its own authored messages.
func (e *Engine) MarkVisible(messageID int64) {
	e.mu.Lock()
	entry, ok := e.timeline.Find(messageID)
	if !ok || entry.System || entry.Msg.Sender == e.username || e.readSent[messageID] {
		e.mu.Unlock()
		return
	}
	e.readSent[messageID] = true
	emit := e.emit
	e.mu.Unlock()

	emit(wire.EventMessageRead, wire.ReadRequest{MessageID: messageID})
}

// SetFocus switches the active conversation peer and resets its unread
// count.
func (e *Engine) SetFocus(peerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.focus = peerID
	if peerID != "" {
		e.unread[peerID] = 0
	}
}

// Unread returns the pending count for one peer.
func (e *Engine) Unread(peerID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unread[peerID]
}

// PrependHistory merges an older page into the front of the timeline
// and returns the scroll-anchor height delta for the inserted rows.
func (e *Engine) PrependHistory(msgs []model.Message, measure HeightFunc) (added, heightDelta int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, msg := range msgs {
		if key := seenKey(msg); key != "" {
			e.seen[key] = true
		}
	}
	return e.timeline.PrependHistory(msgs, measure)
}

// Messages returns a snapshot of the timeline.
func (e *Engine) Messages() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeline.Entries()
}

// Users returns the current roster view.
func (e *Engine) Users() []model.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.User, len(e.users))
	copy(out, e.users)
	return out
}

// TypingUsers returns the current typing view.
func (e *Engine) TypingUsers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.typing))
	copy(out, e.typing)
	return out
}

func (e *Engine) markSeen(id int64, tempID string) {
	if id != 0 {
		e.seen[fmt.Sprintf("id:%d", id)] = true
	}
	if tempID != "" {
		e.seen["tmp:"+tempID] = true
	}
}

func seenKey(msg model.Message) string {
	if msg.ID != 0 {
		return fmt.Sprintf("id:%d", msg.ID)
	}
	if msg.TempID != "" {
		return "tmp:" + msg.TempID
	}
	return ""
}
