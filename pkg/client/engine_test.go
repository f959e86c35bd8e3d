package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/samvad/pkg/model"
	"github.com/mahaj/samvad/pkg/wire"
)

type emitRecorder struct {
	mu     sync.Mutex
	events []string
	data   []interface{}
}

func (r *emitRecorder) emit(event string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.data = append(r.data, data)
}

func (r *emitRecorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func TestSubmitValidation(t *testing.T) {
	e := NewEngine("alice")
	_, err := e.SubmitLocal("", "", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, len(e.Messages()), "rejected send must not touch the timeline")

	req, err := e.SubmitLocal("", "data:image/png;base64,x", "")
	require.NoError(t, err)
	assert.NotEmpty(t, req.TempID)
	assert.Len(t, e.Messages(), 1)
}

func TestSendAckEchoAnyOrder(t *testing.T) {
	// Sender's view: optimistic entry collapses into exactly one
	// confirmed delivered entry whichever of ack and echo lands first.
	for name, ackFirst := range map[string]bool{"ack-first": true, "echo-first": false} {
		t.Run(name, func(t *testing.T) {
			e := NewEngine("alice")
			req, err := e.SubmitLocal("hi", "", "")
			require.NoError(t, err)

			echo := model.Message{ID: 1001, TempID: req.TempID, Sender: "alice", SenderID: "conn-a", Body: "hi"}
			ack := wire.SendAck{Status: "ok", ID: 1001, Timestamp: time.Now().UTC()}

			if ackFirst {
				e.OnAck(req.TempID, ack)
				e.OnReceive(echo)
			} else {
				e.OnReceive(echo)
				e.OnAck(req.TempID, ack)
			}
			e.OnDelivered(wire.Delivered{ID: 1001, DeliveredAt: time.Now().UTC()})

			msgs := e.Messages()
			require.Len(t, msgs, 1)
			assert.True(t, msgs[0].Confirmed)
			assert.True(t, msgs[0].Delivered)
			assert.Equal(t, int64(1001), msgs[0].Msg.ID)

			// Own message must never count as unread.
			assert.Zero(t, e.Unread("conn-a"))
		})
	}
}

func TestReceiverAppendsExactlyOnce(t *testing.T) {
	e := NewEngine("bob")
	msg := model.Message{ID: 1001, TempID: "t1", Sender: "alice", SenderID: "conn-a", Body: "hi"}
	e.OnReceive(msg)
	e.OnReceive(msg)

	msgs := e.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1001), msgs[0].Msg.ID)
}

func TestUnreadCounting(t *testing.T) {
	e := NewEngine("bob")

	e.OnReceive(model.Message{ID: 1, Sender: "alice", SenderID: "conn-a", Body: "one"})
	e.OnReceive(model.Message{ID: 2, Sender: "alice", SenderID: "conn-a", Body: "two"})
	assert.Equal(t, 2, e.Unread("conn-a"))

	// Duplicate delivery must not double-count.
	e.OnReceive(model.Message{ID: 2, Sender: "alice", SenderID: "conn-a", Body: "two"})
	assert.Equal(t, 2, e.Unread("conn-a"))

	// Focus switch resets; messages while focused do not accumulate.
	e.SetFocus("conn-a")
	assert.Zero(t, e.Unread("conn-a"))
	e.OnReceive(model.Message{ID: 3, Sender: "alice", SenderID: "conn-a", Body: "three"})
	assert.Zero(t, e.Unread("conn-a"))

	e.SetFocus("")
	e.OnReceive(model.Message{ID: 4, Sender: "alice", SenderID: "conn-a", Body: "four"})
	assert.Equal(t, 1, e.Unread("conn-a"))
}

func TestMarkVisibleEmitsOncePerMessage(t *testing.T) {
	e := NewEngine("bob")
	rec := &emitRecorder{}
	e.SetEmit(rec.emit)

	e.OnReceive(model.Message{ID: 9, Sender: "alice", SenderID: "conn-a", Body: "look"})

	e.MarkVisible(9)
	e.MarkVisible(9) // viewport re-trigger
	assert.Equal(t, 1, rec.count(wire.EventMessageRead))

	// Unknown message: nothing.
	e.MarkVisible(404)
	assert.Equal(t, 1, rec.count(wire.EventMessageRead))
}

func TestMarkVisibleNeverEmitsForOwnMessages(t *testing.T) {
	e := NewEngine("alice")
	rec := &emitRecorder{}
	e.SetEmit(rec.emit)

	req, err := e.SubmitLocal("mine", "", "")
	require.NoError(t, err)
	e.OnReceive(model.Message{ID: 5, TempID: req.TempID, Sender: "alice", SenderID: "conn-a", Body: "mine"})

	e.MarkVisible(5)
	assert.Zero(t, rec.count(wire.EventMessageRead))
}

func TestReadReceiptFoldDedups(t *testing.T) {
	e := NewEngine("alice")
	e.OnReceive(model.Message{ID: 5, Sender: "bob", SenderID: "conn-b", Body: "x"})

	e.OnRead(wire.ReadEvent{MessageID: 5, ReaderID: "conn-c", Reader: "carol"})
	e.OnRead(wire.ReadEvent{MessageID: 5, ReaderID: "conn-c", Reader: "carol"})

	msgs := e.Messages()
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0].Msg.ReadBy, 1)
}

func TestHistoryPrependDoesNotCountUnread(t *testing.T) {
	e := NewEngine("bob")
	page := []model.Message{
		{ID: 10, Sender: "alice", SenderID: "conn-a", Body: "old"},
		{ID: 20, Sender: "alice", SenderID: "conn-a", Body: "older"},
	}
	added, delta := e.PrependHistory(page, func(Entry) int { return 3 })
	assert.Equal(t, 2, added)
	assert.Equal(t, 6, delta)
	assert.Zero(t, e.Unread("conn-a"), "history is not new traffic")

	// A live re-broadcast of a history row is not new either.
	e.OnReceive(model.Message{ID: 10, Sender: "alice", SenderID: "conn-a", Body: "old"})
	assert.Zero(t, e.Unread("conn-a"))
	assert.Len(t, e.Messages(), 2)
}

func TestSystemNotices(t *testing.T) {
	e := NewEngine("alice")
	e.OnUserJoined(wire.Notice{Username: "bob", ID: "conn-b"})
	e.OnUserLeft(wire.Notice{Username: "bob", ID: "conn-b"})

	msgs := e.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].System)
	assert.Contains(t, msgs[0].Msg.Body, "joined")
	assert.Contains(t, msgs[1].Msg.Body, "left")
}

func TestRosterAndTypingViews(t *testing.T) {
	e := NewEngine("alice")
	e.OnUserList([]model.User{{ID: "c1", Username: "alice"}, {ID: "c2", Username: "bob"}})
	e.OnTypingUsers([]string{"bob"})

	assert.Len(t, e.Users(), 2)
	assert.Equal(t, []string{"bob"}, e.TypingUsers())

	e.OnTypingUsers(nil)
	assert.Empty(t, e.TypingUsers())
}
