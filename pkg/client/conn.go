package client

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/mahaj/samvad/pkg/model"
	"github.com/mahaj/samvad/pkg/wire"
)

const (
	// Automatic reconnection: fixed backoff, capped attempts. After the
	// cap the connection reports disconnected and stays down.
	reconnectAttempts = 5
	reconnectDelay    = time.Second

	// How long a send waits for its direct ack. The broadcast echo can
	// still confirm the entry after this elapses.
	ackTimeout = 5 * time.Second

	// Ack-or-timeout bound for logout; either branch collapses to the
	// logged-out state.
	logoutTimeout = 2 * time.Second
)

// ErrClosed is returned by requests on a connection that was shut down.
var ErrClosed = errors.New("client: connection closed")

// Conn drives one logical connection to the relay, surviving transport
// drops by redialing with fixed backoff. There is no session
// resumption: every successful (re)connect re-announces the join, and
// ack waiters registered on the previous transport are abandoned.
type Conn struct {
	url    string
	header http.Header
	engine *Engine

	// onStatus, if set, observes connectivity flips. Informational only.
	onStatus func(connected bool)

	mu     sync.Mutex
	ws     *websocket.Conn
	seq    uint64
	acks   map[uint64]chan json.RawMessage
	closed bool
	done   chan struct{}
}

// Dial connects to the relay websocket endpoint, announces the engine's
// identity, and starts the read loop. A non-empty token is presented on
// the handshake.
func Dial(wsURL, token string, engine *Engine, onStatus func(bool)) (*Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	c := &Conn{
		url:      wsURL,
		header:   header,
		engine:   engine,
		onStatus: onStatus,
		acks:     make(map[uint64]chan json.RawMessage),
		done:     make(chan struct{}),
	}

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		return nil, err
	}
	c.ws = ws

	engine.SetEmit(c.Emit)
	c.announce()
	c.status(true)
	go c.readLoop()
	return c, nil
}

// announce re-joins after every (re)connect; presence is never implicit.
func (c *Conn) announce() {
	c.Emit(wire.EventUserJoin, c.engine.Username())
}

func (c *Conn) status(connected bool) {
	if c.onStatus != nil {
		c.onStatus(connected)
	}
}

// Emit writes a fire-and-forget event.
func (c *Conn) Emit(event string, data interface{}) {
	if err := c.write(event, 0, data); err != nil {
		log.WithError(err).WithField("event", event).Warn("emit failed")
	}
}

func (c *Conn) write(event string, seq uint64, data interface{}) error {
	frame, err := wire.Encode(event, seq, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.ws == nil {
		return ErrClosed
	}
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// request writes an event that expects an ack and waits for it. A
// dropped transport abandons the waiter; the caller falls back to its
// timeout branch.
func (c *Conn) request(event string, data interface{}, timeout time.Duration) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.acks[seq] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.acks, seq)
		c.mu.Unlock()
	}()

	if err := c.write(event, seq, data); err != nil {
		return nil, err
	}

	select {
	case raw := <-ch:
		return raw, nil
	case <-time.After(timeout):
		return nil, errors.New("client: ack timeout")
	case <-c.done:
		return nil, ErrClosed
	}
}

// SendChat appends the optimistic entry and emits send_message. The ack
// is folded asynchronously; if it never arrives the broadcast echo
// still reconciles the entry.
func (c *Conn) SendChat(body, attachment, to string) (string, error) {
	req, err := c.engine.SubmitLocal(body, attachment, to)
	if err != nil {
		return "", err
	}

	go func() {
		raw, err := c.request(wire.EventSendMessage, req, ackTimeout)
		if err != nil {
			log.WithError(err).WithField("tempId", req.TempID).Warn("send ack not received")
			return
		}
		var ack wire.SendAck
		if err := json.Unmarshal(raw, &ack); err != nil {
			log.WithError(err).Warn("bad send ack payload")
			return
		}
		c.engine.OnAck(req.TempID, ack)
	}()

	return req.TempID, nil
}

// SendPrivate emits a dedicated private_message. Private sends are not
// rendered optimistically; the pair echo carries them back.
func (c *Conn) SendPrivate(to, message string) {
	go func() {
		if _, err := c.request(wire.EventPrivateMessage, wire.PrivateRequest{To: to, Message: message}, ackTimeout); err != nil {
			log.WithError(err).Warn("private ack not received")
		}
	}()
}

// Typing reports a typing-state change.
func (c *Conn) Typing(isTyping bool) {
	c.Emit(wire.EventTyping, isTyping)
}

// UpdateProfile mutates the server-side presence entry.
func (c *Conn) UpdateProfile(username, avatar string) {
	c.Emit(wire.EventUpdateProfile, wire.ProfileUpdate{Username: username, Avatar: avatar})
}

// Logout requests an acknowledged logout and waits at most
// logoutTimeout for it; the acknowledgement can be lost on a closing
// transport, so both branches proceed to the closed state. It reports
// whether the ack arrived.
func (c *Conn) Logout() bool {
	_, err := c.request(wire.EventLogout, nil, logoutTimeout)
	c.Close()
	return err == nil
}

// Close shuts the connection down for good; no reconnection follows.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		ws.Close()
	}
	c.status(false)
}

func (c *Conn) readLoop() {
	for {
		c.mu.Lock()
		ws := c.ws
		closed := c.closed
		c.mu.Unlock()
		if closed || ws == nil {
			return
		}

		_, raw, err := ws.ReadMessage()
		if err != nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		env, err := wire.Decode(raw)
		if err != nil {
			log.WithError(err).Warn("dropping undecodable frame")
			continue
		}
		c.dispatch(env)
	}
}

// reconnect redials with fixed backoff up to the attempt cap. Pending
// ack waiters from the old transport are abandoned, the join is
// re-announced, and the engine's timeline carries over untouched.
func (c *Conn) reconnect() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.acks = make(map[uint64]chan json.RawMessage)
	c.mu.Unlock()
	c.status(false)

	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(reconnectDelay):
		}

		ws, _, err := websocket.DefaultDialer.Dial(c.url, c.header)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("reconnect failed")
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			ws.Close()
			return false
		}
		c.ws = ws
		c.mu.Unlock()

		c.announce()
		c.status(true)
		log.WithField("attempt", attempt).Info("reconnected")
		return true
	}

	log.Warn("reconnect attempts exhausted")
	return false
}

func (c *Conn) dispatch(env wire.Envelope) {
	switch env.Event {
	case wire.EventAck:
		c.mu.Lock()
		ch, ok := c.acks[env.Seq]
		if ok {
			delete(c.acks, env.Seq)
		}
		c.mu.Unlock()
		if ok {
			ch <- env.Data
		}

	case wire.EventReceiveMessage, wire.EventPrivateMessage:
		var msg model.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			log.WithError(err).Warn("bad message payload")
			return
		}
		c.engine.OnReceive(msg)

	case wire.EventMessageDelivered:
		var d wire.Delivered
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return
		}
		c.engine.OnDelivered(d)

	case wire.EventMessageRead:
		var ev wire.ReadEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return
		}
		c.engine.OnRead(ev)

	case wire.EventUserList:
		var users []model.User
		if err := json.Unmarshal(env.Data, &users); err != nil {
			return
		}
		c.engine.OnUserList(users)

	case wire.EventUserJoined:
		var n wire.Notice
		if err := json.Unmarshal(env.Data, &n); err != nil {
			return
		}
		c.engine.OnUserJoined(n)

	case wire.EventUserLeft:
		var n wire.Notice
		if err := json.Unmarshal(env.Data, &n); err != nil {
			return
		}
		c.engine.OnUserLeft(n)

	case wire.EventTypingUsers:
		var names []string
		if err := json.Unmarshal(env.Data, &names); err != nil {
			return
		}
		c.engine.OnTypingUsers(names)

	default:
		log.WithField("event", env.Event).Debug("ignoring unknown event")
	}
}
