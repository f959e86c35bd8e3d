package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/mahaj/samvad/pkg/auth"
	"github.com/mahaj/samvad/pkg/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Attachments ride in the
	// message body as base64 text.
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsSession is the middleman between one websocket connection and the hub.
type wsSession struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	id        string
	closeOnce sync.Once
}

func (s *wsSession) ID() string { return s.id }

// Send queues a frame without blocking; false means the session is too
// slow and should be dropped.
func (s *wsSession) Send(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Close flushes queued frames and then tears the transport down: the
// write pump drains the channel in order and sends a close frame when it
// sees the channel closed.
func (s *wsSession) Close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// readPump pumps events from the websocket connection into the hub.
func (s *wsSession) readPump() {
	defer func() {
		s.hub.Unregister(s.id)
		s.Close()
		s.conn.Close()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.WithError(err).WithField("conn", s.id).Warn("websocket read error")
			}
			return
		}

		env, err := wire.Decode(raw)
		if err != nil {
			log.WithError(err).WithField("conn", s.id).Warn("dropping undecodable frame")
			continue
		}
		s.dispatch(env)
	}
}

// dispatch routes one decoded envelope to its hub handler.
func (s *wsSession) dispatch(env wire.Envelope) {
	switch env.Event {
	case wire.EventUserJoin:
		var username string
		if err := json.Unmarshal(env.Data, &username); err != nil {
			log.WithError(err).Warn("bad user_join payload")
			return
		}
		s.hub.HandleJoin(s.id, username)

	case wire.EventUpdateProfile:
		var req wire.ProfileUpdate
		if err := json.Unmarshal(env.Data, &req); err != nil {
			log.WithError(err).Warn("bad update_profile payload")
			return
		}
		s.hub.HandleProfile(s.id, req)

	case wire.EventSendMessage:
		var req wire.SendRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			log.WithError(err).Warn("bad send_message payload")
			return
		}
		s.hub.HandleSend(s.id, req, env.Seq)

	case wire.EventPrivateMessage:
		var req wire.PrivateRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			log.WithError(err).Warn("bad private_message payload")
			return
		}
		s.hub.HandlePrivate(s.id, req, env.Seq)

	case wire.EventTyping:
		var isTyping bool
		if err := json.Unmarshal(env.Data, &isTyping); err != nil {
			log.WithError(err).Warn("bad typing payload")
			return
		}
		s.hub.HandleTyping(s.id, isTyping)

	case wire.EventMessageRead:
		var req wire.ReadRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			log.WithError(err).Warn("bad message_read payload")
			return
		}
		s.hub.HandleRead(s.id, req)

	case wire.EventLogout:
		s.hub.HandleLogout(s.id, env.Seq)

	default:
		log.WithFields(log.Fields{"conn": s.id, "event": env.Event}).Warn("unknown event")
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (s *wsSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS handles websocket requests from clients. A token is optional:
// a valid one pre-seeds nothing on the server side beyond logging, an
// invalid one is rejected, and none at all is an anonymous connection
// that still must announce itself with user_join.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
		tokenString = tokenString[7:]
	}
	if tokenString != "" {
		claims, err := auth.ValidateToken(tokenString)
		if err != nil {
			log.WithError(err).Warn("rejecting websocket with invalid token")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		log.WithField("username", claims.Username).Info("token-authenticated websocket")
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	s := &wsSession{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
		id:   uuid.NewString(),
	}
	hub.Register(s)

	go s.writePump()
	go s.readPump()
}
