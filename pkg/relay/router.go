package relay

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mahaj/samvad/pkg/model"
	"github.com/mahaj/samvad/pkg/wire"
)

// anonymousName is the display identity for senders that never joined.
const anonymousName = "Anonymous"

// persistTimeout bounds the asynchronous store append; by then the
// message has already been broadcast and acknowledged.
const persistTimeout = 10 * time.Second

// HandleSend is the message router. Side effects, in order: stamp,
// fan out (everyone, or the private pair), acknowledge the origin,
// confirm delivery to the origin, then persist asynchronously. A store
// failure loses the message from history but never from live delivery.
func (h *Hub) HandleSend(connID string, req wire.SendRequest, seq uint64) {
	if req.Message == "" && req.Attachment == "" {
		// The client rejects these before emission; drop quietly if one
		// arrives anyway.
		log.WithField("conn", connID).Warn("ignoring empty send_message")
		return
	}

	h.mu.Lock()
	msg := h.stampLocked(connID, req.Message, req.Attachment, req.TempID, req.To)

	if msg.IsPrivate {
		h.deliverPairLocked(wire.EventReceiveMessage, msg)
	} else {
		frame, err := wire.Encode(wire.EventReceiveMessage, 0, msg)
		if err != nil {
			log.WithError(err).Error("failed to encode message broadcast")
		} else {
			h.broadcastLocked(frame)
		}
	}

	h.emitLocked(wire.EventAck, seq, wire.SendAck{Status: "ok", ID: msg.ID, Timestamp: msg.Timestamp}, connID)
	h.emitLocked(wire.EventMessageDelivered, 0, wire.Delivered{ID: msg.ID, DeliveredAt: time.Now().UTC()}, connID)

	// Marked in flight before any session can see the id, so a read
	// receipt racing the append is parked instead of dropped.
	if !msg.IsPrivate {
		h.beginPersist(msg.ID)
	}
	h.mu.Unlock()

	// Private messages are excluded from durable history by contract.
	if !msg.IsPrivate {
		go h.persist(msg)
	}
}

// HandlePrivate is the dedicated private_message operation: pair-only
// delivery, acknowledged, never persisted.
func (h *Hub) HandlePrivate(connID string, req wire.PrivateRequest, seq uint64) {
	if req.Message == "" {
		log.WithField("conn", connID).Warn("ignoring empty private_message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	msg := h.stampLocked(connID, req.Message, "", "", req.To)
	h.deliverPairLocked(wire.EventPrivateMessage, msg)
	h.emitLocked(wire.EventAck, seq, wire.SendAck{Status: "ok", ID: msg.ID, Timestamp: msg.Timestamp}, connID)
}

// stampLocked assigns the server identity of a message: ID, sender
// display name, and creation time.
func (h *Hub) stampLocked(connID, body, attachment, tempID, to string) model.Message {
	sender := anonymousName
	if u, ok := h.registry.Get(connID); ok {
		sender = u.Username
	}
	return model.Message{
		ID:         h.ids.Generate(),
		TempID:     tempID,
		Sender:     sender,
		SenderID:   connID,
		Body:       body,
		Attachment: attachment,
		Timestamp:  time.Now().UTC(),
		IsPrivate:  to != "",
		To:         to,
		ReadBy:     []model.ReadReceipt{},
	}
}

// deliverPairLocked sends a private message to its recipient and echoes
// it to the sender.
func (h *Hub) deliverPairLocked(event string, msg model.Message) {
	frame, err := wire.Encode(event, 0, msg)
	if err != nil {
		log.WithError(err).Error("failed to encode private message")
		return
	}
	h.sendToLocked(msg.To, frame)
	if msg.To != msg.SenderID {
		h.sendToLocked(msg.SenderID, frame)
	}
}

func (h *Hub) persist(msg model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := h.store.Append(ctx, msg); err != nil {
		log.WithError(err).WithField("id", msg.ID).Error("failed to persist message")
	}
	if h.firehose != nil {
		h.firehose.Publish(ctx, msg)
	}
	for _, rr := range h.finishPersist(msg.ID) {
		h.recordReceipt(msg.ID, rr)
	}
}
