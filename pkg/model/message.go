package model

import "time"

// ReadReceipt records one reader having seen a message. The readBy
// sequence on a message is append-only and deduplicated by ReaderID.
type ReadReceipt struct {
	ReaderID string    `json:"readerId"`
	Reader   string    `json:"reader"`
	ReadAt   time.Time `json:"readAt"`
}

// Message is the canonical, server-stamped chat message. ID is assigned
// exactly once by the server at submit time. TempID is the sender's
// reconciliation tag; it rides along on the echo but is never stored.
type Message struct {
	ID         int64         `json:"id"`
	TempID     string        `json:"tempId,omitempty"`
	Sender     string        `json:"sender"`
	SenderID   string        `json:"senderId"`
	Body       string        `json:"message,omitempty"`
	Attachment string        `json:"attachment,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	IsPrivate  bool          `json:"isPrivate,omitempty"`
	To         string        `json:"to,omitempty"`
	ReadBy     []ReadReceipt `json:"readBy"`
}

// HasReader reports whether reader already appears in the readBy sequence.
func (m *Message) HasReader(readerID string) bool {
	for _, r := range m.ReadBy {
		if r.ReaderID == readerID {
			return true
		}
	}
	return false
}
