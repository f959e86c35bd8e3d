// Package store is the append-only message log. Messages are keyed by
// their server-assigned ID and paged in ascending ID order; the only
// mutation after append is monotonic growth of the readBy sequence.
package store

import (
	"context"
	"errors"

	"github.com/mahaj/samvad/pkg/model"
)

// ErrNotFound is returned when no message exists for the requested ID.
var ErrNotFound = errors.New("store: message not found")

// MessageStore is the persistence contract consumed by the relay and the
// HTTP history endpoint. Private messages never reach this interface.
type MessageStore interface {
	// Append writes a stamped message. The TempID field is dropped; it is
	// a reconciliation tag, not identity.
	Append(ctx context.Context, msg model.Message) error

	// Page returns one skip/limit page ordered ascending by ID.
	// Pages are 1-based.
	Page(ctx context.Context, page, limit int) ([]model.Message, error)

	// Find returns the message with the given ID, or ErrNotFound.
	Find(ctx context.Context, id int64) (*model.Message, error)

	// AppendReadReceipt appends a receipt deduplicated by ReaderID.
	// It reports whether the receipt was new.
	AppendReadReceipt(ctx context.Context, id int64, rr model.ReadReceipt) (bool, error)

	Close() error
}
