package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	log "github.com/sirupsen/logrus"

	"github.com/mahaj/samvad/pkg/model"
)

// keyPrefix namespaces message keys; the zero-padded ID keeps pebble's
// byte order aligned with ascending ID order.
const keyPrefix = "msg:"

func msgKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, id))
}

// PebbleStore is the default MessageStore: a local key-ordered append log.
type PebbleStore struct {
	db *pebble.DB

	// receiptMu serializes the read-modify-write in AppendReadReceipt;
	// readers mark messages from their own session goroutines.
	receiptMu sync.Mutex
}

// OpenPebble opens (or creates) the message log at path.
func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	log.WithField("path", path).Info("pebble message log opened")
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Append(ctx context.Context, msg model.Message) error {
	msg.TempID = ""
	if msg.ReadBy == nil {
		msg.ReadBy = []model.ReadReceipt{}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %d: %w", msg.ID, err)
	}
	return s.db.Set(msgKey(msg.ID), data, pebble.Sync)
}

func (s *PebbleStore) Page(ctx context.Context, page, limit int) ([]model.Message, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	skip := (page - 1) * limit

	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	prefix := []byte(keyPrefix)
	out := []model.Message{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if skip > 0 {
			skip--
			continue
		}
		var msg model.Message
		if err := json.Unmarshal(iter.Value(), &msg); err != nil {
			log.WithError(err).WithField("key", string(iter.Key())).Warn("skipping undecodable message record")
			continue
		}
		out = append(out, msg)
		if len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

func (s *PebbleStore) Find(ctx context.Context, id int64) (*model.Message, error) {
	val, closer, err := s.db.Get(msgKey(id))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var msg model.Message
	if err := json.Unmarshal(val, &msg); err != nil {
		return nil, fmt.Errorf("decode message %d: %w", id, err)
	}
	return &msg, nil
}

// AppendReadReceipt rewrites the message record with one more reader.
// Concurrent readers of the same message contend on receiptMu so no
// receipt overwrites another.
func (s *PebbleStore) AppendReadReceipt(ctx context.Context, id int64, rr model.ReadReceipt) (bool, error) {
	s.receiptMu.Lock()
	defer s.receiptMu.Unlock()

	msg, err := s.Find(ctx, id)
	if err != nil {
		return false, err
	}
	if msg.HasReader(rr.ReaderID) {
		return false, nil
	}
	msg.ReadBy = append(msg.ReadBy, rr)
	data, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}
	if err := s.db.Set(msgKey(id), data, pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
