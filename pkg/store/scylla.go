package store

import (
	"context"
	"time"

	"github.com/gocql/gocql"
	log "github.com/sirupsen/logrus"

	"github.com/mahaj/samvad/pkg/model"
)

// room partitions the messages table. There is a single shared room in
// this deployment; the partition key exists so clustering order by id
// gives global ascending pagination.
const room = "general"

// ScyllaStore is the cluster-backed MessageStore. Schema is created by
// scripts/create_schema.
type ScyllaStore struct {
	session *gocql.Session
}

// OpenScylla connects to the chat keyspace.
func OpenScylla(hosts []string, keyspace string) (*ScyllaStore, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}
	log.WithField("hosts", hosts).Info("connected to scylla cluster")
	return &ScyllaStore{session: session}, nil
}

func (s *ScyllaStore) Append(ctx context.Context, msg model.Message) error {
	query := `INSERT INTO messages (room, id, sender, sender_id, body, attachment, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`
	return s.session.Query(query, room, msg.ID, msg.Sender, msg.SenderID, msg.Body, msg.Attachment, msg.Timestamp).
		WithContext(ctx).Exec()
}

func (s *ScyllaStore) Page(ctx context.Context, page, limit int) ([]model.Message, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	skip := (page - 1) * limit

	// CQL has no OFFSET; read up to the end of the requested page and
	// drop the earlier rows client-side.
	iter := s.session.Query(
		`SELECT id, sender, sender_id, body, attachment, ts FROM messages WHERE room = ? LIMIT ?`,
		room, skip+limit,
	).WithContext(ctx).Iter()

	var (
		out []model.Message
		msg model.Message
		n   int
	)
	for iter.Scan(&msg.ID, &msg.Sender, &msg.SenderID, &msg.Body, &msg.Attachment, &msg.Timestamp) {
		if n >= skip {
			m := msg
			m.ReadBy = s.receipts(ctx, m.ID)
			out = append(out, m)
		}
		n++
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Message{}
	}
	return out, nil
}

func (s *ScyllaStore) Find(ctx context.Context, id int64) (*model.Message, error) {
	var msg model.Message
	err := s.session.Query(
		`SELECT id, sender, sender_id, body, attachment, ts FROM messages WHERE room = ? AND id = ?`,
		room, id,
	).WithContext(ctx).Scan(&msg.ID, &msg.Sender, &msg.SenderID, &msg.Body, &msg.Attachment, &msg.Timestamp)
	if err == gocql.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	msg.ReadBy = s.receipts(ctx, id)
	return &msg, nil
}

// AppendReadReceipt relies on the (message_id, reader_id) primary key: the
// LWT insert reports whether the row was actually new.
func (s *ScyllaStore) AppendReadReceipt(ctx context.Context, id int64, rr model.ReadReceipt) (bool, error) {
	if _, err := s.Find(ctx, id); err != nil {
		return false, err
	}
	applied, err := s.session.Query(
		`INSERT INTO read_receipts (message_id, reader_id, reader, read_at) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		id, rr.ReaderID, rr.Reader, rr.ReadAt,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *ScyllaStore) receipts(ctx context.Context, id int64) []model.ReadReceipt {
	iter := s.session.Query(
		`SELECT reader_id, reader, read_at FROM read_receipts WHERE message_id = ?`, id,
	).WithContext(ctx).Iter()

	out := []model.ReadReceipt{}
	var rr model.ReadReceipt
	for iter.Scan(&rr.ReaderID, &rr.Reader, &rr.ReadAt) {
		out = append(out, rr)
	}
	if err := iter.Close(); err != nil {
		log.WithError(err).WithField("message_id", id).Warn("failed to load read receipts")
	}
	return out
}

func (s *ScyllaStore) Close() error {
	s.session.Close()
	return nil
}
