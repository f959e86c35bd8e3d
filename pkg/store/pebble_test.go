package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/samvad/pkg/model"
)

func openTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func stamped(id int64, body string) model.Message {
	return model.Message{
		ID:        id,
		Sender:    "alice",
		SenderID:  "conn-a",
		Body:      body,
		Timestamp: time.Now().UTC(),
	}
}

func TestAppendAndFind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg := stamped(1001, "hi")
	msg.TempID = "t1"
	require.NoError(t, s.Append(ctx, msg))

	got, err := s.Find(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Body)
	assert.Empty(t, got.TempID, "temp id must not be persisted")
	assert.NotNil(t, got.ReadBy)

	_, err = s.Find(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPageOrderedAscending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Append out of order; pages must still come back ascending by id.
	for _, id := range []int64{30, 10, 20, 40, 50} {
		require.NoError(t, s.Append(ctx, stamped(id, "m")))
	}

	page1, err := s.Page(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, int64(10), page1[0].ID)
	assert.Equal(t, int64(20), page1[1].ID)

	page2, err := s.Page(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, int64(30), page2[0].ID)
	assert.Equal(t, int64(40), page2[1].ID)

	page3, err := s.Page(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, int64(50), page3[0].ID)

	empty, err := s.Page(ctx, 4, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAppendReadReceiptDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, stamped(7, "seen?")))

	rr := model.ReadReceipt{ReaderID: "conn-b", Reader: "bob", ReadAt: time.Now().UTC()}
	added, err := s.AppendReadReceipt(ctx, 7, rr)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AppendReadReceipt(ctx, 7, rr)
	require.NoError(t, err)
	assert.False(t, added, "duplicate reader must not append")

	got, err := s.Find(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got.ReadBy, 1)
	assert.Equal(t, "conn-b", got.ReadBy[0].ReaderID)

	_, err = s.AppendReadReceipt(ctx, 404, rr)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendReadReceiptConcurrentReaders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, stamped(7, "seen?")))

	// All readers mark the same message at once; every receipt must
	// land, none overwritten by a concurrent rewrite.
	const readers = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			rr := model.ReadReceipt{
				ReaderID: fmt.Sprintf("conn-%d", n),
				Reader:   fmt.Sprintf("reader-%d", n),
				ReadAt:   time.Now().UTC(),
			}
			added, err := s.AppendReadReceipt(ctx, 7, rr)
			assert.NoError(t, err)
			assert.True(t, added)
		}(i)
	}
	close(start)
	wg.Wait()

	got, err := s.Find(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, got.ReadBy, readers)
}
