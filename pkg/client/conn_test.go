package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/samvad/pkg/presence"
	"github.com/mahaj/samvad/pkg/relay"
	"github.com/mahaj/samvad/pkg/snowflake"
	"github.com/mahaj/samvad/pkg/store"
	"github.com/mahaj/samvad/pkg/typing"
)

func startRelay(t *testing.T) (*relay.Hub, string, *store.PebbleStore) {
	t.Helper()
	ps, err := store.OpenPebble(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ps.Close() })

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	hub := relay.NewHub(presence.NewRegistry(), typing.NewTracker(), ps, node)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		relay.ServeWS(hub, w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", ps
}

func chatEntries(e *Engine) []Entry {
	var out []Entry
	for _, entry := range e.Messages() {
		if !entry.System {
			out = append(out, entry)
		}
	}
	return out
}

func TestEndToEndSendAndReconcile(t *testing.T) {
	_, wsURL, _ := startRelay(t)

	alice := NewEngine("alice")
	aliceConn, err := Dial(wsURL, "", alice, nil)
	require.NoError(t, err)
	defer aliceConn.Close()

	bob := NewEngine("bob")
	bobConn, err := Dial(wsURL, "", bob, nil)
	require.NoError(t, err)
	defer bobConn.Close()

	tempID, err := aliceConn.SendChat("hi", "", "")
	require.NoError(t, err)
	require.NotEmpty(t, tempID)

	// Sender's optimistic entry collapses into exactly one confirmed,
	// delivered entry regardless of ack/echo arrival order.
	require.Eventually(t, func() bool {
		entries := chatEntries(alice)
		return len(entries) == 1 && entries[0].Confirmed && entries[0].Delivered
	}, 3*time.Second, 20*time.Millisecond)

	entries := chatEntries(alice)
	require.Len(t, entries, 1)
	sentID := entries[0].Msg.ID
	assert.NotZero(t, sentID)

	// Receiver appends exactly one entry for the same id.
	require.Eventually(t, func() bool {
		entries := chatEntries(bob)
		return len(entries) == 1 && entries[0].Msg.ID == sentID
	}, 3*time.Second, 20*time.Millisecond)
}

func TestEndToEndReadReceipt(t *testing.T) {
	_, wsURL, ps := startRelay(t)

	alice := NewEngine("alice")
	aliceConn, err := Dial(wsURL, "", alice, nil)
	require.NoError(t, err)
	defer aliceConn.Close()

	bob := NewEngine("bob")
	bobConn, err := Dial(wsURL, "", bob, nil)
	require.NoError(t, err)
	defer bobConn.Close()

	_, err = aliceConn.SendChat("seen?", "", "")
	require.NoError(t, err)

	var msgID int64
	require.Eventually(t, func() bool {
		entries := chatEntries(bob)
		if len(entries) == 1 && entries[0].Msg.ID != 0 {
			msgID = entries[0].Msg.ID
			return true
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	// Persistence is asynchronous; the receipt needs the stored message.
	require.Eventually(t, func() bool {
		_, err := ps.Find(context.Background(), msgID)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	bob.MarkVisible(msgID)

	require.Eventually(t, func() bool {
		entries := chatEntries(alice)
		return len(entries) == 1 && len(entries[0].Msg.ReadBy) == 1
	}, 3*time.Second, 50*time.Millisecond)

	entries := chatEntries(alice)
	assert.Equal(t, "bob", entries[0].Msg.ReadBy[0].Reader)
}

func TestEndToEndLogoutAcked(t *testing.T) {
	_, wsURL, _ := startRelay(t)

	alice := NewEngine("alice")
	aliceConn, err := Dial(wsURL, "", alice, nil)
	require.NoError(t, err)
	defer aliceConn.Close()

	bob := NewEngine("bob")
	bobConn, err := Dial(wsURL, "", bob, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(alice.Users()) == 2
	}, 3*time.Second, 20*time.Millisecond)

	acked := bobConn.Logout()
	assert.True(t, acked, "logout against a live relay should be acknowledged")

	require.Eventually(t, func() bool {
		return len(alice.Users()) == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestLogoutTimesOutAgainstSilentServer(t *testing.T) {
	// A server that upgrades and then ignores everything: the ack never
	// comes, and the client must still reach its logged-out state after
	// the fixed timeout.
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	engine := NewEngine("alice")
	conn, err := Dial("ws"+strings.TrimPrefix(srv.URL, "http"), "", engine, nil)
	require.NoError(t, err)

	start := time.Now()
	acked := conn.Logout()
	elapsed := time.Since(start)

	assert.False(t, acked)
	assert.GreaterOrEqual(t, elapsed, logoutTimeout-50*time.Millisecond)
	assert.Less(t, elapsed, logoutTimeout+2*time.Second)
}

func TestReconnectReannouncesJoin(t *testing.T) {
	_, wsURL, _ := startRelay(t)

	var statusFlips atomic.Int32
	alice := NewEngine("alice")
	aliceConn, err := Dial(wsURL, "", alice, func(bool) { statusFlips.Add(1) })
	require.NoError(t, err)
	defer aliceConn.Close()

	bob := NewEngine("bob")
	bobConn, err := Dial(wsURL, "", bob, nil)
	require.NoError(t, err)
	defer bobConn.Close()

	require.Eventually(t, func() bool {
		return len(bob.Users()) == 2
	}, 3*time.Second, 20*time.Millisecond)

	// Kill the transport under alice; the connection must redial with
	// fixed backoff and announce the join again, because presence does
	// not survive the old connection identity.
	aliceConn.mu.Lock()
	aliceConn.ws.Close()
	aliceConn.mu.Unlock()

	hasAlice := func() bool {
		for _, u := range bob.Users() {
			if u.Username == "alice" {
				return true
			}
		}
		return false
	}

	// The server notices the dead transport and drops alice first...
	require.Eventually(t, func() bool { return !hasAlice() }, 5*time.Second, 20*time.Millisecond)
	// ...then the redial re-announces the join under a fresh identity.
	require.Eventually(t, hasAlice, 10*time.Second, 50*time.Millisecond)

	assert.GreaterOrEqual(t, statusFlips.Load(), int32(3), "connect, drop, reconnect")
}
