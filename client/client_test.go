package client

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admissionchat/models"
	"admissionchat/server"
	"admissionchat/store"
)

type messageEvent struct {
	senderID  int64
	body      string
	timestamp time.Time
}

type statusEvent struct {
	userID int64
	status string
}

func startTestServer(t *testing.T) (string, *store.SQLStore) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := server.New(st, &server.Config{Port: 0, WriteTimeout: 5 * time.Second})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	return srv.Addr().String(), st
}

func seedUser(t *testing.T, st *store.SQLStore, name string) int64 {
	t.Helper()

	id, err := st.CreateUser(context.Background(), name, "secret123")
	require.NoError(t, err)
	return id
}

func waitMessage(t *testing.T, ch <-chan messageEvent) messageEvent {
	t.Helper()

	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message event")
		return messageEvent{}
	}
}

func waitStatus(t *testing.T, ch <-chan statusEvent) statusEvent {
	t.Helper()

	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for status event")
		return statusEvent{}
	}
}

func TestConnectFailureLeavesDegradedMode(t *testing.T) {
	c := New("127.0.0.1:1", 300*time.Millisecond)

	assert.False(t, c.Connect(1))
	assert.False(t, c.IsConnected())

	// Sends are no-ops returning false, never fatal.
	assert.False(t, c.SendDirect(2, "queued locally"))
	assert.False(t, c.SendBroadcast("queued locally"))
	assert.False(t, c.UpdateStatus("online"))

	// Disconnect when never connected is safe.
	c.Disconnect()
}

func TestEndToEndDelivery(t *testing.T) {
	addr, st := startTestServer(t)
	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")

	aliceStatuses := make(chan statusEvent, 16)
	a := New(addr, 2*time.Second)
	a.OnStatus(func(userID int64, status string) {
		aliceStatuses <- statusEvent{userID, status}
	})
	require.True(t, a.Connect(alice))
	defer a.Disconnect()

	bobMessages := make(chan messageEvent, 16)
	bobStatuses := make(chan statusEvent, 16)
	b := New(addr, 2*time.Second)
	b.OnMessage(func(senderID int64, body string, ts time.Time) {
		bobMessages <- messageEvent{senderID, body, ts}
	})
	b.OnStatus(func(userID int64, status string) {
		bobStatuses <- statusEvent{userID, status}
	})
	require.True(t, b.Connect(bob))
	defer b.Disconnect()

	// Alice sees Bob come online.
	ev := waitStatus(t, aliceStatuses)
	assert.Equal(t, statusEvent{bob, models.StatusOnline}, ev)

	// Direct message with colons in the body survives the wire.
	require.True(t, a.SendDirect(bob, "interview moved: 10:30, hall B"))
	msg := waitMessage(t, bobMessages)
	assert.Equal(t, alice, msg.senderID)
	assert.Equal(t, "interview moved: 10:30, hall B", msg.body)
	assert.WithinDuration(t, time.Now().UTC(), msg.timestamp, time.Minute)

	// Explicit status update reaches the other peer.
	require.True(t, a.UpdateStatus("away"))
	assert.Equal(t, statusEvent{alice, "away"}, waitStatus(t, bobStatuses))

	// Disconnect announces offline.
	a.Disconnect()
	assert.Equal(t, statusEvent{alice, models.StatusOffline}, waitStatus(t, bobStatuses))
}

func TestBacklogReplayedOnConnect(t *testing.T) {
	addr, st := startTestServer(t)
	sender := seedUser(t, st, "sender")
	receiver := seedUser(t, st, "receiver")

	ts := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	_, err := st.InsertMessage(context.Background(), models.Message{
		SenderID:   sender,
		ReceiverID: receiver,
		Body:       "while you were away",
		Timestamp:  ts,
	})
	require.NoError(t, err)

	messages := make(chan messageEvent, 16)
	c := New(addr, 2*time.Second)
	c.OnMessage(func(senderID int64, body string, ts time.Time) {
		messages <- messageEvent{senderID, body, ts}
	})
	require.True(t, c.Connect(receiver))
	defer c.Disconnect()

	msg := waitMessage(t, messages)
	assert.Equal(t, sender, msg.senderID)
	assert.Equal(t, "while you were away", msg.body)
	assert.True(t, msg.timestamp.Equal(ts))

	require.Eventually(t, func() bool {
		backlog, err := st.UnreadFor(context.Background(), receiver)
		return err == nil && len(backlog) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAuthFailureSurfacedToErrorListener(t *testing.T) {
	addr, _ := startTestServer(t)

	errors := make(chan string, 16)
	c := New(addr, 2*time.Second)
	c.OnError(func(reason string) {
		errors <- reason
	})

	// The socket opens fine; the server rejects the unknown id.
	require.True(t, c.Connect(99999))
	defer c.Disconnect()

	select {
	case reason := <-errors:
		assert.Equal(t, "Authentication failed", reason)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for error event")
	}
}

func TestConnectionLossNotifiesErrorListeners(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := server.New(st, &server.Config{Port: 0, WriteTimeout: 5 * time.Second})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	user := seedUser(t, st, "user")

	errors := make(chan string, 16)
	c := New(srv.Addr().String(), 2*time.Second)
	c.OnError(func(reason string) {
		errors <- reason
	})
	require.True(t, c.Connect(user))

	srv.Stop()

	select {
	case reason := <-errors:
		assert.Equal(t, "connection lost", reason)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for connection loss event")
	}
	assert.False(t, c.IsConnected())
}

func TestDispatcherDeliversEvents(t *testing.T) {
	addr, st := startTestServer(t)
	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")

	var dispatched atomic.Int64
	statuses := make(chan statusEvent, 16)

	a := New(addr, 2*time.Second)
	a.SetDispatcher(func(f func()) {
		dispatched.Add(1)
		f()
	})
	a.OnStatus(func(userID int64, status string) {
		statuses <- statusEvent{userID, status}
	})
	require.True(t, a.Connect(alice))
	defer a.Disconnect()

	b := New(addr, 2*time.Second)
	require.True(t, b.Connect(bob))
	defer b.Disconnect()

	assert.Equal(t, statusEvent{bob, models.StatusOnline}, waitStatus(t, statuses))
	assert.Greater(t, dispatched.Load(), int64(0))
}
