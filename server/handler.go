package server

import (
	"bufio"
	"context"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"admissionchat/metrics"
	"admissionchat/models"
	"admissionchat/protocol"
)

// conn owns one client socket and runs its protocol state machine:
// unauthenticated -> authenticated -> closed, with no way back.
type conn struct {
	srv    *Server
	id     string
	sock   net.Conn
	remote string

	userID int64
	authed bool

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConn(srv *Server, sock net.Conn) *conn {
	metrics.IncActive()
	return &conn{
		srv:    srv,
		id:     uuid.NewString(),
		sock:   sock,
		remote: sock.RemoteAddr().String(),
	}
}

func (c *conn) ID() string { return c.id }

// Push writes one frame line with a write deadline. There is no outbound
// queue; a stalled peer blocks the caller until the deadline fires.
func (c *conn) Push(line string) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.sock.SetWriteDeadline(time.Now().Add(c.srv.config.WriteTimeout))
	if _, err := c.sock.Write([]byte(line)); err != nil {
		log.Printf("conn %s: write to %s failed: %v", c.id, c.remote, err)
		return false
	}
	return true
}

// Close triggers the disconnect path. Safe to call concurrently with a read
// failure; the path runs exactly once.
func (c *conn) Close() {
	c.teardown()
}

// run reads frames until EOF, a transport error, or Close unblocks the read by
// closing the socket.
func (c *conn) run() {
	defer c.teardown()

	log.Printf("conn %s: client connected from %s", c.id, c.remote)

	reader := bufio.NewReader(c.sock)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		frame, err := protocol.ParseClientLine(line)
		if err != nil {
			log.Printf("conn %s: malformed frame from %s: %q", c.id, c.remote, line)
			c.Push(protocol.FormatError("Invalid frame"))
			continue
		}

		metrics.IncFrame(frame.Type)
		c.handleFrame(frame)
	}
}

func (c *conn) handleFrame(frame *protocol.Frame) {
	if !c.authed {
		if frame.Type != protocol.TypeAuth {
			c.Push(protocol.FormatError("Not authenticated"))
			return
		}
		c.handleAuth(frame)
		return
	}

	switch frame.Type {
	case protocol.TypeAuth:
		c.Push(protocol.FormatError("Already authenticated"))
	case protocol.TypeMessage:
		c.handleDirect(frame)
	case protocol.TypeBroadcast:
		c.handleBroadcast(frame)
	case protocol.TypeStatus:
		c.handleStatus(frame)
	}
}

// handleAuth verifies the user id against the store. On failure the
// connection stays open so the peer may retry; on success the connection is
// registered (replacing any prior one for the same user), presence flips
// online, and the unread backlog is replayed.
func (c *conn) handleAuth(frame *protocol.Frame) {
	ctx := context.Background()

	exists, err := c.srv.store.UserExists(ctx, frame.UserID)
	if err != nil {
		log.Printf("conn %s: auth lookup for user %d failed: %v", c.id, frame.UserID, err)
	}
	if err != nil || !exists {
		metrics.IncAuthFailure()
		c.Push(protocol.FormatError("Authentication failed"))
		return
	}

	c.userID = frame.UserID
	c.authed = true
	c.srv.registry.Register(c.userID, c)
	log.Printf("conn %s: user %d authenticated from %s", c.id, c.userID, c.remote)

	now := time.Now().UTC()
	if err := c.srv.store.UpsertStatus(ctx, c.userID, models.StatusOnline, now); err != nil {
		log.Printf("conn %s: presence upsert for user %d failed: %v", c.id, c.userID, err)
	}
	c.srv.registry.BroadcastExcept(c.userID, protocol.FormatStatusPush(c.userID, models.StatusOnline))

	c.deliverBacklog(ctx)
}

// deliverBacklog replays unread messages in ascending timestamp order, marking
// each read as it is flushed. A failed push aborts the replay; the remaining
// rows stay unread for the next authentication.
func (c *conn) deliverBacklog(ctx context.Context) {
	backlog, err := c.srv.store.UnreadFor(ctx, c.userID)
	if err != nil {
		log.Printf("conn %s: backlog query for user %d failed: %v", c.id, c.userID, err)
		return
	}

	for _, msg := range backlog {
		if !c.Push(protocol.FormatMessagePush(msg.SenderID, msg.Timestamp, msg.Body)) {
			return
		}
		if err := c.srv.store.MarkRead(ctx, msg.ID); err != nil {
			log.Printf("conn %s: mark read of message %d failed: %v", c.id, msg.ID, err)
		}
	}
}

// handleDirect persists the message and best-effort pushes it to the receiver.
// Persistence and live push are independent paths: a store failure does not
// stop the push, and an offline receiver leaves the row as the sole delivery
// mechanism.
func (c *conn) handleDirect(frame *protocol.Frame) {
	ctx := context.Background()
	now := time.Now().UTC()

	rowID, err := c.srv.store.InsertMessage(ctx, models.Message{
		SenderID:   c.userID,
		ReceiverID: frame.ReceiverID,
		Body:       frame.Body,
		Timestamp:  now,
	})
	if err != nil {
		log.Printf("conn %s: message insert from user %d failed: %v", c.id, c.userID, err)
		rowID = 0
	}

	line := protocol.FormatMessagePush(c.userID, now, frame.Body)
	if c.srv.registry.RouteTo(frame.ReceiverID, line) {
		metrics.IncDelivery("live")
		if rowID != 0 {
			if err := c.srv.store.MarkRead(ctx, rowID); err != nil {
				log.Printf("conn %s: mark read of message %d failed: %v", c.id, rowID, err)
			}
		}
		return
	}
	metrics.IncDelivery("queued")
}

// handleBroadcast fans out one persisted row per other known user, then pushes
// live to each of them that is currently registered.
func (c *conn) handleBroadcast(frame *protocol.Frame) {
	ctx := context.Background()
	now := time.Now().UTC()
	line := protocol.FormatMessagePush(c.userID, now, frame.Body)

	recipients, err := c.srv.store.UserIDsExcept(ctx, c.userID)
	if err != nil {
		// The recipient set is unknown; fall back to the live-push path so
		// connected users still see the broadcast.
		log.Printf("conn %s: broadcast recipient query failed: %v", c.id, err)
		c.srv.registry.BroadcastExcept(c.userID, line)
		return
	}

	for _, userID := range recipients {
		rowID, err := c.srv.store.InsertMessage(ctx, models.Message{
			SenderID:   c.userID,
			ReceiverID: userID,
			Broadcast:  true,
			Body:       frame.Body,
			Timestamp:  now,
		})
		if err != nil {
			log.Printf("conn %s: broadcast insert for user %d failed: %v", c.id, userID, err)
			rowID = 0
		}

		if c.srv.registry.RouteTo(userID, line) {
			metrics.IncDelivery("live")
			if rowID != 0 {
				if err := c.srv.store.MarkRead(ctx, rowID); err != nil {
					log.Printf("conn %s: mark read of message %d failed: %v", c.id, rowID, err)
				}
			}
			continue
		}
		metrics.IncDelivery("queued")
	}
}

// handleStatus records the new presence and announces it to everyone else.
func (c *conn) handleStatus(frame *protocol.Frame) {
	ctx := context.Background()

	if err := c.srv.store.UpsertStatus(ctx, c.userID, frame.Status, time.Now().UTC()); err != nil {
		log.Printf("conn %s: presence upsert for user %d failed: %v", c.id, c.userID, err)
	}
	c.srv.registry.BroadcastExcept(c.userID, protocol.FormatStatusPush(c.userID, frame.Status))
}

// teardown runs the disconnect path exactly once: unregister, flip presence
// offline, announce the change, close the socket. When this connection was
// already replaced by a newer one for the same user, the presence steps are
// skipped so the replacement's online state survives.
func (c *conn) teardown() {
	c.closeOnce.Do(func() {
		c.sock.Close()
		c.srv.untrackConn(c)
		metrics.DecActive()

		if !c.authed {
			log.Printf("conn %s: client disconnected from %s", c.id, c.remote)
			return
		}

		if c.srv.registry.Unregister(c.userID, c) {
			ctx := context.Background()
			if err := c.srv.store.UpsertStatus(ctx, c.userID, models.StatusOffline, time.Now().UTC()); err != nil {
				log.Printf("conn %s: presence upsert for user %d failed: %v", c.id, c.userID, err)
			}
			c.srv.registry.BroadcastExcept(c.userID, protocol.FormatStatusPush(c.userID, models.StatusOffline))
		}
		log.Printf("conn %s: user %d disconnected from %s", c.id, c.userID, c.remote)
	})
}
