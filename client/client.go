package client

import (
	"bufio"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"admissionchat/protocol"
)

// Listener signatures for inbound events. Every registered listener receives
// every event exactly once; order across listeners is unspecified.
type (
	MessageListener func(senderID int64, body string, timestamp time.Time)
	StatusListener  func(userID int64, status string)
	ErrorListener   func(reason string)
)

// Connector is the single-user peer side of the chat protocol. It owns one
// socket and exactly one background receive loop, and dispatches inbound
// frames to registered listeners.
type Connector struct {
	addr     string
	timeout  time.Duration
	dispatch func(func())

	mu        sync.Mutex
	conn      net.Conn
	connected bool

	listenerMu      sync.Mutex
	msgListeners    []MessageListener
	statusListeners []StatusListener
	errListeners    []ErrorListener
}

// New creates a connector for the given server address. connectTimeout bounds
// the initial dial; it is the only timeout the connector applies.
func New(addr string, connectTimeout time.Duration) *Connector {
	return &Connector{
		addr:     addr,
		timeout:  connectTimeout,
		dispatch: func(f func()) { f() },
	}
}

// SetDispatcher installs the trampoline used to deliver events, typically the
// embedding application's UI event thread. The default invokes listeners on
// the receive goroutine. Must be called before Connect.
func (c *Connector) SetDispatcher(dispatch func(func())) {
	c.dispatch = dispatch
}

// OnMessage registers a listener for inbound direct and broadcast messages.
func (c *Connector) OnMessage(l MessageListener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.msgListeners = append(c.msgListeners, l)
}

// OnStatus registers a listener for presence changes of other users.
func (c *Connector) OnStatus(l StatusListener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.statusListeners = append(c.statusListeners, l)
}

// OnError registers a listener for server error frames and connection loss,
// so the UI can switch to its degraded mode.
func (c *Connector) OnError(l ErrorListener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.errListeners = append(c.errListeners, l)
}

// Connect opens the socket, sends the authentication frame, and starts the
// receive loop. Returns false when the socket cannot be established; the
// connector stays usable in a degraded offline mode and Connect may be called
// again later.
func (c *Connector) Connect(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return true
	}

	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		log.Printf("chat connect to %s failed, staying offline: %v", c.addr, err)
		return false
	}

	if _, err := conn.Write([]byte(protocol.FormatAuth(userID))); err != nil {
		log.Printf("chat auth send failed: %v", err)
		conn.Close()
		return false
	}

	c.conn = conn
	c.connected = true
	go c.readLoop(conn)

	return true
}

// Disconnect stops the receive loop by closing the socket. Safe to call when
// already disconnected.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}
	c.connected = false
	c.conn.Close()
}

// IsConnected reports whether the connector currently holds a live socket.
func (c *Connector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendDirect sends a direct message. No-op returning false when disconnected;
// callers fall back to local queuing instead of treating this as fatal.
func (c *Connector) SendDirect(receiverID int64, body string) bool {
	return c.send(protocol.FormatDirect(receiverID, body))
}

// SendBroadcast sends a message to every other user.
func (c *Connector) SendBroadcast(body string) bool {
	return c.send(protocol.FormatBroadcast(body))
}

// UpdateStatus announces a new presence status for this user.
func (c *Connector) UpdateStatus(status string) bool {
	return c.send(protocol.FormatStatus(status))
}

func (c *Connector) send(line string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return false
	}

	if _, err := c.conn.Write([]byte(line)); err != nil {
		log.Printf("chat send failed: %v", err)
		return false
	}
	return true
}

// readLoop parses incoming lines into frames and dispatches them. It exits on
// read error or EOF; if the loss was not a deliberate Disconnect, error
// listeners are told so the UI can attempt a fresh Connect.
func (c *Connector) readLoop(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		frame, err := protocol.ParseServerLine(line)
		if err != nil {
			log.Printf("chat received malformed frame: %q", line)
			continue
		}

		c.dispatchFrame(frame)
	}

	c.mu.Lock()
	lost := c.connected && c.conn == conn
	if lost {
		c.connected = false
		conn.Close()
	}
	c.mu.Unlock()

	if lost {
		c.notifyError("connection lost")
	}
}

func (c *Connector) dispatchFrame(frame *protocol.Frame) {
	switch frame.Type {
	case protocol.TypeMessage:
		c.listenerMu.Lock()
		listeners := append([]MessageListener(nil), c.msgListeners...)
		c.listenerMu.Unlock()
		for _, l := range listeners {
			l := l
			c.dispatch(func() { l(frame.SenderID, frame.Body, frame.Timestamp) })
		}

	case protocol.TypeStatus:
		c.listenerMu.Lock()
		listeners := append([]StatusListener(nil), c.statusListeners...)
		c.listenerMu.Unlock()
		for _, l := range listeners {
			l := l
			c.dispatch(func() { l(frame.UserID, frame.Status) })
		}

	case protocol.TypeError:
		c.notifyError(frame.Reason)
	}
}

func (c *Connector) notifyError(reason string) {
	c.listenerMu.Lock()
	listeners := append([]ErrorListener(nil), c.errListeners...)
	c.listenerMu.Unlock()
	for _, l := range listeners {
		l := l
		c.dispatch(func() { l(reason) })
	}
}
