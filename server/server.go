package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"admissionchat/store"
)

// Server binds the chat port, accepts connections, and owns process-wide
// startup and shutdown of the chat service.
type Server struct {
	store    store.Store
	config   *Config
	registry *Registry

	ln      net.Listener
	running atomic.Bool
	stopMu  sync.Mutex
	wg      sync.WaitGroup

	// All live connections, authenticated or not. The registry only knows
	// authenticated ones; Stop must also unblock connections still waiting
	// for their first auth frame.
	connMu sync.Mutex
	conns  map[*conn]struct{}
}

type Config struct {
	Port         int
	WriteTimeout time.Duration
}

func New(st store.Store, config *Config) *Server {
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}

	return &Server{
		store:    st,
		config:   config,
		registry: NewRegistry(),
		conns:    make(map[*conn]struct{}),
	}
}

// Start binds the configured port and begins accepting connections. A bind
// failure is returned to the caller as a startup error. Before accepting, all
// presence rows are reset to offline to repair state left behind by a prior
// unclean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return fmt.Errorf("bind port %d: %w", s.config.Port, err)
	}

	if err := s.store.ResetAllOffline(context.Background()); err != nil {
		log.Printf("presence reset failed: %v", err)
	}

	s.ln = ln
	s.running.Store(true)
	log.Printf("chat server listening on %s", ln.Addr())

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes every live connection and the listening socket, then waits for
// in-flight handlers to finish. Idempotent.
func (s *Server) Stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.registry.CloseAll()
	s.ln.Close()

	// Sweep connections that never authenticated; nothing new arrives once
	// the listener is down.
	s.connMu.Lock()
	remaining := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		remaining = append(remaining, c)
	}
	s.connMu.Unlock()
	for _, c := range remaining {
		c.Close()
	}

	s.wg.Wait()
	log.Printf("chat server stopped")
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Registry exposes the connection directory to calling UI code, which uses
// routing results to decide whether to show an "offline, queued" indicator.
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		sock, err := s.ln.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			log.Printf("accept failed: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(sock)
		}()
	}
}

func (s *Server) handleConn(sock net.Conn) {
	c := newConn(s, sock)

	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()

	c.run()
}

func (s *Server) untrackConn(c *conn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
}

// GetStats reports the live connection count and user ids for the control
// socket.
func (s *Server) GetStats() string {
	ids := s.registry.UserIDs()
	users := make([]string, len(ids))
	for i, id := range ids {
		users[i] = strconv.FormatInt(id, 10)
	}

	return "connections=" + strconv.Itoa(len(ids)) + ",users=" + strings.Join(users, ";")
}
