package server

import (
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"commlink/models"
	"commlink/store"
)

type Server struct {
	config   *ServerConfig
	store    *store.Store // optional; nil disables journaling
	mu       sync.RWMutex
	sessions map[int64]*Session
	nextID   int64
	listener net.Listener
	closing  bool
}

type ServerConfig struct {
	FileChunkLimit  int
	AudioChunkLimit int
	WriteTimeout    time.Duration
	QueueDepth      int
}

func New(st *store.Store, config *ServerConfig) *Server {
	if config.FileChunkLimit == 0 {
		config.FileChunkLimit = 1024
	}
	if config.AudioChunkLimit == 0 {
		config.AudioChunkLimit = 256
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.QueueDepth == 0 {
		config.QueueDepth = 64
	}

	return &Server{
		config:   config,
		store:    st,
		sessions: make(map[int64]*Session),
	}
}

// Open binds the listener and starts accepting connections, one session
// goroutine per accepted connection. It does not block.
func (s *Server) Open(host string, port int) error {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.closing = false
	s.mu.Unlock()

	log.Printf("commlink server started on %s", listener.Addr())

	go s.acceptLoop(listener)
	return nil
}

// Addr reports the bound listener address, or nil before Open.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.RLock()
			closing := s.closing
			s.mu.RUnlock()
			if closing {
				return
			}
			log.Printf("Error accepting connection: %v", err)
			continue
		}

		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	newSession(s, conn).run()
}

// Close stops accepting and releases the listener. Live sessions keep
// running; Shutdown tears them down as well.
func (s *Server) Close() error {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.closing = true
	s.mu.Unlock()

	if listener == nil {
		return nil
	}
	return listener.Close()
}

// Shutdown closes the listener and every live session through the normal
// teardown path, so departures are still broadcast.
func (s *Server) Shutdown() {
	s.Close()

	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		sess.teardown()
	}
}

// nextUserID hands out connection-scoped user ids. Ids are never reused,
// which keeps the one-entry-per-id registry invariant trivial.
func (s *Server) nextUserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

// addUser registers a completed connection and returns a snapshot of every
// other connected user, which becomes the new session's peer cache and the
// CONNECTED payload.
func (s *Server) addUser(user *models.User, sess *Session) []models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]models.User, 0, len(s.sessions))
	for _, other := range s.sessions {
		if other.user != nil {
			snapshot = append(snapshot, *other.user)
		}
	}

	s.sessions[user.ID] = sess
	return snapshot
}

func (s *Server) removeUser(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// findClient resolves a user id to its live session. Routing decisions
// always go through here, never through a session's peer cache.
func (s *Server) findClient(id int64) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Users returns the currently connected users.
func (s *Server) Users() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.user != nil {
			users = append(users, *sess.user)
		}
	}
	return users
}

// GetStats returns server statistics as a formatted string for the control
// socket.
func (s *Server) GetStats() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	for _, sess := range s.sessions {
		if sess.user != nil {
			users = append(users, sess.user.Username)
		}
	}

	return "connections=" + strconv.Itoa(len(s.sessions)) + ",users=" + strings.Join(users, ";")
}
