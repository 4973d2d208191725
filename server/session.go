package server

import (
	"bufio"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"commlink/models"
	"commlink/protocol"
)

var (
	errSessionClosed = errors.New("session closed")
	errQueueFull     = errors.New("outbound queue full")
)

// Session is the server-side state and control loop for one connection.
// The read loop is its exclusive owner; other sessions reach it only
// through the registry and the public operations below, which touch
// nothing but this session's own locks and queue.
type Session struct {
	server *Server
	conn   net.Conn

	// set once by handleConnect, before registration; immutable after.
	// Guarded by peersMu for readers outside the read loop (teardown may
	// run on the writer goroutine).
	user   *models.User
	connID int64 // journal row, 0 when journaling is off

	peersMu sync.Mutex
	peers   map[int64]models.User

	files *assembler
	audio *assembler

	outbox chan *protocol.Response
	closed chan struct{}
	once   sync.Once
}

func newSession(s *Server, conn net.Conn) *Session {
	return &Session{
		server: s,
		conn:   conn,
		peers:  make(map[int64]models.User),
		files:  newAssembler(s.config.FileChunkLimit),
		audio:  newAssembler(s.config.AudioChunkLimit),
		outbox: make(chan *protocol.Response, s.config.QueueDepth),
		closed: make(chan struct{}),
	}
}

// run drives the connection until the transport fails, the client
// disconnects, or the server shuts the session down.
func (s *Session) run() {
	defer s.teardown()

	remoteAddr := s.conn.RemoteAddr().String()
	log.Printf("New client connected from %s", remoteAddr)

	w := bufio.NewWriter(s.conn)
	if err := protocol.WriteReady(w); err != nil {
		log.Printf("Handshake failed with %s: %v", remoteAddr, err)
		return
	}
	if err := w.Flush(); err != nil {
		log.Printf("Handshake failed with %s: %v", remoteAddr, err)
		return
	}

	go s.writeLoop(w)

	r := bufio.NewReader(s.conn)
	for {
		req, err := protocol.ReadRequest(r)
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				s.replyError(protocol.WrongParameters)
				continue
			}
			select {
			case <-s.closed:
			default:
				log.Printf("Error reading from %s: %v", remoteAddr, err)
			}
			return
		}

		if req.Type == protocol.Disconnect {
			return
		}

		s.dispatch(req)
	}
}

func (s *Session) dispatch(req *protocol.Request) {
	switch req.Type {
	case protocol.Connect:
		s.handleConnect(req)
	case protocol.SendMessage:
		s.handleSendMessage(req)
	case protocol.PrepareSendFile:
		s.handlePrepareSend(req, s.files, fileTags)
	case protocol.SendFile:
		s.handleChunk(req, s.files, fileTags)
	case protocol.PrepareRequestFile:
		s.handlePrepareRequest(req, sessionFiles, fileTags)
	case protocol.RequestFile:
		s.handleRequestTransfer(req, sessionFiles, fileTags)
	case protocol.PrepareSendAudio:
		s.handlePrepareSend(req, s.audio, audioTags)
	case protocol.SendAudio:
		s.handleChunk(req, s.audio, audioTags)
	case protocol.PrepareRequestAudio:
		s.handlePrepareRequest(req, sessionAudio, audioTags)
	case protocol.RequestAudio:
		s.handleRequestTransfer(req, sessionAudio, audioTags)
	case protocol.RequestControl:
		s.handleRequestControl(req)
	case protocol.StopControl:
		s.handleStopControl(req)
	case protocol.SendFrame:
		s.handleSendFrame(req)
	case protocol.ProvokeEvent:
		s.handleProvokeEvent(req)
	case "":
		// A null record frames fine but carries nothing.
		s.replyError(protocol.WrongParameters)
	default:
		log.Printf("Unknown request type %q from %s", req.Type, s.conn.RemoteAddr())
	}
}

// writeLoop is the only writer on the connection. Every response, local or
// relayed from another session, passes through the outbox.
func (s *Session) writeLoop(w *bufio.Writer) {
	for {
		select {
		case resp := <-s.outbox:
			s.conn.SetWriteDeadline(time.Now().Add(s.server.config.WriteTimeout))
			if err := protocol.WriteResponse(w, resp); err != nil {
				log.Printf("Error writing to connection: %v", err)
				s.teardown()
				return
			}
			if len(s.outbox) == 0 {
				if err := w.Flush(); err != nil {
					log.Printf("Error writing to connection: %v", err)
					s.teardown()
					return
				}
			}
		case <-s.closed:
			return
		}
	}
}

// send queues a response without blocking. A closed session or a saturated
// queue reports failure; callers map that to a destination error.
func (s *Session) send(resp *protocol.Response) error {
	select {
	case <-s.closed:
		return errSessionClosed
	default:
	}

	select {
	case s.outbox <- resp:
		return nil
	case <-s.closed:
		return errSessionClosed
	default:
		return errQueueFull
	}
}

// sendOwn queues a response to this session's own client, waiting out
// transport backpressure. Used only from the session's own read loop.
func (s *Session) sendOwn(resp *protocol.Response) {
	select {
	case s.outbox <- resp:
	case <-s.closed:
	}
}

func (s *Session) reply(t protocol.ResponseType, content any, origin *models.User) {
	resp, err := protocol.NewResponse(t, content, origin)
	if err != nil {
		log.Printf("Error encoding %s response: %v", t, err)
		return
	}
	s.sendOwn(resp)
}

func (s *Session) replyError(t protocol.ResponseType) {
	s.sendOwn(&protocol.Response{Type: t, Origin: s.user})
}

// deliver places a response from another session on the outbound queue.
func (s *Session) deliver(resp *protocol.Response) error {
	return s.send(resp)
}

// addPeer records u in the peer cache and notifies the client.
func (s *Session) addPeer(u models.User, resp *protocol.Response) error {
	s.peersMu.Lock()
	s.peers[u.ID] = u
	s.peersMu.Unlock()
	return s.send(resp)
}

// dropPeer removes u from the peer cache and notifies the client.
func (s *Session) dropPeer(u models.User, resp *protocol.Response) error {
	s.peersMu.Lock()
	delete(s.peers, u.ID)
	s.peersMu.Unlock()
	return s.send(resp)
}

func (s *Session) setIdentity(u *models.User, connID int64) {
	s.peersMu.Lock()
	s.user = u
	s.connID = connID
	s.peersMu.Unlock()
}

func (s *Session) identity() (*models.User, int64) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	return s.user, s.connID
}

func (s *Session) setPeers(users []models.User) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	for _, u := range users {
		s.peers[u.ID] = u
	}
}

func (s *Session) peerSnapshot() []models.User {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()

	users := make([]models.User, 0, len(s.peers))
	for _, u := range s.peers {
		users = append(users, u)
	}
	return users
}

// teardown is the terminal step of the session: close the transport, leave
// the registry, then tell every cached peer. Registry removal comes first
// so a concurrent lookup cannot find a half-torn-down session. Guarded so
// an explicit disconnect followed by a transport error runs it once.
func (s *Session) teardown() {
	s.once.Do(func() {
		close(s.closed)
		s.conn.Close()

		user, connID := s.identity()
		if user == nil {
			log.Printf("Client disconnected from %s", s.conn.RemoteAddr())
			return
		}

		s.server.removeUser(user.ID)

		if s.server.store != nil && connID != 0 {
			if err := s.server.store.RecordDisconnect(connID, time.Now()); err != nil {
				log.Printf("Failed to journal disconnect for %s: %v", user.Username, err)
			}
		}

		resp := &protocol.Response{Type: protocol.RemoveUser, Origin: user}
		for _, peer := range s.peerSnapshot() {
			target, ok := s.server.findClient(peer.ID)
			if !ok {
				continue
			}
			if err := target.dropPeer(*user, resp); err != nil {
				log.Printf("Failed to notify %s of departure: %v", peer.Username, err)
			}
		}

		log.Printf("Client %s disconnected from %s", user.Username, s.conn.RemoteAddr())
	})
}
