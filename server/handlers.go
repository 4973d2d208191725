package server

import (
	"encoding/json"
	"log"
	"net"
	"time"

	"commlink/models"
	"commlink/protocol"
	"commlink/store"
)

// transferTags parameterizes the chunked-transfer handlers: file and audio
// share one shape and differ only in threshold and response tags.
type transferTags struct {
	kind           string
	canSend        protocol.ResponseType
	prepareReceive protocol.ResponseType
	chunk          protocol.ResponseType
	message        protocol.ResponseType
	sent           protocol.ResponseType
}

var fileTags = transferTags{
	kind:           "file",
	canSend:        protocol.CanSendFile,
	prepareReceive: protocol.PrepareReceiveFile,
	chunk:          protocol.FileChunk,
	message:        protocol.FileMessage,
	sent:           protocol.FileSent,
}

var audioTags = transferTags{
	kind:           "audio",
	canSend:        protocol.CanSendAudio,
	prepareReceive: protocol.PrepareReceiveAudio,
	chunk:          protocol.AudioChunk,
	message:        protocol.AudioMessage,
	sent:           protocol.AudioSent,
}

func sessionFiles(s *Session) *assembler { return s.files }
func sessionAudio(s *Session) *assembler { return s.audio }

func (s *Session) handleConnect(req *protocol.Request) {
	if s.user != nil {
		// The owning user is set at most once per connection.
		s.replyError(protocol.WrongParameters)
		return
	}

	var creds protocol.Credentials
	if err := req.Decode(&creds); err != nil || creds.Username == "" {
		s.replyError(protocol.WrongParameters)
		return
	}

	user := &models.User{
		ID:       s.server.nextUserID(),
		Host:     hostOf(s.conn.RemoteAddr()),
		Username: creds.Username,
	}

	var connID int64
	if s.server.store != nil {
		rowID, err := s.server.store.RecordConnect(user.Username, user.Host, time.Now())
		if err != nil {
			log.Printf("Failed to journal connect for %s: %v", user.Username, err)
		} else {
			connID = rowID
		}
	}

	s.setIdentity(user, connID)
	snapshot := s.server.addUser(user, s)
	s.setPeers(snapshot)

	log.Printf("Client %s connected from %s as user %d", user.Username, s.conn.RemoteAddr(), user.ID)
	s.reply(protocol.Connected, snapshot, user)

	// Every peer known at this point learns about the new user right here,
	// as part of this session's own connect handling.
	addResp := &protocol.Response{Type: protocol.AddUser, Origin: user}
	for _, peer := range snapshot {
		target, ok := s.server.findClient(peer.ID)
		if !ok {
			log.Printf("Couldn't find client for user %d while announcing user %d", peer.ID, user.ID)
			continue
		}
		if err := target.addPeer(*user, addResp); err != nil {
			log.Printf("Failed to announce user %d to user %d: %v", user.ID, peer.ID, err)
		}
	}
}

func (s *Session) handleSendMessage(req *protocol.Request) {
	if req.Destination == nil {
		s.replyError(protocol.WrongParameters)
		return
	}

	s.routeMessage(req.Content, req.Destination, protocol.Message, protocol.MessageSent)
}

// routeMessage forwards content to the destination session and confirms to
// the sender only once the destination accepted it. A missing session and a
// failed delivery look the same to the sender.
func (s *Session) routeMessage(content json.RawMessage, dest *models.User, t, success protocol.ResponseType) {
	target, ok := s.server.findClient(dest.ID)
	if !ok {
		s.replyError(protocol.DestinationNotFound)
		return
	}

	if err := target.deliver(&protocol.Response{Type: t, Origin: s.user, Content: content}); err != nil {
		s.replyError(protocol.DestinationNotFound)
		return
	}

	s.sendOwn(&protocol.Response{Type: success, Origin: s.user, Content: content})
}

// handlePrepareSend answers a transfer announcement: store the descriptor
// and invite the sender to stream, or refuse outright when the declared
// size is over the configured threshold.
func (s *Session) handlePrepareSend(req *protocol.Request, a *assembler, tags transferTags) {
	var desc models.Descriptor
	if err := req.Decode(&desc); err != nil {
		s.replyError(protocol.WrongParameters)
		return
	}

	if err := a.announce(&desc); err != nil {
		if err == ErrTransferTooLarge {
			s.replyError(protocol.InsufficientMemory)
		} else {
			s.replyError(protocol.WrongParameters)
		}
		return
	}

	// Only the id travels back; the recipient pulls the full descriptor
	// later through the symmetric prepare-request path. The origin names
	// the transfer's eventual destination.
	s.reply(tags.canSend, models.TransferRef{ID: desc.ID}, req.Destination)
}

// handleChunk buffers one chunk and, on the one that completes the
// declared count, turns the assembly into a message for the destination.
func (s *Session) handleChunk(req *protocol.Request, a *assembler, tags transferTags) {
	var chunk models.Chunk
	if err := req.Decode(&chunk); err != nil {
		s.replyError(protocol.WrongParameters)
		return
	}

	done, err := a.append(&chunk)
	if err != nil {
		s.replyError(protocol.WrongParameters)
		return
	}
	if !done {
		return
	}

	if req.Destination == nil {
		s.replyError(protocol.WrongParameters)
		return
	}

	desc, ok := a.descriptor(chunk.ID)
	if !ok {
		s.replyError(protocol.WrongParameters)
		return
	}

	msg := protocol.TransferMessage{
		ID:     desc.ID,
		Name:   desc.Name,
		Size:   a.size(desc.ID),
		Digest: a.digest(desc.ID),
	}

	if s.server.store != nil {
		rec := store.TransferRecord{
			Kind:        tags.kind,
			TransferID:  desc.ID,
			Name:        desc.Name,
			Chunks:      desc.ChunkCount,
			Bytes:       msg.Size,
			Digest:      msg.Digest,
			Recipient:   req.Destination.Username,
			CompletedAt: time.Now(),
		}
		if s.user != nil {
			rec.Sender = s.user.Username
		}
		if err := s.server.store.RecordTransfer(rec); err != nil {
			log.Printf("Failed to journal %s transfer %d: %v", tags.kind, desc.ID, err)
		}
	}

	content, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error encoding %s message: %v", tags.kind, err)
		return
	}

	s.routeMessage(content, req.Destination, tags.message, tags.sent)
}

// handlePrepareRequest serves the pull side of a transfer: hand the full
// descriptor back so the requester can size the retrieval. A nil
// destination means the requester asks about its own assembly.
func (s *Session) handlePrepareRequest(req *protocol.Request, sel func(*Session) *assembler, tags transferTags) {
	var ref models.TransferRef
	if err := req.Decode(&ref); err != nil {
		s.replyError(protocol.WrongParameters)
		return
	}

	owner, ownerUser, ok := s.resolveOwner(req.Destination)
	if !ok {
		s.replyError(protocol.DestinationNotFound)
		return
	}

	desc, ok := sel(owner).descriptor(ref.ID)
	if !ok {
		s.replyError(protocol.WrongParameters)
		return
	}

	s.reply(tags.prepareReceive, desc, ownerUser)
}

// handleRequestTransfer streams every stored chunk of a completed assembly
// back to the requester, in stored order, one response per chunk.
func (s *Session) handleRequestTransfer(req *protocol.Request, sel func(*Session) *assembler, tags transferTags) {
	var ref models.TransferRef
	if err := req.Decode(&ref); err != nil {
		s.replyError(protocol.WrongParameters)
		return
	}

	owner, ownerUser, ok := s.resolveOwner(req.Destination)
	if !ok {
		s.replyError(protocol.DestinationNotFound)
		return
	}

	a := sel(owner)
	desc, ok := a.descriptor(ref.ID)
	if !ok {
		s.replyError(protocol.WrongParameters)
		return
	}

	chunks := a.contents(ref.ID)
	if len(chunks) != desc.ChunkCount {
		s.replyError(protocol.WrongParameters)
		return
	}

	for i := range chunks {
		s.reply(tags.chunk, &chunks[i], ownerUser)
	}
}

// resolveOwner maps an optional destination to the session owning the
// addressed transfer; nil means the requester itself.
func (s *Session) resolveOwner(dest *models.User) (*Session, *models.User, bool) {
	if dest == nil {
		return s, s.user, true
	}
	owner, ok := s.server.findClient(dest.ID)
	if !ok {
		return nil, nil, false
	}
	return owner, dest, true
}

func (s *Session) handleRequestControl(req *protocol.Request) {
	s.relay(req, protocol.ControlRequest, func() {
		s.replyError(protocol.DestinationNotFound)
	})
}

func (s *Session) handleStopControl(req *protocol.Request) {
	s.relay(req, protocol.EndControl, func() {
		s.replyError(protocol.DestinationNotFound)
	})
}

func (s *Session) handleSendFrame(req *protocol.Request) {
	// A control session may legitimately end mid-stream; a vanished
	// destination tells the sender to stop streaming, it is not an error.
	s.relay(req, protocol.Frame, func() {
		s.reply(protocol.EndControl, nil, s.user)
	})
}

func (s *Session) handleProvokeEvent(req *protocol.Request) {
	s.relay(req, protocol.ProvokedEvent, func() {
		s.replyError(protocol.DestinationNotFound)
	})
}

// relay forwards the request content verbatim to the destination session.
// No inspection, no buffering; this path never touches assembler locks.
func (s *Session) relay(req *protocol.Request, t protocol.ResponseType, onMissing func()) {
	if req.Destination == nil {
		s.replyError(protocol.WrongParameters)
		return
	}

	target, ok := s.server.findClient(req.Destination.ID)
	if !ok {
		onMissing()
		return
	}

	if err := target.deliver(&protocol.Response{Type: t, Origin: s.user, Content: req.Content}); err != nil {
		onMissing()
	}
}

// hostOf strips the port from a transport peer address.
func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
