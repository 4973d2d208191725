package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commlink/protocol"
	"commlink/server"
)

func startTestServer(t *testing.T) *server.Server {
	srv := server.New(nil, &server.ServerConfig{
		FileChunkLimit:  8,
		AudioChunkLimit: 8,
		WriteTimeout:    5 * time.Second,
		QueueDepth:      16,
	})
	require.NoError(t, srv.Open("127.0.0.1", 0))
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestDialConnectAndMessage(t *testing.T) {
	srv := startTestServer(t)
	addr := srv.Addr().String()

	alice, err := Dial(addr)
	require.NoError(t, err)
	defer alice.Close()

	snapshot, err := alice.Connect("alice")
	require.NoError(t, err)
	assert.Empty(t, snapshot)
	require.NotNil(t, alice.Self)
	assert.Equal(t, "alice", alice.Self.Username)

	bob, err := Dial(addr)
	require.NoError(t, err)
	defer bob.Close()

	snapshot, err = bob.Connect("bob")
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, alice.Self.ID, snapshot[0].ID)

	// Alice hears about bob before anything else.
	added, err := alice.Receive()
	require.NoError(t, err)
	require.Equal(t, protocol.AddUser, added.Type)

	require.NoError(t, alice.SendMessage("hello over tcp", bob.Self))

	msg, err := bob.Receive()
	require.NoError(t, err)
	require.Equal(t, protocol.Message, msg.Type)

	var content protocol.MessageContent
	require.NoError(t, msg.Decode(&content))
	assert.Equal(t, "hello over tcp", content.Text)

	sent, err := alice.Receive()
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageSent, sent.Type)

	require.NoError(t, bob.Disconnect())

	removed, err := alice.Receive()
	require.NoError(t, err)
	assert.Equal(t, protocol.RemoveUser, removed.Type)
}
