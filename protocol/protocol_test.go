package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commlink/models"
)

func TestHandshake(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReady(&buf))
	require.NoError(t, AwaitReady(&buf))

	buf.Reset()
	buf.WriteByte(0x7f)
	assert.ErrorIs(t, AwaitReady(&buf), ErrBadHandshake)
}

func TestRequestRoundTrip(t *testing.T) {
	dest := &models.User{ID: 42, Host: "10.0.0.7", Username: "bob"}
	req, err := NewRequest(SendMessage, MessageContent{Text: "hi|bob\n"}, dest)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, req))

	got, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, SendMessage, got.Type)
	require.NotNil(t, got.Destination)
	assert.Equal(t, int64(42), got.Destination.ID)

	var content MessageContent
	require.NoError(t, got.Decode(&content))
	assert.Equal(t, "hi|bob\n", content.Text)
}

func TestResponseChunkRoundTrip(t *testing.T) {
	origin := &models.User{ID: 1, Username: "alice"}
	resp, err := NewResponse(FileChunk, models.Chunk{ID: 9, Data: []byte{0x00, 0xff, 0x10}}, origin)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, resp))

	got, err := ReadResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, FileChunk, got.Type)

	var chunk models.Chunk
	require.NoError(t, got.Decode(&chunk))
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, chunk.Data)
}

func TestMalformedRecord(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("{oops")
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf.Write(lenBuf[:])
	buf.Write(payload)

	_, err := ReadRequest(&buf)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNullRecord(t *testing.T) {
	// A JSON null frames and decodes, leaving an empty request; rejecting
	// it is the session's job, not the codec's.
	var buf bytes.Buffer
	payload := []byte("null")
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf.Write(lenBuf[:])
	buf.Write(payload)

	req, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Empty(t, req.Type)
}

func TestOversizedRecordRefused(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxRecordSize+1)
	buf.Write(lenBuf[:])

	_, err := ReadRequest(&buf)
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestMissingContentIsMalformed(t *testing.T) {
	req := &Request{Type: Connect}
	var creds Credentials
	assert.ErrorIs(t, req.Decode(&creds), ErrMalformed)
}
