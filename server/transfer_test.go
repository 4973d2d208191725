package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commlink/models"
)

func TestAssemblerThreshold(t *testing.T) {
	a := newAssembler(3)

	assert.NoError(t, a.announce(&models.Descriptor{ID: 1, ChunkCount: 3}))
	assert.ErrorIs(t, a.announce(&models.Descriptor{ID: 2, ChunkCount: 4}), ErrTransferTooLarge)
	assert.ErrorIs(t, a.announce(&models.Descriptor{ID: 3, ChunkCount: 0}), ErrInvalidChunk)
}

func TestAssemblerCompletion(t *testing.T) {
	a := newAssembler(8)
	require.NoError(t, a.announce(&models.Descriptor{ID: 1, ChunkCount: 2}))

	done, err := a.append(&models.Chunk{ID: 1, Data: []byte("ab")})
	require.NoError(t, err)
	assert.False(t, done)

	done, err = a.append(&models.Chunk{ID: 1, Data: []byte("cd")})
	require.NoError(t, err)
	assert.True(t, done)

	// Beyond the declared count nothing is buffered.
	_, err = a.append(&models.Chunk{ID: 1, Data: []byte("ef")})
	assert.ErrorIs(t, err, ErrTransferComplete)
	assert.Len(t, a.contents(1), 2)

	assert.Equal(t, int64(4), a.size(1))
	assert.Len(t, a.digest(1), 64)
}

func TestAssemblerUnknownID(t *testing.T) {
	a := newAssembler(8)

	_, err := a.append(&models.Chunk{ID: 5, Data: []byte("x")})
	assert.ErrorIs(t, err, ErrUnknownTransfer)
	assert.Empty(t, a.contents(5))
}

func TestAssemblerReannounceResets(t *testing.T) {
	a := newAssembler(8)
	require.NoError(t, a.announce(&models.Descriptor{ID: 1, ChunkCount: 2}))

	_, err := a.append(&models.Chunk{ID: 1, Data: []byte("ab")})
	require.NoError(t, err)

	// A fresh announcement under the same id discards the stale assembly.
	require.NoError(t, a.announce(&models.Descriptor{ID: 1, ChunkCount: 1}))
	assert.Empty(t, a.contents(1))

	done, err := a.append(&models.Chunk{ID: 1, Data: []byte("z")})
	require.NoError(t, err)
	assert.True(t, done)
}
