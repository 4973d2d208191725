package server

import (
	"encoding/hex"
	"sync"

	"golang.org/x/crypto/blake2b"

	"commlink/models"
)

// Transfer errors
var (
	ErrTransferTooLarge = &transferError{msg: "declared chunk count above limit"}
	ErrUnknownTransfer  = &transferError{msg: "unknown transfer id"}
	ErrTransferComplete = &transferError{msg: "transfer already complete"}
	ErrInvalidChunk     = &transferError{msg: "invalid chunk"}
)

type transferError struct {
	msg string
}

func (e *transferError) Error() string {
	return e.msg
}

// assembler accumulates the ordered chunks of one transfer kind for one
// session. Arrival order is transmission order because a session has a
// single reader, so chunks carry no sequence numbers. Completion is
// implicit: the list reaching the declared count is the only signal.
type assembler struct {
	limit       int
	mu          sync.Mutex
	descriptors map[int64]*models.Descriptor
	chunks      map[int64][]models.Chunk
}

func newAssembler(limit int) *assembler {
	return &assembler{
		limit:       limit,
		descriptors: make(map[int64]*models.Descriptor),
		chunks:      make(map[int64][]models.Chunk),
	}
}

// announce stores a descriptor, discarding any stale assembly under the
// same id. A declared count above the limit is refused; the boundary is
// inclusive, a count equal to the limit is still accepted.
func (a *assembler) announce(d *models.Descriptor) error {
	if d.ChunkCount < 1 {
		return ErrInvalidChunk
	}
	if d.ChunkCount > a.limit {
		return ErrTransferTooLarge
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.descriptors[d.ID] = d
	delete(a.chunks, d.ID)
	return nil
}

// append adds one chunk and reports whether the transfer just completed.
// A chunk for an unannounced id is refused and not buffered; so is a chunk
// arriving after completion, which keeps the assembled transfer intact.
func (a *assembler) append(c *models.Chunk) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.descriptors[c.ID]
	if !ok {
		return false, ErrUnknownTransfer
	}

	list := a.chunks[c.ID]
	if len(list) >= d.ChunkCount {
		return false, ErrTransferComplete
	}

	list = append(list, *c)
	a.chunks[c.ID] = list
	return len(list) == d.ChunkCount, nil
}

func (a *assembler) descriptor(id int64) (*models.Descriptor, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.descriptors[id]
	return d, ok
}

// contents returns a copy of the stored chunk list.
func (a *assembler) contents(id int64) []models.Chunk {
	a.mu.Lock()
	defer a.mu.Unlock()

	list := a.chunks[id]
	out := make([]models.Chunk, len(list))
	copy(out, list)
	return out
}

// digest hashes the assembled payload in stored order.
func (a *assembler) digest(id int64) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	h, _ := blake2b.New256(nil)
	for _, c := range a.chunks[id] {
		h.Write(c.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// size totals the assembled payload bytes.
func (a *assembler) size(id int64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var total int64
	for _, c := range a.chunks[id] {
		total += int64(len(c.Data))
	}
	return total
}
