package gateway

import "sync"

// ReplayEntry is one broadcast envelope kept for replay.
type ReplayEntry struct {
	Seq  int64
	Data []byte // pre-built envelope JSON
}

// ReplayBuffer is a fixed-size circular buffer of recent alert envelopes.
// Entries are pushed in increasing seq order, which Range relies on.
//
// Thread-safe for concurrent writes and reads.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []ReplayEntry
	pos  int // next write position
	full bool
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = replayCapacity
	}
	return &ReplayBuffer{buf: make([]ReplayEntry, capacity)}
}

// Push appends an envelope, overwriting the oldest entry when full.
// data is retained as is and must not be modified afterwards.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = ReplayEntry{Seq: seq, Data: data}
	rb.pos = (rb.pos + 1) % len(rb.buf)
	if rb.pos == 0 {
		rb.full = true
	}
}

// Range returns all entries with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []ReplayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []ReplayEntry
	for i, n := 0, rb.len(); i < n; i++ {
		e := rb.buf[rb.index(i)]
		if e.Seq > toSeq {
			break
		}
		if e.Seq >= fromSeq {
			result = append(result, e)
		}
	}
	return result
}

// OldestSeq returns the seq of the oldest retained entry, 0 when empty.
// Clients whose gap starts before it must fall back to the REST history.
func (rb *ReplayBuffer) OldestSeq() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.len() == 0 {
		return 0
	}
	return rb.buf[rb.index(0)].Seq
}

// Len returns the number of entries currently in the buffer.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

func (rb *ReplayBuffer) len() int {
	if rb.full {
		return len(rb.buf)
	}
	return rb.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (rb *ReplayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % len(rb.buf)
	}
	return logical
}
