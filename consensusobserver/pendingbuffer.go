package consensusobserver

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// PendingEntry is one (epoch,round)-keyed slot in the Pending Block Buffer:
// an ordered block, whether its proof has been verified, and an optionally
// attached commit decision (spec §4.2).
type PendingEntry struct {
	Block    OrderedBlock
	Verified bool
	Commit   *LedgerInfo
}

// PendingBuffer is the ordered-by-(epoch,round) buffer of ordered blocks
// (spec §4.2, component C2). It is internally synchronized, same as
// PayloadStore, so the commit callback can prune it without holding the
// observer core's lock.
type PendingBuffer struct {
	mu       sync.Mutex
	byKey    map[Key]*PendingEntry
	order    []Key // sorted ascending
	maxDepth int
	metrics  *Metrics
}

// NewPendingBuffer creates an empty buffer bounded at maxDepth entries
// (spec §4.2 "Depth bound").
func NewPendingBuffer(maxDepth int, m *Metrics) *PendingBuffer {
	return &PendingBuffer{byKey: make(map[Key]*PendingEntry), maxDepth: maxDepth, metrics: m}
}

func (b *PendingBuffer) insertSorted(k Key) {
	i := sort.Search(len(b.order), func(i int) bool { return !b.order[i].Less(k) })
	b.order = append(b.order, Key{})
	copy(b.order[i+1:], b.order[i:])
	b.order[i] = k
}

func (b *PendingBuffer) reportDepth() {
	if b.metrics != nil {
		b.metrics.SetPendingBlocksDepth(len(b.order))
	}
}

// InsertOrdered inserts block at its key, idempotent on key: a second insert
// for the same key only takes effect if it raises Verified from false to
// true (spec §4.2). Beyond MaxDepth, new keys are dropped (log-and-ignore).
func (b *PendingBuffer) InsertOrdered(block OrderedBlock, verified bool) {
	k := block.Last().Key()
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.byKey[k]; ok {
		if verified && !existing.Verified {
			existing.Verified = true
			existing.Block = block
		}
		return
	}
	if b.maxDepth > 0 && len(b.order) >= b.maxDepth {
		log.Warn("pending block buffer at depth bound, dropping newest entry", "key", k, "depth", b.maxDepth)
		return
	}
	b.byKey[k] = &PendingEntry{Block: block, Verified: verified}
	b.insertSorted(k)
	b.reportDepth()
}

// UpdateCommitDecision attaches ld to the entry at ld.Key() if one exists;
// otherwise it is a no-op (spec §4.2).
func (b *PendingBuffer) UpdateCommitDecision(ld LedgerInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.byKey[ld.Key()]; ok {
		cd := ld
		e.Commit = &cd
	}
}

// GetVerifiedPendingBlock returns the entry at k iff its Verified flag is set.
func (b *PendingBuffer) GetVerifiedPendingBlock(k Key) (*PendingEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byKey[k]
	if !ok || !e.Verified {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// Get returns the entry at k regardless of verification state.
func (b *PendingBuffer) Get(k Key) (*PendingEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byKey[k]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// GetLastPendingBlock returns the last block of the highest-keyed entry, if
// any; it drives the parent-chain gate in the observer core (spec §4.6
// step 4).
func (b *PendingBuffer) GetLastPendingBlock() (BlockInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.order) == 0 {
		return BlockInfo{}, false
	}
	top := b.order[len(b.order)-1]
	return b.byKey[top].Block.Last(), true
}

// RemoveBlocksForCommit removes every entry with key <= ld.Key() (spec §4.2).
func (b *PendingBuffer) RemoveBlocksForCommit(ld LedgerInfo) {
	cutoff := ld.Key()
	b.mu.Lock()
	defer b.mu.Unlock()
	i := 0
	for ; i < len(b.order); i++ {
		if !b.order[i].LessOrEqual(cutoff) {
			break
		}
		delete(b.byKey, b.order[i])
	}
	b.order = b.order[i:]
	b.reportDepth()
}

// VerifyPendingBlocks runs on epoch rollover (spec §4.2): entries for the
// new epoch are re-checked against curEpochState's verifier. A successful
// check promotes Verified to true; a failed check discards the entry,
// since it was only optimistically buffered pending the epoch change.
// prevEpochState is accepted for parity with the spec signature and for
// callers that want to log the transition; verification itself only needs
// the new state.
func (b *PendingBuffer) VerifyPendingBlocks(prevEpochState, curEpochState EpochState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.order[:0]
	for _, k := range b.order {
		e := b.byKey[k]
		if e.Verified || k.Epoch != curEpochState.Epoch {
			kept = append(kept, k)
			continue
		}
		if err := curEpochState.Verifier.Verify(e.Block.OrderedProof); err != nil {
			log.Warn("discarding pending block that fails verification under new epoch",
				"key", k, "prevEpoch", prevEpochState.Epoch, "newEpoch", curEpochState.Epoch, "err", err)
			delete(b.byKey, k)
			continue
		}
		e.Verified = true
		kept = append(kept, k)
	}
	b.order = kept
	b.reportDepth()
}

// GetAllVerifiedPendingBlocks returns every verified entry in key order, for
// the sync-completion drain (spec §4.6 step 4, property P6).
func (b *PendingBuffer) GetAllVerifiedPendingBlocks() []PendingEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PendingEntry, 0, len(b.order))
	for _, k := range b.order {
		e := b.byKey[k]
		if e.Verified {
			out = append(out, *e)
		}
	}
	return out
}

// Len returns the number of buffered entries.
func (b *PendingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}
