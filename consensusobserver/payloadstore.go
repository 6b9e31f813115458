package consensusobserver

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type payloadEntry struct {
	transactions [][]byte
	limit        uint64
}

// PayloadStore indexes block-id to transaction payload (spec §4.1). It is
// internally synchronized so the commit callback can remove entries without
// holding the observer core's lock (spec §3 "Ownership").
type PayloadStore struct {
	mu      sync.RWMutex
	entries map[common.Hash]payloadEntry
	metrics *Metrics
}

// NewPayloadStore creates an empty payload store. m may be nil in tests.
func NewPayloadStore(m *Metrics) *PayloadStore {
	return &PayloadStore{entries: make(map[common.Hash]payloadEntry), metrics: m}
}

// Insert records the payload for block unconditionally (spec §4.6
// "Processing a BlockPayload": payload verification is a pluggable hook
// applied by the caller before Insert, not by the store itself).
func (s *PayloadStore) Insert(block BlockInfo, txs [][]byte, limit uint64) {
	s.mu.Lock()
	s.entries[block.ID] = payloadEntry{transactions: txs, limit: limit}
	n := len(s.entries)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SetPayloadStoreSize(n)
	}
}

// AllPayloadsExist reports whether every block in blocks has a stored payload.
func (s *PayloadStore) AllPayloadsExist(blocks []BlockInfo) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range blocks {
		if _, ok := s.entries[b.ID]; !ok {
			return false
		}
	}
	return true
}

// Exists reports whether a single block's payload is present.
func (s *PayloadStore) Exists(id common.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// Remove deletes the payloads for blocks, typically called from the commit
// callback after execution.
func (s *PayloadStore) Remove(blocks []BlockInfo) {
	s.mu.Lock()
	for _, b := range blocks {
		delete(s.entries, b.ID)
	}
	n := len(s.entries)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SetPayloadStoreSize(n)
	}
}

// Len returns the number of stored payloads.
func (s *PayloadStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
