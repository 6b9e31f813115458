// Package consensusobserver implements a passive consensus follower: a node
// that subscribes to a single upstream validator peer, replays its committed
// block stream into a local execution pipeline, and falls back to state-sync
// when the stream can't be bridged incrementally.
package consensusobserver

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Epoch is a reconfiguration period with a fixed validator set and verifier.
type Epoch uint64

// Round is a monotonic counter within an epoch identifying a consensus slot.
type Round uint64

// Key orders pending blocks and ledger infos by (epoch, round).
type Key struct {
	Epoch Epoch
	Round Round
}

// Less reports whether k precedes other in (epoch, round) order.
func (k Key) Less(other Key) bool {
	if k.Epoch != other.Epoch {
		return k.Epoch < other.Epoch
	}
	return k.Round < other.Round
}

// LessOrEqual reports whether k is at or before other in (epoch, round) order.
func (k Key) LessOrEqual(other Key) bool {
	return k.Less(other) || k == other
}

func (k Key) String() string {
	return fmt.Sprintf("(%d,%d)", k.Epoch, k.Round)
}

// Verifier aggregates validator keys and voting power for one epoch and
// checks an aggregated signature over a ledger info.
type Verifier interface {
	Verify(li LedgerInfo) error
}

// EpochState is the verification context for one epoch.
type EpochState struct {
	Epoch    Epoch
	Verifier Verifier
}

// LedgerInfo is a signed ledger summary, used both as a commit proof and as
// the observer's root.
type LedgerInfo struct {
	Epoch     Epoch
	Round     Round
	BlockID   common.Hash
	Timestamp uint64
	Signature []byte
}

// Key returns the (epoch, round) identity of the ledger info.
func (li LedgerInfo) Key() Key { return Key{li.Epoch, li.Round} }

// BlockInfo identifies one block in the ordering chain.
type BlockInfo struct {
	Epoch     Epoch
	Round     Round
	ID        common.Hash
	ParentID  common.Hash
	Timestamp uint64
}

// Key returns the (epoch, round) identity of the block.
func (b BlockInfo) Key() Key { return Key{b.Epoch, b.Round} }

// OrderedBlock is a non-empty, internally-contiguous sequence of blocks plus
// an ordered proof (a LedgerInfo over the last block).
type OrderedBlock struct {
	Blocks       []BlockInfo
	OrderedProof LedgerInfo
}

// First returns the first block in the sequence.
func (ob OrderedBlock) First() BlockInfo { return ob.Blocks[0] }

// Last returns the last block in the sequence.
func (ob OrderedBlock) Last() BlockInfo { return ob.Blocks[len(ob.Blocks)-1] }

// Validate checks the two structural invariants from spec §3: the blocks
// form a contiguous parent chain, and the ordered proof matches the last
// block's identity.
func (ob OrderedBlock) Validate() error {
	if len(ob.Blocks) == 0 {
		return fmt.Errorf("%w: empty ordered block", ErrInvalidMessage)
	}
	for i := 1; i < len(ob.Blocks); i++ {
		if ob.Blocks[i].ParentID != ob.Blocks[i-1].ID {
			return fmt.Errorf("%w: non-contiguous parent chain at index %d", ErrInvalidMessage, i)
		}
	}
	last := ob.Last()
	if ob.OrderedProof.BlockID != last.ID || ob.OrderedProof.Epoch != last.Epoch || ob.OrderedProof.Round != last.Round {
		return fmt.Errorf("%w: ordered proof does not match last block", ErrInvalidMessage)
	}
	return nil
}

// CommitDecision is a signed ledger info asserting commit at (epoch, round).
type CommitDecision struct {
	LedgerInfo LedgerInfo
}

// Key returns the (epoch, round) this decision asserts commit at.
func (cd CommitDecision) Key() Key { return cd.LedgerInfo.Key() }

// BlockPayload carries a block's transactions, independent of its
// OrderedBlock delivery.
type BlockPayload struct {
	Block        BlockInfo
	Transactions [][]byte
	Limit        uint64
}
