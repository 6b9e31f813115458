package consensusobserver

import "context"

// ConsensusConfig, ExecutionConfig and RandomnessConfig are on-chain
// reconfiguration bundles (spec §4.7, §6). Their internal shape belongs to
// the execution pipeline (an out-of-scope collaborator, spec §1); the
// observer only threads them through StartEpoch with defaulting on
// decode failure.
type ConsensusConfig struct {
	Defaulted bool
	// QuorumStoreEnabled selects which PayloadManager variant StartEpoch
	// is called with (spec §4.6 step 3).
	QuorumStoreEnabled bool
}
type ExecutionConfig struct{ Defaulted bool }
type RandomnessConfig struct{ Defaulted bool }

// PayloadManagerKind tags the two PayloadManager variants (spec §9: "model
// as a tagged sum, not inheritance").
type PayloadManagerKind int

const (
	PayloadManagerQuorumStore PayloadManagerKind = iota
	PayloadManagerPassthroughMempool
)

// PayloadManager is either a quorum-store-backed variant pointing at the
// Payload Store (C1), or a pass-through mempool variant, selected by
// on-chain config (spec §4.6 step 3).
type PayloadManager struct {
	Kind  PayloadManagerKind
	Store *PayloadStore // set when Kind == PayloadManagerQuorumStore
}

// Signer is a placeholder: observers do not sign (spec §4.6 step 3).
type Signer struct{}

// CommitCallback is invoked by the execution client after commit with the
// committed blocks and the ledger info that committed them (spec §4.6
// "Commit callback").
type CommitCallback func(committedBlocks []BlockInfo, ledgerInfo LedgerInfo)

// ExecutionClient is the collaborator the observer drives (spec §6); its
// implementation (the execution pipeline itself) is out of scope.
type ExecutionClient interface {
	StartEpoch(ctx context.Context, epochState EpochState, signer Signer, payloadManager PayloadManager, consensusCfg ConsensusConfig, executionCfg ExecutionConfig, randomnessCfg RandomnessConfig) error
	EndEpoch(ctx context.Context) error
	FinalizeOrder(ctx context.Context, block OrderedBlock, callback CommitCallback) error
	SendCommitMsg(ctx context.Context, commitDecision CommitDecision) error
	SyncTo(ctx context.Context, target LedgerInfo) error
}
