package consensusobserver

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/enode"
)

// PeerMetadataSource exposes the transport's connected-peer metadata map,
// the raw input to the Peer Ranker (spec §4.4).
type PeerMetadataSource interface {
	ConnectedPeers() []PeerMetadata
}

// SubscribedToUsSource reports peers currently subscribed to this node,
// excluded from Peer Ranker candidates (spec §4.4) and supplied by the
// Publisher collaborator.
type SubscribedToUsSource interface {
	SubscribedToUs() map[enode.ID]bool
}

// Observer is the passive consensus follower's state machine (spec §4.6,
// component C6). It exclusively owns the Payload Store, Pending Block
// Buffer, current Subscription, Sync Handle, and the root's write side
// (spec §3 "Ownership").
type Observer struct {
	cfg     Config
	clock   mclock.Clock
	metrics *Metrics

	storage    Storage
	execClient ExecutionClient
	peerClient PeerClient
	connected  ConnectedPeers
	peers      PeerMetadataSource
	subscribed SubscribedToUsSource
	reconfig   *ReconfigAdapter
	publisher  Publisher

	payloads *PayloadStore
	pending  *PendingBuffer

	rootMu sync.Mutex
	root   LedgerInfo

	epochState     EpochState
	subscription   *Subscription
	syncHandle     *SyncHandle
	syncCompletion chan LedgerInfo
	lastTerminated enode.ID
	hasTerminated  bool
}

// NewObserver wires an Observer from its collaborators (spec §6). The
// payload store and pending buffer are owned by the returned Observer but
// may be read elsewhere via clonable handles (spec §9 "Cyclic handles").
func NewObserver(cfg Config, clock mclock.Clock, metrics *Metrics, storage Storage, execClient ExecutionClient, peerClient PeerClient, connected ConnectedPeers, peers PeerMetadataSource, subscribed SubscribedToUsSource, reconfig *ReconfigAdapter, publisher Publisher) *Observer {
	return &Observer{
		cfg:            cfg,
		clock:          clock,
		metrics:        metrics,
		storage:        storage,
		execClient:     execClient,
		peerClient:     peerClient,
		connected:      connected,
		peers:          peers,
		subscribed:     subscribed,
		reconfig:       reconfig,
		publisher:      publisher,
		payloads:       NewPayloadStore(metrics),
		pending:        NewPendingBuffer(cfg.MaxPendingBlocks, metrics),
		syncCompletion: make(chan LedgerInfo, 1),
	}
}

// Payloads returns the shared payload-store handle, for wiring into a
// quorum-store PayloadManager (spec §4.6 step 3).
func (o *Observer) Payloads() *PayloadStore { return o.payloads }

func (o *Observer) inSyncMode() bool { return o.syncHandle != nil }

// Start is the long-running driver (spec §4.6 "Public surface"). The
// sync-completion channel is internal: it is fed exclusively by this
// observer's own Sync Jobs (spec §4.5), never by a caller.
func (o *Observer) Start(ctx context.Context, networkEvents <-chan NetworkEvent, requestEvents <-chan RequestEvent) error {
	root, err := o.storage.GetLatestLedgerInfo(ctx)
	if err != nil {
		return err
	}
	o.root = root

	if !o.cfg.ObserverEnabled {
		if o.cfg.PublisherEnabled {
			return o.runForwardingOnly(ctx, requestEvents)
		}
		return nil
	}

	if err := o.waitForEpochStart(ctx); err != nil {
		return err
	}
	return o.mainLoop(ctx, networkEvents, requestEvents)
}

// runForwardingOnly is the stripped loop for a publisher-only node (spec
// §4.6 startup step 2): it forwards inbound subscription requests and does
// nothing else.
func (o *Observer) runForwardingOnly(ctx context.Context, requestEvents <-chan RequestEvent) error {
	for {
		select {
		case ev, ok := <-requestEvents:
			if !ok {
				return nil
			}
			o.handleRequest(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitForEpochStart blocks on the Reconfig Adapter, installs epoch_state,
// builds a payload manager, and starts the new epoch on the execution
// client (spec §4.6 startup step 3).
func (o *Observer) waitForEpochStart(ctx context.Context) error {
	epochState, consensusCfg, executionCfg, randomnessCfg, err := o.reconfig.Next(ctx)
	if err != nil {
		return err
	}
	o.epochState = epochState

	pm := PayloadManager{Kind: PayloadManagerPassthroughMempool}
	if consensusCfg.QuorumStoreEnabled {
		pm = PayloadManager{Kind: PayloadManagerQuorumStore, Store: o.payloads}
	}
	return o.execClient.StartEpoch(ctx, epochState, Signer{}, pm, consensusCfg, executionCfg, randomnessCfg)
}

// mainLoop waits on network messages, sync-completion notifications, and a
// periodic progress tick (spec §4.6 "Main select loop"); it exits only
// once every message source is closed.
func (o *Observer) mainLoop(ctx context.Context, networkEvents <-chan NetworkEvent, requestEvents <-chan RequestEvent) error {
	tick := o.clock.After(o.cfg.ProgressCheckInterval)
	for {
		select {
		case ev, ok := <-networkEvents:
			if !ok {
				networkEvents = nil
				break
			}
			o.handleNetworkEvent(ctx, ev)

		case req, ok := <-requestEvents:
			if !ok {
				requestEvents = nil
				break
			}
			o.handleRequest(req)

		case notified := <-o.syncCompletion:
			if err := o.handleSyncCompletion(ctx, notified); err != nil {
				return err
			}

		case <-tick:
			o.progressTick(ctx)
			tick = o.clock.After(o.cfg.ProgressCheckInterval)

		case <-ctx.Done():
			return ctx.Err()
		}

		if networkEvents == nil && requestEvents == nil {
			return nil
		}
	}
}

// handleNetworkEvent enforces UnexpectedSender (spec §7: only the active
// subscription's peer may deliver direct-send messages) before dispatch.
func (o *Observer) handleNetworkEvent(ctx context.Context, ev NetworkEvent) {
	if o.subscription == nil || ev.Sender != o.subscription.Peer {
		log.Warn("dropping direct-send message from unexpected sender", "sender", ev.Sender)
		return
	}
	o.subscription.OnMessage(o.clock.Now())

	switch msg := ev.Message.(type) {
	case OrderedBlockMsg:
		o.handleOrderedBlock(ctx, msg.Block)
	case CommitDecisionMsg:
		o.handleCommitDecision(ctx, msg.Decision)
	case BlockPayloadMsg:
		o.handleBlockPayload(ctx, msg.Payload)
	default:
		log.Warn("dropping direct-send message of unrecognized type")
	}
}

// handleRequest forwards inbound Subscribe/Unsubscribe requests verbatim to
// the publisher collaborator when PublisherEnabled is set and a publisher is
// wired (spec §4.6 "Request forwarding"). Otherwise the observer replies
// with ErrRPCError itself; it never answers a forwarded request.
func (o *Observer) handleRequest(ev RequestEvent) {
	if o.publisher == nil || !o.cfg.PublisherEnabled {
		ev.Respond.Respond(nil, ErrRPCError)
		return
	}
	o.publisher.HandleRequest(ev)
}

// lastKnownBlockID is last_known_block ?? root.commit_info (spec §4.6 step 4).
func (o *Observer) lastKnownBlockID() (common.Hash, Key) {
	if last, ok := o.pending.GetLastPendingBlock(); ok {
		return last.ID, last.Key()
	}
	o.rootMu.Lock()
	defer o.rootMu.Unlock()
	return o.root.BlockID, o.root.Key()
}

// handleOrderedBlock implements spec §4.6 "Processing an OrderedBlock".
func (o *Observer) handleOrderedBlock(ctx context.Context, block OrderedBlock) {
	if err := block.Validate(); err != nil {
		log.Warn("dropping structurally invalid ordered block", "err", err)
		return
	}

	first := block.First()
	verified := false
	switch {
	case first.Epoch == o.epochState.Epoch:
		if err := o.epochState.Verifier.Verify(block.OrderedProof); err != nil {
			log.Warn("dropping ordered block that fails signature verification", "epoch", first.Epoch, "round", first.Round, "err", err)
			return
		}
		verified = true
	case first.Epoch > o.epochState.Epoch:
		verified = false
	default:
		log.Warn("dropping ordered block for a stale epoch", "blockEpoch", first.Epoch, "currentEpoch", o.epochState.Epoch)
		return
	}

	lastKnownID, _ := o.lastKnownBlockID()
	if lastKnownID != first.ParentID {
		log.Warn("dropping ordered block with mismatched parent", "expectedParent", lastKnownID, "gotParent", first.ParentID)
		return
	}

	o.pending.InsertOrdered(block, verified)

	// No payload-presence gate here: the original's process_ordered_block
	// finalizes whenever verified and not in sync mode, with no
	// all_payloads_exist check (the quorum-store payload manager fetches
	// missing payloads on its own behind finalize_order). Gating here would
	// also leave this call site and the sync-completion drain (below)
	// enforcing payload presence inconsistently.
	if verified && !o.inSyncMode() {
		if err := o.finalizeOrderedBlock(ctx, block); err != nil {
			log.Error("finalize order failed", "key", block.Last().Key(), "err", err)
		}
	}
}

// finalizeOrderedBlock hands block plus a freshly constructed commit
// callback to the execution client (spec §4.6 step 5, §9 "Cyclic handles").
func (o *Observer) finalizeOrderedBlock(ctx context.Context, block OrderedBlock) error {
	return o.execClient.FinalizeOrder(ctx, block, o.makeCommitCallback())
}

// makeCommitCallback builds the per-finalize commit callback (spec §4.6
// "Commit callback"): it closes over handles to the Payload Store and the
// Pending Buffer, and reaches the shared root through o (rootMu and root
// are the only Observer fields it touches).
func (o *Observer) makeCommitCallback() CommitCallback {
	payloads := o.payloads
	pending := o.pending
	m := o.metrics
	return func(committedBlocks []BlockInfo, ledgerInfo LedgerInfo) {
		payloads.Remove(committedBlocks)
		pending.RemoveBlocksForCommit(ledgerInfo)

		o.rootMu.Lock()
		defer o.rootMu.Unlock()
		if ledgerInfo.Epoch != o.root.Epoch {
			log.Warn("commit callback epoch mismatch with root, skipping to avoid racing state-sync",
				"callbackEpoch", ledgerInfo.Epoch, "rootEpoch", o.root.Epoch)
			return
		}
		if ledgerInfo.Round > o.root.Round {
			o.root = ledgerInfo
		}
		if m != nil {
			m.IncBlocksFinalized(len(committedBlocks))
		}
	}
}

// handleCommitDecision implements spec §4.6 "Processing a CommitDecision".
// The attach-to-pending-block attempt (step 2) only runs nested inside the
// current-epoch, signature-verified branch, matching the original's
// process_commit_decision_for_pending_block call site: a future-epoch
// decision's signature is deliberately left unverified (spec §9
// "Future-epoch CommitDecision signature"), so it must never be allowed to
// match an unverified pending entry and reach SendCommitMsg on that basis —
// only state-sync may recover a future epoch.
func (o *Observer) handleCommitDecision(ctx context.Context, cd CommitDecision) {
	if cd.LedgerInfo.Epoch == o.epochState.Epoch {
		if err := o.epochState.Verifier.Verify(cd.LedgerInfo); err != nil {
			log.Warn("dropping commit decision that fails signature verification", "key", cd.Key(), "err", err)
			return
		}

		if entry, ok := o.pending.GetVerifiedPendingBlock(cd.Key()); ok {
			o.pending.UpdateCommitDecision(cd.LedgerInfo)
			if o.payloads.AllPayloadsExist(entry.Block.Blocks) && !o.inSyncMode() {
				if err := o.execClient.SendCommitMsg(ctx, cd); err != nil {
					log.Error("send commit message failed", "key", cd.Key(), "err", err)
				}
			}
			return
		}
	}
	// Future-epoch commit decisions are deliberately left unverified
	// (spec §9 "Future-epoch CommitDecision signature"): reliance is on
	// state-sync to recover if the peer is lying.

	_, lastKey := o.lastKnownBlockID()
	if lastKey.Less(cd.Key()) {
		o.enterSyncMode(ctx, cd.LedgerInfo)
	}
	// Otherwise: stale or already-committed decision, ignore.
}

// enterSyncMode implements spec §4.6 step 3: set root to the commit
// decision, prune the pending buffer up to it, and spawn a Sync Job
// (replacing, and so cancelling, any prior one — invariant I5).
func (o *Observer) enterSyncMode(ctx context.Context, target LedgerInfo) {
	o.rootMu.Lock()
	o.root = target
	o.rootMu.Unlock()

	o.pending.RemoveBlocksForCommit(target)

	if o.syncHandle != nil {
		o.syncHandle.Cancel()
	}
	job := StartSyncJob(ctx, o.execClient, target, o.syncCompletion)
	o.syncHandle = &SyncHandle{Job: job}
	if o.metrics != nil {
		o.metrics.SetSyncMode(true)
	}
}

// handleBlockPayload implements spec §4.6 "Processing a BlockPayload": the
// payload is verified by the pluggable hook (default accept, spec §9) and,
// if accepted, inserted with no further check, then a post-insert sweep closes the "late
// payload arrival" gap (SPEC_FULL.md supplemented feature 3).
func (o *Observer) handleBlockPayload(ctx context.Context, bp BlockPayload) {
	if err := o.cfg.verifyPayload(bp); err != nil {
		log.Warn("dropping block payload that fails verification", "block", bp.Block.ID, "err", err)
		return
	}
	o.payloads.Insert(bp.Block, bp.Transactions, bp.Limit)
	o.checkPendingReady(ctx, bp.Block)
}

// checkPendingReady re-checks whether the pending entry at block's key now
// has every payload present and, if it already carries an attached commit
// decision, forwards that decision (spec §9 "Late payload arrival").
func (o *Observer) checkPendingReady(ctx context.Context, block BlockInfo) {
	entry, ok := o.pending.Get(block.Key())
	if !ok || entry.Commit == nil {
		return
	}
	if !o.payloads.AllPayloadsExist(entry.Block.Blocks) {
		return
	}
	if o.inSyncMode() {
		return
	}
	if err := o.execClient.SendCommitMsg(ctx, CommitDecision{LedgerInfo: *entry.Commit}); err != nil {
		log.Error("send commit message failed after late payload arrival", "key", block.Key(), "err", err)
	}
}

// handleSyncCompletion implements spec §4.6 "Sync-completion handling".
func (o *Observer) handleSyncCompletion(ctx context.Context, notified LedgerInfo) error {
	o.rootMu.Lock()
	stale := o.root.Key() != notified.Key()
	o.rootMu.Unlock()
	if stale {
		log.Debug("ignoring stale sync-completion notification", "notified", notified.Key())
		return nil
	}

	if notified.Epoch > o.epochState.Epoch {
		if err := o.execClient.EndEpoch(ctx); err != nil {
			return err
		}
		oldEpochState := o.epochState
		if err := o.waitForEpochStart(ctx); err != nil {
			return err
		}
		o.pending.VerifyPendingBlocks(oldEpochState, o.epochState)
	}

	o.syncHandle = nil
	if o.metrics != nil {
		o.metrics.SetSyncMode(false)
	}

	for _, entry := range o.pending.GetAllVerifiedPendingBlocks() {
		if err := o.finalizeOrderedBlock(ctx, entry.Block); err != nil {
			log.Error("finalize order failed during drain", "key", entry.Block.Last().Key(), "err", err)
			continue
		}
		if entry.Commit != nil {
			if err := o.execClient.SendCommitMsg(ctx, CommitDecision{LedgerInfo: *entry.Commit}); err != nil {
				log.Error("send commit message failed during drain", "key", entry.Block.Last().Key(), "err", err)
			}
		}
	}
	return nil
}

// progressTick implements spec §4.6 "Progress tick".
func (o *Observer) progressTick(ctx context.Context) {
	if o.subscription != nil {
		ranked := o.rankedCandidates()
		if err := o.subscription.CheckAll(o.clock.Now(), o.connected, o.cfg.SubscriptionTimeout, o.storage, o.cfg.DBProgressCheckInterval, o.cfg.ProgressStallTicks, ranked, o.cfg.TopK); err != nil {
			kind := KindOf(err)
			peer := o.subscription.Peer
			log.Warn("terminating unhealthy subscription", "peer", peer, "reason", kind)
			go o.fireAndForgetUnsubscribe(peer)
			if o.metrics != nil {
				o.metrics.IncSubscriptionTerminated(kind)
			}
			o.subscription = nil
			o.lastTerminated = peer
			o.hasTerminated = true
		}
	}

	if o.subscription == nil {
		o.trySubscribe(ctx)
	}
}

func (o *Observer) fireAndForgetUnsubscribe(peer enode.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.NetworkRequestTimeout)
	defer cancel()
	if err := o.peerClient.Unsubscribe(ctx, peer); err != nil {
		log.Debug("unsubscribe rpc failed", "peer", peer, "err", err)
	}
}

// rankedCandidates builds the Peer Ranker's candidate list, excluding peers
// already subscribed to us and the most recently terminated peer (spec
// §4.4).
func (o *Observer) rankedCandidates() []PeerMetadata {
	exclude := o.subscribed.SubscribedToUs()
	if exclude == nil {
		exclude = make(map[enode.ID]bool)
	}
	if o.hasTerminated {
		exclude[o.lastTerminated] = true
	}
	return Rank(o.peers.ConnectedPeers(), exclude)
}

// trySubscribe walks the ranked candidate list sending Subscribe RPCs
// sequentially; on the first SubscribeAck it installs the subscription and
// stops (spec §4.6 "Progress tick" step 2).
func (o *Observer) trySubscribe(ctx context.Context) {
	ranked := o.rankedCandidates()
	limit := o.cfg.MaxConcurrentSubscriptions
	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}
	for _, candidate := range ranked[:limit] {
		rctx, cancel := context.WithTimeout(ctx, o.cfg.NetworkRequestTimeout)
		_, err := o.peerClient.Subscribe(rctx, candidate.ID)
		cancel()
		if err != nil {
			log.Warn("subscribe rpc failed", "peer", candidate.ID, "err", err)
			continue
		}
		version, _ := o.storage.LatestSyncedVersion()
		o.subscription = NewSubscription(candidate.ID, o.clock.Now(), version)
		return
	}
}
