package consensusobserver

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/p2p/enode"
)

// fakeExecClient is a controllable ExecutionClient double shared by
// syncjob_test.go and observer_test.go.
type fakeExecClient struct {
	mu sync.Mutex

	startEpochCalls []EpochState
	endEpochCalls   int
	finalizeCalls   []OrderedBlock
	commitMsgCalls  []CommitDecision
	syncToCalls     []LedgerInfo

	syncToErr    error
	syncToBlock  chan struct{} // if non-nil, SyncTo blocks until closed or ctx done
	finalizeFunc func(block OrderedBlock, cb CommitCallback) error
}

func (f *fakeExecClient) StartEpoch(ctx context.Context, epochState EpochState, signer Signer, pm PayloadManager, cc ConsensusConfig, ec ExecutionConfig, rc RandomnessConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startEpochCalls = append(f.startEpochCalls, epochState)
	return nil
}

func (f *fakeExecClient) EndEpoch(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endEpochCalls++
	return nil
}

func (f *fakeExecClient) FinalizeOrder(ctx context.Context, block OrderedBlock, cb CommitCallback) error {
	f.mu.Lock()
	f.finalizeCalls = append(f.finalizeCalls, block)
	fn := f.finalizeFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(block, cb)
	}
	return nil
}

func (f *fakeExecClient) SendCommitMsg(ctx context.Context, cd CommitDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitMsgCalls = append(f.commitMsgCalls, cd)
	return nil
}

func (f *fakeExecClient) SyncTo(ctx context.Context, target LedgerInfo) error {
	f.mu.Lock()
	f.syncToCalls = append(f.syncToCalls, target)
	block := f.syncToBlock
	err := f.syncToErr
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeExecClient) numFinalize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.finalizeCalls)
}

// fakeStorage is a controllable Storage double.
type fakeStorage struct {
	mu      sync.Mutex
	root    LedgerInfo
	version uint64
}

func (s *fakeStorage) GetLatestLedgerInfo(ctx context.Context) (LedgerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root, nil
}

func (s *fakeStorage) LatestSyncedVersion() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, nil
}

// fakePeerClient is a controllable PeerClient double.
type fakePeerClient struct {
	mu              sync.Mutex
	subscribeErrs   map[enode.ID]error
	unsubscribeErrs map[enode.ID]error
	subscribed      []enode.ID
	unsubscribed    []enode.ID
}

func (p *fakePeerClient) Subscribe(ctx context.Context, peer enode.ID) (SubscribeAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribed = append(p.subscribed, peer)
	if err, ok := p.subscribeErrs[peer]; ok {
		return SubscribeAck{}, err
	}
	return SubscribeAck{}, nil
}

func (p *fakePeerClient) Unsubscribe(ctx context.Context, peer enode.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unsubscribed = append(p.unsubscribed, peer)
	return p.unsubscribeErrs[peer]
}

// fakePeerSource is a controllable PeerMetadataSource double.
type fakePeerSource struct{ peers []PeerMetadata }

func (f fakePeerSource) ConnectedPeers() []PeerMetadata { return f.peers }

// fakeSubscribedSource is a controllable SubscribedToUsSource double.
type fakeSubscribedSource struct{ ids map[enode.ID]bool }

func (f fakeSubscribedSource) SubscribedToUs() map[enode.ID]bool { return f.ids }

// fakePublisher is a controllable Publisher double.
type fakePublisher struct {
	mu       sync.Mutex
	requests []RequestEvent
}

func (p *fakePublisher) HandleRequest(ev RequestEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, ev)
}

// fakeResponder is a ResponseSender double that records its single reply.
type fakeResponder struct {
	mu   sync.Mutex
	resp interface{}
	err  error
	done bool
}

func (r *fakeResponder) Respond(resp interface{}, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resp, r.err, r.done = resp, err, true
}

// fakeOnChainConfigSource is a controllable OnChainConfigSource double.
type fakeOnChainConfigSource struct {
	validators    Verifier
	validatorsErr error
	consensusErr  error
	executionErr  error
	randomnessErr error
}

func (f fakeOnChainConfigSource) ValidatorSet(ctx context.Context) (Verifier, error) {
	return f.validators, f.validatorsErr
}
func (f fakeOnChainConfigSource) ConsensusConfig(ctx context.Context) (ConsensusConfig, error) {
	return ConsensusConfig{}, f.consensusErr
}
func (f fakeOnChainConfigSource) ExecutionConfig(ctx context.Context) (ExecutionConfig, error) {
	return ExecutionConfig{}, f.executionErr
}
func (f fakeOnChainConfigSource) RandomnessConfig(ctx context.Context) (RandomnessConfig, error) {
	return RandomnessConfig{}, f.randomnessErr
}

// newTestReconfigFeed wires an event.Feed the way a node-level reconfiguration
// service would, returning the channel/subscription pair NewReconfigAdapter
// expects plus the feed to post ReconfigEvents on.
func newTestReconfigFeed() (chan ReconfigEvent, event.Subscription, *event.Feed) {
	feed := new(event.Feed)
	ch := make(chan ReconfigEvent, 1)
	sub := feed.Subscribe(ch)
	return ch, sub, feed
}
