package consensusobserver

import (
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/p2p/enode"
)

// ConnectedPeers is a read-only snapshot of the transport's connected-peer
// set, injected so the connectedness predicate stays a pure read (spec
// §4.3 predicate 1).
type ConnectedPeers interface {
	IsConnected(id enode.ID) bool
}

// DBProgress is a read-only snapshot of local storage's sync progress,
// injected so the progress predicate stays a pure read (spec §4.3
// predicate 3).
type DBProgress interface {
	LatestSyncedVersion() (uint64, error)
}

// Subscription is the health-checking record for the observer's single
// upstream peer (spec §3, component C3). At most one exists at any instant
// (invariant I4), enforced by the observer core, not by this type.
type Subscription struct {
	Peer                enode.ID
	CreatedAt           mclock.AbsTime
	LastMessageAt       mclock.AbsTime
	LastProgressCheckAt mclock.AbsTime
	LastKnownDBVersion  uint64
	stallTicks          int
}

// NewSubscription records a freshly-established subscription at now.
func NewSubscription(peer enode.ID, now mclock.AbsTime, initialDBVersion uint64) *Subscription {
	return &Subscription{
		Peer:                peer,
		CreatedAt:           now,
		LastMessageAt:       now,
		LastProgressCheckAt: now,
		LastKnownDBVersion:  initialDBVersion,
	}
}

// OnMessage records receipt of a direct-send message, resetting the
// timeout predicate's clock.
func (s *Subscription) OnMessage(now mclock.AbsTime) { s.LastMessageAt = now }

// CheckConnected is predicate 1: the peer must still be in the transport's
// connected set.
func (s *Subscription) CheckConnected(connected ConnectedPeers) error {
	if !connected.IsConnected(s.Peer) {
		return ErrSubscriptionDisconnected
	}
	return nil
}

// CheckTimeout is predicate 2: wall-clock since the last direct-send
// message must not exceed timeout.
func (s *Subscription) CheckTimeout(now mclock.AbsTime, timeout time.Duration) error {
	if time.Duration(now-s.LastMessageAt) > timeout {
		return ErrSubscriptionTimeout
	}
	return nil
}

// CheckProgress is predicate 3: local storage's highest synced version must
// advance by at least one between consecutive ticks spaced >= interval;
// stallTicks consecutive failures to advance is an error. Returns nil (and
// does not re-sample) if interval hasn't elapsed since the last check.
func (s *Subscription) CheckProgress(now mclock.AbsTime, db DBProgress, interval time.Duration, stallTicks int) error {
	if time.Duration(now-s.LastProgressCheckAt) < interval {
		return nil
	}
	version, err := db.LatestSyncedVersion()
	s.LastProgressCheckAt = now
	if err != nil {
		return nil
	}
	if version > s.LastKnownDBVersion {
		s.LastKnownDBVersion = version
		s.stallTicks = 0
		return nil
	}
	s.stallTicks++
	if s.stallTicks >= stallTicks {
		return ErrSubscriptionProgressStopped
	}
	return nil
}

// CheckOptimal is predicate 4: the subscribed peer's rank must stay within
// the top-K of the ranked candidate list.
func (s *Subscription) CheckOptimal(ranked []PeerMetadata, topK int) error {
	for i, p := range ranked {
		if p.ID == s.Peer {
			if i < topK {
				return nil
			}
			return ErrSubscriptionSuboptimal
		}
	}
	// Not present in the ranked (connected, eligible) set at all: treat
	// the same as having dropped out of the top-K, rather than as a
	// disconnect (predicate 1 owns disconnect detection).
	return ErrSubscriptionSuboptimal
}

// CheckAll runs every predicate in spec order and returns the first failure.
func (s *Subscription) CheckAll(now mclock.AbsTime, connected ConnectedPeers, timeout time.Duration, db DBProgress, progressInterval time.Duration, stallTicks int, ranked []PeerMetadata, topK int) error {
	if err := s.CheckConnected(connected); err != nil {
		return err
	}
	if err := s.CheckTimeout(now, timeout); err != nil {
		return err
	}
	if err := s.CheckProgress(now, db, progressInterval, stallTicks); err != nil {
		return err
	}
	return s.CheckOptimal(ranked, topK)
}
