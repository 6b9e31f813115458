package consensusobserver

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/p2p/enode"
)

type fakeConnected struct{ connected map[enode.ID]bool }

func (f fakeConnected) IsConnected(id enode.ID) bool { return f.connected[id] }

type fakeDBProgress struct {
	version uint64
	err     error
}

func (f fakeDBProgress) LatestSyncedVersion() (uint64, error) { return f.version, f.err }

func TestSubscriptionCheckConnected(t *testing.T) {
	peer := enode.ID{1}
	s := NewSubscription(peer, mclock.AbsTime(0), 0)

	if err := s.CheckConnected(fakeConnected{connected: map[enode.ID]bool{peer: true}}); err != nil {
		t.Fatalf("expected connected peer to pass, got %v", err)
	}
	if err := s.CheckConnected(fakeConnected{connected: map[enode.ID]bool{}}); !errors.Is(err, ErrSubscriptionDisconnected) {
		t.Fatalf("expected ErrSubscriptionDisconnected, got %v", err)
	}
}

func TestSubscriptionCheckTimeout(t *testing.T) {
	peer := enode.ID{1}
	s := NewSubscription(peer, mclock.AbsTime(0), 0)

	if err := s.CheckTimeout(mclock.AbsTime(time.Second), 2*time.Second); err != nil {
		t.Fatalf("expected within timeout to pass, got %v", err)
	}
	if err := s.CheckTimeout(mclock.AbsTime(3*time.Second), 2*time.Second); !errors.Is(err, ErrSubscriptionTimeout) {
		t.Fatalf("expected ErrSubscriptionTimeout, got %v", err)
	}
}

func TestSubscriptionCheckProgressStall(t *testing.T) {
	peer := enode.ID{1}
	s := NewSubscription(peer, mclock.AbsTime(0), 100)
	db := fakeDBProgress{version: 100}
	interval := time.Second

	now := mclock.AbsTime(0)
	for i := 0; i < 3; i++ {
		now += mclock.AbsTime(interval)
		err := s.CheckProgress(now, db, interval, 3)
		if i < 2 && err != nil {
			t.Fatalf("tick %d: expected no error yet, got %v", i, err)
		}
		if i == 2 && !errors.Is(err, ErrSubscriptionProgressStopped) {
			t.Fatalf("tick %d: expected ErrSubscriptionProgressStopped, got %v", i, err)
		}
	}
}

func TestSubscriptionCheckProgressAdvances(t *testing.T) {
	peer := enode.ID{1}
	s := NewSubscription(peer, mclock.AbsTime(0), 100)
	interval := time.Second

	if err := s.CheckProgress(mclock.AbsTime(interval), fakeDBProgress{version: 101}, interval, 3); err != nil {
		t.Fatalf("expected advancing version to reset stall count, got %v", err)
	}
	if err := s.CheckProgress(mclock.AbsTime(2*interval), fakeDBProgress{version: 101}, interval, 1); !errors.Is(err, ErrSubscriptionProgressStopped) {
		t.Fatalf("expected stall to fire immediately with stallTicks=1, got %v", err)
	}
}

func TestSubscriptionCheckOptimal(t *testing.T) {
	peer := enode.ID{2}
	s := NewSubscription(peer, mclock.AbsTime(0), 0)
	ranked := []PeerMetadata{{ID: enode.ID{1}}, {ID: enode.ID{2}}, {ID: enode.ID{3}}}

	if err := s.CheckOptimal(ranked, 2); err != nil {
		t.Fatalf("expected rank 1 within top-2, got %v", err)
	}
	if err := s.CheckOptimal(ranked, 1); !errors.Is(err, ErrSubscriptionSuboptimal) {
		t.Fatalf("expected ErrSubscriptionSuboptimal outside top-1, got %v", err)
	}
}

func TestSubscriptionOnMessageResetsTimeout(t *testing.T) {
	peer := enode.ID{1}
	s := NewSubscription(peer, mclock.AbsTime(0), 0)
	s.OnMessage(mclock.AbsTime(5 * time.Second))

	if err := s.CheckTimeout(mclock.AbsTime(6*time.Second), 2*time.Second); err != nil {
		t.Fatalf("expected timeout clock reset by OnMessage, got %v", err)
	}
}
