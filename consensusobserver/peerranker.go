package consensusobserver

import (
	"bytes"

	"github.com/ethereum/go-ethereum/p2p/enode"
	"golang.org/x/exp/slices"
)

// PeerMetadata is the connected-peer information the Peer Ranker sorts on
// (spec §4.4): distance to a validator (smaller is better, 0 meaning a
// direct connection to a validator) and measured round-trip latency.
type PeerMetadata struct {
	ID                enode.ID
	ValidatorDistance int
	LatencyMillis     int64
}

// Rank produces a totally ordered candidate list: primary key validator
// distance, secondary key latency, ties broken by peer identifier for
// determinism (spec §4.4). exclude removes the prior subscription's peer
// and any peer already subscribed to us.
func Rank(candidates []PeerMetadata, exclude map[enode.ID]bool) []PeerMetadata {
	out := make([]PeerMetadata, 0, len(candidates))
	for _, c := range candidates {
		if exclude != nil && exclude[c.ID] {
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b PeerMetadata) int {
		if a.ValidatorDistance != b.ValidatorDistance {
			return a.ValidatorDistance - b.ValidatorDistance
		}
		if a.LatencyMillis != b.LatencyMillis {
			if a.LatencyMillis < b.LatencyMillis {
				return -1
			}
			return 1
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return out
}
