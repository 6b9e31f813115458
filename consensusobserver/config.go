package consensusobserver

import "time"

// Config enumerates the options from spec §6. CLI/flag parsing itself is an
// external collaborator (spec §1 Non-goals); this struct is the landing
// point that collaborator populates.
type Config struct {
	// ObserverEnabled: if false with PublisherEnabled set, the node enters
	// the stripped forwarding-only loop (spec §4.6 step 2).
	ObserverEnabled bool
	// PublisherEnabled enables forwarding of inbound subscription requests
	// to the Publisher collaborator.
	PublisherEnabled bool

	NetworkRequestTimeout      time.Duration
	SubscriptionTimeout        time.Duration
	ProgressCheckInterval      time.Duration
	DBProgressCheckInterval    time.Duration
	MaxConcurrentSubscriptions int
	MaxPendingBlocks           int

	// ProgressStallTicks is the number of consecutive stalled DB-progress
	// checks tolerated before SubscriptionProgressStopped fires (spec §4.3
	// predicate 3: "failure to advance for N ticks is an error").
	ProgressStallTicks int

	// TopK bounds how close to best a subscribed peer's rank must stay
	// (spec §4.3 predicate 4).
	TopK int

	// PayloadVerifier is the pluggable hook spec §9 calls out for the
	// open "payload verification" question; nil means accept-all, the
	// documented default.
	PayloadVerifier func(BlockPayload) error
}

// DefaultConfig returns the spec-documented defaults, mirrored on the
// teacher's own style of named default constants (les/test_helper.go:
// testBufLimit, testBufRecharge, defaultConnectedBias).
func DefaultConfig() Config {
	return Config{
		ObserverEnabled:            true,
		PublisherEnabled:           false,
		NetworkRequestTimeout:      5 * time.Second,
		SubscriptionTimeout:        30 * time.Second,
		ProgressCheckInterval:      2 * time.Second,
		DBProgressCheckInterval:    10 * time.Second,
		MaxConcurrentSubscriptions: 5,
		MaxPendingBlocks:           50,
		ProgressStallTicks:         3,
		TopK:                       3,
	}
}

func (c Config) verifyPayload(bp BlockPayload) error {
	if c.PayloadVerifier == nil {
		return nil
	}
	return c.PayloadVerifier(bp)
}
