package consensusobserver

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

// ReconfigEvent signals that a new on-chain configuration bundle is ready
// to be pulled for epoch.
type ReconfigEvent struct {
	Epoch Epoch
}

// OnChainConfigSource reads the four on-chain config bundles pulled on
// reconfiguration (spec §4.7).
type OnChainConfigSource interface {
	ValidatorSet(ctx context.Context) (Verifier, error)
	ConsensusConfig(ctx context.Context) (ConsensusConfig, error)
	ExecutionConfig(ctx context.Context) (ExecutionConfig, error)
	RandomnessConfig(ctx context.Context) (RandomnessConfig, error)
}

// ReconfigAdapter blocks on the next reconfiguration notification and
// decodes the four-tuple the observer core needs to start a new epoch
// (spec §4.7, component C7).
type ReconfigAdapter struct {
	events <-chan ReconfigEvent
	sub    event.Subscription
	source OnChainConfigSource
}

// NewReconfigAdapter wires a reconfiguration event channel (typically fed
// by an event.Feed the node-level reconfiguration service owns) and its
// subscription to the on-chain config reader.
func NewReconfigAdapter(events <-chan ReconfigEvent, sub event.Subscription, source OnChainConfigSource) *ReconfigAdapter {
	return &ReconfigAdapter{events: events, sub: sub, source: source}
}

// Next blocks until the next reconfiguration notification, then extracts
// the epoch state, consensus config, execution config, and randomness
// config (spec §4.7):
//   - validator set: required; absence is unrecoverable and panics, since a
//     reconfiguration with no validators means the network itself is broken.
//   - consensus config: defaulted on read failure, logged as an error.
//   - execution config: defaulted if missing.
//   - randomness config: defaulted if missing, including on failed
//     conversion from the on-chain wire type.
//
// Besides that panic, the only fatal error returned here (spec §7) is for
// the listener itself closing: that is a configuration bug, not a
// recoverable runtime error.
func (r *ReconfigAdapter) Next(ctx context.Context) (EpochState, ConsensusConfig, ExecutionConfig, RandomnessConfig, error) {
	var zero4 = func(err error) (EpochState, ConsensusConfig, ExecutionConfig, RandomnessConfig, error) {
		return EpochState{}, ConsensusConfig{}, ExecutionConfig{}, RandomnessConfig{}, err
	}

	select {
	case ev, ok := <-r.events:
		if !ok {
			return zero4(ErrNoReconfigListener)
		}
		validators, err := r.source.ValidatorSet(ctx)
		if err != nil {
			panic(fmt.Sprintf("reconfiguration without a validator set is unrecoverable: %v", err))
		}
		epochState := EpochState{Epoch: ev.Epoch, Verifier: validators}

		consensusCfg, err := r.source.ConsensusConfig(ctx)
		if err != nil {
			log.Error("failed to read consensus config, defaulting", "epoch", ev.Epoch, "err", err)
			consensusCfg = ConsensusConfig{Defaulted: true}
		}
		executionCfg, err := r.source.ExecutionConfig(ctx)
		if err != nil {
			executionCfg = ExecutionConfig{Defaulted: true}
		}
		randomnessCfg, err := r.source.RandomnessConfig(ctx)
		if err != nil {
			log.Error("failed to read or convert randomness config, defaulting", "epoch", ev.Epoch, "err", err)
			randomnessCfg = RandomnessConfig{Defaulted: true}
		}
		return epochState, consensusCfg, executionCfg, randomnessCfg, nil

	case err := <-r.sub.Err():
		return zero4(fmt.Errorf("%w: %v", ErrNoReconfigListener, err))

	case <-ctx.Done():
		return zero4(ctx.Err())
	}
}
