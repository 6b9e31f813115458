package consensusobserver

import (
	"context"
	"testing"
	"time"
)

func TestReconfigAdapterNextHappyPath(t *testing.T) {
	ch, sub, feed := newTestReconfigFeed()
	defer sub.Unsubscribe()
	source := fakeOnChainConfigSource{validators: acceptAll{}}
	adapter := NewReconfigAdapter(ch, sub, source)

	feed.Send(ReconfigEvent{Epoch: 7})

	epochState, _, _, _, err := adapter.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if epochState.Epoch != 7 {
		t.Fatalf("expected epoch 7, got %d", epochState.Epoch)
	}
}

func TestReconfigAdapterDefaultsOnConfigReadFailure(t *testing.T) {
	ch, sub, feed := newTestReconfigFeed()
	defer sub.Unsubscribe()
	source := fakeOnChainConfigSource{
		validators:    acceptAll{},
		consensusErr:  errTestVerifyFailed,
		executionErr:  errTestVerifyFailed,
		randomnessErr: errTestVerifyFailed,
	}
	adapter := NewReconfigAdapter(ch, sub, source)
	feed.Send(ReconfigEvent{Epoch: 1})

	_, consensusCfg, executionCfg, randomnessCfg, err := adapter.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !consensusCfg.Defaulted || !executionCfg.Defaulted || !randomnessCfg.Defaulted {
		t.Fatal("expected all three configs to default on read failure")
	}
}

func TestReconfigAdapterPanicsOnMissingValidators(t *testing.T) {
	ch, sub, feed := newTestReconfigFeed()
	defer sub.Unsubscribe()
	source := fakeOnChainConfigSource{validatorsErr: errTestVerifyFailed}
	adapter := NewReconfigAdapter(ch, sub, source)
	feed.Send(ReconfigEvent{Epoch: 1})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on missing validator set")
		}
	}()
	adapter.Next(context.Background())
}

func TestReconfigAdapterContextCancellation(t *testing.T) {
	ch, sub, _ := newTestReconfigFeed()
	defer sub.Unsubscribe()
	adapter := NewReconfigAdapter(ch, sub, fakeOnChainConfigSource{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, _, _, err := adapter.Next(ctx)
	if err == nil {
		t.Fatal("expected error on context cancellation")
	}
}
