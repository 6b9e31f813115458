package consensusobserver

import (
	"context"

	"github.com/ethereum/go-ethereum/p2p/enode"
)

// Inbound direct-send messages from the subscribed peer (spec §6).
type (
	OrderedBlockMsg   struct{ Block OrderedBlock }
	CommitDecisionMsg struct{ Decision CommitDecision }
	BlockPayloadMsg   struct{ Payload BlockPayload }
)

// NetworkEvent is one inbound direct-send message, tagged with its sender
// so the core can enforce "message from the active subscription only"
// (spec §7 UnexpectedSender).
type NetworkEvent struct {
	Sender  enode.ID
	Message interface{} // one of OrderedBlockMsg, CommitDecisionMsg, BlockPayloadMsg
}

// SubscribeAck / UnsubscribeAck are opaque to the observer core (spec §6);
// it only needs to know a Subscribe RPC succeeded.
type SubscribeAck struct{}
type UnsubscribeAck struct{}

// SubscribeRequest / UnsubscribeRequest are inbound RPCs from downstream
// peers (spec §6), forwarded verbatim to the Publisher collaborator.
type SubscribeRequest struct{}
type UnsubscribeRequest struct{}

// ResponseSender is a one-shot reply handle for a forwarded RPC request,
// the Go substitute (SPEC_FULL.md "Supplemented features" item 1) for the
// original's oneshot response-sender channel.
type ResponseSender interface {
	Respond(resp interface{}, err error)
}

// RequestEvent is one inbound RPC request from a downstream peer, forwarded
// verbatim to the Publisher along with its response handle (spec §4.6
// "Request forwarding"). The observer answers it itself, with ErrRPCError,
// only when no publisher is enabled.
type RequestEvent struct {
	Sender  enode.ID
	Message interface{} // SubscribeRequest or UnsubscribeRequest
	Respond ResponseSender
}

// PeerClient issues outbound RPCs to an upstream candidate peer (spec §6).
// Any response variant other than the expected Ack is a protocol error: a
// failure for Subscribe, ignored for Unsubscribe (spec §6).
type PeerClient interface {
	Subscribe(ctx context.Context, peer enode.ID) (SubscribeAck, error)
	Unsubscribe(ctx context.Context, peer enode.ID) error
}
