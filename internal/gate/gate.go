// Package gate implements the inbound message gates that run between
// channel adapters and the agent runtime: a stop gate that short-circuits
// muted conversations, and a batch window coordinator that collapses
// rapid-fire messages into one merged turn.
//
// Gates coordinate exclusively through the shared key-value store. Any
// number of gateway instances can run the same pipeline against the same
// store; nothing here assumes two invocations share process memory.
package gate

import (
	"context"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
)

// AbortReason identifies why a gate refused to forward an invocation.
// Aborts are expected control flow, not failures: the caller's contract
// is "do not forward now", nothing more.
type AbortReason string

const (
	// AbortStopActive means the conversation's stop flag is set.
	AbortStopActive AbortReason = "stop-active"

	// AbortBatchingPending means another invocation holds the batch lock
	// for this conversation. The caller's message is already recorded in
	// the batch list; the leader will deliver it inside the merged turn.
	AbortBatchingPending AbortReason = "batching-pending"
)

// Outcome is the tagged result of running gates over an inbound
// invocation. A non-empty Reason marks a cooperative abort; Messages is
// the (possibly rewritten) sequence to forward otherwise.
type Outcome struct {
	Messages []bus.InboundMessage
	Reason   AbortReason
}

// Aborted reports whether the invocation was cooperatively aborted.
func (o Outcome) Aborted() bool { return o.Reason != "" }

// Forward wraps msgs in a forwarding outcome.
func Forward(msgs []bus.InboundMessage) Outcome { return Outcome{Messages: msgs} }

// Abort builds an aborting outcome with the given reason.
func Abort(reason AbortReason) Outcome { return Outcome{Reason: reason} }

// Gate processes an ordered inbound message sequence. A returned error is
// a real failure (store unreachable, corrupt state); cooperative aborts
// come back as an Outcome, never as an error.
type Gate interface {
	Name() string
	Process(ctx context.Context, msgs []bus.InboundMessage) (Outcome, error)
}

// Chain runs gates in order, stopping at the first abort.
type Chain struct {
	gates []Gate
}

// NewChain builds a pipeline from the given gates, applied in order.
func NewChain(gates ...Gate) *Chain {
	return &Chain{gates: gates}
}

// Process feeds msgs through every gate. Each gate sees the previous
// gate's output; the first abort or error wins.
func (c *Chain) Process(ctx context.Context, msgs []bus.InboundMessage) (Outcome, error) {
	out := Forward(msgs)
	for _, g := range c.gates {
		var err error
		out, err = g.Process(ctx, out.Messages)
		if err != nil {
			return Outcome{}, err
		}
		if out.Aborted() {
			return out, nil
		}
	}
	return out, nil
}
