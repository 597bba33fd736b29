package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/store"
)

// StopPredicate reports whether a stop-flag value means "stopped".
type StopPredicate func(value string) bool

// DefaultStopPredicate treats any non-empty value other than "0" and
// "false" (case-insensitive) as stopped.
func DefaultStopPredicate(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	return v != "" && v != "0" && v != "false"
}

// StopGate short-circuits the pipeline when a conversation's stop flag is
// set in the shared store. It only reads; setting and clearing the flag
// belongs to whoever handles the stop command upstream.
type StopGate struct {
	store   store.Store
	prefix  string
	resolve ResolveFunc
	stopped StopPredicate
}

// StopGateOption customizes a StopGate.
type StopGateOption func(*StopGate)

// WithStopPredicate overrides the flag predicate.
func WithStopPredicate(p StopPredicate) StopGateOption {
	return func(g *StopGate) { g.stopped = p }
}

// WithStopResolver overrides the conversation key resolver.
func WithStopResolver(r ResolveFunc) StopGateOption {
	return func(g *StopGate) { g.resolve = r }
}

// NewStopGate creates a stop gate reading flags under
// "<prefix>:stop:<conversation>".
func NewStopGate(st store.Store, prefix string, opts ...StopGateOption) *StopGate {
	g := &StopGate{
		store:   st,
		prefix:  prefix,
		resolve: ChainResolver(nil),
		stopped: DefaultStopPredicate,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *StopGate) Name() string { return "stop" }

// FlagKey returns the store key holding the stop flag for a conversation.
func (g *StopGate) FlagKey(conversation string) string {
	return g.prefix + ":stop:" + conversation
}

// Process checks each message's conversation flag. Messages without a
// resolvable conversation key pass through untouched. A set flag aborts
// the whole invocation with AbortStopActive.
func (g *StopGate) Process(ctx context.Context, msgs []bus.InboundMessage) (Outcome, error) {
	for _, msg := range msgs {
		conversation := g.resolve(msg)
		if conversation == "" {
			continue
		}
		value, err := g.store.Get(ctx, g.FlagKey(conversation))
		if errors.Is(err, store.ErrMiss) {
			continue
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("read stop flag for %s: %w", conversation, err)
		}
		if g.stopped(value) {
			slog.Debug("stop flag active, aborting invocation",
				"conversation", conversation, "channel", msg.Channel)
			return Abort(AbortStopActive), nil
		}
	}
	return Forward(msgs), nil
}
