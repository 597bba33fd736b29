// Package gateway runs the gate pipeline: workers consume inbound
// messages from the bus, feed them through the gates, and hand surviving
// sequences to the downstream handler (the agent runtime boundary).
package gateway

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/gate"
)

// Handler receives every invocation the gates forwarded. It is the
// response-generating agent's boundary; clawgate never looks past it.
type Handler func(ctx context.Context, msgs []bus.InboundMessage) error

// Runner drives the gate chain with a pool of workers. A worker that
// wins a batch election blocks for the quiet window; sizing the pool is
// sizing how many conversations can batch concurrently per instance.
type Runner struct {
	router  bus.MessageRouter
	chain   *gate.Chain
	handler Handler
	workers int
}

// NewRunner creates a Runner. workers must be >= 1.
func NewRunner(router bus.MessageRouter, chain *gate.Chain, handler Handler, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{router: router, chain: chain, handler: handler, workers: workers}
}

// Run consumes inbound messages until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("gateway runner started", "workers", r.workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			for {
				msg, ok := r.router.ConsumeInbound(ctx)
				if !ok {
					return nil
				}
				r.dispatch(ctx, msg)
			}
		})
	}
	return g.Wait()
}

// dispatch runs one invocation through the gates. Gate errors and handler
// errors are logged, not fatal: retry policy belongs to the caller that
// delivered the message.
func (r *Runner) dispatch(ctx context.Context, msg bus.InboundMessage) {
	out, err := r.chain.Process(ctx, []bus.InboundMessage{msg})
	if err != nil {
		slog.Error("gate pipeline failed",
			"channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		return
	}
	if out.Aborted() {
		slog.Debug("invocation aborted by gate",
			"reason", out.Reason, "channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}
	if len(out.Messages) == 0 {
		return
	}
	if err := r.handler(ctx, out.Messages); err != nil {
		slog.Error("downstream handler failed",
			"channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
	}
}
