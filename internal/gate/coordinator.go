package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/store"
)

const (
	// DefaultWindow is the quiet period that must elapse with no new
	// arrivals before a batch is flushed.
	DefaultWindow = 4 * time.Second

	// DefaultPollInterval bounds how often a waiting leader re-reads the
	// batch tail.
	DefaultPollInterval = 250 * time.Millisecond

	// ttlFactor scales the window into the batch list / lock TTL. The
	// headroom lets the list outlive a full election-to-flush round trip
	// and drives self-healing when a leader crashes mid-wait.
	ttlFactor = 3

	// lockMarker is the opaque lock value. Ownership is existence-only:
	// whoever set the key first is the leader, nothing identifies them
	// beyond that.
	lockMarker = "1"

	// releaseTimeout bounds the best-effort lock release on the failure
	// path.
	releaseTimeout = 2 * time.Second
)

// Coordinator makes exactly one concurrent invocation per conversation
// responsible for merging every message that arrives inside a rolling
// quiet window. All other invocations for the same conversation abort
// with AbortBatchingPending after durably appending their message, so a
// lost election never loses a message.
//
// The lock carries no fencing token. A leader polling past its TTL under
// extreme clock skew could overlap with a newly elected one; that window
// is accepted in exchange for self-healing without owner bookkeeping.
type Coordinator struct {
	store   store.Store
	prefix  string
	resolve ResolveFunc
	window  time.Duration
	poll    time.Duration
	tracer  trace.Tracer
	now     func() time.Time
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithWindow sets the quiet window duration.
func WithWindow(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.window = d }
}

// WithPollInterval sets the leader's tail-polling interval.
func WithPollInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.poll = d }
}

// WithResolver overrides the conversation key resolver.
func WithResolver(r ResolveFunc) CoordinatorOption {
	return func(c *Coordinator) { c.resolve = r }
}

// WithClock injects the time source. Tests use it to pin enqueue times.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a batch window coordinator keyed under
// "<prefix>:batch:<conversation>".
func NewCoordinator(st store.Store, prefix string, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:   st,
		prefix:  prefix,
		resolve: ChainResolver(nil),
		window:  DefaultWindow,
		poll:    DefaultPollInterval,
		tracer:  otel.Tracer("clawgate/gate"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Name() string { return "batch" }

// BatchKey returns the store key of a conversation's batch list.
func (c *Coordinator) BatchKey(conversation string) string {
	return c.prefix + ":batch:" + conversation
}

// LockKey returns the store key of a conversation's batch lock.
func (c *Coordinator) LockKey(conversation string) string {
	return c.BatchKey(conversation) + ":lock"
}

// Window returns the configured quiet window.
func (c *Coordinator) Window() time.Duration { return c.window }

// Process coordinates the triggering message (the last in msgs) with all
// concurrent invocations for the same conversation:
//
//  1. append the message to the conversation's batch list
//  2. try to win the election via conditional-set of the lock
//  3. losers abort with AbortBatchingPending
//  4. the leader waits out the quiet window, flushes the list, and
//     replaces the flushed messages in msgs with one merged message
//
// Messages without a resolvable conversation key pass through untouched.
func (c *Coordinator) Process(ctx context.Context, msgs []bus.InboundMessage) (Outcome, error) {
	if len(msgs) == 0 {
		return Forward(msgs), nil
	}
	trigger := msgs[len(msgs)-1]
	conversation := c.resolve(trigger)
	if conversation == "" {
		return Forward(msgs), nil
	}

	ctx, span := c.tracer.Start(ctx, "gate.coordinate",
		trace.WithAttributes(
			attribute.String("conversation", conversation),
			attribute.Int64("window_ms", c.window.Milliseconds()),
		))
	defer span.End()

	ttl := ttlFactor * c.window
	batchKey := c.BatchKey(conversation)
	lockKey := c.LockKey(conversation)

	// Enqueue before electing: a loser's message is already durable, so
	// losing the election can never drop it.
	entry := BatchEntry{ID: trigger.ID, Message: trigger, EnqueuedAt: c.now().UnixMilli()}
	data, err := json.Marshal(entry)
	if err != nil {
		return Outcome{}, spanErr(span, fmt.Errorf("encode batch entry: %w", err))
	}
	if err := c.store.Append(ctx, batchKey, string(data)); err != nil {
		return Outcome{}, spanErr(span, fmt.Errorf("append batch entry: %w", err))
	}
	if err := c.store.SetExpiry(ctx, batchKey, ttl); err != nil {
		return Outcome{}, spanErr(span, fmt.Errorf("refresh batch expiry: %w", err))
	}

	won, err := c.store.SetNX(ctx, lockKey, lockMarker, ttl)
	if err != nil {
		return Outcome{}, spanErr(span, fmt.Errorf("acquire batch lock: %w", err))
	}
	span.SetAttributes(attribute.Bool("leader", won))
	if !won {
		// Extend the active leader's deadline so a long run of arrivals
		// doesn't starve it out via TTL mid-poll.
		if err := c.store.SetExpiry(ctx, lockKey, ttl); err != nil {
			return Outcome{}, spanErr(span, fmt.Errorf("refresh batch lock: %w", err))
		}
		slog.Debug("batch election lost", "conversation", conversation, "entry", entry.ID)
		return Abort(AbortBatchingPending), nil
	}

	waitStart := c.now()
	entries, err := c.waitAndFlush(ctx, batchKey, lockKey)
	if err != nil {
		// Best-effort release so a transient failure doesn't wedge the
		// conversation for the remainder of the TTL.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if relErr := c.store.Delete(relCtx, lockKey); relErr != nil {
			slog.Warn("batch lock release failed", "conversation", conversation, "error", relErr)
		}
		return Outcome{}, spanErr(span, err)
	}
	span.SetAttributes(
		attribute.Int64("wait_ms", c.now().Sub(waitStart).Milliseconds()),
		attribute.Int("batch.size", len(entries)),
	)

	if len(entries) == 0 {
		// Raced empty: a concurrent flush already delivered everything,
		// including our entry.
		return Forward(msgs), nil
	}

	merged := Merge(entries, trigger, c.window)
	slog.Info("batch flushed",
		"conversation", conversation,
		"size", len(entries),
		"merged_id", merged.ID,
	)

	flushed := make(map[string]bool, len(entries))
	for _, e := range entries {
		flushed[e.ID] = true
	}
	out := make([]bus.InboundMessage, 0, len(msgs))
	for _, m := range msgs {
		if !flushed[m.ID] {
			out = append(out, m)
		}
	}
	out = append(out, merged)
	return Forward(out), nil
}

// waitAndFlush polls the batch tail until a full quiet window has elapsed
// since the last arrival, then reads and clears the whole batch together
// with the lock. Returns nil entries when the list raced empty.
func (c *Coordinator) waitAndFlush(ctx context.Context, batchKey, lockKey string) ([]BatchEntry, error) {
	for {
		raw, err := c.store.ReadLast(ctx, batchKey)
		if errors.Is(err, store.ErrMiss) {
			// Someone else flushed the list out from under us. Drop the
			// lock we just created rather than let it linger to TTL.
			_ = c.store.Delete(ctx, lockKey)
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read batch tail: %w", err)
		}
		var tail BatchEntry
		if err := json.Unmarshal([]byte(raw), &tail); err != nil {
			return nil, fmt.Errorf("decode batch tail: %w", err)
		}

		remaining := c.window - time.Duration(c.now().UnixMilli()-tail.EnqueuedAt)*time.Millisecond
		if remaining <= 0 {
			break
		}
		if remaining > c.poll {
			remaining = c.poll
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	raws, err := c.store.ReadAll(ctx, batchKey)
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	entries := make([]BatchEntry, 0, len(raws))
	for _, raw := range raws {
		var e BatchEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode batch entry: %w", err)
		}
		entries = append(entries, e)
	}
	// Read-then-delete is two calls, not a transaction. A message landing
	// between them was appended after the window already closed; that
	// narrow loss is accepted over holding the batch open forever.
	if err := c.store.Delete(ctx, batchKey, lockKey); err != nil {
		return nil, fmt.Errorf("clear batch: %w", err)
	}
	return entries, nil
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
