package gate

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/store"
	"github.com/nextlevelbuilder/clawgate/internal/store/memstore"
)

func msg(id, chatID, content string) bus.InboundMessage {
	return bus.InboundMessage{ID: id, Channel: "telegram", ChatID: chatID, Content: content}
}

func sourceIDs(m bus.InboundMessage) []string {
	raw := m.Metadata[MetaBatchSources]
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func TestCoordinator_EmptyInput(t *testing.T) {
	c := NewCoordinator(memstore.New(), "test")
	out, err := c.Process(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Aborted() || len(out.Messages) != 0 {
		t.Errorf("empty input must pass through, got %+v", out)
	}
}

func TestCoordinator_PassthroughWithoutKey(t *testing.T) {
	c := NewCoordinator(memstore.New(), "test")
	in := []bus.InboundMessage{{ID: "m1", Content: "no identity"}}

	out, err := c.Process(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if out.Aborted() {
		t.Fatalf("unexpected abort: %q", out.Reason)
	}
	if !reflect.DeepEqual(out.Messages, in) {
		t.Errorf("messages = %+v, want input unchanged", out.Messages)
	}
}

func TestCoordinator_SingleMessageFlush(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	c := NewCoordinator(st, "test",
		WithWindow(80*time.Millisecond),
		WithPollInterval(10*time.Millisecond),
	)

	out, err := c.Process(ctx, []bus.InboundMessage{msg("a", "u1", "hello")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Aborted() {
		t.Fatalf("leader must not abort, got %q", out.Reason)
	}
	if len(out.Messages) != 1 {
		t.Fatalf("messages = %d, want the merged message only", len(out.Messages))
	}
	merged := out.Messages[0]
	if merged.ID != "a:batch" {
		t.Errorf("merged id = %q, want a:batch", merged.ID)
	}
	if merged.Content != "hello" {
		t.Errorf("merged content = %q", merged.Content)
	}
	if got := sourceIDs(merged); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("provenance = %v, want [a]", got)
	}

	// Flush must clear both the batch list and the lock.
	if list, _ := st.ReadAll(ctx, c.BatchKey("u1")); len(list) != 0 {
		t.Errorf("batch list not cleared: %v", list)
	}
	if _, err := st.Get(ctx, c.LockKey("u1")); !errors.Is(err, store.ErrMiss) {
		t.Errorf("lock not released, err = %v", err)
	}
}

func TestCoordinator_LostElectionAborts(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	c := NewCoordinator(st, "test",
		WithWindow(300*time.Millisecond),
		WithPollInterval(20*time.Millisecond),
	)

	leaderOut := make(chan Outcome, 1)
	go func() {
		out, err := c.Process(ctx, []bus.InboundMessage{msg("a", "u1", "first")})
		if err != nil {
			t.Error(err)
		}
		leaderOut <- out
	}()

	time.Sleep(50 * time.Millisecond)

	out, err := c.Process(ctx, []bus.InboundMessage{msg("b", "u1", "second")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Reason != AbortBatchingPending {
		t.Fatalf("follower reason = %q, want %q", out.Reason, AbortBatchingPending)
	}

	leader := <-leaderOut
	if leader.Aborted() {
		t.Fatalf("leader aborted: %q", leader.Reason)
	}
	merged := leader.Messages[len(leader.Messages)-1]
	if got := sourceIDs(merged); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("provenance = %v, want the follower's message included", got)
	}
	if merged.Content != "first\nsecond" {
		t.Errorf("merged content = %q", merged.Content)
	}
}

// TestCoordinator_RapidFireScenario drives the canonical three-message
// burst: A wins election, B and C abort after their appends, and A's
// flush waits a full quiet window past C's arrival before merging all
// three in order.
func TestCoordinator_RapidFireScenario(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	window := 300 * time.Millisecond
	c := NewCoordinator(st, "test",
		WithWindow(window),
		WithPollInterval(20*time.Millisecond),
	)

	start := time.Now()
	type result struct {
		out  Outcome
		done time.Time
	}
	leaderOut := make(chan result, 1)
	go func() {
		out, err := c.Process(ctx, []bus.InboundMessage{msg("a", "u1", "A")})
		if err != nil {
			t.Error(err)
		}
		leaderOut <- result{out, time.Now()}
	}()

	var lastArrival time.Time
	for _, m := range []bus.InboundMessage{msg("b", "u1", "B"), msg("c", "u1", "C")} {
		time.Sleep(60 * time.Millisecond)
		lastArrival = time.Now()
		out, err := c.Process(ctx, []bus.InboundMessage{m})
		if err != nil {
			t.Fatal(err)
		}
		if out.Reason != AbortBatchingPending {
			t.Fatalf("burst message %s: reason = %q, want %q", m.ID, out.Reason, AbortBatchingPending)
		}
	}

	leader := <-leaderOut
	merged := leader.out.Messages[len(leader.out.Messages)-1]
	if merged.Content != "A\nB\nC" {
		t.Errorf("merged content = %q, want arrival order preserved", merged.Content)
	}
	if got := sourceIDs(merged); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("provenance = %v, want [a b c]", got)
	}

	// Quiet-window correctness: the flush must not happen before a full
	// window has elapsed since the last arrival (± poll granularity).
	if quiet := leader.done.Sub(lastArrival); quiet < window-30*time.Millisecond {
		t.Errorf("flushed %v after last arrival, want >= %v", quiet, window)
	}
	if total := leader.done.Sub(start); total > 2*window {
		t.Errorf("flush took %v, window extension overshot", total)
	}
}

// TestCoordinator_NoMessageLoss checks the core property: N concurrent
// invocations on one conversation produce exactly one forwarded merge
// whose provenance lists every message id exactly once.
func TestCoordinator_NoMessageLoss(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	c := NewCoordinator(st, "test",
		WithWindow(400*time.Millisecond),
		WithPollInterval(20*time.Millisecond),
	)

	const n = 8
	ids := []string{"m0", "m1", "m2", "m3", "m4", "m5", "m6", "m7"}

	var wg sync.WaitGroup
	outcomes := make(chan Outcome, n)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := c.Process(ctx, []bus.InboundMessage{msg(id, "u1", id)})
			if err != nil {
				t.Error(err)
				return
			}
			outcomes <- out
		}()
	}
	wg.Wait()
	close(outcomes)

	var forwards, pending int
	seen := make(map[string]int)
	for out := range outcomes {
		switch {
		case out.Reason == AbortBatchingPending:
			pending++
		case !out.Aborted():
			forwards++
			for _, id := range sourceIDs(out.Messages[len(out.Messages)-1]) {
				seen[id]++
			}
		default:
			t.Errorf("unexpected reason %q", out.Reason)
		}
	}

	if forwards != 1 {
		t.Fatalf("forwards = %d, want exactly one leader", forwards)
	}
	if pending != n-1 {
		t.Errorf("pending aborts = %d, want %d", pending, n-1)
	}
	for _, id := range ids {
		if seen[id] != 1 {
			t.Errorf("message %s appears %d times in provenance, want exactly once", id, seen[id])
		}
	}
}

func TestCoordinator_RacedEmptyFlush(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	c := NewCoordinator(st, "test",
		WithWindow(400*time.Millisecond),
		WithPollInterval(20*time.Millisecond),
	)

	in := []bus.InboundMessage{msg("a", "u1", "hello")}
	leaderOut := make(chan Outcome, 1)
	go func() {
		out, err := c.Process(ctx, in)
		if err != nil {
			t.Error(err)
		}
		leaderOut <- out
	}()

	// Yank the batch list out from under the waiting leader, as a
	// concurrent flush on another instance would.
	time.Sleep(80 * time.Millisecond)
	if err := st.Delete(ctx, c.BatchKey("u1")); err != nil {
		t.Fatal(err)
	}

	out := <-leaderOut
	if out.Aborted() {
		t.Fatalf("raced-empty must pass through, got abort %q", out.Reason)
	}
	if !reflect.DeepEqual(out.Messages, in) {
		t.Errorf("messages = %+v, want input unchanged", out.Messages)
	}
	if _, err := st.Get(ctx, c.LockKey("u1")); !errors.Is(err, store.ErrMiss) {
		t.Errorf("lock must not linger after a raced-empty return, err = %v", err)
	}
}

// TestCoordinator_SelfHealingAfterCrash plants the debris of a crashed
// leader (a stale entry and a lock about to expire) and checks that the
// next message's invocation wins election once the TTL passes and
// flushes old and new entries in one merge.
func TestCoordinator_SelfHealingAfterCrash(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	window := 100 * time.Millisecond
	c := NewCoordinator(st, "test",
		WithWindow(window),
		WithPollInterval(10*time.Millisecond),
	)

	stale := BatchEntry{
		ID:         "stale",
		Message:    msg("stale", "u1", "never delivered"),
		EnqueuedAt: time.Now().Add(-2 * window).UnixMilli(),
	}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Append(ctx, c.BatchKey("u1"), string(data)); err != nil {
		t.Fatal(err)
	}
	if _, err := st.SetNX(ctx, c.LockKey("u1"), "1", 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	time.Sleep(80 * time.Millisecond) // crashed leader's lock expires

	out, err := c.Process(ctx, []bus.InboundMessage{msg("fresh", "u1", "retry")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Aborted() {
		t.Fatalf("expected new election win after TTL, got abort %q", out.Reason)
	}
	merged := out.Messages[len(out.Messages)-1]
	if got := sourceIDs(merged); !reflect.DeepEqual(got, []string{"stale", "fresh"}) {
		t.Errorf("provenance = %v, want stale entry recovered", got)
	}
	if merged.Content != "never delivered\nretry" {
		t.Errorf("merged content = %q", merged.Content)
	}
}

// brokenTailStore fails every tail read, simulating the store going away
// after a successful election.
type brokenTailStore struct {
	store.Store
}

var errTail = errors.New("store unreachable")

func (b brokenTailStore) ReadLast(ctx context.Context, listKey string) (string, error) {
	return "", errTail
}

func TestCoordinator_ReleasesLockOnFailure(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	c := NewCoordinator(brokenTailStore{inner}, "test",
		WithWindow(100*time.Millisecond),
		WithPollInterval(10*time.Millisecond),
	)

	_, err := c.Process(ctx, []bus.InboundMessage{msg("a", "u1", "hello")})
	if !errors.Is(err, errTail) {
		t.Fatalf("err = %v, want wrapped store failure", err)
	}

	// The failure path must have released the lock so the conversation
	// isn't wedged until the TTL.
	if _, err := inner.Get(ctx, c.LockKey("u1")); !errors.Is(err, store.ErrMiss) {
		t.Errorf("lock still held after failure, err = %v", err)
	}
}
