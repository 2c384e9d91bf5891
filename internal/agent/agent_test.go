package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parleylabs/parley/internal/clock"
	"github.com/parleylabs/parley/internal/session"
	"github.com/parleylabs/parley/internal/variant"
)

type fakeConvo struct {
	mu       sync.Mutex
	updates  []SideChannelUpdate
	closing  []string
	turns    []string
	closeErr error
	slow     bool // block closing utterance past any deadline
}

func (f *fakeConvo) UpdateSideChannel(_ context.Context, upd SideChannelUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, upd)
	return nil
}

func (f *fakeConvo) RequestClosingUtterance(ctx context.Context, instruction string) (string, error) {
	f.mu.Lock()
	f.closing = append(f.closing, instruction)
	slow := f.slow
	f.mu.Unlock()
	if slow {
		<-ctx.Done()
		return "", ErrClosingTimeout
	}
	return "goodbye, great session", f.closeErr
}

func (f *fakeConvo) ForwardTurn(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, text)
	return nil
}

func (f *fakeConvo) Close() error { return nil }

func (f *fakeConvo) snapshot() ([]SideChannelUpdate, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SideChannelUpdate(nil), f.updates...), append([]string(nil), f.closing...)
}

type fakeTransport struct {
	mu           sync.Mutex
	payloads     [][]byte
	disconnected bool
}

func (f *fakeTransport) SendReliable(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) Disconnect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return nil
}

func (f *fakeTransport) events(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.payloads))
	for _, p := range f.payloads {
		var ev map[string]any
		if err := json.Unmarshal(p, &ev); err != nil {
			t.Fatalf("bad event payload %q: %v", p, err)
		}
		out = append(out, ev)
	}
	return out
}

func newTestAgent(t *testing.T, clk clock.Clock, grace time.Duration) *Agent {
	t.Helper()
	registry, err := variant.Builtin()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	vctx, err := registry.Resolve(map[string]any{"studentName": "John"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	ag, err := NewFactory(registry, clk, grace).New("anon_user", vctx)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	return ag
}

// advanceThrough walks the fake clock across every checkpoint, waiting
// for the driver's timer between steps.
func advanceThrough(t *testing.T, clk *clock.FakeClock, offsets ...time.Duration) {
	t.Helper()
	prev := time.Duration(0)
	for _, off := range offsets {
		deadline := time.Now().Add(2 * time.Second)
		for clk.PendingTimers() == 0 {
			if time.Now().After(deadline) {
				t.Fatal("driver never armed a timer")
			}
			time.Sleep(time.Millisecond)
		}
		clk.Advance(off - prev)
		prev = off
	}
}

func TestAgentRunFullSession(t *testing.T) {
	clk := clock.NewFake()
	ag := newTestAgent(t, clk, time.Second)
	convo := &fakeConvo{}
	transport := &fakeTransport{}

	if !ag.AcceptingTurns() {
		t.Fatal("not accepting turns before start")
	}

	done := make(chan error, 1)
	go func() { done <- ag.Run(context.Background(), convo, transport) }()

	advanceThrough(t, clk, 180*time.Second, 270*time.Second, 300*time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after final checkpoint")
	}

	if ag.AcceptingTurns() {
		t.Error("still accepting turns after final checkpoint")
	}
	if !ag.Ended() {
		t.Error("shutdown sequence did not complete")
	}
	if got := ag.Phase(); got != session.PhaseTerminated {
		t.Errorf("phase = %s, want terminated", got)
	}

	updates, closing := convo.snapshot()
	if len(updates) != 2 {
		t.Fatalf("side-channel updates = %d, want 2", len(updates))
	}
	if updates[0].Version != 1 || updates[1].Version != 2 {
		t.Errorf("update versions = %d,%d, want 1,2", updates[0].Version, updates[1].Version)
	}
	if updates[0].Elapsed != 180*time.Second || updates[0].Remaining != 120*time.Second {
		t.Errorf("first update timing = %s/%s", updates[0].Elapsed, updates[0].Remaining)
	}
	if updates[1].Instruction == "" {
		t.Error("wrap-up update carried no instruction")
	}
	if len(closing) != 1 {
		t.Fatalf("closing utterances requested = %d, want 1", len(closing))
	}

	events := transport.events(t)
	// Two intermediate checkpoints, the final checkpoint, and the
	// legacy status alias.
	if len(events) != 4 {
		t.Fatalf("events sent = %d, want 4", len(events))
	}
	for i, ev := range events[:3] {
		if ev["type"] != session.EventTypeCheckpoint {
			t.Errorf("event %d type = %v", i, ev["type"])
		}
	}
	final := events[2]
	if final["status"] != session.StatusEnding {
		t.Errorf("final checkpoint status = %v, want ending", final["status"])
	}
	legacy := events[3]
	if legacy["type"] != session.EventTypeStatus || legacy["reason"] != session.ReasonTimeout {
		t.Errorf("legacy event = %v", legacy)
	}

	transport.mu.Lock()
	disconnected := transport.disconnected
	transport.mu.Unlock()
	if !disconnected {
		t.Error("transport not disconnected after shutdown")
	}
}

func TestAgentClosingUtteranceTimeout(t *testing.T) {
	clk := clock.NewFake()
	ag := newTestAgent(t, clk, 20*time.Millisecond)
	convo := &fakeConvo{slow: true}
	transport := &fakeTransport{}

	done := make(chan error, 1)
	go func() { done <- ag.Run(context.Background(), convo, transport) }()

	advanceThrough(t, clk, 180*time.Second, 270*time.Second, 300*time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run hung on slow closing utterance")
	}

	// The disconnect must proceed even when the goodbye never lands.
	transport.mu.Lock()
	disconnected := transport.disconnected
	transport.mu.Unlock()
	if !disconnected {
		t.Error("grace expiry did not force disconnect")
	}
	if !ag.Ended() {
		t.Error("session not marked ended after grace expiry")
	}
}

func TestAgentRunCancelled(t *testing.T) {
	clk := clock.NewFake()
	ag := newTestAgent(t, clk, time.Second)
	convo := &fakeConvo{}
	transport := &fakeTransport{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ag.Run(ctx, convo, transport) }()

	deadline := time.Now().Add(2 * time.Second)
	for clk.PendingTimers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("driver never armed a timer")
		}
		time.Sleep(time.Millisecond)
	}
	clk.Advance(50 * time.Second)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return on cancellation")
	}

	if ag.Ended() {
		t.Error("cancelled session reported full shutdown")
	}
	if got := ag.Phase(); got != session.PhaseTerminated {
		t.Errorf("phase = %s, want terminated", got)
	}
	if got := clk.PendingTimers(); got != 0 {
		t.Errorf("pending timers after cancel = %d, want 0", got)
	}
	if len(transport.events(t)) != 0 {
		t.Error("events sent for a session that never reached a checkpoint")
	}
}

func TestFactoryUnknownVariant(t *testing.T) {
	registry := variant.NewRegistry()
	f := NewFactory(registry, clock.NewFake(), time.Second)

	_, err := f.New("anon_user", variant.Context{})
	if !errors.Is(err, ErrVariantNotRegistered) {
		t.Errorf("error = %v, want ErrVariantNotRegistered", err)
	}
}

func TestFactoryBuildsInstructions(t *testing.T) {
	registry, err := variant.Builtin()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	vctx, err := registry.Resolve(map[string]any{"studentName": "Maya"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	ag, err := NewFactory(registry, clock.NewFake(), time.Second).New("anon_user", vctx)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if ag.ID == "" {
		t.Error("agent has no session id")
	}
	if ag.Instructions == "" {
		t.Error("agent has no instructions")
	}
	if ag.Context.Variant() != variant.TutorName {
		t.Errorf("variant = %q", ag.Context.Variant())
	}
}
