/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_switch/internal/engine"
	"github.com/friendsincode/grimnir_switch/internal/engine/enginesim"
	"github.com/friendsincode/grimnir_switch/internal/events"
)

func testConfig() Config {
	return Config{
		TransitionDuration: 30 * time.Millisecond,
		ActivateDelay:      time.Millisecond,
		CloseGrace:         15 * time.Millisecond,
	}
}

type stubRecorder struct {
	mu       sync.Mutex
	started  []int
	switches []string
	ended    []string
}

func (r *stubRecorder) ItemStarted(index int, sourceType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, index)
}

func (r *stubRecorder) SwitchIssued(pin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.switches = append(r.switches, pin)
}

func (r *stubRecorder) SourceEnded(index int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, reason)
}

func (r *stubRecorder) startedItems() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.started...)
}

type testRig struct {
	c   *Controller
	eng *enginesim.Engine
	sw  *enginesim.Switcher
	bus *events.Bus
	rec *stubRecorder
}

func newTestRig(t *testing.T, items []Item) *testRig {
	t.Helper()
	eng := enginesim.New(zerolog.Nop())
	c, err := New(context.Background(), eng, items, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(c.Shutdown)

	rig := &testRig{
		c:   c,
		eng: eng,
		sw:  c.switcher.(*enginesim.Switcher),
		bus: events.NewBus(),
		rec: &stubRecorder{},
	}
	c.SetEventBus(rig.bus)
	c.SetRecorder(rig.rec)
	return rig
}

func avStreams(name string) []engine.Stream {
	return []engine.Stream{audioStream(name), videoStream(name)}
}

func (r *testRig) waitActive(t *testing.T, pin string) {
	t.Helper()
	waitUntil(t, 2*time.Second, func() bool { return r.sw.ActivePin() == pin }, "active pin "+pin)
}

func (r *testRig) waitInput(t *testing.T, id string) *enginesim.InputNode {
	t.Helper()
	waitUntil(t, 2*time.Second, func() bool { return r.eng.Input(id) != nil }, "input node "+id)
	return r.eng.Input(id)
}

func TestEmptyPlaylistExhaustsImmediately(t *testing.T) {
	rig := newTestRig(t, nil)
	exhausted := rig.bus.Subscribe(events.EventPlaylistExhausted)

	if err := rig.c.Start(context.Background()); !errors.Is(err, ErrPlaylistExhausted) {
		t.Fatalf("start = %v, want ErrPlaylistExhausted", err)
	}
	select {
	case <-rig.c.Done():
	default:
		t.Fatal("done channel not closed")
	}
	select {
	case <-exhausted:
	case <-time.After(time.Second):
		t.Fatal("no exhaustion event published")
	}
	if !rig.c.Status().Exhausted {
		t.Fatal("status does not report exhaustion")
	}
}

func TestStartTwiceFails(t *testing.T) {
	rig := newTestRig(t, []Item{{Duration: 10 * time.Second, Source: LocalTSFile{FileName: "a.ts"}}})
	if err := rig.c.Switch(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("switch before start = %v, want ErrNotStarted", err)
	}
	if err := rig.c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rig.c.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start = %v, want ErrAlreadyStarted", err)
	}
}

func TestNewRejectsInvalidItems(t *testing.T) {
	eng := enginesim.New(zerolog.Nop())
	_, err := New(context.Background(), eng, []Item{{Source: SRT{Mode: "dialer", Port: 5000}}}, testConfig(), zerolog.Nop())
	if err == nil {
		t.Fatal("controller accepted an invalid item")
	}
}

// Two file items: the first plays for its configured duration, the advance
// fires transitionDuration early, and the outgoing node closes after the
// grace delay.
func TestTimedAdvanceBetweenFiles(t *testing.T) {
	rig := newTestRig(t, []Item{
		{Duration: 120 * time.Millisecond, Source: LocalMP4File{FileName: "a.mp4"}},
		{Source: LocalMP4File{FileName: "b.mp4"}},
	})
	if err := rig.c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	a := rig.waitInput(t, "input-0")
	a.SetStreams(avStreams("a"))
	rig.waitActive(t, "0")

	if got := rig.c.Status(); got.NextIndex != -1 {
		t.Fatalf("file item was prewarmed: next index %d", got.NextIndex)
	}

	// Timed advance creates b and blocks for its probed duration.
	b := rig.waitInput(t, "input-1")
	b.EmitInfo(10_000)
	b.SetStreams(avStreams("b"))
	rig.waitActive(t, "1")

	waitUntil(t, 2*time.Second, a.Closed, "outgoing node closed after grace")
	if b.Closed() {
		t.Fatal("incoming node closed")
	}
	if got := rig.rec.startedItems(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("recorded item starts = %v, want [0 1]", got)
	}
}

// An SRT-listener item binds to the pre-created shared socket; the
// publisher's disconnect advances to the file item, which is never
// prewarmed. The listener node survives the advance.
func TestListenerDisconnectAdvances(t *testing.T) {
	rig := newTestRig(t, []Item{
		{Source: SRT{Mode: SRTListener, IP: "0.0.0.0", Port: 5000}},
		{Duration: 10 * time.Second, Source: LocalTSFile{FileName: "c.ts"}},
	})

	listener := rig.eng.Input("listener-srt-5000")
	if listener == nil {
		t.Fatal("listener not pre-created")
	}

	if err := rig.c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	listener.SetStreams(avStreams("pub"))
	rig.waitActive(t, "0")

	if got := rig.c.Status(); got.NextIndex != -1 {
		t.Fatalf("file item was prewarmed: next index %d", got.NextIndex)
	}

	listener.EmitDisconnect("pub")
	c := rig.waitInput(t, "input-1")
	c.SetStreams(avStreams("c"))
	rig.waitActive(t, "1")

	if listener.Closed() {
		t.Fatal("shared listener node was closed by an item advance")
	}
}

// An image item is video-only: the silence source supplies its pin's audio.
// The following RTMP item is prewarmed at start but switched to only once a
// publisher actually arrives.
func TestImageThenPrewarmedRTMP(t *testing.T) {
	rig := newTestRig(t, []Item{
		{Duration: 100 * time.Millisecond, Source: Image{FileName: "logo.png", Format: "png"}},
		{Source: RTMP{Port: 1935, App: "live", Stream: "x"}},
	})
	listener := rig.eng.Input("listener-rtmp-1935")
	if listener == nil {
		t.Fatal("rtmp listener not pre-created")
	}

	if err := rig.c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if got := rig.c.Status(); got.CurrentIndex != 0 || got.NextIndex != 1 {
		t.Fatalf("slots = current %d next %d, want 0 and 1", got.CurrentIndex, got.NextIndex)
	}

	img := rig.waitInput(t, "input-0")
	img.SetStreams([]engine.Stream{videoStream("logo")})
	rig.waitActive(t, "0")

	// The pin carries the image video plus the silence audio.
	waitUntil(t, 2*time.Second, func() bool { return len(rig.sw.PinMap()["0"]) == 2 }, "silence wired onto image pin")

	// The timed advance promotes the prewarmed slot, but with no publisher
	// it is not ready, so no switch is commanded.
	waitUntil(t, 2*time.Second, func() bool { return rig.c.Status().CurrentIndex == 1 }, "promotion of prewarmed slot")
	time.Sleep(20 * time.Millisecond)
	if pin := rig.sw.ActivePin(); pin != "0" {
		t.Fatalf("switched to %s before the rtmp source was ready", pin)
	}

	if !listener.EmitPublish("live", "rtmp://host/live", "1", "x") {
		t.Fatal("publish rejected")
	}
	rig.waitActive(t, "1")

	waitUntil(t, 2*time.Second, img.Closed, "image node closed after grace")
}

// Two RTMP items share one listener. Each slot sees only its own publisher;
// a foreign publisher's disconnect does not advance the playlist.
func TestSharedRTMPDemultiplexing(t *testing.T) {
	rig := newTestRig(t, []Item{
		{Source: RTMP{Port: 1935, App: "a", Stream: "1"}},
		{Source: RTMP{Port: 1935, App: "a", Stream: "2"}},
	})
	listener := rig.eng.Input("listener-rtmp-1935")

	if err := rig.c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if n := rig.c.Listeners().Attached(ListenerProtoRTMP, 1935); n != 2 {
		t.Fatalf("attached handles = %d, want one per bound slot", n)
	}

	listener.EmitPublish("a", "", "s1", "1")
	rig.waitActive(t, "0")

	// A disconnect of the not-yet-active second publisher has no effect on
	// the current slot.
	listener.EmitDisconnect("a/2")
	time.Sleep(10 * time.Millisecond)
	if got := rig.c.Status(); got.CurrentIndex != 0 {
		t.Fatalf("foreign disconnect advanced to item %d", got.CurrentIndex)
	}
	if pin := rig.sw.ActivePin(); pin != "0" {
		t.Fatalf("foreign disconnect moved the active pin to %s", pin)
	}

	listener.EmitDisconnect("a/1")
	waitUntil(t, 2*time.Second, func() bool { return rig.c.Status().CurrentIndex == 1 }, "advance on own disconnect")

	listener.EmitPublish("a", "", "s2", "2")
	rig.waitActive(t, "1")
}

// Two rapid manual switches advance by exactly two items, and the first
// item's duration timer must not fire a third advance afterwards.
func TestManualSwitchCancelsPendingTimer(t *testing.T) {
	rig := newTestRig(t, []Item{
		{Duration: 100 * time.Millisecond, Source: LocalTSFile{FileName: "a.ts"}},
		{Source: SRT{Mode: SRTCaller, IP: "203.0.113.9", Port: 4000}},
		{Source: SRT{Mode: SRTCaller, IP: "203.0.113.9", Port: 4001}},
	})
	if err := rig.c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.waitInput(t, "input-0").SetStreams(avStreams("a"))
	rig.waitActive(t, "0")

	if err := rig.c.Switch(context.Background()); err != nil {
		t.Fatalf("first switch: %v", err)
	}
	if err := rig.c.Switch(context.Background()); err != nil {
		t.Fatalf("second switch: %v", err)
	}
	if got := rig.c.Status(); got.CurrentIndex != 2 {
		t.Fatalf("current index = %d, want 2", got.CurrentIndex)
	}

	// Past the point where item 0's timer would have fired.
	time.Sleep(150 * time.Millisecond)
	got := rig.c.Status()
	if got.CurrentIndex != 2 || got.Exhausted {
		t.Fatalf("stale timer advanced the playlist: %+v", got)
	}
	select {
	case <-rig.c.Done():
		t.Fatal("playlist exhausted by a stale timer")
	default:
	}
}

// A timed advance releases the outgoing node one grace after the advance
// fires, not two: the close handle carries the grace internally.
func TestTimedAdvanceClosesWithinOneGrace(t *testing.T) {
	eng := enginesim.New(zerolog.Nop())
	items := []Item{
		{Duration: 60 * time.Millisecond, Source: LocalTSFile{FileName: "a.ts"}},
		{Duration: 10 * time.Second, Source: LocalTSFile{FileName: "b.ts"}},
	}
	cfg := Config{
		TransitionDuration: 20 * time.Millisecond,
		ActivateDelay:      time.Millisecond,
		CloseGrace:         100 * time.Millisecond,
	}
	c, err := New(context.Background(), eng, items, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(c.Shutdown)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	a := eng.Input("input-0")
	a.SetStreams(avStreams("a"))

	waitUntil(t, 2*time.Second, func() bool { return eng.Input("input-1") != nil }, "timed advance")
	advancedAt := time.Now()
	if a.Closed() {
		t.Fatal("outgoing node closed before the grace elapsed")
	}

	waitUntil(t, 2*time.Second, a.Closed, "outgoing node closed")
	if elapsed := time.Since(advancedAt); elapsed > 170*time.Millisecond {
		t.Fatalf("outgoing node closed %v after the advance, want about one grace", elapsed)
	}
}

// Advancing away from a never-ready item must not strand a prev slot that
// readies late: while nothing has ever been active, a ready prev is
// switched in even though an unready current exists.
func TestLatePrevActivatesWhenNothingEverPlayed(t *testing.T) {
	rig := newTestRig(t, []Item{
		{Source: SRT{Mode: SRTCaller, IP: "203.0.113.9", Port: 4000}},
		{Source: SRT{Mode: SRTCaller, IP: "203.0.113.9", Port: 4001}},
	})
	if err := rig.c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	a := rig.waitInput(t, "input-0")

	// Advance before the first source ever produced streams.
	if err := rig.c.Switch(context.Background()); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if got := rig.c.Status(); got.CurrentIndex != 1 || got.PlayingPin != "" {
		t.Fatalf("status after switch = %+v", got)
	}

	a.SetStreams(avStreams("late"))
	rig.waitActive(t, "0")
}

func TestSingleItemPlaysThenExhausts(t *testing.T) {
	rig := newTestRig(t, []Item{{Duration: 60 * time.Millisecond, Source: LocalTSFile{FileName: "a.ts"}}})
	if err := rig.c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	rig.waitInput(t, "input-0").SetStreams(avStreams("a"))
	rig.waitActive(t, "0")

	if got := rig.c.Status(); got.NextIndex != -1 {
		t.Fatalf("single-item playlist populated next: %d", got.NextIndex)
	}

	select {
	case <-rig.c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("playlist did not exhaust")
	}
	if err := rig.c.Switch(context.Background()); !errors.Is(err, ErrPlaylistExhausted) {
		t.Fatalf("switch after exhaustion = %v, want ErrPlaylistExhausted", err)
	}
}

func TestDurationShorterThanTransition(t *testing.T) {
	rig := newTestRig(t, []Item{{Duration: 5 * time.Millisecond, Source: LocalTSFile{FileName: "a.ts"}}})
	if err := rig.c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Timer delay clamps to zero; the advance still happens.
	select {
	case <-rig.c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("clamped timer never advanced")
	}
}

func TestRefreshSubsIsIdempotent(t *testing.T) {
	rig := newTestRig(t, []Item{{Duration: 10 * time.Second, Source: Image{FileName: "logo.png", Format: "png"}}})
	if err := rig.c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Image slot contributes its own sub plus the silence sub.
	if n := rig.sw.Subscriptions(); n != 2 {
		t.Fatalf("subscriptions = %d, want 2", n)
	}
	rig.c.mu.Lock()
	rig.c.refreshSubsLocked()
	rig.c.mu.Unlock()
	if n := rig.sw.Subscriptions(); n != 2 {
		t.Fatalf("subscriptions after republish = %d, want 2", n)
	}
}

func TestShutdownClosesOwnedNodes(t *testing.T) {
	eng := enginesim.New(zerolog.Nop())
	items := []Item{
		{Source: SRT{Mode: SRTListener, IP: "0.0.0.0", Port: 5000}},
		{Duration: 10 * time.Second, Source: LocalTSFile{FileName: "a.ts"}},
	}
	c, err := New(context.Background(), eng, items, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.Shutdown()
	if !eng.Input("listener-srt-5000").Closed() {
		t.Fatal("shutdown left the listener node open")
	}
}
