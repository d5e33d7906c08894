package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeTimer struct {
	deadline time.Time
	f        func()
	stopped  bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock and fires due timers outside the clock lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	var rest []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.deadline.After(c.now) {
			due = append(due, t)
		} else if !t.stopped {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func envelopeJSON(id, sourceID string, articleID int, action, title string) []byte {
	data, _ := json.Marshal(map[string]any{
		"type":     "article_updated",
		"id":       id,
		"ts":       1700000000000,
		"sourceId": sourceID,
		"payload": map[string]any{
			"articleId": articleID,
			"action":    action,
			"title":     title,
		},
	})
	return data
}

func TestPublishThrottle(t *testing.T) {
	clock := newFakeClock()
	b := New(NewMemoryTransport(), WithClock(clock))
	defer b.Close()

	p := Payload{ArticleID: 7, Action: ActionUpdated}
	if m := b.Publish(p); m == nil {
		t.Fatal("first publish throttled")
	}
	clock.Advance(500 * time.Millisecond)
	if m := b.Publish(p); m != nil {
		t.Fatal("second publish within window not throttled")
	}
	// the throttled call must not refresh the timestamp
	clock.Advance(350 * time.Millisecond)
	if m := b.Publish(p); m == nil {
		t.Fatal("publish after window throttled")
	}
}

func TestPublishThrottleKeyedByAction(t *testing.T) {
	clock := newFakeClock()
	b := New(NewMemoryTransport(), WithClock(clock))
	defer b.Close()

	if m := b.Publish(Payload{ArticleID: 7, Action: ActionUpdated}); m == nil {
		t.Fatal("updated throttled")
	}
	if m := b.Publish(Payload{ArticleID: 7, Action: ActionCreated}); m == nil {
		t.Fatal("created shares throttle key with updated")
	}
	if m := b.Publish(Payload{ArticleID: 8, Action: ActionUpdated}); m == nil {
		t.Fatal("other article shares throttle key")
	}
}

func TestPublishMetaMonotonic(t *testing.T) {
	clock := newFakeClock()
	b := New(NewMemoryTransport(), WithClock(clock), WithSourceID("tab-a"))
	defer b.Close()

	m1 := b.Publish(Payload{ArticleID: 1, Action: ActionCreated})
	m2 := b.Publish(Payload{ArticleID: 2, Action: ActionCreated})
	if m1 == nil || m2 == nil {
		t.Fatal("publish throttled unexpectedly")
	}
	if m1.ID != "tab-a-1" || m2.ID != "tab-a-2" {
		t.Fatalf("ids not monotonic: %s, %s", m1.ID, m2.ID)
	}
	if m1.SourceID != "tab-a" {
		t.Fatalf("sourceId = %s", m1.SourceID)
	}
}

func TestSelfFilter(t *testing.T) {
	clock := newFakeClock()
	tr := NewMemoryTransport()
	b := New(tr, WithClock(clock))
	defer b.Close()

	var calls int
	cancel := b.Subscribe(func(Payload, Meta) { calls++ })
	defer cancel()

	b.Publish(Payload{ArticleID: 1, Action: ActionUpdated})
	clock.Advance(time.Second)
	if calls != 0 {
		t.Fatalf("own event delivered to own subscriber: %d calls", calls)
	}
}

func TestForeignDelivery(t *testing.T) {
	clock := newFakeClock()
	tr := NewMemoryTransport()
	a := New(tr, WithClock(clock), WithSourceID("tab-a"))
	b := New(tr, WithClock(clock), WithSourceID("tab-b"))
	defer a.Close()
	defer b.Close()

	var got []Payload
	cancel := b.Subscribe(func(p Payload, _ Meta) { got = append(got, p) })
	defer cancel()

	a.Publish(Payload{ArticleID: 42, Action: ActionCreated, Title: "hello"})
	clock.Advance(150 * time.Millisecond)

	if len(got) != 1 {
		t.Fatalf("want 1 delivery, got %d", len(got))
	}
	if got[0].ArticleID != 42 || got[0].Action != ActionCreated || got[0].Title != "hello" {
		t.Fatalf("payload mismatch: %+v", got[0])
	}
}

func TestDedupAcrossChannels(t *testing.T) {
	clock := newFakeClock()
	tr := NewMemoryTransport()
	b := New(tr, WithClock(clock), WithSourceID("tab-b"))
	defer b.Close()

	var calls int
	cancel := b.Subscribe(func(Payload, Meta) { calls++ })
	defer cancel()

	// same event id delivered twice, as when both the primary and the
	// fallback path relay one publish
	msg := envelopeJSON("tab-a-1", "tab-a", 5, "updated", "")
	_ = tr.Send(msg)
	_ = tr.Send(msg)
	clock.Advance(time.Second)

	if calls != 1 {
		t.Fatalf("want exactly 1 call, got %d", calls)
	}
}

func TestDedupTTLEviction(t *testing.T) {
	clock := newFakeClock()
	tr := NewMemoryTransport()
	b := New(tr, WithClock(clock), WithSourceID("tab-b"))
	defer b.Close()

	var calls int
	cancel := b.Subscribe(func(Payload, Meta) { calls++ })
	defer cancel()

	msg := envelopeJSON("tab-a-1", "tab-a", 5, "updated", "")
	_ = tr.Send(msg)
	clock.Advance(time.Second)

	// after the TTL the id may be seen again (fallback replay)
	clock.Advance(61 * time.Second)
	_ = tr.Send(msg)
	clock.Advance(time.Second)

	if calls != 2 {
		t.Fatalf("want 2 calls after TTL eviction, got %d", calls)
	}
}

func TestDebounceCoalescing(t *testing.T) {
	clock := newFakeClock()
	tr := NewMemoryTransport()
	b := New(tr, WithClock(clock), WithSourceID("tab-b"))
	defer b.Close()

	var got []Payload
	cancel := b.Subscribe(func(p Payload, _ Meta) { got = append(got, p) })
	defer cancel()

	_ = tr.Send(envelopeJSON("tab-a-1", "tab-a", 5, "updated", "one"))
	clock.Advance(50 * time.Millisecond)
	_ = tr.Send(envelopeJSON("tab-a-2", "tab-a", 5, "updated", "two"))
	clock.Advance(50 * time.Millisecond)
	_ = tr.Send(envelopeJSON("tab-a-3", "tab-a", 5, "updated", "three"))
	clock.Advance(150 * time.Millisecond)

	if len(got) != 1 {
		t.Fatalf("want 1 coalesced call, got %d", len(got))
	}
	if got[0].Title != "three" {
		t.Fatalf("want last event, got %q", got[0].Title)
	}
}

func TestDebouncePerArticle(t *testing.T) {
	clock := newFakeClock()
	tr := NewMemoryTransport()
	b := New(tr, WithClock(clock), WithSourceID("tab-b"))
	defer b.Close()

	var got []int
	cancel := b.Subscribe(func(p Payload, _ Meta) { got = append(got, p.ArticleID) })
	defer cancel()

	_ = tr.Send(envelopeJSON("tab-a-1", "tab-a", 1, "updated", ""))
	_ = tr.Send(envelopeJSON("tab-a-2", "tab-a", 2, "updated", ""))
	clock.Advance(150 * time.Millisecond)

	if len(got) != 2 {
		t.Fatalf("want 2 calls for distinct articles, got %d", len(got))
	}
}

func TestUnsubscribeCancelsPending(t *testing.T) {
	clock := newFakeClock()
	tr := NewMemoryTransport()
	b := New(tr, WithClock(clock), WithSourceID("tab-b"))
	defer b.Close()

	var calls int
	cancel := b.Subscribe(func(Payload, Meta) { calls++ })

	_ = tr.Send(envelopeJSON("tab-a-1", "tab-a", 5, "updated", ""))
	cancel()
	clock.Advance(time.Second)

	if calls != 0 {
		t.Fatalf("handler fired after cancel: %d", calls)
	}
}

func TestUnsubscribeWaitsForRunningHandler(t *testing.T) {
	clock := newFakeClock()
	tr := NewMemoryTransport()
	b := New(tr, WithClock(clock), WithSourceID("tab-b"))
	defer b.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	cancel := b.Subscribe(func(Payload, Meta) {
		close(entered)
		<-release
		close(finished)
	})

	_ = tr.Send(envelopeJSON("tab-a-1", "tab-a", 5, "updated", ""))
	go clock.Advance(time.Second)
	<-entered

	cancelled := make(chan struct{})
	go func() {
		cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("cancel returned while the handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("cancel did not return after the handler finished")
	}
	select {
	case <-finished:
	default:
		t.Fatal("cancel returned before the handler body completed")
	}
}

func TestUnsubscribeFromOwnHandler(t *testing.T) {
	clock := newFakeClock()
	tr := NewMemoryTransport()
	b := New(tr, WithClock(clock), WithSourceID("tab-b"))
	defer b.Close()

	var calls int
	var cancel func()
	cancel = b.Subscribe(func(Payload, Meta) {
		calls++
		cancel() // must not deadlock waiting on itself
	})

	_ = tr.Send(envelopeJSON("tab-a-1", "tab-a", 5, "updated", ""))
	clock.Advance(time.Second)

	_ = tr.Send(envelopeJSON("tab-a-2", "tab-a", 5, "updated", ""))
	clock.Advance(time.Second)

	if calls != 1 {
		t.Fatalf("handler fired after cancelling itself: %d calls", calls)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	t.Parallel()

	valid := func() map[string]any {
		return map[string]any{
			"type":     "article_updated",
			"id":       "x-1",
			"ts":       1700000000000,
			"sourceId": "x",
			"payload": map[string]any{
				"articleId": 1,
				"action":    "updated",
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(m map[string]any)
	}{
		{"wrong type tag", func(m map[string]any) { m["type"] = "other" }},
		{"missing id", func(m map[string]any) { delete(m, "id") }},
		{"numeric id", func(m map[string]any) { m["id"] = 3 }},
		{"string ts", func(m map[string]any) { m["ts"] = "now" }},
		{"missing payload", func(m map[string]any) { delete(m, "payload") }},
		{"string articleId", func(m map[string]any) {
			m["payload"].(map[string]any)["articleId"] = "1"
		}},
		{"unknown action", func(m map[string]any) {
			m["payload"].(map[string]any)["action"] = "deleted"
		}},
		{"non-string optional", func(m map[string]any) {
			m["payload"].(map[string]any)["slug"] = 7
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)
			data, _ := json.Marshal(m)
			if _, _, ok := decode(data); ok {
				t.Errorf("malformed event accepted")
			}
		})
	}

	data, _ := json.Marshal(valid())
	if _, _, ok := decode(data); !ok {
		t.Fatal("valid event rejected")
	}
	if _, _, ok := decode([]byte("not json")); ok {
		t.Fatal("garbage accepted")
	}
}

func TestDecodeOptionalFields(t *testing.T) {
	t.Parallel()

	data, _ := json.Marshal(map[string]any{
		"type":     "article_updated",
		"id":       "x-1",
		"ts":       1,
		"sourceId": "x",
		"payload": map[string]any{
			"articleId": 9,
			"action":    "created",
			"updatedAt": "2026-01-01T00:00:00Z",
			"oldSlug":   "a",
			"newSlug":   "b",
		},
	})
	p, m, ok := decode(data)
	if !ok {
		t.Fatal("decode failed")
	}
	if p.OldSlug != "a" || p.NewSlug != "b" || p.UpdatedAt == "" {
		t.Fatalf("optional fields lost: %+v", p)
	}
	if m.ID != "x-1" || m.SourceID != "x" || m.TS != 1 {
		t.Fatalf("meta mismatch: %+v", m)
	}
}

func TestFileTransportRelay(t *testing.T) {
	path := fmt.Sprintf("%s/relay.json", t.TempDir())
	sender, err := NewFileTransport(path)
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	defer sender.Close()
	receiver, err := NewFileTransport(path)
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	defer receiver.Close()

	msgs := make(chan []byte, 4)
	cancel := receiver.Subscribe(func(m []byte) { msgs <- m })
	defer cancel()

	want := envelopeJSON("tab-a-1", "tab-a", 1, "created", "")
	if err := sender.Send(want); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case got := <-msgs:
		if string(got) != string(want) {
			t.Fatalf("relayed message mismatch:\n%s\n%s", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no relay within 3s")
	}
}
