package bus

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

const (
	eventType      = "article_updated"
	throttleWindow = 800 * time.Millisecond
	debounceWindow = 150 * time.Millisecond
	dedupTTL       = 60 * time.Second
)

// Payload describes one article change. Immutable once constructed.
type Payload struct {
	ArticleID int    `json:"articleId"`
	Action    Action `json:"action"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	Slug      string `json:"slug,omitempty"`
	OldSlug   string `json:"oldSlug,omitempty"`
	NewSlug   string `json:"newSlug,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Meta identifies one published event.
type Meta struct {
	ID       string
	TS       int64
	SourceID string
}

type envelope struct {
	Type     string  `json:"type"`
	ID       string  `json:"id"`
	TS       int64   `json:"ts"`
	SourceID string  `json:"sourceId"`
	Payload  Payload `json:"payload"`
}

type Handler func(p Payload, m Meta)

// Bus routes article-update notifications between processes. Publishes
// are throttled per (article, action); deliveries are validated,
// self-filtered, deduplicated and debounced per article so a burst of
// edits collapses into one refresh trigger. One Bus per process,
// constructed at startup and passed to consumers.
type Bus struct {
	clock     Clock
	transport Transport
	sourceID  string

	mu            sync.Mutex
	seq           uint64
	lastPublishAt map[string]time.Time
	seenAt        map[string]time.Time
	subs          map[*subscription]struct{}
	cancelRecv    func()
	closed        bool
}

type delivery struct {
	payload Payload
	meta    Meta
}

type subscription struct {
	bus     *Bus
	handler Handler
	timers  map[int]Timer
	pending map[int]delivery
	closed  bool

	// in-flight handler invocations, so cancel can wait them out;
	// calling records which goroutines are inside the handler so a
	// handler cancelling its own subscription does not wait on itself
	inflight sync.WaitGroup
	calling  map[uint64]struct{}
}

type Option func(*Bus)

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(b *Bus) { b.clock = c }
}

// WithSourceID pins the per-process source id, for tests.
func WithSourceID(id string) Option {
	return func(b *Bus) { b.sourceID = id }
}

func New(t Transport, opts ...Option) *Bus {
	b := &Bus{
		clock:         systemClock{},
		transport:     t,
		sourceID:      uuid.NewString(),
		lastPublishAt: make(map[string]time.Time),
		seenAt:        make(map[string]time.Time),
		subs:          make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.cancelRecv = t.Subscribe(b.receive)
	return b
}

func (b *Bus) SourceID() string { return b.sourceID }

// Publish transmits p unless a publish for the same (article, action)
// happened within the throttle window, in which case it is a no-op and
// returns nil without refreshing the throttle timestamp. Transmission
// is best-effort; Publish never fails.
func (b *Bus) Publish(p Payload) *Meta {
	if p.Action != ActionCreated && p.Action != ActionUpdated {
		return nil
	}
	key := fmt.Sprintf("%d:%s", p.ArticleID, p.Action)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	now := b.clock.Now()
	if last, ok := b.lastPublishAt[key]; ok && now.Sub(last) < throttleWindow {
		b.mu.Unlock()
		return nil
	}
	b.lastPublishAt[key] = now
	b.seq++
	m := Meta{
		ID:       fmt.Sprintf("%s-%d", b.sourceID, b.seq),
		TS:       now.UnixMilli(),
		SourceID: b.sourceID,
	}
	b.mu.Unlock()

	data, err := json.Marshal(envelope{
		Type:     eventType,
		ID:       m.ID,
		TS:       m.TS,
		SourceID: m.SourceID,
		Payload:  p,
	})
	if err == nil {
		_ = b.transport.Send(data)
	}
	return &m
}

// Subscribe registers h for foreign article updates. The returned
// cancel synchronously stops any pending debounce timers and waits for
// an in-flight invocation to finish; h is never invoked, nor running,
// after cancel returns. A handler may cancel its own subscription, in
// which case cancel does not wait for the invocation it is part of.
func (b *Bus) Subscribe(h Handler) (cancel func()) {
	sub := &subscription{
		bus:     b,
		handler: h,
		timers:  make(map[int]Timer),
		pending: make(map[int]delivery),
		calling: make(map[uint64]struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		if sub.closed {
			b.mu.Unlock()
			return
		}
		sub.closed = true
		delete(b.subs, sub)
		for _, t := range sub.timers {
			t.Stop()
		}
		sub.timers = nil
		sub.pending = nil
		_, reentrant := sub.calling[goid()]
		b.mu.Unlock()

		if !reentrant {
			sub.inflight.Wait()
		}
	}
}

// Close detaches from the transport and cancels all pending delivery
// timers. The transport itself stays open, its owner closes it.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	cancelRecv := b.cancelRecv
	for sub := range b.subs {
		sub.closed = true
		for _, t := range sub.timers {
			t.Stop()
		}
	}
	b.subs = make(map[*subscription]struct{})
	b.mu.Unlock()

	if cancelRecv != nil {
		cancelRecv()
	}
}

func (b *Bus) receive(msg []byte) {
	p, m, ok := decode(msg)
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || m.SourceID == b.sourceID {
		return
	}

	now := b.clock.Now()
	for id, seen := range b.seenAt {
		if now.Sub(seen) > dedupTTL {
			delete(b.seenAt, id)
		}
	}
	if _, dup := b.seenAt[m.ID]; dup {
		return
	}
	b.seenAt[m.ID] = now

	for sub := range b.subs {
		if t, ok := sub.timers[p.ArticleID]; ok {
			t.Stop()
		}
		sub.pending[p.ArticleID] = delivery{payload: p, meta: m}

		s, aid := sub, p.ArticleID
		sub.timers[aid] = b.clock.AfterFunc(debounceWindow, func() {
			s.fire(aid)
		})
	}
}

func (s *subscription) fire(articleID int) {
	b := s.bus
	b.mu.Lock()
	if s.closed {
		b.mu.Unlock()
		return
	}
	d, ok := s.pending[articleID]
	delete(s.pending, articleID)
	delete(s.timers, articleID)
	if !ok {
		b.mu.Unlock()
		return
	}
	id := goid()
	s.inflight.Add(1)
	s.calling[id] = struct{}{}
	b.mu.Unlock()

	s.handler(d.payload, d.meta)

	b.mu.Lock()
	delete(s.calling, id)
	b.mu.Unlock()
	s.inflight.Done()
}

// goid parses the current goroutine id out of the stack header. Only
// used to recognize a handler cancelling its own subscription.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// decode validates the wire shape strictly; anything malformed is
// dropped without error.
func decode(msg []byte) (Payload, Meta, bool) {
	var raw map[string]any
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Payload{}, Meta{}, false
	}
	if s, ok := raw["type"].(string); !ok || s != eventType {
		return Payload{}, Meta{}, false
	}
	id, ok := raw["id"].(string)
	if !ok {
		return Payload{}, Meta{}, false
	}
	src, ok := raw["sourceId"].(string)
	if !ok {
		return Payload{}, Meta{}, false
	}
	ts, ok := raw["ts"].(float64)
	if !ok {
		return Payload{}, Meta{}, false
	}
	pl, ok := raw["payload"].(map[string]any)
	if !ok {
		return Payload{}, Meta{}, false
	}
	aid, ok := pl["articleId"].(float64)
	if !ok {
		return Payload{}, Meta{}, false
	}
	action, ok := pl["action"].(string)
	if !ok || (action != string(ActionCreated) && action != string(ActionUpdated)) {
		return Payload{}, Meta{}, false
	}

	p := Payload{ArticleID: int(aid), Action: Action(action)}
	for key, dst := range map[string]*string{
		"updatedAt": &p.UpdatedAt,
		"slug":      &p.Slug,
		"oldSlug":   &p.OldSlug,
		"newSlug":   &p.NewSlug,
		"title":     &p.Title,
	} {
		v, present := pl[key]
		if !present {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return Payload{}, Meta{}, false
		}
		*dst = s
	}

	return p, Meta{ID: id, TS: int64(ts), SourceID: src}, true
}
