package bus

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Transport carries encoded events between processes. The bus treats
// it as best-effort: send errors are swallowed, delivery may duplicate
// (the dedup layer absorbs replays) and a slow consumer may miss
// intermediate events on last-write-only transports.
type Transport interface {
	Send(msg []byte) error
	Subscribe(fn func(msg []byte)) (cancel func())
	Close() error
}

// DefaultTransport probes for the file relay and falls back to the
// in-process transport when the watcher cannot be created. Callers
// never see the probe fail.
func DefaultTransport(relayPath string) Transport {
	if relayPath != "" {
		if ft, err := NewFileTransport(relayPath); err == nil {
			return ft
		}
	}
	return NewMemoryTransport()
}

// MemoryTransport broadcasts to every subscriber in the same process,
// including the sender's own bus; the bus filters its own source id.
type MemoryTransport struct {
	mu   sync.Mutex
	next int
	subs map[int]func([]byte)
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[int]func([]byte))}
}

func (t *MemoryTransport) Send(msg []byte) error {
	t.mu.Lock()
	fns := make([]func([]byte), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
	return nil
}

func (t *MemoryTransport) Subscribe(fn func(msg []byte)) (cancel func()) {
	t.mu.Lock()
	id := t.next
	t.next++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *MemoryTransport) Close() error { return nil }

// FileTransport relays events through a single file: every send
// replaces the file, other processes pick the change up via fsnotify.
// Only the most recent event survives, which is fine for
// change-notifications.
type FileTransport struct {
	path    string
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	next   int
	subs   map[int]func([]byte)
	closed bool
	done   chan struct{}
}

func NewFileTransport(path string) (*FileTransport, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}

	t := &FileTransport{
		path:    path,
		watcher: w,
		subs:    make(map[int]func([]byte)),
		done:    make(chan struct{}),
	}
	go t.watchLoop()
	return t, nil
}

func (t *FileTransport) Send(msg []byte) error {
	// write-then-rename so a reader never sees a torn event
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, msg, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, t.path)
}

func (t *FileTransport) Subscribe(fn func(msg []byte)) (cancel func()) {
	t.mu.Lock()
	id := t.next
	t.next++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *FileTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.watcher.Close()
	<-t.done
	return err
}

func (t *FileTransport) watchLoop() {
	defer close(t.done)
	for {
		select {
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != t.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			t.dispatch()
		case _, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			// best-effort relay, watcher errors are not fatal
		}
	}
}

func (t *FileTransport) dispatch() {
	msg, err := os.ReadFile(t.path)
	if err != nil || len(msg) == 0 {
		return
	}

	t.mu.Lock()
	fns := make([]func([]byte), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}
