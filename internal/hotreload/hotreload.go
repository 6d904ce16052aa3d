// Package hotreload gives dev mode its feedback loop: a process start
// stamp served through the reload probe, a websocket channel that pushes
// reload events, and an fsnotify watcher that fires on bundle changes.
package hotreload

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Hub tracks connected browsers and the process start stamp the reload
// poller compares against.
type Hub struct {
	startedMs int64

	mu      sync.Mutex
	clients map[chan<- []byte]struct{}

	watcher *fsnotify.Watcher
	closed  chan struct{}
}

// NewHub stamps the hub with the current process start time.
func NewHub() *Hub {
	return &Hub{
		startedMs: time.Now().UnixMilli(),
		clients:   make(map[chan<- []byte]struct{}),
		closed:    make(chan struct{}),
	}
}

// ProbePayload is the JSON body served at the reload probe path.
func (h *Hub) ProbePayload() []byte {
	payload, _ := json.Marshal(map[string]int64{"process_started_ms": h.startedMs})
	return payload
}

// Attach registers a websocket client. The hub stops sending when done
// closes.
func (h *Hub) Attach(send chan<- []byte, done <-chan struct{}) {
	h.mu.Lock()
	h.clients[send] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-done:
		case <-h.closed:
		}
		h.mu.Lock()
		delete(h.clients, send)
		h.mu.Unlock()
	}()
}

// Broadcast tells every connected browser to reload.
func (h *Hub) Broadcast() {
	message, _ := json.Marshal(map[string]any{
		"event":              "reload",
		"process_started_ms": h.startedMs,
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client <- message:
		default:
			// Slow client; it will catch up via the probe poller.
		}
	}
}

// Watch follows the given files and invokes onChange (debounced) when any
// of them is written, created, renamed or removed. Editors replace files
// rather than write in place, so the parent directories are watched and
// events are filtered by name.
func (h *Hub) Watch(paths []string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	h.watcher = watcher

	watched := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		watched[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return err
		}
	}

	go func() {
		var debounce *time.Timer
		for {
			select {
			case <-h.closed:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				abs, err := filepath.Abs(event.Name)
				if err != nil || !watched[abs] {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, onChange)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Close stops the watcher and detaches every client.
func (h *Hub) Close() {
	select {
	case <-h.closed:
		return
	default:
	}
	close(h.closed)
	if h.watcher != nil {
		h.watcher.Close()
	}
}
