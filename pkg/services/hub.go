package services

import (
	"log/slog"
	"sync"

	"github.com/dukex/flowpages/pkg/models"
)

const listenerBuffer = 64

// Hub fans run updates out to the stream listeners of this relay instance.
type Hub struct {
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[string]map[*Listener]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		logger:    logger.With("module", "hub"),
		listeners: make(map[string]map[*Listener]struct{}),
	}
}

// Listener receives the updates of one run until closed. C is closed when
// the listener is closed or falls too far behind.
type Listener struct {
	C <-chan models.UpdateEvent

	ch    chan models.UpdateEvent
	hub   *Hub
	runID string
	once  sync.Once
}

// Close detaches the listener. It is safe to call more than once.
func (l *Listener) Close() {
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()

	l.hub.detach(l)
}

// Watch registers a listener for runID.
func (h *Hub) Watch(runID string) *Listener {
	ch := make(chan models.UpdateEvent, listenerBuffer)
	listener := &Listener{C: ch, ch: ch, hub: h, runID: runID}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listeners[runID] == nil {
		h.listeners[runID] = make(map[*Listener]struct{})
	}

	h.listeners[runID][listener] = struct{}{}

	return listener
}

// Broadcast delivers event to every listener of its run. A listener whose
// buffer is full is dropped rather than blocking the others.
func (h *Hub) Broadcast(event models.UpdateEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for listener := range h.listeners[event.RunID] {
		select {
		case listener.ch <- event:
		default:
			h.logger.Warn("Dropping slow stream listener", "run_id", event.RunID)
			h.detach(listener)
		}
	}
}

// Listeners returns how many listeners are attached to runID.
func (h *Hub) Listeners(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.listeners[runID])
}

// detach must be called with h.mu held.
func (h *Hub) detach(listener *Listener) {
	listener.once.Do(func() {
		set := h.listeners[listener.runID]
		delete(set, listener)

		if len(set) == 0 {
			delete(h.listeners, listener.runID)
		}

		close(listener.ch)
	})
}
