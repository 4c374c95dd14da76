package runs

import (
	"sync"

	"github.com/eatplanted/venuescout/internal/model"
)

// Hub fans run updates out to stream subscribers. Slow subscribers drop
// intermediate updates rather than blocking the pipeline; the stream is a
// progress view, not a durable log.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan *model.ScraperRun]struct{} // run id -> subscriber set
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan *model.ScraperRun]struct{})}
}

// Subscribe registers for updates on one run. The returned cancel function
// must be called when the subscriber disconnects.
func (h *Hub) Subscribe(runID string) (<-chan *model.ScraperRun, func()) {
	ch := make(chan *model.ScraperRun, 16)

	h.mu.Lock()
	set, ok := h.subs[runID]
	if !ok {
		set = make(map[chan *model.ScraperRun]struct{})
		h.subs[runID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[runID]; ok {
			if _, present := set[ch]; present {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, runID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers a run snapshot to its subscribers without blocking.
func (h *Hub) Publish(run *model.ScraperRun) {
	if run == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[run.ID] {
		select {
		case ch <- run:
		default:
		}
	}
}

// CloseRun closes all subscriber channels for a finished run.
func (h *Hub) CloseRun(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[runID] {
		close(ch)
	}
	delete(h.subs, runID)
}
