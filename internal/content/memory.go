package content

import "sync"

// memoryEntry represents a cached URI state: either a payload or a
// negative marker.
type memoryEntry struct {
	body   string
	absent bool
}

// MemoryHandler is a content handler backed by an in-memory map.
type MemoryHandler struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	closed  bool
}

var _ Handler = (*MemoryHandler)(nil)

// NewMemoryHandler creates a new MemoryHandler.
func NewMemoryHandler() *MemoryHandler {
	return &MemoryHandler{
		entries: make(map[string]memoryEntry),
	}
}

// GetContent retrieves the cached payload for a URI.
// Returns ErrMiss if the URI has never been observed, ErrAbsent if it
// carries a negative entry.
func (h *MemoryHandler) GetContent(uri string) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return "", ErrClosed
	}

	entry, ok := h.entries[uri]
	if !ok {
		return "", ErrMiss
	}
	if entry.absent {
		return "", ErrAbsent
	}
	return entry.body, nil
}

// SaveContent stores a payload for a URI.
func (h *MemoryHandler) SaveContent(uri string, body string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}

	h.entries[uri] = memoryEntry{body: body}
	return nil
}

// SaveAbsent stores a negative entry for a URI.
func (h *MemoryHandler) SaveAbsent(uri string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}

	h.entries[uri] = memoryEntry{absent: true}
	return nil
}

// Close closes the handler and releases resources.
// This method is idempotent - calling Close multiple times is safe.
func (h *MemoryHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil // Already closed, idempotent
	}

	h.closed = true
	h.entries = nil
	return nil
}
