package content

import (
	"errors"
	"fmt"
)

// TieredHandler layers an in-memory handler in front of a persistent one.
// Reads consult memory first and populate it from the persistent tier on a
// hit; writes go to both tiers. Negative entries propagate like payloads, so
// a 404 recorded in a previous run short-circuits without touching disk
// twice.
type TieredHandler struct {
	memory     *MemoryHandler
	persistent Handler
}

var _ Handler = (*TieredHandler)(nil)

// NewTieredHandler creates a TieredHandler in front of the given persistent
// handler.
func NewTieredHandler(persistent Handler) *TieredHandler {
	return &TieredHandler{
		memory:     NewMemoryHandler(),
		persistent: persistent,
	}
}

// GetContent retrieves the cached payload for a URI, consulting the memory
// tier first.
func (h *TieredHandler) GetContent(uri string) (string, error) {
	body, err := h.memory.GetContent(uri)
	switch {
	case err == nil:
		return body, nil
	case errors.Is(err, ErrAbsent):
		return "", err
	case !errors.Is(err, ErrMiss):
		return "", err
	}

	body, err = h.persistent.GetContent(uri)
	if err != nil {
		if errors.Is(err, ErrAbsent) {
			// Promote the negative entry so the next read stays in memory.
			if saveErr := h.memory.SaveAbsent(uri); saveErr != nil {
				return "", saveErr
			}
		}
		return "", err
	}

	if saveErr := h.memory.SaveContent(uri, body); saveErr != nil {
		return "", saveErr
	}
	return body, nil
}

// SaveContent stores a payload in both tiers.
func (h *TieredHandler) SaveContent(uri string, body string) error {
	if err := h.persistent.SaveContent(uri, body); err != nil {
		return fmt.Errorf("persistent tier: %w", err)
	}
	return h.memory.SaveContent(uri, body)
}

// SaveAbsent stores a negative entry in both tiers.
func (h *TieredHandler) SaveAbsent(uri string) error {
	if err := h.persistent.SaveAbsent(uri); err != nil {
		return fmt.Errorf("persistent tier: %w", err)
	}
	return h.memory.SaveAbsent(uri)
}

// Close closes both tiers. The persistent tier's error wins.
func (h *TieredHandler) Close() error {
	memErr := h.memory.Close()
	if err := h.persistent.Close(); err != nil {
		return err
	}
	return memErr
}
