package content

import (
	"encoding/json"
	"errors"
	"sync"

	"go.etcd.io/bbolt"
)

const (
	// bucketName is the name of the bbolt bucket used for cached content.
	bucketName = "content"
)

// bboltEntry is the persisted form of a URI state.
type bboltEntry struct {
	Body   string `json:"body,omitempty"`
	Absent bool   `json:"absent,omitempty"`
}

// BboltHandler is a content handler backed by bbolt (embedded key-value
// store). Entries survive across runs, so a negative marker recorded in one
// run suppresses network requests in the next.
type BboltHandler struct {
	db     *bbolt.DB
	mu     sync.RWMutex
	closed bool
}

var _ Handler = (*BboltHandler)(nil)

// NewBboltHandler creates a new BboltHandler.
func NewBboltHandler(db *bbolt.DB) (*BboltHandler, error) {
	// Create bucket if it doesn't exist
	err := db.Update(func(tx *bbolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists([]byte(bucketName))
		return createErr
	})
	if err != nil {
		return nil, err
	}

	return &BboltHandler{
		db: db,
	}, nil
}

// GetContent retrieves the cached payload for a URI.
// Returns ErrMiss if the URI has never been observed, ErrAbsent if it
// carries a negative entry.
func (h *BboltHandler) GetContent(uri string) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return "", ErrClosed
	}

	var body string
	err := h.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return errors.New("bucket not found")
		}
		data := b.Get([]byte(uri))
		if data == nil {
			return ErrMiss
		}

		var entry bboltEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			// Backward compatibility: treat as plain payload
			body = string(data)
			return nil //nolint:nilerr // Intentional: backward compatibility with raw entries
		}

		if entry.Absent {
			return ErrAbsent
		}

		body = entry.Body
		return nil
	})
	if err != nil {
		return "", err
	}
	return body, nil
}

// SaveContent stores a payload for a URI.
func (h *BboltHandler) SaveContent(uri string, body string) error {
	return h.put(uri, bboltEntry{Body: body})
}

// SaveAbsent stores a negative entry for a URI.
func (h *BboltHandler) SaveAbsent(uri string) error {
	return h.put(uri, bboltEntry{Absent: true})
}

func (h *BboltHandler) put(uri string, entry bboltEntry) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrClosed
	}

	return h.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return errors.New("bucket not found")
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}

		return b.Put([]byte(uri), data)
	})
}

// Close closes the handler and the underlying database.
// This method is idempotent - calling Close multiple times is safe.
func (h *BboltHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil // Already closed, idempotent
	}

	h.closed = true
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}
