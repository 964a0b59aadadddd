package store

import (
	"time"

	"github.com/emberapp/ember/internal/model"
)

// OutboxRecord is a persisted offline-queue entry. Frame holds the encoded
// wire event.
type OutboxRecord struct {
	Seq        uint64
	Kind       string
	Frame      []byte
	EnqueuedAt time.Time
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message model.Message
	Snippet string
}
