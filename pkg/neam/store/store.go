package store

import (
	"context"
	"time"
)

// Store persists classification runs and cached annotations
type Store interface {
	Close() error

	// Runs
	SaveRun(ctx context.Context, r Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Annotation cache, keyed by annotate.CacheKey
	GetAnnotation(ctx context.Context, key string) ([]byte, bool, error)
	PutAnnotation(ctx context.Context, key string, payload []byte) error
}

// Run modes
const (
	ModeSpan = "span"
	ModeRun  = "run"
)

// Run records one classification of one document
type Run struct {
	ID        string    `json:"id"`
	Mode      string    `json:"mode"` // span or run
	Document  string    `json:"document"`
	Source    string    `json:"source"`
	Output    string    `json:"output"`
	Entities  []Entity  `json:"entities,omitempty"`
	Dropped   int       `json:"dropped"`
	CreatedAt time.Time `json:"created_at"`
}

// Entity is one placed mention. Offset is the byte offset in the input
// text; run mode leaves it at -1.
type Entity struct {
	Label  string `json:"label"`
	Tag    string `json:"tag"`
	Text   string `json:"text"`
	Offset int    `json:"offset"`
}

// DefaultListLimit caps ListRuns when no positive limit is given
const DefaultListLimit = 20
