// Package relationships loads the navigations named by an include tree in
// batched queries: one fetch per relation and level, never one per row.
package relationships

import (
	"context"
	"sync"

	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

// Fetcher retrieves the entities of class whose column property holds one
// of keys. Results are pointers to class.Type; the fetcher decides their
// identity (stores return tracked instances).
type Fetcher interface {
	FetchByColumn(ctx context.Context, class *schema.Class, column *schema.Property, keys []any) ([]any, error)
}

// FetcherFunc adapts a function to a Fetcher
type FetcherFunc func(ctx context.Context, class *schema.Class, column *schema.Property, keys []any) ([]any, error)

// FetchByColumn calls f
func (f FetcherFunc) FetchByColumn(ctx context.Context, class *schema.Class, column *schema.Property, keys []any) ([]any, error) {
	return f(ctx, class, column, keys)
}

const (
	// DefaultBatchSize bounds the number of keys in one IN list
	DefaultBatchSize = 500
	// DefaultMaxDepth bounds include nesting
	DefaultMaxDepth = 10
)

// Loader handles efficient relationship loading with N+1 prevention
type Loader struct {
	fetch     Fetcher
	batchSize int
	maxDepth  int
}

// Option configures a Loader
type Option func(*Loader)

// WithBatchSize sets the maximum keys per fetch
func WithBatchSize(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithMaxDepth sets the maximum include depth
func WithMaxDepth(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxDepth = n
		}
	}
}

// NewLoader creates a new relationship loader
func NewLoader(f Fetcher, opts ...Option) *Loader {
	l := &Loader{
		fetch:     f,
		batchSize: DefaultBatchSize,
		maxDepth:  DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadContext tracks the current depth of one Load call
type LoadContext struct {
	depth    int
	maxDepth int
	mu       sync.Mutex
}

// NewLoadContext creates a new load context with the given max depth
func NewLoadContext(maxDepth int) *LoadContext {
	return &LoadContext{maxDepth: maxDepth}
}

// IncrementDepth increments the depth counter
func (lc *LoadContext) IncrementDepth() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.depth >= lc.maxDepth {
		return ErrMaxDepthExceeded
	}
	lc.depth++
	return nil
}

// DecrementDepth decrements the depth counter
func (lc *LoadContext) DecrementDepth() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.depth--
}

// Depth returns the current depth
func (lc *LoadContext) Depth() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.depth
}
