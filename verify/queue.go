package verify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pawfectfind/pawfect-importer/models"
	"github.com/pawfectfind/pawfect-importer/store"
)

var (
	// ErrNotPending is returned for a product with no pending result.
	ErrNotPending = errors.New("verify: no pending result for product")
	// ErrNoNewPrice is returned when applying a result that carries no price change.
	ErrNoNewPrice = errors.New("verify: result has no new price")
)

// Queue holds sweep results awaiting an operator decision. Each entry is
// cleared only after its store write succeeds.
type Queue struct {
	store *store.Handle

	mu      sync.Mutex
	pending map[string]models.VerificationResult
}

// NewQueue builds an empty queue writing through h.
func NewQueue(h *store.Handle) *Queue {
	return &Queue{store: h, pending: make(map[string]models.VerificationResult)}
}

// Add queues results, replacing older results for the same product.
func (q *Queue) Add(results ...models.VerificationResult) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range results {
		q.pending[r.ProductID] = r
	}
}

// Pending lists queued results, oldest check first.
func (q *Queue) Pending() []models.VerificationResult {
	q.mu.Lock()
	out := make([]models.VerificationResult, 0, len(q.pending))
	for _, r := range q.pending {
		out = append(out, r)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CheckedAt.Equal(out[j].CheckedAt) {
			return out[i].CheckedAt.Before(out[j].CheckedAt)
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}

// Get returns the pending result for productID.
func (q *Queue) Get(productID string) (models.VerificationResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.pending[productID]
	return r, ok
}

// ApplyPrice stores the fetched price of a price-change result.
func (q *Queue) ApplyPrice(ctx context.Context, productID string) error {
	r, ok := q.Get(productID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPending, productID)
	}
	if !r.PriceChanged || r.NewPrice == nil {
		return fmt.Errorf("%w: %s", ErrNoNewPrice, productID)
	}
	w, err := q.store.Privileged()
	if err != nil {
		return err
	}
	if err := w.UpdateProductPrice(ctx, productID, *r.NewPrice); err != nil {
		return fmt.Errorf("apply price: %w", err)
	}
	q.clear(productID)
	return nil
}

// Remove deletes the product from the catalog. A product that is already gone
// counts as removed.
func (q *Queue) Remove(ctx context.Context, productID string) error {
	if _, ok := q.Get(productID); !ok {
		return fmt.Errorf("%w: %s", ErrNotPending, productID)
	}
	w, err := q.store.Privileged()
	if err != nil {
		return err
	}
	if err := w.DeleteProduct(ctx, productID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("remove product: %w", err)
	}
	q.clear(productID)
	return nil
}

// Dismiss drops the result without touching the catalog.
func (q *Queue) Dismiss(productID string) error {
	if _, ok := q.Get(productID); !ok {
		return fmt.Errorf("%w: %s", ErrNotPending, productID)
	}
	q.clear(productID)
	return nil
}

func (q *Queue) clear(productID string) {
	q.mu.Lock()
	delete(q.pending, productID)
	q.mu.Unlock()
}
