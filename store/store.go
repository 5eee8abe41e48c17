// Package store is the hosted-backend access layer. Reads go through the
// standard capability, writes through the privileged one.
package store

import (
	"context"
	"errors"

	"github.com/pawfectfind/pawfect-importer/models"
)

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("store: not found")
	// ErrNoPrivilege is returned when a write is attempted without a privileged capability.
	ErrNoPrivilege = errors.New("store: privileged access not configured")
)

// Reader is the standard capability: lookups by id and natural key.
type Reader interface {
	FindProduct(ctx context.Context, source models.Source, externalID string) (*models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, source models.Source) ([]models.Product, error)
	FindBreed(ctx context.Context, name string) (*models.Breed, error)
	FindVideo(ctx context.Context, youtubeID string) (*models.Video, error)
	FindArticle(ctx context.Context, slug string) (*models.Article, error)
}

// Writer is the privileged capability. Upserts are keyed on the natural key,
// replace the full child-row set and report whether the row was created or updated.
type Writer interface {
	UpsertProduct(ctx context.Context, p *models.Product) (models.Action, error)
	UpsertBreed(ctx context.Context, b *models.Breed) (models.Action, error)
	UpsertVideo(ctx context.Context, v *models.Video) (models.Action, error)
	UpsertArticle(ctx context.Context, a *models.Article) (models.Action, error)
	UpdateProductPrice(ctx context.Context, id string, price float64) error
	UpdateProductLink(ctx context.Context, id, link string) error
	DeleteProduct(ctx context.Context, id string) error
}

// Handle carries the two backend capabilities into the components that need them.
type Handle struct {
	standard   Reader
	privileged Writer
}

// NewHandle builds a handle. privileged may be nil for read-only use.
func NewHandle(standard Reader, privileged Writer) *Handle {
	return &Handle{standard: standard, privileged: privileged}
}

// Standard returns the read capability.
func (h *Handle) Standard() Reader {
	return h.standard
}

// Privileged returns the write capability or ErrNoPrivilege.
func (h *Handle) Privileged() (Writer, error) {
	if h.privileged == nil {
		return nil, ErrNoPrivilege
	}
	return h.privileged, nil
}

// dedupe keeps the first occurrence of every non-empty name.
func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
