// Package importer binds mapped records to the backend: one processor per
// entity plus the Service that runs feeds and vendor searches through the
// batch runner.
package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/pawfectfind/pawfect-importer/models"
	"github.com/pawfectfind/pawfect-importer/pipeline"
	"github.com/pawfectfind/pawfect-importer/store"
)

// ErrUnsupportedEntity is returned for an entity with no processor or feed mapper.
var ErrUnsupportedEntity = errors.New("importer: unsupported entity")

// ProcessorFor returns the processor that persists entity through h.
func ProcessorFor(entity models.Entity, h *store.Handle) (pipeline.Processor, error) {
	switch entity {
	case models.EntityProduct:
		return ProductProcessor{Store: h}, nil
	case models.EntityBreed:
		return BreedProcessor{Store: h}, nil
	case models.EntityVideo:
		return VideoProcessor{Store: h}, nil
	case models.EntityArticle:
		return ArticleProcessor{Store: h}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEntity, entity)
	}
}

// ProductProcessor looks products up by (source, external id).
type ProductProcessor struct {
	Store *store.Handle
}

func (p ProductProcessor) Lookup(ctx context.Context, rec models.MappedRecord) (string, bool, error) {
	if rec.Product == nil {
		return "", false, errors.New("record carries no product")
	}
	existing, err := p.Store.Standard().FindProduct(ctx, rec.Product.Source, rec.Product.ExternalID)
	return found(existing, err, func(e *models.Product) string { return e.ID })
}

func (p ProductProcessor) Persist(ctx context.Context, rec models.MappedRecord, existingID string) (models.Action, error) {
	w, err := p.Store.Privileged()
	if err != nil {
		return models.ActionNone, err
	}
	product := *rec.Product
	product.ID = existingID
	return w.UpsertProduct(ctx, &product)
}

// BreedProcessor looks breeds up by name.
type BreedProcessor struct {
	Store *store.Handle
}

func (p BreedProcessor) Lookup(ctx context.Context, rec models.MappedRecord) (string, bool, error) {
	if rec.Breed == nil {
		return "", false, errors.New("record carries no breed")
	}
	existing, err := p.Store.Standard().FindBreed(ctx, rec.Breed.Name)
	return found(existing, err, func(e *models.Breed) string { return e.ID })
}

func (p BreedProcessor) Persist(ctx context.Context, rec models.MappedRecord, existingID string) (models.Action, error) {
	w, err := p.Store.Privileged()
	if err != nil {
		return models.ActionNone, err
	}
	breed := *rec.Breed
	breed.ID = existingID
	return w.UpsertBreed(ctx, &breed)
}

// VideoProcessor looks videos up by YouTube id.
type VideoProcessor struct {
	Store *store.Handle
}

func (p VideoProcessor) Lookup(ctx context.Context, rec models.MappedRecord) (string, bool, error) {
	if rec.Video == nil {
		return "", false, errors.New("record carries no video")
	}
	existing, err := p.Store.Standard().FindVideo(ctx, rec.Video.YouTubeID)
	return found(existing, err, func(e *models.Video) string { return e.ID })
}

func (p VideoProcessor) Persist(ctx context.Context, rec models.MappedRecord, existingID string) (models.Action, error) {
	w, err := p.Store.Privileged()
	if err != nil {
		return models.ActionNone, err
	}
	video := *rec.Video
	video.ID = existingID
	return w.UpsertVideo(ctx, &video)
}

// ArticleProcessor looks articles up by slug.
type ArticleProcessor struct {
	Store *store.Handle
}

func (p ArticleProcessor) Lookup(ctx context.Context, rec models.MappedRecord) (string, bool, error) {
	if rec.Article == nil {
		return "", false, errors.New("record carries no article")
	}
	existing, err := p.Store.Standard().FindArticle(ctx, rec.Article.Slug)
	return found(existing, err, func(e *models.Article) string { return e.ID })
}

func (p ArticleProcessor) Persist(ctx context.Context, rec models.MappedRecord, existingID string) (models.Action, error) {
	w, err := p.Store.Privileged()
	if err != nil {
		return models.ActionNone, err
	}
	article := *rec.Article
	article.ID = existingID
	return w.UpsertArticle(ctx, &article)
}

func found[T any](existing *T, err error, id func(*T) string) (string, bool, error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "", false, nil
	case err != nil:
		return "", false, err
	default:
		return id(existing), true, nil
	}
}
