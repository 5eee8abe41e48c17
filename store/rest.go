package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pawfectfind/pawfect-importer/config"
	"github.com/pawfectfind/pawfect-importer/models"
)

// RESTError is a non-2xx answer from the REST backend.
type RESTError struct {
	Status  int
	Code    string
	Message string
}

func (e *RESTError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend: http %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend: http %d: %s", e.Status, e.Message)
}

// Unwrap maps auth failures to ErrNoPrivilege.
func (e *RESTError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return ErrNoPrivilege
	}
	return nil
}

// RESTStore implements Reader and Writer against a Supabase PostgREST endpoint.
// The key decides the capability: anon for reads, service role for writes.
type RESTStore struct {
	baseURL string
	key     string
	client  *http.Client
}

// NewRESTStore builds a store for baseURL authenticated with key.
func NewRESTStore(baseURL, key string, client *http.Client) *RESTStore {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RESTStore{
		baseURL: strings.TrimRight(baseURL, "/") + "/rest/v1",
		key:     key,
		client:  client,
	}
}

// NewRESTHandle builds the capability handle from the configured keys. Without a
// service role key the handle is read-only.
func NewRESTHandle(cfg *config.Config, client *http.Client) *Handle {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	standard := NewRESTStore(cfg.SupabaseURL, cfg.SupabaseAnonKey, client)
	if cfg.SupabaseKey == "" {
		return NewHandle(standard, nil)
	}
	return NewHandle(standard, NewRESTStore(cfg.SupabaseURL, cfg.SupabaseKey, client))
}

type restBreed struct {
	models.Breed
	Traits []models.Characteristic `json:"breed_characteristics"`
}

// FindProduct looks a product up by its natural key.
func (s *RESTStore) FindProduct(ctx context.Context, source models.Source, externalID string) (*models.Product, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("source", "eq."+string(source))
	q.Set("external_id", "eq."+externalID)
	var rows []models.Product
	if err := s.do(ctx, http.MethodGet, "/products", q, nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// GetProduct loads a product by id.
func (s *RESTStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", "eq."+id)
	var rows []models.Product
	if err := s.do(ctx, http.MethodGet, "/products", q, nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// ListProducts returns the products of one source, oldest first.
func (s *RESTStore) ListProducts(ctx context.Context, source models.Source) ([]models.Product, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "created_at.asc,id.asc")
	if source != "" {
		q.Set("source", "eq."+string(source))
	}
	var rows []models.Product
	if err := s.do(ctx, http.MethodGet, "/products", q, nil, "", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FindBreed looks a breed up by name with its characteristics embedded.
func (s *RESTStore) FindBreed(ctx context.Context, name string) (*models.Breed, error) {
	q := url.Values{}
	q.Set("select", "*,breed_characteristics(name,value)")
	q.Set("name", "eq."+name)
	var rows []restBreed
	if err := s.do(ctx, http.MethodGet, "/breeds", q, nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	b := rows[0].Breed
	b.Characteristics = rows[0].Traits
	return &b, nil
}

// FindVideo looks a video up by its YouTube id.
func (s *RESTStore) FindVideo(ctx context.Context, youtubeID string) (*models.Video, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("youtube_id", "eq."+youtubeID)
	var rows []models.Video
	if err := s.do(ctx, http.MethodGet, "/videos", q, nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// FindArticle looks an article up by slug.
func (s *RESTStore) FindArticle(ctx context.Context, slug string) (*models.Article, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("slug", "eq."+slug)
	var rows []models.Article
	if err := s.do(ctx, http.MethodGet, "/articles", q, nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// UpsertProduct merges the product on (source, external_id), then replaces its
// breed recommendations through the replace_product_breeds function.
func (s *RESTStore) UpsertProduct(ctx context.Context, p *models.Product) (models.Action, error) {
	existing, err := s.FindProduct(ctx, p.Source, p.ExternalID)
	var id string
	var created time.Time
	if existing != nil {
		id, created = existing.ID, existing.CreatedAt
	}
	action, err := stamp(err, id, &p.ID, &p.CreatedAt, &p.UpdatedAt, created)
	if err != nil {
		return models.ActionNone, err
	}

	var rows []models.Product
	if err := s.upsert(ctx, "/products", "source,external_id", []*models.Product{p}, &rows); err != nil {
		return models.ActionNone, fmt.Errorf("upsert product %s/%s: %w", p.Source, p.ExternalID, err)
	}
	if len(rows) > 0 {
		p.ID = rows[0].ID
	}

	breeds := dedupe(p.RecommendedBreeds)
	if err := s.rpc(ctx, "replace_product_breeds", map[string]any{"p_product_id": p.ID, "p_breeds": breeds}); err != nil {
		return models.ActionNone, fmt.Errorf("replace product breeds: %w", err)
	}
	return action, nil
}

// UpsertBreed merges the breed on name, then replaces its characteristics.
func (s *RESTStore) UpsertBreed(ctx context.Context, b *models.Breed) (models.Action, error) {
	existing, err := s.FindBreed(ctx, b.Name)
	var id string
	var created time.Time
	if existing != nil {
		id, created = existing.ID, existing.CreatedAt
	}
	action, err := stamp(err, id, &b.ID, &b.CreatedAt, &b.UpdatedAt, created)
	if err != nil {
		return models.ActionNone, err
	}

	var rows []models.Breed
	if err := s.upsert(ctx, "/breeds", "name", []*models.Breed{b}, &rows); err != nil {
		return models.ActionNone, fmt.Errorf("upsert breed %q: %w", b.Name, err)
	}
	if len(rows) > 0 {
		b.ID = rows[0].ID
	}

	traits := b.Characteristics
	if traits == nil {
		traits = []models.Characteristic{}
	}
	if err := s.rpc(ctx, "replace_breed_characteristics", map[string]any{"p_breed_id": b.ID, "p_characteristics": traits}); err != nil {
		return models.ActionNone, fmt.Errorf("replace breed characteristics: %w", err)
	}
	return action, nil
}

// UpsertVideo merges the video on youtube_id.
func (s *RESTStore) UpsertVideo(ctx context.Context, v *models.Video) (models.Action, error) {
	existing, err := s.FindVideo(ctx, v.YouTubeID)
	var id string
	var created time.Time
	if existing != nil {
		id, created = existing.ID, existing.CreatedAt
	}
	action, err := stamp(err, id, &v.ID, &v.CreatedAt, &v.UpdatedAt, created)
	if err != nil {
		return models.ActionNone, err
	}

	var rows []models.Video
	if err := s.upsert(ctx, "/videos", "youtube_id", []*models.Video{v}, &rows); err != nil {
		return models.ActionNone, fmt.Errorf("upsert video %s: %w", v.YouTubeID, err)
	}
	if len(rows) > 0 {
		v.ID = rows[0].ID
	}
	return action, nil
}

// UpsertArticle merges the article on slug.
func (s *RESTStore) UpsertArticle(ctx context.Context, a *models.Article) (models.Action, error) {
	existing, err := s.FindArticle(ctx, a.Slug)
	var id string
	var created time.Time
	if existing != nil {
		id, created = existing.ID, existing.CreatedAt
	}
	action, err := stamp(err, id, &a.ID, &a.CreatedAt, &a.UpdatedAt, created)
	if err != nil {
		return models.ActionNone, err
	}

	var rows []models.Article
	if err := s.upsert(ctx, "/articles", "slug", []*models.Article{a}, &rows); err != nil {
		return models.ActionNone, fmt.Errorf("upsert article %s: %w", a.Slug, err)
	}
	if len(rows) > 0 {
		a.ID = rows[0].ID
	}
	return action, nil
}

// UpdateProductPrice sets the stored price.
func (s *RESTStore) UpdateProductPrice(ctx context.Context, id string, price float64) error {
	return s.patchProduct(ctx, id, map[string]any{"price": price, "updated_at": time.Now().UTC()})
}

// UpdateProductLink sets the stored affiliate link.
func (s *RESTStore) UpdateProductLink(ctx context.Context, id, link string) error {
	return s.patchProduct(ctx, id, map[string]any{"affiliate_link": link, "updated_at": time.Now().UTC()})
}

// DeleteProduct removes a product; breed recommendations cascade.
func (s *RESTStore) DeleteProduct(ctx context.Context, id string) error {
	q := url.Values{}
	q.Set("id", "eq."+id)
	var rows []models.Product
	if err := s.do(ctx, http.MethodDelete, "/products", q, nil, "return=representation", &rows); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *RESTStore) patchProduct(ctx context.Context, id string, fields map[string]any) error {
	q := url.Values{}
	q.Set("id", "eq."+id)
	var rows []models.Product
	if err := s.do(ctx, http.MethodPatch, "/products", q, fields, "return=representation", &rows); err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *RESTStore) upsert(ctx context.Context, table, conflictCols string, body, out any) error {
	q := url.Values{}
	q.Set("on_conflict", conflictCols)
	return s.do(ctx, http.MethodPost, table, q, body, "resolution=merge-duplicates,return=representation", out)
}

func (s *RESTStore) rpc(ctx context.Context, fn string, args map[string]any) error {
	return s.do(ctx, http.MethodPost, "/rpc/"+fn, nil, args, "", nil)
}

func (s *RESTStore) do(ctx context.Context, method, path string, query url.Values, body any, prefer string, out any) error {
	endpoint := s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &RESTError{Status: resp.StatusCode}
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
			apiErr.Code, apiErr.Message = payload.Code, payload.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// stamp resolves id, timestamps and the action from a natural-key lookup.
func stamp(lookupErr error, existing string, id *string, created, updated *time.Time, existingCreated time.Time) (models.Action, error) {
	now := time.Now().UTC()
	*updated = now
	switch {
	case errors.Is(lookupErr, ErrNotFound):
		if *id == "" {
			*id = uuid.NewString()
		}
		*created = now
		return models.ActionCreated, nil
	case lookupErr != nil:
		return models.ActionNone, fmt.Errorf("check existing row: %w", lookupErr)
	default:
		*id = existing
		*created = existingCreated
		if created.IsZero() {
			*created = now
		}
		return models.ActionUpdated, nil
	}
}
