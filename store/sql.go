package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pawfectfind/pawfect-importer/config"
	"github.com/pawfectfind/pawfect-importer/models"
)

const (
	productColumns = `id, external_id, source, name, description, brand, category, price,
		image_url, affiliate_link, rating, review_count, created_at, updated_at`
	breedColumns   = `id, name, description, size, temperament, life_span, image_url, created_at, updated_at`
	videoColumns   = `id, youtube_id, title, description, channel_title, thumbnail_url, published_at, created_at, updated_at`
	articleColumns = `id, slug, title, excerpt, content, author, category, image_url, published_at, created_at, updated_at`
)

const upsertProductSQL = `
	INSERT INTO products (` + productColumns + `)
	VALUES (:id, :external_id, :source, :name, :description, :brand, :category, :price,
		:image_url, :affiliate_link, :rating, :review_count, :created_at, :updated_at)
	ON CONFLICT (source, external_id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		brand = excluded.brand,
		category = excluded.category,
		price = excluded.price,
		image_url = excluded.image_url,
		affiliate_link = excluded.affiliate_link,
		rating = excluded.rating,
		review_count = excluded.review_count,
		updated_at = excluded.updated_at`

const upsertBreedSQL = `
	INSERT INTO breeds (` + breedColumns + `)
	VALUES (:id, :name, :description, :size, :temperament, :life_span, :image_url, :created_at, :updated_at)
	ON CONFLICT (name) DO UPDATE SET
		description = excluded.description,
		size = excluded.size,
		temperament = excluded.temperament,
		life_span = excluded.life_span,
		image_url = excluded.image_url,
		updated_at = excluded.updated_at`

const upsertVideoSQL = `
	INSERT INTO videos (` + videoColumns + `)
	VALUES (:id, :youtube_id, :title, :description, :channel_title, :thumbnail_url, :published_at, :created_at, :updated_at)
	ON CONFLICT (youtube_id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		channel_title = excluded.channel_title,
		thumbnail_url = excluded.thumbnail_url,
		published_at = excluded.published_at,
		updated_at = excluded.updated_at`

const upsertArticleSQL = `
	INSERT INTO articles (` + articleColumns + `)
	VALUES (:id, :slug, :title, :excerpt, :content, :author, :category, :image_url, :published_at, :created_at, :updated_at)
	ON CONFLICT (slug) DO UPDATE SET
		title = excluded.title,
		excerpt = excluded.excerpt,
		content = excluded.content,
		author = excluded.author,
		category = excluded.category,
		image_url = excluded.image_url,
		published_at = excluded.published_at,
		updated_at = excluded.updated_at`

// SQLStore implements Reader and Writer over Postgres or SQLite.
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQL connects and pings the database.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		// One connection keeps in-memory databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &SQLStore{db: db}, nil
}

// NewSQLStore wraps an open connection.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// OpenSQLHandle opens the standard and, if configured separately, the privileged connection.
func OpenSQLHandle(ctx context.Context, cfg *config.Config) (*Handle, func() error, error) {
	standard, err := OpenSQL(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseAdminURL == "" || cfg.DatabaseAdminURL == cfg.DatabaseURL {
		return NewHandle(standard, standard), standard.Close, nil
	}

	privileged, err := OpenSQL(ctx, cfg.DatabaseDriver, cfg.PrivilegedDatabaseURL())
	if err != nil {
		standard.Close()
		return nil, nil, fmt.Errorf("privileged connection: %w", err)
	}
	closer := func() error {
		return errors.Join(standard.Close(), privileged.Close())
	}
	return NewHandle(standard, privileged), closer, nil
}

// Close closes the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// FindProduct looks a product up by its natural key.
func (s *SQLStore) FindProduct(ctx context.Context, source models.Source, externalID string) (*models.Product, error) {
	var p models.Product
	q := s.db.Rebind(`SELECT ` + productColumns + ` FROM products WHERE source = ? AND external_id = ?`)
	if err := s.db.GetContext(ctx, &p, q, source, externalID); err != nil {
		return nil, notFound(err, "find product")
	}
	return &p, nil
}

// GetProduct loads a product by id.
func (s *SQLStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	q := s.db.Rebind(`SELECT ` + productColumns + ` FROM products WHERE id = ?`)
	if err := s.db.GetContext(ctx, &p, q, id); err != nil {
		return nil, notFound(err, "get product")
	}
	return &p, nil
}

// ListProducts returns the products of one source, oldest first. An empty source lists all.
func (s *SQLStore) ListProducts(ctx context.Context, source models.Source) ([]models.Product, error) {
	var products []models.Product
	var err error
	if source == "" {
		err = s.db.SelectContext(ctx, &products, `SELECT `+productColumns+` FROM products ORDER BY created_at, id`)
	} else {
		q := s.db.Rebind(`SELECT ` + productColumns + ` FROM products WHERE source = ? ORDER BY created_at, id`)
		err = s.db.SelectContext(ctx, &products, q, source)
	}
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// FindBreed looks a breed up by name and loads its characteristics.
func (s *SQLStore) FindBreed(ctx context.Context, name string) (*models.Breed, error) {
	var b models.Breed
	q := s.db.Rebind(`SELECT ` + breedColumns + ` FROM breeds WHERE name = ?`)
	if err := s.db.GetContext(ctx, &b, q, name); err != nil {
		return nil, notFound(err, "find breed")
	}
	q = s.db.Rebind(`SELECT name, value FROM breed_characteristics WHERE breed_id = ? ORDER BY name`)
	if err := s.db.SelectContext(ctx, &b.Characteristics, q, b.ID); err != nil {
		return nil, fmt.Errorf("load breed characteristics: %w", err)
	}
	return &b, nil
}

// FindVideo looks a video up by its YouTube id.
func (s *SQLStore) FindVideo(ctx context.Context, youtubeID string) (*models.Video, error) {
	var v models.Video
	q := s.db.Rebind(`SELECT ` + videoColumns + ` FROM videos WHERE youtube_id = ?`)
	if err := s.db.GetContext(ctx, &v, q, youtubeID); err != nil {
		return nil, notFound(err, "find video")
	}
	return &v, nil
}

// FindArticle looks an article up by slug.
func (s *SQLStore) FindArticle(ctx context.Context, slug string) (*models.Article, error) {
	var a models.Article
	q := s.db.Rebind(`SELECT ` + articleColumns + ` FROM articles WHERE slug = ?`)
	if err := s.db.GetContext(ctx, &a, q, slug); err != nil {
		return nil, notFound(err, "find article")
	}
	return &a, nil
}

// ProductBreeds returns the recommended breed names of a product.
func (s *SQLStore) ProductBreeds(ctx context.Context, productID string) ([]string, error) {
	var names []string
	q := s.db.Rebind(`SELECT breed_name FROM product_breed_recommendations WHERE product_id = ? ORDER BY breed_name`)
	if err := s.db.SelectContext(ctx, &names, q, productID); err != nil {
		return nil, fmt.Errorf("load product breeds: %w", err)
	}
	return names, nil
}

// UpsertProduct writes the product and its breed recommendations in one transaction.
func (s *SQLStore) UpsertProduct(ctx context.Context, p *models.Product) (models.Action, error) {
	var action models.Action
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		lookup := tx.Rebind(`SELECT id FROM products WHERE source = ? AND external_id = ?`)
		var err error
		action, err = prepareUpsert(ctx, tx, lookup, &p.ID, &p.CreatedAt, &p.UpdatedAt, p.Source, p.ExternalID)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, upsertProductSQL, p); err != nil {
			return fmt.Errorf("upsert product %s/%s: %w", p.Source, p.ExternalID, err)
		}
		// A concurrent writer may own the row; children must hang off its id.
		if err := tx.GetContext(ctx, &p.ID, lookup, p.Source, p.ExternalID); err != nil {
			return fmt.Errorf("reload product id: %w", err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM product_breed_recommendations WHERE product_id = ?`), p.ID); err != nil {
			return fmt.Errorf("clear product breeds: %w", err)
		}
		insert := tx.Rebind(`INSERT INTO product_breed_recommendations (product_id, breed_name) VALUES (?, ?)`)
		for _, name := range dedupe(p.RecommendedBreeds) {
			if _, err := tx.ExecContext(ctx, insert, p.ID, name); err != nil {
				return fmt.Errorf("insert product breed %q: %w", name, err)
			}
		}
		return nil
	})
	return action, err
}

// UpsertBreed writes the breed and its characteristics in one transaction.
func (s *SQLStore) UpsertBreed(ctx context.Context, b *models.Breed) (models.Action, error) {
	var action models.Action
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		lookup := tx.Rebind(`SELECT id FROM breeds WHERE name = ?`)
		var err error
		action, err = prepareUpsert(ctx, tx, lookup, &b.ID, &b.CreatedAt, &b.UpdatedAt, b.Name)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, upsertBreedSQL, b); err != nil {
			return fmt.Errorf("upsert breed %q: %w", b.Name, err)
		}
		if err := tx.GetContext(ctx, &b.ID, lookup, b.Name); err != nil {
			return fmt.Errorf("reload breed id: %w", err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM breed_characteristics WHERE breed_id = ?`), b.ID); err != nil {
			return fmt.Errorf("clear breed characteristics: %w", err)
		}
		insert := tx.Rebind(`INSERT INTO breed_characteristics (breed_id, name, value) VALUES (?, ?, ?)`)
		for _, c := range b.Characteristics {
			if _, err := tx.ExecContext(ctx, insert, b.ID, c.Name, c.Value); err != nil {
				return fmt.Errorf("insert characteristic %q: %w", c.Name, err)
			}
		}
		return nil
	})
	return action, err
}

// UpsertVideo writes the video.
func (s *SQLStore) UpsertVideo(ctx context.Context, v *models.Video) (models.Action, error) {
	var action models.Action
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		lookup := tx.Rebind(`SELECT id FROM videos WHERE youtube_id = ?`)
		var err error
		action, err = prepareUpsert(ctx, tx, lookup, &v.ID, &v.CreatedAt, &v.UpdatedAt, v.YouTubeID)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, upsertVideoSQL, v); err != nil {
			return fmt.Errorf("upsert video %s: %w", v.YouTubeID, err)
		}
		return tx.GetContext(ctx, &v.ID, lookup, v.YouTubeID)
	})
	return action, err
}

// UpsertArticle writes the article.
func (s *SQLStore) UpsertArticle(ctx context.Context, a *models.Article) (models.Action, error) {
	var action models.Action
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		lookup := tx.Rebind(`SELECT id FROM articles WHERE slug = ?`)
		var err error
		action, err = prepareUpsert(ctx, tx, lookup, &a.ID, &a.CreatedAt, &a.UpdatedAt, a.Slug)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, upsertArticleSQL, a); err != nil {
			return fmt.Errorf("upsert article %s: %w", a.Slug, err)
		}
		return tx.GetContext(ctx, &a.ID, lookup, a.Slug)
	})
	return action, err
}

// UpdateProductPrice sets the stored price.
func (s *SQLStore) UpdateProductPrice(ctx context.Context, id string, price float64) error {
	return s.updateProduct(ctx, id, "price", price)
}

// UpdateProductLink sets the stored affiliate link.
func (s *SQLStore) UpdateProductLink(ctx context.Context, id, link string) error {
	return s.updateProduct(ctx, id, "affiliate_link", link)
}

// DeleteProduct removes a product and its breed recommendations.
func (s *SQLStore) DeleteProduct(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM product_breed_recommendations WHERE product_id = ?`), id); err != nil {
			return fmt.Errorf("delete product breeds: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM products WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		return affected(res, id)
	})
}

func (s *SQLStore) updateProduct(ctx context.Context, id, column string, value any) error {
	q := s.db.Rebind(fmt.Sprintf(`UPDATE products SET %s = ?, updated_at = ? WHERE id = ?`, column))
	res, err := s.db.ExecContext(ctx, q, value, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update product %s: %w", column, err)
	}
	return affected(res, id)
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// prepareUpsert resolves the row id and timestamps ahead of an upsert.
func prepareUpsert(ctx context.Context, tx *sqlx.Tx, lookup string, id *string, created, updated *time.Time, key ...any) (models.Action, error) {
	now := time.Now().UTC()
	*updated = now

	var existing string
	err := tx.GetContext(ctx, &existing, lookup, key...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if *id == "" {
			*id = uuid.NewString()
		}
		*created = now
		return models.ActionCreated, nil
	case err != nil:
		return models.ActionNone, fmt.Errorf("check existing row: %w", err)
	default:
		*id = existing
		if created.IsZero() {
			*created = now
		}
		return models.ActionUpdated, nil
	}
}

func notFound(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func affected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
