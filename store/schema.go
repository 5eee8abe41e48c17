package store

import (
	"context"
	"fmt"
	"strings"
)

// schema uses {{ts}} for the dialect's timestamp type.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id             TEXT PRIMARY KEY,
		external_id    TEXT NOT NULL,
		source         TEXT NOT NULL,
		name           TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		brand          TEXT NOT NULL DEFAULT '',
		category       TEXT NOT NULL DEFAULT '',
		price          NUMERIC(10,2) NOT NULL DEFAULT 0,
		image_url      TEXT NOT NULL DEFAULT '',
		affiliate_link TEXT NOT NULL DEFAULT '',
		rating         DOUBLE PRECISION NOT NULL DEFAULT 0,
		review_count   INTEGER NOT NULL DEFAULT 0,
		created_at     {{ts}} NOT NULL,
		updated_at     {{ts}} NOT NULL,
		UNIQUE (source, external_id)
	)`,
	`CREATE TABLE IF NOT EXISTS product_breed_recommendations (
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		breed_name TEXT NOT NULL,
		PRIMARY KEY (product_id, breed_name)
	)`,
	`CREATE TABLE IF NOT EXISTS breeds (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		size        TEXT NOT NULL DEFAULT '',
		temperament TEXT NOT NULL DEFAULT '',
		life_span   TEXT NOT NULL DEFAULT '',
		image_url   TEXT NOT NULL DEFAULT '',
		created_at  {{ts}} NOT NULL,
		updated_at  {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS breed_characteristics (
		breed_id TEXT NOT NULL REFERENCES breeds(id) ON DELETE CASCADE,
		name     TEXT NOT NULL,
		value    INTEGER NOT NULL CHECK (value BETWEEN 1 AND 5),
		PRIMARY KEY (breed_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS videos (
		id            TEXT PRIMARY KEY,
		youtube_id    TEXT NOT NULL UNIQUE,
		title         TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		channel_title TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		published_at  {{ts}},
		created_at    {{ts}} NOT NULL,
		updated_at    {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS articles (
		id           TEXT PRIMARY KEY,
		slug         TEXT NOT NULL UNIQUE,
		title        TEXT NOT NULL,
		excerpt      TEXT NOT NULL DEFAULT '',
		content      TEXT NOT NULL,
		author       TEXT NOT NULL DEFAULT '',
		category     TEXT NOT NULL DEFAULT '',
		image_url    TEXT NOT NULL DEFAULT '',
		published_at {{ts}},
		created_at   {{ts}} NOT NULL,
		updated_at   {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_source ON products (source)`,
}

// postgresFunctions back the REST adapter: child rows are replaced inside one
// server-side transaction.
var postgresFunctions = []string{
	`CREATE OR REPLACE FUNCTION replace_product_breeds(p_product_id TEXT, p_breeds TEXT[])
	RETURNS void LANGUAGE plpgsql AS $$
	BEGIN
		DELETE FROM product_breed_recommendations WHERE product_id = p_product_id;
		INSERT INTO product_breed_recommendations (product_id, breed_name)
		SELECT p_product_id, b FROM unnest(p_breeds) AS b
		ON CONFLICT DO NOTHING;
	END $$`,
	`CREATE OR REPLACE FUNCTION replace_breed_characteristics(p_breed_id TEXT, p_characteristics JSONB)
	RETURNS void LANGUAGE plpgsql AS $$
	BEGIN
		DELETE FROM breed_characteristics WHERE breed_id = p_breed_id;
		INSERT INTO breed_characteristics (breed_id, name, value)
		SELECT p_breed_id, c->>'name', (c->>'value')::int FROM jsonb_array_elements(p_characteristics) AS c;
	END $$`,
}

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	ts := "TIMESTAMP"
	if s.db.DriverName() == "postgres" {
		ts = "TIMESTAMPTZ"
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, strings.ReplaceAll(stmt, "{{ts}}", ts)); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if s.db.DriverName() == "postgres" {
		for _, stmt := range postgresFunctions {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate functions: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
