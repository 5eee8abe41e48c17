// Package models defines the catalog entities and the run results shared by the importer.
package models

import "time"

// Source identifies where a product was imported from.
type Source string

const (
	SourceCJ     Source = "cj"
	SourceAmazon Source = "amazon"
	SourceManual Source = "manual"
)

// Entity names the kind of record an import run writes.
type Entity string

const (
	EntityProduct Entity = "product"
	EntityBreed   Entity = "breed"
	EntityVideo   Entity = "video"
	EntityArticle Entity = "article"
)

// Product is a catalog item. (Source, ExternalID) is its natural key.
type Product struct {
	ID            string    `db:"id" json:"id"`
	ExternalID    string    `db:"external_id" json:"external_id"`
	Source        Source    `db:"source" json:"source"`
	Name          string    `db:"name" json:"name"`
	Description   string    `db:"description" json:"description"`
	Brand         string    `db:"brand" json:"brand"`
	Category      string    `db:"category" json:"category"`
	Price         float64   `db:"price" json:"price"`
	ImageURL      string    `db:"image_url" json:"image_url"`
	AffiliateLink string    `db:"affiliate_link" json:"affiliate_link"`
	Rating        float64   `db:"rating" json:"rating"`
	ReviewCount   int       `db:"review_count" json:"review_count"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`

	// RecommendedBreeds holds breed names; persisted as product_breed_recommendations rows.
	RecommendedBreeds []string `db:"-" json:"-"`
}

// Breed is a dog breed profile. Name is its natural key.
type Breed struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Size        string    `db:"size" json:"size"`
	Temperament string    `db:"temperament" json:"temperament"`
	LifeSpan    string    `db:"life_span" json:"life_span"`
	ImageURL    string    `db:"image_url" json:"image_url"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	Characteristics []Characteristic `db:"-" json:"-"`
}

// Characteristic is one 1-5 rated trait of a breed.
type Characteristic struct {
	Name  string `db:"name" json:"name"`
	Value int    `db:"value" json:"value"`
}

// Video is an imported YouTube video. YouTubeID is its natural key.
type Video struct {
	ID           string    `db:"id" json:"id"`
	YouTubeID    string    `db:"youtube_id" json:"youtube_id"`
	Title        string    `db:"title" json:"title"`
	Description  string    `db:"description" json:"description"`
	ChannelTitle string    `db:"channel_title" json:"channel_title"`
	ThumbnailURL string    `db:"thumbnail_url" json:"thumbnail_url"`
	PublishedAt  time.Time `db:"published_at" json:"published_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Article is a care guide or blog article. Slug is its natural key.
type Article struct {
	ID          string    `db:"id" json:"id"`
	Slug        string    `db:"slug" json:"slug"`
	Title       string    `db:"title" json:"title"`
	Excerpt     string    `db:"excerpt" json:"excerpt"`
	Content     string    `db:"content" json:"content"`
	Author      string    `db:"author" json:"author"`
	Category    string    `db:"category" json:"category"`
	ImageURL    string    `db:"image_url" json:"image_url"`
	PublishedAt time.Time `db:"published_at" json:"published_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// MappedRecord is the validated, internal form of one input record.
// Exactly one of Product, Breed, Video or Article is set when Err is nil.
type MappedRecord struct {
	Line    int
	Key     string
	Entity  Entity
	Product *Product
	Breed   *Breed
	Video   *Video
	Article *Article
	Err     error
}

// Valid reports whether the record passed validation.
func (r MappedRecord) Valid() bool {
	return r.Err == nil
}
