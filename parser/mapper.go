// Package parser turns raw feed rows and vendor items into validated catalog records.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pawfectfind/pawfect-importer/models"
)

// ValidationError names the first missing or invalid field of a record.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Header synonyms for the CJ Affiliate product feed.
var (
	cjIDColumns          = []string{"LINK ID", "LINK_ID", "ID"}
	cjNameColumns        = []string{"NAME", "LINK NAME", "PRODUCT NAME"}
	cjBuyURLColumns      = []string{"CLICK URL", "CLICK_URL", "BUY URL", "LINK URL"}
	cjImageColumns       = []string{"IMAGE URL", "IMAGE_URL"}
	cjHTMLColumns        = []string{"HTML_LINKS", "HTML LINKS"}
	cjDescriptionColumns = []string{"DESCRIPTION", "LINK DESCRIPTION"}
	cjPriceColumns       = []string{"PRICE", "SALE PRICE", "SALE_PRICE"}
	cjBrandColumns       = []string{"ADVERTISER", "ADVERTISER NAME", "ADVERTISER_NAME"}
	cjCategoryColumns    = []string{"CATEGORY", "ADVERTISER CATEGORY"}
	cjBreedColumns       = []string{"BREEDS", "RECOMMENDED BREEDS"}
)

var (
	slugPattern  = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	slugSeparate = regexp.MustCompile(`[^a-z0-9]+`)
)

// BreedCharacteristics lists the 1-5 rated breed columns, in validation order.
var BreedCharacteristics = []string{"energy_level", "trainability", "shedding", "grooming", "friendliness", "barking"}

// MapCJRow maps one CJ Affiliate feed row to a product.
func MapCJRow(row Row) models.MappedRecord {
	id := row.Get(cjIDColumns...)
	name := row.Get(cjNameColumns...)
	key := id
	if key == "" {
		key = name
	}
	rec := models.MappedRecord{Line: row.Line, Key: key, Entity: models.EntityProduct}

	if id == "" {
		return invalid(rec, "catalog_id", "Missing catalog ID")
	}
	if name == "" {
		return invalid(rec, "name", "Missing product name")
	}
	buyURL := row.Get(cjBuyURLColumns...)
	if buyURL == "" {
		return invalid(rec, "buy_url", "Missing buy URL")
	}
	if !validHTTPURL(buyURL) {
		return invalid(rec, "buy_url", "Invalid buy URL")
	}
	imageURL := row.Get(cjImageColumns...)
	if imageURL == "" {
		imageURL = imageFromHTML(row.Get(cjHTMLColumns...))
	}
	if imageURL == "" {
		return invalid(rec, "image_url", "Missing image URL")
	}
	if !validHTTPURL(imageURL) {
		return invalid(rec, "image_url", "Invalid image URL")
	}

	price, ok := NormalizePrice(row.Get(cjPriceColumns...))
	if !ok {
		price = PlaceholderPrice
	}

	rec.Product = &models.Product{
		ExternalID:        id,
		Source:            models.SourceCJ,
		Name:              name,
		Description:       row.Get(cjDescriptionColumns...),
		Brand:             row.Get(cjBrandColumns...),
		Category:          row.Get(cjCategoryColumns...),
		Price:             price,
		ImageURL:          imageURL,
		AffiliateLink:     buyURL,
		RecommendedBreeds: splitList(row.Get(cjBreedColumns...)),
	}
	return rec
}

// MapBreedRow maps one breed CSV row to a breed with its characteristics.
func MapBreedRow(row Row) models.MappedRecord {
	name := row.Get("name", "Name", "breed", "Breed")
	rec := models.MappedRecord{Line: row.Line, Key: name, Entity: models.EntityBreed}
	if name == "" {
		return invalid(rec, "name", "Missing breed name")
	}

	imageURL := row.Get("image_url", "Image URL")
	if imageURL != "" && !validHTTPURL(imageURL) {
		return invalid(rec, "image_url", "Invalid image URL")
	}

	var traits []models.Characteristic
	for _, column := range BreedCharacteristics {
		raw := row.Get(column)
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 || value > 5 {
			return invalid(rec, column, fmt.Sprintf("Invalid %s: must be a whole number from 1 to 5", strings.ReplaceAll(column, "_", " ")))
		}
		traits = append(traits, models.Characteristic{Name: column, Value: value})
	}

	rec.Breed = &models.Breed{
		Name:            name,
		Description:     row.Get("description", "Description"),
		Size:            row.Get("size", "Size"),
		Temperament:     row.Get("temperament", "Temperament"),
		LifeSpan:        row.Get("life_span", "Life Span"),
		ImageURL:        imageURL,
		Characteristics: traits,
	}
	return rec
}

// MapArticleRow maps one article CSV row. The slug column wins; without it the
// slug is derived from the title.
func MapArticleRow(row Row) models.MappedRecord {
	title := row.Get("title", "Title")
	slug := strings.ToLower(row.Get("slug", "Slug"))
	if slug == "" {
		slug = Slugify(title)
	}
	key := slug
	if key == "" {
		key = title
	}
	rec := models.MappedRecord{Line: row.Line, Key: key, Entity: models.EntityArticle}

	if title == "" {
		return invalid(rec, "title", "Missing article title")
	}
	content := row.Get("content", "Content", "body", "Body")
	if content == "" {
		return invalid(rec, "content", "Missing article content")
	}
	if !slugPattern.MatchString(slug) {
		return invalid(rec, "slug", "Invalid slug: use lowercase letters, digits and hyphens")
	}
	imageURL := row.Get("image_url", "Image URL")
	if imageURL != "" && !validHTTPURL(imageURL) {
		return invalid(rec, "image_url", "Invalid image URL")
	}
	var published time.Time
	if raw := row.Get("published_at", "Published At"); raw != "" {
		t, ok := parseDate(raw)
		if !ok {
			return invalid(rec, "published_at", "Invalid publish date: use YYYY-MM-DD")
		}
		published = t
	}

	rec.Article = &models.Article{
		Slug:        slug,
		Title:       title,
		Excerpt:     row.Get("excerpt", "Excerpt", "summary", "Summary"),
		Content:     content,
		Author:      row.Get("author", "Author"),
		Category:    row.Get("category", "Category"),
		ImageURL:    imageURL,
		PublishedAt: published,
	}
	return rec
}

// Slugify lowercases s and joins its letter and digit runs with hyphens.
func Slugify(s string) string {
	return strings.Trim(slugSeparate.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

func parseDate(raw string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// MapAmazonItem maps a marketplace search hit to a product with a canonical affiliate link.
func MapAmazonItem(item models.AmazonItem, links LinkBuilder) models.MappedRecord {
	asin := strings.ToUpper(strings.TrimSpace(item.ASIN))
	title := strings.TrimSpace(item.Title)
	key := asin
	if key == "" {
		key = title
	}
	rec := models.MappedRecord{Key: key, Entity: models.EntityProduct}

	if asin == "" {
		return invalid(rec, "asin", "Missing ASIN")
	}
	if !IsASIN(asin) {
		return invalid(rec, "asin", "Invalid ASIN")
	}
	if title == "" {
		return invalid(rec, "title", "Missing product title")
	}
	photo := strings.TrimSpace(item.Photo)
	if photo == "" {
		return invalid(rec, "image_url", "Missing image URL")
	}

	price, ok := NormalizePrice(item.Price)
	if !ok {
		price = PlaceholderPrice
	}
	rating, _ := strconv.ParseFloat(strings.TrimSpace(item.StarRating), 64)

	rec.Product = &models.Product{
		ExternalID:    asin,
		Source:        models.SourceAmazon,
		Name:          title,
		Price:         price,
		ImageURL:      photo,
		AffiliateLink: links.Link(asin),
		Rating:        rating,
		ReviewCount:   item.NumRatings,
	}
	return rec
}

// MapVideoItem maps a video search hit to a video record.
func MapVideoItem(item models.VideoItem) models.MappedRecord {
	id := strings.TrimSpace(item.VideoID)
	title := strings.TrimSpace(item.Title)
	rec := models.MappedRecord{Key: id, Entity: models.EntityVideo}
	if id == "" {
		rec.Key = title
		return invalid(rec, "video_id", "Missing video ID")
	}
	if title == "" {
		return invalid(rec, "title", "Missing video title")
	}

	thumb := strings.TrimSpace(item.ThumbnailURL)
	if thumb == "" {
		thumb = fmt.Sprintf("https://i.ytimg.com/vi/%s/hqdefault.jpg", id)
	}

	rec.Video = &models.Video{
		YouTubeID:    id,
		Title:        title,
		Description:  strings.TrimSpace(item.Description),
		ChannelTitle: strings.TrimSpace(item.ChannelTitle),
		ThumbnailURL: thumb,
		PublishedAt:  item.PublishedAt,
	}
	return rec
}

// MapRows applies fn to every row, preserving order.
func MapRows(rows []Row, fn func(Row) models.MappedRecord) []models.MappedRecord {
	out := make([]models.MappedRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, fn(row))
	}
	return out
}

func invalid(rec models.MappedRecord, field, message string) models.MappedRecord {
	rec.Err = &ValidationError{Field: field, Message: message}
	return rec
}
