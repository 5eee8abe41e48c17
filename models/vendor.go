package models

import "time"

// AmazonItem is one product as returned by the marketplace data API.
type AmazonItem struct {
	ASIN          string `json:"asin"`
	Title         string `json:"product_title"`
	Price         string `json:"product_price"`
	OriginalPrice string `json:"product_original_price"`
	Currency      string `json:"currency"`
	StarRating    string `json:"product_star_rating"`
	NumRatings    int    `json:"product_num_ratings"`
	URL           string `json:"product_url"`
	Photo         string `json:"product_photo"`
	Availability  string `json:"product_availability"`
}

// VideoItem is one video search hit.
type VideoItem struct {
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ChannelTitle string    `json:"channel_title"`
	ThumbnailURL string    `json:"thumbnail_url"`
	PublishedAt  time.Time `json:"published_at"`
}
