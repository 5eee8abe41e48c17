package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pawfectfind/pawfect-importer/config"
	"github.com/pawfectfind/pawfect-importer/models"
	"github.com/pawfectfind/pawfect-importer/parser"
)

// Offer is the current marketplace state of one item.
type Offer struct {
	ASIN      string
	Title     string
	Price     *float64
	Available bool
}

// PriceSource looks up the current offer for an ASIN.
// Implementations return ErrNotFound when the item no longer resolves.
type PriceSource interface {
	Lookup(ctx context.Context, asin string) (*Offer, error)
}

// AmazonClient talks to the RapidAPI real-time Amazon data API.
type AmazonClient struct {
	*apiClient
	baseURL string
	apiKey  string
	host    string
	country string
	cache   *expirable.LRU[string, Offer]
}

type amazonEnvelope[T any] struct {
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
	Data T `json:"data"`
}

type amazonSearchData struct {
	Products []models.AmazonItem `json:"products"`
}

// NewAmazonClient builds a client from cfg.
func NewAmazonClient(cfg *config.Config, opts ...Option) (*AmazonClient, error) {
	if cfg.RapidAPIKey == "" {
		return nil, fmt.Errorf("rapidapi key is required")
	}
	host := cfg.RapidAPIHost
	if host == "" {
		parsed, err := url.Parse(cfg.AmazonAPIURL)
		if err != nil {
			return nil, fmt.Errorf("parse amazon api url: %w", err)
		}
		host = parsed.Host
	}

	c := &AmazonClient{
		apiClient: newAPIClient("amazon", cfg, opts...),
		baseURL:   strings.TrimRight(cfg.AmazonAPIURL, "/"),
		apiKey:    cfg.RapidAPIKey,
		host:      host,
		country:   cfg.AmazonCountry,
	}
	if cfg.CacheSize > 0 {
		c.cache = expirable.NewLRU[string, Offer](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return c, nil
}

// Search returns one page of search results for query.
func (c *AmazonClient) Search(ctx context.Context, query string, page int) ([]models.AmazonItem, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", strconv.Itoa(page))
	params.Set("country", c.country)

	var env amazonEnvelope[amazonSearchData]
	if err := c.getJSON(ctx, c.request("/search", params), &env); err != nil {
		return nil, err
	}
	if err := env.err(); err != nil {
		return nil, err
	}
	return env.Data.Products, nil
}

// Lookup fetches the product details of asin. Results are cached for the cache TTL.
func (c *AmazonClient) Lookup(ctx context.Context, asin string) (*Offer, error) {
	asin = strings.ToUpper(strings.TrimSpace(asin))
	if c.cache != nil {
		if offer, ok := c.cache.Get(asin); ok {
			c.metrics.IncCacheHit(c.source)
			return &offer, nil
		}
	}

	params := url.Values{}
	params.Set("asin", asin)
	params.Set("country", c.country)

	var env amazonEnvelope[models.AmazonItem]
	if err := c.getJSON(ctx, c.request("/product-details", params), &env); err != nil {
		return nil, err
	}
	if err := env.err(); err != nil {
		return nil, err
	}
	if env.Data.ASIN == "" {
		return nil, ErrNotFound{Err: fmt.Errorf("asin %s: empty product details", asin)}
	}

	offer := offerFromItem(env.Data)
	if c.cache != nil {
		c.cache.Add(asin, offer)
	}
	return &offer, nil
}

func (c *AmazonClient) request(path string, params url.Values) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-RapidAPI-Key", c.apiKey)
		req.Header.Set("X-RapidAPI-Host", c.host)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}

func (e amazonEnvelope[T]) err() error {
	if e.Status == "" || strings.EqualFold(e.Status, "OK") {
		return nil
	}
	msg := e.Status
	if e.Error != nil && e.Error.Message != "" {
		msg = e.Error.Message
	}
	cause := fmt.Errorf("amazon api: %s", msg)
	if e.Error != nil && e.Error.Code == http.StatusNotFound {
		return ErrNotFound{Err: cause}
	}
	return ErrMalformed{Err: cause}
}

func offerFromItem(item models.AmazonItem) Offer {
	offer := Offer{
		ASIN:      strings.ToUpper(item.ASIN),
		Title:     strings.TrimSpace(item.Title),
		Available: available(item.Availability),
	}
	if price, ok := parser.NormalizePrice(item.Price); ok {
		offer.Price = &price
	}
	return offer
}

func available(text string) bool {
	text = strings.ToLower(text)
	return !strings.Contains(text, "unavailable") && !strings.Contains(text, "out of stock")
}
