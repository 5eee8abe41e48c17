package sources

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pawfectfind/pawfect-importer/config"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.AmazonAPIURL = "https://amazon.test"
	cfg.RapidAPIKey = "secret"
	cfg.RapidAPIHost = "amazon.test"
	cfg.AmazonSiteURL = "https://shop.test"
	cfg.YouTubeAPIURL = "https://yt.test/v3"
	cfg.YouTubeAPIKey = "yt-key"
	cfg.RequestsPerSec = 0
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 2 * time.Millisecond
	return cfg
}

func mockClient(transport *httpmock.MockTransport) *http.Client {
	return &http.Client{Transport: transport}
}

const detailsOK = `{"status":"OK","data":{"asin":"B000000001","product_title":"Chew Toy","product_price":"$20.02","product_availability":"In Stock"}}`

func TestAmazonLookupAndCache(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://amazon.test/product-details",
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("X-RapidAPI-Key") != "secret" || req.Header.Get("X-RapidAPI-Host") != "amazon.test" {
				return httpmock.NewStringResponse(http.StatusForbidden, "missing key"), nil
			}
			if req.URL.Query().Get("asin") != "B000000001" {
				return httpmock.NewStringResponse(http.StatusBadRequest, "bad asin"), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, detailsOK), nil
		})

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	client, err := NewAmazonClient(testConfig(), WithHTTPClient(mockClient(transport)), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	offer, err := client.Lookup(context.Background(), "b000000001")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if offer.Price == nil || *offer.Price != 20.02 || !offer.Available || offer.Title != "Chew Toy" {
		t.Fatalf("offer = %+v", offer)
	}

	if _, err := client.Lookup(context.Background(), "B000000001"); err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("calls = %d, want 1 (second lookup cached)", got)
	}
	if got := testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("amazon")); got != 1 {
		t.Fatalf("cache hits = %v", got)
	}
}

func TestAmazonLookupNotFoundIsNotRetried(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://amazon.test/product-details",
		httpmock.NewStringResponder(http.StatusNotFound, `{"status":"ERROR"}`))

	client, err := NewAmazonClient(testConfig(), WithHTTPClient(mockClient(transport)))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Lookup(context.Background(), "B000000404")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if Message(err) != "Item no longer available" {
		t.Fatalf("message = %q", Message(err))
	}
}

func TestAmazonLookupEmptyDataIsNotFound(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://amazon.test/product-details",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"OK","data":{}}`))

	client, _ := NewAmazonClient(testConfig(), WithHTTPClient(mockClient(transport)))
	if _, err := client.Lookup(context.Background(), "B000000404"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAmazonRetriesTransientErrors(t *testing.T) {
	var calls int32
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://amazon.test/product-details",
		func(req *http.Request) (*http.Response, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				resp := httpmock.NewStringResponse(http.StatusTooManyRequests, "slow down")
				resp.Header.Set("Retry-After", "0")
				return resp, nil
			}
			return httpmock.NewStringResponse(http.StatusOK, detailsOK), nil
		})

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	client, _ := NewAmazonClient(testConfig(), WithHTTPClient(mockClient(transport)), WithMetrics(metrics))
	if _, err := client.Lookup(context.Background(), "B000000001"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if got := testutil.ToFloat64(metrics.RetriesTotal.WithLabelValues("amazon")); got != 2 {
		t.Fatalf("retries = %v, want 2", got)
	}
}

func TestAmazonRetriesExhausted(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://amazon.test/product-details",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "down"))

	client, _ := NewAmazonClient(testConfig(), WithHTTPClient(mockClient(transport)))
	_, err := client.Lookup(context.Background(), "B000000001")
	var server ErrServer
	if !errors.As(err, &server) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 3 {
		t.Fatalf("calls = %d, want 1 + 2 retries", got)
	}
}

func TestAmazonMalformedResponse(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://amazon.test/product-details",
		httpmock.NewStringResponder(http.StatusOK, `<html>not json</html>`))

	client, _ := NewAmazonClient(testConfig(), WithHTTPClient(mockClient(transport)))
	_, err := client.Lookup(context.Background(), "B000000001")
	if errorTypeLabel(err) != "malformed" {
		t.Fatalf("label = %q (%v)", errorTypeLabel(err), err)
	}
}

func TestAmazonSearch(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://amazon.test/search",
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			if q.Get("query") != "dog bed" || q.Get("page") != "2" || q.Get("country") != "US" {
				return httpmock.NewStringResponse(http.StatusBadRequest, "bad query"), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"status":"OK","data":{"products":[
				{"asin":"B000000001","product_title":"Bed","product_price":"$30.00","product_photo":"https://img.test/1.jpg","product_num_ratings":12},
				{"asin":"B000000002","product_title":"Bed XL","product_photo":"https://img.test/2.jpg"}
			]}}`), nil
		})

	client, _ := NewAmazonClient(testConfig(), WithHTTPClient(mockClient(transport)))
	items, err := client.Search(context.Background(), "dog bed", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 2 || items[0].NumRatings != 12 || items[1].Title != "Bed XL" {
		t.Fatalf("items = %+v", items)
	}
}

func TestNewAmazonClientRequiresKey(t *testing.T) {
	cfg := testConfig()
	cfg.RapidAPIKey = ""
	if _, err := NewAmazonClient(cfg); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "unauthorized", err: nil, statusCode: http.StatusUnauthorized, expected: "forbidden"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server", err: nil, statusCode: http.StatusBadGateway, expected: "server"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestBackoffCapped(t *testing.T) {
	p := retryPolicy{base: 200 * time.Millisecond, max: 500 * time.Millisecond}
	if got := p.backoff(1); got != 200*time.Millisecond {
		t.Fatalf("first backoff = %v", got)
	}
	if got := p.backoff(2); got != 400*time.Millisecond {
		t.Fatalf("second backoff = %v", got)
	}
	if got := p.backoff(4); got != p.max {
		t.Fatalf("delay %v not capped at %v", got, p.max)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Fatalf("seconds = %v", got)
	}
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 0 || got > time.Hour {
		t.Fatalf("date = %v", got)
	}
	for _, v := range []string{"", "soon", "-1"} {
		if got := parseRetryAfter(v); got != 0 {
			t.Fatalf("parseRetryAfter(%q) = %v", v, got)
		}
	}
}

func TestApplyOptions(t *testing.T) {
	o := applyOptions(nil)
	if o.logger == nil || o.http != nil || o.metrics != nil {
		t.Fatalf("defaults = %+v", o)
	}

	client := mockClient(httpmock.NewMockTransport())
	metrics := NewMetrics(prometheus.NewRegistry())
	o = applyOptions([]Option{WithHTTPClient(client), WithMetrics(metrics), WithLogger(nil)})
	if o.http != client || o.metrics != metrics || o.logger == nil {
		t.Fatalf("options = %+v", o)
	}

	scraper, err := NewPageScraper(testConfig(), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	if scraper.metrics != metrics || scraper.logger == nil {
		t.Fatalf("scraper options not applied")
	}
}

func TestYouTubeSearch(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://yt.test/v3/search",
		func(req *http.Request) (*http.Response, error) {
			if req.URL.Query().Get("key") != "yt-key" {
				return httpmock.NewStringResponse(http.StatusForbidden, "quota"), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"items":[{"id":{"videoId":"abc"},"snippet":{
				"title":"Leash training","channelTitle":"Dog TV","publishedAt":"2024-03-01T10:00:00Z",
				"thumbnails":{"medium":{"url":"https://i.ytimg.com/vi/abc/mqdefault.jpg"}}}}]}`), nil
		})

	client, err := NewYouTubeClient(testConfig(), WithHTTPClient(mockClient(transport)))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	items, err := client.Search(context.Background(), "leash training", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 1 || items[0].VideoID != "abc" || items[0].ThumbnailURL != "https://i.ytimg.com/vi/abc/mqdefault.jpg" {
		t.Fatalf("items = %+v", items)
	}
	if items[0].PublishedAt.Year() != 2024 {
		t.Fatalf("published = %v", items[0].PublishedAt)
	}
}

func TestYouTubeQuotaIsForbidden(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://yt.test/v3/search",
		httpmock.NewStringResponder(http.StatusForbidden, `{"error":{"code":403}}`))

	client, _ := NewYouTubeClient(testConfig(), WithHTTPClient(mockClient(transport)))
	_, err := client.Search(context.Background(), "x", 5)
	var forbidden ErrForbidden
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

const productPage = `<html><body>
<span id="productTitle"> Squeaky Ball </span>
<span class="a-price"><span class="a-offscreen">$7.49</span></span>
<span class="a-price"><span class="a-offscreen">$9.99</span></span>
<div id="availability"><span>In Stock</span></div>
</body></html>`

func TestPageScraperLookup(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://shop.test/dp/B000000007",
		func(req *http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusOK, productPage)
			resp.Header.Set("Content-Type", "text/html; charset=utf-8")
			return resp, nil
		})
	transport.RegisterResponder("GET", "https://shop.test/dp/B000000404",
		httpmock.NewStringResponder(http.StatusNotFound, "gone"))

	s, err := NewPageScraper(testConfig(), WithHTTPClient(mockClient(transport)))
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	offer, err := s.Lookup(context.Background(), "B000000007")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if offer.Title != "Squeaky Ball" || offer.Price == nil || *offer.Price != 7.49 || !offer.Available {
		t.Fatalf("offer = %+v", offer)
	}

	_, err = s.Lookup(context.Background(), "B000000404")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMessageFallsBackToError(t *testing.T) {
	err := fmt.Errorf("weird")
	if Message(err) != "weird" {
		t.Fatalf("message = %q", Message(err))
	}
	if Message(ErrTimeout{Err: context.DeadlineExceeded}) == "" {
		t.Fatalf("expected a timeout message")
	}
}
