package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pawfectfind/pawfect-importer/config"
	"github.com/pawfectfind/pawfect-importer/models"
)

// YouTubeClient searches videos through the YouTube Data API.
type YouTubeClient struct {
	*apiClient
	baseURL string
	apiKey  string
}

type youtubeThumb struct {
	URL string `json:"url"`
}

type youtubeSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			Description  string `json:"description"`
			ChannelTitle string `json:"channelTitle"`
			PublishedAt  string `json:"publishedAt"`
			Thumbnails   struct {
				High    youtubeThumb `json:"high"`
				Medium  youtubeThumb `json:"medium"`
				Default youtubeThumb `json:"default"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

// NewYouTubeClient builds a client from cfg.
func NewYouTubeClient(cfg *config.Config, opts ...Option) (*YouTubeClient, error) {
	if cfg.YouTubeAPIKey == "" {
		return nil, fmt.Errorf("youtube api key is required")
	}
	return &YouTubeClient{
		apiClient: newAPIClient("youtube", cfg, opts...),
		baseURL:   strings.TrimRight(cfg.YouTubeAPIURL, "/"),
		apiKey:    cfg.YouTubeAPIKey,
	}, nil
}

// Search returns up to maxResults videos matching query.
func (c *YouTubeClient) Search(ctx context.Context, query string, maxResults int) ([]models.VideoItem, error) {
	if maxResults <= 0 || maxResults > 50 {
		maxResults = 25
	}
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "video")
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(maxResults))
	params.Set("key", c.apiKey)

	var resp youtubeSearchResponse
	err := c.getJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	}, &resp)
	if err != nil {
		return nil, err
	}

	items := make([]models.VideoItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		published, _ := time.Parse(time.RFC3339, it.Snippet.PublishedAt)
		thumb := it.Snippet.Thumbnails.High.URL
		if thumb == "" {
			thumb = it.Snippet.Thumbnails.Medium.URL
		}
		if thumb == "" {
			thumb = it.Snippet.Thumbnails.Default.URL
		}
		items = append(items, models.VideoItem{
			VideoID:      it.ID.VideoID,
			Title:        it.Snippet.Title,
			Description:  it.Snippet.Description,
			ChannelTitle: it.Snippet.ChannelTitle,
			ThumbnailURL: thumb,
			PublishedAt:  published,
		})
	}
	return items, nil
}
