package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultHermesURL is the public Pyth Hermes endpoint
const DefaultHermesURL = "https://hermes.pyth.network"

// SOLUSDFeedID is the Pyth price feed id for SOL/USD
const SOLUSDFeedID = "0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"

// DefaultFetchTimeout bounds a single feed request
const DefaultFetchTimeout = 5 * time.Second

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesFeed struct {
	ID    string      `json:"id"`
	Price hermesPrice `json:"price"`
}

// PythConfig contains configuration for the Pyth Hermes source
type PythConfig struct {
	// BaseURL defaults to DefaultHermesURL
	BaseURL string
	// FeedID defaults to SOLUSDFeedID
	FeedID string
	// Timeout defaults to DefaultFetchTimeout
	Timeout time.Duration
}

// PythSource reads prices from the Pyth Hermes REST API
type PythSource struct {
	baseURL    string
	feedID     string
	httpClient *http.Client
}

// NewPythSource creates a Hermes price source
func NewPythSource(config PythConfig) *PythSource {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultHermesURL
	}
	feedID := config.FeedID
	if feedID == "" {
		feedID = SOLUSDFeedID
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultFetchTimeout
	}

	return &PythSource{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		feedID:  feedID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name identifies the source in logs
func (s *PythSource) Name() string {
	return "pyth"
}

// Fetch returns the latest published price
func (s *PythSource) Fetch(ctx context.Context) (Sample, error) {
	endpoint := fmt.Sprintf("%s/api/latest_price_feeds?ids[]=%s", s.baseURL, url.QueryEscape(s.feedID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to fetch price feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Sample{}, fmt.Errorf("hermes returned status %d", resp.StatusCode)
	}

	var feeds []hermesFeed
	if err := json.NewDecoder(resp.Body).Decode(&feeds); err != nil {
		return Sample{}, fmt.Errorf("failed to decode price feed: %w", err)
	}
	if len(feeds) == 0 || feeds[0].Price.Price == "" {
		return Sample{}, fmt.Errorf("invalid price feed response")
	}

	mantissa, err := decimal.NewFromString(feeds[0].Price.Price)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid price %q: %w", feeds[0].Price.Price, err)
	}
	price := mantissa.Shift(feeds[0].Price.Expo)
	if !price.IsPositive() {
		return Sample{}, fmt.Errorf("non-positive price %s", price)
	}

	return Sample{
		Price:       price,
		PublishTime: time.Unix(feeds[0].Price.PublishTime, 0).UTC(),
		Source:      s.Name(),
	}, nil
}
