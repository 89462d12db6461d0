package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// HTTPFeed reads prices from a remote JSON endpoint:
//
//	GET {base}/feeds/{feed} -> {"mantissa": 15000000000, "exponent": -8, "publish_time": 1700000000}
//
// Calls are paced by a token bucket and guarded by a circuit breaker.
type HTTPFeed struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

type feedResponse struct {
	Mantissa    uint64 `json:"mantissa"`
	Exponent    int32  `json:"exponent"`
	PublishTime int64  `json:"publish_time"`
}

// NewHTTPFeed creates a feed client for base, allowing rps requests per second.
func NewHTTPFeed(base string, rps float64) *HTTPFeed {
	st := gobreaker.Settings{
		Name:     "oracle",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &HTTPFeed{
		base:    base,
		client:  &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

func (f *HTTPFeed) GetPrice(ctx context.Context, feed string) (Price, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return Price{}, err
	}
	res, err := f.breaker.Execute(func() (any, error) {
		return f.fetch(ctx, feed)
	})
	if err != nil {
		return Price{}, fmt.Errorf("oracle: read %s: %w", feed, err)
	}
	return res.(Price), nil
}

func (f *HTTPFeed) fetch(ctx context.Context, feed string) (Price, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base+"/feeds/"+url.PathEscape(feed), nil)
	if err != nil {
		return Price{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Price{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Price{}, ErrUnknownFeed
	case resp.StatusCode != http.StatusOK:
		return Price{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Price{}, fmt.Errorf("decode: %w", err)
	}
	return Price{
		Mantissa:    body.Mantissa,
		Exponent:    body.Exponent,
		PublishedAt: time.Unix(body.PublishTime, 0),
	}, nil
}
