// Package oracle adapts external price feeds. The engine only ever reads
// prices; feeds are never mutated through this package except by the
// StaticFeed used in development and tests.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/league-engine/internal/fixedpoint"
)

var (
	ErrUnknownFeed = errors.New("oracle: unknown price feed")
	ErrStalePrice  = errors.New("oracle: stale price")
	ErrBadPrice    = errors.New("oracle: invalid price")
)

// Price is a raw feed reading: value = Mantissa * 10^Exponent.
type Price struct {
	Mantissa    uint64    `json:"mantissa"`
	Exponent    int32     `json:"exponent"`
	PublishedAt time.Time `json:"published_at"`
}

// Micro rescales the reading to micro-units.
func (p Price) Micro() (int64, error) {
	if p.Mantissa == 0 {
		return 0, ErrBadPrice
	}
	return fixedpoint.FromOracle(p.Mantissa, p.Exponent)
}

// Feed reads the current price of a feed reference.
type Feed interface {
	GetPrice(ctx context.Context, feed string) (Price, error)
}

// Reader wraps a Feed with a staleness bound and micro-unit conversion.
type Reader struct {
	feed   Feed
	maxAge time.Duration
	now    func() time.Time
}

// NewReader creates a reader. maxAge <= 0 disables the staleness check.
func NewReader(feed Feed, maxAge time.Duration) *Reader {
	return &Reader{feed: feed, maxAge: maxAge, now: time.Now}
}

// WithClock overrides the time source.
func (r *Reader) WithClock(now func() time.Time) *Reader {
	r.now = now
	return r
}

// Micro returns the current price of feed in micro-units.
func (r *Reader) Micro(ctx context.Context, feed string) (int64, error) {
	p, err := r.feed.GetPrice(ctx, feed)
	if err != nil {
		return 0, err
	}
	if r.maxAge > 0 && r.now().Sub(p.PublishedAt) > r.maxAge {
		return 0, fmt.Errorf("%w: %s published %s", ErrStalePrice, feed, p.PublishedAt.Format(time.RFC3339))
	}
	return p.Micro()
}

// Exponent returns the native exponent of the feed.
func (r *Reader) Exponent(ctx context.Context, feed string) (int32, error) {
	p, err := r.feed.GetPrice(ctx, feed)
	if err != nil {
		return 0, err
	}
	return p.Exponent, nil
}

// StaticFeed is a settable in-memory feed.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]Price
	now    func() time.Time
}

// NewStaticFeed creates an empty feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{prices: make(map[string]Price), now: time.Now}
}

// Set publishes mantissa*10^exponent for feed.
func (f *StaticFeed) Set(feed string, mantissa uint64, exponent int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[feed] = Price{Mantissa: mantissa, Exponent: exponent, PublishedAt: f.now()}
}

// SetDecimal publishes a decimal price using the given exponent.
func (f *StaticFeed) SetDecimal(feed string, price decimal.Decimal, exponent int32) error {
	m := price.Shift(-exponent).RoundBank(0)
	if m.Sign() <= 0 || !m.BigInt().IsUint64() {
		return fmt.Errorf("%w: %s", ErrBadPrice, price)
	}
	f.Set(feed, m.BigInt().Uint64(), exponent)
	return nil
}

func (f *StaticFeed) GetPrice(_ context.Context, feed string) (Price, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.prices[feed]
	if !ok {
		return Price{}, fmt.Errorf("%w: %s", ErrUnknownFeed, feed)
	}
	return p, nil
}
