package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

func TestStaticFeed_SetAndRead(t *testing.T) {
	require := require.New(t)

	feed := NewStaticFeed()
	require.NoError(feed.SetDecimal("SOL", decimal.RequireFromString("150.00"), -8))

	p, err := feed.GetPrice(context.Background(), "SOL")
	require.NoError(err)
	require.Equal(uint64(15_000_000_000), p.Mantissa)
	require.Equal(int32(-8), p.Exponent)

	micro, err := NewReader(feed, 0).Micro(context.Background(), "SOL")
	require.NoError(err)
	require.Equal(int64(150_000_000), micro)
}

func TestStaticFeed_UnknownFeed(t *testing.T) {
	_, err := NewStaticFeed().GetPrice(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownFeed)
}

func TestStaticFeed_RejectsNonPositive(t *testing.T) {
	err := NewStaticFeed().SetDecimal("SOL", decimal.Zero, -8)
	require.ErrorIs(t, err, ErrBadPrice)
}

func TestReader_Stale(t *testing.T) {
	feed := NewStaticFeed()
	feed.Set("SOL", 150, 0)

	r := NewReader(feed, time.Minute).WithClock(func() time.Time {
		return time.Now().Add(2 * time.Minute)
	})
	_, err := r.Micro(context.Background(), "SOL")
	require.ErrorIs(t, err, ErrStalePrice)
}

func TestHTTPFeed_Reads(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feeds/SOL" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"mantissa":16000000000,"exponent":-8,"publish_time":1700000000}`))
	}))
	defer srv.Close()

	p, err := NewHTTPFeed(srv.URL, 100).GetPrice(context.Background(), "SOL")
	require.NoError(err)
	require.Equal(uint64(16_000_000_000), p.Mantissa)
	require.Equal(time.Unix(1700000000, 0), p.PublishedAt)

	micro, err := p.Micro()
	require.NoError(err)
	require.Equal(int64(160_000_000), micro)
}

func TestHTTPFeed_BreakerOpens(t *testing.T) {
	require := require.New(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	feed := NewHTTPFeed(srv.URL, 100)
	for i := 0; i < 3; i++ {
		_, err := feed.GetPrice(context.Background(), "SOL")
		require.Error(err)
	}
	_, err := feed.GetPrice(context.Background(), "SOL")
	require.True(errors.Is(err, gobreaker.ErrOpenState), "expected open breaker, got %v", err)
	require.Equal(int32(3), calls.Load())
}
