package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"candlesync/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const (
	jan1   = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	hourMs = int64(3600000)
)

func klineRow(openTime int64) string {
	return fmt.Sprintf(`[%d,"42000.5","42100","41900","42050.25","123.45",%d,"5187000",100,"60","2520000","0"]`,
		openTime, openTime+hourMs-1)
}

// newTestClient 指向 httptest server，限流放开、退避不真睡。
func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	cfg.RateLimitPerMin = 600000
	c := New(cfg)
	slept := &[]time.Duration{}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return c, slept
}

func TestFetchKlines(t *testing.T) {
	tf, _ := market.ParseTimeframe("1h")

	t.Run("Parses Response", func(t *testing.T) {
		var gotQuery atomic.Value
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotQuery.Store(r.URL.Query())
			fmt.Fprintf(w, "[%s,%s]", klineRow(jan1), klineRow(jan1+hourMs))
		}, Config{})

		candles, err := c.FetchKlines(context.Background(), "btc/usdt", tf, jan1, jan1+hourMs)
		assert.NoError(t, err)
		assert.Len(t, candles, 2)
		assert.Equal(t, "BTCUSDT", candles[0].Symbol)
		assert.Equal(t, "1h", candles[0].Timeframe)
		assert.Equal(t, jan1, candles[0].OpenTime)
		assert.True(t, candles[0].Open.Equal(decimal.RequireFromString("42000.5")))
		assert.True(t, candles[0].Close.Equal(decimal.RequireFromString("42050.25")))
		assert.Equal(t, "binance", candles[0].Source)

		q := gotQuery.Load().(url.Values)
		assert.Equal(t, "BTCUSDT", q["symbol"][0])
		assert.Equal(t, "1h", q["interval"][0])
		assert.Equal(t, "2", q["limit"][0])
	})

	t.Run("Client Error Fails Fast", func(t *testing.T) {
		var calls atomic.Int32
		c, slept := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
		}, Config{MaxRetries: 5})

		_, err := c.FetchKlines(context.Background(), "BTCUSDT", tf, jan1, jan1+hourMs)
		var cerr *ClientError
		assert.ErrorAs(t, err, &cerr)
		assert.Equal(t, http.StatusBadRequest, cerr.Status)
		assert.Equal(t, int64(-1121), cerr.Code)
		assert.Equal(t, "Invalid symbol.", cerr.Msg)
		// 4xx 不重试：一次请求，零退避。
		assert.Equal(t, int32(1), calls.Load())
		assert.Empty(t, *slept)
	})

	t.Run("Server Error Retries Until Budget", func(t *testing.T) {
		var calls atomic.Int32
		c, slept := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}, Config{MaxRetries: 3, RetryBaseDelay: 100 * time.Millisecond, RetryMaxDelay: time.Second})

		_, err := c.FetchKlines(context.Background(), "BTCUSDT", tf, jan1, jan1+hourMs)
		var terr *TransientError
		assert.ErrorAs(t, err, &terr)
		assert.Equal(t, 3, terr.Attempts)
		assert.Equal(t, int32(3), calls.Load())
		// 指数退避：base, 2*base。
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
	})

	t.Run("Rate Limit Honors Retry After", func(t *testing.T) {
		var calls atomic.Int32
		c, slept := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			fmt.Fprintf(w, "[%s]", klineRow(jan1))
		}, Config{})

		candles, err := c.FetchKlines(context.Background(), "BTCUSDT", tf, jan1, jan1)
		assert.NoError(t, err)
		assert.Len(t, candles, 1)
		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, []time.Duration{2 * time.Second}, *slept)
	})

	t.Run("Rate Limit Exhausts Budget", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}, Config{MaxRetries: 2})

		_, err := c.FetchKlines(context.Background(), "BTCUSDT", tf, jan1, jan1)
		var rerr *RateLimitError
		assert.ErrorAs(t, err, &rerr)
		assert.Equal(t, 2, rerr.Attempts)
	})

	t.Run("Rejects Invalid Kline", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			// high 低于 open，校验必须拦下。
			fmt.Fprintf(w, `[[%d,"42000","41000","41900","42050","123",%d,"0",0,"0","0","0"]]`,
				jan1, jan1+hourMs-1)
		}, Config{})

		_, err := c.FetchKlines(context.Background(), "BTCUSDT", tf, jan1, jan1)
		assert.Error(t, err)
	})

	t.Run("Breaker Opens After Failures", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, Config{MaxRetries: 2, BreakerFailures: 3, BreakerTimeout: time.Minute})

		_, err := c.FetchKlines(context.Background(), "BTCUSDT", tf, jan1, jan1)
		assert.Error(t, err)
		// 两次尝试已记 2 次失败；再来一次把熔断器推到阈值。
		_, err = c.FetchKlines(context.Background(), "BTCUSDT", tf, jan1, jan1)
		assert.Error(t, err)

		_, err = c.FetchKlines(context.Background(), "BTCUSDT", tf, jan1, jan1)
		var oerr *CircuitOpenError
		assert.ErrorAs(t, err, &oerr)
	})
}

func TestChunkMillis(t *testing.T) {
	tf, _ := market.ParseTimeframe("1h")
	c := New(Config{MaxPerRequest: 1000})
	// 闭区间里正好 1000 根。
	assert.Equal(t, tf.Step()*999, c.ChunkMillis(tf))
	assert.Equal(t, int64(1000), tf.ExpectedCandles(jan1, jan1+c.ChunkMillis(tf)))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3"))
}
