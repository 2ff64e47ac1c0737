package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"candlesync/internal/logger"
	"candlesync/internal/market"
	"candlesync/internal/pkg/circuit"
	symbolpkg "candlesync/internal/pkg/symbol"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Config 配置交易所 K 线客户端。
type Config struct {
	BaseURL         string
	KlinesPath      string
	Source          string
	HTTPTimeout     time.Duration
	MaxPerRequest   int // 单次请求最大 K 线数
	MaxRetries      int // 总尝试次数（含首次）
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	RateLimitPerMin int
	BreakerFailures int
	BreakerTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://fapi.binance.com"
	}
	if c.KlinesPath == "" {
		c.KlinesPath = "/fapi/v1/klines"
	}
	if c.Source == "" {
		c.Source = "binance"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.MaxPerRequest <= 0 || c.MaxPerRequest > 1000 {
		c.MaxPerRequest = 1000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 4
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 8 * time.Second
	}
	if c.RateLimitPerMin <= 0 {
		c.RateLimitPerMin = 480
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

// Client 封装交易所 kline REST 接口：限流、指数退避重试、状态码分类。
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	breaker *circuit.Breaker

	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) *Client {
	final := cfg.withDefaults()
	return &Client{
		cfg:     final,
		client:  &http.Client{Timeout: final.HTTPTimeout},
		limiter: rate.NewLimiter(rate.Limit(float64(final.RateLimitPerMin)/60.0), final.RateLimitPerMin/6+1),
		breaker: circuit.NewBreaker(final.Source, final.BreakerFailures, final.BreakerTimeout),
		sleep:   sleepCtx,
	}
}

// Name 返回数据源标识（作为 Candle.Source 落库）。
func (c *Client) Name() string { return c.cfg.Source }

// MaxPerRequest 返回单次请求的 K 线上限。
func (c *Client) MaxPerRequest() int { return c.cfg.MaxPerRequest }

// ChunkMillis 返回单个分片允许覆盖的毫秒跨度：
// step × (maxPerRequest-1)，保证闭区间内的 K 线数不超过单次请求上限。
func (c *Client) ChunkMillis(tf market.Timeframe) int64 {
	return tf.Step() * int64(c.cfg.MaxPerRequest-1)
}

// FetchKlines 拉取 [start,end]（毫秒闭区间）的 K 线，按 open_time 升序返回。
// 2xx 解析返回；非限流 4xx 立即失败；429/418 按 Retry-After 或指数退避重试；
// 5xx 与网络错误在预算内指数退避重试。
func (c *Client) FetchKlines(ctx context.Context, symbol string, tf market.Timeframe, start, end int64) ([]market.Candle, error) {
	symbol = symbolpkg.Canonical(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	if end < start {
		start, end = end, start
	}
	limit := int(tf.ExpectedCandles(start, end))
	if limit < 1 {
		limit = 1
	}
	if limit > c.cfg.MaxPerRequest {
		limit = c.cfg.MaxPerRequest
	}
	reqURL := c.klinesURL(symbol, tf.SourceInterval, start, end, limit)

	for attempt := 1; ; attempt++ {
		if !c.breaker.Allow() {
			return nil, &CircuitOpenError{Name: c.cfg.Source}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		candles, retryIn, err := c.doFetch(ctx, reqURL, symbol, tf)
		if err == nil {
			return candles, nil
		}
		if !retryable(err) {
			return nil, err
		}
		if attempt >= c.cfg.MaxRetries {
			return nil, finalizeAttempts(err, attempt)
		}
		wait := retryIn
		if wait <= 0 {
			wait = c.backoffDelay(attempt)
		}
		logger.Warnf("[exchange] %s %s 第 %d 次请求失败，%s 后重试: %v", symbol, tf.Key, attempt, wait, err)
		if serr := c.sleep(ctx, wait); serr != nil {
			return nil, serr
		}
	}
}

func (c *Client) klinesURL(symbol, interval string, start, end int64, limit int) string {
	u, _ := url.Parse(c.cfg.BaseURL)
	u.Path = c.cfg.KlinesPath
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("startTime", strconv.FormatInt(start, 10))
	q.Set("endTime", strconv.FormatInt(end, 10))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()
	return u.String()
}

// doFetch 发起单次 HTTP 请求并按状态码分类。返回的 retryIn 仅在限流时携带服务端等待时长。
func (c *Client) doFetch(ctx context.Context, reqURL, symbol string, tf market.Timeframe) ([]market.Candle, time.Duration, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, &ClientError{Msg: err.Error()}
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, 0, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.breaker.RecordSuccess()
		candles, err := c.parseBody(resp.Body, symbol, tf)
		if err != nil {
			return nil, 0, err
		}
		return candles, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
		// 限流不计入熔断失败：服务端仍在正常工作，只是让我们慢一点。
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, wait, &RateLimitError{Status: resp.StatusCode, RetryAfter: wait}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, 0, &ClientError{
			Status: resp.StatusCode,
			Code:   gjson.GetBytes(body, "code").Int(),
			Msg:    gjson.GetBytes(body, "msg").String(),
		}
	default:
		c.breaker.RecordFailure()
		return nil, 0, &TransientError{Status: resp.StatusCode}
	}
}

// parseBody 解析固定位置数组响应：
// [open_time, open, high, low, close, volume, close_time, ...]，数值字段为字符串。
func (c *Client) parseBody(r io.Reader, symbol string, tf market.Timeframe) ([]market.Candle, error) {
	var raw [][]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("解析 kline 响应失败: %w", err)
	}
	out := make([]market.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		openTime, _ := tf.AlignRange(toInt64(row[0]), toInt64(row[0]))
		candle := market.Candle{
			Symbol:    symbol,
			Timeframe: tf.Key,
			OpenTime:  openTime,
			Open:      toDecimal(row[1]),
			High:      toDecimal(row[2]),
			Low:       toDecimal(row[3]),
			Close:     toDecimal(row[4]),
			Volume:    toDecimal(row[5]),
			Source:    c.cfg.Source,
		}
		if err := candle.Validate(); err != nil {
			return nil, fmt.Errorf("kline 数据非法: %w", err)
		}
		out = append(out, candle)
	}
	return out, nil
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	// 基本指数退避：base, 2*base, 4*base ...
	d := c.cfg.RetryBaseDelay << (attempt - 1)
	if d > c.cfg.RetryMaxDelay || d <= 0 {
		d = c.cfg.RetryMaxDelay
	}
	return d
}

func retryable(err error) bool {
	switch err.(type) {
	case *RateLimitError, *TransientError:
		return true
	default:
		return false
	}
}

func finalizeAttempts(err error, attempts int) error {
	switch e := err.(type) {
	case *RateLimitError:
		e.Attempts = attempts
		return e
	case *TransientError:
		e.Attempts = attempts
		return e
	default:
		return err
	}
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func toDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(t)
	default:
		return decimal.Zero
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case string:
		i, _ := strconv.ParseInt(t, 10, 64)
		return i
	case float64:
		return int64(t)
	default:
		return 0
	}
}
