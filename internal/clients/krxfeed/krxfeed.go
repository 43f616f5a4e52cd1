// Package krxfeed is the live quote client for position monitoring's
// price lookups: a websocket connection to an upstream KRX market-data
// relay, fanned out into Redis so every other process (the monitor
// sweep, the HTTP server, a future dashboard) reads the same cached
// last price instead of each holding its own socket. Reconnects go
// through internal/retry's backoff.
package krxfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/retry"
)

// Config holds the feed client's wiring.
type Config struct {
	WebsocketURL string
	RedisAddr    string
	RedisDB      int
	Tickers      []string

	// SignificantChangePct is the minimum absolute percentage move from
	// the previously cached price that promotes an update from
	// stock:price:update to also publishing on stock:price:significant_change.
	SignificantChangePct decimal.Decimal

	// LimitPct is KRX's daily price-limit band (±30% of the previous
	// close); a quote within LimitWarningPct of the limit also
	// publishes to stock:price:alert.
	LimitPct        decimal.Decimal
	LimitWarningPct decimal.Decimal
}

// DefaultConfig returns KRX's standing ±30% daily limit band with a
// 2-point warning margin and a 3% significant-change threshold — none
// of these are tunable by the exchange, so they are defaults, not
// config-file overrides.
func DefaultConfig() Config {
	return Config{
		SignificantChangePct: decimal.NewFromInt(3),
		LimitPct:             decimal.NewFromInt(30),
		LimitWarningPct:      decimal.NewFromInt(2),
	}
}

// quoteMessage is the upstream wire format: one tick per message.
type quoteMessage struct {
	Ticker        string    `json:"ticker"`
	Price         decimal.Decimal `json:"price"`
	Volume        int64     `json:"volume"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Timestamp     time.Time `json:"timestamp"`
}

// cachedQuote is what's stored at price:latest:{ticker}.
type cachedQuote struct {
	Ticker    string          `json:"ticker"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// event is the pub/sub envelope published alongside each cached quote.
type event struct {
	EventType string      `json:"event_type"`
	Ticker    string      `json:"ticker"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

const (
	channelUpdate            = "stock:price:update"
	channelSignificantChange = "stock:price:significant_change"
	channelAlert             = "stock:price:alert"

	cacheTTL = time.Hour
)

// Client streams quotes from the upstream feed into Redis.
type Client struct {
	cfg   Config
	redis *redis.Client
	log   zerolog.Logger
}

// New builds a Client. The Redis connection is opened lazily on first use.
func New(cfg Config, log zerolog.Logger) *Client {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	return &Client{cfg: cfg, redis: rdb, log: log.With().Str("component", "krxfeed").Logger()}
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.redis.Close()
}

// Run connects to the upstream feed and streams quotes until ctx is
// cancelled, reconnecting with internal/retry's backoff on any
// connection failure. It only returns once ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := retry.Do(ctx, retry.Default(), func(ctx context.Context) error {
			return c.streamOnce(ctx)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.log.Error().Err(err).Msg("feed connection failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
}

// streamOnce dials the upstream feed once and processes messages until
// the connection drops or ctx is cancelled.
func (c *Client) streamOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WebsocketURL, nil)
	if err != nil {
		return fmt.Errorf("krxfeed: dial: %w", err)
	}
	defer conn.Close()

	c.log.Info().Str("url", c.cfg.WebsocketURL).Msg("feed connected")

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	for {
		var msg quoteMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-done:
				return ctx.Err()
			default:
			}
			return fmt.Errorf("krxfeed: read: %w", err)
		}
		if err := c.handleQuote(ctx, msg); err != nil {
			c.log.Error().Err(err).Str("ticker", msg.Ticker).Msg("handle quote failed")
		}
	}
}

// handleQuote caches the quote and publishes it, plus the
// significant-change and limit-band alerts when the move warrants them.
func (c *Client) handleQuote(ctx context.Context, msg quoteMessage) error {
	prev, havePrev, err := c.lastPrice(ctx, msg.Ticker)
	if err != nil {
		return fmt.Errorf("read previous price: %w", err)
	}

	cached := cachedQuote{Ticker: msg.Ticker, Price: msg.Price, Volume: msg.Volume, Timestamp: msg.Timestamp}
	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}
	if err := c.redis.Set(ctx, cacheKey(msg.Ticker), data, cacheTTL).Err(); err != nil {
		return fmt.Errorf("cache quote: %w", err)
	}

	if err := c.publish(ctx, channelUpdate, msg.Ticker, msg.Timestamp, cached); err != nil {
		return err
	}

	significant, alert := classifyMove(msg, prev, havePrev, c.cfg)
	if significant {
		if err := c.publish(ctx, channelSignificantChange, msg.Ticker, msg.Timestamp, cached); err != nil {
			return err
		}
	}
	if alert {
		if err := c.publish(ctx, channelAlert, msg.Ticker, msg.Timestamp, cached); err != nil {
			return err
		}
	}

	return nil
}

// classifyMove decides which of stock:price:significant_change /
// stock:price:alert a quote also warrants, beyond the unconditional
// stock:price:update. Pure function: no I/O, easy to test against the
// threshold math directly.
func classifyMove(msg quoteMessage, prev decimal.Decimal, havePrev bool, cfg Config) (significant, alert bool) {
	if havePrev && !prev.IsZero() {
		changePct := msg.Price.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Abs()
		significant = changePct.GreaterThanOrEqual(cfg.SignificantChangePct)
	}
	if !msg.PreviousClose.IsZero() {
		moveFromClosePct := msg.Price.Sub(msg.PreviousClose).Div(msg.PreviousClose).Mul(decimal.NewFromInt(100)).Abs()
		alert = moveFromClosePct.GreaterThanOrEqual(cfg.LimitPct.Sub(cfg.LimitWarningPct))
	}
	return significant, alert
}

func (c *Client) publish(ctx context.Context, channel, ticker string, ts time.Time, data interface{}) error {
	payload, err := json.Marshal(event{EventType: channel, Ticker: ticker, Timestamp: ts, Data: data})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := c.redis.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (c *Client) lastPrice(ctx context.Context, ticker string) (decimal.Decimal, bool, error) {
	raw, err := c.redis.Get(ctx, cacheKey(ticker)).Bytes()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	var cached cachedQuote
	if err := json.Unmarshal(raw, &cached); err != nil {
		return decimal.Zero, false, err
	}
	return cached.Price, true, nil
}

func cacheKey(ticker string) string {
	return "price:latest:" + ticker
}

// LastPrice implements monitor.PriceSource and signals.PriceSource by
// reading the Redis cache this client maintains — the live-mode
// replacement for internal/app's FilePriceSource.
func (c *Client) LastPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	price, ok, err := c.lastPrice(ctx, ticker)
	if err != nil {
		return decimal.Zero, fmt.Errorf("krxfeed: %w", err)
	}
	if !ok {
		return decimal.Zero, fmt.Errorf("krxfeed: no cached price for %s", ticker)
	}
	return price, nil
}

// CurrentPrice is an alias of LastPrice for signals.PriceSource callers.
func (c *Client) CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	return c.LastPrice(ctx, ticker)
}
