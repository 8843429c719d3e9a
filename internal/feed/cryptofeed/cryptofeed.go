// Package cryptofeed implements the crypto spot/futures feed client
// (SPEC_FULL.md C2), grounded on the teacher's BinanceFutures websocket
// client in main.go for the dial/read/reconnect loop shape, and using
// adshao/go-binance/v2 only for startup symbol validation against
// Binance's published ExchangeInfo (the teacher's apiValidationProbe
// pattern), since the price stream itself is consumed as raw frames.
package cryptofeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/sentineldesk/tracker/internal/feed"
	"github.com/sentineldesk/tracker/internal/model"
	"github.com/sentineldesk/tracker/internal/obslog"
	"github.com/sentineldesk/tracker/internal/symbol"
)

const streamBase = "wss://stream.binance.com:9443/stream?streams="

type bookTickerMsg struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol   string `json:"s"`
		BidPrice string `json:"b"`
		AskPrice string `json:"a"`
	} `json:"data"`
}

// Client streams Binance best-bid/ask book tickers over a single combined
// websocket connection for every subscribed symbol.
type Client struct {
	dialer *websocket.Dialer
	log    *obslog.Logger

	mu   sync.Mutex
	subs map[string]struct{}
}

func New() *Client {
	return &Client{
		dialer: websocket.DefaultDialer,
		log:    obslog.New("feed.cryptofeed"),
		subs:   make(map[string]struct{}),
	}
}

func (c *Client) Feed() symbol.Feed { return symbol.FeedCrypto }

func (c *Client) Subscribe(feedSymbols ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range feedSymbols {
		c.subs[strings.ToLower(s)] = struct{}{}
	}
}

func (c *Client) Unsubscribe(feedSymbols ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range feedSymbols {
		delete(c.subs, strings.ToLower(s))
	}
}

func (c *Client) streamURL() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) == 0 {
		return "", false
	}
	streams := make([]string, 0, len(c.subs))
	for s := range c.subs {
		streams = append(streams, s+"@bookTicker")
	}
	return streamBase + strings.Join(streams, "/"), true
}

// ValidateSymbols checks candidate feed symbols against Binance's published
// exchange info, dropping any that are not actively trading. Grounded on
// the teacher's pre-flight validation of validSymbols before subscribing.
func ValidateSymbols(candidates []string) ([]string, error) {
	info, err := binance.NewClient("", "").NewExchangeInfoService().Do(context.Background())
	if err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}
	known := make(map[string]bool, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" {
			known[strings.ToUpper(s.Symbol)] = true
		}
	}
	out := make([]string, 0, len(candidates))
	for _, sym := range candidates {
		if known[strings.ToUpper(sym)] {
			out = append(out, sym)
		}
	}
	return out, nil
}

func (c *Client) Run(ctx context.Context, out chan<- model.Quote) {
	backoff := feed.NewBackoff(5*time.Second, 30*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		url, ok := c.streamURL()
		if !ok {
			if !feed.Sleep(ctx, 1*time.Second) {
				return
			}
			continue
		}

		conn, _, err := c.dialer.DialContext(ctx, url, nil)
		if err != nil {
			d := backoff.Next()
			c.log.Printf("connect failed: %v, retrying in %s", err, d)
			if !feed.Sleep(ctx, d) {
				return
			}
			continue
		}
		backoff.Reset()
		c.log.Printf("connected (%d symbols)", len(c.subs))
		c.readLoop(ctx, conn, out)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- model.Quote) {
	defer conn.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.log.Printf("read error: %v, reconnecting", err)
			return
		}

		var msg bookTickerMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Data.Symbol == "" {
			continue
		}

		bid, err := decimal.NewFromString(msg.Data.BidPrice)
		if err != nil {
			continue
		}
		ask, err := decimal.NewFromString(msg.Data.AskPrice)
		if err != nil {
			continue
		}

		quote := model.Quote{
			Symbol:     msg.Data.Symbol,
			Bid:        bid,
			Ask:        ask,
			Timestamp:  time.Now(),
			FeedOrigin: symbol.FeedCrypto,
		}
		select {
		case out <- quote:
		case <-ctx.Done():
			return
		}
	}
}

var _ feed.Client = (*Client)(nil)
