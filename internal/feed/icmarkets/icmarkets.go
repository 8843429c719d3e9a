// Package icmarkets implements the polling-based IC Markets feed client
// (SPEC_FULL.md C2/Exchange A), grounded on
// original_source/price_feeds/icmarkets_feed.py for the poll/parse shape
// and on NimbleMarkets-dbn-go's retryablehttp.Client usage for transient
// HTTP retry handling.
package icmarkets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"github.com/sentineldesk/tracker/internal/model"
	"github.com/sentineldesk/tracker/internal/obslog"
	"github.com/sentineldesk/tracker/internal/symbol"
)

const pollInterval = 100 * time.Millisecond

type quoteMsg struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// Client polls IC Markets' REST quote endpoint for every subscribed symbol
// once per pollInterval.
type Client struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
	log     *obslog.Logger

	mu   sync.Mutex
	subs map[string]struct{}
}

func New(baseURL, apiKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    rc,
		log:     obslog.New("feed.icmarkets"),
		subs:    make(map[string]struct{}),
	}
}

func (c *Client) Feed() symbol.Feed { return symbol.FeedICMarkets }

func (c *Client) Subscribe(feedSymbols ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range feedSymbols {
		c.subs[s] = struct{}{}
	}
}

func (c *Client) Unsubscribe(feedSymbols ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range feedSymbols {
		delete(c.subs, s)
	}
}

func (c *Client) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for s := range c.subs {
		out = append(out, s)
	}
	return out
}

func (c *Client) Run(ctx context.Context, out chan<- model.Quote) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx, out)
		}
	}
}

func (c *Client) pollOnce(ctx context.Context, out chan<- model.Quote) {
	syms := c.snapshot()
	if len(syms) == 0 {
		return
	}

	reqURL := fmt.Sprintf("%s/quotes?symbols=%s", c.baseURL, url.QueryEscape(strings.Join(syms, ",")))
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		c.log.Printf("build request: %v", err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Printf("poll failed: %v", err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Printf("read body: %v", err)
		return
	}

	var quotes []quoteMsg
	if err := json.Unmarshal(body, &quotes); err != nil {
		c.log.Printf("parse body: %v", err)
		return
	}

	now := time.Now()
	for _, q := range quotes {
		quote := model.Quote{
			Symbol:     q.Symbol,
			Bid:        decimal.NewFromFloat(q.Bid),
			Ask:        decimal.NewFromFloat(q.Ask),
			Timestamp:  now,
			FeedOrigin: symbol.FeedICMarkets,
		}
		select {
		case out <- quote:
		case <-ctx.Done():
			return
		}
	}
}
