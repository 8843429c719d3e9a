// Package symbol implements the Symbol Mapper (SPEC_FULL.md C1): a pure
// function library for asset-class classification, pip sizing and
// bidirectional translation between internal symbols and each feed's
// vocabulary. Grounded on original_source/price_feeds/symbol_mapper.py,
// generalized into Go value types instead of a JSON-backed class.
package symbol

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Feed names the three supported price feeds, in the vocabulary spec.md
// §4.2 uses ("Exchange A", "Broker B", "Crypto C").
type Feed string

const (
	FeedICMarkets Feed = "icmarkets" // "Exchange A": polling tick fetch
	FeedOanda     Feed = "oanda"     // "Broker B": v20 HTTP streaming
	FeedCrypto    Feed = "cryptofeed" // "Crypto C": multi-stream websocket
)

var forexCurrencies = map[string]bool{
	"EUR": true, "USD": true, "GBP": true, "JPY": true, "AUD": true,
	"NZD": true, "CAD": true, "CHF": true, "SEK": true, "NOK": true,
	"DKK": true, "PLN": true, "HUF": true, "CZK": true, "MXN": true,
	"ZAR": true, "SGD": true, "HKD": true, "CNH": true, "TRY": true,
}

var cryptoTickers = []string{"BTC", "ETH", "BNB", "XRP", "ADA", "DOGE", "SOL", "DOT", "AVAX", "TRX", "LTC", "LINK"}

var indexTokens = []string{"SPX", "NAS", "DOW", "DAX", "JP225", "NIKKEI", "US500", "USTEC", "US30", "US2000", "RUSSEL", "GER30", "DE30", "CHINA50"}

var oilTokens = []string{"WTI", "BRENT", "OIL", "USOIL", "USOILSPOT", "BCO"}

// AssetClass classifies an internal symbol per spec.md §4.1's deterministic
// rule order: crypto/metals/oil/stocks/indices before the 6-letter forex
// fallback, with JPY pairs routed to classForexJPY.
func AssetClass(sym string) assetClass {
	up := strings.ToUpper(sym)

	if strings.Contains(up, "USDT") {
		return classCrypto
	}
	for _, c := range cryptoTickers {
		if strings.Contains(up, c) {
			return classCrypto
		}
	}
	if containsAny(up, "XAU", "XAG", "GOLD", "SILVER") {
		return classMetals
	}
	if containsAny(up, oilTokens...) {
		return classOil
	}
	if strings.Contains(up, ".") || containsAny(up, ".NAS", ".NYSE", ".LON") {
		return classStocks
	}
	if containsAny(up, indexTokens...) {
		return classIndices
	}

	clean := strings.ReplaceAll(up, "/", "")
	if len(clean) == 6 && isAllLetters(clean) {
		c1, c2 := clean[:3], clean[3:]
		if forexCurrencies[c1] && forexCurrencies[c2] {
			if strings.Contains(clean, "JPY") {
				return classForexJPY
			}
			return classForex
		}
	}
	if len(sym) == 6 && isAllLetters(clean) {
		if strings.Contains(clean, "JPY") {
			return classForexJPY
		}
		return classForex
	}
	return classForex
}

type assetClass string

const (
	classForex    assetClass = "forex"
	classForexJPY assetClass = "forex_jpy"
	classMetals   assetClass = "metals"
	classIndices  assetClass = "indices"
	classStocks   assetClass = "stocks"
	classCrypto   assetClass = "crypto"
	classOil      assetClass = "oil"
)

// String implements fmt.Stringer so AssetClass values print as their bare
// name ("forex", not "classForex").
func (a assetClass) String() string { return string(a) }

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isAllLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// PipSize returns the price increment used to normalize PnL, per spec.md
// §4.1: JPY=0.01, XAU=0.01, XAG=0.001, BTC=1.0, indices=1.0, default=0.0001.
func PipSize(sym string) decimal.Decimal {
	up := strings.ToUpper(sym)
	class := AssetClass(sym)

	switch {
	case class == classForexJPY:
		return decimal.NewFromFloat(0.01)
	case strings.Contains(up, "XAU"):
		return decimal.NewFromFloat(0.01)
	case strings.Contains(up, "XAG"):
		return decimal.NewFromFloat(0.001)
	case strings.Contains(up, "BTC"):
		return decimal.NewFromInt(1)
	case class == classIndices:
		return decimal.NewFromInt(1)
	default:
		return decimal.NewFromFloat(0.0001)
	}
}

// feedPriority lists, per asset class, the feeds to try in order. Oil has no
// entry: it is unsupported (spec.md §4.1).
var feedPriority = map[assetClass][]Feed{
	classForex:    {FeedICMarkets, FeedOanda},
	classForexJPY: {FeedICMarkets, FeedOanda},
	classIndices:  {FeedOanda, FeedICMarkets},
	classCrypto:   {FeedCrypto},
	classMetals:   {FeedICMarkets},
	classStocks:   {FeedICMarkets},
}

// BestFeed returns the preferred feed for a symbol's asset class, or
// (zero-value, false) if the asset class is unsupported (oil).
func BestFeed(sym string) (Feed, bool) {
	class := AssetClass(sym)
	prio, ok := feedPriority[class]
	if !ok || len(prio) == 0 {
		return "", false
	}
	return prio[0], true
}

// FeedPriority returns the full ordered feed list for a symbol's asset
// class, for callers that want a fallback chain rather than just the best.
func FeedPriority(sym string) []Feed {
	return feedPriority[AssetClass(sym)]
}

var indexCurrencySuffixes = []string{"USD", "EUR", "GBP", "JPY", "AUD", "CAD", "CHF"}

// ToFeed converts an internal symbol to its feed-specific spelling.
// Returns ("", false) if the symbol has no mapping on feed.
//
// Round-trip law (spec.md §4.1): for every supported (sym, feed),
// FromFeed(ToFeed(sym, feed), feed) == sym, case-insensitive.
func ToFeed(sym string, feed Feed) (string, bool) {
	up := strings.ToUpper(sym)
	class := AssetClass(sym)

	switch feed {
	case FeedCrypto:
		base := up
		if strings.HasSuffix(base, "USDT") {
			return strings.ToLower(base), true
		}
		if strings.HasSuffix(base, "USD") {
			return strings.ToLower(base[:len(base)-3] + "USDT"), true
		}
		return strings.ToLower(base + "USDT"), true

	case FeedICMarkets:
		// Forex/metals/stocks pass through unchanged in ICMarkets' dialect.
		return up, true

	case FeedOanda:
		if (class == classForex || class == classForexJPY) && len(up) == 6 {
			return up[:3] + "_" + up[3:], true
		}
		if class == classIndices {
			if up == "JP225" {
				return "JP225_USD", true
			}
			for _, cur := range indexCurrencySuffixes {
				if strings.HasSuffix(up, cur) {
					base := up[:len(up)-len(cur)]
					if base != "" {
						return base + "_" + cur, true
					}
				}
			}
			return "", false
		}
		return "", false
	}
	return "", false
}

// FromFeed converts a feed-specific symbol back to internal form.
func FromFeed(feedSymbol string, feed Feed) (string, bool) {
	switch feed {
	case FeedCrypto:
		up := strings.ToUpper(feedSymbol)
		if strings.HasSuffix(up, "USDT") {
			return up, true
		}
		return up, true

	case FeedICMarkets:
		return strings.ToUpper(feedSymbol), true

	case FeedOanda:
		up := strings.ToUpper(feedSymbol)
		if up == "JP225_USD" {
			return "JP225", true
		}
		return strings.ReplaceAll(up, "_", ""), true
	}
	return "", false
}
