package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentineldesk/tracker/internal/clock"
	"github.com/sentineldesk/tracker/internal/config"
)

func TestMarketOpenCrypto(t *testing.T) {
	now := time.Date(2026, 7, 25, 3, 0, 0, 0, time.UTC) // a Saturday
	assert.True(t, MarketOpen("crypto", now, config.DefaultHealthConfig().MarketHours))
}

func TestMarketOpenForexWeekend(t *testing.T) {
	cfg := config.DefaultHealthConfig().MarketHours
	sat := time.Date(2026, 8, 1, 12, 0, 0, 0, clock.NewYork) // Saturday
	assert.False(t, MarketOpen("forex", sat, cfg))

	sunBeforeOpen := time.Date(2026, 8, 2, 17, 0, 0, 0, clock.NewYork)
	assert.False(t, MarketOpen("forex", sunBeforeOpen, cfg))

	sunAfterOpen := time.Date(2026, 8, 2, 18, 30, 0, 0, clock.NewYork)
	assert.True(t, MarketOpen("forex", sunAfterOpen, cfg))

	friBeforeClose := time.Date(2026, 7, 31, 16, 0, 0, 0, clock.NewYork)
	assert.True(t, MarketOpen("forex", friBeforeClose, cfg))

	friAfterClose := time.Date(2026, 7, 31, 17, 30, 0, 0, clock.NewYork)
	assert.False(t, MarketOpen("forex", friAfterClose, cfg))
}

func TestMarketOpenStocksHoliday(t *testing.T) {
	cfg := config.DefaultHealthConfig().MarketHours
	cfg.Holidays = []string{"2026-12-25"}
	xmas := time.Date(2026, 12, 25, 10, 0, 0, 0, clock.NewYork)
	assert.False(t, MarketOpen("stocks", xmas, cfg))

	regular := time.Date(2026, 7, 29, 10, 0, 0, 0, clock.NewYork) // Wednesday
	assert.True(t, MarketOpen("stocks", regular, cfg))
}

func TestIsSpreadHour(t *testing.T) {
	cfg := config.DefaultHealthConfig().MarketHours
	during := time.Date(2026, 7, 29, 17, 30, 0, 0, clock.NewYork)
	assert.True(t, IsSpreadHour(during, cfg))

	before := time.Date(2026, 7, 29, 16, 59, 0, 0, clock.NewYork)
	assert.False(t, IsSpreadHour(before, cfg))
}

func TestCheckClassifiesStaleFeedDown(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 7, 29, 10, 0, 0, 0, clock.NewYork))
	cfg := config.DefaultHealthConfig()
	cfg.StartupGracePeriodSeconds = 0
	m := New(cfg, fc, nil, nil)

	m.Observe("icmarkets", "EURUSD", fc.Now())
	fc.Advance(time.Duration(cfg.StaleThresholdSeconds+1) * time.Second)
	m.Check()

	stats := m.Stats()
	assert.Equal(t, StatusDown, stats["icmarkets"].Status)
}
