package price

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/degenuniversemarketing-lang/solana-tracker/internal/logging"
)

// Cache memoizes USD prices per asset symbol with a TTL. Lookups never
// fail outward: a refresh error falls back to the last known value, and
// failing that to a hardcoded per-asset default (0 for SOL, 1 for
// USD-pegged stables).
type Cache struct {
	provider Provider
	symbols  []string
	fresh    *gocache.Cache
	known    *gocache.Cache
	mu       sync.Mutex
	logger   *log.Logger
}

// NewCache creates a price cache refreshing the given symbols as one
// batch. ttl bounds how long a quote is used without a refresh attempt.
func NewCache(provider Provider, symbols []string, ttl time.Duration) *Cache {
	var out io.Writer = io.Discard
	if logFile, err := logging.CreateLogFile("price.log"); err == nil {
		out = logging.CreateMultiWriter(logFile)
	}

	return &Cache{
		provider: provider,
		symbols:  append([]string(nil), symbols...),
		fresh:    gocache.New(ttl, 2*ttl),
		known:    gocache.New(gocache.NoExpiration, 0),
		logger:   log.New(out, "[PRICE] ", log.LstdFlags),
	}
}

// Price returns the USD price for symbol. A fresh cached quote is
// served directly; otherwise all configured symbols are refreshed in
// one call and the result stored as a group.
func (c *Cache) Price(symbol string) float64 {
	if v, ok := c.fresh.Get(symbol); ok {
		return v.(float64)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have refreshed while we waited.
	if v, ok := c.fresh.Get(symbol); ok {
		return v.(float64)
	}

	quotes, err := c.provider.Quotes(context.Background(), c.symbols)
	if err != nil {
		c.logger.Printf("[ERROR] Price refresh failed: %v", err)
		return c.lastKnown(symbol)
	}

	for sym, usd := range quotes {
		c.fresh.Set(sym, usd, gocache.DefaultExpiration)
		c.known.Set(sym, usd, gocache.NoExpiration)
	}

	if v, ok := c.fresh.Get(symbol); ok {
		return v.(float64)
	}
	return c.lastKnown(symbol)
}

func (c *Cache) lastKnown(symbol string) float64 {
	if v, ok := c.known.Get(symbol); ok {
		return v.(float64)
	}
	return fallbackPrice(symbol)
}

// fallbackPrice is the value of last resort: stables are 1 by
// definition, everything else reports 0 (unknown).
func fallbackPrice(symbol string) float64 {
	switch symbol {
	case "USDT", "USDC":
		return 1
	default:
		return 0
	}
}
