package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Provider fetches USD quotes for a batch of asset symbols in one call.
type Provider interface {
	Quotes(ctx context.Context, symbols []string) (map[string]float64, error)
}

// coinIDs maps asset symbols to CoinGecko coin ids.
var coinIDs = map[string]string{
	"SOL":  "solana",
	"USDT": "tether",
	"USDC": "usd-coin",
}

// CoinGecko implements Provider against the CoinGecko simple/price API.
type CoinGecko struct {
	base   string
	client *http.Client
}

// NewCoinGecko creates a provider for the given API base URL
// (e.g. https://api.coingecko.com/api/v3).
func NewCoinGecko(base string) *CoinGecko {
	return &CoinGecko{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Quotes requests USD prices for all symbols in a single batched call.
func (g *CoinGecko) Quotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	ids := make([]string, 0, len(symbols))
	bySymbol := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		id, ok := coinIDs[sym]
		if !ok {
			id = strings.ToLower(sym)
		}
		ids = append(ids, id)
		bySymbol[sym] = id
	}

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd",
		g.base, url.QueryEscape(strings.Join(ids, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build price request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var body map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}

	quotes := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		entry, ok := body[bySymbol[sym]]
		if !ok {
			return nil, fmt.Errorf("price API response missing %s", sym)
		}
		quotes[sym] = entry.USD
	}
	return quotes, nil
}
