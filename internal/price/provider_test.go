package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinGeckoQuotes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "solana,tether", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"solana":{"usd":147.32},"tether":{"usd":0.999}}`))
	}))
	defer server.Close()

	provider := NewCoinGecko(server.URL)
	quotes, err := provider.Quotes(context.Background(), []string{"SOL", "USDT"})
	require.NoError(t, err)

	assert.Equal(t, 147.32, quotes["SOL"])
	assert.Equal(t, 0.999, quotes["USDT"])
}

func TestCoinGeckoMissingSymbol(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"solana":{"usd":147.32}}`))
	}))
	defer server.Close()

	provider := NewCoinGecko(server.URL)
	_, err := provider.Quotes(context.Background(), []string{"SOL", "USDT"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "USDT")
}

func TestCoinGeckoHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	provider := NewCoinGecko(server.URL)
	_, err := provider.Quotes(context.Background(), []string{"SOL"})
	assert.Error(t, err)
}

func TestCoinGeckoMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	provider := NewCoinGecko(server.URL)
	_, err := provider.Quotes(context.Background(), []string{"SOL"})
	assert.Error(t, err)
}
