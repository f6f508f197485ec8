package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Mainnet mints for the tokens tracked by default.
const (
	USDTMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Token describes one tracked SPL token.
type Token struct {
	Symbol   string
	Mint     string
	Decimals int
	MinAlert float64
}

type Config struct {
	SolanaRPCEndpoint string
	SolanaWSEndpoint  string
	TelegramToken     string
	ChatIDs           []int64
	WalletAddress     string

	// Mode selects the scan strategy: "poll", "push" or "hybrid".
	Mode         string
	PollInterval time.Duration
	// SignatureLimit is how many recent signatures each poll cycle fetches.
	SignatureLimit int

	// DedupPolicy is "cursor" or "seenset".
	DedupPolicy  string
	SeenCapacity int
	StateFile    string

	PriceTTL     time.Duration
	PriceAPIBase string

	LogoURL   string
	SendDelay time.Duration

	Tokens         []Token
	SOLMinAlert    float64
	DefaultMinimum float64
}

// Load reads configuration from the environment (and .env if present).
// A missing bot token, wallet address or chat list is a startup error;
// everything else falls back to defaults.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		SolanaRPCEndpoint: getEnv("SOLANA_RPC_ENDPOINT", "https://api.mainnet-beta.solana.com"),
		SolanaWSEndpoint:  getEnv("SOLANA_WS_ENDPOINT", "wss://api.mainnet-beta.solana.com"),
		TelegramToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		WalletAddress:     os.Getenv("WALLET_ADDRESS"),
		Mode:              getEnv("MODE", "hybrid"),
		PollInterval:      time.Duration(getEnvInt("POLL_INTERVAL_SEC", 10)) * time.Second,
		SignatureLimit:    getEnvInt("SIGNATURE_LIMIT", 20),
		DedupPolicy:       getEnv("DEDUP_POLICY", "cursor"),
		SeenCapacity:      getEnvInt("SEEN_CAPACITY", 3000),
		StateFile:         os.Getenv("STATE_FILE"),
		PriceTTL:          time.Duration(getEnvInt("PRICE_TTL_SEC", 60)) * time.Second,
		PriceAPIBase:      getEnv("PRICE_API_BASE", "https://api.coingecko.com/api/v3"),
		LogoURL:           getEnv("LOGO_URL", "https://i.postimg.cc/sfBjhT6D/Whats-App-Image-2025-12-23-at-12-19-02-AM.jpg"),
		SendDelay:         time.Duration(getEnvInt("SEND_DELAY_MS", 800)) * time.Millisecond,
		SOLMinAlert:       getEnvFloat("SOL_MIN_ALERT", 0.01),
		DefaultMinimum:    getEnvFloat("MIN_ALERT", 1),
	}

	switch cfg.Mode {
	case "poll", "push", "hybrid":
	default:
		return nil, fmt.Errorf("invalid MODE %q (want poll, push or hybrid)", cfg.Mode)
	}

	switch cfg.DedupPolicy {
	case "cursor", "seenset":
	default:
		return nil, fmt.Errorf("invalid DEDUP_POLICY %q (want cursor or seenset)", cfg.DedupPolicy)
	}

	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.WalletAddress == "" {
		return nil, fmt.Errorf("WALLET_ADDRESS is required")
	}

	chatIDs, err := parseChatIDs(os.Getenv("CHAT_IDS"))
	if err != nil {
		return nil, err
	}
	cfg.ChatIDs = chatIDs

	tokens, err := parseTokens(os.Getenv("TRACKED_TOKENS"), cfg.DefaultMinimum)
	if err != nil {
		return nil, err
	}
	cfg.Tokens = tokens

	return cfg, nil
}

// Token returns the tracked token with the given mint, if any.
func (c *Config) TokenByMint(mint string) (Token, bool) {
	for _, t := range c.Tokens {
		if t.Mint == mint {
			return t, true
		}
	}
	return Token{}, false
}

func parseChatIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("CHAT_IDS is required (comma-separated Telegram chat ids)")
	}

	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q: %v", part, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("CHAT_IDS is required (comma-separated Telegram chat ids)")
	}
	return ids, nil
}

// parseTokens parses TRACKED_TOKENS entries of the form
// SYMBOL:mint:decimals[:minAlert]. An empty value selects the USDT/USDC
// mainnet defaults.
func parseTokens(raw string, defaultMin float64) ([]Token, error) {
	if strings.TrimSpace(raw) == "" {
		return []Token{
			{Symbol: "USDT", Mint: USDTMint, Decimals: 6, MinAlert: defaultMin},
			{Symbol: "USDC", Mint: USDCMint, Decimals: 6, MinAlert: defaultMin},
		}, nil
	}

	var tokens []Token
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		fields := strings.Split(entry, ":")
		if len(fields) != 3 && len(fields) != 4 {
			return nil, fmt.Errorf("invalid TRACKED_TOKENS entry %q (want SYMBOL:mint:decimals[:minAlert])", entry)
		}

		decimals, err := strconv.Atoi(fields[2])
		if err != nil || decimals < 0 {
			return nil, fmt.Errorf("invalid decimals in TRACKED_TOKENS entry %q", entry)
		}

		minAlert := defaultMin
		if len(fields) == 4 {
			minAlert, err = strconv.ParseFloat(fields[3], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid minAlert in TRACKED_TOKENS entry %q", entry)
			}
		}

		tokens = append(tokens, Token{
			Symbol:   strings.ToUpper(fields[0]),
			Mint:     fields[1],
			Decimals: decimals,
			MinAlert: minAlert,
		})
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("TRACKED_TOKENS must list at least one token")
	}
	return tokens, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}
