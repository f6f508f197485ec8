package solana

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"

	"github.com/degenuniversemarketing-lang/solana-tracker/internal/logging"
)

const (
	initialBackoff = 5 * time.Second
	maxBackoff     = 2 * time.Minute

	// Rate limiting constants
	rateLimit   = 10                     // requests per second
	burstLimit  = 15                     // burst capacity
	minWaitTime = 100 * time.Millisecond // minimum wait between requests
)

// Client wraps the Solana RPC client with rate limiting and backoff on
// provider throttling.
type Client struct {
	rpcClient    *rpc.Client
	endpoint     string
	logger       *log.Logger
	backoff      time.Duration
	rateLimiter  *rate.Limiter
	lastRequest  time.Time
	lastReqMutex sync.Mutex
}

// NewClient creates a new Solana client and verifies the endpoint is
// reachable.
func NewClient(endpoint string) (*Client, error) {
	logFile, err := logging.CreateLogFile("solana-rpc.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %v", err)
	}

	logger := log.New(logging.CreateMultiWriter(logFile), "[SOLANA-RPC] ", log.LstdFlags|log.Lmicroseconds)
	logger.Printf("Initializing Solana RPC client with endpoint: %s", endpoint)

	client := rpc.New(endpoint)

	// Test connection
	logger.Printf("Testing RPC connection...")
	slot, err := client.GetSlot(context.Background(), rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %v", err)
	}
	logger.Printf("[SUCCESS] RPC connection successful! Current slot: %d", slot)

	return &Client{
		rpcClient:   client,
		endpoint:    endpoint,
		logger:      logger,
		backoff:     initialBackoff,
		rateLimiter: rate.NewLimiter(rate.Limit(rateLimit), burstLimit),
		lastRequest: time.Now(),
	}, nil
}

// waitForRateLimit waits for a rate limit token and enforces the
// minimum wait time between requests.
func (c *Client) waitForRateLimit(ctx context.Context) error {
	c.lastReqMutex.Lock()
	timeSinceLastReq := time.Since(c.lastRequest)
	if timeSinceLastReq < minWaitTime {
		time.Sleep(minWaitTime - timeSinceLastReq)
	}
	c.lastReqMutex.Unlock()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %v", err)
	}

	c.lastReqMutex.Lock()
	c.lastRequest = time.Now()
	c.lastReqMutex.Unlock()
	return nil
}

// handleThrottle backs off when the provider reports throttling and
// reports whether the error was a rate-limit error.
func (c *Client) handleThrottle(err error) bool {
	if !strings.Contains(err.Error(), "Too many requests") {
		c.backoff = initialBackoff
		return false
	}

	c.logger.Printf("[RATE LIMIT] Hit rate limit, backing off for %v", c.backoff)
	time.Sleep(c.backoff)
	c.backoff *= 2
	if c.backoff > maxBackoff {
		c.backoff = maxBackoff
	}
	return true
}

// RecentSignatures lists the most recent transaction signatures for an
// address, most-recent-first, limited to limit entries.
func (c *Client) RecentSignatures(ctx context.Context, address solana.PublicKey, limit int) ([]string, error) {
	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, err
	}

	sigs, err := c.rpcClient.GetSignaturesForAddressWithOpts(ctx, address, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		c.handleThrottle(err)
		return nil, fmt.Errorf("get signatures for %s: %v", address, err)
	}
	c.backoff = initialBackoff

	out := make([]string, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, sig.Signature.String())
	}
	return out, nil
}

// Transaction fetches one fully parsed transaction by signature.
func (c *Client) Transaction(ctx context.Context, signature string) (*rpc.GetTransactionResult, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %s: %v", signature, err)
	}

	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, err
	}

	maxVersion := uint64(0)
	tx, err := c.rpcClient.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if c.handleThrottle(err) {
			return nil, fmt.Errorf("get transaction %s: throttled: %v", signature, err)
		}
		// Unsupported transaction versions are not worth alerting on.
		if strings.Contains(err.Error(), "Transaction version") {
			c.logger.Printf("[WARN] Skipping unsupported transaction version for %s", signature)
			return nil, nil
		}
		return nil, fmt.Errorf("get transaction %s: %v", signature, err)
	}
	c.backoff = initialBackoff

	return tx, nil
}

// TokenAccounts lists the token accounts owned by owner for the given
// mint.
func (c *Client) TokenAccounts(ctx context.Context, owner, mint solana.PublicKey) ([]solana.PublicKey, error) {
	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, err
	}

	result, err := c.rpcClient.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{Mint: &mint},
		&rpc.GetTokenAccountsOpts{Commitment: rpc.CommitmentConfirmed},
	)
	if err != nil {
		c.handleThrottle(err)
		return nil, fmt.Errorf("get token accounts for %s mint %s: %v", owner, mint, err)
	}
	c.backoff = initialBackoff

	accounts := make([]solana.PublicKey, 0, len(result.Value))
	for _, acc := range result.Value {
		accounts = append(accounts, acc.Pubkey)
	}
	return accounts, nil
}

// ValidateAddress reports whether address is a valid base58 public key.
func ValidateAddress(address string) error {
	_, err := solana.PublicKeyFromBase58(address)
	return err
}
