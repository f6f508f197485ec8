package watcher

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/degenuniversemarketing-lang/solana-tracker/internal/config"
	"github.com/degenuniversemarketing-lang/solana-tracker/internal/dedup"
	"github.com/degenuniversemarketing-lang/solana-tracker/internal/extract"
	"github.com/degenuniversemarketing-lang/solana-tracker/internal/logging"
	solclient "github.com/degenuniversemarketing-lang/solana-tracker/internal/solana"
)

// ChainClient defines the chain-data operations the watcher needs.
type ChainClient interface {
	RecentSignatures(ctx context.Context, address solana.PublicKey, limit int) ([]string, error)
	Transaction(ctx context.Context, signature string) (*rpc.GetTransactionResult, error)
	TokenAccounts(ctx context.Context, owner, mint solana.PublicKey) ([]solana.PublicKey, error)
}

// PushStream defines the push-subscription collaborator.
type PushStream interface {
	Run(ctx context.Context)
	Events() <-chan solclient.SignatureEvent
	Connected() bool
}

// Enqueuer accepts extracted transfer events for delivery.
type Enqueuer interface {
	Enqueue(ev extract.TransferEvent)
}

// Service owns the scan loop and/or push consumer for one watched
// wallet, feeding qualifying transfers into the dispatcher.
type Service struct {
	cfg        *config.Config
	chain      ChainClient
	stream     PushStream
	store      dedup.Store
	extractor  *extract.Extractor
	dispatcher Enqueuer

	wallet   solana.PublicKey
	wctx     *extract.Context
	scanning atomic.Bool

	logger *log.Logger
}

// NewService creates the watcher. stream may be nil when the mode does
// not use push delivery.
func NewService(cfg *config.Config, chain ChainClient, stream PushStream, store dedup.Store, dispatcher Enqueuer) (*Service, error) {
	wallet, err := solana.PublicKeyFromBase58(cfg.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet address %s: %v", cfg.WalletAddress, err)
	}
	if (cfg.Mode == "push" || cfg.Mode == "hybrid") && stream == nil {
		return nil, fmt.Errorf("mode %s requires a push stream", cfg.Mode)
	}

	var out io.Writer = io.Discard
	if logFile, err := logging.CreateLogFile("watcher.log"); err == nil {
		out = logging.CreateMultiWriter(logFile)
	}

	return &Service{
		cfg:        cfg,
		chain:      chain,
		stream:     stream,
		store:      store,
		extractor:  extract.NewExtractor(),
		dispatcher: dispatcher,
		wallet:     wallet,
		logger:     log.New(out, "[WATCHER] ", log.LstdFlags),
	}, nil
}

// Start resolves the watched token accounts, establishes the dedup
// baseline and runs the configured scan strategy until ctx is
// cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Printf("[STARTUP] Starting watcher for wallet %s (mode=%s)", s.cfg.WalletAddress, s.cfg.Mode)

	s.wctx = s.buildContext(ctx)

	// Establish the baseline before any events flow: a fresh deployment
	// must not replay the wallet's history.
	s.scanOnce(ctx)

	if s.stream != nil {
		go s.stream.Run(ctx)
		go s.consumePush(ctx)
	}

	if s.cfg.Mode == "poll" || s.cfg.Mode == "hybrid" {
		go s.pollLoop(ctx)
	}

	<-ctx.Done()
	s.logger.Printf("[SHUTDOWN] Watcher stopped")
	return nil
}

// buildContext resolves the wallet's token accounts per tracked mint.
// Resolution failures degrade: the instruction walk cannot match that
// token, but the balance-diff fallback still covers it.
func (s *Service) buildContext(ctx context.Context) *extract.Context {
	wctx := &extract.Context{
		Wallet:        s.wallet,
		TokenAccounts: make(map[solana.PublicKey]extract.TrackedToken),
		TokensByMint:  make(map[solana.PublicKey]extract.TrackedToken),
		NativeMinimum: decimal.NewFromFloat(s.cfg.SOLMinAlert),
	}

	for _, t := range s.cfg.Tokens {
		mint, err := solana.PublicKeyFromBase58(t.Mint)
		if err != nil {
			s.logger.Printf("[ERROR] Invalid mint for %s: %v", t.Symbol, err)
			continue
		}

		tracked := extract.TrackedToken{
			Symbol:   t.Symbol,
			Mint:     mint,
			Decimals: t.Decimals,
			Minimum:  decimal.NewFromFloat(t.MinAlert),
		}
		wctx.TokensByMint[mint] = tracked

		accounts, err := s.chain.TokenAccounts(ctx, s.wallet, mint)
		if err != nil {
			s.logger.Printf("[WARN] Could not resolve %s token accounts: %v", t.Symbol, err)
			continue
		}
		for _, acc := range accounts {
			wctx.TokenAccounts[acc] = tracked
		}
		s.logger.Printf("Tracking %s: %d token account(s)", t.Symbol, len(accounts))
	}
	return wctx
}

// pollLoop runs fixed-interval scan cycles. In hybrid mode cycles are
// skipped while the push stream is healthy; the shared dedup store
// makes the overlap safe either way.
func (s *Service) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.cfg.Mode == "hybrid" && s.stream != nil && s.stream.Connected() {
				continue
			}
			s.scanOnce(ctx)
		}
	}
}

// scanOnce fetches the recent signatures, admits the unseen ones and
// processes them oldest-first. A busy flag skips overlapping cycles
// rather than running them concurrently.
func (s *Service) scanOnce(ctx context.Context) {
	if !s.scanning.CompareAndSwap(false, true) {
		s.logger.Printf("[WARN] Previous scan still running, skipping cycle")
		return
	}
	defer s.scanning.Store(false)

	sigs, err := s.chain.RecentSignatures(ctx, s.wallet, s.cfg.SignatureLimit)
	if err != nil {
		s.logger.Printf("[ERROR] Signature fetch failed: %v", err)
		return
	}

	fresh := s.store.FilterNew(s.cfg.WalletAddress, sigs)
	if len(fresh) == 0 {
		return
	}
	s.logger.Printf("Scan found %d new transaction(s)", len(fresh))

	for _, sig := range fresh {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.processSignature(ctx, sig)
	}
}

// consumePush feeds pushed signature events through the same dedup +
// fetch + extract path as the scan loop.
func (s *Service) consumePush(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.stream.Events():
			if !ok {
				return
			}
			if ev.Failed {
				s.logger.Printf("Skipping failed transaction %s", ev.Signature)
				continue
			}

			fresh := s.store.FilterNew(s.cfg.WalletAddress, []string{ev.Signature})
			for _, sig := range fresh {
				s.processSignature(ctx, sig)
			}
		}
	}
}

// processSignature fetches one transaction, runs extraction and queues
// the resulting events. The signature is marked processed afterwards
// either way: a fetch failure skips only that transaction, and a crash
// before the mark re-alerts rather than silently skipping.
func (s *Service) processSignature(ctx context.Context, sig string) {
	tx, err := s.chain.Transaction(ctx, sig)
	if err != nil {
		s.logger.Printf("[ERROR] Failed to fetch transaction %s: %v", sig, err)
		s.store.MarkProcessed(s.cfg.WalletAddress, sig)
		return
	}

	if tx != nil {
		for _, ev := range s.extractor.Extract(sig, tx, s.wctx) {
			s.logger.Printf("Transfer detected: %s %s in %s", ev.Amount.StringFixed(4), ev.Symbol, sig)
			s.dispatcher.Enqueue(ev)
		}
	}

	s.store.MarkProcessed(s.cfg.WalletAddress, sig)
}

// PushConnected reports whether the push stream currently has a live
// subscription.
func (s *Service) PushConnected() bool {
	return s.stream != nil && s.stream.Connected()
}
