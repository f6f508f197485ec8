package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/degenuniversemarketing-lang/solana-tracker/internal/config"
	"github.com/degenuniversemarketing-lang/solana-tracker/internal/dedup"
	"github.com/degenuniversemarketing-lang/solana-tracker/internal/extract"
	"github.com/degenuniversemarketing-lang/solana-tracker/internal/logging"
	"github.com/degenuniversemarketing-lang/solana-tracker/internal/notify"
	"github.com/degenuniversemarketing-lang/solana-tracker/internal/price"
	"github.com/degenuniversemarketing-lang/solana-tracker/internal/solana"
	"github.com/degenuniversemarketing-lang/solana-tracker/internal/watcher"
)

func main() {
	// Initialize logging system
	logging.SetLogDirectory("logs")

	// Set up logging with timestamp in filename
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logFile, err := logging.CreateLogFile(fmt.Sprintf("service_%s.log", timestamp))
	if err != nil {
		log.Fatalf("Failed to create log file: %v", err)
	}

	// Create a logger that writes to both file and console
	logger := log.New(logging.CreateMultiWriter(logFile), "[MAIN] ", log.LstdFlags|log.Lmicroseconds)

	logger.Printf("[STARTUP] Starting Solana wallet transfer tracker...")
	logger.Printf("[INFO] Log file: %s", logFile.Name())

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("[ERROR] Failed to load configuration: %v", err)
	}
	logger.Printf("[SUCCESS] Configuration loaded successfully")
	logger.Printf("[CONFIG] RPC Endpoint: %s", cfg.SolanaRPCEndpoint)
	logger.Printf("[CONFIG] Wallet: %s", cfg.WalletAddress)
	logger.Printf("[CONFIG] Mode: %s, Recipients: %d", cfg.Mode, len(cfg.ChatIDs))

	if err := solana.ValidateAddress(cfg.WalletAddress); err != nil {
		logger.Fatalf("[ERROR] Invalid wallet address: %v", err)
	}

	// Create Solana RPC client
	chainClient, err := solana.NewClient(cfg.SolanaRPCEndpoint)
	if err != nil {
		logger.Fatalf("[ERROR] Failed to create Solana client: %v", err)
	}
	logger.Printf("[SUCCESS] Solana client initialized")

	// Push subscription, only for the modes that use it
	var stream watcher.PushStream
	if cfg.Mode == "push" || cfg.Mode == "hybrid" {
		sub, err := solana.NewSubscription(cfg.SolanaWSEndpoint, cfg.WalletAddress)
		if err != nil {
			logger.Fatalf("[ERROR] Failed to create push subscription: %v", err)
		}
		stream = sub
		logger.Printf("[SUCCESS] Push subscription created for %s", cfg.SolanaWSEndpoint)
	}

	// Dedup store per configured policy
	var store dedup.Store
	switch cfg.DedupPolicy {
	case "seenset":
		store = dedup.NewSeenSet(cfg.SeenCapacity, cfg.StateFile)
	default:
		store = dedup.NewCursorStore(cfg.StateFile)
	}
	logger.Printf("[SUCCESS] Dedup store initialized (policy=%s)", cfg.DedupPolicy)

	// Price cache over the batched quote API
	symbols := []string{"SOL"}
	for _, t := range cfg.Tokens {
		symbols = append(symbols, t.Symbol)
	}
	prices := price.NewCache(price.NewCoinGecko(cfg.PriceAPIBase), symbols, cfg.PriceTTL)

	// Telegram bot and dispatcher
	var dispatcher *notify.Dispatcher
	bot, err := notify.NewBot(cfg.TelegramToken,
		func(chatID int64) {
			dispatcher.Enqueue(extract.TransferEvent{
				Symbol:    "USDT",
				Amount:    decimal.NewFromInt(1234),
				Signature: "test_tx_hash",
			})
		},
		func() string { return statusText(cfg, dispatcher) },
	)
	if err != nil {
		logger.Fatalf("[ERROR] Failed to create Telegram bot: %v", err)
	}
	logger.Printf("[SUCCESS] Telegram bot created successfully")

	dispatcher = notify.NewDispatcher(bot, prices, cfg.ChatIDs, cfg.LogoURL, cfg.SendDelay)

	// Watcher service owning the scan loop / push consumer
	service, err := watcher.NewService(cfg, chainClient, stream, store, dispatcher)
	if err != nil {
		logger.Fatalf("[ERROR] Failed to create watcher service: %v", err)
	}
	logger.Printf("[SUCCESS] Watcher service created")

	// Create context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Printf("[SHUTDOWN] Received signal %v, initiating shutdown...", sig)
		cancel()
	}()

	// Start the bot command loop in a goroutine
	go bot.Start()
	logger.Printf("[SUCCESS] Telegram bot started")

	logger.Printf("[STARTUP] Startup complete! Watching for incoming transfers...")
	logger.Printf("[INFO] Press Ctrl+C to stop")

	// Run the watcher until terminated
	if err := service.Start(ctx); err != nil {
		logger.Fatalf("[ERROR] Watcher service failed: %v", err)
	}

	// Let queued alerts go out before exiting
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	dispatcher.Drain(drainCtx)

	logger.Printf("[SHUTDOWN] Service shutdown complete")
}

func statusText(cfg *config.Config, dispatcher *notify.Dispatcher) string {
	tokens := make([]string, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tokens = append(tokens, t.Symbol)
	}
	return fmt.Sprintf(
		"Watching wallet: %s\nMode: %s\nTracked tokens: %s\nQueued alerts: %d",
		cfg.WalletAddress, cfg.Mode, strings.Join(tokens, ", "), dispatcher.QueueDepth())
}
