package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/degenuniversemarketing-lang/solana-tracker/internal/config"
	"github.com/degenuniversemarketing-lang/solana-tracker/internal/dedup"
	"github.com/degenuniversemarketing-lang/solana-tracker/internal/extract"
	solclient "github.com/degenuniversemarketing-lang/solana-tracker/internal/solana"
)

var testWallet = solana.NewWallet().PublicKey()

// MockChainClient is a mock implementation of ChainClient
type MockChainClient struct {
	mock.Mock
}

func (m *MockChainClient) RecentSignatures(ctx context.Context, address solana.PublicKey, limit int) ([]string, error) {
	args := m.Called(ctx, address, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockChainClient) Transaction(ctx context.Context, signature string) (*rpc.GetTransactionResult, error) {
	args := m.Called(ctx, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rpc.GetTransactionResult), args.Error(1)
}

func (m *MockChainClient) TokenAccounts(ctx context.Context, owner, mint solana.PublicKey) ([]solana.PublicKey, error) {
	args := m.Called(ctx, owner, mint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]solana.PublicKey), args.Error(1)
}

// fakeStream is a scriptable PushStream.
type fakeStream struct {
	events    chan solclient.SignatureEvent
	connected bool
}

func (f *fakeStream) Run(ctx context.Context)                 { <-ctx.Done() }
func (f *fakeStream) Events() <-chan solclient.SignatureEvent { return f.events }
func (f *fakeStream) Connected() bool                         { return f.connected }

// collectEnqueuer records every enqueued transfer event.
type collectEnqueuer struct {
	mu     sync.Mutex
	events []extract.TransferEvent
}

func (c *collectEnqueuer) Enqueue(ev extract.TransferEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collectEnqueuer) all() []extract.TransferEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]extract.TransferEvent(nil), c.events...)
}

func testConfig() *config.Config {
	return &config.Config{
		WalletAddress:  testWallet.String(),
		Mode:           "poll",
		PollInterval:   10 * time.Millisecond,
		SignatureLimit: 10,
		SOLMinAlert:    0.01,
	}
}

func newTestService(t *testing.T, cfg *config.Config, chain ChainClient, stream PushStream, sink Enqueuer) *Service {
	t.Helper()

	svc, err := NewService(cfg, chain, stream, dedup.NewCursorStore(""), sink)
	require.NoError(t, err)

	svc.wctx = &extract.Context{
		Wallet:        testWallet,
		TokenAccounts: map[solana.PublicKey]extract.TrackedToken{},
		TokensByMint:  map[solana.PublicKey]extract.TrackedToken{},
		NativeMinimum: decimal.NewFromFloat(cfg.SOLMinAlert),
	}
	return svc
}

// nativeTransferResult builds a transaction result where the wallet
// gains 1.5 SOL.
func nativeTransferResult(t *testing.T) *rpc.GetTransactionResult {
	t.Helper()

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{testWallet},
		},
	}
	raw, err := json.Marshal(tx)
	require.NoError(t, err)

	var env rpc.TransactionResultEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))

	return &rpc.GetTransactionResult{
		Transaction: &env,
		Meta: &rpc.TransactionMeta{
			PreBalances:  []uint64{1_000_000_000},
			PostBalances: []uint64{2_500_000_000},
		},
	}
}

func TestNewServiceInvalidWallet(t *testing.T) {
	cfg := testConfig()
	cfg.WalletAddress = "not-a-wallet"

	_, err := NewService(cfg, new(MockChainClient), nil, dedup.NewCursorStore(""), &collectEnqueuer{})
	assert.Error(t, err)
}

func TestNewServicePushRequiresStream(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "push"

	_, err := NewService(cfg, new(MockChainClient), nil, dedup.NewCursorStore(""), &collectEnqueuer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push stream")
}

func TestScanSuppressesHistoryThenAlerts(t *testing.T) {
	mockChain := new(MockChainClient)
	sink := &collectEnqueuer{}
	svc := newTestService(t, testConfig(), mockChain, nil, sink)
	ctx := context.Background()

	// First scan sees pre-existing history: baseline only, no alerts.
	mockChain.On("RecentSignatures", mock.Anything, testWallet, 10).
		Return([]string{"oldSig2", "oldSig1"}, nil).Once()
	svc.scanOnce(ctx)
	assert.Empty(t, sink.all())

	// A new transaction lands: exactly one alert.
	mockChain.On("RecentSignatures", mock.Anything, testWallet, 10).
		Return([]string{"newSig", "oldSig2", "oldSig1"}, nil)
	mockChain.On("Transaction", mock.Anything, "newSig").
		Return(nativeTransferResult(t), nil).Once()
	svc.scanOnce(ctx)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "SOL", events[0].Symbol)
	assert.Equal(t, "1.5", events[0].Amount.String())
	assert.Equal(t, "newSig", events[0].Signature)

	// The same window again produces nothing new.
	svc.scanOnce(ctx)
	assert.Len(t, sink.all(), 1)
	mockChain.AssertExpectations(t)
}

func TestScanProcessesOldestFirst(t *testing.T) {
	mockChain := new(MockChainClient)
	sink := &collectEnqueuer{}
	svc := newTestService(t, testConfig(), mockChain, nil, sink)
	ctx := context.Background()

	mockChain.On("RecentSignatures", mock.Anything, testWallet, 10).
		Return([]string{"sig1"}, nil).Once()
	svc.scanOnce(ctx)

	// Two new signatures arrive most-recent-first.
	mockChain.On("RecentSignatures", mock.Anything, testWallet, 10).
		Return([]string{"sig3", "sig2", "sig1"}, nil).Once()
	mockChain.On("Transaction", mock.Anything, "sig2").
		Return(nativeTransferResult(t), nil).Once()
	mockChain.On("Transaction", mock.Anything, "sig3").
		Return(nativeTransferResult(t), nil).Once()
	svc.scanOnce(ctx)

	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, "sig2", events[0].Signature)
	assert.Equal(t, "sig3", events[1].Signature)
}

func TestFetchFailureSkipsOnlyThatTransaction(t *testing.T) {
	mockChain := new(MockChainClient)
	sink := &collectEnqueuer{}
	svc := newTestService(t, testConfig(), mockChain, nil, sink)
	ctx := context.Background()

	mockChain.On("RecentSignatures", mock.Anything, testWallet, 10).
		Return([]string{"sig1"}, nil).Once()
	svc.scanOnce(ctx)

	mockChain.On("RecentSignatures", mock.Anything, testWallet, 10).
		Return([]string{"sig2", "sig1"}, nil)
	mockChain.On("Transaction", mock.Anything, "sig2").
		Return(nil, errors.New("rpc unavailable")).Once()
	svc.scanOnce(ctx)
	assert.Empty(t, sink.all())

	// The failed signature is not retried on the next cycle.
	svc.scanOnce(ctx)
	mockChain.AssertNumberOfCalls(t, "Transaction", 1)
}

func TestScanSkipsWhileBusy(t *testing.T) {
	mockChain := new(MockChainClient)
	svc := newTestService(t, testConfig(), mockChain, nil, &collectEnqueuer{})

	svc.scanning.Store(true)
	svc.scanOnce(context.Background())

	// No RPC call happened while the previous cycle held the flag.
	mockChain.AssertNotCalled(t, "RecentSignatures", mock.Anything, mock.Anything, mock.Anything)
}

func TestConsumePush(t *testing.T) {
	mockChain := new(MockChainClient)
	sink := &collectEnqueuer{}
	stream := &fakeStream{events: make(chan solclient.SignatureEvent, 4)}

	cfg := testConfig()
	cfg.Mode = "push"
	svc := newTestService(t, cfg, mockChain, stream, sink)

	// Prime the dedup baseline so pushed events are admitted.
	mockChain.On("RecentSignatures", mock.Anything, testWallet, 10).
		Return([]string{"olderSig"}, nil).Once()
	svc.scanOnce(context.Background())

	mockChain.On("Transaction", mock.Anything, "pushSig").
		Return(nativeTransferResult(t), nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.consumePush(ctx)
		close(done)
	}()

	stream.events <- solclient.SignatureEvent{Signature: "failedSig", Failed: true}
	stream.events <- solclient.SignatureEvent{Signature: "pushSig"}
	stream.events <- solclient.SignatureEvent{Signature: "pushSig"} // duplicate

	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	events := sink.all()
	assert.Equal(t, "pushSig", events[0].Signature)
	mockChain.AssertNotCalled(t, "Transaction", mock.Anything, "failedSig")
	mockChain.AssertNumberOfCalls(t, "Transaction", 1)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumePush did not stop on context cancel")
	}
}

func TestHybridPollPausesWhileStreamHealthy(t *testing.T) {
	mockChain := new(MockChainClient)
	stream := &fakeStream{events: make(chan solclient.SignatureEvent), connected: true}

	cfg := testConfig()
	cfg.Mode = "hybrid"
	svc := newTestService(t, cfg, mockChain, stream, &collectEnqueuer{})

	ctx, cancel := context.WithCancel(context.Background())
	go svc.pollLoop(ctx)

	// Several poll intervals pass; the healthy stream suppresses every
	// cycle.
	time.Sleep(60 * time.Millisecond)
	cancel()

	mockChain.AssertNotCalled(t, "RecentSignatures", mock.Anything, mock.Anything, mock.Anything)
}

func TestBuildContextResolvesTokenAccounts(t *testing.T) {
	mockChain := new(MockChainClient)
	tokenAccount := solana.NewWallet().PublicKey()
	usdtMint := solana.MustPublicKeyFromBase58(config.USDTMint)

	cfg := testConfig()
	cfg.Tokens = []config.Token{
		{Symbol: "USDT", Mint: config.USDTMint, Decimals: 6, MinAlert: 1},
	}

	svc, err := NewService(cfg, mockChain, nil, dedup.NewCursorStore(""), &collectEnqueuer{})
	require.NoError(t, err)

	mockChain.On("TokenAccounts", mock.Anything, testWallet, usdtMint).
		Return([]solana.PublicKey{tokenAccount}, nil).Once()

	wctx := svc.buildContext(context.Background())
	require.Contains(t, wctx.TokenAccounts, tokenAccount)
	assert.Equal(t, "USDT", wctx.TokenAccounts[tokenAccount].Symbol)
	assert.Contains(t, wctx.TokensByMint, usdtMint)
	mockChain.AssertExpectations(t)
}

func TestBuildContextDegradesOnResolutionFailure(t *testing.T) {
	mockChain := new(MockChainClient)
	usdtMint := solana.MustPublicKeyFromBase58(config.USDTMint)

	cfg := testConfig()
	cfg.Tokens = []config.Token{
		{Symbol: "USDT", Mint: config.USDTMint, Decimals: 6, MinAlert: 1},
	}

	svc, err := NewService(cfg, mockChain, nil, dedup.NewCursorStore(""), &collectEnqueuer{})
	require.NoError(t, err)

	mockChain.On("TokenAccounts", mock.Anything, testWallet, usdtMint).
		Return(nil, errors.New("rpc unavailable")).Once()

	// The mint stays tracked for the balance-diff fallback even though
	// no token accounts resolved.
	wctx := svc.buildContext(context.Background())
	assert.Empty(t, wctx.TokenAccounts)
	assert.Contains(t, wctx.TokensByMint, usdtMint)
}
