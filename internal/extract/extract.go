package extract

import (
	"encoding/binary"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// SPL token program instruction tags we care about.
const (
	tokenInstructionTransfer        = 3
	tokenInstructionTransferChecked = 12
)

// lamportsPerSOL is the native unit scale.
var lamportsPerSOL = decimal.New(1, 9)

// TrackedToken describes one SPL token watched for incoming transfers.
type TrackedToken struct {
	Symbol   string
	Mint     solana.PublicKey
	Decimals int
	Minimum  decimal.Decimal
}

// Context carries the watched wallet and its token accounts, resolved
// once at startup.
type Context struct {
	Wallet solana.PublicKey

	// TokenAccounts maps the wallet's token accounts to the token they
	// hold. Instruction destinations are matched against these.
	TokenAccounts map[solana.PublicKey]TrackedToken

	// TokensByMint indexes the tracked tokens for balance-diff lookups.
	TokensByMint map[solana.PublicKey]TrackedToken

	// NativeMinimum is the SOL alert threshold.
	NativeMinimum decimal.Decimal
}

// TransferEvent is a qualifying incoming transfer, normalized to the
// asset's display unit.
type TransferEvent struct {
	Symbol    string
	Amount    decimal.Decimal
	Signature string
}

// Strategy extracts qualifying incoming transfers from one fetched
// transaction. Missing metadata or non-matching shapes yield no events,
// never an error.
type Strategy interface {
	Extract(sig string, tx *rpc.GetTransactionResult, wctx *Context) []TransferEvent
}

// NativeDelta detects incoming SOL as a positive pre/post balance
// difference at the watched account's balance index.
type NativeDelta struct{}

func (NativeDelta) Extract(sig string, tx *rpc.GetTransactionResult, wctx *Context) []TransferEvent {
	if tx == nil || tx.Meta == nil || tx.Meta.Err != nil {
		return nil
	}

	decoded := decodeTransaction(tx)
	if decoded == nil {
		return nil
	}

	idx := -1
	for i, key := range accountKeys(decoded, tx.Meta) {
		if key.Equals(wctx.Wallet) {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(tx.Meta.PreBalances) || idx >= len(tx.Meta.PostBalances) {
		return nil
	}

	pre := decimal.NewFromBigInt(new(big.Int).SetUint64(tx.Meta.PreBalances[idx]), 0)
	post := decimal.NewFromBigInt(new(big.Int).SetUint64(tx.Meta.PostBalances[idx]), 0)
	delta := post.Sub(pre).Div(lamportsPerSOL)

	// Outgoing transfers produce a negative delta and never qualify.
	if delta.Sign() <= 0 || delta.LessThan(wctx.NativeMinimum) {
		return nil
	}

	return []TransferEvent{{Symbol: "SOL", Amount: delta, Signature: sig}}
}

// InstructionWalk scans the flat instruction list plus all inner
// instructions for SPL-token transfers whose destination is one of the
// watched token accounts. Every qualifying instruction emits its own
// event; a single transaction can carry several distinct transfers.
type InstructionWalk struct{}

func (InstructionWalk) Extract(sig string, tx *rpc.GetTransactionResult, wctx *Context) []TransferEvent {
	if tx == nil || tx.Meta == nil || tx.Meta.Err != nil {
		return nil
	}

	decoded := decodeTransaction(tx)
	if decoded == nil {
		return nil
	}
	keys := accountKeys(decoded, tx.Meta)

	instructions := make([]solana.CompiledInstruction, 0, len(decoded.Message.Instructions))
	instructions = append(instructions, decoded.Message.Instructions...)
	for _, inner := range tx.Meta.InnerInstructions {
		instructions = append(instructions, inner.Instructions...)
	}

	var events []TransferEvent
	for _, ix := range instructions {
		if int(ix.ProgramIDIndex) >= len(keys) {
			continue
		}
		if !keys[ix.ProgramIDIndex].Equals(solana.TokenProgramID) {
			continue
		}

		data := []byte(ix.Data)
		if len(data) < 9 {
			continue
		}

		var destPos int
		switch data[0] {
		case tokenInstructionTransfer:
			// accounts: source, destination, owner
			destPos = 1
		case tokenInstructionTransferChecked:
			// accounts: source, mint, destination, owner
			destPos = 2
		default:
			continue
		}
		if destPos >= len(ix.Accounts) || int(ix.Accounts[destPos]) >= len(keys) {
			continue
		}

		token, watched := wctx.TokenAccounts[keys[ix.Accounts[destPos]]]
		if !watched {
			continue
		}

		raw := binary.LittleEndian.Uint64(data[1:9])
		amount := scaleRaw(raw, token.Decimals)
		if amount.LessThan(token.Minimum) {
			continue
		}

		events = append(events, TransferEvent{
			Symbol:    token.Symbol,
			Amount:    amount,
			Signature: sig,
		})
	}
	return events
}

// TokenBalanceDiff sums the watched owner's positive per-mint balance
// change between the pre and post token-balance snapshots. It survives
// multi-hop instruction shapes the walk cannot parse, at the cost of
// per-instruction granularity.
type TokenBalanceDiff struct{}

func (TokenBalanceDiff) Extract(sig string, tx *rpc.GetTransactionResult, wctx *Context) []TransferEvent {
	if tx == nil || tx.Meta == nil || tx.Meta.Err != nil {
		return nil
	}

	deltas := make(map[solana.PublicKey]decimal.Decimal)
	accumulate := func(balances []rpc.TokenBalance, sign int64) {
		for _, bal := range balances {
			if bal.Owner == nil || !bal.Owner.Equals(wctx.Wallet) {
				continue
			}
			token, tracked := wctx.TokensByMint[bal.Mint]
			if !tracked || bal.UiTokenAmount == nil {
				continue
			}
			raw, err := decimal.NewFromString(bal.UiTokenAmount.Amount)
			if err != nil {
				continue
			}
			amount := raw.Shift(-int32(token.Decimals)).Mul(decimal.NewFromInt(sign))
			deltas[bal.Mint] = deltas[bal.Mint].Add(amount)
		}
	}
	accumulate(tx.Meta.PreTokenBalances, -1)
	accumulate(tx.Meta.PostTokenBalances, 1)

	var events []TransferEvent
	for mint, delta := range deltas {
		token := wctx.TokensByMint[mint]
		if delta.Sign() <= 0 || delta.LessThan(token.Minimum) {
			continue
		}
		events = append(events, TransferEvent{
			Symbol:    token.Symbol,
			Amount:    delta,
			Signature: sig,
		})
	}
	return events
}

// Extractor composes the strategies: native delta always runs, the
// instruction walk is the primary token detector, and the balance diff
// backstops transactions the walk cannot parse. Running only one of the
// token strategies has historically missed or double-counted transfers.
type Extractor struct {
	native NativeDelta
	walk   InstructionWalk
	diff   TokenBalanceDiff
}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(sig string, tx *rpc.GetTransactionResult, wctx *Context) []TransferEvent {
	events := e.native.Extract(sig, tx, wctx)

	tokenEvents := e.walk.Extract(sig, tx, wctx)
	if len(tokenEvents) == 0 {
		tokenEvents = e.diff.Extract(sig, tx, wctx)
	}

	return append(events, tokenEvents...)
}

// accountKeys returns the transaction's full account list. Version-0
// transactions resolve part of it through address lookup tables; those
// addresses arrive in Meta.LoadedAddresses (writable first, then
// read-only) and instruction indices count across the combined list.
func accountKeys(decoded *solana.Transaction, meta *rpc.TransactionMeta) []solana.PublicKey {
	static := decoded.Message.AccountKeys
	if meta == nil || (len(meta.LoadedAddresses.Writable) == 0 && len(meta.LoadedAddresses.ReadOnly) == 0) {
		return static
	}

	keys := make([]solana.PublicKey, 0,
		len(static)+len(meta.LoadedAddresses.Writable)+len(meta.LoadedAddresses.ReadOnly))
	keys = append(keys, static...)
	keys = append(keys, meta.LoadedAddresses.Writable...)
	keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	return keys
}

func decodeTransaction(tx *rpc.GetTransactionResult) *solana.Transaction {
	if tx.Transaction == nil {
		return nil
	}
	decoded, err := tx.Transaction.GetTransaction()
	if err != nil {
		return nil
	}
	return decoded
}

func scaleRaw(raw uint64, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), 0).Shift(-int32(decimals))
}
