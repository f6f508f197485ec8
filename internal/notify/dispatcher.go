package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/degenuniversemarketing-lang/solana-tracker/internal/extract"
	"github.com/degenuniversemarketing-lang/solana-tracker/internal/logging"
)

// Sender delivers one rendered alert to one chat. Both sends can fail
// independently per recipient.
type Sender interface {
	SendPhoto(chatID int64, photoURL, caption string) error
	SendText(chatID int64, text string) error
}

// PriceSource resolves an asset symbol to its current USD price.
type PriceSource interface {
	Price(symbol string) float64
}

// Dispatcher holds a FIFO queue of pending alerts and delivers them one
// at a time to every configured recipient, spacing sends to respect the
// messaging provider's rate limit.
type Dispatcher struct {
	sender  Sender
	prices  PriceSource
	chatIDs []int64
	logoURL string
	delay   time.Duration

	mu      sync.Mutex
	queue   []extract.TransferEvent
	sending bool

	logger *log.Logger
}

// NewDispatcher creates a dispatcher delivering to the given chats with
// the given inter-send delay.
func NewDispatcher(sender Sender, prices PriceSource, chatIDs []int64, logoURL string, delay time.Duration) *Dispatcher {
	var out io.Writer = io.Discard
	if logFile, err := logging.CreateLogFile("dispatch.log"); err == nil {
		out = logging.CreateMultiWriter(logFile)
	}

	return &Dispatcher{
		sender:  sender,
		prices:  prices,
		chatIDs: append([]int64(nil), chatIDs...),
		logoURL: logoURL,
		delay:   delay,
		logger:  log.New(out, "[DISPATCH] ", log.LstdFlags),
	}
}

// Enqueue appends an alert to the queue and wakes the worker if it is
// idle. It never blocks.
func (d *Dispatcher) Enqueue(ev extract.TransferEvent) {
	d.mu.Lock()
	d.queue = append(d.queue, ev)
	d.logger.Printf("Queued alert: %s %s (%s), queue depth %d",
		ev.Amount.StringFixed(4), ev.Symbol, ev.Signature, len(d.queue))

	if d.sending {
		d.mu.Unlock()
		return
	}
	d.sending = true
	d.mu.Unlock()

	go d.drain()
}

// QueueDepth reports how many alerts are waiting to be sent.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Drain blocks until the queue is empty and the worker idle, or the
// context expires. Used on shutdown so queued alerts still go out.
func (d *Dispatcher) Drain(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		d.mu.Lock()
		idle := len(d.queue) == 0 && !d.sending
		d.mu.Unlock()
		if idle {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain is the single worker: it pops and delivers jobs strictly
// sequentially until the queue is empty, then goes idle.
func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.sending = false
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(ev)
	}
}

// deliver sends one alert to every recipient. One recipient failing
// never blocks or drops delivery to the others.
func (d *Dispatcher) deliver(ev extract.TransferEvent) {
	price := d.prices.Price(ev.Symbol)
	caption, plain := RenderAlert(ev, price)

	for _, chatID := range d.chatIDs {
		if err := d.sender.SendPhoto(chatID, d.logoURL, caption); err != nil {
			d.logger.Printf("[WARN] Photo send to chat %d failed: %v, falling back to text", chatID, err)
			if err := d.sender.SendText(chatID, plain); err != nil {
				d.logger.Printf("[ERROR] Fallback send to chat %d failed: %v", chatID, err)
			}
		} else {
			d.logger.Printf("Sent alert %s to chat %d", ev.Signature, chatID)
		}

		time.Sleep(d.delay)
	}
}

// RenderAlert builds the HTML caption and its plain-text fallback for
// one transfer: amount to 4 decimal places, USD value to 2, and a
// block-explorer link for the transaction.
func RenderAlert(ev extract.TransferEvent, price float64) (caption, plain string) {
	usd := ev.Amount.Mul(decimal.NewFromFloat(price)).StringFixed(2)
	amount := ev.Amount.StringFixed(4)
	txURL := fmt.Sprintf("https://solscan.io/tx/%s", ev.Signature)

	caption = fmt.Sprintf(
		"🚨 <b>New Buy Alert!</b>\n\n"+
			"💰 <b>%s %s</b> ($%s)\n\n"+
			"🔗 <a href=\"%s\">View Transaction</a>",
		amount, ev.Symbol, usd, txURL,
	)

	plain = fmt.Sprintf(
		"New Buy Alert!\n\n"+
			"%s %s ($%s)\n\n"+
			"View Transaction: %s",
		amount, ev.Symbol, usd, txURL,
	)
	return caption, plain
}
