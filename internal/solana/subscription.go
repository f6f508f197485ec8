package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/degenuniversemarketing-lang/solana-tracker/internal/logging"
)

const (
	// reconnectDelay is fixed: the stream retries forever at the same
	// cadence, there is no growth and no retry ceiling.
	reconnectDelay   = 5 * time.Second
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	readTimeout      = 2 * time.Minute
	pingInterval     = 30 * time.Second
)

// SignatureEvent is one pushed notification for the watched wallet.
type SignatureEvent struct {
	Signature string
	Slot      uint64
	// Failed is set when the transaction itself errored on chain.
	Failed bool
}

// Subscription maintains a logsSubscribe stream filtered to the watched
// wallet, reconnecting after a fixed delay for the life of the process.
type Subscription struct {
	endpoint string
	wallet   string
	events   chan SignatureEvent
	up       atomic.Bool
	logger   *log.Logger
}

// NewSubscription creates a push subscription against the given WS
// endpoint for signatures mentioning wallet. Run must be called to
// start it.
func NewSubscription(endpoint, wallet string) (*Subscription, error) {
	logFile, err := logging.CreateLogFile("solana-ws.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %v", err)
	}

	return &Subscription{
		endpoint: endpoint,
		wallet:   wallet,
		events:   make(chan SignatureEvent, 256),
		logger:   log.New(logging.CreateMultiWriter(logFile), "[SOLANA-WS] ", log.LstdFlags|log.Lmicroseconds),
	}, nil
}

// Events returns the stream of pushed signature events. The channel is
// closed when Run returns.
func (s *Subscription) Events() <-chan SignatureEvent {
	return s.events
}

// Connected reports whether the stream currently has a confirmed
// subscription.
func (s *Subscription) Connected() bool {
	return s.up.Load()
}

// Run connects, subscribes and consumes notifications until ctx is
// cancelled. Any disconnect or error schedules a reconnect after the
// fixed delay.
func (s *Subscription) Run(ctx context.Context) {
	defer close(s.events)

	for {
		if err := s.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Printf("[SHUTDOWN] Subscription stopped: %v", ctx.Err())
				return
			}
			s.logger.Printf("[ERROR] Stream failed: %v, reconnecting in %v", err, reconnectDelay)
		}

		select {
		case <-ctx.Done():
			s.logger.Printf("[SHUTDOWN] Subscription stopped")
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// runOnce dials, subscribes and reads until the connection breaks.
func (s *Subscription) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	// Unblock the blocking reads below when the context is cancelled.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "logsSubscribe",
		Params: []interface{}{
			map[string]interface{}{"mentions": []string{s.wallet}},
			map[string]string{"commitment": "confirmed"},
		},
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}

	s.logger.Printf("[SUCCESS] Connected, subscribed to logs mentioning %s", s.wallet)

	// Keep the connection alive while we wait for notifications.
	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-connCtx.Done():
				return
			case <-pinger.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}()

	defer s.up.Store(false)

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		s.handleMessage(ctx, message)
	}
}

func (s *Subscription) handleMessage(ctx context.Context, message []byte) {
	// Subscription confirmation.
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.Result > 0 {
		s.logger.Printf("Subscription confirmed: id=%d", resp.Result)
		s.up.Store(true)
		return
	}

	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err != nil || notif.Method != "logsNotification" || notif.Params == nil {
		return
	}

	value := notif.Params.Result.Value
	event := SignatureEvent{
		Signature: value.Signature,
		Failed:    value.Err != nil,
	}
	if notif.Params.Result.Context != nil {
		event.Slot = notif.Params.Result.Context.Slot
	}

	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot uint64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}
