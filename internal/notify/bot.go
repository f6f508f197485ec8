package notify

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/degenuniversemarketing-lang/solana-tracker/internal/logging"
)

// BotAPIInterface defines the interface for the Telegram Bot API
type BotAPIInterface interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
}

// BotAPIFactory is a function type that creates a new BotAPI instance
type BotAPIFactory func(token string) (BotAPIInterface, error)

// DefaultBotAPIFactory is the default factory function that creates a real BotAPI instance
func DefaultBotAPIFactory(token string) (BotAPIInterface, error) {
	return tgbotapi.NewBotAPI(token)
}

// Bot wraps the Telegram API with the two send shapes the dispatcher
// needs and a small command loop (/test, /status).
type Bot struct {
	api    BotAPIInterface
	logger *log.Logger

	// onTest enqueues a synthetic alert when a chat sends /test.
	onTest func(chatID int64)
	// status supplies the /status reply text.
	status func() string
}

// NewBot creates a new Telegram bot instance
func NewBot(token string, onTest func(chatID int64), status func() string) (*Bot, error) {
	return NewBotWithFactory(token, onTest, status, DefaultBotAPIFactory)
}

// NewBotWithFactory creates a new Telegram bot instance using a custom BotAPI factory
func NewBotWithFactory(token string, onTest func(chatID int64), status func() string, factory BotAPIFactory) (*Bot, error) {
	api, err := factory(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %v", err)
	}

	logFile, err := logging.CreateLogFile("telegram_bot.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %v", err)
	}

	logger := log.New(logging.CreateMultiWriter(logFile), "[TELEGRAM] ", log.LstdFlags)
	logger.Printf("Initializing Telegram bot...")

	return &Bot{
		api:    api,
		logger: logger,
		onTest: onTest,
		status: status,
	}, nil
}

// SendPhoto sends an image with an HTML caption to the chat.
func (b *Bot) SendPhoto(chatID int64, photoURL, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(photoURL))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeHTML

	if _, err := b.api.Send(photo); err != nil {
		return fmt.Errorf("failed to send photo to chat %d: %v", chatID, err)
	}
	return nil
}

// SendText sends a plain-text message to the chat.
func (b *Bot) SendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message to chat %d: %v", chatID, err)
	}
	return nil
}

// Start starts listening for incoming commands.
func (b *Bot) Start() {
	b.logger.Printf("Starting Telegram bot...")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil || !update.Message.IsCommand() {
			continue
		}

		chatID := update.Message.Chat.ID
		b.logger.Printf("Received command '%s' from chat %d", update.Message.Command(), chatID)

		switch update.Message.Command() {
		case "start":
			msg := tgbotapi.NewMessage(chatID,
				"[Welcome] Wallet transfer tracker is running.\n\n"+
					"You'll receive alerts for incoming transfers to the watched wallet.\n"+
					"Use /help to see available commands.")
			b.api.Send(msg)

		case "help":
			msg := tgbotapi.NewMessage(chatID,
				"Available commands:\n\n"+
					"/status - Show watcher status\n"+
					"/test - Send a sample alert\n"+
					"/help - Show this help message")
			b.api.Send(msg)

		case "status":
			if b.status != nil {
				msg := tgbotapi.NewMessage(chatID, b.status())
				b.api.Send(msg)
			}

		case "test":
			if b.onTest != nil {
				b.onTest(chatID)
			}
		}
	}
}
