package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mymmrac/telego"

	"github.com/dorkos/dorkos/internal/relay"
)

type telegramConfig struct {
	Token string `json:"token"`
}

// TelegramAdapter bridges a Telegram long-polling bot into the Relay bus,
// grounded on internal/channels/telegram/channel.go's telego.Bot session and
// pollCancel/pollDone goroutine-lifecycle pattern, adapted to
// adapter.Adapter the same way DiscordAdapter adapts discordgo.
type TelegramAdapter struct {
	id      string
	bus     *relay.Bus
	subject string

	mu         sync.Mutex
	cfg        telegramConfig
	bot        *telego.Bot
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// NewTelegramAdapter constructs a TelegramAdapter.
func NewTelegramAdapter(id string, bus *relay.Bus) *TelegramAdapter {
	return &TelegramAdapter{id: id, bus: bus, subject: "relay.adapter." + id + ".in"}
}

func (a *TelegramAdapter) ID() string          { return a.id }
func (a *TelegramAdapter) DisplayName() string { return "Telegram" }
func (a *TelegramAdapter) SubjectPrefixes() []string {
	return []string{"relay.adapter." + a.id}
}

func (a *TelegramAdapter) Configure(raw json.RawMessage) error {
	var cfg telegramConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return fmt.Errorf("telegram config: %w", err)
		}
	}
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	return nil
}

// Start creates the bot client and begins long-polling in a background
// goroutine, tracked by pollCancel/pollDone the way the teacher's Channel
// tracks its polling goroutine for a clean Stop.
func (a *TelegramAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	token := a.cfg.Token
	a.mu.Unlock()
	if token == "" {
		return fmt.Errorf("telegram adapter %s: missing token", a.id)
	}

	bot, err := telego.NewBot(token)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.mu.Lock()
	a.bot = bot
	a.pollCancel = cancel
	a.pollDone = done
	a.mu.Unlock()

	updates, err := bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	go func() {
		defer close(done)
		for update := range updates {
			if update.Message == nil {
				continue
			}
			channelType := "group"
			if update.Message.Chat.Type == "private" {
				channelType = "direct"
			}
			senderID := ""
			if update.Message.From != nil {
				senderID = fmt.Sprintf("%d", update.Message.From.ID)
			}
			chatID := fmt.Sprintf("%d", update.Message.Chat.ID)
			_ = a.HandleMessage(pollCtx, chatID, channelType, senderID, update.Message.Text)
		}
	}()

	return nil
}

// Stop cancels polling and waits for the goroutine to exit; safe to call
// even if Start never succeeded.
func (a *TelegramAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.pollCancel
	done := a.pollDone
	a.pollCancel = nil
	a.pollDone = nil
	a.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return nil
}

func (a *TelegramAdapter) HandleMessage(ctx context.Context, chatID, channelType, senderID, content string) error {
	_, err := a.bus.Publish(a.subject, map[string]any{
		"adapterId":   a.id,
		"chatId":      chatID,
		"channelType": channelType,
		"senderId":    senderID,
		"text":        content,
	}, relay.PublishOptions{From: "adapter:" + a.id})
	return err
}
