package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/dorkos/dorkos/internal/relay"
)

// discordConfig is the JSON shape expected under adapters.json's
// "discord" entry.
type discordConfig struct {
	Token string `json:"token"`
}

// DiscordAdapter bridges a Discord bot session into the Relay bus, grounded
// on internal/channels/discord/discord.go's session lifecycle (New/Start/Stop,
// discordgo.Session + intents) adapted from the channels.Channel interface to
// adapter.Adapter: HandleMessage publishes into Relay rather than the
// teacher's internal message bus, and Configure replaces constructor
// injection since adapters are built from a JSON blob at reload time.
type DiscordAdapter struct {
	id      string
	bus     *relay.Bus
	subject string

	mu      sync.Mutex
	cfg     discordConfig
	session *discordgo.Session
}

// NewDiscordAdapter constructs a DiscordAdapter publishing inbound messages
// on subject "relay.adapter.discord.in".
func NewDiscordAdapter(id string, bus *relay.Bus) *DiscordAdapter {
	return &DiscordAdapter{id: id, bus: bus, subject: "relay.adapter." + id + ".in"}
}

func (a *DiscordAdapter) ID() string           { return a.id }
func (a *DiscordAdapter) DisplayName() string  { return "Discord" }
func (a *DiscordAdapter) SubjectPrefixes() []string {
	return []string{"relay.adapter." + a.id}
}

// Configure parses the adapters.json blob for this adapter.
func (a *DiscordAdapter) Configure(raw json.RawMessage) error {
	var cfg discordConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return fmt.Errorf("discord config: %w", err)
		}
	}
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	return nil
}

// Start opens the Discord gateway session, mirroring
// internal/channels/discord/discord.go's intent set.
func (a *DiscordAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	token := a.cfg.Token
	a.mu.Unlock()
	if token == "" {
		return fmt.Errorf("discord adapter %s: missing token", a.id)
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author != nil && m.Author.Bot {
			return
		}
		channelType := "group"
		if m.GuildID == "" {
			channelType = "direct"
		}
		_ = a.HandleMessage(context.Background(), m.ChannelID, channelType, m.Author.ID, m.Content)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.mu.Unlock()
	return nil
}

// Stop is safe to call even if Start never succeeded.
func (a *DiscordAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	session := a.session
	a.session = nil
	a.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

// HandleMessage publishes the inbound message envelope onto Relay for the
// binding resolver to pick up (spec §4.7, "Adapters publish inbound messages
// by calling into Relay with the appropriate subjectPrefix").
func (a *DiscordAdapter) HandleMessage(ctx context.Context, chatID, channelType, senderID, content string) error {
	_, err := a.bus.Publish(a.subject, map[string]any{
		"adapterId":   a.id,
		"chatId":      chatID,
		"channelType": channelType,
		"senderId":    senderID,
		"text":        content,
	}, relay.PublishOptions{From: "adapter:" + a.id})
	return err
}
