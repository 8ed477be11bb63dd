// Package notify posts settlement announcements to a Discord channel. It
// observes the event fan-out as a tap; delivery failures are logged and
// dropped, never propagated into the auction flow.
package notify

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/gavel/internal/config"
	"github.com/jensholdgaard/gavel/internal/fanout"
)

// Announcer posts sale and completion messages to one channel.
type Announcer struct {
	session   *discordgo.Session
	channelID string
	logger    *slog.Logger
}

// New creates an Announcer and opens the Discord session. Returns nil when
// the announcer is not configured.
func New(cfg config.DiscordConfig, logger *slog.Logger) (*Announcer, error) {
	if cfg.Token == "" || cfg.ChannelID == "" {
		return nil, nil
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("opening discord session: %w", err)
	}
	return &Announcer{session: session, channelID: cfg.ChannelID, logger: logger}, nil
}

// Tap returns the fan-out tap that renders announcements.
func (a *Announcer) Tap() fanout.Tap {
	return func(auctionID string, env fanout.Envelope) {
		msg := a.render(env)
		if msg == "" {
			return
		}
		if _, err := a.session.ChannelMessageSend(a.channelID, msg); err != nil {
			a.logger.Warn("discord announcement failed",
				slog.String("auction_id", auctionID),
				slog.String("event", env.Event),
				slog.Any("error", err),
			)
		}
	}
}

func (a *Announcer) render(env fanout.Envelope) string {
	switch env.Event {
	case fanout.EventPlayerSold:
		p, ok := env.Payload.(fanout.PlayerSoldPayload)
		if !ok {
			return ""
		}
		return fmt.Sprintf("**%s** sold to **%s** for %d", p.PlayerName, p.TeamName, p.Amount)
	case fanout.EventPlayerUnsold:
		p, ok := env.Payload.(fanout.PlayerPayload)
		if !ok {
			return ""
		}
		return fmt.Sprintf("**%s** went unsold", p.PlayerName)
	case fanout.EventAuctionCompleted:
		return "The auction has completed."
	}
	return ""
}

// Close shuts the Discord session down.
func (a *Announcer) Close() error {
	return a.session.Close()
}
