// Package bot connects to the Discord gateway and serves the status endpoints.
package bot

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo"
	disgobot "github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/snowflake/v2"

	"guildwarden/internal/config"
	"guildwarden/internal/handler"
	"guildwarden/internal/logger"
)

// BotService represents the Discord bot service
type BotService struct {
	Client disgobot.Client
}

// Initialize creates the gateway client. The member cache is required so
// that departing members still carry their roles.
func Initialize(cfg *config.Config) (*BotService, error) {
	if cfg.Discord.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}

	client, err := disgo.New(cfg.Discord.Token,
		disgobot.WithGatewayConfigOpts(
			gateway.WithIntents(gateway.IntentGuilds, gateway.IntentGuildMembers),
		),
		disgobot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagRoles, cache.FlagMembers),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bot: %w", err)
	}

	return &BotService{Client: client}, nil
}

// SelfID is the bot user id, known from the token before the gateway opens.
func (b *BotService) SelfID() snowflake.ID {
	return b.Client.ID()
}

// Start registers the listener and commands, then opens the gateway.
func (b *BotService) Start(ctx context.Context, h *handler.Handler, syncCommands bool) error {
	b.Client.AddEventListeners(h.Listener())

	if syncCommands {
		if _, err := b.Client.Rest().SetGlobalCommands(b.Client.ApplicationID(), handler.CommandDefinitions()); err != nil {
			logger.Warningf("Failed to register slash commands: %v", err)
		} else {
			logger.Infof("Registered %d slash commands", len(handler.CommandDefinitions()))
		}
	}

	if err := b.Client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}
	logger.Infof("Connected to the Discord gateway as %s", b.SelfID())
	return nil
}

// Stop closes the gateway connection.
func (b *BotService) Stop(ctx context.Context) {
	b.Client.Close(ctx)
}
