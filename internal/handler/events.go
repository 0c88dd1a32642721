package handler

import (
	"context"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"

	"guildwarden/internal/crash"
	"guildwarden/internal/directory"
	"guildwarden/internal/logger"
	"guildwarden/internal/models"
)

// Listener returns the gateway event listener of the handler.
func (h *Handler) Listener() *events.ListenerAdapter {
	return &events.ListenerAdapter{
		OnApplicationCommandInteraction: h.onCommand,
		OnGuildMemberJoin:               h.onMemberJoin,
		OnGuildMemberLeave:              h.onMemberLeave,
		OnGuildReady:                    h.onGuildReady,
		OnGuildMemberUpdate:             h.onMemberUpdate,
		OnGuildLeave:                    h.onGuildLeave,
	}
}

func (h *Handler) onCommand(e *events.ApplicationCommandInteractionCreate) {
	data := e.SlashCommandInteractionData()
	guildID := e.GuildID()
	if guildID == nil {
		reply := models.GetTranslation(models.LangEnglish, "guild_only")
		if err := e.CreateMessage(discord.NewMessageCreateBuilder().SetContent(reply).SetEphemeral(true).Build()); err != nil {
			logger.Warningf("Error answering interaction: %v", err)
		}
		return
	}

	// the interaction token is only valid for 3 seconds without a deferral
	if err := e.DeferCreateMessage(true); err != nil {
		logger.Errorf("Error deferring interaction %s: %v", data.CommandName(), err)
		return
	}

	crash.SafeGoroutine("command-"+data.CommandName(), func() {
		ctx := context.Background()
		inv := Invocation{
			GuildID: *guildID,
			Command: data.CommandName(),
			Reason:  data.String(optReason),
		}
		if user, ok := data.OptUser(optUser); ok {
			inv.TargetID = user.ID
			inv.TargetName = user.EffectiveName()
		}
		if d, ok := data.OptString(optDuration); ok {
			inv.Duration = d
		}
		if n, ok := data.OptString(optNote); ok {
			inv.Note = n
		}
		if days, ok := data.OptInt(optDays); ok {
			inv.DeleteMessageDays = &days
		}

		var reply string
		actor, err := h.dir.Member(ctx, *guildID, e.User().ID)
		if err != nil {
			lang := h.commands.langs.Language(ctx, *guildID)
			reply = h.commands.internalError(inv, lang, err)
		} else {
			inv.Actor = actor
			reply = h.Execute(ctx, inv)
		}

		_, err = e.Client().Rest().UpdateInteractionResponse(e.ApplicationID(), e.Token(),
			discord.NewMessageUpdateBuilder().SetContent(reply).Build())
		if err != nil {
			logger.Errorf("Error sending reply for %s: %v", inv.Command, err)
		}
	})
}

func (h *Handler) onMemberJoin(e *events.GuildMemberJoin) {
	if e.Member.User.Bot {
		return
	}
	member := directory.Member{
		GuildID:     e.GuildID,
		UserID:      e.Member.User.ID,
		DisplayName: e.Member.User.EffectiveName(),
		RoleIDs:     e.Member.RoleIDs,
	}
	crash.SafeGoroutine("member-join", func() {
		_ = h.MemberJoined(context.Background(), member)
	})
}

func (h *Handler) onMemberLeave(e *events.GuildMemberLeave) {
	if e.User.Bot {
		return
	}
	// Member comes from the member cache and may be empty
	guildID, userID, roles := e.GuildID, e.User.ID, e.Member.RoleIDs
	crash.SafeGoroutine("member-leave", func() {
		_ = h.MemberLeft(context.Background(), guildID, userID, roles)
	})
}

func (h *Handler) onGuildReady(e *events.GuildReady) {
	guildID := e.Guild.ID
	crash.SafeGoroutine("guild-ready", func() {
		_ = h.GuildReady(context.Background(), guildID)
	})
}

func (h *Handler) onMemberUpdate(e *events.GuildMemberUpdate) {
	h.invalidate(e.GuildID)
}

func (h *Handler) onGuildLeave(e *events.GuildLeave) {
	logger.Infof("Left guild %s", e.GuildID)
	h.invalidate(e.GuildID)
	h.restored.Delete(e.GuildID)
}
