package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/hako/durafmt"

	"guildwarden/internal/directory"
	"guildwarden/internal/logger"
	"guildwarden/internal/models"
	"guildwarden/internal/moderation"
)

const (
	CommandWarn    = "warn"
	CommandKick    = "kick"
	CommandBan     = "ban"
	CommandTempban = "tempban"
	CommandUnban   = "unban"
	CommandJail    = "jail"
	CommandUnjail  = "unjail"
	CommandNote    = "note"
	CommandHistory = "history"

	optUser     = "user"
	optReason   = "reason"
	optDuration = "duration"
	optNote     = "note"
	optDays     = "delete_days"

	historyLimit = 15
	// Discord rejects message content above 2000 characters
	maxReplyLength = 2000
)

// Languages resolves the reply language of a guild.
type Languages interface {
	Language(ctx context.Context, guildID snowflake.ID) string
}

// Invocation is a parsed slash command.
type Invocation struct {
	GuildID    snowflake.ID
	Actor      directory.Member
	Command    string
	TargetID   snowflake.ID
	TargetName string
	Reason     string
	Duration   string
	Note       string
	// DeleteMessageDays is nil when the option was not given.
	DeleteMessageDays *int
}

// Commands executes slash commands against the moderation service.
type Commands struct {
	svc   *moderation.Service
	dir   directory.Directory
	langs Languages
}

func NewCommands(svc *moderation.Service, dir directory.Directory, langs Languages) *Commands {
	return &Commands{svc: svc, dir: dir, langs: langs}
}

// Execute runs one command and returns the reply text. Infrastructure
// errors are logged and answered with a generic message.
func (c *Commands) Execute(ctx context.Context, inv Invocation) string {
	incrementCounter(&totalCommands)
	// 获取服务器的回复语言
	lang := c.langs.Language(ctx, inv.GuildID)
	t := func(key string) string { return models.GetTranslation(lang, key) }

	target, err := c.resolveTarget(ctx, inv)
	if err != nil {
		return c.internalError(inv, lang, err)
	}

	var (
		res moderation.Result
		d   time.Duration
	)
	switch inv.Command {
	case CommandWarn:
		res, err = c.svc.WarnUser(ctx, inv.Actor, target, inv.Reason)
	case CommandKick:
		res, err = c.svc.KickUser(ctx, inv.Actor, target, inv.Reason)
	case CommandBan:
		days := -1
		if inv.DeleteMessageDays != nil {
			days = *inv.DeleteMessageDays
		}
		res, err = c.svc.BanUser(ctx, inv.Actor, target, inv.Reason, days)
	case CommandTempban:
		if d, err = ParseDuration(inv.Duration); err != nil {
			return t("invalid_duration")
		}
		res, err = c.svc.TempbanUser(ctx, inv.Actor, target, inv.Reason, d)
	case CommandUnban:
		res, err = c.svc.UnbanUser(ctx, inv.Actor, target, inv.Reason)
	case CommandJail:
		if inv.Duration != "" {
			if d, err = ParseDuration(inv.Duration); err != nil {
				return t("invalid_duration")
			}
		}
		res, err = c.svc.JailUser(ctx, inv.Actor, target, inv.Reason, d)
	case CommandUnjail:
		res, err = c.svc.UnjailUser(ctx, inv.Actor, target, inv.Reason)
	case CommandNote:
		res, err = c.svc.AddStaffNote(ctx, inv.Actor, target, inv.Note)
	case CommandHistory:
		res, err = c.svc.History(ctx, inv.Actor, target)
	default:
		return fmt.Sprintf("unknown command %q", inv.Command)
	}

	if err != nil {
		return c.internalError(inv, lang, err)
	}
	if !res.Success {
		return t("err_" + string(res.Type))
	}
	return truncate(c.successReply(inv, lang, target, res))
}

func (c *Commands) resolveTarget(ctx context.Context, inv Invocation) (directory.Target, error) {
	m, err := c.dir.Member(ctx, inv.GuildID, inv.TargetID)
	switch {
	case err == nil:
		return directory.MemberTarget{Member: m}, nil
	case errors.Is(err, directory.ErrMemberNotFound):
		return directory.AccountTarget{UserID: inv.TargetID, DisplayName: inv.TargetName}, nil
	default:
		return nil, fmt.Errorf("resolve target %s: %w", inv.TargetID, err)
	}
}

func (c *Commands) internalError(inv Invocation, lang string, err error) string {
	incrementCounter(&totalErrors)
	logger.Errorf("Command %s by %s in guild %s failed: %v", inv.Command, inv.Actor.UserID, inv.GuildID, err)
	return models.GetTranslation(lang, "internal_error")
}

func (c *Commands) successReply(inv Invocation, lang string, target directory.Target, res moderation.Result) string {
	t := func(key string) string { return models.GetTranslation(lang, key) }
	name := target.Name()

	switch inv.Command {
	case CommandWarn:
		return fmt.Sprintf(t("ok_warn"), name)
	case CommandKick:
		return fmt.Sprintf(t("ok_kick"), name)
	case CommandBan:
		return fmt.Sprintf(t("ok_ban"), name)
	case CommandTempban:
		return fmt.Sprintf(t("ok_tempban"), name, FormatDuration(res.Duration))
	case CommandUnban:
		return fmt.Sprintf(t("ok_unban"), name)
	case CommandJail:
		if res.Duration > 0 {
			return fmt.Sprintf(t("ok_jail_timed"), name, FormatDuration(res.Duration), res.RolesBackedUp)
		}
		return fmt.Sprintf(t("ok_jail"), name, res.RolesBackedUp)
	case CommandUnjail:
		if len(res.RolesNotRestored) > 0 {
			return fmt.Sprintf(t("ok_unjail_warn"), name, res.RolesRestored, len(res.RolesNotRestored))
		}
		return fmt.Sprintf(t("ok_unjail"), name, res.RolesRestored)
	case CommandNote:
		return fmt.Sprintf(t("ok_note"), name)
	case CommandHistory:
		return formatHistory(lang, name, res.History, res.StaffNotes)
	}
	return ""
}

func formatHistory(lang, name string, history []models.ModerationAction, notes []models.StaffNote) string {
	t := func(key string) string { return models.GetTranslation(lang, key) }
	if len(history) == 0 && len(notes) == 0 {
		return fmt.Sprintf(t("history_empty"), name)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf(t("history_title"), name))

	shown := history
	if len(shown) > historyLimit {
		shown = shown[len(shown)-historyLimit:]
	}
	for _, a := range shown {
		b.WriteString("\n")
		when := a.Timestamp.Format("2006-01-02 15:04")
		if a.Automatic() {
			b.WriteString(fmt.Sprintf(t("history_auto"), when, a.Kind, a.Reason))
			continue
		}
		b.WriteString(fmt.Sprintf(t("history_line"), when, a.Kind, a.ModeratorID, a.Reason))
	}
	if hidden := len(history) - len(shown); hidden > 0 {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(t("history_more"), hidden))
	}

	if len(notes) > 0 {
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf(t("history_notes"), len(notes)))
		for _, n := range notes {
			b.WriteString("\n")
			b.WriteString(fmt.Sprintf(t("history_note"), n.CreatedAt.Format("2006-01-02 15:04"), n.AuthorID, n.Content))
		}
	}
	return b.String()
}

// FormatDuration renders d as its two largest units, e.g. "1 day 12 hours".
func FormatDuration(d time.Duration) string {
	return durafmt.Parse(d).LimitFirstN(2).String()
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxReplyLength {
		return s
	}
	return string(r[:maxReplyLength-1]) + "…"
}

// CommandDefinitions returns the slash commands to register, described in
// English with Simplified Chinese localizations.
func CommandDefinitions() []discord.ApplicationCommandCreate {
	user := func(required bool) discord.ApplicationCommandOption {
		return discord.ApplicationCommandOptionUser{
			Name:                     optUser,
			Description:              models.GetTranslation(models.LangEnglish, "opt_user"),
			DescriptionLocalizations: localized("opt_user"),
			Required:                 required,
		}
	}
	text := func(name, key string, required bool, maxLength int) discord.ApplicationCommandOption {
		return discord.ApplicationCommandOptionString{
			Name:                     name,
			Description:              models.GetTranslation(models.LangEnglish, key),
			DescriptionLocalizations: localized(key),
			Required:                 required,
			MaxLength:                &maxLength,
		}
	}
	reason := text(optReason, "opt_reason", true, models.MaxReasonLength)
	minDays, maxDays := 0, 7

	specs := []struct {
		name    string
		options []discord.ApplicationCommandOption
	}{
		{CommandWarn, []discord.ApplicationCommandOption{user(true), reason}},
		{CommandKick, []discord.ApplicationCommandOption{user(true), reason}},
		{CommandBan, []discord.ApplicationCommandOption{user(true), reason, discord.ApplicationCommandOptionInt{
			Name:                     optDays,
			Description:              models.GetTranslation(models.LangEnglish, "opt_days"),
			DescriptionLocalizations: localized("opt_days"),
			MinValue:                 &minDays,
			MaxValue:                 &maxDays,
		}}},
		{CommandTempban, []discord.ApplicationCommandOption{user(true), text(optDuration, "opt_duration", true, 32), reason}},
		{CommandUnban, []discord.ApplicationCommandOption{user(true), reason}},
		{CommandJail, []discord.ApplicationCommandOption{user(true), reason, text(optDuration, "opt_duration", false, 32)}},
		{CommandUnjail, []discord.ApplicationCommandOption{user(true), reason}},
		{CommandNote, []discord.ApplicationCommandOption{user(true), text(optNote, "opt_note", true, models.MaxNoteLength)}},
		{CommandHistory, []discord.ApplicationCommandOption{user(true)}},
	}

	out := make([]discord.ApplicationCommandCreate, 0, len(specs))
	for _, s := range specs {
		key := "cmd_desc_" + s.name
		out = append(out, discord.SlashCommandCreate{
			Name:                     s.name,
			Description:              models.GetTranslation(models.LangEnglish, key),
			DescriptionLocalizations: localized(key),
			Options:                  s.options,
		})
	}
	return out
}

func localized(key string) map[discord.Locale]string {
	return map[discord.Locale]string{
		discord.LocaleChineseCN: models.GetTranslation(models.LangSimplifiedChinese, key),
	}
}
