package models

// Language constants
const (
	LangEnglish           = "en"
	LangSimplifiedChinese = "zh_CN"
)

// Translation is a map of message keys to translated text
type Translation map[string]string

// Translations stores all language translations
var Translations = map[string]Translation{
	LangEnglish: {
		"cmd_desc_warn":    "Warn a member",
		"cmd_desc_kick":    "Kick a member",
		"cmd_desc_ban":     "Ban a user",
		"cmd_desc_tempban": "Ban a user for a limited time",
		"cmd_desc_unban":   "Lift a ban",
		"cmd_desc_jail":    "Confine a member to the jail channel",
		"cmd_desc_unjail":  "Release a member from jail",
		"cmd_desc_note":    "Add a staff note to a member",
		"cmd_desc_history": "Show a member's moderation history",

		"opt_user":     "Target user",
		"opt_reason":   "Reason (1-500 characters)",
		"opt_duration": "Duration, e.g. 30m, 12h, 7d",
		"opt_note":     "Note content",
		"opt_days":     "Days of messages to delete (0-7)",

		"ok_warn":          "Warned %s.",
		"ok_kick":          "Kicked %s.",
		"ok_ban":           "Banned %s.",
		"ok_tempban":       "Banned %s for %s.",
		"ok_unban":         "Unbanned %s.",
		"ok_jail":          "Jailed %s (%d roles backed up).",
		"ok_jail_timed":    "Jailed %s for %s (%d roles backed up).",
		"ok_unjail":        "Released %s (%d roles restored).",
		"ok_unjail_warn":   "Released %s (%d roles restored, %d could not be restored).",
		"ok_note":          "Note added for %s.",
		"history_empty":    "%s has no moderation history.",
		"history_title":    "Moderation history for %s:",
		"history_line":     "%s · %s by <@%s>: %s",
		"history_auto":     "%s · %s (automatic): %s",
		"history_notes":    "Staff notes (%d):",
		"history_note":     "%s · <@%s>: %s",
		"history_more":     "… %d older entries not shown.",
		"guild_only":       "This command can only be used in a server.",
		"internal_error":   "Something went wrong, the action may be incomplete. Please check the audit log.",
		"invalid_duration": "Invalid duration.",

		"err_already_jailed":    "That member is already jailed.",
		"err_not_jailed":        "That member is not jailed.",
		"err_permission_denied": "You are not allowed to do that.",
		"err_hierarchy_error":   "You cannot act on a member with an equal or higher role.",
		"err_self_action":       "You cannot do that to yourself.",
		"err_invalid_duration":  "The duration is out of range.",
		"err_invalid_reason":    "The reason must be between 1 and 500 characters.",
		"err_already_banned":    "That user is already banned.",
		"err_not_banned":        "That user is not banned.",
		"err_not_configured":    "The jail role and channel are not configured for this server.",
		"err_member_not_found":  "That user is not a member of this server.",
	},
	LangSimplifiedChinese: {
		"cmd_desc_warn":    "警告成员",
		"cmd_desc_kick":    "踢出成员",
		"cmd_desc_ban":     "封禁用户",
		"cmd_desc_tempban": "临时封禁用户",
		"cmd_desc_unban":   "解除封禁",
		"cmd_desc_jail":    "将成员关进禁闭频道",
		"cmd_desc_unjail":  "解除成员禁闭",
		"cmd_desc_note":    "为成员添加管理备注",
		"cmd_desc_history": "查看成员的处罚记录",

		"opt_user":     "目标用户",
		"opt_reason":   "原因（1-500 个字符）",
		"opt_duration": "时长，例如 30m、12h、7d",
		"opt_note":     "备注内容",
		"opt_days":     "删除最近几天的消息（0-7）",

		"ok_warn":          "已警告 %s。",
		"ok_kick":          "已踢出 %s。",
		"ok_ban":           "已封禁 %s。",
		"ok_tempban":       "已封禁 %s，时长 %s。",
		"ok_unban":         "已解除 %s 的封禁。",
		"ok_jail":          "已禁闭 %s（备份了 %d 个身份组）。",
		"ok_jail_timed":    "已禁闭 %s，时长 %s（备份了 %d 个身份组）。",
		"ok_unjail":        "已释放 %s（恢复了 %d 个身份组）。",
		"ok_unjail_warn":   "已释放 %s（恢复了 %d 个身份组，%d 个无法恢复）。",
		"ok_note":          "已为 %s 添加备注。",
		"history_empty":    "%s 没有处罚记录。",
		"history_title":    "%s 的处罚记录：",
		"history_line":     "%s · %s，执行者 <@%s>：%s",
		"history_auto":     "%s · %s（自动）：%s",
		"history_notes":    "管理备注（%d 条）：",
		"history_note":     "%s · <@%s>：%s",
		"history_more":     "… 另有 %d 条较早的记录未显示。",
		"guild_only":       "该命令只能在服务器中使用。",
		"internal_error":   "操作出错，可能未完整执行，请检查审计日志。",
		"invalid_duration": "时长格式无效。",

		"err_already_jailed":    "该成员已被禁闭。",
		"err_not_jailed":        "该成员未被禁闭。",
		"err_permission_denied": "您没有权限执行该操作。",
		"err_hierarchy_error":   "无法对身份组等级不低于您的成员执行该操作。",
		"err_self_action":       "不能对自己执行该操作。",
		"err_invalid_duration":  "时长超出允许范围。",
		"err_invalid_reason":    "原因必须为 1 到 500 个字符。",
		"err_already_banned":    "该用户已被封禁。",
		"err_not_banned":        "该用户未被封禁。",
		"err_not_configured":    "本服务器尚未配置禁闭身份组和频道。",
		"err_member_not_found":  "该用户不是本服务器成员。",
	},
}

// GetTranslation returns the correct translation for a given language code and key
func GetTranslation(lang, key string) string {
	if _, ok := Translations[lang]; !ok {
		lang = LangEnglish
	}

	if translation, ok := Translations[lang][key]; ok {
		return translation
	}

	// Fall back to English if key not found in specified language
	if translation, ok := Translations[LangEnglish][key]; ok {
		return translation
	}

	return key
}

// GetLanguageName returns the localized name of a language code
func GetLanguageName(langCode string) string {
	switch langCode {
	case LangSimplifiedChinese:
		return "简体中文"
	case LangEnglish:
		return "English"
	default:
		return langCode
	}
}
