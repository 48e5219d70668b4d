package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"modwatch/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()

	if interaction.GuildID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Moderation", "This command only works in a guild.", colorFailure, nil), true)
		return
	}
	if interaction.Member == nil || interaction.Member.Permissions&discordgo.PermissionManageServer == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Moderation", "You need the Manage Server permission to use this command.", colorFailure, nil), true)
		return
	}

	switch data.Name {
	case "logchannel":
		b.handleLogChannel(ctx, session, interaction, data.Options)
	case "timeoutrange":
		b.handleTimeoutRange(ctx, session, interaction, data.Options)
	case "bypass":
		b.handleBypass(ctx, session, interaction, data.Options)
	case "restrict":
		b.handleRestrict(ctx, session, interaction, data.Options)
	case "config":
		b.handleConfig(ctx, session, interaction)
	case "history":
		b.handleHistory(ctx, session, interaction, data.Options)
	}
}

func (b *Bot) handleLogChannel(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	cfg := b.guildConfig(ctx, interaction.GuildID)

	if len(options) == 0 {
		value := "not set"
		if cfg.LogChannelID != "" {
			value = "<#" + cfg.LogChannelID + ">"
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Channel", Value: value, Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed("Log channel", "Current moderation log channel.", colorAction, fields), true)
		return
	}

	channel := options[0].ChannelValue(session)
	if channel == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Log channel", "Could not resolve that channel.", colorFailure, nil), true)
		return
	}
	cfg.LogChannelID = channel.ID
	if err := b.store.UpsertGuildConfig(ctx, cfg); err != nil {
		b.logger.Warn("log channel update failed", zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Log channel", "Update failed.", colorFailure, nil), true)
		return
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Channel", Value: "<#" + channel.ID + ">", Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed("Log channel", "Moderation log channel updated.", colorAction, fields), true)
}

func (b *Bot) handleTimeoutRange(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) < 2 {
		b.respondEmbed(session, interaction, b.commandEmbed("Timeout range", "Both min and max are required.", colorFailure, nil), true)
		return
	}

	min := int(options[0].IntValue())
	max := int(options[1].IntValue())
	if min < 1 || max < 1 {
		b.respondEmbed(session, interaction, b.commandEmbed("Timeout range", "Durations must be at least 1 minute.", colorFailure, nil), true)
		return
	}
	if min > max {
		b.respondEmbed(session, interaction, b.commandEmbed("Timeout range", "Minimum cannot be greater than maximum.", colorFailure, nil), true)
		return
	}

	cfg := b.guildConfig(ctx, interaction.GuildID)
	cfg.TimeoutMinMinutes = min
	cfg.TimeoutMaxMinutes = max
	if err := b.store.UpsertGuildConfig(ctx, cfg); err != nil {
		b.logger.Warn("timeout range update failed", zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Timeout range", "Update failed.", colorFailure, nil), true)
		return
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Range", Value: fmt.Sprintf("%d-%d minutes", min, max), Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed("Timeout range", "Timeout range updated.", colorAction, fields), true)
}

func (b *Bot) handleBypass(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Bypass roles", "No action given.", colorFailure, nil), true)
		return
	}
	action := options[0].StringValue()

	if action == "list" {
		roles, err := b.store.ListBypassRoles(ctx, interaction.GuildID)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Bypass roles", "Could not load bypass roles.", colorFailure, nil), true)
			return
		}
		value := "none"
		if len(roles) > 0 {
			lines := make([]string, 0, len(roles))
			for _, id := range roles {
				lines = append(lines, "<@&"+id+">")
			}
			value = strings.Join(lines, "\n")
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Roles", Value: value, Inline: false}}
		b.respondEmbed(session, interaction, b.commandEmbed("Bypass roles", "Members with these roles are never moderated.", colorAction, fields), true)
		return
	}

	var roleID string
	for _, opt := range options[1:] {
		if opt.Name == "role" && opt.Type == discordgo.ApplicationCommandOptionRole {
			if role := opt.RoleValue(session, interaction.GuildID); role != nil {
				roleID = role.ID
			}
		}
	}
	if roleID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Bypass roles", "A role is required for add and remove.", colorFailure, nil), true)
		return
	}

	var err error
	switch action {
	case "add":
		err = b.store.AddBypassRole(ctx, interaction.GuildID, roleID)
	case "remove":
		err = b.store.RemoveBypassRole(ctx, interaction.GuildID, roleID)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("Bypass roles", "Unknown action.", colorFailure, nil), true)
		return
	}
	if err != nil {
		b.logger.Warn("bypass role update failed", zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Bypass roles", "Update failed.", colorFailure, nil), true)
		return
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Role", Value: "<@&" + roleID + ">", Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed("Bypass roles", "Bypass list updated.", colorAction, fields), true)
}

func (b *Bot) handleRestrict(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Restricted mode", "No value given.", colorFailure, nil), true)
		return
	}

	// The pin is bot-global: turning it on here silences every other guild.
	pinned := ""
	status := "off, all guilds are moderated"
	if options[0].StringValue() == "on" {
		pinned = interaction.GuildID
		status = "on, only this guild is moderated"
	}
	if err := b.store.SetRestrictedGuild(ctx, pinned); err != nil {
		b.logger.Warn("restrict update failed", zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Restricted mode", "Update failed.", colorFailure, nil), true)
		return
	}
	fields := []*discordgo.MessageEmbedField{{Name: "Restricted", Value: status, Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed("Restricted mode", "Restricted mode updated.", colorAction, fields), true)
}

func (b *Bot) handleConfig(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	cfg := b.guildConfig(ctx, interaction.GuildID)

	logChannel := "not set"
	if cfg.LogChannelID != "" {
		logChannel = "<#" + cfg.LogChannelID + ">"
	}
	roles, _ := b.store.ListBypassRoles(ctx, interaction.GuildID)
	bypass := "none"
	if len(roles) > 0 {
		lines := make([]string, 0, len(roles))
		for _, id := range roles {
			lines = append(lines, "<@&"+id+">")
		}
		bypass = strings.Join(lines, ", ")
	}

	restricted := "off"
	switch pinned := b.restrictedGuild(ctx); pinned {
	case "":
	case interaction.GuildID:
		restricted = "on (this guild)"
	default:
		restricted = "on (another guild)"
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Log channel", Value: logChannel, Inline: true},
		{Name: "Timeout range", Value: fmt.Sprintf("%d-%d minutes", cfg.TimeoutMinMinutes, cfg.TimeoutMaxMinutes), Inline: true},
		{Name: "Restricted", Value: restricted, Inline: true},
		{Name: "Bypass roles", Value: bypass, Inline: false},
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Moderation configuration", "Current settings for this guild.", colorAction, fields), true)
}

func (b *Bot) handleHistory(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("History", "No period given.", colorFailure, nil), true)
		return
	}

	start := time.Now().Add(-24 * time.Hour)
	if options[0].StringValue() == "week" {
		start = time.Now().Add(-7 * 24 * time.Hour)
	}

	records, err := b.store.ListActionRecords(ctx, interaction.GuildID, start)
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("History", "Could not load action records.", colorFailure, nil), true)
		return
	}

	timedOut := 0
	failed := 0
	for _, record := range records {
		if record.Outcome == storage.OutcomeTimedOut {
			timedOut++
		} else {
			failed++
		}
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Total", Value: fmt.Sprintf("%d", len(records)), Inline: true},
		{Name: "Timed out", Value: fmt.Sprintf("%d", timedOut), Inline: true},
		{Name: "Failed", Value: fmt.Sprintf("%d", failed), Inline: true},
	}
	b.respondEmbed(session, interaction, b.commandEmbed("History", "Enforcement actions in the selected period.", colorAction, fields), true)
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}
