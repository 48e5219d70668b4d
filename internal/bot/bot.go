package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"modwatch/internal/config"
	"modwatch/internal/moderation"
	"modwatch/internal/modules/audit"
	"modwatch/internal/policy"
	"modwatch/internal/storage"
	"modwatch/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorAction  = 0xF59E0B
	colorFailure = 0xEF4444
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	client    *moderation.Client
	evaluator *policy.Evaluator
	audit     *audit.Logger
	session   *discordgo.Session
	cooldown  *utils.Cooldown
	stop      chan struct{}
	closeOnce sync.Once
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, client *moderation.Client, evaluator *policy.Evaluator, auditLogger *audit.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	cooldownWindow := time.Duration(cfg.CooldownSeconds) * time.Second

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		client:    client,
		evaluator: evaluator,
		audit:     auditLogger,
		session:   session,
		cooldown:  utils.NewCooldown(cooldownWindow),
		stop:      make(chan struct{}),
	}

	if b.audit != nil {
		b.audit.SetNotifier(func(ctx context.Context, level string, record storage.ActionRecord) {
			b.notifyAction(ctx, level, record)
		})
	}

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	b.startMaintenance()

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	b.closeOnce.Do(func() { close(b.stop) })

	done := make(chan struct{})
	go func() {
		if b.session != nil {
			_ = b.session.Close()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("gateway close did not finish before shutdown deadline")
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
	b.preflightPermissions(context.Background(), session)
}

// preflightPermissions warns at startup about guilds where enforcement or
// logging will fail later.
func (b *Bot) preflightPermissions(ctx context.Context, session *discordgo.Session) {
	for _, guild := range session.State.Guilds {
		if guild == nil {
			continue
		}
		if !b.hasGuildPermission(guild.ID, session.State.User.ID, discordgo.PermissionModerateMembers) {
			b.logger.Warn("missing moderate members permission, timeouts will fail", zap.String("guild_id", guild.ID))
		}

		cfg := b.guildConfig(ctx, guild.ID)
		if cfg.LogChannelID == "" {
			continue
		}
		perms, err := session.UserChannelPermissions(session.State.User.ID, cfg.LogChannelID)
		if err != nil {
			b.logger.Warn("log channel not accessible", zap.String("guild_id", guild.ID), zap.String("channel_id", cfg.LogChannelID), zap.Error(err))
			continue
		}
		if perms&discordgo.PermissionSendMessages == 0 {
			b.logger.Warn("missing send permission in log channel", zap.String("guild_id", guild.ID), zap.String("channel_id", cfg.LogChannelID))
		}
	}
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" {
		return
	}

	ctx := context.Background()

	// Cheap gates first so bypassed or out-of-scope messages never reach the API.
	restricted := b.restrictedGuild(ctx)
	if restricted != "" && msg.GuildID != restricted {
		return
	}

	cfg := b.guildConfig(ctx, msg.GuildID)
	bypass := b.bypassRoles(ctx, msg.GuildID)
	roles := memberRoles(msg.Member)
	if holdsAny(roles, bypass) {
		b.logger.Debug("bypass role holder, skipping moderation", zap.String("user_id", msg.Author.ID))
		return
	}

	if !b.cooldown.Allow(msg.GuildID+":"+msg.Author.ID, time.Now()) {
		b.logger.Debug("user on cooldown, skipping api call", zap.String("user_id", msg.Author.ID))
		return
	}

	verdict, err := b.client.Analyze(ctx, msg.Content)
	if err != nil {
		// Fail-open: an unreachable or broken analysis endpoint never blocks chat.
		b.logger.Warn("moderation api failed, message allowed",
			zap.String("guild_id", msg.GuildID),
			zap.String("user_id", msg.Author.ID),
			zap.Error(err))
		return
	}

	decision := b.evaluator.Evaluate(verdict, roles, msg.GuildID, cfg, restricted, bypass)
	if decision.Action != policy.Enforce {
		return
	}

	b.enforce(ctx, session, msg, decision, verdict)
}

func (b *Bot) enforce(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate, decision policy.Decision, verdict moderation.Verdict) {
	minutes := int(decision.Duration / time.Minute)
	until := time.Now().Add(decision.Duration)

	outcome := storage.OutcomeTimedOut
	if err := session.GuildMemberTimeout(msg.GuildID, msg.Author.ID, &until); err != nil {
		outcome = storage.OutcomeTimeoutFailed
		b.logger.Warn("timeout failed",
			zap.String("guild_id", msg.GuildID),
			zap.String("user_id", msg.Author.ID),
			zap.Error(err))
	}

	b.notifyMember(session, msg, decision, verdict, outcome)

	record := storage.ActionRecord{
		GuildID:         msg.GuildID,
		UserID:          msg.Author.ID,
		ChannelID:       msg.ChannelID,
		Reason:          decision.Reason,
		FlaggedWord:     verdict.FlaggedWord,
		DurationMinutes: minutes,
		Outcome:         outcome,
		CreatedAt:       time.Now(),
	}
	b.audit.Log(ctx, audit.LevelWarn, record)
}

// notifyMember DMs the offender. Closed DMs are reported and nothing more;
// the timeout stands either way.
func (b *Bot) notifyMember(session *discordgo.Session, msg *discordgo.MessageCreate, decision policy.Decision, verdict moderation.Verdict, outcome string) {
	channel, err := session.UserChannelCreate(msg.Author.ID)
	if err != nil {
		b.logger.Warn("dm channel create failed", zap.String("user_id", msg.Author.ID), zap.Error(err))
		return
	}

	guildName := msg.GuildID
	if guild, err := session.State.Guild(msg.GuildID); err == nil && guild != nil {
		guildName = guild.Name
	}

	verb := "timed out"
	if outcome != storage.OutcomeTimedOut {
		verb = "flagged"
	}
	content := fmt.Sprintf(
		"Your message in **%s** was flagged for moderation.\n**Reason:** %s\nYou have been %s for **%d minutes**.",
		guildName, decision.Reason, verb, int(decision.Duration/time.Minute))

	if _, err := session.ChannelMessageSend(channel.ID, content); err != nil {
		b.logger.Warn("dm delivery failed", zap.String("user_id", msg.Author.ID), zap.Error(err))
	}
}

func (b *Bot) notifyAction(ctx context.Context, level string, record storage.ActionRecord) {
	_ = level
	cfg := b.guildConfig(ctx, record.GuildID)
	channelID := cfg.LogChannelID
	if channelID == "" {
		channelID = b.cfg.DefaultLogChannel
	}
	if channelID == "" {
		return
	}
	if _, err := b.session.ChannelMessageSendEmbed(channelID, b.buildActionEmbed(record)); err != nil {
		b.logger.Warn("log channel post failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (b *Bot) buildActionEmbed(record storage.ActionRecord) *discordgo.MessageEmbed {
	title := "Message flagged and member timed out"
	color := colorAction
	status := "success"
	if record.Outcome != storage.OutcomeTimedOut {
		title = "Message flagged, timeout failed"
		color = colorFailure
		status = "failed"
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "User", Value: "<@" + record.UserID + ">", Inline: true},
		{Name: "Channel", Value: "<#" + record.ChannelID + ">", Inline: true},
		{Name: "Duration", Value: fmt.Sprintf("%d minutes", record.DurationMinutes), Inline: true},
		{Name: "Timeout", Value: status, Inline: true},
	}
	if record.FlaggedWord != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Flagged word", Value: "`" + record.FlaggedWord + "`", Inline: true})
	}
	fields = append(fields, &discordgo.MessageEmbedField{Name: "Reason", Value: record.Reason, Inline: false})

	return &discordgo.MessageEmbed{
		Title:     title,
		Color:     color,
		Timestamp: record.CreatedAt.Format(time.RFC3339),
		Fields:    fields,
	}
}

func (b *Bot) guildConfig(ctx context.Context, guildID string) storage.GuildConfig {
	defaults := storage.GuildConfig{
		GuildID:           guildID,
		LogChannelID:      b.cfg.DefaultLogChannel,
		TimeoutMinMinutes: b.cfg.Timeout.MinMinutes,
		TimeoutMaxMinutes: b.cfg.Timeout.MaxMinutes,
	}

	cfg, err := b.store.GetGuildConfig(ctx, guildID, defaults)
	if err != nil {
		b.logger.Warn("guild config fallback", zap.Error(err))
		return defaults
	}
	return cfg
}

// restrictedGuild resolves the global pin; lookup failures disable the gate
// rather than silencing every guild.
func (b *Bot) restrictedGuild(ctx context.Context) string {
	guildID, err := b.store.RestrictedGuild(ctx)
	if err != nil {
		b.logger.Warn("restricted guild lookup failed", zap.Error(err))
		return ""
	}
	return guildID
}

func (b *Bot) bypassRoles(ctx context.Context, guildID string) map[string]struct{} {
	set := make(map[string]struct{})
	roles, err := b.store.ListBypassRoles(ctx, guildID)
	if err != nil {
		b.logger.Warn("bypass roles fallback", zap.Error(err))
		return set
	}
	for _, roleID := range roles {
		set[roleID] = struct{}{}
	}
	return set
}

func (b *Bot) hasGuildPermission(guildID, userID string, permission int64) bool {
	guild, err := b.session.State.Guild(guildID)
	if err != nil || guild == nil {
		guild, _ = b.session.Guild(guildID)
	}
	if guild == nil {
		return false
	}
	if guild.OwnerID == userID {
		return true
	}

	member, err := b.session.State.Member(guildID, userID)
	if err != nil || member == nil {
		member, _ = b.session.GuildMember(guildID, userID)
	}
	if member == nil {
		return false
	}

	perms := int64(0)
	roleMap := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		roleMap[role.ID] = role
		if role.ID == guild.ID {
			perms |= role.Permissions
		}
	}
	for _, roleID := range member.Roles {
		if role := roleMap[roleID]; role != nil {
			perms |= role.Permissions
		}
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return perms&permission != 0
}

func (b *Bot) startMaintenance() {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case now := <-ticker.C:
				b.runMaintenance(context.Background(), now)
			}
		}
	}()
}

func (b *Bot) runMaintenance(ctx context.Context, now time.Time) {
	b.cooldown.Prune(now)
	if b.cfg.RetentionDays <= 0 {
		return
	}
	if err := b.store.CleanupActionRecords(ctx, b.cfg.RetentionDays); err != nil {
		b.logger.Warn("action record cleanup failed", zap.Error(err))
	}
}

func memberRoles(member *discordgo.Member) []string {
	if member == nil {
		return nil
	}
	return member.Roles
}

func holdsAny(roles []string, set map[string]struct{}) bool {
	for _, roleID := range roles {
		if _, ok := set[roleID]; ok {
			return true
		}
	}
	return false
}
