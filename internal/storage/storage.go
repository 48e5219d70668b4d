package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

// GuildConfig is the per-guild moderation configuration. A row is created on
// the first configuration command; reads fall back to process defaults.
type GuildConfig struct {
	GuildID           string
	LogChannelID      string
	TimeoutMinMinutes int
	TimeoutMaxMinutes int
}

// Restricted-guild mode is bot-global: one pinned guild id in bot_settings.
const settingRestrictedGuild = "restricted_guild_id"

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

func (s *Store) GetGuildConfig(ctx context.Context, guildID string, defaults GuildConfig) (GuildConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT log_channel_id, timeout_min_minutes, timeout_max_minutes
		FROM guild_configs WHERE guild_id = ?`, guildID)

	result := defaults
	result.GuildID = guildID

	err := row.Scan(
		&result.LogChannelID,
		&result.TimeoutMinMinutes,
		&result.TimeoutMaxMinutes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return GuildConfig{}, err
	}
	if result.TimeoutMinMinutes < 1 {
		result.TimeoutMinMinutes = defaults.TimeoutMinMinutes
	}
	if result.TimeoutMaxMinutes < result.TimeoutMinMinutes {
		result.TimeoutMaxMinutes = result.TimeoutMinMinutes
	}
	return result, nil
}

func (s *Store) UpsertGuildConfig(ctx context.Context, cfg GuildConfig) error {
	if cfg.TimeoutMinMinutes > cfg.TimeoutMaxMinutes {
		return fmt.Errorf("timeout range inverted: min=%d max=%d", cfg.TimeoutMinMinutes, cfg.TimeoutMaxMinutes)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_configs (
			guild_id, log_channel_id, timeout_min_minutes, timeout_max_minutes
		) VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			log_channel_id = excluded.log_channel_id,
			timeout_min_minutes = excluded.timeout_min_minutes,
			timeout_max_minutes = excluded.timeout_max_minutes
	`,
		cfg.GuildID,
		cfg.LogChannelID,
		cfg.TimeoutMinMinutes,
		cfg.TimeoutMaxMinutes,
	)
	return err
}

// RestrictedGuild returns the globally pinned guild id, or "" when moderation
// runs everywhere.
func (s *Store) RestrictedGuild(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM bot_settings WHERE key = ?`, settingRestrictedGuild)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// SetRestrictedGuild pins moderation to one guild; an empty id clears the pin.
func (s *Store) SetRestrictedGuild(ctx context.Context, guildID string) error {
	if guildID == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM bot_settings WHERE key = ?`, settingRestrictedGuild)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, settingRestrictedGuild, guildID)
	return err
}

func (s *Store) AddBypassRole(ctx context.Context, guildID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO bypass_roles (guild_id, role_id) VALUES (?, ?)`, guildID, roleID)
	return err
}

func (s *Store) RemoveBypassRole(ctx context.Context, guildID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bypass_roles WHERE guild_id = ? AND role_id = ?`, guildID, roleID)
	return err
}

func (s *Store) ListBypassRoles(ctx context.Context, guildID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role_id FROM bypass_roles WHERE guild_id = ? ORDER BY role_id`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var roleID string
		if err := rows.Scan(&roleID); err != nil {
			return nil, err
		}
		roles = append(roles, roleID)
	}
	return roles, rows.Err()
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
