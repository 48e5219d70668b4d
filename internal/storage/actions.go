package storage

import (
	"context"
	"time"
)

const (
	OutcomeTimedOut      = "timed_out"
	OutcomeTimeoutFailed = "timeout_failed"
)

// ActionRecord is one enforcement action taken against a member.
type ActionRecord struct {
	ID              int64
	GuildID         string
	UserID          string
	ChannelID       string
	Reason          string
	FlaggedWord     string
	DurationMinutes int
	Outcome         string
	CreatedAt       time.Time
}

func (s *Store) AddActionRecord(ctx context.Context, record ActionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_records (guild_id, user_id, channel_id, reason, flagged_word, duration_minutes, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, record.GuildID, record.UserID, record.ChannelID, record.Reason, record.FlaggedWord, record.DurationMinutes, record.Outcome, record.CreatedAt.Unix())
	return err
}

func (s *Store) ListActionRecords(ctx context.Context, guildID string, since time.Time) ([]ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, channel_id, reason, flagged_word, duration_minutes, outcome, created_at
		FROM action_records
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`, guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ActionRecord
	for rows.Next() {
		var record ActionRecord
		var created int64
		if err := rows.Scan(&record.ID, &record.GuildID, &record.UserID, &record.ChannelID, &record.Reason, &record.FlaggedWord, &record.DurationMinutes, &record.Outcome, &created); err != nil {
			return nil, err
		}
		record.CreatedAt = time.Unix(created, 0)
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *Store) CleanupActionRecords(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := s.db.ExecContext(ctx, `DELETE FROM action_records WHERE created_at < ?`, cutoff.Unix())
	return err
}
