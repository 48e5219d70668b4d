package audit

import (
	"context"
	"time"

	"modwatch/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
)

// Logger persists enforcement records and fans them out to zap and an
// optional channel notifier.
type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	notify func(context.Context, string, storage.ActionRecord)
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

func (l *Logger) SetNotifier(notify func(context.Context, string, storage.ActionRecord)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level string, record storage.ActionRecord) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if l.store != nil {
		if err := l.store.AddActionRecord(ctx, record); err != nil {
			l.logger.Warn("action record persist failed", zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, level, record)
	}
	l.logger.Info("enforcement",
		zap.String("level", level),
		zap.String("guild_id", record.GuildID),
		zap.String("user_id", record.UserID),
		zap.String("outcome", record.Outcome),
		zap.String("reason", record.Reason),
		zap.Int("duration_minutes", record.DurationMinutes))
}
