package storage

import (
	"context"
	"testing"
	"time"
)

func TestUpsertGuildConfig(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := GuildConfig{
		GuildID:           "g1",
		LogChannelID:      "c1",
		TimeoutMinMinutes: 30,
		TimeoutMaxMinutes: 60,
	}

	if err := store.UpsertGuildConfig(context.Background(), cfg); err != nil {
		t.Fatalf("upsert guild config: %v", err)
	}

	cfg.LogChannelID = "c2"
	cfg.TimeoutMaxMinutes = 90
	if err := store.UpsertGuildConfig(context.Background(), cfg); err != nil {
		t.Fatalf("update guild config: %v", err)
	}

	got, err := store.GetGuildConfig(context.Background(), "g1", GuildConfig{TimeoutMinMinutes: 1, TimeoutMaxMinutes: 1})
	if err != nil {
		t.Fatalf("get guild config: %v", err)
	}
	if got.LogChannelID != "c2" {
		t.Fatalf("expected channel c2, got %q", got.LogChannelID)
	}
	if got.TimeoutMaxMinutes != 90 {
		t.Fatalf("expected max 90, got %d", got.TimeoutMaxMinutes)
	}
}

func TestRestrictedGuildSetting(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	got, err := store.RestrictedGuild(ctx)
	if err != nil {
		t.Fatalf("restricted guild: %v", err)
	}
	if got != "" {
		t.Fatalf("expected no pin initially, got %q", got)
	}

	if err := store.SetRestrictedGuild(ctx, "g1"); err != nil {
		t.Fatalf("set restricted guild: %v", err)
	}
	if got, _ = store.RestrictedGuild(ctx); got != "g1" {
		t.Fatalf("expected g1, got %q", got)
	}

	if err := store.SetRestrictedGuild(ctx, "g2"); err != nil {
		t.Fatalf("overwrite restricted guild: %v", err)
	}
	if got, _ = store.RestrictedGuild(ctx); got != "g2" {
		t.Fatalf("expected g2, got %q", got)
	}

	if err := store.SetRestrictedGuild(ctx, ""); err != nil {
		t.Fatalf("clear restricted guild: %v", err)
	}
	if got, _ = store.RestrictedGuild(ctx); got != "" {
		t.Fatalf("expected cleared pin, got %q", got)
	}
}

func TestUpsertGuildConfigRejectsInvertedRange(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := GuildConfig{GuildID: "g1", TimeoutMinMinutes: 90, TimeoutMaxMinutes: 60}
	if err := store.UpsertGuildConfig(context.Background(), cfg); err == nil {
		t.Fatalf("expected inverted range to be rejected")
	}
}

func TestGetGuildConfigDefaults(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	defaults := GuildConfig{LogChannelID: "fallback", TimeoutMinMinutes: 30, TimeoutMaxMinutes: 60}
	got, err := store.GetGuildConfig(context.Background(), "missing", defaults)
	if err != nil {
		t.Fatalf("get guild config: %v", err)
	}
	if got.GuildID != "missing" || got.LogChannelID != "fallback" || got.TimeoutMinMinutes != 30 {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestBypassRoles(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	if err := store.AddBypassRole(ctx, "g1", "r1"); err != nil {
		t.Fatalf("add bypass role: %v", err)
	}
	if err := store.AddBypassRole(ctx, "g1", "r1"); err != nil {
		t.Fatalf("duplicate add should be ignored: %v", err)
	}
	if err := store.AddBypassRole(ctx, "g1", "r2"); err != nil {
		t.Fatalf("add bypass role: %v", err)
	}

	roles, err := store.ListBypassRoles(ctx, "g1")
	if err != nil {
		t.Fatalf("list bypass roles: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(roles))
	}

	if err := store.RemoveBypassRole(ctx, "g1", "r1"); err != nil {
		t.Fatalf("remove bypass role: %v", err)
	}
	roles, err = store.ListBypassRoles(ctx, "g1")
	if err != nil {
		t.Fatalf("list bypass roles: %v", err)
	}
	if len(roles) != 1 || roles[0] != "r2" {
		t.Fatalf("expected [r2], got %v", roles)
	}
}

func TestActionRecords(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	record := ActionRecord{
		GuildID:         "g1",
		UserID:          "u1",
		ChannelID:       "c1",
		Reason:          "profanity",
		FlaggedWord:     "word",
		DurationMinutes: 45,
		Outcome:         OutcomeTimedOut,
		CreatedAt:       time.Now(),
	}
	if err := store.AddActionRecord(ctx, record); err != nil {
		t.Fatalf("add action record: %v", err)
	}

	records, err := store.ListActionRecords(ctx, "g1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list action records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].DurationMinutes != 45 || records[0].Outcome != OutcomeTimedOut {
		t.Fatalf("unexpected record %+v", records[0])
	}

	records, err = store.ListActionRecords(ctx, "g1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("list action records: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records after cutoff, got %d", len(records))
	}
}
