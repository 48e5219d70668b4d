package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"modwatch/internal/config"
	"modwatch/internal/moderation"
	"modwatch/internal/modules/audit"
	"modwatch/internal/policy"
	"modwatch/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func newTestBot(t *testing.T, apiURL string) (*Bot, *storage.Store) {
	t.Helper()

	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.DiscordToken = "test-token"
	cfg.Moderation.BaseURL = apiURL
	cfg.Moderation.TimeoutSeconds = 2
	cfg.Moderation.RetryAttempts = 1

	logger := zap.NewNop()
	client := moderation.NewClient(cfg.Moderation, logger)
	auditLogger := audit.NewLogger(store, logger)

	b, err := New(cfg, logger, store, client, policy.NewEvaluator(), auditLogger)
	if err != nil {
		t.Fatalf("new bot: %v", err)
	}
	return b, store
}

// refusingTransport makes every gateway REST call fail immediately, so
// enforcement failure paths run without waiting on the network.
type refusingTransport struct{}

func (refusingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("rest disabled")
}

func testMessage(guildID, userID string, roles ...string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   guildID,
		Author:    &discordgo.User{ID: userID},
		Member:    &discordgo.Member{Roles: roles},
		Content:   "hello there",
	}}
}

func countRecords(t *testing.T, store *storage.Store, guildID string) int {
	t.Helper()
	records, err := store.ListActionRecords(context.Background(), guildID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list action records: %v", err)
	}
	return len(records)
}

func TestPipelineCleanVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"flagged":false}`))
	}))
	defer server.Close()

	b, store := newTestBot(t, server.URL)
	b.onMessageCreate(b.session, testMessage("g1", "u1"))

	if got := countRecords(t, store, "g1"); got != 0 {
		t.Fatalf("clean verdict must not be actioned, got %d records", got)
	}
}

func TestPipelineFailOpenOnAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	b, store := newTestBot(t, server.URL)
	b.onMessageCreate(b.session, testMessage("g1", "u1"))

	if got := countRecords(t, store, "g1"); got != 0 {
		t.Fatalf("api failure must fail open, got %d records", got)
	}
}

func TestPipelineEnforceRecordsFailedTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"flagged":true,"flagged_word":"bad","reason":"profanity"}`))
	}))
	defer server.Close()

	b, store := newTestBot(t, server.URL)
	b.session.Client = &http.Client{Transport: refusingTransport{}}

	b.onMessageCreate(b.session, testMessage("g1", "u1"))

	records, err := store.ListActionRecords(context.Background(), "g1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list action records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 enforcement record, got %d", len(records))
	}
	record := records[0]
	if record.Outcome != storage.OutcomeTimeoutFailed {
		t.Fatalf("expected failed timeout outcome, got %q", record.Outcome)
	}
	if record.UserID != "u1" || record.ChannelID != "c1" {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.DurationMinutes < 30 || record.DurationMinutes > 60 {
		t.Fatalf("duration %d outside default range", record.DurationMinutes)
	}
	if !strings.Contains(record.Reason, "bad") {
		t.Fatalf("expected flagged word in reason, got %q", record.Reason)
	}
}

func TestPipelineBypassRoleSkipsAPI(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"flagged":true,"reason":"profanity"}`))
	}))
	defer server.Close()

	b, store := newTestBot(t, server.URL)
	if err := b.store.AddBypassRole(context.Background(), "g1", "r1"); err != nil {
		t.Fatalf("add bypass role: %v", err)
	}

	b.onMessageCreate(b.session, testMessage("g1", "u1", "r1"))

	if calls.Load() != 0 {
		t.Fatalf("bypass holder should never reach the api, got %d calls", calls.Load())
	}
	if got := countRecords(t, store, "g1"); got != 0 {
		t.Fatalf("bypass holder must not be actioned, got %d records", got)
	}
}

func TestPipelineRestrictedPinSilencesOtherGuilds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"flagged":false}`))
	}))
	defer server.Close()

	b, store := newTestBot(t, server.URL)
	if err := b.store.SetRestrictedGuild(context.Background(), "g1"); err != nil {
		t.Fatalf("set restricted guild: %v", err)
	}

	b.onMessageCreate(b.session, testMessage("g2", "u1"))
	if calls.Load() != 0 {
		t.Fatalf("message outside the pinned guild reached the api (%d calls)", calls.Load())
	}
	if got := countRecords(t, store, "g2"); got != 0 {
		t.Fatalf("message outside the pinned guild must not be actioned, got %d records", got)
	}

	b.onMessageCreate(b.session, testMessage("g1", "u1"))
	if calls.Load() != 1 {
		t.Fatalf("pinned guild should still be moderated, got %d calls", calls.Load())
	}
}

func TestPipelineCooldownLimitsAPICalls(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"flagged":false}`))
	}))
	defer server.Close()

	b, _ := newTestBot(t, server.URL)
	b.onMessageCreate(b.session, testMessage("g1", "u1"))
	b.onMessageCreate(b.session, testMessage("g1", "u1"))

	if calls.Load() != 1 {
		t.Fatalf("second message inside cooldown should skip the api, got %d calls", calls.Load())
	}
}

func TestRunMaintenanceCleansOldRecords(t *testing.T) {
	b, store := newTestBot(t, "http://127.0.0.1:0")

	old := storage.ActionRecord{
		GuildID:   "g1",
		UserID:    "u1",
		Outcome:   storage.OutcomeTimedOut,
		CreatedAt: time.Now().AddDate(0, 0, -(b.cfg.RetentionDays + 10)),
	}
	if err := store.AddActionRecord(context.Background(), old); err != nil {
		t.Fatalf("add action record: %v", err)
	}

	b.runMaintenance(context.Background(), time.Now())

	records, err := store.ListActionRecords(context.Background(), "g1", time.Now().AddDate(-1, 0, 0))
	if err != nil {
		t.Fatalf("list action records: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected expired records to be cleaned, got %d", len(records))
	}
}

func TestCloseStopsMaintenance(t *testing.T) {
	b, _ := newTestBot(t, "http://127.0.0.1:0")
	b.startMaintenance()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b.Close(ctx)

	select {
	case <-b.stop:
	default:
		t.Fatalf("expected stop channel to be closed")
	}

	// Close is idempotent.
	b.Close(ctx)
}
