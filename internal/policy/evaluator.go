package policy

import (
	"fmt"
	"math/rand"
	"time"

	"modwatch/internal/moderation"
	"modwatch/internal/storage"
)

type Action int

const (
	Ignore Action = iota
	Enforce
)

// Decision is the evaluator's output for one message.
type Decision struct {
	Action   Action
	Duration time.Duration
	Reason   string
}

// Source supplies the randomness for duration selection so tests can pin it.
type Source interface {
	Intn(n int) int
}

type realSource struct {
	rng *rand.Rand
}

func (s realSource) Intn(n int) int { return s.rng.Intn(n) }

type Evaluator struct {
	source Source
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		source: realSource{rng: rand.New(rand.NewSource(time.Now().UnixNano()))},
	}
}

func (e *Evaluator) WithSource(source Source) {
	e.source = source
}

// Evaluate maps a verdict to an action. It never touches the network or the
// store; the caller resolves guild config, the global restricted-guild pin,
// and bypass roles first. An empty restrictedGuildID means no pin.
func (e *Evaluator) Evaluate(verdict moderation.Verdict, memberRoles []string, guildID string, cfg storage.GuildConfig, restrictedGuildID string, bypass map[string]struct{}) Decision {
	if !verdict.Flagged {
		return Decision{Action: Ignore}
	}
	if restrictedGuildID != "" && guildID != restrictedGuildID {
		return Decision{Action: Ignore}
	}
	for _, roleID := range memberRoles {
		if _, ok := bypass[roleID]; ok {
			return Decision{Action: Ignore}
		}
	}

	minutes := e.pickMinutes(cfg.TimeoutMinMinutes, cfg.TimeoutMaxMinutes)
	reason := verdict.Reason
	if reason == "" {
		reason = "no reason provided"
	}
	detail := reason
	if verdict.FlaggedWord != "" {
		detail = fmt.Sprintf("flagged for %q (%s)", verdict.FlaggedWord, reason)
	}

	return Decision{
		Action:   Enforce,
		Duration: time.Duration(minutes) * time.Minute,
		Reason:   detail,
	}
}

func (e *Evaluator) pickMinutes(min, max int) int {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	return min + e.source.Intn(max-min+1)
}
