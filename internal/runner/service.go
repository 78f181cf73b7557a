// Package runner executes rules one after another against a single
// provider session, isolating each rule's failure.
package runner

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/joshsymonds/gmailer/internal/mailbox"
	"github.com/joshsymonds/gmailer/internal/metrics"
	"github.com/joshsymonds/gmailer/internal/rate"
	"github.com/joshsymonds/gmailer/internal/rule"
)

// Service runs rule sets.
type Service struct {
	Provider mailbox.Provider
	Limiter  rate.Limiter
	Logger   *slog.Logger
	Clock    func() time.Time
	// DryRun searches and reports without mutating.
	DryRun bool
}

// NewService constructs a Service with sane defaults.
func NewService(provider mailbox.Provider, limiter rate.Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	return &Service{
		Provider: provider,
		Limiter:  limiter,
		Logger:   logger,
		Clock:    time.Now,
	}
}

// Run attempts every source exactly once, in order. A failing rule is
// recorded and logged; the run moves on. The context is checked between
// rules only, so a mutation in flight is never abandoned half way.
func (s *Service) Run(ctx context.Context, sources iter.Seq[rule.Source]) (Report, error) {
	rep := Report{
		RunID:   uuid.NewString(),
		Started: s.Clock(),
		DryRun:  s.DryRun,
	}
	logger := s.Logger.With(slog.String("run_id", rep.RunID))
	logger.InfoContext(ctx, "starting run", slog.Bool("dry_run", s.DryRun))

	for src := range sources {
		if err := ctx.Err(); err != nil {
			rep.Finished = s.Clock()
			logger.WarnContext(ctx, "run canceled", slog.Int("completed", len(rep.Outcomes)))
			return rep, fmt.Errorf("run canceled: %w", err)
		}
		out := s.runOne(ctx, logger, src)
		rep.Outcomes = append(rep.Outcomes, out)
	}

	rep.Finished = s.Clock()
	logger.InfoContext(ctx, "run finished",
		slog.Int("rules", len(rep.Outcomes)),
		slog.Int("failed", rep.Failed()),
		slog.Int("mutated", rep.Mutated()),
	)
	return rep, nil
}

func (s *Service) runOne(ctx context.Context, logger *slog.Logger, src rule.Source) (out Outcome) {
	start := s.Clock()
	out = Outcome{Source: src.Origin(), Rule: src.Origin()}
	defer func() {
		out.Duration = s.Clock().Sub(start)
		observe(out)
	}()

	r, err := src.Load()
	if err != nil {
		s.fail(ctx, logger, &out, fmt.Errorf("load rule: %w", err))
		return out
	}
	out.Rule = r.Name
	out.Description = r.Description
	if r.MatchesAll() {
		level := slog.LevelWarn
		if r.Destructive() {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "rule has no search terms and matches every message",
			slog.String("rule", r.Name), slog.Bool("destructive", r.Destructive()))
	}

	if err := s.wait(ctx, "rate limit search"); err != nil {
		s.fail(ctx, logger, &out, err)
		return out
	}
	ids, err := r.MatchedMessages(ctx, s.Provider)
	if err != nil {
		s.fail(ctx, logger, &out, err)
		return out
	}
	out.Matched = len(ids)
	logger.InfoContext(ctx, "executing rule",
		slog.String("rule", r.Name),
		slog.String("description", r.Description),
		slog.Int("matched", out.Matched),
	)

	if s.DryRun || len(ids) == 0 || !r.HasMutation() {
		return out
	}
	if err := s.wait(ctx, "rate limit modify"); err != nil {
		s.fail(ctx, logger, &out, err)
		return out
	}
	mutated, err := r.ApplyTo(ctx, s.Provider, ids)
	out.Mutated = mutated
	if err != nil {
		s.fail(ctx, logger, &out, err)
		return out
	}
	logger.DebugContext(ctx, "rule applied",
		slog.String("rule", r.Name),
		slog.Any("add", r.AddLabels),
		slog.Any("remove", r.RemoveLabels),
		slog.Int("mutated", mutated),
	)
	return out
}

func (s *Service) fail(ctx context.Context, logger *slog.Logger, out *Outcome, err error) {
	out.Err = err
	out.Error = err.Error()
	logger.ErrorContext(ctx, "rule failed",
		slog.String("rule", out.Rule),
		slog.String("source", out.Source),
		slog.String("kind", kindName(err)),
		slog.Any("error", err),
	)
}

func (s *Service) wait(ctx context.Context, operation string) error {
	if s.Limiter == nil {
		return nil
	}
	if err := s.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

func observe(out Outcome) {
	result := "ok"
	if out.Err != nil {
		result = "error"
	}
	metrics.RulesTotal.WithLabelValues(result).Inc()
	metrics.RuleDuration.WithLabelValues(result).Observe(out.Duration.Seconds())
	metrics.MessagesMatchedTotal.Add(float64(out.Matched))
	metrics.MessagesMutatedTotal.Add(float64(out.Mutated))
}

func kindName(err error) string {
	if k := mailbox.KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}
