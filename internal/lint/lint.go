// Package lint checks a rule set against the live mailbox without
// mutating it: unloadable rules, match-all rules, rules that match
// nothing and rules that fight over the same messages.
package lint

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/joshsymonds/gmailer/internal/mailbox"
	"github.com/joshsymonds/gmailer/internal/rate"
	"github.com/joshsymonds/gmailer/internal/rule"
)

// RuleFinding names one rule and why it was flagged.
type RuleFinding struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Conflict lists rules whose actions disagree on at least one message.
type Conflict struct {
	Rules       []string `json:"rules"`
	Description string   `json:"description"`
}

// Report holds lint findings for one rule set.
type Report struct {
	Rules     int           `json:"rules"`
	Invalid   []RuleFinding `json:"invalid,omitempty"`
	MatchAll  []RuleFinding `json:"match_all,omitempty"`
	Dead      []RuleFinding `json:"dead,omitempty"`
	Conflicts []Conflict    `json:"conflicts,omitempty"`
}

// Service runs lint passes.
type Service struct {
	Provider mailbox.Provider
	Limiter  rate.Limiter
	Logger   *slog.Logger
}

type matchedRule struct {
	rule *rule.Rule
	ids  []mailbox.MessageID
}

// Run loads and searches every rule once. Only cancellation aborts.
func (s *Service) Run(ctx context.Context, sources iter.Seq[rule.Source]) (Report, error) {
	limiter := s.Limiter
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		rep     Report
		matched []matchedRule
	)
	for src := range sources {
		if err := ctx.Err(); err != nil {
			return rep, fmt.Errorf("lint canceled: %w", err)
		}
		rep.Rules++
		r, err := src.Load()
		if err != nil {
			rep.Invalid = append(rep.Invalid, RuleFinding{Name: src.Origin(), Reason: err.Error()})
			continue
		}
		if r.MatchesAll() {
			reason := "no search terms; matches every message"
			if r.Destructive() {
				reason += " and is destructive"
			}
			rep.MatchAll = append(rep.MatchAll, RuleFinding{Name: r.Name, Reason: reason})
		}
		if err := limiter.Wait(ctx); err != nil {
			return rep, fmt.Errorf("rate wait: %w", err)
		}
		ids, err := r.MatchedMessages(ctx, s.Provider)
		if err != nil {
			rep.Invalid = append(rep.Invalid, RuleFinding{Name: r.Name, Reason: err.Error()})
			continue
		}
		logger.DebugContext(ctx, "linted rule", slog.String("rule", r.Name), slog.Int("matched", len(ids)))
		if len(ids) == 0 {
			rep.Dead = append(rep.Dead, RuleFinding{Name: r.Name, Reason: "matched no messages"})
			continue
		}
		matched = append(matched, matchedRule{rule: r, ids: ids})
	}
	rep.Conflicts = detectConflicts(matched)
	return rep, nil
}

type ruleSummary struct {
	name   string
	add    []mailbox.LabelID
	remove []mailbox.LabelID
}

func detectConflicts(rules []matchedRule) []Conflict {
	byMessage := make(map[mailbox.MessageID][]ruleSummary)
	for _, m := range rules {
		summary := ruleSummary{name: m.rule.Name, add: m.rule.AddLabels, remove: m.rule.RemoveLabels}
		for _, id := range m.ids {
			byMessage[id] = append(byMessage[id], summary)
		}
	}

	seen := map[string]struct{}{}
	var conflicts []Conflict
	record := func(names []string, desc string) {
		names = mergeRuleSets(names, nil)
		key := strings.Join(names, "|") + "|" + desc
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		conflicts = append(conflicts, Conflict{Rules: names, Description: desc})
	}
	for _, summaries := range byMessage {
		for i, a := range summaries {
			for _, b := range summaries[i+1:] {
				if a.name == b.name {
					continue
				}
				for _, l := range overlap(a.add, b.remove) {
					record([]string{a.name, b.name}, fmt.Sprintf("%s adds %s, %s removes it", a.name, l, b.name))
				}
				for _, l := range overlap(b.add, a.remove) {
					record([]string{a.name, b.name}, fmt.Sprintf("%s adds %s, %s removes it", b.name, l, a.name))
				}
			}
		}
		archiveRules, starRules := classifySummaries(summaries)
		if len(archiveRules) > 0 && len(starRules) > 0 {
			record(mergeRuleSets(archiveRules, starRules), "archive and star rules overlap")
		}
	}
	sort.Slice(conflicts, func(i, j int) bool {
		ki := strings.Join(conflicts[i].Rules, "|") + conflicts[i].Description
		kj := strings.Join(conflicts[j].Rules, "|") + conflicts[j].Description
		return ki < kj
	})
	return conflicts
}

func overlap(a, b []mailbox.LabelID) []mailbox.LabelID {
	var out []mailbox.LabelID
	for _, l := range a {
		if slices.Contains(b, l) {
			out = append(out, l)
		}
	}
	return out
}

func classifySummaries(summaries []ruleSummary) ([]string, []string) {
	var archiveRules, starRules []string
	for _, s := range summaries {
		if slices.Contains(s.remove, mailbox.LabelInbox) {
			archiveRules = appendIfMissing(archiveRules, s.name)
		}
		if slices.Contains(s.add, mailbox.LabelStarred) {
			starRules = appendIfMissing(starRules, s.name)
		}
	}
	return archiveRules, starRules
}

func mergeRuleSets(a, b []string) []string {
	combined := append([]string{}, a...)
	for _, name := range b {
		combined = appendIfMissing(combined, name)
	}
	sort.Strings(combined)
	return combined
}

func appendIfMissing(slice []string, val string) []string {
	if slices.Contains(slice, val) {
		return slice
	}
	return append(slice, val)
}

// ShouldFail reports whether any of the requested conditions are present.
func (r Report) ShouldFail(failOn []string) bool {
	flags := map[string]bool{
		"invalid":   len(r.Invalid) > 0,
		"match-all": len(r.MatchAll) > 0,
		"dead":      len(r.Dead) > 0,
		"conflict":  len(r.Conflicts) > 0,
	}
	for _, cond := range failOn {
		if flags[strings.TrimSpace(strings.ToLower(cond))] {
			return true
		}
	}
	return false
}

// HumanSummary renders a concise CLI summary.
func (r Report) HumanSummary() string {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "gmailer lint: %d rules checked\n", r.Rules)
	if len(r.Invalid) == 0 && len(r.MatchAll) == 0 && len(r.Dead) == 0 && len(r.Conflicts) == 0 {
		builder.WriteString("no findings\n")
		return builder.String()
	}
	section := func(title string, findings []RuleFinding) {
		if len(findings) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		for _, f := range findings {
			fmt.Fprintf(builder, "  %s: %s\n", f.Name, f.Reason)
		}
	}
	section("invalid rules", r.Invalid)
	section("match-all rules", r.MatchAll)
	section("dead rules", r.Dead)
	if len(r.Conflicts) > 0 {
		builder.WriteString("conflicts:\n")
		for _, cf := range r.Conflicts {
			fmt.Fprintf(builder, "  %s: %s\n", strings.Join(cf.Rules, ", "), cf.Description)
		}
	}
	return builder.String()
}

// ParseFailOn splits a comma separated list into canonical tokens.
func ParseFailOn(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
