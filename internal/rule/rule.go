// Package rule parses declarative rule files and applies them to a mailbox.
package rule

import (
	"context"
	"fmt"

	"github.com/joshsymonds/gmailer/internal/criteria"
	"github.com/joshsymonds/gmailer/internal/mailbox"
)

// Rule pairs a mailbox search with a label mutation. Rules are built
// once per run and never modified afterwards.
type Rule struct {
	Name         string
	Description  string
	Search       []criteria.Term
	AddLabels    []mailbox.LabelID
	RemoveLabels []mailbox.LabelID
}

// New normalizes label sets and returns an immutable rule value.
func New(name, description string, search []criteria.Term, add, remove []mailbox.LabelID) *Rule {
	terms := make([]criteria.Term, 0, len(search))
	for _, t := range search {
		if len(t) == 0 {
			continue
		}
		terms = append(terms, append(criteria.Term(nil), t...))
	}
	return &Rule{
		Name:         name,
		Description:  description,
		Search:       terms,
		AddLabels:    mailbox.UniqueLabels(add),
		RemoveLabels: mailbox.UniqueLabels(remove),
	}
}

// MatchesAll reports whether the rule has no search terms and so
// selects every message in the account.
func (r *Rule) MatchesAll() bool {
	return len(r.Search) == 0
}

// Destructive reports whether the rule trashes mail or pulls it out of the inbox.
func (r *Rule) Destructive() bool {
	for _, l := range r.AddLabels {
		if l == mailbox.LabelTrash || l == mailbox.LabelSpam {
			return true
		}
	}
	for _, l := range r.RemoveLabels {
		if l == mailbox.LabelInbox {
			return true
		}
	}
	return false
}

// HasMutation reports whether applying the rule changes anything.
func (r *Rule) HasMutation() bool {
	return len(r.AddLabels) > 0 || len(r.RemoveLabels) > 0
}

// Query renders the rule's search for a dialect.
func (r *Rule) Query(d criteria.Dialect) mailbox.Query {
	return mailbox.Query{Raw: d.Build(r.Search)}
}

// MatchedMessages runs the rule's search against the live mailbox.
// Results are never cached.
func (r *Rule) MatchedMessages(ctx context.Context, p mailbox.Provider) ([]mailbox.MessageID, error) {
	q := r.Query(p.Dialect())
	ids, err := p.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", r.Name, classify(mailbox.KindSearch, "search", err))
	}
	return ids, nil
}

// ApplyTo issues a single label mutation over ids. It does nothing when
// ids is empty or the rule carries no label changes.
func (r *Rule) ApplyTo(ctx context.Context, p mailbox.Provider, ids []mailbox.MessageID) (int, error) {
	if len(ids) == 0 || !r.HasMutation() {
		return 0, nil
	}
	if err := p.ModifyLabels(ctx, ids, r.AddLabels, r.RemoveLabels); err != nil {
		return 0, fmt.Errorf("rule %q: %w", r.Name, classify(mailbox.KindMutation, "modify labels", err))
	}
	return len(ids), nil
}

// Apply searches once and mutates the matched set.
func (r *Rule) Apply(ctx context.Context, p mailbox.Provider) (matched, mutated int, err error) {
	ids, err := r.MatchedMessages(ctx, p)
	if err != nil {
		return 0, 0, err
	}
	mutated, err = r.ApplyTo(ctx, p, ids)
	return len(ids), mutated, err
}

func classify(kind mailbox.Kind, op string, err error) error {
	if mailbox.KindOf(err) != 0 {
		return err
	}
	return &mailbox.Error{Kind: kind, Op: op, Err: err}
}
