package lint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/gmailer/internal/criteria"
	"github.com/joshsymonds/gmailer/internal/mailbox"
	"github.com/joshsymonds/gmailer/internal/mailbox/mailboxtest"
	"github.com/joshsymonds/gmailer/internal/rule"
)

func from(addr string) []criteria.Term {
	return []criteria.Term{{{Name: "from", Value: addr}}}
}

func sources(srcs ...rule.Source) func(func(rule.Source) bool) {
	return func(yield func(rule.Source) bool) {
		for _, s := range srcs {
			if !yield(s) {
				return
			}
		}
	}
}

func static(r *rule.Rule) rule.Source { return rule.Static{From: "test", Rule: r} }

func newFake() *mailboxtest.Fake {
	return mailboxtest.New(
		&mailboxtest.Message{ID: "1", From: "boss@example.com", Labels: []mailbox.LabelID{mailbox.LabelInbox}},
		&mailboxtest.Message{ID: "2", From: "news@example.com", Labels: []mailbox.LabelID{mailbox.LabelInbox}},
	)
}

func TestRunFindings(t *testing.T) {
	fake := newFake()
	svc := &Service{Provider: fake}

	rep, err := svc.Run(context.Background(), sources(
		static(rule.New("Star Boss", "", from("boss@example.com"), []mailbox.LabelID{mailbox.LabelStarred}, nil)),
		static(rule.New("Archive Example", "", from("example.com"), nil, []mailbox.LabelID{mailbox.LabelInbox})),
		static(rule.New("Ghost", "", from("nobody@example.org"), []mailbox.LabelID{"Ghosts"}, nil)),
		static(rule.New("Everything", "", nil, []mailbox.LabelID{mailbox.LabelTrash}, nil)),
		rule.FileSource(filepath.Join(t.TempDir(), "missing.yaml")),
	))
	require.NoError(t, err)

	assert.Equal(t, 5, rep.Rules)
	require.Len(t, rep.Invalid, 1)
	assert.Contains(t, rep.Invalid[0].Name, "missing.yaml")
	assert.Equal(t, []RuleFinding{{Name: "Ghost", Reason: "matched no messages"}}, rep.Dead)
	require.Len(t, rep.MatchAll, 1)
	assert.Equal(t, "Everything", rep.MatchAll[0].Name)
	assert.Contains(t, rep.MatchAll[0].Reason, "destructive")
	assert.Contains(t, rep.Conflicts, Conflict{
		Rules:       []string{"Archive Example", "Star Boss"},
		Description: "archive and star rules overlap",
	})
	assert.Empty(t, fake.Modifies)
}

func TestRunLabelConflict(t *testing.T) {
	svc := &Service{Provider: newFake()}
	rep, err := svc.Run(context.Background(), sources(
		static(rule.New("Tag News", "", from("news@"), []mailbox.LabelID{"News"}, nil)),
		static(rule.New("Untag Example", "", from("example.com"), nil, []mailbox.LabelID{"News"})),
	))
	require.NoError(t, err)
	assert.Equal(t, []Conflict{{
		Rules:       []string{"Tag News", "Untag Example"},
		Description: "Tag News adds News, Untag Example removes it",
	}}, rep.Conflicts)
	assert.True(t, rep.ShouldFail([]string{"conflict"}))
	assert.False(t, rep.ShouldFail([]string{"dead", "invalid"}))
}

func TestRunSearchErrorIsInvalid(t *testing.T) {
	fake := newFake()
	fake.SearchErr = mailbox.SearchError("search", errors.New("timeout"))
	rep, err := (&Service{Provider: fake}).Run(context.Background(), sources(
		static(rule.New("A", "", from("a"), []mailbox.LabelID{"x"}, nil)),
	))
	require.NoError(t, err)
	require.Len(t, rep.Invalid, 1)
	assert.Contains(t, rep.Invalid[0].Reason, "timeout")
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Service{Provider: newFake()}).Run(ctx, sources(
		static(rule.New("A", "", from("a"), []mailbox.LabelID{"x"}, nil)),
	))
	require.ErrorIs(t, err, context.Canceled)
}

func TestHumanSummary(t *testing.T) {
	assert.Equal(t, "gmailer lint: 0 rules checked\nno findings\n", Report{}.HumanSummary())

	out := Report{
		Rules: 2,
		Dead:  []RuleFinding{{Name: "Ghost", Reason: "matched no messages"}},
		Conflicts: []Conflict{{
			Rules:       []string{"A", "B"},
			Description: "archive and star rules overlap",
		}},
	}.HumanSummary()
	assert.Contains(t, out, "dead rules:\n  Ghost: matched no messages\n")
	assert.Contains(t, out, "conflicts:\n  A, B: archive and star rules overlap\n")
}

func TestParseFailOn(t *testing.T) {
	assert.Nil(t, ParseFailOn("  "))
	assert.Equal(t, []string{"dead", "conflict"}, ParseFailOn("Dead, ,conflict"))
}
