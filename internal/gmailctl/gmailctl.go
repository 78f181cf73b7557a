// Package gmailctl replays filters compiled by the gmailctl tool as
// housekeeping rules.
package gmailctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/joshsymonds/gmailer/internal/criteria"
	"github.com/joshsymonds/gmailer/internal/mailbox"
	"github.com/joshsymonds/gmailer/internal/rule"
)

// Export mirrors the JSON payload produced by `gmailctl compile --format=json`.
type Export struct {
	Filters []Filter `json:"filters"`
	Labels  []Label  `json:"labels"`
}

// Filter represents a single Gmail filter definition.
type Filter struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Criteria FilterCriteria `json:"criteria"`
	Action   FilterAction   `json:"action"`
}

// FilterCriteria captures the subset of Gmail search predicates we replay.
type FilterCriteria struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Query   string `json:"query,omitempty"`
	List    string `json:"list,omitempty"`
}

// FilterAction describes the Gmail actions for a filter.
type FilterAction struct {
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
	Forward        string   `json:"forward,omitempty"`
}

// Label mirrors Gmail label metadata in the compile output.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Decode parses compile output. An export with neither filters nor
// labels is rejected since it usually means the wrong config dir.
func Decode(data []byte) (Export, error) {
	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		return Export{}, mailbox.ConfigError("decode gmailctl output", err)
	}
	if len(export.Filters) == 0 && len(export.Labels) == 0 {
		return Export{}, mailbox.ConfigError("decode gmailctl output", errors.New("gmailctl returned no filters or labels"))
	}
	return export, nil
}

// Runner shells out to the gmailctl binary to obtain compiled filters.
type Runner struct {
	Binary    string
	ConfigDir string
}

// ExportFilters invokes gmailctl and parses the resulting JSON export.
func (r Runner) ExportFilters(ctx context.Context) (Export, error) {
	bin := r.Binary
	if bin == "" {
		bin = "gmailctl"
	}
	args := []string{"compile", "--format=json"}
	if strings.TrimSpace(r.ConfigDir) != "" {
		args = append(args, "--config", r.ConfigDir)
	}
	cmd := exec.CommandContext(ctx, bin, args...) // #nosec G204 - binary determined by user input
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Export{}, fmt.Errorf("run gmailctl: %w (stderr: %s)", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Export{}, fmt.Errorf("run gmailctl: %w", err)
	}
	return Decode(out)
}

// Rules converts filters into rules in export order. Label ids are
// mapped back to names so either provider can resolve them. Filters with
// no criteria or no label action are skipped; they are returned by name
// in skipped.
func (e Export) Rules() (rules []*rule.Rule, skipped []string) {
	names := make(map[string]mailbox.LabelID, len(e.Labels))
	for _, l := range e.Labels {
		names[l.ID] = mailbox.LabelID(l.Name)
	}
	for i, f := range e.Filters {
		name := filterName(i, f)
		terms := f.Criteria.terms()
		add := mapLabels(f.Action.AddLabelIDs, names)
		remove := mapLabels(f.Action.RemoveLabelIDs, names)
		if len(terms) == 0 || (len(add) == 0 && len(remove) == 0) {
			skipped = append(skipped, name)
			continue
		}
		rules = append(rules, rule.New(name, f.Criteria.describe(), terms, add, remove))
	}
	return rules, skipped
}

func filterName(i int, f Filter) string {
	switch {
	case f.Name != "":
		return f.Name
	case f.ID != "":
		return "gmailctl " + f.ID
	default:
		return fmt.Sprintf("gmailctl filter %d", i+1)
	}
}

func (c FilterCriteria) terms() []criteria.Term {
	var term criteria.Term
	add := func(name, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if name != "" {
			value = quote(value)
		}
		term = append(term, criteria.Field{Name: name, Value: value})
	}
	add("from", c.From)
	add("to", c.To)
	add("subject", c.Subject)
	add("list", c.List)
	add("", c.Query)
	if len(term) == 0 {
		return nil
	}
	return []criteria.Term{term}
}

func (c FilterCriteria) describe() string {
	return "gmailctl filter: " + criteria.Gmail.Build(c.terms())
}

// quote wraps values containing spaces unless already grouped.
func quote(v string) string {
	if !strings.ContainsAny(v, " \t") {
		return v
	}
	switch v[0] {
	case '"', '(', '{':
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, "") + `"`
}

func mapLabels(ids []string, names map[string]mailbox.LabelID) []mailbox.LabelID {
	out := make([]mailbox.LabelID, 0, len(ids))
	for _, id := range ids {
		if name, ok := names[id]; ok {
			out = append(out, name)
			continue
		}
		out = append(out, mailbox.LabelID(id))
	}
	return out
}
