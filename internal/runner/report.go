package runner

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Outcome is the result of attempting one rule.
type Outcome struct {
	Rule        string        `json:"rule"`
	Source      string        `json:"source"`
	Description string        `json:"description,omitempty"`
	Matched     int           `json:"matched"`
	Mutated     int           `json:"mutated"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	Err         error         `json:"-"`
}

// Failed reports whether the rule ended in error.
func (o Outcome) Failed() bool { return o.Err != nil }

// Report aggregates every outcome of a run, in execution order.
type Report struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	DryRun   bool      `json:"dry_run"`
	Outcomes []Outcome `json:"outcomes"`
}

// Failed counts failed rules.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

// Mutated sums mutated messages across rules.
func (r Report) Mutated() int {
	n := 0
	for _, o := range r.Outcomes {
		n += o.Mutated
	}
	return n
}

// HumanSummary renders a concise CLI summary.
func (r Report) HumanSummary() string {
	builder := &strings.Builder{}
	mode := ""
	if r.DryRun {
		mode = " (dry-run)"
	}
	fmt.Fprintf(builder, "gmailer run %s%s: %d rules, %d failed\n", r.RunID, mode, len(r.Outcomes), r.Failed())
	for _, o := range r.Outcomes {
		if o.Failed() {
			fmt.Fprintf(builder, "  FAIL %-30s %s\n", o.Rule, o.Error)
			continue
		}
		fmt.Fprintf(builder, "  ok   %-30s matched=%d mutated=%d\n", o.Rule, o.Matched, o.Mutated)
	}
	return builder.String()
}

// PrintHuman writes the summary to w, defaulting to stdout.
func PrintHuman(rep Report, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	if _, err := io.WriteString(w, rep.HumanSummary()); err != nil {
		return fmt.Errorf("write human report: %w", err)
	}
	return nil
}

// WriteJSON serializes the report to a path relative to the working directory.
func WriteJSON(rep Report, path string) error {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return fmt.Errorf("path must not be empty")
	}
	clean = filepath.Clean(clean)
	if filepath.IsAbs(clean) {
		return fmt.Errorf("output path must be relative, got %s", clean)
	}
	if strings.HasPrefix(clean, "..") {
		return fmt.Errorf("output path %s escapes working directory", clean)
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}
	abs := filepath.Join(wd, clean)
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create %s: %w", abs, err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if encodeErr := enc.Encode(rep); encodeErr != nil {
		return fmt.Errorf("encode report: %w", encodeErr)
	}
	return nil
}
