package rule

import (
	"errors"

	"github.com/joshsymonds/gmailer/internal/mailbox"
)

// Source yields one rule. Load errors belong to that source only.
type Source interface {
	// Origin identifies the source in logs and reports (usually a path).
	Origin() string
	Load() (*Rule, error)
}

// FileSource loads a rule from a YAML file.
type FileSource string

func (f FileSource) Origin() string       { return string(f) }
func (f FileSource) Load() (*Rule, error) { return Load(string(f)) }

// Static wraps an already parsed rule.
type Static struct {
	From string
	Rule *Rule
}

func (s Static) Origin() string {
	if s.From != "" {
		return s.From
	}
	if s.Rule != nil {
		return s.Rule.Name
	}
	return ""
}

// Load fails with a config error when no rule is wrapped.
func (s Static) Load() (*Rule, error) {
	if s.Rule == nil {
		return nil, mailbox.ConfigError("load "+s.Origin(), errors.New("no rule"))
	}
	return s.Rule, nil
}
