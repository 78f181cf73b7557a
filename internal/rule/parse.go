package rule

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joshsymonds/gmailer/internal/criteria"
	"github.com/joshsymonds/gmailer/internal/mailbox"
)

// File is the on-disk schema of a rule. Every key is optional.
type File struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Search       []Term   `yaml:"search"`
	AddLabels    []string `yaml:"add_labels"`
	RemoveLabels []string `yaml:"remove_labels"`
}

// Term decodes one search mapping, keeping the document's key order.
type Term criteria.Term

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Term) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		*t = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: search term must be a mapping", value.Line)
	}
	out := make(Term, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: value for %q must be a scalar", val.Line, key.Value)
		}
		out = append(out, criteria.Field{Name: key.Value, Value: val.Value})
	}
	*t = out
	return nil
}

// Parse decodes a rule document.
func Parse(data []byte) (*Rule, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, mailbox.ConfigError("parse rule", err)
	}
	if len(doc.Content) == 0 {
		return nil, mailbox.ConfigError("parse rule", errors.New("empty document"))
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, mailbox.ConfigError("parse rule", fmt.Errorf("line %d: rule must be a mapping", root.Line))
	}
	var f File
	if err := root.Decode(&f); err != nil {
		return nil, mailbox.ConfigError("parse rule", err)
	}
	return f.Rule(), nil
}

// Rule converts the schema into a Rule.
func (f File) Rule() *Rule {
	search := make([]criteria.Term, 0, len(f.Search))
	for _, t := range f.Search {
		search = append(search, criteria.Term(t))
	}
	return New(f.Name, f.Description, search, toLabels(f.AddLabels), toLabels(f.RemoveLabels))
}

// Load reads and parses a rule file. A rule without a name takes the
// file's base name.
func Load(path string) (*Rule, error) {
	data, err := os.ReadFile(path) // #nosec G304 - rule paths come from the operator
	if err != nil {
		return nil, mailbox.ConfigError("read "+path, err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if strings.TrimSpace(r.Name) == "" {
		base := filepath.Base(path)
		r.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return r, nil
}

func toLabels(in []string) []mailbox.LabelID {
	out := make([]mailbox.LabelID, 0, len(in))
	for _, s := range in {
		out = append(out, mailbox.LabelID(strings.TrimSpace(s)))
	}
	return out
}
