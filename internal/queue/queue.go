// Package queue resolves command line paths into rule files.
package queue

import (
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joshsymonds/gmailer/internal/rule"
)

// Extensions lists the file suffixes treated as rule files inside directories.
var Extensions = []string{".yaml", ".yml"}

// Paths lazily expands each directory into its immediate rule files,
// sorted by name. Anything else, including paths that cannot be
// stat'ed, is yielded as is so loading reports the failure.
func Paths(paths []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, p := range paths {
			info, err := os.Stat(p)
			if err != nil || !info.IsDir() {
				if !yield(p) {
					return
				}
				continue
			}
			entries, err := os.ReadDir(p)
			if err != nil {
				if !yield(p) {
					return
				}
				continue
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				if e.IsDir() || !isRuleFile(e.Name()) {
					continue
				}
				names = append(names, e.Name())
			}
			sort.Strings(names)
			for _, name := range names {
				if !yield(filepath.Join(p, name)) {
					return
				}
			}
		}
	}
}

// Sources wraps Paths as rule sources.
func Sources(paths []string) iter.Seq[rule.Source] {
	return func(yield func(rule.Source) bool) {
		for p := range Paths(paths) {
			if !yield(rule.FileSource(p)) {
				return
			}
		}
	}
}

// Static turns parsed rules into sources.
func Static(origin string, rules []*rule.Rule) iter.Seq[rule.Source] {
	return func(yield func(rule.Source) bool) {
		for _, r := range rules {
			if !yield(rule.Static{From: origin, Rule: r}) {
				return
			}
		}
	}
}

func isRuleFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range Extensions {
		if ext == want {
			return true
		}
	}
	return false
}
