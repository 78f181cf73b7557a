// Package criteria turns rule match terms into provider search queries.
package criteria

import "strings"

// Field is one field:value constraint inside a Term.
type Field struct {
	Name  string
	Value string
}

// Term is an ordered group of fields. Fields inside a term are ANDed.
type Term []Field

// Dialect describes how a provider spells its search language.
type Dialect struct {
	Name string
	// MatchAll is returned when there are no terms at all.
	MatchAll string
}

var (
	// Gmail leaves q unset, which the API treats as every message.
	Gmail = Dialect{Name: "gmail", MatchAll: ""}
	// IMAP needs a non-empty SEARCH key.
	IMAP = Dialect{Name: "imap", MatchAll: "ALL"}
)

// Build flattens terms into space separated field:value tokens in
// term order, then field order. Values are passed through verbatim; a
// field with no name contributes its value as a bare token.
func (d Dialect) Build(terms []Term) string {
	tokens := make([]string, 0, len(terms))
	for _, term := range terms {
		for _, f := range term {
			if f.Name == "" {
				tokens = append(tokens, f.Value)
				continue
			}
			tokens = append(tokens, f.Name+":"+f.Value)
		}
	}
	if len(tokens) == 0 {
		return d.MatchAll
	}
	return strings.Join(tokens, " ")
}

// Tokenize splits a query on spaces, keeping double-quoted runs
// (including parentheses groups) together. It is the inverse of Build
// for providers that need to interpret tokens client-side.
func Tokenize(raw string) []string {
	var (
		out    []string
		cur    strings.Builder
		quoted bool
		depth  int
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range raw {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case r == '(' && !quoted:
			depth++
			cur.WriteRune(r)
		case r == ')' && !quoted && depth > 0:
			depth--
			cur.WriteRune(r)
		case (r == ' ' || r == '\t') && !quoted && depth == 0:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

// SplitToken separates a field:value token. Tokens without a colon
// come back with an empty field. A leading '-' sets negate.
func SplitToken(tok string) (field, value string, negate bool) {
	if strings.HasPrefix(tok, "-") && len(tok) > 1 {
		negate = true
		tok = tok[1:]
	}
	idx := strings.Index(tok, ":")
	if idx <= 0 {
		return "", unquote(tok), negate
	}
	return strings.ToLower(tok[:idx]), unquote(tok[idx+1:]), negate
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
