package mailbox

import (
	"fmt"
	"strings"
)

// ParseListLine extracts the mailbox name from one raw IMAP LIST
// response line such as `(\HasNoChildren) "/" "INBOX"`.
func ParseListLine(line string) (string, error) {
	rest := strings.TrimSpace(line)
	rest = strings.TrimPrefix(rest, "* LIST ")
	if !strings.HasPrefix(rest, "(") {
		return "", fmt.Errorf("list line %q: missing flags", line)
	}
	end := strings.Index(rest, ")")
	if end < 0 {
		return "", fmt.Errorf("list line %q: unterminated flags", line)
	}
	rest = strings.TrimSpace(rest[end+1:])

	// delimiter: quoted char or NIL
	_, rest, err := readAString(rest)
	if err != nil {
		return "", fmt.Errorf("list line %q: delimiter: %w", line, err)
	}
	name, _, err := readAString(strings.TrimSpace(rest))
	if err != nil {
		return "", fmt.Errorf("list line %q: name: %w", line, err)
	}
	if name == "" {
		return "", fmt.Errorf("list line %q: empty mailbox name", line)
	}
	return name, nil
}

// ParseListLines parses every non-empty line, failing on the first bad one.
func ParseListLines(lines []string) ([]string, error) {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		name, err := ParseListLine(line)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

func readAString(s string) (string, string, error) {
	if s == "" {
		return "", "", fmt.Errorf("unexpected end of line")
	}
	if s[0] != '"' {
		end := strings.IndexByte(s, ' ')
		if end < 0 {
			return s, "", nil
		}
		return s[:end], s[end+1:], nil
	}
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case '"':
			return b.String(), s[i+1:], nil
		default:
			b.WriteByte(s[i])
		}
	}
	return "", "", fmt.Errorf("unterminated quoted string")
}
