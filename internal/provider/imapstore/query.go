package imapstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/joshsymonds/gmailer/internal/criteria"
	"github.com/joshsymonds/gmailer/internal/mailbox"
)

var dateLayouts = []string{"2006/01/02", "2006-01-02", "2006/1/2", "2-Jan-2006"}

// keyFlags maps flag SEARCH keys to the flag they test; the UN- forms
// test its absence.
var keyFlags = map[string]imap.Flag{
	"SEEN":     imap.FlagSeen,
	"FLAGGED":  imap.FlagFlagged,
	"ANSWERED": imap.FlagAnswered,
	"DELETED":  imap.FlagDeleted,
	"DRAFT":    imap.FlagDraft,
}

// ParseQuery translates a search string into IMAP search criteria. It
// accepts raw SEARCH keys (FROM "a", SINCE 1-Jan-2024, OR, NOT and
// parenthesized groups) mixed with Gmail-style field:value tokens. Keys
// are ANDed; a leading '-' negates one field:value token. A bare word is
// a TEXT search unless it is spelled like a SEARCH key, in which case an
// unknown key is a query error.
func ParseQuery(raw string, now time.Time) (*imap.SearchCriteria, error) {
	p := &queryParser{toks: criteria.Tokenize(raw), now: now}
	out, err := p.parseAll()
	if err != nil {
		return nil, mailbox.QueryError(fmt.Sprintf("parse %q", raw), err)
	}
	return out, nil
}

type queryParser struct {
	toks []string
	pos  int
	now  time.Time
}

func (p *queryParser) parseAll() (*imap.SearchCriteria, error) {
	out := &imap.SearchCriteria{}
	for p.pos < len(p.toks) {
		one, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		merge(out, one)
	}
	return out, nil
}

// arg consumes the argument of key.
func (p *queryParser) arg(key string) (string, error) {
	if p.pos >= len(p.toks) {
		return "", fmt.Errorf("%s needs an argument", key)
	}
	tok := p.toks[p.pos]
	p.pos++
	return unquote(tok), nil
}

// operand parses the search key that NOT or OR applies to.
func (p *queryParser) operand(key string) (imap.SearchCriteria, error) {
	if p.pos >= len(p.toks) {
		return imap.SearchCriteria{}, fmt.Errorf("%s needs a search key", key)
	}
	c, err := p.parseKey()
	if err != nil {
		return imap.SearchCriteria{}, err
	}
	return *c, nil
}

func (p *queryParser) parseKey() (*imap.SearchCriteria, error) {
	tok := p.toks[p.pos]
	p.pos++
	if len(tok) >= 2 && tok[0] == '(' && tok[len(tok)-1] == ')' {
		group := &queryParser{toks: criteria.Tokenize(tok[1 : len(tok)-1]), now: p.now}
		return group.parseAll()
	}
	if !strings.ContainsAny(tok, `:"`) {
		c, ok, err := p.searchKey(strings.ToUpper(tok))
		if ok || err != nil {
			return c, err
		}
		if looksLikeKey(tok) {
			return nil, fmt.Errorf("unknown search key %q (quote it to search text)", tok)
		}
	}
	return p.parseField(tok)
}

// searchKey handles one IMAP SEARCH key. ok is false when key is not one.
func (p *queryParser) searchKey(key string) (c *imap.SearchCriteria, ok bool, err error) {
	c = &imap.SearchCriteria{}
	switch key {
	case "ALL":
	case "SEEN", "UNSEEN", "FLAGGED", "UNFLAGGED", "ANSWERED", "UNANSWERED",
		"DELETED", "UNDELETED", "DRAFT", "UNDRAFT":
		if flag, ok := keyFlags[key]; ok {
			c.Flag = append(c.Flag, flag)
		} else {
			c.NotFlag = append(c.NotFlag, keyFlags[strings.TrimPrefix(key, "UN")])
		}
	case "FROM", "TO", "CC", "BCC", "SUBJECT":
		v, err := p.arg(key)
		if err != nil {
			return nil, true, err
		}
		c.Header = append(c.Header, imap.SearchCriteriaHeaderField{Key: headerKey(strings.ToLower(key)), Value: v})
	case "HEADER":
		name, err := p.arg(key)
		if err != nil {
			return nil, true, err
		}
		v, err := p.arg(key)
		if err != nil {
			return nil, true, err
		}
		c.Header = append(c.Header, imap.SearchCriteriaHeaderField{Key: name, Value: v})
	case "BODY", "TEXT":
		v, err := p.arg(key)
		if err != nil {
			return nil, true, err
		}
		if key == "BODY" {
			c.Body = append(c.Body, v)
		} else {
			c.Text = append(c.Text, v)
		}
	case "KEYWORD", "UNKEYWORD":
		v, err := p.arg(key)
		if err != nil {
			return nil, true, err
		}
		if key == "KEYWORD" {
			c.Flag = append(c.Flag, imap.Flag(v))
		} else {
			c.NotFlag = append(c.NotFlag, imap.Flag(v))
		}
	case "BEFORE", "SINCE", "ON", "SENTBEFORE", "SENTSINCE", "SENTON":
		v, err := p.arg(key)
		if err != nil {
			return nil, true, err
		}
		d, err := parseDate(v)
		if err != nil {
			return nil, true, err
		}
		sent := strings.HasPrefix(key, "SENT")
		switch strings.TrimPrefix(key, "SENT") {
		case "BEFORE":
			setDates(c, sent, time.Time{}, d)
		case "SINCE":
			setDates(c, sent, d, time.Time{})
		case "ON":
			setDates(c, sent, d, d.AddDate(0, 0, 1))
		}
	case "LARGER", "SMALLER":
		v, err := p.arg(key)
		if err != nil {
			return nil, true, err
		}
		n, err := parseSize(v)
		if err != nil {
			return nil, true, err
		}
		if key == "LARGER" {
			c.Larger = n
		} else {
			c.Smaller = n
		}
	case "UID":
		v, err := p.arg(key)
		if err != nil {
			return nil, true, err
		}
		set, err := parseUIDSet(v)
		if err != nil {
			return nil, true, err
		}
		c.UID = append(c.UID, set)
	case "NOT":
		not, err := p.operand(key)
		if err != nil {
			return nil, true, err
		}
		c.Not = append(c.Not, not)
	case "OR":
		left, err := p.operand(key)
		if err != nil {
			return nil, true, err
		}
		right, err := p.operand(key)
		if err != nil {
			return nil, true, err
		}
		c.Or = append(c.Or, [2]imap.SearchCriteria{left, right})
	case "NEW", "OLD", "RECENT":
		return nil, true, fmt.Errorf("search key %s is not supported", key)
	default:
		return nil, false, nil
	}
	return c, true, nil
}

// parseField handles a Gmail-style token.
func (p *queryParser) parseField(tok string) (*imap.SearchCriteria, error) {
	field, value, negate := criteria.SplitToken(tok)
	one := &imap.SearchCriteria{}
	if err := applyField(one, field, value, p.now); err != nil {
		return nil, fmt.Errorf("token %q: %w", tok, err)
	}
	if negate {
		return &imap.SearchCriteria{Not: []imap.SearchCriteria{*one}}, nil
	}
	return one, nil
}

// looksLikeKey reports an all-capitals word such as a mistyped SEARCH key.
func looksLikeKey(tok string) bool {
	if len(tok) < 2 {
		return false
	}
	for _, r := range tok {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func setDates(c *imap.SearchCriteria, sent bool, since, before time.Time) {
	if sent {
		c.SentSince, c.SentBefore = since, before
		return
	}
	c.Since, c.Before = since, before
}

// parseUIDSet reads a sequence set such as 1:5,7,9:* where * is the
// largest UID in the mailbox.
func parseUIDSet(v string) (imap.UIDSet, error) {
	var set imap.UIDSet
	for _, part := range strings.Split(v, ",") {
		lo, hi, isRange := strings.Cut(part, ":")
		start, err := parseUID(lo)
		if err != nil {
			return nil, err
		}
		stop := start
		if isRange {
			if stop, err = parseUID(hi); err != nil {
				return nil, err
			}
		}
		set.AddRange(start, stop)
	}
	return set, nil
}

func parseUID(s string) (imap.UID, error) {
	if s == "*" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid uid %q", s)
	}
	return imap.UID(n), nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func applyField(c *imap.SearchCriteria, field, value string, now time.Time) error {
	if value == "" {
		return fmt.Errorf("empty value")
	}
	switch field {
	case "":
		c.Text = append(c.Text, value)
	case "from", "to", "cc", "bcc", "subject":
		c.Header = append(c.Header, imap.SearchCriteriaHeaderField{Key: headerKey(field), Value: value})
	case "list":
		c.Header = append(c.Header, imap.SearchCriteriaHeaderField{Key: "List-Id", Value: value})
	case "body":
		c.Body = append(c.Body, value)
	case "text":
		c.Text = append(c.Text, value)
	case "is":
		return applyState(c, strings.ToLower(value))
	case "label", "keyword":
		c.Flag = append(c.Flag, labelFlag(mailbox.LabelID(value)))
	case "before":
		t, err := parseDate(value)
		if err != nil {
			return err
		}
		c.Before = t
	case "after", "since":
		t, err := parseDate(value)
		if err != nil {
			return err
		}
		c.Since = t
	case "older_than", "newer_than":
		d, err := parseRelative(value, now)
		if err != nil {
			return err
		}
		if field == "older_than" {
			c.Before = d
		} else {
			c.Since = d
		}
	case "larger", "smaller":
		n, err := parseSize(value)
		if err != nil {
			return err
		}
		if field == "larger" {
			c.Larger = n
		} else {
			c.Smaller = n
		}
	default:
		return fmt.Errorf("unsupported field %q", field)
	}
	return nil
}

func applyState(c *imap.SearchCriteria, state string) error {
	switch state {
	case "read", "seen":
		c.Flag = append(c.Flag, imap.FlagSeen)
	case "unread", "unseen":
		c.NotFlag = append(c.NotFlag, imap.FlagSeen)
	case "starred", "flagged":
		c.Flag = append(c.Flag, imap.FlagFlagged)
	case "answered":
		c.Flag = append(c.Flag, imap.FlagAnswered)
	case "draft":
		c.Flag = append(c.Flag, imap.FlagDraft)
	case "deleted", "trash":
		c.Flag = append(c.Flag, imap.FlagDeleted)
	default:
		return fmt.Errorf("unsupported is:%s", state)
	}
	return nil
}

func headerKey(field string) string {
	return strings.ToUpper(field[:1]) + field[1:]
}

// narrow intersects two [since, before) windows; zero means unbounded.
func narrow(since, before, srcSince, srcBefore time.Time) (time.Time, time.Time) {
	if !srcSince.IsZero() && (since.IsZero() || srcSince.After(since)) {
		since = srcSince
	}
	if !srcBefore.IsZero() && (before.IsZero() || srcBefore.Before(before)) {
		before = srcBefore
	}
	return since, before
}

// merge ANDs src into dst. Date bounds keep the narrower window.
func merge(dst, src *imap.SearchCriteria) {
	dst.Header = append(dst.Header, src.Header...)
	dst.Body = append(dst.Body, src.Body...)
	dst.Text = append(dst.Text, src.Text...)
	dst.Flag = append(dst.Flag, src.Flag...)
	dst.NotFlag = append(dst.NotFlag, src.NotFlag...)
	dst.UID = append(dst.UID, src.UID...)
	dst.Not = append(dst.Not, src.Not...)
	dst.Or = append(dst.Or, src.Or...)
	dst.Since, dst.Before = narrow(dst.Since, dst.Before, src.Since, src.Before)
	dst.SentSince, dst.SentBefore = narrow(dst.SentSince, dst.SentBefore, src.SentSince, src.SentBefore)
	if src.Larger > dst.Larger {
		dst.Larger = src.Larger
	}
	if src.Smaller > 0 && (dst.Smaller == 0 || src.Smaller < dst.Smaller) {
		dst.Smaller = src.Smaller
	}
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q", value)
}

// parseRelative understands Gmail's Nd, Nm (months) and Ny suffixes.
func parseRelative(value string, now time.Time) (time.Time, error) {
	if len(value) < 2 {
		return time.Time{}, fmt.Errorf("invalid period %q", value)
	}
	n, err := strconv.Atoi(value[:len(value)-1])
	if err != nil || n < 0 {
		return time.Time{}, fmt.Errorf("invalid period %q", value)
	}
	switch strings.ToLower(value[len(value)-1:]) {
	case "d":
		return now.AddDate(0, 0, -n), nil
	case "m":
		return now.AddDate(0, -n, 0), nil
	case "y":
		return now.AddDate(-n, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("invalid period unit in %q", value)
	}
}

func parseSize(value string) (int64, error) {
	mult := int64(1)
	upper := strings.ToUpper(value)
	switch {
	case strings.HasSuffix(upper, "K"):
		mult, upper = 1<<10, strings.TrimSuffix(upper, "K")
	case strings.HasSuffix(upper, "M"):
		mult, upper = 1<<20, strings.TrimSuffix(upper, "M")
	}
	n, err := strconv.ParseInt(upper, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", value)
	}
	return n * mult, nil
}
