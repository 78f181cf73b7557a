// Package mailboxtest provides an in-memory mailbox.Provider for tests.
package mailboxtest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/joshsymonds/gmailer/internal/criteria"
	"github.com/joshsymonds/gmailer/internal/mailbox"
)

// Message is one seeded message.
type Message struct {
	ID      mailbox.MessageID
	From    string
	To      string
	Subject string
	Labels  []mailbox.LabelID
}

// ModifyCall records one ModifyLabels invocation.
type ModifyCall struct {
	IDs    []mailbox.MessageID
	Add    []mailbox.LabelID
	Remove []mailbox.LabelID
}

// Fake is a mailbox.Provider backed by a slice of messages. It
// understands from:, to:, subject:, label:, in: and is:unread/read tokens.
type Fake struct {
	D        criteria.Dialect
	Messages []*Message
	Folders  []string

	// SearchErrs fails searches whose raw query matches the key.
	SearchErrs map[string]error
	SearchErr  error
	ModifyErr  error

	Selected []string
	Searches []string
	Modifies []ModifyCall
	Reads    [][]mailbox.MessageID
	Deletes  [][]mailbox.MessageID
	Closed   bool
}

// New seeds a Fake with messages using the Gmail dialect.
func New(msgs ...*Message) *Fake {
	return &Fake{D: criteria.Gmail, Messages: msgs}
}

func (f *Fake) Dialect() criteria.Dialect { return f.D }

func (f *Fake) Search(ctx context.Context, q mailbox.Query) ([]mailbox.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return nil, mailbox.SearchError("search", err)
	}
	f.Searches = append(f.Searches, q.Raw)
	if err, ok := f.SearchErrs[q.Raw]; ok {
		return nil, err
	}
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	var ids []mailbox.MessageID
	for _, m := range f.Messages {
		ok, err := f.matches(m, q.Raw)
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (f *Fake) matches(m *Message, raw string) (bool, error) {
	for _, tok := range criteria.Tokenize(raw) {
		if tok == f.D.MatchAll {
			continue
		}
		field, value, negate := criteria.SplitToken(tok)
		var hit bool
		switch field {
		case "from":
			hit = containsFold(m.From, value)
		case "to":
			hit = containsFold(m.To, value)
		case "subject":
			hit = containsFold(m.Subject, value)
		case "label", "in":
			hit = m.has(mailbox.LabelID(strings.ToUpper(value))) || m.has(mailbox.LabelID(value))
		case "is":
			switch value {
			case "unread":
				hit = m.has(mailbox.LabelUnread)
			case "read":
				hit = !m.has(mailbox.LabelUnread)
			case "starred":
				hit = m.has(mailbox.LabelStarred)
			default:
				return false, mailbox.QueryError("search", fmt.Errorf("unsupported is:%s", value))
			}
		case "":
			hit = containsFold(m.Subject, value) || containsFold(m.From, value)
		default:
			return false, mailbox.QueryError("search", fmt.Errorf("unknown field %q", field))
		}
		if hit == negate {
			return false, nil
		}
	}
	return true, nil
}

func (f *Fake) ModifyLabels(ctx context.Context, ids []mailbox.MessageID, add, remove []mailbox.LabelID) error {
	if len(ids) == 0 {
		return mailbox.MutationError("modify labels", errors.New("no message ids"))
	}
	f.Modifies = append(f.Modifies, ModifyCall{
		IDs:    append([]mailbox.MessageID(nil), ids...),
		Add:    append([]mailbox.LabelID{}, add...),
		Remove: append([]mailbox.LabelID{}, remove...),
	})
	if f.ModifyErr != nil {
		return f.ModifyErr
	}
	want := make(map[mailbox.MessageID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, m := range f.Messages {
		if _, ok := want[m.ID]; !ok {
			continue
		}
		for _, l := range remove {
			m.drop(l)
		}
		for _, l := range add {
			if !m.has(l) {
				m.Labels = append(m.Labels, l)
			}
		}
	}
	return nil
}

// SelectFolder records name. When Folders is set, unknown names fail.
func (f *Fake) SelectFolder(ctx context.Context, name string) error {
	if len(f.Folders) > 0 && !slices.Contains(f.Folders, name) {
		return mailbox.SearchError("select "+name, errors.New("mailbox does not exist"))
	}
	f.Selected = append(f.Selected, name)
	return nil
}

func (f *Fake) ListFolders(ctx context.Context) ([]string, error) {
	return append([]string(nil), f.Folders...), nil
}

func (f *Fake) MarkRead(ctx context.Context, ids []mailbox.MessageID) error {
	f.Reads = append(f.Reads, ids)
	return f.ModifyLabels(ctx, ids, nil, []mailbox.LabelID{mailbox.LabelUnread})
}

func (f *Fake) Delete(ctx context.Context, ids []mailbox.MessageID) error {
	f.Deletes = append(f.Deletes, ids)
	return f.ModifyLabels(ctx, ids, []mailbox.LabelID{mailbox.LabelTrash}, nil)
}

// Metadata returns From/To/Subject headers for ids.
func (f *Fake) Metadata(ctx context.Context, ids []mailbox.MessageID, headers []string) ([]mailbox.MessageMeta, error) {
	byID := make(map[mailbox.MessageID]*Message, len(f.Messages))
	for _, m := range f.Messages {
		byID[m.ID] = m
	}
	out := make([]mailbox.MessageMeta, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, mailbox.MessageMeta{
			ID:      id,
			Labels:  append([]mailbox.LabelID(nil), m.Labels...),
			Headers: map[string]string{"From": m.From, "To": m.To, "Subject": m.Subject},
		})
	}
	return out, nil
}

func (f *Fake) Close() error {
	f.Closed = true
	return nil
}

// LabelState returns a sorted snapshot of every message's labels.
func (f *Fake) LabelState() map[mailbox.MessageID][]mailbox.LabelID {
	out := make(map[mailbox.MessageID][]mailbox.LabelID, len(f.Messages))
	for _, m := range f.Messages {
		ls := append([]mailbox.LabelID(nil), m.Labels...)
		sort.Slice(ls, func(i, j int) bool { return ls[i] < ls[j] })
		out[m.ID] = ls
	}
	return out
}

func (m *Message) has(l mailbox.LabelID) bool {
	for _, x := range m.Labels {
		if x == l {
			return true
		}
	}
	return false
}

func (m *Message) drop(l mailbox.LabelID) {
	out := m.Labels[:0]
	for _, x := range m.Labels {
		if x != l {
			out = append(out, x)
		}
	}
	m.Labels = out
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

var (
	_ mailbox.Provider        = (*Fake)(nil)
	_ mailbox.MetadataFetcher = (*Fake)(nil)
)
