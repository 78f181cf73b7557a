package mailbox

// MessageID is an opaque provider-scoped message handle (Gmail id, IMAP UID).
type MessageID string

// LabelID names a provider label or flag. System labels are listed below;
// anything else is passed to the provider untouched.
type LabelID string

const (
	LabelInbox     LabelID = "INBOX"
	LabelUnread    LabelID = "UNREAD"
	LabelTrash     LabelID = "TRASH"
	LabelStarred   LabelID = "STARRED"
	LabelImportant LabelID = "IMPORTANT"
	LabelSpam      LabelID = "SPAM"
	LabelDraft     LabelID = "DRAFT"
	LabelSent      LabelID = "SENT"
)

// Query is a search string already rendered for the provider's dialect.
type Query struct {
	Raw string
}

// MessageMeta carries selected headers for one message.
type MessageMeta struct {
	ID      MessageID
	Labels  []LabelID
	Headers map[string]string // From, To, Subject, List-Id, ...
}

// UniqueLabels drops empty and repeated labels, keeping first occurrence order.
func UniqueLabels(in []LabelID) []LabelID {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[LabelID]struct{}, len(in))
	out := make([]LabelID, 0, len(in))
	for _, l := range in {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
