package imapstore

import (
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/joshsymonds/gmailer/internal/mailbox"
)

// mutation is the IMAP rendering of a label change.
type mutation struct {
	addFlags []imap.Flag
	delFlags []imap.Flag
	archive  bool
}

func (m mutation) empty() bool {
	return len(m.addFlags) == 0 && len(m.delFlags) == 0 && !m.archive
}

// planMutation maps Gmail-style labels onto IMAP flags. UNREAD is the
// inverse of \Seen; removing INBOX archives; user labels become keywords.
func planMutation(add, remove []mailbox.LabelID) (mutation, error) {
	var m mutation
	for _, l := range add {
		switch l {
		case mailbox.LabelUnread:
			m.delFlags = append(m.delFlags, imap.FlagSeen)
		case mailbox.LabelInbox:
			return mutation{}, fmt.Errorf("adding %s is not supported over IMAP", l)
		default:
			m.addFlags = append(m.addFlags, labelFlag(l))
		}
	}
	for _, l := range remove {
		switch l {
		case mailbox.LabelUnread:
			m.addFlags = append(m.addFlags, imap.FlagSeen)
		case mailbox.LabelInbox:
			m.archive = true
		default:
			m.delFlags = append(m.delFlags, labelFlag(l))
		}
	}
	return m, nil
}

// labelFlag returns the system flag for well-known labels or the label
// as a keyword. Keywords cannot contain spaces.
func labelFlag(l mailbox.LabelID) imap.Flag {
	switch strings.ToUpper(string(l)) {
	case string(mailbox.LabelStarred):
		return imap.FlagFlagged
	case string(mailbox.LabelTrash):
		return imap.FlagDeleted
	case string(mailbox.LabelDraft):
		return imap.FlagDraft
	case "SEEN", "READ":
		return imap.FlagSeen
	case "ANSWERED":
		return imap.FlagAnswered
	}
	return imap.Flag(strings.ReplaceAll(string(l), " ", "_"))
}

// flagRecent is the IMAP4rev1 session flag; go-imap/v2 has no constant for it.
const flagRecent imap.Flag = `\Recent`

// flagLabels maps IMAP flags back into labels for metadata.
func flagLabels(flags []imap.Flag) []mailbox.LabelID {
	seen := false
	out := make([]mailbox.LabelID, 0, len(flags)+1)
	for _, f := range flags {
		switch f {
		case imap.FlagSeen:
			seen = true
		case imap.FlagFlagged:
			out = append(out, mailbox.LabelStarred)
		case imap.FlagDeleted:
			out = append(out, mailbox.LabelTrash)
		case imap.FlagDraft:
			out = append(out, mailbox.LabelDraft)
		case imap.FlagAnswered, flagRecent:
		default:
			out = append(out, mailbox.LabelID(f))
		}
	}
	if !seen {
		out = append(out, mailbox.LabelUnread)
	}
	return out
}
