package imapstore

import (
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/gmailer/internal/mailbox"
)

func TestPlanMutationArchive(t *testing.T) {
	plan, err := planMutation(
		[]mailbox.LabelID{"Newsletters"},
		[]mailbox.LabelID{mailbox.LabelInbox, mailbox.LabelUnread},
	)
	require.NoError(t, err)
	assert.True(t, plan.archive)
	assert.Equal(t, []imap.Flag{"Newsletters", imap.FlagSeen}, plan.addFlags)
	assert.Empty(t, plan.delFlags)
}

func TestPlanMutationSystemLabels(t *testing.T) {
	plan, err := planMutation(
		[]mailbox.LabelID{mailbox.LabelStarred, mailbox.LabelTrash, mailbox.LabelUnread},
		[]mailbox.LabelID{"Old Label"},
	)
	require.NoError(t, err)
	assert.False(t, plan.archive)
	assert.Equal(t, []imap.Flag{imap.FlagFlagged, imap.FlagDeleted}, plan.addFlags)
	assert.Equal(t, []imap.Flag{imap.FlagSeen, "Old_Label"}, plan.delFlags)
}

func TestPlanMutationRejectsAddInbox(t *testing.T) {
	_, err := planMutation([]mailbox.LabelID{mailbox.LabelInbox}, nil)
	require.Error(t, err)
}

func TestPlanMutationEmpty(t *testing.T) {
	plan, err := planMutation(nil, nil)
	require.NoError(t, err)
	assert.True(t, plan.empty())
}

func TestFlagLabels(t *testing.T) {
	assert.ElementsMatch(t,
		[]mailbox.LabelID{mailbox.LabelStarred, mailbox.LabelUnread, "Receipts"},
		flagLabels([]imap.Flag{imap.FlagFlagged, "Receipts", flagRecent}),
	)
	assert.Empty(t, flagLabels([]imap.Flag{imap.FlagSeen, imap.FlagAnswered}))
}

func TestUIDSet(t *testing.T) {
	set, err := uidSet([]mailbox.MessageID{"3", "7"})
	require.NoError(t, err)
	assert.True(t, set.Contains(3))
	assert.True(t, set.Contains(7))
	assert.False(t, set.Contains(5))

	_, err = uidSet([]mailbox.MessageID{"abc"})
	require.Error(t, err)
	_, err = uidSet([]mailbox.MessageID{"0"})
	require.Error(t, err)
}

func TestParseHeaders(t *testing.T) {
	raw := []byte("from: Alice <alice@example.com>\r\nSubject: hi\r\n\r\n")
	h, err := parseHeaders(raw)
	require.NoError(t, err)
	assert.Equal(t, "Alice <alice@example.com>", h["From"])
	assert.Equal(t, "hi", h["Subject"])

	h, err = parseHeaders(nil)
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestOptionsAddr(t *testing.T) {
	assert.Equal(t, "imap.example.com:993", Options{Server: "imap.example.com"}.addr())
	assert.Equal(t, "imap.example.com:143", Options{Server: "imap.example.com", Port: 143}.addr())
	assert.Equal(t, "host:1143", Options{Server: "host:1143", Port: 993}.addr())
}
