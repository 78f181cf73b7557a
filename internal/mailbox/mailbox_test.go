package mailbox

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListLines(t *testing.T) {
	lines := []string{
		`(\HasNoChildren) "/" "INBOX"`,
		`(\HasNoChildren) "/" "Sent"`,
	}
	got, err := ParseListLines(lines)
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX", "Sent"}, got)
}

func TestParseListLineVariants(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    string
		wantErr bool
	}{
		{name: "untagged", line: `* LIST (\HasChildren) "." "INBOX.Archive"`, want: "INBOX.Archive"},
		{name: "nil-delim", line: `(\Noselect) NIL Shared`, want: "Shared"},
		{name: "atom", line: `() "/" Drafts`, want: "Drafts"},
		{name: "escaped", line: `() "/" "My \"Stuff\""`, want: `My "Stuff"`},
		{name: "gmail", line: `(\HasNoChildren \All) "/" "[Gmail]/All Mail"`, want: "[Gmail]/All Mail"},
		{name: "no-flags", line: `"/" "INBOX"`, wantErr: true},
		{name: "unterminated", line: `() "/" "INBOX`, wantErr: true},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseListLine(tc.line)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("rule x: %w", SearchError("list messages", base))

	assert.True(t, errors.Is(err, ErrSearch))
	assert.False(t, errors.Is(err, ErrMutation))
	assert.True(t, errors.Is(err, base))
	assert.Equal(t, KindSearch, KindOf(err))
	assert.Equal(t, "search error: list messages: boom", errors.Unwrap(err).Error())
	assert.False(t, IsAuth(err))
	assert.True(t, IsAuth(AuthError("login", base)))
	assert.Equal(t, Kind(0), KindOf(base))
}

func TestUniqueLabels(t *testing.T) {
	got := UniqueLabels([]LabelID{"INBOX", "", "news", "INBOX"})
	assert.Equal(t, []LabelID{"INBOX", "news"}, got)
	assert.Nil(t, UniqueLabels(nil))
}
