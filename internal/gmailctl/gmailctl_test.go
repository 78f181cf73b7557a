package gmailctl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/gmailer/internal/criteria"
	"github.com/joshsymonds/gmailer/internal/mailbox"
	"github.com/joshsymonds/gmailer/internal/mailbox/mailboxtest"
)

const sampleExport = `{
  "filters": [
    {
      "criteria": {"from": "news@example.com", "subject": "weekly digest"},
      "action": {"addLabelIds": ["Label_1"], "removeLabelIds": ["INBOX"]}
    },
    {
      "name": "Receipts",
      "criteria": {"query": "{from:shop@example.com from:store@example.com}"},
      "action": {"addLabelIds": ["Label_2", "STARRED"]}
    },
    {
      "criteria": {"to": "me@example.com"},
      "action": {"forward": "other@example.com"}
    }
  ],
  "labels": [
    {"id": "Label_1", "name": "Newsletters", "type": "user"},
    {"id": "Label_2", "name": "Receipts", "type": "user"}
  ]
}`

func TestDecodeAndRules(t *testing.T) {
	export, err := Decode([]byte(sampleExport))
	require.NoError(t, err)

	rules, skipped := export.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, []string{"gmailctl filter 3"}, skipped)

	first := rules[0]
	assert.Equal(t, "gmailctl filter 1", first.Name)
	assert.Equal(t, `from:news@example.com subject:"weekly digest"`, first.Query(criteria.Gmail).Raw)
	assert.Equal(t, []mailbox.LabelID{"Newsletters"}, first.AddLabels)
	assert.Equal(t, []mailbox.LabelID{mailbox.LabelInbox}, first.RemoveLabels)
	assert.Contains(t, first.Description, "gmailctl filter:")

	second := rules[1]
	assert.Equal(t, "Receipts", second.Name)
	assert.Equal(t, "{from:shop@example.com from:store@example.com}", second.Query(criteria.Gmail).Raw)
	assert.Equal(t, []mailbox.LabelID{"Receipts", mailbox.LabelStarred}, second.AddLabels)
}

func TestRulesApplyToMailbox(t *testing.T) {
	export, err := Decode([]byte(sampleExport))
	require.NoError(t, err)
	rules, _ := export.Rules()

	fake := mailboxtest.New(
		&mailboxtest.Message{ID: "m1", From: "news@example.com", Subject: "weekly digest", Labels: []mailbox.LabelID{mailbox.LabelInbox}},
		&mailboxtest.Message{ID: "m2", From: "friend@example.com", Subject: "weekly digest", Labels: []mailbox.LabelID{mailbox.LabelInbox}},
	)
	matched, mutated, err := rules[0].Apply(context.Background(), fake)
	require.NoError(t, err)
	assert.Equal(t, 1, matched)
	assert.Equal(t, 1, mutated)
	assert.Equal(t, []mailbox.LabelID{"Newsletters"}, fake.LabelState()["m1"])
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.True(t, errors.Is(err, mailbox.ErrConfig))

	_, err = Decode([]byte(`{"filters": [], "labels": []}`))
	assert.True(t, errors.Is(err, mailbox.ErrConfig))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "a@b.com", quote("a@b.com"))
	assert.Equal(t, `"two words"`, quote("two words"))
	assert.Equal(t, "(a OR b)", quote("(a OR b)"))
	assert.Equal(t, `"already quoted"`, quote(`"already quoted"`))
}

func TestRunnerExportFilters(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "gmailctl")
	script := "#!/bin/sh\ncat <<'JSON'\n" + sampleExport + "\nJSON\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	export, err := Runner{Binary: bin}.ExportFilters(context.Background())
	require.NoError(t, err)
	assert.Len(t, export.Filters, 3)
	assert.Len(t, export.Labels, 2)
}

func TestRunnerExportFiltersFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "gmailctl")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho boom >&2\nexit 3\n"), 0o755))

	_, err := Runner{Binary: bin}.ExportFilters(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
