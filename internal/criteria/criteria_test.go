package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMatchAll(t *testing.T) {
	assert.Equal(t, "", Gmail.Build(nil))
	assert.Equal(t, "ALL", IMAP.Build(nil))
	assert.Equal(t, "ALL", IMAP.Build([]Term{{}}))
}

func TestBuildFlattensInOrder(t *testing.T) {
	terms := []Term{
		{{Name: "from", Value: "a@b.com"}, {Name: "subject", Value: "invoice"}},
		{{Name: "older_than", Value: "30d"}},
	}
	assert.Equal(t, "from:a@b.com subject:invoice older_than:30d", Gmail.Build(terms))
}

func TestBuildDeterministic(t *testing.T) {
	terms := []Term{
		{{Name: "label", Value: `"team updates"`}, {Name: "is", Value: "unread"}},
		{{Name: "from", Value: "news@example.com"}},
	}
	first := Gmail.Build(terms)
	second := Gmail.Build(terms)
	require.Equal(t, []byte(first), []byte(second))
}

func TestBuildPassesValuesVerbatim(t *testing.T) {
	terms := []Term{{{Name: "subject", Value: "((broken"}}}
	assert.Equal(t, "subject:((broken", IMAP.Build(terms))
}

func TestBuildBareField(t *testing.T) {
	terms := []Term{{{Value: "{from:a OR from:b}"}, {Name: "is", Value: "unread"}}}
	assert.Equal(t, "{from:a OR from:b} is:unread", Gmail.Build(terms))
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "simple", in: "from:a@b.com is:unread", want: []string{"from:a@b.com", "is:unread"}},
		{name: "quoted", in: `subject:"big news" label:x`, want: []string{`subject:"big news"`, "label:x"}},
		{name: "group", in: "from:(a b) to:c", want: []string{"from:(a b)", "to:c"}},
		{name: "extra-space", in: "  a   b ", want: []string{"a", "b"}},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Tokenize(tc.in))
		})
	}
}

func TestSplitToken(t *testing.T) {
	field, value, neg := SplitToken(`-Subject:"hello world"`)
	assert.Equal(t, "subject", field)
	assert.Equal(t, "hello world", value)
	assert.True(t, neg)

	field, value, neg = SplitToken("invoice")
	assert.Empty(t, field)
	assert.Equal(t, "invoice", value)
	assert.False(t, neg)
}
