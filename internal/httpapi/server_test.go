package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/gmailer/internal/criteria"
	"github.com/joshsymonds/gmailer/internal/mailbox"
	"github.com/joshsymonds/gmailer/internal/mailbox/mailboxtest"
)

const creds = `"server":"imap.example.com","username":"me","password":"pw"`

func newFake() *mailboxtest.Fake {
	fake := mailboxtest.New(
		&mailboxtest.Message{ID: "1", From: "sender1@example.com", Subject: "hello", Labels: []mailbox.LabelID{mailbox.LabelUnread}},
		&mailboxtest.Message{ID: "2", From: "sender2@example.com", Subject: "invoice", Labels: []mailbox.LabelID{mailbox.LabelUnread}},
		&mailboxtest.Message{ID: "3", From: "sender1@example.com", Subject: "again", Labels: []mailbox.LabelID{mailbox.LabelUnread}},
	)
	fake.D = criteria.IMAP
	fake.Folders = []string{"INBOX", "Sent"}
	return fake
}

func newServer(t *testing.T, fake *mailboxtest.Fake, dialErr error) (*Server, *[]Request) {
	t.Helper()
	var seen []Request
	dialer := DialerFunc(func(_ context.Context, req Request) (Session, error) {
		seen = append(seen, req)
		if dialErr != nil {
			return nil, dialErr
		}
		return fake, nil
	})
	return New(dialer, nil), &seen
}

func post(t *testing.T, s *Server, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func TestConnect(t *testing.T) {
	fake := newFake()
	s, seen := newServer(t, fake, nil)

	code, body := post(t, s, "/connect", "{"+creds+"}")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Connected successfully", body["message"])
	require.Len(t, *seen, 1)
	assert.Equal(t, "pw", (*seen)[0].Password)
	assert.True(t, fake.Closed)
	assert.Empty(t, fake.Modifies)
}

func TestFolders(t *testing.T) {
	fake := newFake()
	s, seen := newServer(t, fake, nil)

	code, body := post(t, s, "/folders", "{"+creds+"}")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"INBOX", "Sent"}, body["folders"])
	require.Len(t, *seen, 1)
	assert.Equal(t, "INBOX", (*seen)[0].Folder)
	assert.Equal(t, "ALL", (*seen)[0].Criteria)
	assert.True(t, fake.Closed)
}

func TestSearch(t *testing.T) {
	fake := newFake()
	s, _ := newServer(t, fake, nil)

	code, body := post(t, s, "/search", `{`+creds+`,"criteria":"subject:invoice"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"2"}, body["email_ids"])

	code, body = post(t, s, "/search", "{"+creds+"}")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"1", "2", "3"}, body["email_ids"])
}

func TestMarkAsRead(t *testing.T) {
	fake := newFake()
	s, _ := newServer(t, fake, nil)

	code, body := post(t, s, "/mark_as_read", `{`+creds+`,"criteria":"from:sender1@example.com"}`)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 2, body["marked_as_read_count"], 0)
	require.Len(t, fake.Reads, 1)
	assert.Equal(t, []mailbox.MessageID{"1", "3"}, fake.Reads[0])
}

func TestMarkAsReadNoMatches(t *testing.T) {
	fake := newFake()
	s, _ := newServer(t, fake, nil)

	code, body := post(t, s, "/mark_as_read", `{`+creds+`,"criteria":"from:nobody"}`)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 0, body["marked_as_read_count"], 0)
	assert.Empty(t, fake.Modifies)
}

func TestDelete(t *testing.T) {
	fake := newFake()
	s, _ := newServer(t, fake, nil)

	code, body := post(t, s, "/delete", `{`+creds+`,"folder":"Sent","criteria":"subject:hello"}`)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 1, body["deleted_count"], 0)
	assert.Equal(t, []string{"Sent"}, fake.Selected)
	assert.Equal(t, []mailbox.MessageID{"1"}, fake.Deletes[0])
}

func TestUnreadCountBySender(t *testing.T) {
	fake := newFake()
	s, _ := newServer(t, fake, nil)

	code, body := post(t, s, "/unread_count_by_sender", "{"+creds+"}")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"sender1@example.com": float64(2), "sender2@example.com": float64(1)}, body["unread_count_by_sender"])
}

func TestFailuresReturn400WithDetail(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		dialErr error
		prep    func(*mailboxtest.Fake)
		detail  string
	}{
		{name: "connect login", path: "/connect", body: "{" + creds + "}", dialErr: mailbox.AuthError("login me", errors.New("invalid credentials")), detail: "Failed to connect: auth error"},
		{name: "login", path: "/folders", body: "{" + creds + "}", dialErr: mailbox.AuthError("login me", errors.New("invalid credentials")), detail: "Failed to list folders"},
		{name: "missing server", path: "/search", body: `{"username":"me"}`, detail: "server and username are required"},
		{name: "bad json", path: "/search", body: `{"server":`, detail: "invalid request"},
		{name: "unknown folder", path: "/search", body: `{` + creds + `,"folder":"Nope"}`, detail: "mailbox does not exist"},
		{name: "bad criteria", path: "/search", body: `{` + creds + `,"criteria":"bogus:field"}`, detail: "Failed to search emails"},
		{name: "mutation", path: "/delete", body: "{" + creds + "}", prep: func(f *mailboxtest.Fake) { f.ModifyErr = mailbox.MutationError("store", errors.New("read-only")) }, detail: "read-only"},
		{name: "sender search", path: "/unread_count_by_sender", body: "{" + creds + "}", prep: func(f *mailboxtest.Fake) { f.SearchErr = errors.New("timeout") }, detail: "Failed to get unread emails count by sender"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFake()
			if tt.prep != nil {
				tt.prep(fake)
			}
			s, _ := newServer(t, fake, tt.dialErr)
			code, body := post(t, s, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Contains(t, body["detail"], tt.detail)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newServer(t, newFake(), nil)
	post(t, s, "/folders", "{"+creds+"}")

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `gmailer_http_requests_total{endpoint="folders",status="ok"}`)
}
