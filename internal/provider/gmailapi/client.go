// Package gmailapi adapts the Gmail REST API to mailbox.Provider.
package gmailapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/joshsymonds/gmailer/internal/criteria"
	"github.com/joshsymonds/gmailer/internal/mailbox"
	"github.com/joshsymonds/gmailer/internal/metrics"
)

const (
	user = "me"
	// Gmail caps messages.list pages at 500 and batchModify at 1000 ids.
	listPageSize = 500
	modifyChunk  = 1000
	providerName = "gmail"
)

// Client is a mailbox.Provider backed by *gmail.Service.
type Client struct {
	svc    *gmail.Service
	logger *slog.Logger
	// labelsByName caches user label name (and id) -> id for the session.
	labelsByName map[string]mailbox.LabelID
	// PageSize overrides the messages.list page size when in (0, 500].
	PageSize int
}

// New wraps an authenticated Gmail service.
func New(svc *gmail.Service, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{svc: svc, logger: logger, PageSize: listPageSize}
}

func (c *Client) Dialect() criteria.Dialect { return criteria.Gmail }

// Ping verifies the session by reading the account profile.
func (c *Client) Ping(ctx context.Context) (string, error) {
	prof, err := c.svc.Users.GetProfile(user).Context(ctx).Do()
	metrics.ObserveProvider(providerName, "profile", err)
	if err != nil {
		return "", classify(mailbox.KindAuth, "get profile", err)
	}
	return prof.EmailAddress, nil
}

// Search pages through messages.list until the result set is exhausted.
func (c *Client) Search(ctx context.Context, q mailbox.Query) ([]mailbox.MessageID, error) {
	pageSize := c.PageSize
	if pageSize <= 0 || pageSize > listPageSize {
		pageSize = listPageSize
	}
	var (
		ids   []mailbox.MessageID
		token string
	)
	for {
		call := c.svc.Users.Messages.List(user).MaxResults(int64(pageSize))
		if q.Raw != "" {
			call = call.Q(q.Raw)
		}
		if token != "" {
			call = call.PageToken(token)
		}
		res, err := call.Context(ctx).Do()
		metrics.ObserveProvider(providerName, "search", err)
		if err != nil {
			return nil, classify(mailbox.KindSearch, "list messages", err)
		}
		for _, m := range res.Messages {
			ids = append(ids, mailbox.MessageID(m.Id))
		}
		if res.NextPageToken == "" {
			break
		}
		token = res.NextPageToken
	}
	c.logger.DebugContext(ctx, "gmail search", slog.String("query", q.Raw), slog.Int("count", len(ids)))
	return ids, nil
}

// ModifyLabels applies add/remove in batches of at most 1000 ids.
func (c *Client) ModifyLabels(ctx context.Context, ids []mailbox.MessageID, add, remove []mailbox.LabelID) error {
	if len(ids) == 0 {
		return mailbox.MutationError("batch modify", errors.New("no message ids"))
	}
	add, remove, err := c.resolveLabels(ctx, add, remove)
	if err != nil {
		return err
	}
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	for i := 0; i < len(ids); i += modifyChunk {
		j := i + modifyChunk
		if j > len(ids) {
			j = len(ids)
		}
		req := &gmail.BatchModifyMessagesRequest{Ids: toStrings(ids[i:j])}
		if len(add) > 0 {
			req.AddLabelIds = labelStrings(add)
		}
		if len(remove) > 0 {
			req.RemoveLabelIds = labelStrings(remove)
		}
		err := c.svc.Users.Messages.BatchModify(user, req).Context(ctx).Do()
		metrics.ObserveProvider(providerName, "modify", err)
		if err != nil {
			return classify(mailbox.KindMutation, fmt.Sprintf("batch modify %d-%d", i, j), err)
		}
	}
	return nil
}

// ListFolders returns label names; Gmail has no folders.
func (c *Client) ListFolders(ctx context.Context) ([]string, error) {
	lr, err := c.svc.Users.Labels.List(user).Context(ctx).Do()
	metrics.ObserveProvider(providerName, "labels", err)
	if err != nil {
		return nil, classify(mailbox.KindSearch, "list labels", err)
	}
	names := make([]string, 0, len(lr.Labels))
	for _, l := range lr.Labels {
		names = append(names, l.Name)
	}
	return names, nil
}

// MarkRead removes UNREAD.
func (c *Client) MarkRead(ctx context.Context, ids []mailbox.MessageID) error {
	return c.ModifyLabels(ctx, ids, nil, []mailbox.LabelID{mailbox.LabelUnread})
}

// Delete moves messages to the trash.
func (c *Client) Delete(ctx context.Context, ids []mailbox.MessageID) error {
	return c.ModifyLabels(ctx, ids, []mailbox.LabelID{mailbox.LabelTrash}, nil)
}

// Metadata fetches selected headers per message.
func (c *Client) Metadata(ctx context.Context, ids []mailbox.MessageID, headers []string) ([]mailbox.MessageMeta, error) {
	metas := make([]mailbox.MessageMeta, 0, len(ids))
	for _, id := range ids {
		msg, err := c.svc.Users.Messages.Get(user, string(id)).
			Format("metadata").
			MetadataHeaders(headers...).
			Context(ctx).
			Do()
		metrics.ObserveProvider(providerName, "metadata", err)
		if err != nil {
			return nil, classify(mailbox.KindSearch, "get metadata "+string(id), err)
		}
		h := map[string]string{}
		if msg.Payload != nil {
			for _, hd := range msg.Payload.Headers {
				h[hd.Name] = hd.Value
			}
		}
		metas = append(metas, mailbox.MessageMeta{ID: id, Headers: h, Labels: toLabelIDs(msg.LabelIds)})
	}
	return metas, nil
}

// Close is a no-op; the HTTP client holds no session.
func (c *Client) Close() error { return nil }

// classify maps Gmail API failures onto the mailbox taxonomy. Bad
// requests on a search are query errors; 401 and non-quota 403 are auth
// errors.
func classify(kind mailbox.Kind, op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized:
			kind = mailbox.KindAuth
		case gerr.Code == http.StatusForbidden && !isQuota(gerr):
			kind = mailbox.KindAuth
		case gerr.Code == http.StatusBadRequest && kind == mailbox.KindSearch:
			kind = mailbox.KindQuery
		}
	}
	return &mailbox.Error{Kind: kind, Op: op, Err: err}
}

func isQuota(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if strings.Contains(strings.ToLower(item.Reason), "ratelimit") ||
			strings.Contains(strings.ToLower(item.Reason), "quota") {
			return true
		}
	}
	return false
}

func toStrings(ids []mailbox.MessageID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func labelStrings(labels []mailbox.LabelID) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out
}

func toLabelIDs(in []string) []mailbox.LabelID {
	out := make([]mailbox.LabelID, len(in))
	for i, s := range in {
		out[i] = mailbox.LabelID(s)
	}
	return out
}

var (
	_ mailbox.Provider        = (*Client)(nil)
	_ mailbox.MetadataFetcher = (*Client)(nil)
)
