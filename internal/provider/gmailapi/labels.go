package gmailapi

import (
	"context"
	"fmt"

	"github.com/joshsymonds/gmailer/internal/mailbox"
	"github.com/joshsymonds/gmailer/internal/metrics"
)

// loadLabels fills the name -> id cache once per session.
func (c *Client) loadLabels(ctx context.Context) error {
	if c.labelsByName != nil {
		return nil
	}
	lr, err := c.svc.Users.Labels.List(user).Context(ctx).Do()
	metrics.ObserveProvider(providerName, "labels", err)
	if err != nil {
		return classify(mailbox.KindMutation, "list labels", err)
	}
	c.labelsByName = make(map[string]mailbox.LabelID, len(lr.Labels))
	for _, l := range lr.Labels {
		c.labelsByName[l.Name] = mailbox.LabelID(l.Id)
		c.labelsByName[l.Id] = mailbox.LabelID(l.Id)
	}
	return nil
}

// resolveLabels maps label names to ids. Labels are never created: a
// user label that does not exist is a mutation error naming it.
func (c *Client) resolveLabels(ctx context.Context, add, remove []mailbox.LabelID) ([]mailbox.LabelID, []mailbox.LabelID, error) {
	addIDs, err := c.labelIDs(ctx, add)
	if err != nil {
		return nil, nil, err
	}
	removeIDs, err := c.labelIDs(ctx, remove)
	if err != nil {
		return nil, nil, err
	}
	return addIDs, removeIDs, nil
}

func (c *Client) labelIDs(ctx context.Context, labels []mailbox.LabelID) ([]mailbox.LabelID, error) {
	ids := make([]mailbox.LabelID, 0, len(labels))
	for _, l := range labels {
		if isSystem(l) {
			ids = append(ids, l)
			continue
		}
		if err := c.loadLabels(ctx); err != nil {
			return nil, err
		}
		id, ok := c.labelsByName[string(l)]
		if !ok {
			return nil, mailbox.MutationError("resolve labels", fmt.Errorf("label %q does not exist", l))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var systemLabels = map[mailbox.LabelID]struct{}{
	mailbox.LabelInbox:     {},
	mailbox.LabelUnread:    {},
	mailbox.LabelTrash:     {},
	mailbox.LabelStarred:   {},
	mailbox.LabelImportant: {},
	mailbox.LabelSpam:      {},
	mailbox.LabelDraft:     {},
	mailbox.LabelSent:      {},
	"CHAT":                 {},
	"CATEGORY_PERSONAL":    {},
	"CATEGORY_SOCIAL":      {},
	"CATEGORY_PROMOTIONS":  {},
	"CATEGORY_UPDATES":     {},
	"CATEGORY_FORUMS":      {},
}

func isSystem(l mailbox.LabelID) bool {
	_, ok := systemLabels[l]
	return ok
}
