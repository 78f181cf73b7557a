// Package mailbox defines the provider capability the rule engine runs
// against, plus the shared error taxonomy.
package mailbox

import (
	"context"

	"github.com/joshsymonds/gmailer/internal/criteria"
)

// Provider is the narrow mail surface required by gmailer. One Provider
// value wraps one authenticated session.
type Provider interface {
	// Dialect reports how queries for this provider are spelled.
	Dialect() criteria.Dialect
	Search(ctx context.Context, q Query) ([]MessageID, error)
	// ModifyLabels must be called with at least one id.
	ModifyLabels(ctx context.Context, ids []MessageID, add, remove []LabelID) error
	ListFolders(ctx context.Context) ([]string, error)
	MarkRead(ctx context.Context, ids []MessageID) error
	Delete(ctx context.Context, ids []MessageID) error
	Close() error
}

// MetadataFetcher is implemented by providers that can return headers
// for a set of messages.
type MetadataFetcher interface {
	Metadata(ctx context.Context, ids []MessageID, headers []string) ([]MessageMeta, error)
}
