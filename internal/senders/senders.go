// Package senders aggregates unread mail by sender address.
package senders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/joshsymonds/gmailer/internal/criteria"
	"github.com/joshsymonds/gmailer/internal/mailbox"
)

const metadataBatch = 100

// Stat is one ranked sender or domain.
type Stat struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

var unreadTerm = []criteria.Term{{{Name: "is", Value: "unread"}}}

// UnreadBySender counts unread messages per sender address. Messages
// whose From header has no parsable address are counted under the raw
// header value.
func UnreadBySender(ctx context.Context, p mailbox.Provider) (map[string]int, error) {
	fetcher, ok := p.(mailbox.MetadataFetcher)
	if !ok {
		return nil, mailbox.SearchError("unread by sender", errors.New("provider cannot fetch headers"))
	}
	ids, err := p.Search(ctx, mailbox.Query{Raw: p.Dialect().Build(unreadTerm)})
	if err != nil {
		return nil, fmt.Errorf("search unread: %w", err)
	}
	counts := make(map[string]int)
	for start := 0; start < len(ids); start += metadataBatch {
		end := min(start+metadataBatch, len(ids))
		metas, err := fetcher.Metadata(ctx, ids[start:end], []string{"From"})
		if err != nil {
			return nil, fmt.Errorf("fetch sender headers: %w", err)
		}
		for _, m := range metas {
			if sender := addressOf(m.Headers["From"]); sender != "" {
				counts[sender]++
			}
		}
	}
	return counts, nil
}

// ByDomain folds sender counts into per-domain counts.
func ByDomain(counts map[string]int) map[string]int {
	out := make(map[string]int, len(counts))
	for sender, n := range counts {
		if dom := extractDomain(sender); dom != "" {
			out[dom] += n
		}
	}
	return out
}

// Rank orders counts descending, ties by key, keeping at most topN
// (all when topN <= 0).
func Rank(counts map[string]int, topN int) []Stat {
	slice := make([]Stat, 0, len(counts))
	for k, n := range counts {
		slice = append(slice, Stat{Key: k, Count: n})
	}
	sort.Slice(slice, func(i, j int) bool {
		if slice[i].Count == slice[j].Count {
			return slice[i].Key < slice[j].Key
		}
		return slice[i].Count > slice[j].Count
	})
	if topN > 0 && topN < len(slice) {
		slice = slice[:topN]
	}
	return slice
}

func addressOf(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	addrs, err := mail.ParseAddressList(from)
	if err != nil || len(addrs) == 0 {
		return from
	}
	return strings.ToLower(addrs[0].Address)
}

func extractDomain(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	at := strings.LastIndex(address, "@")
	if at == -1 {
		return ""
	}
	return strings.Trim(address[at+1:], ". >")
}
