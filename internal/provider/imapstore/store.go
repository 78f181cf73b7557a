// Package imapstore adapts an IMAP session to mailbox.Provider.
package imapstore

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	nettextproto "net/textproto"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/textproto"

	"github.com/joshsymonds/gmailer/internal/criteria"
	"github.com/joshsymonds/gmailer/internal/mailbox"
	"github.com/joshsymonds/gmailer/internal/metrics"
)

const providerName = "imap"

// Options configures one IMAP session.
type Options struct {
	Server   string // host or host:port
	Port     int    // used when Server carries no port; default 993
	Username string
	Password string
	// STARTTLS upgrades a plain connection instead of dialing TLS.
	STARTTLS bool
	Mailbox  string // selected on connect; default INBOX
	// Archive receives messages whose INBOX label is removed.
	Archive   string
	TLSConfig *tls.Config
}

func (o Options) addr() string {
	if _, _, err := net.SplitHostPort(o.Server); err == nil {
		return o.Server
	}
	port := o.Port
	if port == 0 {
		port = 993
	}
	return net.JoinHostPort(o.Server, strconv.Itoa(port))
}

// Store is a mailbox.Provider over a single logged-in IMAP connection.
type Store struct {
	mu       sync.Mutex
	client   *imapclient.Client
	opts     Options
	logger   *slog.Logger
	selected string
	now      func() time.Time
}

// Dial connects, authenticates and selects the configured mailbox. A
// rejected login is reported as an auth error.
func Dial(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Server == "" {
		return nil, mailbox.ConfigError("dial imap", errors.New("server is required"))
	}
	addr := opts.addr()
	clientOpts := &imapclient.Options{TLSConfig: opts.TLSConfig}

	var (
		client *imapclient.Client
		err    error
	)
	if opts.STARTTLS {
		client, err = imapclient.DialStartTLS(addr, clientOpts)
	} else {
		client, err = imapclient.DialTLS(addr, clientOpts)
	}
	metrics.ObserveProvider(providerName, "dial", err)
	if err != nil {
		return nil, mailbox.SearchError("dial "+addr, err)
	}
	return open(ctx, client, opts, logger)
}

// open logs in on a connected client and selects the configured mailbox.
// The client is closed on failure.
func open(ctx context.Context, client *imapclient.Client, opts Options, logger *slog.Logger) (*Store, error) {
	if err := client.Login(opts.Username, opts.Password).Wait(); err != nil {
		metrics.ObserveProvider(providerName, "login", err)
		_ = client.Close()
		return nil, mailbox.AuthError(fmt.Sprintf("login %s", opts.Username), err)
	}
	metrics.ObserveProvider(providerName, "login", nil)

	s := &Store{client: client, opts: opts, logger: logger, now: time.Now}
	name := opts.Mailbox
	if name == "" {
		name = "INBOX"
	}
	if err := s.SelectFolder(ctx, name); err != nil {
		_ = s.Close()
		return nil, err
	}
	logger.InfoContext(ctx, "imap session ready", slog.String("user", opts.Username), slog.String("mailbox", name))
	return s, nil
}

func (s *Store) Dialect() criteria.Dialect { return criteria.IMAP }

// SelectFolder switches the session to another mailbox.
func (s *Store) SelectFolder(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == name {
		return nil
	}
	_, err := s.client.Select(name, nil).Wait()
	metrics.ObserveProvider(providerName, "select", err)
	if err != nil {
		return mailbox.SearchError("select "+name, err)
	}
	s.selected = name
	return nil
}

// Search runs UID SEARCH in the selected mailbox.
func (s *Store) Search(ctx context.Context, q mailbox.Query) ([]mailbox.MessageID, error) {
	crit, err := ParseQuery(q.Raw, s.now())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.client.UIDSearch(crit, nil).Wait()
	metrics.ObserveProvider(providerName, "search", err)
	if err != nil {
		return nil, classifyStatus(mailbox.KindSearch, "uid search", err)
	}
	uids := data.AllUIDs()
	ids := make([]mailbox.MessageID, len(uids))
	for i, uid := range uids {
		ids[i] = mailbox.MessageID(strconv.FormatUint(uint64(uid), 10))
	}
	s.logger.DebugContext(ctx, "imap search", slog.String("query", q.Raw), slog.Int("count", len(ids)))
	return ids, nil
}

// ModifyLabels stores flag changes, then archives when INBOX is removed.
func (s *Store) ModifyLabels(ctx context.Context, ids []mailbox.MessageID, add, remove []mailbox.LabelID) error {
	if len(ids) == 0 {
		return mailbox.MutationError("store flags", errors.New("no message ids"))
	}
	plan, err := planMutation(add, remove)
	if err != nil {
		return mailbox.MutationError("plan mutation", err)
	}
	if plan.empty() {
		return nil
	}
	set, err := uidSet(ids)
	if err != nil {
		return mailbox.MutationError("parse ids", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store(set, imap.StoreFlagsAdd, plan.addFlags); err != nil {
		return err
	}
	if err := s.store(set, imap.StoreFlagsDel, plan.delFlags); err != nil {
		return err
	}
	if plan.archive {
		target := s.opts.Archive
		if target == "" {
			target = "Archive"
		}
		_, err := s.client.Move(set, target).Wait()
		metrics.ObserveProvider(providerName, "move", err)
		if err != nil {
			return classifyStatus(mailbox.KindMutation, "move to "+target, err)
		}
	}
	return nil
}

func (s *Store) store(set imap.UIDSet, op imap.StoreFlagsOp, flags []imap.Flag) error {
	if len(flags) == 0 {
		return nil
	}
	err := s.client.Store(set, &imap.StoreFlags{Op: op, Silent: true, Flags: flags}, nil).Close()
	metrics.ObserveProvider(providerName, "store", err)
	if err != nil {
		return classifyStatus(mailbox.KindMutation, "store flags", err)
	}
	return nil
}

// ListFolders lists every mailbox.
func (s *Store) ListFolders(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, err := s.client.List("", "*", nil).Collect()
	metrics.ObserveProvider(providerName, "list", err)
	if err != nil {
		return nil, classifyStatus(mailbox.KindSearch, "list mailboxes", err)
	}
	names := make([]string, 0, len(list))
	for _, l := range list {
		names = append(names, l.Mailbox)
	}
	return names, nil
}

// MarkRead sets \Seen.
func (s *Store) MarkRead(ctx context.Context, ids []mailbox.MessageID) error {
	return s.ModifyLabels(ctx, ids, nil, []mailbox.LabelID{mailbox.LabelUnread})
}

// Delete flags messages \Deleted and expunges them.
func (s *Store) Delete(ctx context.Context, ids []mailbox.MessageID) error {
	if err := s.ModifyLabels(ctx, ids, []mailbox.LabelID{mailbox.LabelTrash}, nil); err != nil {
		return err
	}
	set, err := uidSet(ids)
	if err != nil {
		return mailbox.MutationError("parse ids", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.client.UIDExpunge(set).Close()
	metrics.ObserveProvider(providerName, "expunge", err)
	if err != nil {
		return classifyStatus(mailbox.KindMutation, "uid expunge", err)
	}
	return nil
}

// Metadata fetches header fields with BODY.PEEK so \Seen is untouched.
func (s *Store) Metadata(ctx context.Context, ids []mailbox.MessageID, headers []string) ([]mailbox.MessageMeta, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	set, err := uidSet(ids)
	if err != nil {
		return nil, mailbox.SearchError("parse ids", err)
	}
	section := &imap.FetchItemBodySection{
		Specifier:    imap.PartSpecifierHeader,
		HeaderFields: headers,
		Peek:         true,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, err := s.client.Fetch(set, &imap.FetchOptions{
		UID:         true,
		Flags:       true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	metrics.ObserveProvider(providerName, "fetch", err)
	if err != nil {
		return nil, classifyStatus(mailbox.KindSearch, "fetch headers", err)
	}
	metas := make([]mailbox.MessageMeta, 0, len(msgs))
	for _, msg := range msgs {
		h, err := parseHeaders(msg.FindBodySection(section))
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unparsable header", slog.Any("uid", msg.UID), slog.Any("error", err))
			continue
		}
		metas = append(metas, mailbox.MessageMeta{
			ID:      mailbox.MessageID(strconv.FormatUint(uint64(msg.UID), 10)),
			Labels:  flagLabels(msg.Flags),
			Headers: h,
		})
	}
	return metas, nil
}

// Close logs out and closes the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.Logout().Wait(); err != nil {
		_ = s.client.Close()
		return fmt.Errorf("imap logout: %w", err)
	}
	return s.client.Close()
}

func parseHeaders(raw []byte) (map[string]string, error) {
	out := map[string]string{}
	if len(raw) == 0 {
		return out, nil
	}
	hdr, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	fields := hdr.Fields()
	for fields.Next() {
		key := nettextproto.CanonicalMIMEHeaderKey(fields.Key())
		if _, ok := out[key]; !ok {
			out[key] = fields.Value()
		}
	}
	return out, nil
}

func uidSet(ids []mailbox.MessageID) (imap.UIDSet, error) {
	uids := make([]imap.UID, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseUint(string(id), 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid uid %q", id)
		}
		uids = append(uids, imap.UID(n))
	}
	return imap.UIDSetNum(uids...), nil
}

// classifyStatus turns a BAD response to SEARCH into a query error and
// an authentication response code into an auth error.
func classifyStatus(kind mailbox.Kind, op string, err error) error {
	var ierr *imap.Error
	if errors.As(err, &ierr) {
		switch {
		case ierr.Code == imap.ResponseCodeAuthenticationFailed || ierr.Code == imap.ResponseCodeAuthorizationFailed:
			kind = mailbox.KindAuth
		case ierr.Type == imap.StatusResponseTypeBad && kind == mailbox.KindSearch:
			kind = mailbox.KindQuery
		}
	}
	return &mailbox.Error{Kind: kind, Op: op, Err: err}
}

var (
	_ mailbox.Provider        = (*Store)(nil)
	_ mailbox.MetadataFetcher = (*Store)(nil)
)
