// Package runtime builds the process-level pieces: logger, Gmail OAuth
// client and the configured mailbox provider.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/joshsymonds/gmailer/internal/config"
	"github.com/joshsymonds/gmailer/internal/mailbox"
)

// Scope selects the OAuth scope requested for Gmail.
type Scope int

const (
	ScopeReadonly Scope = iota
	ScopeModify
)

func (s Scope) url() string {
	switch s {
	case ScopeReadonly:
		return gmail.GmailReadonlyScope
	case ScopeModify:
		return gmail.GmailModifyScope
	default:
		panic("unknown scope")
	}
}

func oauthConfig(cfg config.GmailConfig, scope Scope) (*oauth2.Config, error) {
	data, err := os.ReadFile(cfg.Credentials)
	if err != nil {
		return nil, mailbox.ConfigError("read gmail credentials", err)
	}
	oc, err := google.ConfigFromJSON(data, scope.url())
	if err != nil {
		return nil, mailbox.ConfigError("parse gmail credentials", err)
	}
	return oc, nil
}

func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(data, tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return tok, nil
}

func writeToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// NewGmailService builds a Gmail service from the stored OAuth token. A
// missing or unreadable token is an auth error; run `gmailer auth` first.
func NewGmailService(ctx context.Context, cfg config.GmailConfig, scope Scope) (*gmail.Service, error) {
	oc, err := oauthConfig(cfg, scope)
	if err != nil {
		return nil, err
	}
	tok, err := readToken(cfg.Token)
	if err != nil {
		return nil, mailbox.AuthError("load gmail token", err)
	}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(oc.TokenSource(ctx, tok)))
	if err != nil {
		return nil, mailbox.AuthError("create gmail service", err)
	}
	return svc, nil
}

// AuthorizeGmail runs the out-of-band consent flow: it prints the consent
// URL to out, reads the authorization code from in and stores the token.
func AuthorizeGmail(ctx context.Context, cfg config.GmailConfig, in io.Reader, out io.Writer) error {
	oc, err := oauthConfig(cfg, ScopeModify)
	if err != nil {
		return err
	}
	url := oc.AuthCodeURL("gmailer", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Open this URL, approve access, then paste the code:\n%s\n> ", url)

	var code string
	if _, err := fmt.Fscanln(in, &code); err != nil {
		return fmt.Errorf("read auth code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return mailbox.AuthError("read auth code", errors.New("empty code"))
	}
	tok, err := oc.Exchange(ctx, code)
	if err != nil {
		return mailbox.AuthError("exchange auth code", err)
	}
	if err := writeToken(cfg.Token, tok); err != nil {
		return err
	}
	fmt.Fprintf(out, "token saved to %s\n", cfg.Token)
	return nil
}
