package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joshsymonds/gmailer/internal/config"
	"github.com/joshsymonds/gmailer/internal/credential"
	"github.com/joshsymonds/gmailer/internal/mailbox"
	"github.com/joshsymonds/gmailer/internal/provider/gmailapi"
	"github.com/joshsymonds/gmailer/internal/provider/imapstore"
)

// Secrets resolves a named secret.
type Secrets interface {
	Get(key string) (string, error)
}

// SecretWriter saves a named secret.
type SecretWriter interface {
	Set(key, value string) error
}

// OpenSecrets opens the keyring holding imap.password_keyring entries.
func OpenSecrets() (*credential.Store, error) {
	store, err := credential.Open(config.Dir())
	if err != nil {
		return nil, mailbox.ConfigError("open keyring", err)
	}
	return store, nil
}

// StoreIMAPPassword reads the password from the first line of in and
// saves it under cfg.PasswordKeyring.
func StoreIMAPPassword(cfg config.IMAPConfig, secrets SecretWriter, in io.Reader) error {
	if cfg.PasswordKeyring == "" {
		return mailbox.ConfigError("store imap password", errors.New("imap.password_keyring is not set"))
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return mailbox.ConfigError("store imap password", errors.New("empty password"))
	}
	if err := secrets.Set(cfg.PasswordKeyring, password); err != nil {
		return mailbox.ConfigError("store imap password", err)
	}
	return nil
}

// OpenProvider establishes the session for cfg.Provider. Any error here
// is fatal for the run; auth failures carry mailbox.KindAuth.
func OpenProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (mailbox.Provider, error) {
	switch cfg.Provider {
	case config.ProviderIMAP:
		var secrets Secrets
		if cfg.IMAP.PasswordKeyring != "" {
			store, err := OpenSecrets()
			if err != nil {
				return nil, err
			}
			secrets = store
		}
		opts, err := IMAPOptions(cfg.IMAP, secrets)
		if err != nil {
			return nil, err
		}
		store, err := imapstore.Dial(ctx, opts, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		svc, err := NewGmailService(ctx, cfg.Gmail, ScopeModify)
		if err != nil {
			return nil, err
		}
		client := gmailapi.New(svc, logger)
		email, err := client.Ping(ctx)
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "gmail session ready", slog.String("account", email))
		return client, nil
	}
}

// IMAPOptions turns config into dial options, reading the password from
// secrets when imap.password_keyring is set.
func IMAPOptions(cfg config.IMAPConfig, secrets Secrets) (imapstore.Options, error) {
	if cfg.Server == "" || cfg.Username == "" {
		return imapstore.Options{}, mailbox.ConfigError("imap options", errors.New("imap.server and imap.username are required"))
	}
	password := cfg.Password
	if cfg.PasswordKeyring != "" && secrets != nil {
		p, err := secrets.Get(cfg.PasswordKeyring)
		if err != nil {
			return imapstore.Options{}, mailbox.AuthError("imap password", err)
		}
		password = p
	}
	return imapstore.Options{
		Server:   cfg.Server,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: password,
		STARTTLS: strings.EqualFold(cfg.TLS, "starttls"),
		Mailbox:  cfg.Mailbox,
		Archive:  cfg.Archive,
	}, nil
}
