package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/gmailer/internal/config"
	"github.com/joshsymonds/gmailer/internal/gmailctl"
	"github.com/joshsymonds/gmailer/internal/history"
	"github.com/joshsymonds/gmailer/internal/httpapi"
	"github.com/joshsymonds/gmailer/internal/lint"
	"github.com/joshsymonds/gmailer/internal/mailbox"
	"github.com/joshsymonds/gmailer/internal/queue"
	"github.com/joshsymonds/gmailer/internal/rate"
	"github.com/joshsymonds/gmailer/internal/rule"
	"github.com/joshsymonds/gmailer/internal/runner"
	"github.com/joshsymonds/gmailer/internal/runtime"
	"github.com/joshsymonds/gmailer/internal/senders"
)

var errUsage = errors.New("no rule paths given")

// app carries the process streams and the seams tests replace.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	openProvider func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (mailbox.Provider, error)
	dialer       func(logger *slog.Logger) httpapi.Dialer
	exportRules  func(ctx context.Context, r gmailctl.Runner) (gmailctl.Export, error)
	openSecrets  func() (runtime.SecretWriter, error)

	logger *slog.Logger
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:        stdin,
		stdout:       stdout,
		stderr:       stderr,
		openProvider: runtime.OpenProvider,
		dialer:       httpapi.IMAPDialer,
		exportRules: func(ctx context.Context, r gmailctl.Runner) (gmailctl.Export, error) {
			return r.ExportFilters(ctx)
		},
		openSecrets: func() (runtime.SecretWriter, error) {
			store, err := runtime.OpenSecrets()
			if err != nil {
				return nil, err
			}
			return store, nil
		},
	}
}

// execute runs the command line and maps the result onto an exit code:
// 0 when the run completed (even with failed rules), 1 on usage or fatal
// errors.
func (a *app) execute(ctx context.Context, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		root.SetOut(a.stderr)
		_ = root.Usage()
		return 1
	default:
		logger := a.logger
		if logger == nil {
			logger = runtime.DefaultLogger(a.stderr)
		}
		logger.ErrorContext(ctx, "gmailer failed",
			slog.String("kind", mailbox.KindOf(err).String()),
			slog.Any("error", err),
		)
		if mailbox.IsAuth(err) {
			fmt.Fprintln(a.stderr, "authentication failed; for Gmail run `gmailer auth`, for IMAP check imap.username and the password")
		}
		return 1
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gmailer [paths...]",
		Short: "Apply declarative label rules to a mailbox",
		Long: "gmailer runs each rule file (or every .yaml/.yml file in a directory) in order,\n" +
			"searching the mailbox and adding or removing labels on the matches.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errUsage
			}
			return a.runRules(cmd, "rules", queue.Sources(args))
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", config.DefaultConfigPath(), "settings file")
	pf.String("provider", "", "mail provider: gmail or imap")
	pf.String("log-file", "", "append-only log file")
	pf.Bool("dry-run", false, "search and report; skip label changes")
	pf.Int("rps", 0, "max provider calls per second; unset keeps the config value (default 5), 0 disables limiting")
	pf.String("report", "", "write a JSON report to this relative path")
	pf.String("history-db", "", "run history database (empty config value disables)")

	root.AddCommand(
		a.gmailctlCmd(),
		a.foldersCmd(),
		a.lintCmd(),
		a.sendersCmd(),
		a.serveCmd(),
		a.authCmd(),
		a.historyCmd(),
	)
	return root
}

// setup loads config and builds the logger. The returned func releases
// the log file.
func (a *app) setup(cmd *cobra.Command) (*config.Config, func(), error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger, closer, err := runtime.NewLogger(cfg.Log, a.stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	a.logger = logger
	return cfg, func() { _ = closer.Close() }, nil
}

// withSession loads config, opens the provider session and runs fn.
// Failing to open the session is fatal for the command.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, p mailbox.Provider) error) error {
	ctx := cmd.Context()
	cfg, done, err := a.setup(cmd)
	if err != nil {
		return err
	}
	defer done()

	p, err := a.openProvider(ctx, cfg, a.logger)
	if err != nil {
		return fmt.Errorf("open %s session: %w", cfg.Provider, err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			a.logger.WarnContext(ctx, "closing session", slog.Any("error", err))
		}
	}()
	return fn(ctx, cfg, p)
}

func limiterFor(cfg *config.Config) (rate.Limiter, func()) {
	if cfg.RPS <= 0 {
		return rate.Unlimited{}, func() {}
	}
	bucket := rate.NewTokenBucket(cfg.RPS, cfg.RPS)
	return bucket, bucket.Stop
}

// runRules executes sources through the runner on one session.
func (a *app) runRules(cmd *cobra.Command, origin string, sources iter.Seq[rule.Source]) error {
	return a.withSession(cmd, func(ctx context.Context, cfg *config.Config, p mailbox.Provider) error {
		limiter, stop := limiterFor(cfg)
		defer stop()
		svc := runner.NewService(p, limiter, a.logger.With(slog.String("origin", origin)))
		svc.DryRun = cfg.DryRun

		rep, runErr := svc.Run(ctx, sources)
		if err := runner.PrintHuman(rep, cmd.OutOrStdout()); err != nil {
			return err
		}
		if path, _ := cmd.Flags().GetString("report"); path != "" {
			if err := runner.WriteJSON(rep, path); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
		}
		a.recordHistory(ctx, cfg, origin, rep)
		return runErr
	})
}

func (a *app) gmailctlCmd() *cobra.Command {
	var r gmailctl.Runner
	cmd := &cobra.Command{
		Use:   "gmailctl",
		Short: "Replay compiled gmailctl filters against existing mail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			export, err := a.exportRules(cmd.Context(), r)
			if err != nil {
				return fmt.Errorf("export gmailctl filters: %w", err)
			}
			rules, skipped := export.Rules()
			for _, name := range skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: no criteria or label action\n", name)
			}
			return a.runRules(cmd, "gmailctl", queue.Static("gmailctl", rules))
		},
	}
	cmd.Flags().StringVar(&r.ConfigDir, "gmailctl-config", "", "gmailctl config directory")
	cmd.Flags().StringVar(&r.Binary, "gmailctl-binary", "gmailctl", "gmailctl binary to invoke")
	return cmd
}

func (a *app) foldersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "List folders (labels on Gmail)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(ctx context.Context, _ *config.Config, p mailbox.Provider) error {
				folders, err := p.ListFolders(ctx)
				if err != nil {
					return fmt.Errorf("list folders: %w", err)
				}
				for _, f := range folders {
					fmt.Fprintln(cmd.OutOrStdout(), f)
				}
				return nil
			})
		},
	}
}

func (a *app) sendersCmd() *cobra.Command {
	var (
		top     int
		domains bool
	)
	cmd := &cobra.Command{
		Use:   "senders",
		Short: "Rank unread mail by sender",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(ctx context.Context, _ *config.Config, p mailbox.Provider) error {
				counts, err := senders.UnreadBySender(ctx, p)
				if err != nil {
					return err
				}
				if domains {
					counts = senders.ByDomain(counts)
				}
				for _, st := range senders.Rank(counts, top) {
					fmt.Fprintf(cmd.OutOrStdout(), "%6d  %s\n", st.Count, st.Key)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&top, "top", 20, "show at most this many senders (0 = all)")
	cmd.Flags().BoolVar(&domains, "domains", false, "group senders by domain")
	return cmd
}

func (a *app) lintCmd() *cobra.Command {
	var failOn string
	cmd := &cobra.Command{
		Use:   "lint [paths...]",
		Short: "Check rules for load errors, dead rules and conflicts without changing mail",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, cfg *config.Config, p mailbox.Provider) error {
				limiter, stop := limiterFor(cfg)
				defer stop()
				svc := &lint.Service{Provider: p, Limiter: limiter, Logger: a.logger}
				rep, err := svc.Run(ctx, queue.Sources(args))
				if err != nil {
					return fmt.Errorf("run lint: %w", err)
				}
				if _, err := io.WriteString(cmd.OutOrStdout(), rep.HumanSummary()); err != nil {
					return fmt.Errorf("write summary: %w", err)
				}
				if rep.ShouldFail(lint.ParseFailOn(failOn)) {
					return fmt.Errorf("lint failures matched: %s", failOn)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&failOn, "fail-on", "invalid,match-all,conflict", "comma separated findings that fail the command")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the IMAP housekeeping HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, done, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer done()
			srv := httpapi.New(a.dialer(a.logger), a.logger)
			return srv.Listen(cmd.Context(), cfg.HTTP.Addr)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from http.addr)")
	return cmd
}

func (a *app) authCmd() *cobra.Command {
	var imapPassword bool
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize gmailer against Gmail, or store the IMAP password with --imap",
		Long: "Without flags, runs the Gmail OAuth flow and writes gmail.token.\n" +
			"With --imap, reads the IMAP password from the first line of stdin and saves it\n" +
			"in the keyring entry named by imap.password_keyring.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, done, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer done()
			if !imapPassword {
				return runtime.AuthorizeGmail(cmd.Context(), cfg.Gmail, cmd.InOrStdin(), cmd.OutOrStdout())
			}
			secrets, err := a.openSecrets()
			if err != nil {
				return err
			}
			if err := runtime.StoreIMAPPassword(cfg.IMAP, secrets, cmd.InOrStdin()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored IMAP password in keyring entry %q\n", cfg.IMAP.PasswordKeyring)
			return nil
		},
	}
	cmd.Flags().BoolVar(&imapPassword, "imap", false, "store the IMAP password from stdin in the keyring")
	return cmd
}

// recordHistory appends rep to the history database. Failures are logged
// and never change the exit status.
func (a *app) recordHistory(ctx context.Context, cfg *config.Config, origin string, rep runner.Report) {
	if cfg.History.DB == "" || rep.RunID == "" {
		return
	}
	store, err := history.Open(cfg.History.DB)
	if err != nil {
		a.logger.WarnContext(ctx, "opening history", slog.String("path", cfg.History.DB), slog.Any("error", err))
		return
	}
	defer store.Close()
	if err := store.Record(ctx, origin, rep); err != nil {
		a.logger.WarnContext(ctx, "recording run", slog.String("run_id", rep.RunID), slog.Any("error", err))
	}
}

func (a *app) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recent runs, or the outcomes of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer done()
			if cfg.History.DB == "" {
				return mailbox.ConfigError("history", errors.New("history.db is not set"))
			}
			store, err := history.Open(cfg.History.DB)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			ctx, out := cmd.Context(), cmd.OutOrStdout()
			if len(args) == 1 {
				outcomes, err := store.Outcomes(ctx, args[0])
				if err != nil {
					return err
				}
				for _, o := range outcomes {
					status := "ok"
					if o.Error != "" {
						status = o.Error
					}
					fmt.Fprintf(out, "%-30s matched=%d mutated=%d %s\n", o.Rule, o.Matched, o.Mutated, status)
				}
				return nil
			}
			runs, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				mode := ""
				if r.DryRun {
					mode = " (dry run)"
				}
				fmt.Fprintf(out, "%s  %s  %-8s rules=%d failed=%d mutated=%d%s\n",
					r.Started.Local().Format("2006-01-02 15:04:05"), r.ID, r.Origin, r.Rules, r.Failed, r.Mutated, mode)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "show at most this many runs")
	return cmd
}
