// Package httpapi exposes per-request IMAP housekeeping over HTTP.
// Every request carries its own server credentials; a session is opened
// and closed per call.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joshsymonds/gmailer/internal/mailbox"
	"github.com/joshsymonds/gmailer/internal/metrics"
	"github.com/joshsymonds/gmailer/internal/provider/imapstore"
	"github.com/joshsymonds/gmailer/internal/senders"
)

const (
	defaultFolder   = "INBOX"
	defaultCriteria = "ALL"
)

// Request is the JSON body shared by every endpoint.
type Request struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
	Folder   string `json:"folder"`
	Criteria string `json:"criteria"`
}

// ErrorResponse is returned with status 400 for any failure.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// Session is a provider that can switch folders.
type Session interface {
	mailbox.Provider
	SelectFolder(ctx context.Context, name string) error
}

// Dialer opens a session for one request.
type Dialer interface {
	Dial(ctx context.Context, req Request) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, req Request) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, req Request) (Session, error) { return f(ctx, req) }

// IMAPDialer dials implicit-TLS IMAP with the request credentials.
func IMAPDialer(logger *slog.Logger) Dialer {
	return DialerFunc(func(ctx context.Context, req Request) (Session, error) {
		store, err := imapstore.Dial(ctx, imapstore.Options{
			Server:   req.Server,
			Username: req.Username,
			Password: req.Password,
			Mailbox:  req.Folder,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	})
}

// Server holds the fiber app and its dependencies.
type Server struct {
	app    *fiber.App
	dialer Dialer
	logger *slog.Logger
}

// New builds the app and registers all routes.
func New(dialer Dialer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		dialer: dialer,
		logger: logger,
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ErrorHandler:          errorHandler,
		}),
	}
	s.RegisterRoutes(s.app)
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// RegisterRoutes wires the endpoints onto app.
func (s *Server) RegisterRoutes(app *fiber.App) {
	app.Post("/connect", s.handle("connect", "Failed to connect", s.connect))
	app.Post("/folders", s.handle("folders", "Failed to list folders", s.folders))
	app.Post("/search", s.handle("search", "Failed to search emails", s.search))
	app.Post("/mark_as_read", s.handle("mark_as_read", "Failed to mark emails as read", s.markAsRead))
	app.Post("/delete", s.handle("delete", "Failed to delete emails", s.delete))
	app.Post("/unread_count_by_sender", s.handle("unread_count_by_sender", "Failed to get unread emails count by sender", s.unreadBySender))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

// Listen serves until ctx is canceled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listen(addr) }()
	s.logger.InfoContext(ctx, "http api listening", slog.String("addr", addr))
	select {
	case err := <-errCh:
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
		if err := s.app.Shutdown(); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

type action func(ctx context.Context, sess Session, req Request) (fiber.Map, error)

// handle parses the body, opens a session, selects the folder and runs
// fn. Failures are prefixed with failure and answered with 400.
func (s *Server) handle(endpoint, failure string, fn action) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := "ok"
		defer func() { metrics.HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc() }()

		body, err := s.run(c, fn)
		if err != nil {
			status = "error"
			s.logger.ErrorContext(c.UserContext(), "request failed",
				slog.String("endpoint", endpoint),
				slog.String("kind", mailbox.KindOf(err).String()),
				slog.Any("error", err),
			)
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Detail: failure + ": " + err.Error()})
		}
		return c.JSON(body)
	}
}

func (s *Server) run(c *fiber.Ctx, fn action) (fiber.Map, error) {
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if strings.TrimSpace(req.Server) == "" || req.Username == "" {
		return nil, mailbox.ConfigError("validate request", errors.New("server and username are required"))
	}
	if req.Folder == "" {
		req.Folder = defaultFolder
	}
	if strings.TrimSpace(req.Criteria) == "" {
		req.Criteria = defaultCriteria
	}

	ctx := c.UserContext()
	sess, err := s.dialer.Dial(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			s.logger.WarnContext(ctx, "closing session", slog.Any("error", cerr))
		}
	}()
	if err := sess.SelectFolder(ctx, req.Folder); err != nil {
		return nil, err
	}
	return fn(ctx, sess, req)
}

// connect only checks that the credentials open a session.
func (s *Server) connect(context.Context, Session, Request) (fiber.Map, error) {
	return fiber.Map{"message": "Connected successfully"}, nil
}

func (s *Server) folders(ctx context.Context, sess Session, _ Request) (fiber.Map, error) {
	folders, err := sess.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	if folders == nil {
		folders = []string{}
	}
	return fiber.Map{"folders": folders}, nil
}

func (s *Server) search(ctx context.Context, sess Session, req Request) (fiber.Map, error) {
	ids, err := sess.Search(ctx, mailbox.Query{Raw: req.Criteria})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return fiber.Map{"email_ids": out}, nil
}

func (s *Server) markAsRead(ctx context.Context, sess Session, req Request) (fiber.Map, error) {
	ids, err := sess.Search(ctx, mailbox.Query{Raw: req.Criteria})
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		if err := sess.MarkRead(ctx, ids); err != nil {
			return nil, err
		}
	}
	return fiber.Map{"marked_as_read_count": len(ids)}, nil
}

func (s *Server) delete(ctx context.Context, sess Session, req Request) (fiber.Map, error) {
	ids, err := sess.Search(ctx, mailbox.Query{Raw: req.Criteria})
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		if err := sess.Delete(ctx, ids); err != nil {
			return nil, err
		}
	}
	return fiber.Map{"deleted_count": len(ids)}, nil
}

func (s *Server) unreadBySender(ctx context.Context, sess Session, _ Request) (fiber.Map, error) {
	counts, err := senders.UnreadBySender(ctx, sess)
	if err != nil {
		return nil, err
	}
	return fiber.Map{"unread_count_by_sender": counts}, nil
}

// errorHandler keeps framework errors (bad routes, body limits) in the
// same {"detail": ...} shape.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		code = ferr.Code
	}
	return c.Status(code).JSON(ErrorResponse{Detail: strconv.Itoa(code) + ": " + err.Error()})
}
