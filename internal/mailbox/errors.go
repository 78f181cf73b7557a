package mailbox

import (
	"errors"
	"fmt"
)

// Kind classifies failures across providers.
type Kind int

const (
	KindConfig Kind = iota + 1
	KindQuery
	KindSearch
	KindMutation
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config error"
	case KindQuery:
		return "query error"
	case KindSearch:
		return "search error"
	case KindMutation:
		return "mutation error"
	case KindAuth:
		return "auth error"
	default:
		return "error"
	}
}

// Sentinels for errors.Is checks.
var (
	ErrConfig   = &Error{Kind: KindConfig}
	ErrQuery    = &Error{Kind: KindQuery}
	ErrSearch   = &Error{Kind: KindSearch}
	ErrMutation = &Error{Kind: KindMutation}
	ErrAuth     = &Error{Kind: KindAuth}
)

// Error is a classified failure. Op names the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrAuth) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func ConfigError(op string, err error) error   { return newErr(KindConfig, op, err) }
func QueryError(op string, err error) error    { return newErr(KindQuery, op, err) }
func SearchError(op string, err error) error   { return newErr(KindSearch, op, err) }
func MutationError(op string, err error) error { return newErr(KindMutation, op, err) }
func AuthError(op string, err error) error     { return newErr(KindAuth, op, err) }

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsAuth reports whether err (or any error in its chain) is an auth failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}
