package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"consentmgr/pkg/platform/sentinel"
)

// Kind classifies a persistence failure by the operation that failed.
type Kind string

const (
	KindInsertion Kind = "insertion"
	KindRetrieval Kind = "retrieval"
	KindUpdate    Kind = "update"
	KindDeletion  Kind = "deletion"
)

// Error is the only error type the store returns. Missing rows are reported
// with Err wrapping sentinel.ErrNotFound, as are inserts whose parent row is
// missing; unique violations wrap sentinel.ErrAlreadyUsed.
type Error struct {
	Kind   Kind
	Entity string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s failed", e.Entity, e.Kind)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Entity, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, and on Entity when the target names one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Entity == "" || t.Entity == e.Entity)
}

// Targets for errors.Is.
var (
	ErrInsertionFailed = &Error{Kind: KindInsertion}
	ErrRetrievalFailed = &Error{Kind: KindRetrieval}
	ErrUpdateFailed    = &Error{Kind: KindUpdate}
	ErrDeletionFailed  = &Error{Kind: KindDeletion}
)

// KindOf returns the failure kind carried by err.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// insertionFailed also reports a missing parent row as not found.
func insertionFailed(entity string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			err = fmt.Errorf("%w: %w", sentinel.ErrAlreadyUsed, err)
		case pgForeignKeyViolation:
			err = fmt.Errorf("%w: %w", sentinel.ErrNotFound, err)
		}
	}
	return &Error{Kind: KindInsertion, Entity: entity, Err: err}
}

func retrievalFailed(entity string, err error) error {
	return &Error{Kind: KindRetrieval, Entity: entity, Err: err}
}

func updateFailed(entity string, err error) error {
	return &Error{Kind: KindUpdate, Entity: entity, Err: err}
}

func deletionFailed(entity string, err error) error {
	return &Error{Kind: KindDeletion, Entity: entity, Err: err}
}

// Entity names used in errors.
const (
	entityConsent       = "consent"
	entityAttribute     = "consent attribute"
	entityAuthorization = "authorization resource"
	entityMapping       = "consent mapping"
	entityStatusAudit   = "status audit record"
	entityHistory       = "amendment history"
	entityFile          = "consent file"
)
