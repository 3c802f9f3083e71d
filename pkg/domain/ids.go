// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "consentmgr/pkg/domain-errors"
)

// Identifiers minted by this system are UUIDs.
type (
	ConsentID       uuid.UUID
	AuthorizationID uuid.UUID
	MappingID       uuid.UUID
	StatusAuditID   uuid.UUID
	HistoryID       uuid.UUID
)

// Identifiers owned by callers are opaque strings.
type (
	ClientID string
	UserID   string
	OrgID    string
)

// DefaultOrg scopes consents created without an explicit organisation.
const DefaultOrg OrgID = "DEFAULT_ORG"

func NewConsentID() ConsentID             { return ConsentID(uuid.New()) }
func NewAuthorizationID() AuthorizationID { return AuthorizationID(uuid.New()) }
func NewMappingID() MappingID             { return MappingID(uuid.New()) }
func NewStatusAuditID() StatusAuditID     { return StatusAuditID(uuid.New()) }
func NewHistoryID() HistoryID             { return HistoryID(uuid.New()) }

// Parse functions - use at trust boundaries (CLI flags, caller input).

func ParseConsentID(s string) (ConsentID, error) {
	id, err := parseUUID(s, "consent ID")
	return ConsentID(id), err
}

func ParseAuthorizationID(s string) (AuthorizationID, error) {
	id, err := parseUUID(s, "authorization ID")
	return AuthorizationID(id), err
}

func ParseMappingID(s string) (MappingID, error) {
	id, err := parseUUID(s, "mapping ID")
	return MappingID(id), err
}

func ParseHistoryID(s string) (HistoryID, error) {
	id, err := parseUUID(s, "history ID")
	return HistoryID(id), err
}

func (id ConsentID) String() string       { return uuid.UUID(id).String() }
func (id AuthorizationID) String() string { return uuid.UUID(id).String() }
func (id MappingID) String() string       { return uuid.UUID(id).String() }
func (id StatusAuditID) String() string   { return uuid.UUID(id).String() }
func (id HistoryID) String() string       { return uuid.UUID(id).String() }
func (id ClientID) String() string        { return string(id) }
func (id UserID) String() string          { return string(id) }
func (id OrgID) String() string           { return string(id) }

func (id ConsentID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id AuthorizationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id MappingID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id HistoryID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id ClientID) IsBlank() bool      { return strings.TrimSpace(string(id)) == "" }
func (id UserID) IsBlank() bool        { return strings.TrimSpace(string(id)) == "" }

// parseUUID is the shared validation logic. Nil UUIDs are accepted here so
// that store lookups can report not-found consistently.
func parseUUID(s, label string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}
