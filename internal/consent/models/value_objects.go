package models

// ConsentStatus is the externally visible state of a consent. The set below is
// the built-in vocabulary; organisations may extend it through configuration.
type ConsentStatus string

const (
	StatusAwaitingAuthorization ConsentStatus = "AwaitingAuthorization"
	StatusAuthorized            ConsentStatus = "Authorized"
	StatusRejected              ConsentStatus = "Rejected"
	StatusRevoked               ConsentStatus = "Revoked"
	StatusExpired               ConsentStatus = "Expired"

	// StatusAmended is recorded in the status audit trail only. It is never
	// written to a consent's current status.
	StatusAmended ConsentStatus = "Amended"
)

func (s ConsentStatus) String() string { return string(s) }

// AuthStatus is the state of one authorization resource.
type AuthStatus string

const (
	AuthStatusCreated    AuthStatus = "Created"
	AuthStatusAuthorized AuthStatus = "Authorized"
	AuthStatusRejected   AuthStatus = "Rejected"
	AuthStatusRevoked    AuthStatus = "Revoked"
)

var validAuthStatuses = map[AuthStatus]bool{
	AuthStatusCreated:    true,
	AuthStatusAuthorized: true,
	AuthStatusRejected:   true,
	AuthStatusRevoked:    true,
}

// IsValid checks if the authorization status is one of the supported enum values.
func (s AuthStatus) IsValid() bool {
	return validAuthStatuses[s]
}

// AuthType labels the role of an authorization resource. Types are open-ended;
// AuthTypePrimary marks the resource whose user acts for the consent in audit.
type AuthType string

const (
	AuthTypeAuthorization   AuthType = "authorization"
	AuthTypePrimary         AuthType = "primary"
	AuthTypeReauthorization AuthType = "reauthorization"
)

// MappingStatus is the logical state of an account/permission binding.
type MappingStatus string

const (
	MappingActive   MappingStatus = "active"
	MappingInactive MappingStatus = "inactive"
)

// IsValid checks if the mapping status is one of the supported enum values.
func (s MappingStatus) IsValid() bool {
	return s == MappingActive || s == MappingInactive
}

// HistoryDataType tags which part of the detailed consent a history entry describes.
type HistoryDataType string

const (
	HistoryBasic         HistoryDataType = "basic"
	HistoryAttributes    HistoryDataType = "attributes"
	HistoryMapping       HistoryDataType = "mapping"
	HistoryAuthorization HistoryDataType = "authorization"
)

// IsValid checks if the history data type is one of the supported enum values.
func (t HistoryDataType) IsValid() bool {
	switch t {
	case HistoryBasic, HistoryAttributes, HistoryMapping, HistoryAuthorization:
		return true
	}
	return false
}

// Reason explains a status transition. Callers may supply free text for
// revocations; the constants cover transitions the system initiates.
type Reason string

const (
	ReasonCreate           Reason = "consent-create"
	ReasonBind             Reason = "consent-bind-accounts"
	ReasonReauthorize      Reason = "consent-reauthorize"
	ReasonRevoke           Reason = "consent-revoke"
	ReasonRevokeApplicable Reason = "consent-revoke-applicable"
	ReasonSuperseded       Reason = "consent-superseded-by-exclusive"
	ReasonAmend            Reason = "consent-amend"
	ReasonExpire           Reason = "consent-expired"
	ReasonStatusUpdate     Reason = "consent-status-update"
	ReasonFileUpload       Reason = "consent-file-upload"
)

func (r Reason) String() string { return string(r) }
