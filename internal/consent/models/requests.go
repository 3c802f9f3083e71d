package models

import (
	"strings"

	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
	"consentmgr/pkg/validation"
)

// CreateConsentRequest describes a new consent and, when ImplicitAuth is set,
// the authorization resource created alongside it.
type CreateConsentRequest struct {
	OrgID          id.OrgID
	ClientID       id.ClientID   `validate:"notblank"`
	ConsentType    string        `validate:"notblank"`
	Status         ConsentStatus `validate:"notblank"`
	Receipt        Receipt
	ValidityPeriod int64 `validate:"gte=0"`
	Recurring      bool
	Frequency      int `validate:"gte=0"`
	Attributes     Attributes

	ImplicitAuth bool
	UserID       id.UserID
	AuthStatus   AuthStatus `validate:"required_if=ImplicitAuth true"`
	AuthType     AuthType   `validate:"required_if=ImplicitAuth true"`
}

// Normalize applies defaults and trims caller input.
func (r *CreateConsentRequest) Normalize() {
	if r == nil {
		return
	}
	if strings.TrimSpace(string(r.OrgID)) == "" {
		r.OrgID = id.DefaultOrg
	}
	r.ClientID = id.ClientID(strings.TrimSpace(string(r.ClientID)))
	r.ConsentType = strings.TrimSpace(r.ConsentType)
	r.UserID = id.UserID(strings.TrimSpace(string(r.UserID)))
}

// Validate checks mandatory fields. It never touches storage.
func (r *CreateConsentRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}
	if err := validation.Validate(r); err != nil {
		return err
	}
	if r.Receipt.IsBlank() {
		return dErrors.New(dErrors.CodeValidation, "receipt is required")
	}
	if r.ImplicitAuth && !r.AuthStatus.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid authorization status %q", r.AuthStatus)
	}
	return nil
}

// CreateExclusiveConsentRequest supersedes the user's existing consents of the
// same client and type before creating a new one.
type CreateExclusiveConsentRequest struct {
	CreateConsentRequest
	ApplicableStatus ConsentStatus `validate:"notblank"`
	SupersededStatus ConsentStatus `validate:"notblank"`
}

func (r *CreateExclusiveConsentRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}
	if err := r.CreateConsentRequest.Validate(); err != nil {
		return err
	}
	if r.UserID.IsBlank() {
		return dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	return validation.Validate(r)
}

// BindAccountsRequest authorizes a consent for a user and binds accounts to it.
type BindAccountsRequest struct {
	ConsentID        id.ConsentID
	AuthorizationID  id.AuthorizationID
	UserID           id.UserID `validate:"notblank"`
	Accounts         AccountPermissions
	NewAuthStatus    AuthStatus    `validate:"notblank"`
	NewConsentStatus ConsentStatus `validate:"notblank"`
}

func (r *BindAccountsRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}
	if r.ConsentID.IsNil() || r.AuthorizationID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "consent_id and authorization_id are required")
	}
	if err := validation.Validate(r); err != nil {
		return err
	}
	if !r.NewAuthStatus.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid authorization status %q", r.NewAuthStatus)
	}
	return validateAccounts(r.Accounts)
}

// ReauthorizeExistingRequest rebinds accounts on an existing authorization resource.
type ReauthorizeExistingRequest struct {
	ConsentID       id.ConsentID
	AuthorizationID id.AuthorizationID
	UserID          id.UserID `validate:"notblank"`
	Accounts        AccountPermissions
	CurrentStatus   ConsentStatus `validate:"notblank"`
	NewStatus       ConsentStatus `validate:"notblank"`
}

func (r *ReauthorizeExistingRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}
	if r.ConsentID.IsNil() || r.AuthorizationID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "consent_id and authorization_id are required")
	}
	if err := validation.Validate(r); err != nil {
		return err
	}
	return validateAccounts(r.Accounts)
}

// ReauthorizeWithNewAuthRequest replaces the user's authorization resources
// with a new one. ExistingAuthStatus is applied verbatim to the replaced resources.
type ReauthorizeWithNewAuthRequest struct {
	ConsentID          id.ConsentID
	UserID             id.UserID `validate:"notblank"`
	Accounts           AccountPermissions
	CurrentStatus      ConsentStatus `validate:"notblank"`
	NewStatus          ConsentStatus `validate:"notblank"`
	ExistingAuthStatus AuthStatus    `validate:"notblank"`
	NewAuthStatus      AuthStatus    `validate:"notblank"`
	NewAuthType        AuthType      `validate:"notblank"`
}

func (r *ReauthorizeWithNewAuthRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}
	if r.ConsentID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	if err := validation.Validate(r); err != nil {
		return err
	}
	if !r.ExistingAuthStatus.IsValid() || !r.NewAuthStatus.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid authorization status")
	}
	return validateAccounts(r.Accounts)
}

// RevokeRequest moves one consent to a terminal status.
type RevokeRequest struct {
	ConsentID    id.ConsentID
	NewStatus    ConsentStatus `validate:"notblank"`
	UserID       id.UserID
	RevokeTokens bool
	Reason       Reason
}

func (r *RevokeRequest) Normalize() {
	if r == nil {
		return
	}
	if strings.TrimSpace(string(r.Reason)) == "" {
		r.Reason = ReasonRevoke
	}
}

func (r *RevokeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}
	if r.ConsentID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	return validation.Validate(r)
}

// RevokeApplicableRequest revokes every consent of one organisation matching
// client, user, type and status.
type RevokeApplicableRequest struct {
	OrgID            id.OrgID
	ClientID         id.ClientID   `validate:"notblank"`
	UserID           id.UserID     `validate:"notblank"`
	ConsentType      string        `validate:"notblank"`
	ApplicableStatus ConsentStatus `validate:"notblank"`
	NewStatus        ConsentStatus `validate:"notblank"`
	RevokeTokens     bool
}

// Normalize defaults the organisation and trims caller input.
func (r *RevokeApplicableRequest) Normalize() {
	if r == nil {
		return
	}
	r.OrgID = id.OrgID(strings.TrimSpace(string(r.OrgID)))
	if r.OrgID == "" {
		r.OrgID = id.DefaultOrg
	}
	r.ClientID = id.ClientID(strings.TrimSpace(string(r.ClientID)))
	r.UserID = id.UserID(strings.TrimSpace(string(r.UserID)))
	r.ConsentType = strings.TrimSpace(r.ConsentType)
}

func (r *RevokeApplicableRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}
	return validation.Validate(r)
}

// AmendRequest changes a consent's receipt and/or validity period and, for
// detailed amendments, its account bindings and attributes. The consent's
// current status is never changed by an amendment.
type AmendRequest struct {
	ConsentID      id.ConsentID
	Receipt        *Receipt
	ValidityPeriod *int64
	UserID         id.UserID

	// Detailed amendment. Accounts requires AuthorizationID.
	AuthorizationID id.AuthorizationID
	Accounts        AccountPermissions
	Attributes      Attributes
}

func (r *AmendRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}
	if r.ConsentID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	if (r.Receipt == nil || r.Receipt.IsBlank()) && r.ValidityPeriod == nil {
		return dErrors.New(dErrors.CodeValidation, "receipt or validity_period is required")
	}
	if r.ValidityPeriod != nil && *r.ValidityPeriod < 0 {
		return dErrors.New(dErrors.CodeValidation, "validity_period must be greater than or equal to 0")
	}
	if len(r.Accounts) > 0 {
		if r.AuthorizationID.IsNil() {
			return dErrors.New(dErrors.CodeValidation, "authorization_id is required when rebinding accounts")
		}
		return validateAccounts(r.Accounts)
	}
	return nil
}

// UpdateStatusRequest performs a generic audited status transition.
type UpdateStatusRequest struct {
	ConsentID id.ConsentID
	Status    ConsentStatus `validate:"notblank"`
	UserID    id.UserID
	Reason    Reason
}

func (r *UpdateStatusRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}
	if r.ConsentID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	return validation.Validate(r)
}

// CreateAuthorizationRequest adds an authorization resource to a consent.
type CreateAuthorizationRequest struct {
	ConsentID id.ConsentID
	UserID    id.UserID
	Status    AuthStatus `validate:"notblank"`
	Type      AuthType   `validate:"notblank"`
}

func (r *CreateAuthorizationRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}
	if r.ConsentID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	if err := validation.Validate(r); err != nil {
		return err
	}
	if !r.Status.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid authorization status %q", r.Status)
	}
	return nil
}

// StoreHistoryRequest records the difference between Previous and the
// consent's current state as one amendment batch.
type StoreHistoryRequest struct {
	ConsentID id.ConsentID
	HistoryID id.HistoryID
	Reason    Reason
	Previous  *DetailedConsent
}

func (r *StoreHistoryRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}
	if r.ConsentID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	if strings.TrimSpace(string(r.Reason)) == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if r.Previous == nil {
		return dErrors.New(dErrors.CodeValidation, "previous consent snapshot is required")
	}
	if r.Previous.ID != r.ConsentID {
		return dErrors.New(dErrors.CodeValidation, "previous snapshot belongs to another consent")
	}
	return nil
}

// CreateConsentFileRequest uploads a consent's file and moves the consent
// from ApplicableStatus to NewStatus.
type CreateConsentFileRequest struct {
	ConsentID        id.ConsentID
	Content          []byte
	ApplicableStatus ConsentStatus `validate:"notblank"`
	NewStatus        ConsentStatus `validate:"notblank"`
	UserID           id.UserID
}

func (r *CreateConsentFileRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}
	if r.ConsentID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	if len(r.Content) == 0 {
		return dErrors.New(dErrors.CodeValidation, "consent file is required")
	}
	return validation.Validate(r)
}

// AuthorizationGrant is one authorization resource of an
// UpdateAndAuthorizeRequest. A grant with AuthorizationID updates that
// existing resource; one without creates a new resource of Type.
type AuthorizationGrant struct {
	AuthorizationID id.AuthorizationID
	UserID          id.UserID
	Type            AuthType
	Status          AuthStatus
	Accounts        AccountPermissions
}

// UpdateAndAuthorizeRequest updates a consent's own fields and status and
// attaches the authorization resources and account mappings produced by an
// authorization flow, all at once.
type UpdateAndAuthorizeRequest struct {
	ConsentID      id.ConsentID
	PrimaryUserID  id.UserID     `validate:"notblank"`
	NewStatus      ConsentStatus `validate:"notblank"`
	Receipt        *Receipt
	ValidityPeriod *int64
	Attributes     Attributes
	Grants         []AuthorizationGrant
}

func (r *UpdateAndAuthorizeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeValidation, "request is required")
	}
	if r.ConsentID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	if err := validation.Validate(r); err != nil {
		return err
	}
	if r.ValidityPeriod != nil && *r.ValidityPeriod < 0 {
		return dErrors.New(dErrors.CodeValidation, "validity_period must be greater than or equal to 0")
	}
	for k := range r.Attributes {
		if strings.TrimSpace(k) == "" {
			return dErrors.New(dErrors.CodeValidation, "attribute key must not be blank")
		}
	}
	for _, g := range r.Grants {
		if !g.Status.IsValid() {
			return dErrors.Newf(dErrors.CodeValidation, "invalid authorization status %q", g.Status)
		}
		if g.AuthorizationID.IsNil() && strings.TrimSpace(string(g.Type)) == "" {
			return dErrors.New(dErrors.CodeValidation, "authorization type is required for a new authorization resource")
		}
		if len(g.Accounts) > 0 {
			if err := validateAccounts(g.Accounts); err != nil {
				return err
			}
		}
	}
	return nil
}

// AuthorizationUpdate changes one authorization resource. Blank fields are
// left as they are.
type AuthorizationUpdate struct {
	AuthorizationID id.AuthorizationID
	Status          AuthStatus
	UserID          id.UserID
}

// MappingUpdate changes one account mapping of AuthorizationID. Blank fields
// are left as they are.
type MappingUpdate struct {
	MappingID       id.MappingID
	AuthorizationID id.AuthorizationID
	Status          MappingStatus
	Permission      string
}

// ValidateAuthorizationUpdates checks a bulk authorization update.
func ValidateAuthorizationUpdates(updates []AuthorizationUpdate) error {
	if len(updates) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one authorization update is required")
	}
	for _, u := range updates {
		if u.AuthorizationID.IsNil() {
			return dErrors.New(dErrors.CodeValidation, "authorization_id is required")
		}
		if u.Status == "" && u.UserID.IsBlank() {
			return dErrors.Newf(dErrors.CodeValidation, "authorization %s has nothing to update", u.AuthorizationID)
		}
		if u.Status != "" && !u.Status.IsValid() {
			return dErrors.Newf(dErrors.CodeValidation, "invalid authorization status %q", u.Status)
		}
	}
	return nil
}

// ValidateMappingUpdates checks a bulk mapping update.
func ValidateMappingUpdates(updates []MappingUpdate) error {
	if len(updates) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one mapping update is required")
	}
	for _, u := range updates {
		if u.MappingID.IsNil() || u.AuthorizationID.IsNil() {
			return dErrors.New(dErrors.CodeValidation, "mapping_id and authorization_id are required")
		}
		if u.Status == "" && strings.TrimSpace(u.Permission) == "" {
			return dErrors.Newf(dErrors.CodeValidation, "mapping %s has nothing to update", u.MappingID)
		}
		if u.Status != "" && !u.Status.IsValid() {
			return dErrors.Newf(dErrors.CodeValidation, "invalid mapping status %q", u.Status)
		}
	}
	return nil
}

func validateAccounts(accounts AccountPermissions) error {
	if len(accounts) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one account is required")
	}
	for account, perms := range accounts {
		if strings.TrimSpace(account) == "" {
			return dErrors.New(dErrors.CodeValidation, "account id must not be blank")
		}
		if len(perms) == 0 {
			return dErrors.Newf(dErrors.CodeValidation, "account %q has no permissions", account)
		}
		for _, p := range perms {
			if strings.TrimSpace(p) == "" {
				return dErrors.Newf(dErrors.CodeValidation, "account %q has a blank permission", account)
			}
		}
	}
	return nil
}
