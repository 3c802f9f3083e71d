package testutil

import (
	"time"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
)

// TestIDs provides fixed identifiers for deterministic test data.
var TestIDs = struct {
	UserID1   id.UserID
	UserID2   id.UserID
	ClientID1 id.ClientID
	ClientID2 id.ClientID
	OrgID1    id.OrgID
	OrgID2    id.OrgID
}{
	UserID1:   "user-1@example.org",
	UserID2:   "user-2@example.org",
	ClientID1: "client-1",
	ClientID2: "client-2",
	OrgID1:    "org-1",
	OrgID2:    "org-2",
}

// FixedTime is the default clock value used by fixtures.
var FixedTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// ConsentBuilder provides a fluent interface for building detailed consents.
type ConsentBuilder struct {
	consent *models.DetailedConsent
}

// NewConsentBuilder creates an authorized accounts consent owned by
// TestIDs.ClientID1 with no authorizations.
func NewConsentBuilder() *ConsentBuilder {
	return &ConsentBuilder{consent: &models.DetailedConsent{
		Consent: models.Consent{
			ID:          id.NewConsentID(),
			OrgID:       id.DefaultOrg,
			ClientID:    TestIDs.ClientID1,
			ConsentType: "accounts",
			Status:      models.StatusAuthorized,
			Receipt:     models.Receipt{Data: []byte(`{"scope":"accounts"}`), SchemaVersion: "v1"},
			CreatedAt:   FixedTime,
			UpdatedAt:   FixedTime,
		},
	}}
}

func (b *ConsentBuilder) WithID(consentID id.ConsentID) *ConsentBuilder {
	b.consent.ID = consentID
	return b
}

func (b *ConsentBuilder) WithClient(clientID id.ClientID) *ConsentBuilder {
	b.consent.ClientID = clientID
	return b
}

func (b *ConsentBuilder) WithOrg(orgID id.OrgID) *ConsentBuilder {
	b.consent.OrgID = orgID
	return b
}

func (b *ConsentBuilder) WithType(consentType string) *ConsentBuilder {
	b.consent.ConsentType = consentType
	return b
}

func (b *ConsentBuilder) WithStatus(status models.ConsentStatus) *ConsentBuilder {
	b.consent.Status = status
	return b
}

func (b *ConsentBuilder) WithValidity(seconds int64) *ConsentBuilder {
	b.consent.ValidityPeriod = seconds
	return b
}

func (b *ConsentBuilder) CreatedAt(t time.Time) *ConsentBuilder {
	b.consent.CreatedAt = t
	b.consent.UpdatedAt = t
	return b
}

func (b *ConsentBuilder) WithAttribute(key, value string) *ConsentBuilder {
	if b.consent.Attributes == nil {
		b.consent.Attributes = models.Attributes{}
	}
	b.consent.Attributes[key] = value
	return b
}

// WithAuthorization adds an authorization for userID with one active mapping
// per account, each granting permission.
func (b *ConsentBuilder) WithAuthorization(userID id.UserID, authType models.AuthType, permission string, accounts ...string) *ConsentBuilder {
	auth := &models.AuthorizationResource{
		ID:        id.NewAuthorizationID(),
		ConsentID: b.consent.ID,
		Type:      authType,
		Status:    models.AuthStatusAuthorized,
		UserID:    userID,
		UpdatedAt: b.consent.UpdatedAt,
	}
	b.consent.Authorizations = append(b.consent.Authorizations, auth)
	for _, account := range accounts {
		b.consent.Mappings = append(b.consent.Mappings, &models.MappingResource{
			ID:              id.NewMappingID(),
			AuthorizationID: auth.ID,
			AccountID:       account,
			Permission:      permission,
			Status:          models.MappingActive,
		})
	}
	return b
}

func (b *ConsentBuilder) Build() *models.DetailedConsent {
	return b.consent
}
