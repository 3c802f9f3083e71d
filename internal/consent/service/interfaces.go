package service

import (
	"context"
	"time"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
)

// ConsentStore persists consents. All methods join the transaction carried
// by ctx.
type ConsentStore interface {
	CreateConsent(ctx context.Context, c *models.Consent) error
	GetConsent(ctx context.Context, consentID id.ConsentID, withAttributes bool) (*models.Consent, error)
	LockConsent(ctx context.Context, consentID id.ConsentID) (*models.Consent, error)
	UpdateConsentStatus(ctx context.Context, consentID id.ConsentID, status models.ConsentStatus, updatedAt time.Time) error
	UpdateConsentReceipt(ctx context.Context, consentID id.ConsentID, receipt models.Receipt, updatedAt time.Time) error
	UpdateConsentValidity(ctx context.Context, consentID id.ConsentID, validityPeriod int64, updatedAt time.Time) error
	GetDetailedConsent(ctx context.Context, consentID id.ConsentID) (*models.DetailedConsent, error)
	SearchConsents(ctx context.Context, filter models.ConsentFilter) ([]*models.DetailedConsent, error)
	ListExpired(ctx context.Context, statuses []models.ConsentStatus, now time.Time, limit int) ([]id.ConsentID, error)
}

// AuthorizationStore persists authorization resources.
type AuthorizationStore interface {
	CreateAuthorization(ctx context.Context, a *models.AuthorizationResource) error
	GetAuthorization(ctx context.Context, authID id.AuthorizationID) (*models.AuthorizationResource, error)
	SearchAuthorizations(ctx context.Context, consentID id.ConsentID, userID id.UserID) ([]*models.AuthorizationResource, error)
	UpdateAuthorizationStatus(ctx context.Context, authID id.AuthorizationID, status models.AuthStatus, updatedAt time.Time) error
	UpdateAuthorizationUser(ctx context.Context, authID id.AuthorizationID, userID id.UserID, updatedAt time.Time) error
}

// MappingStore persists account mappings.
type MappingStore interface {
	CreateMappings(ctx context.Context, mappings []*models.MappingResource) error
	GetMappings(ctx context.Context, authID id.AuthorizationID) ([]*models.MappingResource, error)
	UpdateMappingStatus(ctx context.Context, mappingIDs []id.MappingID, status models.MappingStatus) error
	UpdateMappingPermission(ctx context.Context, mappingID id.MappingID, permission string) error
}

// ConsentFileStore persists uploaded consent files.
type ConsentFileStore interface {
	StoreConsentFile(ctx context.Context, f *models.ConsentFile) error
	GetConsentFile(ctx context.Context, consentID id.ConsentID) (*models.ConsentFile, error)
}

// AttributeStore persists consent attributes.
type AttributeStore interface {
	StoreAttributes(ctx context.Context, consentID id.ConsentID, attrs models.Attributes) error
	GetAttributes(ctx context.Context, consentID id.ConsentID, keys []string) (models.Attributes, error)
	GetAttributesByKey(ctx context.Context, key string) (map[id.ConsentID]string, error)
	FindConsentIDsByAttribute(ctx context.Context, key, value string) ([]id.ConsentID, error)
	DeleteAttributes(ctx context.Context, consentID id.ConsentID, keys []string) error
}

// AuditStore persists the status audit trail and amendment history.
type AuditStore interface {
	CreateStatusAudit(ctx context.Context, r *models.StatusAuditRecord) error
	SearchStatusAudits(ctx context.Context, filter models.StatusAuditFilter) ([]*models.StatusAuditRecord, error)
	CreateHistoryEntries(ctx context.Context, entries []*models.HistoryEntry) error
	GetHistoryEntries(ctx context.Context, recordIDs []string) ([]*models.HistoryEntry, error)
}

// Store is the full persistence gateway the orchestrator drives.
//
// Error contract: every method returns *store.Error. Missing rows wrap
// sentinel.ErrNotFound and unique violations wrap sentinel.ErrAlreadyUsed.
type Store interface {
	ConsentStore
	AuthorizationStore
	MappingStore
	AttributeStore
	ConsentFileStore
	AuditStore
}
