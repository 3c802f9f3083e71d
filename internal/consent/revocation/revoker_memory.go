package revocation

import (
	"context"
	"slices"
	"sync"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	"consentmgr/pkg/platform/sentinel"
)

// InMemoryRevoker keeps revocations in process. Used when Redis is not
// configured and in tests.
type InMemoryRevoker struct {
	mu      sync.RWMutex
	records map[id.ConsentID]Record
	byUser  map[id.UserID][]id.ConsentID
}

// NewInMemory returns an empty revoker.
func NewInMemory() *InMemoryRevoker {
	return &InMemoryRevoker{
		records: make(map[id.ConsentID]Record),
		byUser:  make(map[id.UserID][]id.ConsentID),
	}
}

func (r *InMemoryRevoker) RevokeTokens(ctx context.Context, c *models.DetailedConsent, userID id.UserID) error {
	rec, err := newRecord(ctx, c, userID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ConsentID] = rec
	if !userID.IsBlank() && !slices.Contains(r.byUser[userID], rec.ConsentID) {
		r.byUser[userID] = append(r.byUser[userID], rec.ConsentID)
	}
	return nil
}

func (r *InMemoryRevoker) Lookup(_ context.Context, consentID id.ConsentID) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[consentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &rec, nil
}

func (r *InMemoryRevoker) IsRevoked(_ context.Context, consentID id.ConsentID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[consentID]
	return ok, nil
}

func (r *InMemoryRevoker) RevokedForUser(_ context.Context, userID id.UserID) ([]id.ConsentID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byUser[userID]), nil
}
