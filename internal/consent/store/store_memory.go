package store

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
	"consentmgr/pkg/platform/sentinel"
)

// InMemoryStore keeps consents in process memory. It is used when no
// database is configured and by unit tests.
//
// RunInTx serializes units of work and restores a snapshot of the whole
// store when fn fails, which gives the same all-or-nothing visibility as a
// database transaction.
type InMemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *memState
}

type memState struct {
	consents   map[id.ConsentID]*models.Consent
	attributes map[id.ConsentID]models.Attributes
	auths      []*models.AuthorizationResource
	mappings   []*models.MappingResource
	audits     []*models.StatusAuditRecord
	history    []*models.HistoryEntry
	files      map[id.ConsentID]*models.ConsentFile
}

// NewInMemory constructs an empty in-memory consent store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{st: &memState{
		consents:   make(map[id.ConsentID]*models.Consent),
		attributes: make(map[id.ConsentID]models.Attributes),
		files:      make(map[id.ConsentID]*models.ConsentFile),
	}}
}

type memTxKey struct{}

// RunInTx runs fn as one unit of work. Nested calls join the outer unit.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if ctx.Value(memTxKey{}) == s {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, s)); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (st *memState) clone() *memState {
	out := &memState{
		consents:   make(map[id.ConsentID]*models.Consent, len(st.consents)),
		attributes: make(map[id.ConsentID]models.Attributes, len(st.attributes)),
		files:      maps.Clone(st.files),
	}
	for k, c := range st.consents {
		cp := *c
		cp.Receipt.Data = bytes.Clone(c.Receipt.Data)
		out.consents[k] = &cp
	}
	for k, a := range st.attributes {
		out.attributes[k] = a.Clone()
	}
	for _, a := range st.auths {
		cp := *a
		out.auths = append(out.auths, &cp)
	}
	for _, m := range st.mappings {
		cp := *m
		out.mappings = append(out.mappings, &cp)
	}
	out.audits = slices.Clone(st.audits)
	out.history = slices.Clone(st.history)
	return out
}

func (s *InMemoryStore) CreateConsent(_ context.Context, c *models.Consent) error {
	if c == nil {
		return insertionFailed(entityConsent, fmt.Errorf("consent is required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.st.consents[c.ID]; exists {
		return insertionFailed(entityConsent, fmt.Errorf("consent %s: %w", c.ID, sentinel.ErrAlreadyUsed))
	}
	cp := *c
	cp.Attributes = nil
	cp.Receipt.Data = bytes.Clone(c.Receipt.Data)
	s.st.consents[c.ID] = &cp
	if len(c.Attributes) > 0 {
		s.st.attributes[c.ID] = c.Attributes.Clone()
	}
	return nil
}

func (s *InMemoryStore) GetConsent(_ context.Context, consentID id.ConsentID, withAttributes bool) (*models.Consent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.st.consents[consentID]
	if !ok {
		return nil, retrievalFailed(entityConsent, fmt.Errorf("consent %s: %w", consentID, sentinel.ErrNotFound))
	}
	cp := *c
	cp.Receipt.Data = bytes.Clone(c.Receipt.Data)
	if withAttributes {
		cp.Attributes = s.st.attributes[consentID].Clone()
	}
	return &cp, nil
}

// LockConsent is GetConsent; units of work are already serialized.
func (s *InMemoryStore) LockConsent(ctx context.Context, consentID id.ConsentID) (*models.Consent, error) {
	return s.GetConsent(ctx, consentID, false)
}

func (s *InMemoryStore) UpdateConsentStatus(_ context.Context, consentID id.ConsentID, status models.ConsentStatus, updatedAt time.Time) error {
	return s.mutateConsent(consentID, func(c *models.Consent) {
		c.Status = status
		c.UpdatedAt = updatedAt
	})
}

func (s *InMemoryStore) UpdateConsentReceipt(_ context.Context, consentID id.ConsentID, receipt models.Receipt, updatedAt time.Time) error {
	return s.mutateConsent(consentID, func(c *models.Consent) {
		c.Receipt = models.Receipt{Data: bytes.Clone(receipt.Data), SchemaVersion: receipt.SchemaVersion}
		c.UpdatedAt = updatedAt
	})
}

func (s *InMemoryStore) UpdateConsentValidity(_ context.Context, consentID id.ConsentID, validityPeriod int64, updatedAt time.Time) error {
	return s.mutateConsent(consentID, func(c *models.Consent) {
		c.ValidityPeriod = validityPeriod
		c.UpdatedAt = updatedAt
	})
}

func (s *InMemoryStore) mutateConsent(consentID id.ConsentID, mutate func(*models.Consent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.consents[consentID]
	if !ok {
		return updateFailed(entityConsent, fmt.Errorf("consent %s: %w", consentID, sentinel.ErrNotFound))
	}
	mutate(c)
	return nil
}

func (s *InMemoryStore) GetDetailedConsent(_ context.Context, consentID id.ConsentID) (*models.DetailedConsent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.st.consents[consentID]
	if !ok {
		return nil, retrievalFailed(entityConsent, fmt.Errorf("consent %s: %w", consentID, sentinel.ErrNotFound))
	}
	return s.detailLocked(c), nil
}

func (s *InMemoryStore) detailLocked(c *models.Consent) *models.DetailedConsent {
	d := &models.DetailedConsent{Consent: *c}
	d.Receipt.Data = bytes.Clone(c.Receipt.Data)
	d.Attributes = models.Attributes{}
	if attrs, ok := s.st.attributes[c.ID]; ok {
		d.Attributes = attrs.Clone()
	}
	authIDs := make(map[id.AuthorizationID]bool)
	for _, a := range s.st.auths {
		if a.ConsentID == c.ID {
			cp := *a
			d.Authorizations = append(d.Authorizations, &cp)
			authIDs[a.ID] = true
		}
	}
	for _, m := range s.st.mappings {
		if authIDs[m.AuthorizationID] {
			cp := *m
			d.Mappings = append(d.Mappings, &cp)
		}
	}
	return d
}

func (s *InMemoryStore) SearchConsents(_ context.Context, filter models.ConsentFilter) ([]*models.DetailedConsent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.DetailedConsent
	for _, c := range s.st.consents {
		if !s.matchesLocked(c, filter) {
			continue
		}
		matched = append(matched, s.detailLocked(c))
	}
	slices.SortFunc(matched, func(a, b *models.DetailedConsent) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *InMemoryStore) matchesLocked(c *models.Consent, f models.ConsentFilter) bool {
	if len(f.ConsentIDs) > 0 && !slices.Contains(f.ConsentIDs, c.ID) {
		return false
	}
	if f.OrgID != "" && c.OrgID != f.OrgID {
		return false
	}
	if len(f.ClientIDs) > 0 && !slices.Contains(f.ClientIDs, c.ClientID) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, c.ConsentType) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, c.Status) {
		return false
	}
	if !f.From.IsZero() && c.UpdatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && c.UpdatedAt.After(f.To) {
		return false
	}
	if len(f.UserIDs) > 0 {
		found := false
		for _, a := range s.st.auths {
			if a.ConsentID == c.ID && slices.Contains(f.UserIDs, a.UserID) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *InMemoryStore) ListExpired(_ context.Context, statuses []models.ConsentStatus, now time.Time, limit int) ([]id.ConsentID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var expired []*models.Consent
	for _, c := range s.st.consents {
		if slices.Contains(statuses, c.Status) && c.IsExpired(now) {
			expired = append(expired, c)
		}
	}
	slices.SortFunc(expired, func(a, b *models.Consent) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	out := make([]id.ConsentID, 0, len(expired))
	for _, c := range expired {
		out = append(out, c.ID)
	}
	return out, nil
}

func (s *InMemoryStore) CreateAuthorization(_ context.Context, a *models.AuthorizationResource) error {
	if a == nil {
		return insertionFailed(entityAuthorization, fmt.Errorf("authorization resource is required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.consents[a.ConsentID]; !ok {
		return insertionFailed(entityAuthorization, fmt.Errorf("consent %s: %w", a.ConsentID, sentinel.ErrNotFound))
	}
	for _, existing := range s.st.auths {
		if existing.ID == a.ID {
			return insertionFailed(entityAuthorization, fmt.Errorf("authorization %s: %w", a.ID, sentinel.ErrAlreadyUsed))
		}
	}
	cp := *a
	s.st.auths = append(s.st.auths, &cp)
	return nil
}

func (s *InMemoryStore) GetAuthorization(_ context.Context, authID id.AuthorizationID) (*models.AuthorizationResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.st.auths {
		if a.ID == authID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, retrievalFailed(entityAuthorization, fmt.Errorf("authorization %s: %w", authID, sentinel.ErrNotFound))
}

func (s *InMemoryStore) SearchAuthorizations(_ context.Context, consentID id.ConsentID, userID id.UserID) ([]*models.AuthorizationResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AuthorizationResource
	for _, a := range s.st.auths {
		if !consentID.IsNil() && a.ConsentID != consentID {
			continue
		}
		if !userID.IsBlank() && a.UserID != userID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryStore) UpdateAuthorizationStatus(_ context.Context, authID id.AuthorizationID, status models.AuthStatus, updatedAt time.Time) error {
	return s.mutateAuthorization(authID, func(a *models.AuthorizationResource) {
		a.Status = status
		a.UpdatedAt = updatedAt
	})
}

func (s *InMemoryStore) UpdateAuthorizationUser(_ context.Context, authID id.AuthorizationID, userID id.UserID, updatedAt time.Time) error {
	return s.mutateAuthorization(authID, func(a *models.AuthorizationResource) {
		a.UserID = userID
		a.UpdatedAt = updatedAt
	})
}

func (s *InMemoryStore) mutateAuthorization(authID id.AuthorizationID, mutate func(*models.AuthorizationResource)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.st.auths {
		if a.ID == authID {
			mutate(a)
			return nil
		}
	}
	return updateFailed(entityAuthorization, fmt.Errorf("authorization %s: %w", authID, sentinel.ErrNotFound))
}

func (s *InMemoryStore) CreateMappings(_ context.Context, mappings []*models.MappingResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := make([]*models.MappingResource, 0, len(mappings))
	for _, m := range mappings {
		if !s.authExistsLocked(m.AuthorizationID) {
			return insertionFailed(entityMapping, fmt.Errorf("authorization %s: %w", m.AuthorizationID, sentinel.ErrNotFound))
		}
		cp := *m
		staged = append(staged, &cp)
	}
	s.st.mappings = append(s.st.mappings, staged...)
	return nil
}

func (s *InMemoryStore) authExistsLocked(authID id.AuthorizationID) bool {
	for _, a := range s.st.auths {
		if a.ID == authID {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) GetMappings(_ context.Context, authID id.AuthorizationID) ([]*models.MappingResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.MappingResource
	for _, m := range s.st.mappings {
		if m.AuthorizationID == authID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) UpdateMappingStatus(_ context.Context, mappingIDs []id.MappingID, status models.MappingStatus) error {
	if len(mappingIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	want := uniqueMappingIDs(mappingIDs)
	var targets []*models.MappingResource
	for _, m := range s.st.mappings {
		if _, ok := want[m.ID]; ok {
			targets = append(targets, m)
		}
	}
	if len(targets) != len(want) {
		return updateFailed(entityMapping, fmt.Errorf("updated %d of %d mappings: %w", len(targets), len(want), sentinel.ErrNotFound))
	}
	for _, m := range targets {
		m.Status = status
	}
	return nil
}

func (s *InMemoryStore) UpdateMappingPermission(_ context.Context, mappingID id.MappingID, permission string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.st.mappings {
		if m.ID == mappingID {
			m.Permission = permission
			return nil
		}
	}
	return updateFailed(entityMapping, fmt.Errorf("mapping %s: %w", mappingID, sentinel.ErrNotFound))
}

func (s *InMemoryStore) StoreAttributes(_ context.Context, consentID id.ConsentID, attrs models.Attributes) error {
	if len(attrs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.consents[consentID]; !ok {
		return insertionFailed(entityAttribute, fmt.Errorf("consent %s: %w", consentID, sentinel.ErrNotFound))
	}
	existing := s.st.attributes[consentID]
	for k := range attrs {
		if _, dup := existing[k]; dup {
			return insertionFailed(entityAttribute, fmt.Errorf("attribute %q: %w", k, sentinel.ErrAlreadyUsed))
		}
	}
	if existing == nil {
		existing = models.Attributes{}
		s.st.attributes[consentID] = existing
	}
	for k, v := range attrs {
		existing[k] = v
	}
	return nil
}

func (s *InMemoryStore) GetAttributes(_ context.Context, consentID id.ConsentID, keys []string) (models.Attributes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := models.Attributes{}
	for k, v := range s.st.attributes[consentID] {
		if len(keys) == 0 || slices.Contains(keys, k) {
			out[k] = v
		}
	}
	return out, nil
}

func (s *InMemoryStore) GetAttributesByKey(_ context.Context, key string) (map[id.ConsentID]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.ConsentID]string)
	for consentID, attrs := range s.st.attributes {
		if v, ok := attrs[key]; ok {
			out[consentID] = v
		}
	}
	return out, nil
}

func (s *InMemoryStore) FindConsentIDsByAttribute(_ context.Context, key, value string) ([]id.ConsentID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []id.ConsentID
	for consentID, attrs := range s.st.attributes {
		if v, ok := attrs[key]; ok && v == value {
			out = append(out, consentID)
		}
	}
	slices.SortFunc(out, func(a, b id.ConsentID) int { return cmp.Compare(a.String(), b.String()) })
	return out, nil
}

func (s *InMemoryStore) DeleteAttributes(_ context.Context, consentID id.ConsentID, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.st.attributes[consentID], k)
	}
	return nil
}

func (s *InMemoryStore) CreateStatusAudit(_ context.Context, r *models.StatusAuditRecord) error {
	if r == nil {
		return insertionFailed(entityStatusAudit, fmt.Errorf("status audit record is required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.consents[r.ConsentID]; !ok {
		return insertionFailed(entityStatusAudit, fmt.Errorf("consent %s: %w", r.ConsentID, sentinel.ErrNotFound))
	}
	cp := *r
	s.st.audits = append(s.st.audits, &cp)
	return nil
}

func (s *InMemoryStore) SearchStatusAudits(_ context.Context, f models.StatusAuditFilter) ([]*models.StatusAuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.StatusAuditRecord
	consentIDs := f.ConsentSet()
	for _, r := range s.st.audits {
		if len(consentIDs) > 0 && !slices.Contains(consentIDs, r.ConsentID) {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.ActionBy != "" && r.ActionBy != f.ActionBy {
			continue
		}
		if !f.From.IsZero() && r.ActionTime.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && r.ActionTime.After(f.To) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	slices.SortStableFunc(out, func(a, b *models.StatusAuditRecord) int { return a.ActionTime.Compare(b.ActionTime) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) StoreConsentFile(_ context.Context, f *models.ConsentFile) error {
	if f == nil {
		return insertionFailed(entityFile, fmt.Errorf("consent file is required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.consents[f.ConsentID]; !ok {
		return insertionFailed(entityFile, fmt.Errorf("consent %s: %w", f.ConsentID, sentinel.ErrNotFound))
	}
	if _, dup := s.st.files[f.ConsentID]; dup {
		return insertionFailed(entityFile, fmt.Errorf("consent file %s: %w", f.ConsentID, sentinel.ErrAlreadyUsed))
	}
	cp := *f
	cp.Content = bytes.Clone(f.Content)
	s.st.files[f.ConsentID] = &cp
	return nil
}

func (s *InMemoryStore) GetConsentFile(_ context.Context, consentID id.ConsentID) (*models.ConsentFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.st.files[consentID]
	if !ok {
		return nil, retrievalFailed(entityFile, fmt.Errorf("consent file %s: %w", consentID, sentinel.ErrNotFound))
	}
	cp := *f
	cp.Content = bytes.Clone(f.Content)
	return &cp, nil
}

func (s *InMemoryStore) CreateHistoryEntries(_ context.Context, entries []*models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		for _, existing := range s.st.history {
			if existing.HistoryID == e.HistoryID && existing.RecordID == e.RecordID && existing.DataType == e.DataType {
				return insertionFailed(entityHistory, fmt.Errorf("history %s/%s: %w", e.HistoryID, e.RecordID, sentinel.ErrAlreadyUsed))
			}
		}
	}
	for _, e := range entries {
		cp := *e
		cp.ChangedValues = bytes.Clone(e.ChangedValues)
		s.st.history = append(s.st.history, &cp)
	}
	return nil
}

func (s *InMemoryStore) GetHistoryEntries(_ context.Context, recordIDs []string) ([]*models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.HistoryEntry
	for _, e := range slices.Backward(s.st.history) {
		if slices.Contains(recordIDs, e.RecordID) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
