package service

import (
	"context"
	"time"

	"consentmgr/internal/consent/models"
	"consentmgr/internal/consent/tracer"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
)

// CreateConsent persists a new consent, its optional implicit authorization
// and the initial status audit record in one transaction.
func (s *Service) CreateConsent(ctx context.Context, req *models.CreateConsentRequest) (*models.DetailedConsent, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkInitialStatus(req.OrgID, req.Status); err != nil {
		return nil, err
	}

	var out *models.DetailedConsent
	err := s.run(ctx, "create", tracer.SpanCreate, []tracer.Attribute{
		tracer.String(tracer.AttrClientID, req.ClientID.String()),
		tracer.String(tracer.AttrStatus, req.Status.String()),
	}, func(ctx context.Context, fx *effects) error {
		d, err := s.createConsent(ctx, fx, req, now(ctx))
		out = d
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateExclusiveConsent supersedes every consent of the same client, type
// and user that is in the applicable status, then creates the new consent.
// Matched rows are locked so two concurrent exclusive creates serialize.
func (s *Service) CreateExclusiveConsent(ctx context.Context, req *models.CreateExclusiveConsentRequest) (*models.DetailedConsent, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ApplicableStatus == req.SupersededStatus {
		return nil, dErrors.New(dErrors.CodeValidation, "applicable and superseded statuses must differ")
	}
	if err := s.checkInitialStatus(req.OrgID, req.Status); err != nil {
		return nil, err
	}

	var out *models.DetailedConsent
	err := s.run(ctx, "create_exclusive", tracer.SpanCreateExclusive, []tracer.Attribute{
		tracer.String(tracer.AttrClientID, req.ClientID.String()),
		tracer.String(tracer.AttrUserHash, tracer.HashUserID(req.UserID.String())),
	}, func(ctx context.Context, fx *effects) error {
		at := now(ctx)
		existing, err := s.store.SearchConsents(ctx, models.ConsentFilter{
			OrgID:     req.OrgID,
			ClientIDs: []id.ClientID{req.ClientID},
			Types:     []string{req.ConsentType},
			Statuses:  []models.ConsentStatus{req.ApplicableStatus},
			UserIDs:   []id.UserID{req.UserID},
			ForUpdate: true,
		})
		if err != nil {
			return storeErr(err, "failed to search existing consents")
		}
		for _, prev := range existing {
			if err := s.checkTransition(prev, req.SupersededStatus); err != nil {
				return err
			}
		}
		for _, prev := range existing {
			if err := s.store.UpdateConsentStatus(ctx, prev.ID, req.SupersededStatus, at); err != nil {
				return storeErr(err, "failed to supersede consent")
			}
			if err := s.setMappingStatus(ctx, prev.ActiveMappingIDs(), models.MappingInactive); err != nil {
				return err
			}
			if _, err := s.commitTransition(ctx, fx, prev, req.SupersededStatus, models.ReasonSuperseded, req.UserID, at); err != nil {
				return err
			}
		}

		d, err := s.createConsent(ctx, fx, &req.CreateConsentRequest, at)
		out = d
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StoreDetailedConsent inserts a fully formed aggregate: the consent, its
// attributes, authorizations and mappings, and the initial audit record.
func (s *Service) StoreDetailedConsent(ctx context.Context, d *models.DetailedConsent) (*models.DetailedConsent, error) {
	if d == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "consent is required")
	}
	d = d.Clone()
	if err := s.prepareDetailed(ctx, d); err != nil {
		return nil, err
	}

	var out *models.DetailedConsent
	err := s.run(ctx, "store_detailed", tracer.SpanStoreDetailed, []tracer.Attribute{
		tracer.String(tracer.AttrConsentID, d.ID.String()),
		tracer.String(tracer.AttrClientID, d.ClientID.String()),
	}, func(ctx context.Context, fx *effects) error {
		stored, err := s.insertDetailed(ctx, fx, d, "")
		out = stored
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// prepareDetailed fills defaults on a caller-built aggregate and checks that
// every child belongs to it.
func (s *Service) prepareDetailed(ctx context.Context, d *models.DetailedConsent) error {
	if d.ID.IsNil() {
		d.ID = id.NewConsentID()
	}
	if d.OrgID == "" {
		d.OrgID = id.DefaultOrg
	}
	if d.ClientID.IsBlank() || d.ConsentType == "" || d.Status == "" {
		return dErrors.New(dErrors.CodeValidation, "client_id, consent_type and status are required")
	}
	if d.Receipt.IsBlank() {
		return dErrors.New(dErrors.CodeValidation, "receipt is required")
	}
	if d.ValidityPeriod < 0 || d.Frequency < 0 {
		return dErrors.New(dErrors.CodeValidation, "validity_period and frequency must not be negative")
	}
	if err := s.checkInitialStatus(d.OrgID, d.Status); err != nil {
		return err
	}
	at := now(ctx)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = at
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}

	auths := make(map[id.AuthorizationID]bool, len(d.Authorizations))
	for _, a := range d.Authorizations {
		if a.ID.IsNil() {
			a.ID = id.NewAuthorizationID()
		}
		if a.ConsentID.IsNil() {
			a.ConsentID = d.ID
		}
		if a.ConsentID != d.ID {
			return dErrors.New(dErrors.CodeValidation, "authorization belongs to another consent")
		}
		if !a.Status.IsValid() || a.Type == "" {
			return dErrors.Newf(dErrors.CodeValidation, "authorization %s has an invalid status or type", a.ID)
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = d.CreatedAt
		}
		auths[a.ID] = true
	}
	for _, m := range d.Mappings {
		if m.ID.IsNil() {
			m.ID = id.NewMappingID()
		}
		if m.Status == "" {
			m.Status = models.MappingActive
		}
		if !auths[m.AuthorizationID] {
			return dErrors.New(dErrors.CodeValidation, "mapping references an authorization outside the consent")
		}
		if m.AccountID == "" || m.Permission == "" || !m.Status.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "mapping requires account, permission and a valid status")
		}
	}
	return nil
}

func (s *Service) checkInitialStatus(org id.OrgID, status models.ConsentStatus) error {
	if !s.vocab.For(org).Allows(status) {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "status %q is not allowed", status)
	}
	return nil
}

func (s *Service) createConsent(ctx context.Context, fx *effects, req *models.CreateConsentRequest, at time.Time) (*models.DetailedConsent, error) {
	d := &models.DetailedConsent{
		Consent: models.Consent{
			ID:             id.NewConsentID(),
			OrgID:          req.OrgID,
			ClientID:       req.ClientID,
			ConsentType:    req.ConsentType,
			Status:         req.Status,
			Receipt:        req.Receipt,
			ValidityPeriod: req.ValidityPeriod,
			Recurring:      req.Recurring,
			Frequency:      req.Frequency,
			CreatedAt:      at,
			UpdatedAt:      at,
			Attributes:     req.Attributes,
		},
	}
	if req.ImplicitAuth {
		d.Authorizations = []*models.AuthorizationResource{{
			ID:        id.NewAuthorizationID(),
			ConsentID: d.ID,
			Type:      req.AuthType,
			Status:    req.AuthStatus,
			UserID:    req.UserID,
			UpdatedAt: at,
		}}
	}
	return s.insertDetailed(ctx, fx, d, req.UserID)
}

func (s *Service) insertDetailed(ctx context.Context, fx *effects, d *models.DetailedConsent, actor id.UserID) (*models.DetailedConsent, error) {
	if err := s.store.CreateConsent(ctx, &d.Consent); err != nil {
		return nil, storeErr(err, "failed to create consent")
	}
	for _, a := range d.Authorizations {
		if err := s.store.CreateAuthorization(ctx, a); err != nil {
			return nil, storeErr(err, "failed to create authorization resource")
		}
	}
	if err := s.createMappings(ctx, fx, d.Mappings); err != nil {
		return nil, err
	}
	if actor.IsBlank() {
		actor = d.ActionBy()
	}
	if err := s.writeAudit(ctx, fx, &models.StatusAuditRecord{
		ID:         id.NewStatusAuditID(),
		ConsentID:  d.ID,
		Status:     d.Status,
		Reason:     models.ReasonCreate,
		ActionBy:   actor,
		ActionTime: d.CreatedAt,
	}); err != nil {
		return nil, err
	}
	stored, err := s.store.GetDetailedConsent(ctx, d.ID)
	if err != nil {
		return nil, storeErr(err, "failed to reload consent")
	}
	return stored, nil
}
