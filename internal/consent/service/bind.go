package service

import (
	"context"
	"time"

	"consentmgr/internal/consent/models"
	"consentmgr/internal/consent/tracer"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
)

// BindUserAccountsToConsent assigns the user to an authorization resource,
// creates one active mapping per (account, permission) and moves the consent
// to its new status.
func (s *Service) BindUserAccountsToConsent(ctx context.Context, req *models.BindAccountsRequest) (*models.DetailedConsent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out *models.DetailedConsent
	err := s.run(ctx, "bind_accounts", tracer.SpanBindAccounts, []tracer.Attribute{
		tracer.String(tracer.AttrConsentID, req.ConsentID.String()),
		tracer.String(tracer.AttrUserHash, tracer.HashUserID(req.UserID.String())),
	}, func(ctx context.Context, fx *effects) error {
		at := now(ctx)
		before, err := s.lockDetailed(ctx, req.ConsentID)
		if err != nil {
			return err
		}
		auth, err := authorizationOf(before, req.AuthorizationID)
		if err != nil {
			return err
		}
		if err := s.checkTransition(before, req.NewConsentStatus); err != nil {
			return err
		}

		if err := s.store.UpdateAuthorizationUser(ctx, auth.ID, req.UserID, at); err != nil {
			return storeErr(err, "failed to update authorization user")
		}
		if err := s.store.UpdateAuthorizationStatus(ctx, auth.ID, req.NewAuthStatus, at); err != nil {
			return storeErr(err, "failed to update authorization status")
		}
		if err := s.createMappings(ctx, fx, newMappings(auth.ID, req.Accounts)); err != nil {
			return err
		}
		if err := s.store.UpdateConsentStatus(ctx, before.ID, req.NewConsentStatus, at); err != nil {
			return storeErr(err, "failed to update consent status")
		}
		out, err = s.commitTransition(ctx, fx, before, req.NewConsentStatus, models.ReasonBind, req.UserID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReAuthorizeExistingAuthResource rebinds the accounts of an existing
// authorization: new pairs are added and pairs no longer requested are
// deactivated.
func (s *Service) ReAuthorizeExistingAuthResource(ctx context.Context, req *models.ReauthorizeExistingRequest) (*models.DetailedConsent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out *models.DetailedConsent
	err := s.run(ctx, "reauthorize_existing", tracer.SpanReauthorizeExisting, []tracer.Attribute{
		tracer.String(tracer.AttrConsentID, req.ConsentID.String()),
		tracer.String(tracer.AttrUserHash, tracer.HashUserID(req.UserID.String())),
	}, func(ctx context.Context, fx *effects) error {
		at := now(ctx)
		before, err := s.lockDetailed(ctx, req.ConsentID)
		if err != nil {
			return err
		}
		if err := expectStatus(before, req.CurrentStatus); err != nil {
			return err
		}
		auth, err := authorizationOf(before, req.AuthorizationID)
		if err != nil {
			return err
		}
		if !auth.UserID.IsBlank() && auth.UserID != req.UserID {
			return dErrors.New(dErrors.CodeUserMismatch, "authorization resource belongs to another user")
		}
		if err := s.checkTransition(before, req.NewStatus); err != nil {
			return err
		}

		if err := s.rebind(ctx, fx, auth.ID, req.Accounts); err != nil {
			return err
		}
		if auth.UserID.IsBlank() {
			if err := s.store.UpdateAuthorizationUser(ctx, auth.ID, req.UserID, at); err != nil {
				return storeErr(err, "failed to update authorization user")
			}
		}
		if err := s.store.UpdateConsentStatus(ctx, before.ID, req.NewStatus, at); err != nil {
			return storeErr(err, "failed to update consent status")
		}
		out, err = s.commitTransition(ctx, fx, before, req.NewStatus, models.ReasonReauthorize, req.UserID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReAuthorizeConsentWithNewAuthResource retires the user's authorization
// resources to the supplied status, deactivates their mappings and binds the
// accounts to a fresh authorization resource.
func (s *Service) ReAuthorizeConsentWithNewAuthResource(ctx context.Context, req *models.ReauthorizeWithNewAuthRequest) (*models.DetailedConsent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out *models.DetailedConsent
	err := s.run(ctx, "reauthorize_new_auth", tracer.SpanReauthorizeNewAuth, []tracer.Attribute{
		tracer.String(tracer.AttrConsentID, req.ConsentID.String()),
		tracer.String(tracer.AttrUserHash, tracer.HashUserID(req.UserID.String())),
	}, func(ctx context.Context, fx *effects) error {
		at := now(ctx)
		before, err := s.lockDetailed(ctx, req.ConsentID)
		if err != nil {
			return err
		}
		if err := expectStatus(before, req.CurrentStatus); err != nil {
			return err
		}
		if err := s.checkTransition(before, req.NewStatus); err != nil {
			return err
		}

		var retired []id.MappingID
		for _, a := range before.Authorizations {
			if a.UserID != req.UserID {
				continue
			}
			if err := s.store.UpdateAuthorizationStatus(ctx, a.ID, req.ExistingAuthStatus, at); err != nil {
				return storeErr(err, "failed to update authorization status")
			}
			for _, m := range before.MappingsFor(a.ID) {
				if m.IsActive() {
					retired = append(retired, m.ID)
				}
			}
		}
		if err := s.setMappingStatus(ctx, retired, models.MappingInactive); err != nil {
			return err
		}

		auth := &models.AuthorizationResource{
			ID:        id.NewAuthorizationID(),
			ConsentID: before.ID,
			Type:      req.NewAuthType,
			Status:    req.NewAuthStatus,
			UserID:    req.UserID,
			UpdatedAt: at,
		}
		if err := s.store.CreateAuthorization(ctx, auth); err != nil {
			return storeErr(err, "failed to create authorization resource")
		}
		if err := s.createMappings(ctx, fx, newMappings(auth.ID, req.Accounts)); err != nil {
			return err
		}
		if err := s.store.UpdateConsentStatus(ctx, before.ID, req.NewStatus, at); err != nil {
			return storeErr(err, "failed to update consent status")
		}
		out, err = s.commitTransition(ctx, fx, before, req.NewStatus, models.ReasonReauthorize, req.UserID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateConsentAndCreateAuthResources applies the outcome of an
// authorization flow in one unit of work. It updates the consent's receipt,
// validity, attributes and status. Grants naming an existing authorization
// resource update it, other grants create new resources, and every grant's
// accounts are bound to its resource. The primary user is the audit actor.
func (s *Service) UpdateConsentAndCreateAuthResources(ctx context.Context, req *models.UpdateAndAuthorizeRequest) (*models.DetailedConsent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out *models.DetailedConsent
	err := s.run(ctx, "update_and_authorize", tracer.SpanUpdateAndAuthorize, []tracer.Attribute{
		tracer.String(tracer.AttrConsentID, req.ConsentID.String()),
		tracer.String(tracer.AttrUserHash, tracer.HashUserID(req.PrimaryUserID.String())),
		tracer.Int(tracer.AttrConsentCount, len(req.Grants)),
	}, func(ctx context.Context, fx *effects) error {
		at := now(ctx)
		before, err := s.lockDetailed(ctx, req.ConsentID)
		if err != nil {
			return err
		}
		if err := s.checkTransition(before, req.NewStatus); err != nil {
			return err
		}

		if req.Receipt != nil && !req.Receipt.IsBlank() {
			if err := s.store.UpdateConsentReceipt(ctx, before.ID, *req.Receipt, at); err != nil {
				return storeErr(err, "failed to update receipt")
			}
		}
		if req.ValidityPeriod != nil {
			if err := s.store.UpdateConsentValidity(ctx, before.ID, *req.ValidityPeriod, at); err != nil {
				return storeErr(err, "failed to update validity period")
			}
		}
		if len(req.Attributes) > 0 {
			if err := s.mergeAttributes(ctx, before.ID, before.Attributes, req.Attributes); err != nil {
				return err
			}
		}
		for _, g := range req.Grants {
			authID, err := s.applyGrant(ctx, before, g, at)
			if err != nil {
				return err
			}
			if len(g.Accounts) > 0 {
				if err := s.createMappings(ctx, fx, newMappings(authID, g.Accounts)); err != nil {
					return err
				}
			}
		}
		if err := s.store.UpdateConsentStatus(ctx, before.ID, req.NewStatus, at); err != nil {
			return storeErr(err, "failed to update consent status")
		}
		out, err = s.commitTransition(ctx, fx, before, req.NewStatus, models.ReasonBind, req.PrimaryUserID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) applyGrant(ctx context.Context, c *models.DetailedConsent, g models.AuthorizationGrant, at time.Time) (id.AuthorizationID, error) {
	if g.AuthorizationID.IsNil() {
		auth := &models.AuthorizationResource{
			ID:        id.NewAuthorizationID(),
			ConsentID: c.ID,
			Type:      g.Type,
			Status:    g.Status,
			UserID:    g.UserID,
			UpdatedAt: at,
		}
		if err := s.store.CreateAuthorization(ctx, auth); err != nil {
			return id.AuthorizationID{}, storeErr(err, "failed to create authorization resource")
		}
		return auth.ID, nil
	}

	auth, err := authorizationOf(c, g.AuthorizationID)
	if err != nil {
		return id.AuthorizationID{}, err
	}
	if err := s.store.UpdateAuthorizationStatus(ctx, auth.ID, g.Status, at); err != nil {
		return id.AuthorizationID{}, storeErr(err, "failed to update authorization status")
	}
	if !g.UserID.IsBlank() && g.UserID != auth.UserID {
		if err := s.store.UpdateAuthorizationUser(ctx, auth.ID, g.UserID, at); err != nil {
			return id.AuthorizationID{}, storeErr(err, "failed to update authorization user")
		}
	}
	return auth.ID, nil
}

func authorizationOf(c *models.DetailedConsent, authID id.AuthorizationID) (*models.AuthorizationResource, error) {
	auth, ok := c.Authorization(authID)
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "authorization resource %s not found for consent", authID)
	}
	return auth, nil
}

// expectStatus guards reauthorization against a consent that moved on since
// the caller read it.
func expectStatus(c *models.DetailedConsent, current models.ConsentStatus) error {
	if c.Status != current {
		return dErrors.Newf(dErrors.CodeValidation, "consent is in status %q, expected %q", c.Status, current)
	}
	return nil
}
