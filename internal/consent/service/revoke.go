package service

import (
	"context"

	"consentmgr/internal/consent/models"
	"consentmgr/internal/consent/tracer"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
)

// RevokeConsentWithReason moves a consent to a terminal status and
// deactivates every mapping reachable from it. When RevokeTokens is set the
// token hook is called once, after every write, for the consent's first user.
func (s *Service) RevokeConsentWithReason(ctx context.Context, req *models.RevokeRequest) (*models.DetailedConsent, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out *models.DetailedConsent
	err := s.run(ctx, "revoke", tracer.SpanRevoke, []tracer.Attribute{
		tracer.String(tracer.AttrConsentID, req.ConsentID.String()),
		tracer.String(tracer.AttrStatus, req.NewStatus.String()),
		tracer.Bool("consent.revoke_tokens", req.RevokeTokens),
	}, func(ctx context.Context, fx *effects) error {
		at := now(ctx)
		before, err := s.lockDetailed(ctx, req.ConsentID)
		if err != nil {
			return err
		}
		if before.Status == req.NewStatus {
			return dErrors.Newf(dErrors.CodeValidation, "consent is already in status %q", req.NewStatus)
		}
		if err := s.checkTransition(before, req.NewStatus); err != nil {
			return err
		}
		var user id.UserID
		if req.RevokeTokens {
			if user, err = revokeUser(before, req.UserID); err != nil {
				return err
			}
		}

		if err := s.store.UpdateConsentStatus(ctx, before.ID, req.NewStatus, at); err != nil {
			return storeErr(err, "failed to update consent status")
		}
		if err := s.setMappingStatus(ctx, before.ActiveMappingIDs(), models.MappingInactive); err != nil {
			return err
		}
		after, err := s.commitTransition(ctx, fx, before, req.NewStatus, req.Reason, req.UserID, at)
		if err != nil {
			return err
		}
		if req.RevokeTokens {
			if err := s.revokeTokens(ctx, after, user); err != nil {
				return err
			}
			fx.tokensRevoked++
		}
		out = after
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RevokeExistingApplicableConsents revokes every consent of the client, type
// and user in the request's organisation that is in the applicable status.
// Mappings of all matches are deactivated in one batch. It returns the
// number of consents revoked.
func (s *Service) RevokeExistingApplicableConsents(ctx context.Context, req *models.RevokeApplicableRequest) (int, error) {
	if req == nil {
		return 0, dErrors.New(dErrors.CodeValidation, "request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if req.ApplicableStatus == req.NewStatus {
		return 0, dErrors.New(dErrors.CodeValidation, "applicable and new statuses must differ")
	}

	var count int
	err := s.run(ctx, "revoke_applicable", tracer.SpanRevokeApplicable, []tracer.Attribute{
		tracer.String(tracer.AttrClientID, req.ClientID.String()),
		tracer.String(tracer.AttrUserHash, tracer.HashUserID(req.UserID.String())),
		tracer.String(tracer.AttrStatus, req.NewStatus.String()),
	}, func(ctx context.Context, fx *effects) error {
		at := now(ctx)
		matches, err := s.store.SearchConsents(ctx, models.ConsentFilter{
			OrgID:     req.OrgID,
			ClientIDs: []id.ClientID{req.ClientID},
			Types:     []string{req.ConsentType},
			Statuses:  []models.ConsentStatus{req.ApplicableStatus},
			UserIDs:   []id.UserID{req.UserID},
			ForUpdate: true,
		})
		if err != nil {
			return storeErr(err, "failed to search applicable consents")
		}

		users := make([]id.UserID, len(matches))
		for i, c := range matches {
			if err := s.checkTransition(c, req.NewStatus); err != nil {
				return err
			}
			if req.RevokeTokens {
				if users[i], err = revokeUser(c, req.UserID); err != nil {
					return err
				}
			}
		}

		var mappingIDs []id.MappingID
		for _, c := range matches {
			if err := s.store.UpdateConsentStatus(ctx, c.ID, req.NewStatus, at); err != nil {
				return storeErr(err, "failed to update consent status")
			}
			mappingIDs = append(mappingIDs, c.ActiveMappingIDs()...)
		}
		if err := s.setMappingStatus(ctx, mappingIDs, models.MappingInactive); err != nil {
			return err
		}

		afters := make([]*models.DetailedConsent, len(matches))
		for i, c := range matches {
			if afters[i], err = s.commitTransition(ctx, fx, c, req.NewStatus, models.ReasonRevokeApplicable, req.UserID, at); err != nil {
				return err
			}
		}
		if req.RevokeTokens {
			for i, after := range afters {
				if err := s.revokeTokens(ctx, after, users[i]); err != nil {
					return err
				}
				fx.tokensRevoked++
			}
		}
		count = len(matches)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
