package service

import (
	"context"
	"errors"
	"time"

	"consentmgr/internal/consent/models"
	"consentmgr/internal/consent/tracer"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
	"consentmgr/pkg/requestcontext"
)

// UpdateConsentStatus performs a generic audited transition. Moving to a
// terminal status also deactivates the consent's mappings.
func (s *Service) UpdateConsentStatus(ctx context.Context, req *models.UpdateStatusRequest) (*models.DetailedConsent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	reason := req.Reason
	if reason == "" {
		reason = models.ReasonStatusUpdate
	}

	var out *models.DetailedConsent
	err := s.run(ctx, "update_status", tracer.SpanUpdateStatus, []tracer.Attribute{
		tracer.String(tracer.AttrConsentID, req.ConsentID.String()),
		tracer.String(tracer.AttrStatus, req.Status.String()),
	}, func(ctx context.Context, fx *effects) error {
		at := now(ctx)
		before, err := s.lockDetailed(ctx, req.ConsentID)
		if err != nil {
			return err
		}
		if before.Status == req.Status {
			return dErrors.Newf(dErrors.CodeValidation, "consent is already in status %q", req.Status)
		}
		if err := s.checkTransition(before, req.Status); err != nil {
			return err
		}
		out, err = s.moveTo(ctx, fx, before, req.Status, reason, req.UserID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// moveTo writes a status change and closes the transition.
func (s *Service) moveTo(ctx context.Context, fx *effects, before *models.DetailedConsent, status models.ConsentStatus, reason models.Reason, actor id.UserID, at time.Time) (*models.DetailedConsent, error) {
	if err := s.store.UpdateConsentStatus(ctx, before.ID, status, at); err != nil {
		return nil, storeErr(err, "failed to update consent status")
	}
	if s.vocab.For(before.OrgID).IsTerminal(status) {
		if err := s.setMappingStatus(ctx, before.ActiveMappingIDs(), models.MappingInactive); err != nil {
			return nil, err
		}
	}
	return s.commitTransition(ctx, fx, before, status, reason, actor, at)
}

// ExpireConsents moves up to limit consents whose validity period has
// elapsed at asOf to StatusExpired. Each consent is expired in its own
// transaction so one failure does not hold back the rest; failures are
// joined into the returned error. A limit of zero or less means no limit.
func (s *Service) ExpireConsents(ctx context.Context, asOf time.Time, limit int) (int, error) {
	asOf = asOf.UTC().Truncate(time.Microsecond)
	candidates, err := s.store.ListExpired(ctx, s.vocab.ExpirableStatuses(), asOf, limit)
	if err != nil {
		return 0, storeErr(err, "failed to list expired consents")
	}

	ctx = requestcontext.WithTime(ctx, asOf)
	expired := 0
	var errs []error
	for _, consentID := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, dErrors.Wrap(err, dErrors.CodeTimeout, "expiry sweep interrupted"))
			break
		}
		ok, err := s.expireOne(ctx, consentID, asOf)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

// expireOne re-checks expirability under the row lock; a consent that moved
// on since it was listed is skipped.
func (s *Service) expireOne(ctx context.Context, consentID id.ConsentID, asOf time.Time) (bool, error) {
	expired := false
	err := s.run(ctx, "expire", tracer.SpanExpire, []tracer.Attribute{
		tracer.String(tracer.AttrConsentID, consentID.String()),
	}, func(ctx context.Context, fx *effects) error {
		before, err := s.lockDetailed(ctx, consentID)
		if err != nil {
			return err
		}
		if !s.vocab.For(before.OrgID).IsExpirable(before.Status) || !before.IsExpired(asOf) {
			return nil
		}
		if err := s.checkTransition(before, models.StatusExpired); err != nil {
			return err
		}
		if err := s.store.UpdateConsentStatus(ctx, before.ID, models.StatusExpired, asOf); err != nil {
			return storeErr(err, "failed to update consent status")
		}
		if err := s.setMappingStatus(ctx, before.ActiveMappingIDs(), models.MappingInactive); err != nil {
			return err
		}
		if _, err := s.commitTransition(ctx, fx, before, models.StatusExpired, models.ReasonExpire, systemActor, asOf); err != nil {
			return err
		}
		fx.expired++
		expired = true
		return nil
	})
	return expired, err
}
