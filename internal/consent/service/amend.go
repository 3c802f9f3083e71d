package service

import (
	"context"

	"consentmgr/internal/consent/models"
	"consentmgr/internal/consent/tracer"
	dErrors "consentmgr/pkg/domain-errors"
)

// AmendConsentData changes a consent's receipt and/or validity period.
func (s *Service) AmendConsentData(ctx context.Context, req *models.AmendRequest) (*models.DetailedConsent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(req.Accounts) > 0 || len(req.Attributes) > 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "accounts and attributes require a detailed amendment")
	}
	return s.amend(ctx, req)
}

// AmendDetailedConsent changes the receipt and/or validity period and
// optionally rebinds one authorization's accounts and merges attributes.
// The consent's status is left as it is; the audit trail records Amended.
func (s *Service) AmendDetailedConsent(ctx context.Context, req *models.AmendRequest) (*models.DetailedConsent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.amend(ctx, req)
}

func (s *Service) amend(ctx context.Context, req *models.AmendRequest) (*models.DetailedConsent, error) {
	var out *models.DetailedConsent
	err := s.run(ctx, "amend", tracer.SpanAmend, []tracer.Attribute{
		tracer.String(tracer.AttrConsentID, req.ConsentID.String()),
		tracer.Bool("consent.rebind", len(req.Accounts) > 0),
	}, func(ctx context.Context, fx *effects) error {
		at := now(ctx)
		before, err := s.lockDetailed(ctx, req.ConsentID)
		if err != nil {
			return err
		}
		if s.vocab.For(before.OrgID).IsTerminal(before.Status) {
			return dErrors.Newf(dErrors.CodeInvalidTransition, "consent is in terminal status %q", before.Status)
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
		if len(req.Accounts) > 0 {
			auth, err := authorizationOf(before, req.AuthorizationID)
			if err != nil {
				return err
			}
			if err := s.rebind(ctx, fx, auth.ID, req.Accounts); err != nil {
				return err
			}
		}

		out, err = s.commitTransition(ctx, fx, before, models.StatusAmended, models.ReasonAmend, req.UserID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
