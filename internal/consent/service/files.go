package service

import (
	"context"

	"consentmgr/internal/consent/models"
	"consentmgr/internal/consent/tracer"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
)

// CreateConsentFile stores the consent's uploaded file and moves the consent
// to NewStatus. The consent must be in ApplicableStatus, and only one file
// may ever be stored for it.
func (s *Service) CreateConsentFile(ctx context.Context, req *models.CreateConsentFileRequest) (*models.DetailedConsent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out *models.DetailedConsent
	err := s.run(ctx, "create_consent_file", tracer.SpanConsentFile, []tracer.Attribute{
		tracer.String(tracer.AttrConsentID, req.ConsentID.String()),
		tracer.String(tracer.AttrStatus, req.NewStatus.String()),
	}, func(ctx context.Context, fx *effects) error {
		at := now(ctx)
		before, err := s.lockDetailed(ctx, req.ConsentID)
		if err != nil {
			return err
		}
		if before.Status != req.ApplicableStatus {
			return dErrors.Newf(dErrors.CodeInvalidTransition,
				"consent is in status %q, file upload requires %q", before.Status, req.ApplicableStatus)
		}
		if err := s.checkTransition(before, req.NewStatus); err != nil {
			return err
		}
		file := &models.ConsentFile{ConsentID: before.ID, Content: req.Content, CreatedAt: at}
		if err := s.store.StoreConsentFile(ctx, file); err != nil {
			return storeErr(err, "failed to store consent file")
		}
		out, err = s.moveTo(ctx, fx, before, req.NewStatus, models.ReasonFileUpload, req.UserID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetConsentFile(ctx context.Context, consentID id.ConsentID) (*models.ConsentFile, error) {
	if consentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	var out *models.ConsentFile
	err := s.query(ctx, "get_consent_file", consentAttrs(consentID), func(ctx context.Context) error {
		f, err := s.store.GetConsentFile(ctx, consentID)
		if err != nil {
			return storeErr(err, "consent file not found")
		}
		out = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
