package service

import (
	"context"

	"consentmgr/internal/consent/history"
	"consentmgr/internal/consent/models"
	"consentmgr/internal/consent/tracer"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
	txcontext "consentmgr/pkg/platform/tx"
)

func (s *Service) GetConsent(ctx context.Context, consentID id.ConsentID, withAttributes bool) (*models.Consent, error) {
	if consentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	var out *models.Consent
	err := s.query(ctx, "get_consent", consentAttrs(consentID), func(ctx context.Context) error {
		c, err := s.store.GetConsent(ctx, consentID, withAttributes)
		if err != nil {
			return storeErr(err, "consent not found")
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetDetailedConsent(ctx context.Context, consentID id.ConsentID) (*models.DetailedConsent, error) {
	if consentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	var out *models.DetailedConsent
	err := s.query(ctx, "get_detailed_consent", consentAttrs(consentID), func(ctx context.Context) error {
		d, err := s.store.GetDetailedConsent(ctx, consentID)
		if err != nil {
			return storeErr(err, "consent not found")
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SearchDetailedConsents never locks; ForUpdate is ignored.
func (s *Service) SearchDetailedConsents(ctx context.Context, filter models.ConsentFilter) ([]*models.DetailedConsent, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "limit and offset must not be negative")
	}
	filter.ForUpdate = false
	var out []*models.DetailedConsent
	err := s.query(ctx, "search_consents", nil, func(ctx context.Context) error {
		found, err := s.store.SearchConsents(ctx, filter)
		if err != nil {
			return storeErr(err, "failed to search consents")
		}
		out = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) SearchConsentStatusAuditRecords(ctx context.Context, filter models.StatusAuditFilter) ([]*models.StatusAuditRecord, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "limit and offset must not be negative")
	}
	var out []*models.StatusAuditRecord
	err := s.query(ctx, "search_status_audits", nil, func(ctx context.Context) error {
		records, err := s.store.SearchStatusAudits(ctx, filter)
		if err != nil {
			return storeErr(err, "failed to search status audit records")
		}
		out = records
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetConsentStatusAuditRecords pages through the audit trail of the listed
// consents. An empty list is rejected rather than read as "every consent".
func (s *Service) GetConsentStatusAuditRecords(ctx context.Context, consentIDs []id.ConsentID, limit, offset int) ([]*models.StatusAuditRecord, error) {
	if len(consentIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one consent_id is required")
	}
	for _, c := range consentIDs {
		if c.IsNil() {
			return nil, dErrors.New(dErrors.CodeValidation, "consent_id must not be empty")
		}
	}
	return s.SearchConsentStatusAuditRecords(ctx, models.StatusAuditFilter{
		ConsentIDs: consentIDs,
		Limit:      limit,
		Offset:     offset,
	})
}

// StoreConsentAmendmentHistory records the difference between the caller's
// previous snapshot and the consent's current state as one batch. A zero
// HistoryID gets a fresh one. It returns the number of rows written.
func (s *Service) StoreConsentAmendmentHistory(ctx context.Context, req *models.StoreHistoryRequest) (int, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	batchID := req.HistoryID
	if batchID.IsNil() {
		batchID = id.NewHistoryID()
	}

	var rows int
	err := s.run(ctx, "store_history", tracer.SpanStoreHistory, []tracer.Attribute{
		tracer.String(tracer.AttrConsentID, req.ConsentID.String()),
	}, func(ctx context.Context, fx *effects) error {
		current, err := s.store.GetDetailedConsent(ctx, req.ConsentID)
		if err != nil {
			return storeErr(err, "consent not found")
		}
		rows, err = history.Persist(ctx, s.store, batchID, now(ctx), req.Reason, history.Compute(req.Previous, current))
		if err != nil {
			return storeErr(err, "failed to persist amendment history")
		}
		fx.addHistory(req.Reason, rows)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rows, nil
}

// GetConsentAmendmentHistory reconstructs the consent as it stood before
// each recorded batch, keyed by batch ID.
func (s *Service) GetConsentAmendmentHistory(ctx context.Context, consentID id.ConsentID) (map[id.HistoryID]*models.HistoricalConsent, error) {
	if consentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	var out map[id.HistoryID]*models.HistoricalConsent
	err := s.run(txcontext.ReadOnly(ctx), "get_history", tracer.SpanGetHistory, consentAttrs(consentID), func(ctx context.Context, _ *effects) error {
		current, err := s.store.GetDetailedConsent(ctx, consentID)
		if err != nil {
			return storeErr(err, "consent not found")
		}
		entries, err := s.store.GetHistoryEntries(ctx, current.HistoryRecordIDs())
		if err != nil {
			return storeErr(err, "failed to load amendment history")
		}
		out, err = history.Reconstruct(current, entries)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "amendment history is inconsistent")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func consentAttrs(consentID id.ConsentID) []tracer.Attribute {
	return []tracer.Attribute{tracer.String(tracer.AttrConsentID, consentID.String())}
}
