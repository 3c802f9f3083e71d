package service

import (
	"context"
	"time"

	"consentmgr/internal/consent/history"
	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
	"consentmgr/pkg/requestcontext"
)

// now returns the request clock at the precision Postgres stores.
func now(ctx context.Context) time.Time {
	return requestcontext.Now(ctx).UTC().Truncate(time.Microsecond)
}

// lockDetailed takes the consent row lock, then loads the aggregate.
func (s *Service) lockDetailed(ctx context.Context, consentID id.ConsentID) (*models.DetailedConsent, error) {
	if _, err := s.store.LockConsent(ctx, consentID); err != nil {
		return nil, storeErr(err, "consent not found")
	}
	d, err := s.store.GetDetailedConsent(ctx, consentID)
	if err != nil {
		return nil, storeErr(err, "failed to load consent")
	}
	return d, nil
}

// checkTransition rejects mutations of terminal consents and target
// statuses outside the organisation's vocabulary.
func (s *Service) checkTransition(c *models.DetailedConsent, next models.ConsentStatus) error {
	voc := s.vocab.For(c.OrgID)
	if voc.IsTerminal(c.Status) {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "consent is in terminal status %q", c.Status)
	}
	if !voc.Allows(next) {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "status %q is not allowed", next)
	}
	return nil
}

func (s *Service) writeAudit(ctx context.Context, fx *effects, r *models.StatusAuditRecord) error {
	if err := s.store.CreateStatusAudit(ctx, r); err != nil {
		return storeErr(err, "failed to write status audit")
	}
	fx.transitions = append(fx.transitions, transition{
		consentID: r.ConsentID,
		from:      r.PreviousStatus,
		to:        r.Status,
		reason:    r.Reason,
	})
	return nil
}

// commitTransition closes a status-changing unit of work: it reloads the
// aggregate, appends the audit record and persists the history batch keyed
// by the audit record's ID. It returns the post-change snapshot.
func (s *Service) commitTransition(ctx context.Context, fx *effects, before *models.DetailedConsent, status models.ConsentStatus, reason models.Reason, actor id.UserID, at time.Time) (*models.DetailedConsent, error) {
	after, err := s.store.GetDetailedConsent(ctx, before.ID)
	if err != nil {
		return nil, storeErr(err, "failed to reload consent")
	}
	if actor.IsBlank() {
		actor = after.ActionBy()
	}
	audit := &models.StatusAuditRecord{
		ID:             id.NewStatusAuditID(),
		ConsentID:      before.ID,
		Status:         status,
		PreviousStatus: before.Status,
		Reason:         reason,
		ActionBy:       actor,
		ActionTime:     at,
	}
	if err := s.writeAudit(ctx, fx, audit); err != nil {
		return nil, err
	}
	rows, err := history.Persist(ctx, s.store, id.HistoryID(audit.ID), at, reason, history.Compute(before, after))
	if err != nil {
		return nil, storeErr(err, "failed to persist amendment history")
	}
	fx.addHistory(reason, rows)
	return after, nil
}

// newMappings builds one active mapping per (account, permission), accounts
// in lexical order.
func newMappings(authID id.AuthorizationID, accounts models.AccountPermissions) []*models.MappingResource {
	out := make([]*models.MappingResource, 0, accounts.Size())
	for _, account := range accounts.Accounts() {
		for _, perm := range accounts[account] {
			out = append(out, &models.MappingResource{
				ID:              id.NewMappingID(),
				AuthorizationID: authID,
				AccountID:       account,
				Permission:      perm,
				Status:          models.MappingActive,
			})
		}
	}
	return out
}

func (s *Service) createMappings(ctx context.Context, fx *effects, mappings []*models.MappingResource) error {
	if len(mappings) == 0 {
		return nil
	}
	if err := s.store.CreateMappings(ctx, mappings); err != nil {
		return storeErr(err, "failed to create account mappings")
	}
	fx.mappings += len(mappings)
	return nil
}

func (s *Service) setMappingStatus(ctx context.Context, mappingIDs []id.MappingID, status models.MappingStatus) error {
	if len(mappingIDs) == 0 {
		return nil
	}
	if err := s.store.UpdateMappingStatus(ctx, mappingIDs, status); err != nil {
		return storeErr(err, "failed to update account mappings")
	}
	return nil
}

type accountPermission struct {
	account    string
	permission string
}

// rebind makes the active mappings of one authorization equal the requested
// set. Missing pairs are created, inactive pairs are reactivated rather than
// duplicated, and active pairs no longer requested are deactivated.
func (s *Service) rebind(ctx context.Context, fx *effects, authID id.AuthorizationID, accounts models.AccountPermissions) error {
	existing, err := s.store.GetMappings(ctx, authID)
	if err != nil {
		return storeErr(err, "failed to load account mappings")
	}
	byPair := make(map[accountPermission]*models.MappingResource, len(existing))
	for _, m := range existing {
		p := accountPermission{m.AccountID, m.Permission}
		if cur, ok := byPair[p]; !ok || (!cur.IsActive() && m.IsActive()) {
			byPair[p] = m
		}
	}

	wanted := make(map[accountPermission]bool, accounts.Size())
	var created []*models.MappingResource
	var reactivate []id.MappingID
	for _, m := range newMappings(authID, accounts) {
		p := accountPermission{m.AccountID, m.Permission}
		if wanted[p] {
			continue
		}
		wanted[p] = true
		cur, ok := byPair[p]
		switch {
		case !ok:
			created = append(created, m)
		case !cur.IsActive():
			reactivate = append(reactivate, cur.ID)
		}
	}

	var deactivate []id.MappingID
	for _, m := range existing {
		p := accountPermission{m.AccountID, m.Permission}
		if m.IsActive() && (!wanted[p] || byPair[p] != m) {
			deactivate = append(deactivate, m.ID)
		}
	}

	if err := s.setMappingStatus(ctx, deactivate, models.MappingInactive); err != nil {
		return err
	}
	if err := s.setMappingStatus(ctx, reactivate, models.MappingActive); err != nil {
		return err
	}
	return s.createMappings(ctx, fx, created)
}
