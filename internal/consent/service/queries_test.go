package service

import (
	"time"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
	"consentmgr/pkg/requestcontext"
	"consentmgr/pkg/testutil"
)

func (s *ServiceSuite) TestQueries() {
	d := s.seed(testutil.NewConsentBuilder().
		WithAttribute("channel", "web").
		WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1").
		Build())
	s.seed(testutil.NewConsentBuilder().WithClient(testutil.TestIDs.ClientID2).Build())

	c, err := s.service.GetConsent(s.ctx, d.ID, false)
	s.Require().NoError(err)
	s.Nil(c.Attributes)
	c, err = s.service.GetConsent(s.ctx, d.ID, true)
	s.Require().NoError(err)
	s.Equal("web", c.Attributes["channel"])

	detailed, err := s.service.GetDetailedConsent(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Len(detailed.Mappings, 1)

	_, err = s.service.GetDetailedConsent(s.ctx, id.NewConsentID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = s.service.GetConsent(s.ctx, id.ConsentID{}, false)
	s.True(dErrors.IsValidation(err))

	found, err := s.service.SearchDetailedConsents(s.ctx, models.ConsentFilter{
		UserIDs:   []id.UserID{testutil.TestIDs.UserID1},
		ForUpdate: true,
	})
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(d.ID, found[0].ID)

	_, err = s.service.SearchDetailedConsents(s.ctx, models.ConsentFilter{Limit: -1})
	s.True(dErrors.IsValidation(err))

	_, err = s.service.RevokeConsentWithReason(s.ctx, &models.RevokeRequest{ConsentID: d.ID, NewStatus: models.StatusRevoked})
	s.Require().NoError(err)
	records, err := s.service.SearchConsentStatusAuditRecords(s.ctx, models.StatusAuditFilter{
		Status:   models.StatusRevoked,
		ActionBy: testutil.TestIDs.UserID1,
	})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(d.ID, records[0].ConsentID)
}

func (s *ServiceSuite) TestGetConsentStatusAuditRecords() {
	var ids []id.ConsentID
	for i := range 3 {
		d := s.seed(testutil.NewConsentBuilder().WithStatus(models.StatusAwaitingAuthorization).Build())
		ctx := requestcontext.WithTime(s.ctx, testutil.FixedTime.Add(time.Duration(i)*time.Minute))
		_, err := s.service.UpdateConsentStatus(ctx, &models.UpdateStatusRequest{ConsentID: d.ID, Status: models.StatusAuthorized})
		s.Require().NoError(err)
		ids = append(ids, d.ID)
	}

	s.Run("Given two of three consents When paging their audits Then only theirs in action time order", func() {
		page, err := s.service.GetConsentStatusAuditRecords(s.ctx, []id.ConsentID{ids[2], ids[0]}, 1, 0)
		s.Require().NoError(err)
		s.Require().Len(page, 1)
		s.Equal(ids[0], page[0].ConsentID)

		page, err = s.service.GetConsentStatusAuditRecords(s.ctx, []id.ConsentID{ids[2], ids[0]}, 1, 1)
		s.Require().NoError(err)
		s.Require().Len(page, 1)
		s.Equal(ids[2], page[0].ConsentID)

		page, err = s.service.GetConsentStatusAuditRecords(s.ctx, []id.ConsentID{ids[2], ids[0]}, 10, 2)
		s.Require().NoError(err)
		s.Empty(page)
	})

	s.Run("Given no consent IDs or a negative offset When paging Then validation error", func() {
		_, err := s.service.GetConsentStatusAuditRecords(s.ctx, nil, 10, 0)
		s.True(dErrors.IsValidation(err))
		_, err = s.service.GetConsentStatusAuditRecords(s.ctx, ids, 10, -1)
		s.True(dErrors.IsValidation(err))
		_, err = s.service.GetConsentStatusAuditRecords(s.ctx, []id.ConsentID{{}}, 10, 0)
		s.True(dErrors.IsValidation(err))
	})
}

func (s *ServiceSuite) TestStoreConsentAmendmentHistory() {
	s.Run("Given an unchanged snapshot When store history Then nothing is written", func() {
		d := s.authorizedConsent()
		n, err := s.service.StoreConsentAmendmentHistory(s.ctx, &models.StoreHistoryRequest{
			ConsentID: d.ID,
			Reason:    models.ReasonAmend,
			Previous:  s.reload(d.ID),
		})
		s.Require().NoError(err)
		s.Zero(n)
		s.Empty(s.historyOf(d))
	})

	s.Run("Given an earlier snapshot When store history Then one batch is written under the given id", func() {
		d := s.authorizedConsent()
		previous := s.reload(d.ID)
		previous.Status = models.StatusAwaitingAuthorization
		batch := id.NewHistoryID()

		n, err := s.service.StoreConsentAmendmentHistory(s.ctx, &models.StoreHistoryRequest{
			ConsentID: d.ID,
			HistoryID: batch,
			Reason:    "import",
			Previous:  previous,
		})
		s.Require().NoError(err)
		s.Equal(1, n)

		got, err := s.service.GetConsentAmendmentHistory(s.ctx, d.ID)
		s.Require().NoError(err)
		s.Require().Contains(got, batch)
		s.Equal(models.StatusAwaitingAuthorization, got[batch].Consent.Status)
	})

	s.Run("Given a snapshot of another consent When store history Then validation error", func() {
		d := s.authorizedConsent()
		_, err := s.service.StoreConsentAmendmentHistory(s.ctx, &models.StoreHistoryRequest{
			ConsentID: id.NewConsentID(),
			Reason:    models.ReasonAmend,
			Previous:  d,
		})
		s.True(dErrors.IsValidation(err))
	})
}

func (s *ServiceSuite) TestGetConsentAmendmentHistoryReplaysLifecycle() {
	d, authID := s.awaiting()
	at := func(minutes int) {
		s.ctx = requestcontext.WithTime(s.ctx, testutil.FixedTime.Add(time.Duration(minutes)*time.Minute))
	}

	at(1)
	bound, err := s.service.BindUserAccountsToConsent(s.ctx, &models.BindAccountsRequest{
		ConsentID:        d.ID,
		AuthorizationID:  authID,
		UserID:           testutil.TestIDs.UserID1,
		Accounts:         models.AccountPermissions{"acc-1": {"read"}},
		NewAuthStatus:    models.AuthStatusAuthorized,
		NewConsentStatus: models.StatusAuthorized,
	})
	s.Require().NoError(err)

	at(2)
	validity := int64(86400)
	amended, err := s.service.AmendDetailedConsent(s.ctx, &models.AmendRequest{
		ConsentID:       d.ID,
		ValidityPeriod:  &validity,
		AuthorizationID: authID,
		Accounts:        models.AccountPermissions{"acc-2": {"read"}},
		Attributes:      models.Attributes{"ref": "r-1"},
	})
	s.Require().NoError(err)

	at(3)
	_, err = s.service.RevokeConsentWithReason(s.ctx, &models.RevokeRequest{ConsentID: d.ID, NewStatus: models.StatusRevoked})
	s.Require().NoError(err)

	audits := s.audits(d.ID)
	s.Require().Len(audits, 3)
	batches := map[models.Reason]id.HistoryID{}
	for _, a := range audits {
		batches[a.Reason] = id.HistoryID(a.ID)
	}

	got, err := s.service.GetConsentAmendmentHistory(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Require().Len(got, 3)

	beforeRevoke := got[batches[models.ReasonRevoke]].Consent
	s.Equal(amended.Status, beforeRevoke.Status)
	s.Equal(amended.ValidityPeriod, beforeRevoke.ValidityPeriod)
	s.Equal(amended.Attributes, beforeRevoke.Attributes)
	s.Equal(1, activeCount(beforeRevoke.Mappings))

	beforeAmend := got[batches[models.ReasonAmend]].Consent
	s.Equal(bound.ValidityPeriod, beforeAmend.ValidityPeriod)
	s.Empty(beforeAmend.Attributes)
	s.Require().Len(beforeAmend.Mappings, 1)
	s.Equal("acc-1", beforeAmend.Mappings[0].AccountID)
	s.True(beforeAmend.Mappings[0].IsActive())

	beforeBind := got[batches[models.ReasonBind]].Consent
	s.Equal(models.StatusAwaitingAuthorization, beforeBind.Status)
	s.Empty(beforeBind.Mappings)
	s.Require().Len(beforeBind.Authorizations, 1)
	s.True(beforeBind.Authorizations[0].UserID.IsBlank())
	s.Equal(models.AuthStatusCreated, beforeBind.Authorizations[0].Status)
	s.Equal(testutil.FixedTime, beforeBind.UpdatedAt)
}
