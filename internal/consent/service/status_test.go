package service

import (
	"time"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
	"consentmgr/pkg/requestcontext"
	"consentmgr/pkg/testutil"
)

func (s *ServiceSuite) TestUpdateConsentStatus() {
	s.Run("Given a non-terminal target When update Then status changes and mappings stay active", func() {
		d := s.seed(testutil.NewConsentBuilder().
			WithStatus(models.StatusAwaitingAuthorization).
			WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1").
			Build())

		got, err := s.service.UpdateConsentStatus(s.ctx, &models.UpdateStatusRequest{
			ConsentID: d.ID,
			Status:    models.StatusAuthorized,
			UserID:    testutil.TestIDs.UserID2,
		})
		s.Require().NoError(err)
		s.Equal(models.StatusAuthorized, got.Status)
		s.Equal(1, activeCount(got.Mappings))

		audits := s.audits(d.ID)
		s.Require().Len(audits, 1)
		s.Equal(models.ReasonStatusUpdate, audits[0].Reason)
		s.Equal(testutil.TestIDs.UserID2, audits[0].ActionBy, "explicit actor wins")
	})

	s.Run("Given a terminal target When update Then mappings are deactivated", func() {
		d := s.authorizedConsent()
		got, err := s.service.UpdateConsentStatus(s.ctx, &models.UpdateStatusRequest{
			ConsentID: d.ID,
			Status:    models.StatusRejected,
			Reason:    "fraud check",
		})
		s.Require().NoError(err)
		s.Zero(activeCount(got.Mappings))
		s.Equal(models.Reason("fraud check"), s.audits(d.ID)[0].Reason)
	})

	s.Run("Given an unknown status When update Then invalid transition", func() {
		d := s.authorizedConsent()
		_, err := s.service.UpdateConsentStatus(s.ctx, &models.UpdateStatusRequest{ConsentID: d.ID, Status: "Paused"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("Given the current status When update Then validation error", func() {
		d := s.authorizedConsent()
		_, err := s.service.UpdateConsentStatus(s.ctx, &models.UpdateStatusRequest{ConsentID: d.ID, Status: models.StatusAuthorized})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestExpireConsents() {
	expiring := s.seed(testutil.NewConsentBuilder().
		WithValidity(60).
		WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1").
		Build())
	awaiting := s.seed(testutil.NewConsentBuilder().
		WithStatus(models.StatusAwaitingAuthorization).
		WithValidity(120).
		Build())
	notYet := s.seed(testutil.NewConsentBuilder().WithValidity(7200).Build())
	forever := s.seed(testutil.NewConsentBuilder().Build())
	revoked := s.seed(testutil.NewConsentBuilder().WithStatus(models.StatusRevoked).WithValidity(60).Build())

	asOf := testutil.FixedTime.Add(time.Hour)
	n, err := s.service.ExpireConsents(s.ctx, asOf, 0)
	s.Require().NoError(err)
	s.Equal(2, n)

	got := s.reload(expiring.ID)
	s.Equal(models.StatusExpired, got.Status)
	s.Zero(activeCount(got.Mappings))
	audits := s.audits(expiring.ID)
	s.Require().Len(audits, 1)
	s.Equal(models.ReasonExpire, audits[0].Reason)
	s.Equal(systemActor, audits[0].ActionBy)
	s.Equal(asOf, audits[0].ActionTime)
	s.NotEmpty(s.historyOf(expiring))

	s.Equal(models.StatusExpired, s.reload(awaiting.ID).Status)
	s.Equal(models.StatusAuthorized, s.reload(notYet.ID).Status)
	s.Equal(models.StatusAuthorized, s.reload(forever.ID).Status)
	s.Equal(models.StatusRevoked, s.reload(revoked.ID).Status)

	n, err = s.service.ExpireConsents(s.ctx, asOf, 0)
	s.Require().NoError(err)
	s.Zero(n, "a second sweep finds nothing")
}

func (s *ServiceSuite) TestExpireConsentsHonoursLimitAndCollectsFailures() {
	for i := 0; i < 3; i++ {
		s.seed(testutil.NewConsentBuilder().
			CreatedAt(testutil.FixedTime.Add(time.Duration(i) * time.Second)).
			WithValidity(60).
			Build())
	}
	asOf := testutil.FixedTime.Add(time.Hour)

	n, err := s.service.ExpireConsents(s.ctx, asOf, 2)
	s.Require().NoError(err)
	s.Equal(2, n)

	svc := s.newService(&failingStore{InMemoryStore: s.store, failOn: "CreateStatusAudit"})
	n, err = svc.ExpireConsents(s.ctx, asOf, 0)
	s.Zero(n)
	s.ErrorIs(err, errInjected)
}

func (s *ServiceSuite) TestHistoryReplaysInWriteOrderWhenExpiryIsBackdated() {
	d := s.seed(testutil.NewConsentBuilder().
		WithValidity(60).
		WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1").
		Build())
	original := s.reload(d.ID).Receipt

	amendCtx := requestcontext.WithTime(s.ctx, testutil.FixedTime.Add(10*time.Minute))
	receipt := models.Receipt{Data: []byte(`{"scope":"v2"}`), SchemaVersion: "v2"}
	_, err := s.service.AmendConsentData(amendCtx, &models.AmendRequest{ConsentID: d.ID, Receipt: &receipt})
	s.Require().NoError(err)

	n, err := s.service.ExpireConsents(s.ctx, testutil.FixedTime.Add(5*time.Minute), 0)
	s.Require().NoError(err)
	s.Equal(1, n)

	batches := map[models.Reason]id.HistoryID{}
	for _, a := range s.audits(d.ID) {
		batches[a.Reason] = id.HistoryID(a.ID)
	}
	got, err := s.service.GetConsentAmendmentHistory(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Require().Len(got, 2)

	beforeExpire := got[batches[models.ReasonExpire]].Consent
	s.Equal(models.StatusAuthorized, beforeExpire.Status)
	s.True(receipt.Equal(beforeExpire.Receipt))
	s.Equal(1, activeCount(beforeExpire.Mappings))

	beforeAmend := got[batches[models.ReasonAmend]].Consent
	s.Equal(models.StatusAuthorized, beforeAmend.Status)
	s.True(original.Equal(beforeAmend.Receipt))
}
