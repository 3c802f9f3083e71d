package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"consentmgr/internal/consent/history"
	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
	fixtures "consentmgr/pkg/testutil"
)

func (s *ServiceSuite) authorizedConsent() *models.DetailedConsent {
	return s.seed(fixtures.NewConsentBuilder().
		WithAuthorization(fixtures.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1", "acc-2").
		WithAuthorization(fixtures.TestIDs.UserID2, models.AuthTypeAuthorization, "read", "acc-3").
		Build())
}

func (s *ServiceSuite) TestRevokeConsentWithReason() {
	s.Run("Given tokens requested When revoke Then mappings deactivated and hook called once with the first user", func() {
		d := s.authorizedConsent()
		s.mockRevoker.EXPECT().
			RevokeTokens(gomock.Any(), gomock.Any(), fixtures.TestIDs.UserID1).
			DoAndReturn(func(_ context.Context, c *models.DetailedConsent, _ id.UserID) error {
				s.Equal(models.StatusRevoked, c.Status)
				s.Zero(activeCount(c.Mappings))
				return nil
			}).
			Times(1)

		got, err := s.service.RevokeConsentWithReason(s.ctx, &models.RevokeRequest{
			ConsentID:    d.ID,
			NewStatus:    models.StatusRevoked,
			UserID:       fixtures.TestIDs.UserID1,
			RevokeTokens: true,
			Reason:       "user asked",
		})
		s.Require().NoError(err)
		s.Equal(models.StatusRevoked, got.Status)
		s.Len(got.Mappings, 3)
		s.Zero(activeCount(got.Mappings))

		audits := s.audits(d.ID)
		s.Require().Len(audits, 1)
		s.Equal(models.Reason("user asked"), audits[0].Reason)
		s.Equal(models.StatusAuthorized, audits[0].PreviousStatus)
		s.Equal(fixtures.TestIDs.UserID1, audits[0].ActionBy)

		// one basic row plus one per deactivated mapping, none empty
		entries := s.historyOf(d)
		s.Len(entries, 4)
		for _, e := range entries {
			var diff history.Diff
			s.Require().NoError(json.Unmarshal(e.ChangedValues, &diff))
			s.False(diff.IsEmpty())
		}
		s.Equal(1.0, testutil.ToFloat64(s.metrics.TokenRevocations.WithLabelValues("success")))
	})

	s.Run("Given no tokens requested When revoke Then the hook is not called", func() {
		d := s.authorizedConsent()
		got, err := s.service.RevokeConsentWithReason(s.ctx, &models.RevokeRequest{
			ConsentID: d.ID,
			NewStatus: models.StatusRevoked,
		})
		s.Require().NoError(err)
		s.Zero(activeCount(got.Mappings))
		s.Equal(models.ReasonRevoke, s.audits(d.ID)[0].Reason, "reason defaults")
	})

	s.Run("Given the target status already set When revoke Then validation error", func() {
		d := s.seed(fixtures.NewConsentBuilder().WithStatus(models.StatusRevoked).Build())
		_, err := s.service.RevokeConsentWithReason(s.ctx, &models.RevokeRequest{
			ConsentID: d.ID,
			NewStatus: models.StatusRevoked,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Empty(s.audits(d.ID))
	})

	s.Run("Given a terminal consent When revoke to another status Then invalid transition", func() {
		d := s.seed(fixtures.NewConsentBuilder().WithStatus(models.StatusExpired).Build())
		_, err := s.service.RevokeConsentWithReason(s.ctx, &models.RevokeRequest{
			ConsentID: d.ID,
			NewStatus: models.StatusRevoked,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("Given a caller other than the first user When revoke with tokens Then user mismatch and nothing written", func() {
		d := s.authorizedConsent()
		_, err := s.service.RevokeConsentWithReason(s.ctx, &models.RevokeRequest{
			ConsentID:    d.ID,
			NewStatus:    models.StatusRevoked,
			UserID:       fixtures.TestIDs.UserID2,
			RevokeTokens: true,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeUserMismatch))
		s.Equal(models.StatusAuthorized, s.reload(d.ID).Status)
	})

	s.Run("Given an unknown consent When revoke Then not found", func() {
		_, err := s.service.RevokeConsentWithReason(s.ctx, &models.RevokeRequest{
			ConsentID: id.NewConsentID(),
			NewStatus: models.StatusRevoked,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestRevokeRollsBackOnFailure() {
	s.Run("Given the history write fails When revoke Then status and mappings are unchanged", func() {
		d := s.authorizedConsent()
		svc := s.newService(&failingStore{InMemoryStore: s.store, failOn: "CreateHistoryEntries"})

		_, err := svc.RevokeConsentWithReason(s.ctx, &models.RevokeRequest{
			ConsentID: d.ID,
			NewStatus: models.StatusRevoked,
		})
		s.Require().ErrorIs(err, errInjected)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))

		after := s.reload(d.ID)
		s.Equal(models.StatusAuthorized, after.Status)
		s.Equal(3, activeCount(after.Mappings))
		s.Empty(s.audits(d.ID))
	})

	s.Run("Given the token hook fails When revoke Then collaborator error and rollback", func() {
		d := s.authorizedConsent()
		s.mockRevoker.EXPECT().
			RevokeTokens(gomock.Any(), gomock.Any(), fixtures.TestIDs.UserID1).
			Return(errors.New("token service down"))

		_, err := s.service.RevokeConsentWithReason(s.ctx, &models.RevokeRequest{
			ConsentID:    d.ID,
			NewStatus:    models.StatusRevoked,
			RevokeTokens: true,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeCollaborator))

		after := s.reload(d.ID)
		s.Equal(models.StatusAuthorized, after.Status)
		s.Equal(3, activeCount(after.Mappings))
		s.Empty(s.audits(d.ID))
		s.Empty(s.historyOf(d))
	})
}

func (s *ServiceSuite) TestRevokeExistingApplicableConsents() {
	s.Run("Given matching consents When bulk revoke Then each is revoked and audited", func() {
		first := s.authorizedConsent()
		second := s.authorizedConsent()
		awaiting := s.seed(fixtures.NewConsentBuilder().
			WithStatus(models.StatusAwaitingAuthorization).
			WithAuthorization(fixtures.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1").
			Build())

		s.mockRevoker.EXPECT().
			RevokeTokens(gomock.Any(), gomock.Any(), fixtures.TestIDs.UserID1).
			Return(nil).
			Times(2)

		n, err := s.service.RevokeExistingApplicableConsents(s.ctx, &models.RevokeApplicableRequest{
			ClientID:         fixtures.TestIDs.ClientID1,
			UserID:           fixtures.TestIDs.UserID1,
			ConsentType:      "accounts",
			ApplicableStatus: models.StatusAuthorized,
			NewStatus:        models.StatusRevoked,
			RevokeTokens:     true,
		})
		s.Require().NoError(err)
		s.Equal(2, n)

		for _, d := range []*models.DetailedConsent{first, second} {
			after := s.reload(d.ID)
			s.Equal(models.StatusRevoked, after.Status)
			s.Zero(activeCount(after.Mappings))
			audits := s.audits(d.ID)
			s.Require().Len(audits, 1)
			s.Equal(models.ReasonRevokeApplicable, audits[0].Reason)
		}
		s.Equal(models.StatusAwaitingAuthorization, s.reload(awaiting.ID).Status)
	})

	s.Run("Given nothing matches When bulk revoke Then zero and no hook call", func() {
		n, err := s.service.RevokeExistingApplicableConsents(s.ctx, &models.RevokeApplicableRequest{
			ClientID:         fixtures.TestIDs.ClientID2,
			UserID:           fixtures.TestIDs.UserID1,
			ConsentType:      "accounts",
			ApplicableStatus: models.StatusAuthorized,
			NewStatus:        models.StatusRevoked,
			RevokeTokens:     true,
		})
		s.Require().NoError(err)
		s.Zero(n)
	})

	s.Run("Given a match in another organisation When bulk revoke Then only the requested organisation is touched", func() {
		other := s.seed(fixtures.NewConsentBuilder().
			WithOrg(fixtures.TestIDs.OrgID2).
			WithAuthorization(fixtures.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-9").
			Build())
		req := func(org id.OrgID) *models.RevokeApplicableRequest {
			return &models.RevokeApplicableRequest{
				OrgID:            org,
				ClientID:         id.ClientID(" " + string(fixtures.TestIDs.ClientID1)),
				UserID:           fixtures.TestIDs.UserID1,
				ConsentType:      "accounts",
				ApplicableStatus: models.StatusAuthorized,
				NewStatus:        models.StatusRevoked,
			}
		}

		n, err := s.service.RevokeExistingApplicableConsents(s.ctx, req(""))
		s.Require().NoError(err)
		s.Zero(n)
		s.Equal(models.StatusAuthorized, s.reload(other.ID).Status)

		n, err = s.service.RevokeExistingApplicableConsents(s.ctx, req(fixtures.TestIDs.OrgID2))
		s.Require().NoError(err)
		s.Equal(1, n)
		s.Equal(models.StatusRevoked, s.reload(other.ID).Status)
	})

	s.Run("Given identical applicable and new statuses When bulk revoke Then validation error", func() {
		_, err := s.service.RevokeExistingApplicableConsents(s.ctx, &models.RevokeApplicableRequest{
			ClientID:         fixtures.TestIDs.ClientID1,
			UserID:           fixtures.TestIDs.UserID1,
			ConsentType:      "accounts",
			ApplicableStatus: models.StatusRevoked,
			NewStatus:        models.StatusRevoked,
		})
		s.True(dErrors.IsValidation(err))
	})
}

func (s *ServiceSuite) TestRevokeExistingApplicableConsentsIsAllOrNothing() {
	first := s.authorizedConsent()
	second := s.authorizedConsent()
	svc := s.newService(&failingStore{InMemoryStore: s.store, failOn: "UpdateMappingStatus"})

	_, err := svc.RevokeExistingApplicableConsents(s.ctx, &models.RevokeApplicableRequest{
		ClientID:         fixtures.TestIDs.ClientID1,
		UserID:           fixtures.TestIDs.UserID1,
		ConsentType:      "accounts",
		ApplicableStatus: models.StatusAuthorized,
		NewStatus:        models.StatusRevoked,
	})
	s.Require().ErrorIs(err, errInjected)
	s.Equal(models.StatusAuthorized, s.reload(first.ID).Status)
	s.Equal(models.StatusAuthorized, s.reload(second.ID).Status)
}
