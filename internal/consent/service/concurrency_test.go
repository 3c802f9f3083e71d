package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/mock/gomock"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
	"consentmgr/pkg/testutil"
)

func (s *ServiceSuite) TestConcurrentRevokeHasOneWinner() {
	d := s.authorizedConsent()

	res := testutil.RunConcurrent(8, func(int) error {
		_, err := s.service.RevokeConsentWithReason(s.ctx, &models.RevokeRequest{
			ConsentID: d.ID,
			NewStatus: models.StatusRevoked,
		})
		return err
	})

	s.EqualValues(1, res.Successes)
	s.EqualValues(7, res.Conflicts)
	s.Zero(res.Errors)
	s.Len(s.audits(d.ID), 1)
}

func (s *ServiceSuite) TestReadersNeverSeeRolledBackWrites() {
	d := s.authorizedConsent()

	type read struct {
		consent *models.DetailedConsent
		err     error
	}
	observed := make(chan read, 1)
	started := make(chan struct{})

	s.mockRevoker.EXPECT().
		RevokeTokens(gomock.Any(), gomock.Any(), testutil.TestIDs.UserID1).
		DoAndReturn(func(_ context.Context, c *models.DetailedConsent, _ id.UserID) error {
			s.Equal(models.StatusRevoked, c.Status)
			go func() {
				close(started)
				got, err := s.service.GetDetailedConsent(s.ctx, d.ID)
				observed <- read{consent: got, err: err}
			}()
			<-started
			time.Sleep(20 * time.Millisecond)
			return errors.New("token service down")
		})

	_, err := s.service.RevokeConsentWithReason(s.ctx, &models.RevokeRequest{
		ConsentID:    d.ID,
		NewStatus:    models.StatusRevoked,
		RevokeTokens: true,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeCollaborator))

	select {
	case r := <-observed:
		s.Require().NoError(r.err)
		s.Equal(models.StatusAuthorized, r.consent.Status)
		s.Equal(3, activeCount(r.consent.Mappings))
	case <-time.After(2 * time.Second):
		s.Fail("reader did not finish")
	}
}
