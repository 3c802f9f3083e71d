package service

import (
	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
	"consentmgr/pkg/testutil"
)

func (s *ServiceSuite) fileRequest(consentID id.ConsentID) *models.CreateConsentFileRequest {
	return &models.CreateConsentFileRequest{
		ConsentID:        consentID,
		Content:          []byte("%PDF-1.7 signed consent"),
		ApplicableStatus: models.StatusAwaitingAuthorization,
		NewStatus:        models.StatusAuthorized,
		UserID:           testutil.TestIDs.UserID1,
	}
}

func (s *ServiceSuite) TestCreateConsentFile() {
	s.Run("Given a consent in the applicable status When upload Then file stored and consent moved with one audit", func() {
		d := s.seed(testutil.NewConsentBuilder().WithStatus(models.StatusAwaitingAuthorization).Build())

		got, err := s.service.CreateConsentFile(s.ctx, s.fileRequest(d.ID))
		s.Require().NoError(err)
		s.Equal(models.StatusAuthorized, got.Status)

		file, err := s.service.GetConsentFile(s.ctx, d.ID)
		s.Require().NoError(err)
		s.Equal([]byte("%PDF-1.7 signed consent"), file.Content)
		s.Equal(testutil.FixedTime, file.CreatedAt)

		audits := s.audits(d.ID)
		s.Require().Len(audits, 1)
		s.Equal(models.ReasonFileUpload, audits[0].Reason)
		s.Equal(testutil.TestIDs.UserID1, audits[0].ActionBy)
		for _, e := range s.historyOf(d) {
			s.Equal(id.HistoryID(audits[0].ID), e.HistoryID)
		}
	})

	s.Run("Given a consent in another status When upload Then invalid transition and no file", func() {
		d := s.seed(testutil.NewConsentBuilder().WithStatus(models.StatusAuthorized).Build())

		_, err := s.service.CreateConsentFile(s.ctx, s.fileRequest(d.ID))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

		_, err = s.service.GetConsentFile(s.ctx, d.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Empty(s.audits(d.ID))
	})

	s.Run("Given a file already stored When upload again Then conflict and status unchanged", func() {
		d := s.seed(testutil.NewConsentBuilder().WithStatus(models.StatusAwaitingAuthorization).Build())
		req := s.fileRequest(d.ID)
		req.NewStatus = models.StatusAwaitingAuthorization
		_, err := s.service.CreateConsentFile(s.ctx, req)
		s.Require().NoError(err)

		_, err = s.service.CreateConsentFile(s.ctx, s.fileRequest(d.ID))
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal(models.StatusAwaitingAuthorization, s.reload(d.ID).Status)
		s.Len(s.audits(d.ID), 1)
	})

	s.Run("Given an unknown consent or empty content When upload Then not found or validation", func() {
		_, err := s.service.CreateConsentFile(s.ctx, s.fileRequest(id.NewConsentID()))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		req := s.fileRequest(id.NewConsentID())
		req.Content = nil
		_, err = s.service.CreateConsentFile(s.ctx, req)
		s.True(dErrors.IsValidation(err))

		_, err = s.service.GetConsentFile(s.ctx, id.ConsentID{})
		s.True(dErrors.IsValidation(err))
	})
}
