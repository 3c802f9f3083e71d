package service

import (
	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
	"consentmgr/pkg/testutil"
)

func (s *ServiceSuite) TestAuthorizationResources() {
	d := s.seed(testutil.NewConsentBuilder().WithStatus(models.StatusAwaitingAuthorization).Build())

	s.Run("Given a consent When create authorization Then it can be read back and searched", func() {
		auth, err := s.service.CreateConsentAuthorization(s.ctx, &models.CreateAuthorizationRequest{
			ConsentID: d.ID,
			UserID:    testutil.TestIDs.UserID1,
			Status:    models.AuthStatusCreated,
			Type:      models.AuthTypePrimary,
		})
		s.Require().NoError(err)

		got, err := s.service.GetAuthorizationResource(s.ctx, auth.ID)
		s.Require().NoError(err)
		s.Equal(d.ID, got.ConsentID)

		byUser, err := s.service.SearchAuthorizations(s.ctx, id.ConsentID{}, testutil.TestIDs.UserID1)
		s.Require().NoError(err)
		s.Len(byUser, 1)

		s.Require().NoError(s.service.UpdateAuthorizationStatus(s.ctx, auth.ID, models.AuthStatusAuthorized))
		s.Require().NoError(s.service.UpdateAuthorizationUser(s.ctx, auth.ID, testutil.TestIDs.UserID2))
		got, err = s.service.GetAuthorizationResource(s.ctx, auth.ID)
		s.Require().NoError(err)
		s.Equal(models.AuthStatusAuthorized, got.Status)
		s.Equal(testutil.TestIDs.UserID2, got.UserID)

		s.Empty(s.audits(d.ID), "resource operations are not status transitions")
	})

	s.Run("Given bad input When using authorization resources Then validation or not found", func() {
		_, err := s.service.CreateConsentAuthorization(s.ctx, &models.CreateAuthorizationRequest{
			ConsentID: id.NewConsentID(),
			Status:    models.AuthStatusCreated,
			Type:      models.AuthTypePrimary,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		_, err = s.service.SearchAuthorizations(s.ctx, id.ConsentID{}, "")
		s.True(dErrors.IsValidation(err))

		err = s.service.UpdateAuthorizationStatus(s.ctx, id.NewAuthorizationID(), "Bogus")
		s.True(dErrors.IsValidation(err))

		err = s.service.UpdateAuthorizationStatus(s.ctx, id.NewAuthorizationID(), models.AuthStatusRevoked)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestAccountMappings() {
	d := s.seed(testutil.NewConsentBuilder().
		WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read").
		Build())
	authID := d.Authorizations[0].ID

	mappings, err := s.service.CreateConsentAccountMappings(s.ctx, authID, models.AccountPermissions{
		"acc-2": {"read"},
		"acc-1": {"read", "write"},
	})
	s.Require().NoError(err)
	s.Require().Len(mappings, 3)
	s.Equal("acc-1", mappings[0].AccountID)

	ids := []id.MappingID{mappings[0].ID, mappings[1].ID}
	s.Require().NoError(s.service.DeactivateAccountMappings(s.ctx, ids))
	s.Equal(1, activeCount(s.reload(d.ID).Mappings))

	err = s.service.UpdateAccountMappingStatus(s.ctx, []id.MappingID{mappings[0].ID, id.NewMappingID()}, models.MappingActive)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Equal(1, activeCount(s.reload(d.ID).Mappings), "no partial update")

	s.Require().NoError(s.service.UpdateAccountMappingStatus(s.ctx, ids, models.MappingActive))
	s.Equal(3, activeCount(s.reload(d.ID).Mappings))

	_, err = s.service.CreateConsentAccountMappings(s.ctx, id.NewAuthorizationID(), models.AccountPermissions{"acc": {"read"}})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.True(dErrors.IsValidation(s.service.DeactivateAccountMappings(s.ctx, nil)))
}

func (s *ServiceSuite) TestUpdateAuthorizationResources() {
	d := s.seed(testutil.NewConsentBuilder().
		WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1").
		WithAuthorization("", models.AuthTypeAuthorization, "read", "acc-2").
		Build())
	first, second := d.Authorizations[0].ID, d.Authorizations[1].ID

	s.Run("Given two updates When bulk update Then both applied and blank fields kept", func() {
		err := s.service.UpdateAuthorizationResources(s.ctx, []models.AuthorizationUpdate{
			{AuthorizationID: first, Status: models.AuthStatusRevoked},
			{AuthorizationID: second, Status: models.AuthStatusAuthorized, UserID: testutil.TestIDs.UserID2},
		})
		s.Require().NoError(err)

		after := s.reload(d.ID)
		a1, _ := after.Authorization(first)
		a2, _ := after.Authorization(second)
		s.Equal(models.AuthStatusRevoked, a1.Status)
		s.Equal(testutil.TestIDs.UserID1, a1.UserID)
		s.Equal(models.AuthStatusAuthorized, a2.Status)
		s.Equal(testutil.TestIDs.UserID2, a2.UserID)
	})

	s.Run("Given an unknown authorization When bulk update Then not found and earlier updates rolled back", func() {
		err := s.service.UpdateAuthorizationResources(s.ctx, []models.AuthorizationUpdate{
			{AuthorizationID: first, Status: models.AuthStatusAuthorized},
			{AuthorizationID: id.NewAuthorizationID(), Status: models.AuthStatusAuthorized},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		a1, _ := s.reload(d.ID).Authorization(first)
		s.Equal(models.AuthStatusRevoked, a1.Status)
	})

	s.Run("Given an empty or blank update When bulk update Then validation error", func() {
		s.True(dErrors.IsValidation(s.service.UpdateAuthorizationResources(s.ctx, nil)))
		s.True(dErrors.IsValidation(s.service.UpdateAuthorizationResources(s.ctx, []models.AuthorizationUpdate{{AuthorizationID: first}})))
	})
}

func (s *ServiceSuite) TestUpdateConsentMappingResources() {
	d := s.seed(testutil.NewConsentBuilder().
		WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1", "acc-2").
		WithAuthorization(testutil.TestIDs.UserID2, models.AuthTypeAuthorization, "read", "acc-3").
		Build())
	authID, otherAuth := d.Authorizations[0].ID, d.Authorizations[1].ID
	mine := d.MappingsFor(authID)
	s.Require().Len(mine, 2)

	s.Run("Given status and permission updates When bulk update Then mappings changed", func() {
		err := s.service.UpdateConsentMappingResources(s.ctx, []models.MappingUpdate{
			{MappingID: mine[0].ID, AuthorizationID: authID, Status: models.MappingInactive},
			{MappingID: mine[1].ID, AuthorizationID: authID, Permission: " write "},
		})
		s.Require().NoError(err)

		after := s.reload(d.ID).MappingsFor(authID)
		s.Require().Len(after, 2)
		for _, m := range after {
			switch m.ID {
			case mine[0].ID:
				s.False(m.IsActive())
				s.Equal("read", m.Permission)
			case mine[1].ID:
				s.True(m.IsActive())
				s.Equal("write", m.Permission)
			}
		}
	})

	s.Run("Given a mapping of another authorization When bulk update Then not found and nothing changes", func() {
		err := s.service.UpdateConsentMappingResources(s.ctx, []models.MappingUpdate{
			{MappingID: mine[0].ID, AuthorizationID: authID, Status: models.MappingActive},
			{MappingID: mine[1].ID, AuthorizationID: otherAuth, Permission: "admin"},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		for _, m := range s.reload(d.ID).MappingsFor(authID) {
			if m.ID == mine[0].ID {
				s.False(m.IsActive(), "status update rolled back")
			}
			s.NotEqual("admin", m.Permission)
		}
	})

	s.Run("Given an update with nothing to change When bulk update Then validation error", func() {
		err := s.service.UpdateConsentMappingResources(s.ctx, []models.MappingUpdate{
			{MappingID: mine[0].ID, AuthorizationID: authID},
		})
		s.True(dErrors.IsValidation(err))
	})
}

func (s *ServiceSuite) TestConsentAttributes() {
	d := s.seed(testutil.NewConsentBuilder().WithAttribute("channel", "web").Build())
	other := s.seed(testutil.NewConsentBuilder().WithAttribute("channel", "mobile").Build())

	s.Require().NoError(s.service.StoreConsentAttributes(s.ctx, d.ID, models.Attributes{"ref": "r-1"}))
	err := s.service.StoreConsentAttributes(s.ctx, d.ID, models.Attributes{"ref": "r-2"})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	attrs, err := s.service.GetConsentAttributes(s.ctx, d.ID, nil)
	s.Require().NoError(err)
	s.Equal(models.Attributes{"channel": "web", "ref": "r-1"}, attrs)

	attrs, err = s.service.GetConsentAttributes(s.ctx, d.ID, []string{"ref"})
	s.Require().NoError(err)
	s.Equal(models.Attributes{"ref": "r-1"}, attrs)

	byName, err := s.service.GetConsentAttributesByName(s.ctx, "channel")
	s.Require().NoError(err)
	s.Equal(map[id.ConsentID]string{d.ID: "web", other.ID: "mobile"}, byName)

	ids, err := s.service.GetConsentIDsByAttribute(s.ctx, "channel", "mobile")
	s.Require().NoError(err)
	s.Equal([]id.ConsentID{other.ID}, ids)

	s.Require().NoError(s.service.UpdateConsentAttributes(s.ctx, d.ID, models.Attributes{"ref": "r-2", "new": "x"}))
	attrs, err = s.service.GetConsentAttributes(s.ctx, d.ID, nil)
	s.Require().NoError(err)
	s.Equal(models.Attributes{"channel": "web", "ref": "r-2", "new": "x"}, attrs)

	s.Require().NoError(s.service.DeleteConsentAttributes(s.ctx, d.ID, []string{"new", "ref"}))
	attrs, err = s.service.GetConsentAttributes(s.ctx, d.ID, nil)
	s.Require().NoError(err)
	s.Equal(models.Attributes{"channel": "web"}, attrs)

	_, err = s.service.GetConsentAttributes(s.ctx, id.NewConsentID(), nil)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.True(dErrors.IsValidation(s.service.StoreConsentAttributes(s.ctx, d.ID, models.Attributes{" ": "v"})))
}
