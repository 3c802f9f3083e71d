package service

import (
	"consentmgr/internal/consent/history"
	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
	"consentmgr/pkg/testutil"
)

// awaiting seeds a consent awaiting authorization with one unassigned
// authorization resource.
func (s *ServiceSuite) awaiting() (*models.DetailedConsent, id.AuthorizationID) {
	d := testutil.NewConsentBuilder().WithStatus(models.StatusAwaitingAuthorization).Build()
	auth := &models.AuthorizationResource{
		ID:        id.NewAuthorizationID(),
		ConsentID: d.ID,
		Type:      models.AuthTypePrimary,
		Status:    models.AuthStatusCreated,
		UpdatedAt: d.CreatedAt,
	}
	d.Authorizations = append(d.Authorizations, auth)
	return s.seed(d), auth.ID
}

func (s *ServiceSuite) TestBindUserAccountsToConsent() {
	s.Run("Given two accounts with three permissions When bind Then three active mappings on the auth", func() {
		d, authID := s.awaiting()
		got, err := s.service.BindUserAccountsToConsent(s.ctx, &models.BindAccountsRequest{
			ConsentID:        d.ID,
			AuthorizationID:  authID,
			UserID:           testutil.TestIDs.UserID1,
			Accounts:         models.AccountPermissions{"A1": {"read"}, "A2": {"read", "write"}},
			NewAuthStatus:    models.AuthStatusAuthorized,
			NewConsentStatus: models.StatusAuthorized,
		})
		s.Require().NoError(err)

		s.Equal(models.StatusAuthorized, got.Status)
		mappings := got.MappingsFor(authID)
		s.Require().Len(mappings, 3)
		s.Equal(3, activeCount(mappings))
		for _, m := range mappings {
			s.Equal(authID, m.AuthorizationID)
		}

		auth, ok := got.Authorization(authID)
		s.Require().True(ok)
		s.Equal(testutil.TestIDs.UserID1, auth.UserID)
		s.Equal(models.AuthStatusAuthorized, auth.Status)

		audits := s.audits(d.ID)
		s.Require().Len(audits, 1)
		s.Equal(models.ReasonBind, audits[0].Reason)
		s.Equal(models.StatusAwaitingAuthorization, audits[0].PreviousStatus)

		entries := s.historyOf(d)
		s.NotEmpty(entries)
		for _, e := range entries {
			s.Equal(id.HistoryID(audits[0].ID), e.HistoryID, "history batch is the audit record")
		}
	})

	s.Run("Given an authorization of another consent When bind Then not found", func() {
		d, _ := s.awaiting()
		_, otherAuth := s.awaiting()
		_, err := s.service.BindUserAccountsToConsent(s.ctx, &models.BindAccountsRequest{
			ConsentID:        d.ID,
			AuthorizationID:  otherAuth,
			UserID:           testutil.TestIDs.UserID1,
			Accounts:         models.AccountPermissions{"A1": {"read"}},
			NewAuthStatus:    models.AuthStatusAuthorized,
			NewConsentStatus: models.StatusAuthorized,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Empty(s.audits(d.ID))
	})

	s.Run("Given a blank permission When bind Then validation error", func() {
		d, authID := s.awaiting()
		_, err := s.service.BindUserAccountsToConsent(s.ctx, &models.BindAccountsRequest{
			ConsentID:        d.ID,
			AuthorizationID:  authID,
			UserID:           testutil.TestIDs.UserID1,
			Accounts:         models.AccountPermissions{"A1": {"read", " "}},
			NewAuthStatus:    models.AuthStatusAuthorized,
			NewConsentStatus: models.StatusAuthorized,
		})
		s.True(dErrors.IsValidation(err))
	})
}

func (s *ServiceSuite) TestBindUserAccountsFailsTogether() {
	d, authID := s.awaiting()
	svc := s.newService(&failingStore{InMemoryStore: s.store, failOn: "CreateMappings"})

	_, err := svc.BindUserAccountsToConsent(s.ctx, &models.BindAccountsRequest{
		ConsentID:        d.ID,
		AuthorizationID:  authID,
		UserID:           testutil.TestIDs.UserID1,
		Accounts:         models.AccountPermissions{"A1": {"read"}, "A2": {"read"}},
		NewAuthStatus:    models.AuthStatusAuthorized,
		NewConsentStatus: models.StatusAuthorized,
	})
	s.Require().ErrorIs(err, errInjected)

	after := s.reload(d.ID)
	s.Equal(models.StatusAwaitingAuthorization, after.Status)
	s.Empty(after.Mappings)
	s.True(after.Authorizations[0].UserID.IsBlank(), "user assignment rolled back")
}

func (s *ServiceSuite) TestReAuthorizeExistingAuthResource() {
	s.Run("Given changed accounts When reauthorize Then added pairs created and removed pairs deactivated", func() {
		d := s.seed(testutil.NewConsentBuilder().
			WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1", "acc-2").
			Build())
		authID := d.Authorizations[0].ID

		got, err := s.service.ReAuthorizeExistingAuthResource(s.ctx, &models.ReauthorizeExistingRequest{
			ConsentID:       d.ID,
			AuthorizationID: authID,
			UserID:          testutil.TestIDs.UserID1,
			Accounts:        models.AccountPermissions{"acc-2": {"read"}, "acc-3": {"read"}},
			CurrentStatus:   models.StatusAuthorized,
			NewStatus:       models.StatusAuthorized,
		})
		s.Require().NoError(err)

		state := map[string]models.MappingStatus{}
		for _, m := range got.MappingsFor(authID) {
			state[m.AccountID] = m.Status
		}
		s.Equal(map[string]models.MappingStatus{
			"acc-1": models.MappingInactive,
			"acc-2": models.MappingActive,
			"acc-3": models.MappingActive,
		}, state)

		audits := s.audits(d.ID)
		s.Require().Len(audits, 1)
		s.Equal(models.ReasonReauthorize, audits[0].Reason)
	})

	s.Run("Given a previously removed account When reauthorize Then the mapping is reactivated not duplicated", func() {
		d := testutil.NewConsentBuilder().
			WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1").
			Build()
		d.Mappings[0].Status = models.MappingInactive
		s.seed(d)
		authID := d.Authorizations[0].ID

		got, err := s.service.ReAuthorizeExistingAuthResource(s.ctx, &models.ReauthorizeExistingRequest{
			ConsentID:       d.ID,
			AuthorizationID: authID,
			UserID:          testutil.TestIDs.UserID1,
			Accounts:        models.AccountPermissions{"acc-1": {"read"}},
			CurrentStatus:   models.StatusAuthorized,
			NewStatus:       models.StatusAuthorized,
		})
		s.Require().NoError(err)
		s.Require().Len(got.Mappings, 1)
		s.Equal(d.Mappings[0].ID, got.Mappings[0].ID)
		s.True(got.Mappings[0].IsActive())
	})

	s.Run("Given another user's authorization When reauthorize Then user mismatch", func() {
		d := s.seed(testutil.NewConsentBuilder().
			WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1").
			Build())
		_, err := s.service.ReAuthorizeExistingAuthResource(s.ctx, &models.ReauthorizeExistingRequest{
			ConsentID:       d.ID,
			AuthorizationID: d.Authorizations[0].ID,
			UserID:          testutil.TestIDs.UserID2,
			Accounts:        models.AccountPermissions{"acc-1": {"read"}},
			CurrentStatus:   models.StatusAuthorized,
			NewStatus:       models.StatusAuthorized,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeUserMismatch))
	})

	s.Run("Given a stale current status When reauthorize Then validation error", func() {
		d := s.seed(testutil.NewConsentBuilder().
			WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1").
			Build())
		_, err := s.service.ReAuthorizeExistingAuthResource(s.ctx, &models.ReauthorizeExistingRequest{
			ConsentID:       d.ID,
			AuthorizationID: d.Authorizations[0].ID,
			UserID:          testutil.TestIDs.UserID1,
			Accounts:        models.AccountPermissions{"acc-1": {"read"}},
			CurrentStatus:   models.StatusAwaitingAuthorization,
			NewStatus:       models.StatusAuthorized,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestReAuthorizeConsentWithNewAuthResource() {
	d := s.seed(testutil.NewConsentBuilder().
		WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1", "acc-2").
		WithAuthorization(testutil.TestIDs.UserID2, models.AuthTypeAuthorization, "read", "acc-9").
		Build())
	oldAuth := d.Authorizations[0].ID

	got, err := s.service.ReAuthorizeConsentWithNewAuthResource(s.ctx, &models.ReauthorizeWithNewAuthRequest{
		ConsentID:          d.ID,
		UserID:             testutil.TestIDs.UserID1,
		Accounts:           models.AccountPermissions{"acc-3": {"read", "write"}},
		CurrentStatus:      models.StatusAuthorized,
		NewStatus:          models.StatusAuthorized,
		ExistingAuthStatus: models.AuthStatusRevoked,
		NewAuthStatus:      models.AuthStatusAuthorized,
		NewAuthType:        models.AuthTypeReauthorization,
	})
	s.Require().NoError(err)
	s.Require().Len(got.Authorizations, 3)

	old, _ := got.Authorization(oldAuth)
	s.Equal(models.AuthStatusRevoked, old.Status, "status applied verbatim")
	s.Zero(activeCount(got.MappingsFor(oldAuth)))

	other, _ := got.Authorization(d.Authorizations[1].ID)
	s.Equal(models.AuthStatusAuthorized, other.Status, "other users untouched")
	s.Equal(1, activeCount(got.MappingsFor(other.ID)))

	var fresh *models.AuthorizationResource
	for _, a := range got.Authorizations {
		if a.Type == models.AuthTypeReauthorization {
			fresh = a
		}
	}
	s.Require().NotNil(fresh)
	s.Equal(testutil.TestIDs.UserID1, fresh.UserID)
	s.Equal(2, activeCount(got.MappingsFor(fresh.ID)))

	// the batch covers the retired auth, its mappings and the new records
	var created int
	for _, e := range s.historyOf(d) {
		if e.DataType == models.HistoryMapping || e.DataType == models.HistoryAuthorization {
			created++
		}
	}
	s.Equal(1+2+1+2, created)
	s.NotEmpty(history.Compute(d, got))
}

func (s *ServiceSuite) TestUpdateConsentAndCreateAuthResources() {
	s.Run("Given an existing and a new grant When update and authorize Then both resources bound and one audit by the primary user", func() {
		d, authID := s.awaiting()
		validity := int64(3600)

		got, err := s.service.UpdateConsentAndCreateAuthResources(s.ctx, &models.UpdateAndAuthorizeRequest{
			ConsentID:      d.ID,
			PrimaryUserID:  testutil.TestIDs.UserID1,
			NewStatus:      models.StatusAuthorized,
			Receipt:        &models.Receipt{Data: []byte(`{"scope":"accounts"}`)},
			ValidityPeriod: &validity,
			Attributes:     models.Attributes{"channel": "mobile"},
			Grants: []models.AuthorizationGrant{
				{
					AuthorizationID: authID,
					UserID:          testutil.TestIDs.UserID1,
					Status:          models.AuthStatusAuthorized,
					Accounts:        models.AccountPermissions{"A1": {"read"}},
				},
				{
					UserID:   testutil.TestIDs.UserID2,
					Type:     models.AuthTypeAuthorization,
					Status:   models.AuthStatusAuthorized,
					Accounts: models.AccountPermissions{"A2": {"read", "write"}},
				},
			},
		})
		s.Require().NoError(err)

		s.Equal(models.StatusAuthorized, got.Status)
		s.Equal(`{"scope":"accounts"}`, string(got.Receipt.Data))
		s.Equal(validity, got.ValidityPeriod)
		s.Equal("mobile", got.Attributes["channel"])
		s.Require().Len(got.Authorizations, 2)

		existing, ok := got.Authorization(authID)
		s.Require().True(ok)
		s.Equal(testutil.TestIDs.UserID1, existing.UserID)
		s.Equal(models.AuthStatusAuthorized, existing.Status)
		s.Len(got.MappingsFor(authID), 1)

		for _, a := range got.Authorizations {
			if a.ID != authID {
				s.Equal(testutil.TestIDs.UserID2, a.UserID)
				s.Len(got.MappingsFor(a.ID), 2)
			}
		}

		audits := s.audits(d.ID)
		s.Require().Len(audits, 1)
		s.Equal(models.ReasonBind, audits[0].Reason)
		s.Equal(testutil.TestIDs.UserID1, audits[0].ActionBy)
	})

	s.Run("Given a grant for another consent's authorization When update and authorize Then not found and nothing changes", func() {
		d, _ := s.awaiting()
		_, otherAuth := s.awaiting()

		_, err := s.service.UpdateConsentAndCreateAuthResources(s.ctx, &models.UpdateAndAuthorizeRequest{
			ConsentID:     d.ID,
			PrimaryUserID: testutil.TestIDs.UserID1,
			NewStatus:     models.StatusAuthorized,
			Grants: []models.AuthorizationGrant{
				{UserID: testutil.TestIDs.UserID1, Type: models.AuthTypeAuthorization, Status: models.AuthStatusAuthorized},
				{AuthorizationID: otherAuth, Status: models.AuthStatusAuthorized},
			},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		after := s.reload(d.ID)
		s.Equal(models.StatusAwaitingAuthorization, after.Status)
		s.Len(after.Authorizations, 1, "new resource rolled back")
		s.Empty(s.audits(d.ID))
	})

	s.Run("Given a new grant without a type When update and authorize Then validation error", func() {
		d, _ := s.awaiting()
		_, err := s.service.UpdateConsentAndCreateAuthResources(s.ctx, &models.UpdateAndAuthorizeRequest{
			ConsentID:     d.ID,
			PrimaryUserID: testutil.TestIDs.UserID1,
			NewStatus:     models.StatusAuthorized,
			Grants:        []models.AuthorizationGrant{{Status: models.AuthStatusAuthorized}},
		})
		s.True(dErrors.IsValidation(err))
	})
}
