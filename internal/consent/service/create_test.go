package service

import (
	"context"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
	"consentmgr/pkg/testutil"
)

func createRequest() *models.CreateConsentRequest {
	return &models.CreateConsentRequest{
		ClientID:       "c1",
		ConsentType:    "accounts",
		Status:         models.StatusAwaitingAuthorization,
		Receipt:        models.Receipt{Data: []byte(`{"permissions":["ReadAccountsBasic"]}`), SchemaVersion: "v3.1"},
		ValidityPeriod: 3600,
		Recurring:      true,
		Frequency:      4,
		ImplicitAuth:   true,
		UserID:         testutil.TestIDs.UserID1,
		AuthStatus:     models.AuthStatusCreated,
		AuthType:       models.AuthTypeAuthorization,
	}
}

func (s *ServiceSuite) TestCreateConsent() {
	s.Run("Given implicit auth When create Then consent, authorization and one audit share the consent id", func() {
		req := createRequest()
		got, err := s.service.CreateConsent(s.ctx, req)
		s.Require().NoError(err)

		s.False(got.ID.IsNil())
		s.Equal(id.ClientID("c1"), got.ClientID)
		s.Equal(models.StatusAwaitingAuthorization, got.Status)
		s.True(req.Receipt.Equal(got.Receipt))
		s.Equal(int64(3600), got.ValidityPeriod)
		s.True(got.Recurring)
		s.Equal(id.DefaultOrg, got.OrgID)
		s.Equal(testutil.FixedTime, got.CreatedAt)

		s.Require().Len(got.Authorizations, 1)
		s.Equal(got.ID, got.Authorizations[0].ConsentID)
		s.Equal(models.AuthStatusCreated, got.Authorizations[0].Status)
		s.Equal(models.AuthTypeAuthorization, got.Authorizations[0].Type)

		audits := s.audits(got.ID)
		s.Require().Len(audits, 1)
		s.Equal(got.ID, audits[0].ConsentID)
		s.Equal(models.ReasonCreate, audits[0].Reason)
		s.Equal(models.StatusAwaitingAuthorization, audits[0].Status)
		s.Empty(audits[0].PreviousStatus)
		s.Equal(testutil.TestIDs.UserID1, audits[0].ActionBy)

		s.Empty(s.historyOf(got), "creation writes no history")
	})

	s.Run("Given no implicit auth When create Then no authorization is stored", func() {
		req := createRequest()
		req.ImplicitAuth = false
		req.Attributes = models.Attributes{"channel": "web"}

		got, err := s.service.CreateConsent(s.ctx, req)
		s.Require().NoError(err)
		s.Empty(got.Authorizations)
		s.Equal(models.Attributes{"channel": "web"}, got.Attributes)
	})

	s.Run("Given missing fields When create Then validation error and nothing stored", func() {
		cases := map[string]func(r *models.CreateConsentRequest){
			"blank client":       func(r *models.CreateConsentRequest) { r.ClientID = "  " },
			"blank type":         func(r *models.CreateConsentRequest) { r.ConsentType = "" },
			"blank status":       func(r *models.CreateConsentRequest) { r.Status = "" },
			"blank receipt":      func(r *models.CreateConsentRequest) { r.Receipt = models.Receipt{} },
			"implicit no status": func(r *models.CreateConsentRequest) { r.AuthStatus = "" },
			"implicit no type":   func(r *models.CreateConsentRequest) { r.AuthType = "" },
		}
		for name, mutate := range cases {
			req := createRequest()
			mutate(req)
			_, err := s.service.CreateConsent(s.ctx, req)
			s.Require().Error(err, name)
			s.True(dErrors.IsValidation(err), name)
		}
		found, err := s.store.SearchConsents(context.Background(), models.ConsentFilter{ClientIDs: []id.ClientID{"c1"}, Statuses: []models.ConsentStatus{models.StatusAwaitingAuthorization}})
		s.Require().NoError(err)
		s.Len(found, 2, "only the two successful creates above exist")
	})

	s.Run("Given status outside the vocabulary When create Then invalid transition", func() {
		req := createRequest()
		req.Status = "Pending"
		_, err := s.service.CreateConsent(s.ctx, req)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func (s *ServiceSuite) TestCreateConsentWithOrgVocabulary() {
	vocab := models.NewVocabularies()
	vocab.Orgs = map[id.OrgID]models.StatusVocabulary{
		testutil.TestIDs.OrgID1: {
			Allowed:  []models.ConsentStatus{"Pending", models.StatusRevoked},
			Terminal: []models.ConsentStatus{models.StatusRevoked},
		},
	}
	svc := s.newService(s.store, WithVocabularies(vocab))

	req := createRequest()
	req.OrgID = testutil.TestIDs.OrgID1
	req.Status = "Pending"
	got, err := svc.CreateConsent(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(models.ConsentStatus("Pending"), got.Status)

	req = createRequest()
	req.Status = "Pending"
	_, err = svc.CreateConsent(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition), "default org does not know Pending")
}

func (s *ServiceSuite) TestCreateExclusiveConsent() {
	exclusive := func() *models.CreateExclusiveConsentRequest {
		req := createRequest()
		req.ClientID = testutil.TestIDs.ClientID1
		req.Status = models.StatusAuthorized
		return &models.CreateExclusiveConsentRequest{
			CreateConsentRequest: *req,
			ApplicableStatus:     models.StatusAuthorized,
			SupersededStatus:     models.StatusRevoked,
		}
	}

	s.Run("Given existing authorized consents When create exclusive Then they are superseded", func() {
		old := s.seed(testutil.NewConsentBuilder().
			WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1", "acc-2").
			Build())
		otherUser := s.seed(testutil.NewConsentBuilder().
			WithAuthorization(testutil.TestIDs.UserID2, models.AuthTypePrimary, "read", "acc-9").
			Build())
		otherType := s.seed(testutil.NewConsentBuilder().
			WithType("payments").
			WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1").
			Build())

		got, err := s.service.CreateExclusiveConsent(s.ctx, exclusive())
		s.Require().NoError(err)
		s.Equal(models.StatusAuthorized, got.Status)

		superseded := s.reload(old.ID)
		s.Equal(models.StatusRevoked, superseded.Status)
		s.Zero(activeCount(superseded.Mappings))
		audits := s.audits(old.ID)
		s.Require().Len(audits, 1)
		s.Equal(models.ReasonSuperseded, audits[0].Reason)
		s.Equal(models.StatusAuthorized, audits[0].PreviousStatus)
		s.NotEmpty(s.historyOf(old))

		s.Equal(models.StatusAuthorized, s.reload(otherUser.ID).Status)
		s.Equal(models.StatusAuthorized, s.reload(otherType.ID).Status)
	})

	s.Run("Given equal applicable and superseded statuses When create exclusive Then validation error", func() {
		req := exclusive()
		req.SupersededStatus = req.ApplicableStatus
		_, err := s.service.CreateExclusiveConsent(s.ctx, req)
		s.True(dErrors.IsValidation(err))
	})

	s.Run("Given no user When create exclusive Then validation error", func() {
		req := exclusive()
		req.UserID = ""
		_, err := s.service.CreateExclusiveConsent(s.ctx, req)
		s.True(dErrors.IsValidation(err))
	})
}

func (s *ServiceSuite) TestCreateExclusiveConsentIsAtomic() {
	old := s.seed(testutil.NewConsentBuilder().
		WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1").
		Build())
	svc := s.newService(&failingStore{InMemoryStore: s.store, failOn: "CreateStatusAudit"})

	req := createRequest()
	req.ClientID = testutil.TestIDs.ClientID1
	req.Status = models.StatusAuthorized
	_, err := svc.CreateExclusiveConsent(s.ctx, &models.CreateExclusiveConsentRequest{
		CreateConsentRequest: *req,
		ApplicableStatus:     models.StatusAuthorized,
		SupersededStatus:     models.StatusRevoked,
	})
	s.Require().ErrorIs(err, errInjected)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	after := s.reload(old.ID)
	s.Equal(models.StatusAuthorized, after.Status)
	s.Equal(1, activeCount(after.Mappings))
	all, err := s.store.SearchConsents(context.Background(), models.ConsentFilter{})
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *ServiceSuite) TestStoreDetailedConsent() {
	s.Run("Given a full aggregate When store Then every part is persisted with one audit", func() {
		d := testutil.NewConsentBuilder().
			WithAttribute("channel", "mobile").
			WithAuthorization(testutil.TestIDs.UserID2, models.AuthTypeAuthorization, "read", "acc-1").
			WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "write", "acc-2", "acc-3").
			Build()

		got, err := s.service.StoreDetailedConsent(s.ctx, d)
		s.Require().NoError(err)
		s.Equal(d.ID, got.ID)
		s.Len(got.Authorizations, 2)
		s.Len(got.Mappings, 3)
		s.Equal(models.Attributes{"channel": "mobile"}, got.Attributes)

		audits := s.audits(d.ID)
		s.Require().Len(audits, 1)
		s.Equal(testutil.TestIDs.UserID1, audits[0].ActionBy, "primary authorization acts")
	})

	s.Run("Given a mapping of a foreign authorization When store Then validation error", func() {
		d := testutil.NewConsentBuilder().
			WithAuthorization(testutil.TestIDs.UserID1, models.AuthTypePrimary, "read", "acc-1").
			Build()
		d.Mappings[0].AuthorizationID = id.NewAuthorizationID()

		_, err := s.service.StoreDetailedConsent(s.ctx, d)
		s.True(dErrors.IsValidation(err))
		_, err = s.store.GetConsent(context.Background(), d.ID, false)
		s.Error(err)
	})

	s.Run("Given an existing id When store Then conflict", func() {
		d := s.seed(testutil.NewConsentBuilder().Build())
		_, err := s.service.StoreDetailedConsent(s.ctx, d)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}
