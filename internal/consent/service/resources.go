package service

import (
	"context"
	"slices"
	"strings"

	"consentmgr/internal/consent/models"
	"consentmgr/internal/consent/tracer"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
)

// CreateConsentAuthorization adds an authorization resource to a consent.
func (s *Service) CreateConsentAuthorization(ctx context.Context, req *models.CreateAuthorizationRequest) (*models.AuthorizationResource, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var out *models.AuthorizationResource
	err := s.run(ctx, "create_authorization", tracer.SpanAuthorization, []tracer.Attribute{
		tracer.String(tracer.AttrConsentID, req.ConsentID.String()),
	}, func(ctx context.Context, _ *effects) error {
		if _, err := s.store.LockConsent(ctx, req.ConsentID); err != nil {
			return storeErr(err, "consent not found")
		}
		auth := &models.AuthorizationResource{
			ID:        id.NewAuthorizationID(),
			ConsentID: req.ConsentID,
			Type:      req.Type,
			Status:    req.Status,
			UserID:    req.UserID,
			UpdatedAt: now(ctx),
		}
		if err := s.store.CreateAuthorization(ctx, auth); err != nil {
			return storeErr(err, "failed to create authorization resource")
		}
		out = auth
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetAuthorizationResource(ctx context.Context, authID id.AuthorizationID) (*models.AuthorizationResource, error) {
	if authID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "authorization_id is required")
	}
	var out *models.AuthorizationResource
	err := s.query(ctx, "get_authorization", nil, func(ctx context.Context) error {
		auth, err := s.store.GetAuthorization(ctx, authID)
		if err != nil {
			return storeErr(err, "authorization resource not found")
		}
		out = auth
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SearchAuthorizations lists authorization resources by consent and/or user.
// At least one filter is required.
func (s *Service) SearchAuthorizations(ctx context.Context, consentID id.ConsentID, userID id.UserID) ([]*models.AuthorizationResource, error) {
	if consentID.IsNil() && userID.IsBlank() {
		return nil, dErrors.New(dErrors.CodeValidation, "consent_id or user_id is required")
	}
	var out []*models.AuthorizationResource
	err := s.query(ctx, "search_authorizations", nil, func(ctx context.Context) error {
		auths, err := s.store.SearchAuthorizations(ctx, consentID, userID)
		if err != nil {
			return storeErr(err, "failed to search authorization resources")
		}
		out = auths
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) UpdateAuthorizationStatus(ctx context.Context, authID id.AuthorizationID, status models.AuthStatus) error {
	if authID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "authorization_id is required")
	}
	if !status.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid authorization status %q", status)
	}
	return s.run(ctx, "update_authorization_status", tracer.SpanAuthorization, nil, func(ctx context.Context, _ *effects) error {
		return storeErr(s.store.UpdateAuthorizationStatus(ctx, authID, status, now(ctx)), "failed to update authorization status")
	})
}

func (s *Service) UpdateAuthorizationUser(ctx context.Context, authID id.AuthorizationID, userID id.UserID) error {
	if authID.IsNil() || userID.IsBlank() {
		return dErrors.New(dErrors.CodeValidation, "authorization_id and user_id are required")
	}
	return s.run(ctx, "update_authorization_user", tracer.SpanAuthorization, []tracer.Attribute{
		tracer.String(tracer.AttrUserHash, tracer.HashUserID(userID.String())),
	}, func(ctx context.Context, _ *effects) error {
		return storeErr(s.store.UpdateAuthorizationUser(ctx, authID, userID, now(ctx)), "failed to update authorization user")
	})
}

// UpdateAuthorizationResources applies every update or none of them.
func (s *Service) UpdateAuthorizationResources(ctx context.Context, updates []models.AuthorizationUpdate) error {
	if err := models.ValidateAuthorizationUpdates(updates); err != nil {
		return err
	}
	return s.run(ctx, "update_authorizations", tracer.SpanAuthorization, []tracer.Attribute{
		tracer.Int(tracer.AttrConsentCount, len(updates)),
	}, func(ctx context.Context, _ *effects) error {
		at := now(ctx)
		for _, u := range updates {
			if u.Status != "" {
				if err := s.store.UpdateAuthorizationStatus(ctx, u.AuthorizationID, u.Status, at); err != nil {
					return storeErr(err, "failed to update authorization status")
				}
			}
			if !u.UserID.IsBlank() {
				if err := s.store.UpdateAuthorizationUser(ctx, u.AuthorizationID, u.UserID, at); err != nil {
					return storeErr(err, "failed to update authorization user")
				}
			}
		}
		return nil
	})
}

// UpdateConsentMappingResources applies every mapping update or none of
// them. Each mapping must belong to the authorization resource it names.
func (s *Service) UpdateConsentMappingResources(ctx context.Context, updates []models.MappingUpdate) error {
	if err := models.ValidateMappingUpdates(updates); err != nil {
		return err
	}
	return s.run(ctx, "update_mappings", tracer.SpanMappings, []tracer.Attribute{
		tracer.Int(tracer.AttrConsentCount, len(updates)),
	}, func(ctx context.Context, _ *effects) error {
		owned := make(map[id.AuthorizationID][]id.MappingID)
		for _, u := range updates {
			ids, ok := owned[u.AuthorizationID]
			if !ok {
				mappings, err := s.store.GetMappings(ctx, u.AuthorizationID)
				if err != nil {
					return storeErr(err, "failed to load account mappings")
				}
				ids = make([]id.MappingID, 0, len(mappings))
				for _, m := range mappings {
					ids = append(ids, m.ID)
				}
				owned[u.AuthorizationID] = ids
			}
			if !slices.Contains(ids, u.MappingID) {
				return dErrors.Newf(dErrors.CodeNotFound,
					"mapping %s does not belong to authorization %s", u.MappingID, u.AuthorizationID)
			}
			if u.Status != "" {
				if err := s.setMappingStatus(ctx, []id.MappingID{u.MappingID}, u.Status); err != nil {
					return err
				}
			}
			if p := strings.TrimSpace(u.Permission); p != "" {
				if err := s.store.UpdateMappingPermission(ctx, u.MappingID, p); err != nil {
					return storeErr(err, "failed to update mapping permission")
				}
			}
		}
		return nil
	})
}

// CreateConsentAccountMappings binds accounts to an existing authorization
// resource, one active mapping per (account, permission).
func (s *Service) CreateConsentAccountMappings(ctx context.Context, authID id.AuthorizationID, accounts models.AccountPermissions) ([]*models.MappingResource, error) {
	if authID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "authorization_id is required")
	}
	if err := accounts.Validate(); err != nil {
		return nil, err
	}
	mappings := newMappings(authID, accounts)
	err := s.run(ctx, "create_mappings", tracer.SpanMappings, nil, func(ctx context.Context, fx *effects) error {
		if _, err := s.store.GetAuthorization(ctx, authID); err != nil {
			return storeErr(err, "authorization resource not found")
		}
		return s.createMappings(ctx, fx, mappings)
	})
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

func (s *Service) DeactivateAccountMappings(ctx context.Context, mappingIDs []id.MappingID) error {
	return s.UpdateAccountMappingStatus(ctx, mappingIDs, models.MappingInactive)
}

// UpdateAccountMappingStatus sets the status of every listed mapping, or of
// none when any ID is unknown.
func (s *Service) UpdateAccountMappingStatus(ctx context.Context, mappingIDs []id.MappingID, status models.MappingStatus) error {
	if len(mappingIDs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one mapping id is required")
	}
	if !status.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid mapping status %q", status)
	}
	return s.run(ctx, "update_mapping_status", tracer.SpanMappings, []tracer.Attribute{
		tracer.Int(tracer.AttrConsentCount, len(mappingIDs)),
	}, func(ctx context.Context, _ *effects) error {
		return s.setMappingStatus(ctx, mappingIDs, status)
	})
}

// StoreConsentAttributes adds attributes to a consent. Keys already present
// are rejected as a conflict.
func (s *Service) StoreConsentAttributes(ctx context.Context, consentID id.ConsentID, attrs models.Attributes) error {
	if err := validateAttributes(consentID, attrs); err != nil {
		return err
	}
	return s.run(ctx, "store_attributes", tracer.SpanAttributes, []tracer.Attribute{
		tracer.String(tracer.AttrConsentID, consentID.String()),
	}, func(ctx context.Context, _ *effects) error {
		if _, err := s.store.LockConsent(ctx, consentID); err != nil {
			return storeErr(err, "consent not found")
		}
		return storeErr(s.store.StoreAttributes(ctx, consentID, attrs), "failed to store attributes")
	})
}

// GetConsentAttributes returns the consent's attributes, restricted to keys
// when any are given.
func (s *Service) GetConsentAttributes(ctx context.Context, consentID id.ConsentID, keys []string) (models.Attributes, error) {
	if consentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	var out models.Attributes
	err := s.query(ctx, "get_attributes", consentAttrs(consentID), func(ctx context.Context) error {
		if _, err := s.store.GetConsent(ctx, consentID, false); err != nil {
			return storeErr(err, "consent not found")
		}
		attrs, err := s.store.GetAttributes(ctx, consentID, keys)
		if err != nil {
			return storeErr(err, "failed to load attributes")
		}
		out = attrs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetConsentAttributesByName returns the value of key for every consent carrying it.
func (s *Service) GetConsentAttributesByName(ctx context.Context, key string) (map[id.ConsentID]string, error) {
	if strings.TrimSpace(key) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "attribute key is required")
	}
	var out map[id.ConsentID]string
	err := s.query(ctx, "get_attributes_by_name", nil, func(ctx context.Context) error {
		values, err := s.store.GetAttributesByKey(ctx, key)
		if err != nil {
			return storeErr(err, "failed to load attributes")
		}
		out = values
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetConsentIDsByAttribute(ctx context.Context, key, value string) ([]id.ConsentID, error) {
	if strings.TrimSpace(key) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "attribute key is required")
	}
	var out []id.ConsentID
	err := s.query(ctx, "find_consents_by_attribute", nil, func(ctx context.Context) error {
		ids, err := s.store.FindConsentIDsByAttribute(ctx, key, value)
		if err != nil {
			return storeErr(err, "failed to search attributes")
		}
		out = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateConsentAttributes merges attrs into the consent's attributes,
// overwriting keys that already exist.
func (s *Service) UpdateConsentAttributes(ctx context.Context, consentID id.ConsentID, attrs models.Attributes) error {
	if err := validateAttributes(consentID, attrs); err != nil {
		return err
	}
	return s.run(ctx, "update_attributes", tracer.SpanAttributes, []tracer.Attribute{
		tracer.String(tracer.AttrConsentID, consentID.String()),
	}, func(ctx context.Context, _ *effects) error {
		if _, err := s.store.LockConsent(ctx, consentID); err != nil {
			return storeErr(err, "consent not found")
		}
		existing, err := s.store.GetAttributes(ctx, consentID, attrs.Keys())
		if err != nil {
			return storeErr(err, "failed to load attributes")
		}
		return s.mergeAttributes(ctx, consentID, existing, attrs)
	})
}

func (s *Service) DeleteConsentAttributes(ctx context.Context, consentID id.ConsentID, keys []string) error {
	if consentID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	if len(keys) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one attribute key is required")
	}
	return s.run(ctx, "delete_attributes", tracer.SpanAttributes, []tracer.Attribute{
		tracer.String(tracer.AttrConsentID, consentID.String()),
	}, func(ctx context.Context, _ *effects) error {
		if _, err := s.store.LockConsent(ctx, consentID); err != nil {
			return storeErr(err, "consent not found")
		}
		return storeErr(s.store.DeleteAttributes(ctx, consentID, keys), "failed to delete attributes")
	})
}

// mergeAttributes replaces the keys of updates already in existing and adds
// the rest.
func (s *Service) mergeAttributes(ctx context.Context, consentID id.ConsentID, existing, updates models.Attributes) error {
	var replaced []string
	for _, k := range updates.Keys() {
		if _, ok := existing[k]; ok {
			replaced = append(replaced, k)
		}
	}
	if len(replaced) > 0 {
		if err := s.store.DeleteAttributes(ctx, consentID, replaced); err != nil {
			return storeErr(err, "failed to replace attributes")
		}
	}
	return storeErr(s.store.StoreAttributes(ctx, consentID, updates), "failed to store attributes")
}

func validateAttributes(consentID id.ConsentID, attrs models.Attributes) error {
	if consentID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "consent_id is required")
	}
	if len(attrs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one attribute is required")
	}
	if slices.ContainsFunc(attrs.Keys(), func(k string) bool { return strings.TrimSpace(k) == "" }) {
		return dErrors.New(dErrors.CodeValidation, "attribute key must not be blank")
	}
	return nil
}
