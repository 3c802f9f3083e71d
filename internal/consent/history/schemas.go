package history

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
)

// Field names used in diff documents.
const (
	fieldStatus         = "status"
	fieldReceipt        = "receipt"
	fieldReceiptSchema  = "receipt_schema"
	fieldValidityPeriod = "validity_period"
	fieldRecurring      = "recurring"
	fieldFrequency      = "frequency"
	fieldUpdatedAt      = "updated_at"

	fieldAuthorizationID = "authorization_id"
	fieldAccountID       = "account_id"
	fieldPermission      = "permission"

	fieldConsentID = "consent_id"
	fieldType      = "type"
	fieldUserID    = "user_id"
)

const timeLayout = time.RFC3339Nano

// BasicSchema covers the consent's own mutable columns.
var BasicSchema = Schema[models.Consent]{
	DataType: models.HistoryBasic,
	ID:       func(c models.Consent) string { return c.ID.String() },
	Flatten: func(c models.Consent) Fields {
		return Fields{
			fieldStatus:         string(c.Status),
			fieldReceipt:        base64.StdEncoding.EncodeToString(c.Receipt.Data),
			fieldReceiptSchema:  c.Receipt.SchemaVersion,
			fieldValidityPeriod: strconv.FormatInt(c.ValidityPeriod, 10),
			fieldRecurring:      strconv.FormatBool(c.Recurring),
			fieldFrequency:      strconv.Itoa(c.Frequency),
			fieldUpdatedAt:      c.UpdatedAt.UTC().Format(timeLayout),
		}
	},
	Restore: restoreBasic,
}

func restoreBasic(_ string, base models.Consent, f Fields) (models.Consent, error) {
	out := base
	out.Status = models.ConsentStatus(f[fieldStatus])
	out.Receipt.SchemaVersion = f[fieldReceiptSchema]

	receipt, err := base64.StdEncoding.DecodeString(f[fieldReceipt])
	if err != nil {
		return out, fmt.Errorf("decode receipt: %w", err)
	}
	out.Receipt.Data = receipt

	if out.ValidityPeriod, err = parseInt(f, fieldValidityPeriod); err != nil {
		return out, err
	}
	if v, ok := f[fieldRecurring]; ok {
		if out.Recurring, err = strconv.ParseBool(v); err != nil {
			return out, fmt.Errorf("parse %s: %w", fieldRecurring, err)
		}
	}
	freq, err := parseInt(f, fieldFrequency)
	if err != nil {
		return out, err
	}
	out.Frequency = int(freq)
	if out.UpdatedAt, err = parseTime(f, fieldUpdatedAt); err != nil {
		return out, err
	}
	return out, nil
}

// attributeSet pairs attributes with the consent they belong to so that
// they can be diffed as one record.
type attributeSet struct {
	ConsentID id.ConsentID
	Values    models.Attributes
}

// AttributeSchema diffs attributes key by key under the consent's ID.
var AttributeSchema = Schema[attributeSet]{
	DataType: models.HistoryAttributes,
	ID:       func(a attributeSet) string { return a.ConsentID.String() },
	Flatten:  func(a attributeSet) Fields { return Fields(a.Values.Clone()) },
	Restore: func(_ string, base attributeSet, f Fields) (attributeSet, error) {
		return attributeSet{ConsentID: base.ConsentID, Values: models.Attributes(f)}, nil
	},
}

// MappingSchema diffs account mappings by mapping ID.
var MappingSchema = Schema[*models.MappingResource]{
	DataType: models.HistoryMapping,
	ID:       func(m *models.MappingResource) string { return m.ID.String() },
	Flatten: func(m *models.MappingResource) Fields {
		if m == nil {
			return Fields{}
		}
		return Fields{
			fieldAuthorizationID: m.AuthorizationID.String(),
			fieldAccountID:       m.AccountID,
			fieldPermission:      m.Permission,
			fieldStatus:          string(m.Status),
		}
	},
	Restore: restoreMapping,
}

func restoreMapping(recordID string, base *models.MappingResource, f Fields) (*models.MappingResource, error) {
	mappingID, err := id.ParseMappingID(recordID)
	if err != nil {
		return nil, err
	}
	authID, err := id.ParseAuthorizationID(f[fieldAuthorizationID])
	if err != nil {
		return nil, err
	}
	out := &models.MappingResource{}
	if base != nil {
		*out = *base
	}
	out.ID = mappingID
	out.AuthorizationID = authID
	out.AccountID = f[fieldAccountID]
	out.Permission = f[fieldPermission]
	out.Status = models.MappingStatus(f[fieldStatus])
	return out, nil
}

// AuthorizationSchema diffs authorization resources by authorization ID.
var AuthorizationSchema = Schema[*models.AuthorizationResource]{
	DataType: models.HistoryAuthorization,
	ID:       func(a *models.AuthorizationResource) string { return a.ID.String() },
	Flatten: func(a *models.AuthorizationResource) Fields {
		if a == nil {
			return Fields{}
		}
		return Fields{
			fieldConsentID: a.ConsentID.String(),
			fieldType:      string(a.Type),
			fieldStatus:    string(a.Status),
			fieldUserID:    string(a.UserID),
			fieldUpdatedAt: a.UpdatedAt.UTC().Format(timeLayout),
		}
	},
	Restore: restoreAuthorization,
}

func restoreAuthorization(recordID string, base *models.AuthorizationResource, f Fields) (*models.AuthorizationResource, error) {
	authID, err := id.ParseAuthorizationID(recordID)
	if err != nil {
		return nil, err
	}
	consentID, err := id.ParseConsentID(f[fieldConsentID])
	if err != nil {
		return nil, err
	}
	out := &models.AuthorizationResource{}
	if base != nil {
		*out = *base
	}
	out.ID = authID
	out.ConsentID = consentID
	out.Type = models.AuthType(f[fieldType])
	out.Status = models.AuthStatus(f[fieldStatus])
	out.UserID = id.UserID(f[fieldUserID])
	if out.UpdatedAt, err = parseTime(f, fieldUpdatedAt); err != nil {
		return nil, err
	}
	return out, nil
}

func parseInt(f Fields, name string) (int64, error) {
	v, ok := f[name]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return n, nil
}

func parseTime(f Fields, name string) (time.Time, error) {
	v, ok := f[name]
	if !ok || v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", name, err)
	}
	return t, nil
}
