package models

import (
	"bytes"
	"maps"
	"slices"
	"time"

	id "consentmgr/pkg/domain"
)

// Receipt is the opaque document describing the terms a consent grants.
// The core stores and compares it byte-for-byte and never interprets it.
type Receipt struct {
	Data          []byte
	SchemaVersion string
}

// IsBlank reports whether the receipt carries no content.
func (r Receipt) IsBlank() bool {
	return len(bytes.TrimSpace(r.Data)) == 0
}

// Equal compares receipts by content and schema version.
func (r Receipt) Equal(other Receipt) bool {
	return r.SchemaVersion == other.SchemaVersion && bytes.Equal(r.Data, other.Data)
}

// Attributes is consent-scoped key/value metadata. Keys are unique per consent
// and iterate in lexical order via Keys.
type Attributes map[string]string

// Keys returns the attribute keys in lexical order.
func (a Attributes) Keys() []string {
	return slices.Sorted(maps.Keys(a))
}

// Clone returns an independent copy. A nil receiver yields an empty map.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	maps.Copy(out, a)
	return out
}

// Consent is a time-bound grant from a user to a client application.
type Consent struct {
	ID             id.ConsentID
	OrgID          id.OrgID
	ClientID       id.ClientID
	ConsentType    string
	Status         ConsentStatus
	Receipt        Receipt
	ValidityPeriod int64 // seconds from CreatedAt; 0 never expires
	Recurring      bool
	Frequency      int
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Attributes is populated only when explicitly requested.
	Attributes Attributes
}

// ExpiresAt returns when the validity period ends, or false for open-ended consents.
func (c *Consent) ExpiresAt() (time.Time, bool) {
	if c.ValidityPeriod <= 0 {
		return time.Time{}, false
	}
	return c.CreatedAt.Add(time.Duration(c.ValidityPeriod) * time.Second), true
}

// IsExpired reports whether the validity period has elapsed at now.
func (c *Consent) IsExpired(now time.Time) bool {
	exp, ok := c.ExpiresAt()
	return ok && !now.Before(exp)
}

// AuthorizationResource is one authorization actor/session against a consent.
type AuthorizationResource struct {
	ID        id.AuthorizationID
	ConsentID id.ConsentID
	Type      AuthType
	Status    AuthStatus
	UserID    id.UserID
	UpdatedAt time.Time
}

// MappingResource binds an account and permission to an authorization resource.
type MappingResource struct {
	ID              id.MappingID
	AuthorizationID id.AuthorizationID
	AccountID       string
	Permission      string
	Status          MappingStatus
}

// IsActive reports whether the mapping currently grants access.
func (m *MappingResource) IsActive() bool {
	return m.Status == MappingActive
}

// DetailedConsent is a consent with every authorization, mapping and attribute
// that belongs to it. Inactive mappings and superseded authorizations remain
// part of the aggregate because deactivation is logical.
type DetailedConsent struct {
	Consent
	Authorizations []*AuthorizationResource
	Mappings       []*MappingResource
}

// Clone returns a deep copy safe to mutate independently.
func (d *DetailedConsent) Clone() *DetailedConsent {
	if d == nil {
		return nil
	}
	out := &DetailedConsent{Consent: d.Consent}
	out.Receipt.Data = bytes.Clone(d.Receipt.Data)
	if d.Attributes != nil {
		out.Attributes = d.Attributes.Clone()
	}
	out.Authorizations = make([]*AuthorizationResource, 0, len(d.Authorizations))
	for _, a := range d.Authorizations {
		cp := *a
		out.Authorizations = append(out.Authorizations, &cp)
	}
	out.Mappings = make([]*MappingResource, 0, len(d.Mappings))
	for _, m := range d.Mappings {
		cp := *m
		out.Mappings = append(out.Mappings, &cp)
	}
	return out
}

// FirstUser returns the user of the consent's first authorization resource.
func (d *DetailedConsent) FirstUser() (id.UserID, bool) {
	if len(d.Authorizations) == 0 {
		return "", false
	}
	return d.Authorizations[0].UserID, true
}

// ActionBy resolves the user recorded as actor in audit: the user of the
// primary authorization when one exists, otherwise the first authorization's user.
func (d *DetailedConsent) ActionBy() id.UserID {
	for _, a := range d.Authorizations {
		if a.Type == AuthTypePrimary {
			return a.UserID
		}
	}
	user, _ := d.FirstUser()
	return user
}

// Authorization returns the authorization resource with the given ID.
func (d *DetailedConsent) Authorization(authID id.AuthorizationID) (*AuthorizationResource, bool) {
	for _, a := range d.Authorizations {
		if a.ID == authID {
			return a, true
		}
	}
	return nil, false
}

// MappingsFor returns the mappings bound to authID.
func (d *DetailedConsent) MappingsFor(authID id.AuthorizationID) []*MappingResource {
	var out []*MappingResource
	for _, m := range d.Mappings {
		if m.AuthorizationID == authID {
			out = append(out, m)
		}
	}
	return out
}

// ActiveMappingIDs returns IDs of every active mapping reachable from the consent.
func (d *DetailedConsent) ActiveMappingIDs() []id.MappingID {
	var out []id.MappingID
	for _, m := range d.Mappings {
		if m.IsActive() {
			out = append(out, m.ID)
		}
	}
	return out
}

// HistoryRecordIDs returns every record ID history entries may reference for
// this consent: the consent itself plus all of its authorizations and mappings.
func (d *DetailedConsent) HistoryRecordIDs() []string {
	ids := make([]string, 0, 1+len(d.Authorizations)+len(d.Mappings))
	ids = append(ids, d.ID.String())
	for _, a := range d.Authorizations {
		ids = append(ids, a.ID.String())
	}
	for _, m := range d.Mappings {
		ids = append(ids, m.ID.String())
	}
	return ids
}

// ConsentFile is the signed document a client uploads for a file-based
// consent. A consent has at most one.
type ConsentFile struct {
	ConsentID id.ConsentID
	Content   []byte
	CreatedAt time.Time
}

// AccountPermissions maps an account ID to the permissions granted on it.
type AccountPermissions map[string][]string

// Accounts returns the account IDs in lexical order.
func (a AccountPermissions) Accounts() []string {
	return slices.Sorted(maps.Keys(a))
}

// Validate rejects empty sets, blank accounts and blank permissions.
func (a AccountPermissions) Validate() error {
	return validateAccounts(a)
}

// Size returns the number of (account, permission) pairs.
func (a AccountPermissions) Size() int {
	n := 0
	for _, perms := range a {
		n += len(perms)
	}
	return n
}
