package models

import (
	"slices"

	id "consentmgr/pkg/domain"
)

// StatusVocabulary is the set of consent statuses an organisation accepts.
//
// Terminal statuses end the lifecycle: no further status-changing mutation is
// accepted once a consent reaches one. Expirable statuses are swept to
// StatusExpired once the consent's validity period has elapsed.
type StatusVocabulary struct {
	Allowed   []ConsentStatus `yaml:"allowed"`
	Terminal  []ConsentStatus `yaml:"terminal"`
	Expirable []ConsentStatus `yaml:"expirable"`
}

// DefaultVocabulary returns the built-in vocabulary.
func DefaultVocabulary() StatusVocabulary {
	return StatusVocabulary{
		Allowed: []ConsentStatus{
			StatusAwaitingAuthorization,
			StatusAuthorized,
			StatusRejected,
			StatusRevoked,
			StatusExpired,
		},
		Terminal:  []ConsentStatus{StatusRejected, StatusRevoked, StatusExpired},
		Expirable: []ConsentStatus{StatusAwaitingAuthorization, StatusAuthorized},
	}
}

// Allows reports whether s may be stored as a consent's current status.
func (v StatusVocabulary) Allows(s ConsentStatus) bool {
	return slices.Contains(v.Allowed, s)
}

// IsTerminal reports whether s ends the consent lifecycle.
func (v StatusVocabulary) IsTerminal(s ConsentStatus) bool {
	return slices.Contains(v.Terminal, s)
}

// IsExpirable reports whether consents in s are subject to expiry.
func (v StatusVocabulary) IsExpirable(s ConsentStatus) bool {
	return slices.Contains(v.Expirable, s)
}

// Vocabularies resolves the status vocabulary for an organisation.
type Vocabularies struct {
	Default StatusVocabulary              `yaml:"default"`
	Orgs    map[id.OrgID]StatusVocabulary `yaml:"orgs"`
}

// NewVocabularies returns Vocabularies using only the built-in default.
func NewVocabularies() Vocabularies {
	return Vocabularies{Default: DefaultVocabulary()}
}

// For returns the organisation's vocabulary, falling back to the default.
func (v Vocabularies) For(org id.OrgID) StatusVocabulary {
	if voc, ok := v.Orgs[org]; ok {
		return voc
	}
	return v.Default
}

// ExpirableStatuses returns the union of expirable statuses across all organisations.
func (v Vocabularies) ExpirableStatuses() []ConsentStatus {
	out := slices.Clone(v.Default.Expirable)
	for _, voc := range v.Orgs {
		for _, s := range voc.Expirable {
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	return out
}
