package models

import (
	"slices"
	"time"

	id "consentmgr/pkg/domain"
)

// StatusAuditRecord is one append-only entry in the status audit trail.
type StatusAuditRecord struct {
	ID             id.StatusAuditID
	ConsentID      id.ConsentID
	Status         ConsentStatus
	PreviousStatus ConsentStatus
	Reason         Reason
	ActionBy       id.UserID
	ActionTime     time.Time
}

// StatusAuditFilter narrows a status audit search. Zero values are ignored.
// ConsentID and ConsentIDs combine into one set.
type StatusAuditFilter struct {
	ConsentID  id.ConsentID
	ConsentIDs []id.ConsentID
	Status     ConsentStatus
	ActionBy   id.UserID
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// ConsentSet returns every consent ID the filter names.
func (f StatusAuditFilter) ConsentSet() []id.ConsentID {
	out := make([]id.ConsentID, 0, len(f.ConsentIDs)+1)
	if !f.ConsentID.IsNil() {
		out = append(out, f.ConsentID)
	}
	for _, c := range f.ConsentIDs {
		if !c.IsNil() && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// HistoryEntry is one append-only amendment record. ChangedValues holds the
// encoded diff for a single record of the given data type.
type HistoryEntry struct {
	HistoryID     id.HistoryID
	RecordID      string
	DataType      HistoryDataType
	ChangedValues []byte
	Reason        Reason
	EffectiveAt   time.Time
}

// HistoricalConsent is the detailed consent as it stood immediately before
// the amendment identified by HistoryID took effect.
type HistoricalConsent struct {
	HistoryID   id.HistoryID
	Reason      Reason
	EffectiveAt time.Time
	Consent     *DetailedConsent
}

// ConsentFilter narrows a detailed consent search. Empty slices are ignored.
type ConsentFilter struct {
	ConsentIDs []id.ConsentID
	OrgID      id.OrgID
	ClientIDs  []id.ClientID
	Types      []string
	Statuses   []ConsentStatus
	UserIDs    []id.UserID
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int

	// ForUpdate locks matched consent rows until the enclosing transaction ends.
	ForUpdate bool
}
