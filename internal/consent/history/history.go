package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
)

// DiffBasic compares the consent's own columns.
func DiffBasic(before, after *models.DetailedConsent) Change {
	return DiffOne(BasicSchema, before.Consent, after.Consent)
}

// DiffAttributes compares attributes key by key.
func DiffAttributes(before, after *models.DetailedConsent) Change {
	return DiffOne(AttributeSchema,
		attributeSet{ConsentID: before.ID, Values: before.Attributes},
		attributeSet{ConsentID: after.ID, Values: after.Attributes},
	)
}

// DiffMappings compares mappings by mapping ID.
func DiffMappings(before, after *models.DetailedConsent) []Change {
	return DiffMany(MappingSchema, before.Mappings, after.Mappings)
}

// DiffAuthorizations compares authorization resources by authorization ID.
func DiffAuthorizations(before, after *models.DetailedConsent) []Change {
	return DiffMany(AuthorizationSchema, before.Authorizations, after.Authorizations)
}

// Compute returns every non-empty change between two snapshots of the same
// consent.
func Compute(before, after *models.DetailedConsent) []Change {
	var out []Change
	for _, c := range []Change{DiffBasic(before, after), DiffAttributes(before, after)} {
		if !c.Diff.IsEmpty() {
			out = append(out, c)
		}
	}
	out = append(out, DiffAuthorizations(before, after)...)
	out = append(out, DiffMappings(before, after)...)
	return out
}

// Writer is the persistence the engine needs to record changes.
type Writer interface {
	CreateHistoryEntries(ctx context.Context, entries []*models.HistoryEntry) error
}

// Persist writes one history row per non-empty change. All rows share
// batchID and effectiveAt. It returns the number of rows written and never
// calls w when there is nothing to record.
func Persist(ctx context.Context, w Writer, batchID id.HistoryID, effectiveAt time.Time, reason models.Reason, changes []Change) (int, error) {
	entries := make([]*models.HistoryEntry, 0, len(changes))
	for _, c := range changes {
		if c.Diff.IsEmpty() {
			continue
		}
		raw, err := json.Marshal(c.Diff)
		if err != nil {
			return 0, fmt.Errorf("encode %s diff for %s: %w", c.DataType, c.RecordID, err)
		}
		entries = append(entries, &models.HistoryEntry{
			HistoryID:     batchID,
			RecordID:      c.RecordID,
			DataType:      c.DataType,
			ChangedValues: raw,
			Reason:        reason,
			EffectiveAt:   effectiveAt,
		})
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if err := w.CreateHistoryEntries(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

type batch struct {
	id          id.HistoryID
	reason      models.Reason
	effectiveAt time.Time
	entries     []*models.HistoryEntry
}

// Reconstruct replays entries backward from current. entries must be in
// reverse write order, as the stores return them; EffectiveAt is reported
// but never used for ordering since callers may backdate it. The snapshot
// stored under a batch ID is the detailed consent as it stood immediately
// before that batch was applied.
func Reconstruct(current *models.DetailedConsent, entries []*models.HistoryEntry) (map[id.HistoryID]*models.HistoricalConsent, error) {
	var batches []*batch
	byID := make(map[id.HistoryID]*batch)
	for _, e := range entries {
		b, ok := byID[e.HistoryID]
		if !ok {
			b = &batch{id: e.HistoryID, reason: e.Reason, effectiveAt: e.EffectiveAt}
			byID[e.HistoryID] = b
			batches = append(batches, b)
		}
		b.entries = append(b.entries, e)
	}

	snapshot := current.Clone()
	out := make(map[id.HistoryID]*models.HistoricalConsent, len(batches))
	for _, b := range batches {
		for _, e := range b.entries {
			if err := undo(snapshot, e); err != nil {
				return nil, fmt.Errorf("history %s: %w", b.id, err)
			}
		}
		out[b.id] = &models.HistoricalConsent{
			HistoryID:   b.id,
			Reason:      b.reason,
			EffectiveAt: b.effectiveAt,
			Consent:     snapshot.Clone(),
		}
	}
	return out, nil
}

func undo(snapshot *models.DetailedConsent, e *models.HistoryEntry) error {
	var d Diff
	if err := json.Unmarshal(e.ChangedValues, &d); err != nil {
		return fmt.Errorf("decode %s diff for %s: %w", e.DataType, e.RecordID, err)
	}

	switch e.DataType {
	case models.HistoryBasic:
		prev, err := RewindOne(BasicSchema, e.RecordID, snapshot.Consent, d)
		if err != nil {
			return err
		}
		attrs := snapshot.Attributes
		snapshot.Consent = prev
		snapshot.Attributes = attrs
	case models.HistoryAttributes:
		prev, err := RewindOne(AttributeSchema, e.RecordID, attributeSet{ConsentID: snapshot.ID, Values: snapshot.Attributes}, d)
		if err != nil {
			return err
		}
		snapshot.Attributes = prev.Values
	case models.HistoryMapping:
		mappings, err := RewindMany(MappingSchema, snapshot.Mappings, e.RecordID, d)
		if err != nil {
			return err
		}
		snapshot.Mappings = mappings
	case models.HistoryAuthorization:
		auths, err := RewindMany(AuthorizationSchema, snapshot.Authorizations, e.RecordID, d)
		if err != nil {
			return err
		}
		snapshot.Authorizations = auths
	default:
		return fmt.Errorf("unknown history data type %q", e.DataType)
	}
	return nil
}
