// Package history computes field-level diffs between detailed consent
// snapshots, persists them as append-only rows and replays them backward to
// reconstruct earlier states.
package history

import (
	"fmt"
	"maps"
	"slices"

	"consentmgr/internal/consent/models"
)

// Op is the kind of change a diff describes for one record.
type Op string

const (
	OpCreated Op = "created"
	OpRemoved Op = "removed"
	OpUpdated Op = "updated"
)

// Fields is the flattened, string-encoded view of one record.
type Fields map[string]string

// FieldChange holds both sides of a changed field. A nil side means the
// field was absent.
type FieldChange struct {
	Before *string `json:"before"`
	After  *string `json:"after"`
}

// Diff is the changed-fields document stored per history row.
type Diff struct {
	Op     Op                     `json:"op"`
	Fields map[string]FieldChange `json:"fields"`
}

// IsEmpty reports whether the diff records no change.
func (d Diff) IsEmpty() bool { return len(d.Fields) == 0 }

// Change is a diff bound to the record it describes.
type Change struct {
	RecordID string
	DataType models.HistoryDataType
	Diff     Diff
}

// Schema describes how an entity of type T flattens into Fields and how a
// value is rebuilt from them. Restore receives the current value as base, or
// the zero T when the record no longer exists.
type Schema[T any] struct {
	DataType models.HistoryDataType
	ID       func(T) string
	Flatten  func(T) Fields
	Restore  func(recordID string, base T, f Fields) (T, error)
}

// diffFields returns an updated diff containing only fields whose value
// differs between before and after.
func diffFields(before, after Fields) Diff {
	d := Diff{Op: OpUpdated, Fields: map[string]FieldChange{}}
	for name, b := range before {
		a, ok := after[name]
		if ok && a == b {
			continue
		}
		ch := FieldChange{Before: ptr(b)}
		if ok {
			ch.After = ptr(a)
		}
		d.Fields[name] = ch
	}
	for name, a := range after {
		if _, ok := before[name]; !ok {
			d.Fields[name] = FieldChange{After: ptr(a)}
		}
	}
	return d
}

// DiffOne compares two versions of the same record.
func DiffOne[T any](s Schema[T], before, after T) Change {
	return Change{
		RecordID: s.ID(after),
		DataType: s.DataType,
		Diff:     diffFields(s.Flatten(before), s.Flatten(after)),
	}
}

// DiffMany compares two sets of records keyed by ID. Records only in after
// get a created diff, records only in before a removed diff. Empty diffs
// are omitted.
func DiffMany[T any](s Schema[T], before, after []T) []Change {
	prior := make(map[string]T, len(before))
	for _, b := range before {
		prior[s.ID(b)] = b
	}

	var out []Change
	seen := make(map[string]bool, len(after))
	for _, a := range after {
		recordID := s.ID(a)
		seen[recordID] = true
		b, ok := prior[recordID]
		if !ok {
			out = append(out, Change{RecordID: recordID, DataType: s.DataType, Diff: wholeRecord(OpCreated, s.Flatten(a))})
			continue
		}
		if c := DiffOne(s, b, a); !c.Diff.IsEmpty() {
			out = append(out, c)
		}
	}
	for _, b := range before {
		recordID := s.ID(b)
		if !seen[recordID] {
			out = append(out, Change{RecordID: recordID, DataType: s.DataType, Diff: wholeRecord(OpRemoved, s.Flatten(b))})
		}
	}
	return out
}

func wholeRecord(op Op, f Fields) Diff {
	d := Diff{Op: op, Fields: make(map[string]FieldChange, len(f))}
	for name, v := range f {
		if op == OpCreated {
			d.Fields[name] = FieldChange{After: ptr(v)}
		} else {
			d.Fields[name] = FieldChange{Before: ptr(v)}
		}
	}
	return d
}

// rewind applies the before side of d to f in place.
func rewind(f Fields, d Diff) {
	for name, ch := range d.Fields {
		if ch.Before == nil {
			delete(f, name)
			continue
		}
		f[name] = *ch.Before
	}
}

// RewindOne returns current as it was before d was applied.
func RewindOne[T any](s Schema[T], recordID string, current T, d Diff) (T, error) {
	f := maps.Clone(s.Flatten(current))
	if f == nil {
		f = Fields{}
	}
	rewind(f, d)
	return s.Restore(recordID, current, f)
}

// RewindMany returns items as they were before the change to recordID.
// A created record is dropped, a removed record is restored from its
// before values and an updated record gets its before values back.
func RewindMany[T any](s Schema[T], items []T, recordID string, d Diff) ([]T, error) {
	idx := slices.IndexFunc(items, func(v T) bool { return s.ID(v) == recordID })

	switch d.Op {
	case OpCreated:
		if idx < 0 {
			return items, nil
		}
		return slices.Delete(items, idx, idx+1), nil
	case OpRemoved:
		f := Fields{}
		rewind(f, d)
		var zero T
		restored, err := s.Restore(recordID, zero, f)
		if err != nil {
			return nil, err
		}
		return append(items, restored), nil
	case OpUpdated:
		if idx < 0 {
			return nil, fmt.Errorf("%s record %s not present in snapshot", s.DataType, recordID)
		}
		prev, err := RewindOne(s, recordID, items[idx], d)
		if err != nil {
			return nil, err
		}
		items[idx] = prev
		return items, nil
	default:
		return nil, fmt.Errorf("unknown diff op %q", d.Op)
	}
}

func ptr(s string) *string { return &s }
