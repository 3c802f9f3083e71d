package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
)

// CreateHistoryEntries appends amendment history rows in one statement.
func (s *PostgresStore) CreateHistoryEntries(ctx context.Context, entries []*models.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var (
		values []string
		args   []any
	)
	for _, e := range entries {
		n := len(args)
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d::jsonb, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6))
		args = append(args,
			uuid.UUID(e.HistoryID),
			e.RecordID,
			string(e.DataType),
			string(e.ChangedValues),
			string(e.Reason),
			e.EffectiveAt,
		)
	}
	query := `
		INSERT INTO consent_history (history_id, record_id, data_type, changed_values, reason, effective_at)
		VALUES ` + strings.Join(values, ", ")
	if _, err := s.execer(ctx).ExecContext(ctx, query, args...); err != nil {
		return insertionFailed(entityHistory, err)
	}
	return nil
}

// GetHistoryEntries returns every history row referencing one of recordIDs
// in reverse write order.
func (s *PostgresStore) GetHistoryEntries(ctx context.Context, recordIDs []string) ([]*models.HistoryEntry, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT history_id, record_id, data_type, changed_values::text, reason, effective_at
		FROM consent_history
		WHERE record_id = ANY($1::text[])
		ORDER BY seq DESC
	`, recordIDs)
	if err != nil {
		return nil, retrievalFailed(entityHistory, err)
	}
	defer rows.Close()

	var out []*models.HistoryEntry
	for rows.Next() {
		var (
			e        models.HistoryEntry
			raw      uuid.UUID
			dataType string
			changed  string
			reason   string
		)
		if err := rows.Scan(&raw, &e.RecordID, &dataType, &changed, &reason, &e.EffectiveAt); err != nil {
			return nil, retrievalFailed(entityHistory, err)
		}
		e.HistoryID = id.HistoryID(raw)
		e.DataType = models.HistoryDataType(dataType)
		e.ChangedValues = []byte(changed)
		e.Reason = models.Reason(reason)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, retrievalFailed(entityHistory, err)
	}
	return out, nil
}
