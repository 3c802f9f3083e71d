package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
)

// CreateStatusAudit appends a status audit record.
func (s *PostgresStore) CreateStatusAudit(ctx context.Context, r *models.StatusAuditRecord) error {
	if r == nil {
		return insertionFailed(entityStatusAudit, fmt.Errorf("status audit record is required"))
	}
	var previous sql.NullString
	if r.PreviousStatus != "" {
		previous = sql.NullString{String: string(r.PreviousStatus), Valid: true}
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO consent_status_audit (id, consent_id, current_status, previous_status, reason, action_by, action_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		uuid.UUID(r.ID),
		uuid.UUID(r.ConsentID),
		string(r.Status),
		previous,
		string(r.Reason),
		nullableUser(r.ActionBy),
		r.ActionTime,
	)
	if err != nil {
		return insertionFailed(entityStatusAudit, err)
	}
	return nil
}

// SearchStatusAudits lists audit records matching filter in action-time order.
func (s *PostgresStore) SearchStatusAudits(ctx context.Context, filter models.StatusAuditFilter) ([]*models.StatusAuditRecord, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if consentIDs := filter.ConsentSet(); len(consentIDs) > 0 {
		ids := make([]string, len(consentIDs))
		for i, c := range consentIDs {
			ids[i] = c.String()
		}
		where = append(where, "consent_id = ANY("+arg(ids)+"::uuid[])")
	}
	if filter.Status != "" {
		where = append(where, "current_status = "+arg(string(filter.Status)))
	}
	if filter.ActionBy != "" {
		where = append(where, "action_by = "+arg(string(filter.ActionBy)))
	}
	if !filter.From.IsZero() {
		where = append(where, "action_time >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "action_time <= "+arg(filter.To))
	}

	query := `SELECT id, consent_id, current_status, previous_status, reason, action_by, action_time
		FROM consent_status_audit`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY action_time, seq`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, retrievalFailed(entityStatusAudit, err)
	}
	defer rows.Close()

	var out []*models.StatusAuditRecord
	for rows.Next() {
		var (
			r         models.StatusAuditRecord
			rawID     uuid.UUID
			consentID uuid.UUID
			status    string
			previous  sql.NullString
			reason    string
			actionBy  sql.NullString
		)
		if err := rows.Scan(&rawID, &consentID, &status, &previous, &reason, &actionBy, &r.ActionTime); err != nil {
			return nil, retrievalFailed(entityStatusAudit, err)
		}
		r.ID = id.StatusAuditID(rawID)
		r.ConsentID = id.ConsentID(consentID)
		r.Status = models.ConsentStatus(status)
		r.PreviousStatus = models.ConsentStatus(previous.String)
		r.Reason = models.Reason(reason)
		r.ActionBy = id.UserID(actionBy.String)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, retrievalFailed(entityStatusAudit, err)
	}
	return out, nil
}
