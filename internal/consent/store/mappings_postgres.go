package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	"consentmgr/pkg/platform/sentinel"
)

// CreateMappings inserts mappings in one statement so that either every row
// is written or none is.
func (s *PostgresStore) CreateMappings(ctx context.Context, mappings []*models.MappingResource) error {
	if len(mappings) == 0 {
		return nil
	}
	var (
		values []string
		args   []any
	)
	for _, m := range mappings {
		n := len(args)
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5))
		args = append(args,
			uuid.UUID(m.ID),
			uuid.UUID(m.AuthorizationID),
			m.AccountID,
			m.Permission,
			string(m.Status),
		)
	}
	query := `
		INSERT INTO consent_mappings (id, auth_id, account_id, permission, mapping_status)
		VALUES ` + strings.Join(values, ", ")
	if _, err := s.execer(ctx).ExecContext(ctx, query, args...); err != nil {
		return insertionFailed(entityMapping, err)
	}
	return nil
}

// GetMappings lists the mappings bound to an authorization resource.
func (s *PostgresStore) GetMappings(ctx context.Context, authID id.AuthorizationID) ([]*models.MappingResource, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT m.id, m.auth_id, m.account_id, m.permission, m.mapping_status, a.consent_id
		FROM consent_mappings m
		JOIN consent_authorizations a ON a.id = m.auth_id
		WHERE m.auth_id = $1
		ORDER BY m.seq
	`, uuid.UUID(authID))
	if err != nil {
		return nil, retrievalFailed(entityMapping, err)
	}
	found, err := collectMappings(rows)
	if err != nil {
		return nil, err
	}
	out := make([]*models.MappingResource, 0, len(found))
	for _, m := range found {
		out = append(out, m.MappingResource)
	}
	return out, nil
}

// UpdateMappingStatus sets the status of every listed mapping in one statement.
// It fails with sentinel.ErrNotFound when any ID does not exist.
func (s *PostgresStore) UpdateMappingStatus(ctx context.Context, mappingIDs []id.MappingID, status models.MappingStatus) error {
	if len(mappingIDs) == 0 {
		return nil
	}
	ids := make([]string, len(mappingIDs))
	for i, m := range mappingIDs {
		ids[i] = m.String()
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE consent_mappings SET mapping_status = $2 WHERE id = ANY($1::uuid[])
	`, ids, string(status))
	if err != nil {
		return updateFailed(entityMapping, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return updateFailed(entityMapping, err)
	}
	if n != int64(len(uniqueMappingIDs(mappingIDs))) {
		return updateFailed(entityMapping, fmt.Errorf("updated %d of %d mappings: %w", n, len(mappingIDs), sentinel.ErrNotFound))
	}
	return nil
}

// UpdateMappingPermission replaces the permission of one mapping.
func (s *PostgresStore) UpdateMappingPermission(ctx context.Context, mappingID id.MappingID, permission string) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE consent_mappings SET permission = $2 WHERE id = $1
	`, uuid.UUID(mappingID), permission)
	if err != nil {
		return updateFailed(entityMapping, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return updateFailed(entityMapping, err)
	}
	if n == 0 {
		return updateFailed(entityMapping, fmt.Errorf("mapping %s: %w", mappingID, sentinel.ErrNotFound))
	}
	return nil
}

type consentMapping struct {
	*models.MappingResource
	consentID id.ConsentID
}

func (s *PostgresStore) mappingsForConsents(ctx context.Context, consentIDs []string) ([]consentMapping, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT m.id, m.auth_id, m.account_id, m.permission, m.mapping_status, a.consent_id
		FROM consent_mappings m
		JOIN consent_authorizations a ON a.id = m.auth_id
		WHERE a.consent_id = ANY($1::uuid[])
		ORDER BY m.seq
	`, consentIDs)
	if err != nil {
		return nil, retrievalFailed(entityMapping, err)
	}
	return collectMappings(rows)
}

type mappingRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func collectMappings(rows mappingRows) ([]consentMapping, error) {
	defer rows.Close()
	var out []consentMapping
	for rows.Next() {
		var (
			m         models.MappingResource
			rawID     uuid.UUID
			authID    uuid.UUID
			status    string
			consentID uuid.UUID
		)
		if err := rows.Scan(&rawID, &authID, &m.AccountID, &m.Permission, &status, &consentID); err != nil {
			return nil, retrievalFailed(entityMapping, err)
		}
		m.ID = id.MappingID(rawID)
		m.AuthorizationID = id.AuthorizationID(authID)
		m.Status = models.MappingStatus(status)
		out = append(out, consentMapping{MappingResource: &m, consentID: id.ConsentID(consentID)})
	}
	if err := rows.Err(); err != nil {
		return nil, retrievalFailed(entityMapping, err)
	}
	return out, nil
}

func uniqueMappingIDs(ids []id.MappingID) map[id.MappingID]struct{} {
	set := make(map[id.MappingID]struct{}, len(ids))
	for _, m := range ids {
		set[m] = struct{}{}
	}
	return set
}
