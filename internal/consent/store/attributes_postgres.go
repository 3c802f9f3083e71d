package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
)

// StoreAttributes inserts attributes for a consent. Existing keys are an error;
// callers replace keys by deleting them first.
func (s *PostgresStore) StoreAttributes(ctx context.Context, consentID id.ConsentID, attrs models.Attributes) error {
	if len(attrs) == 0 {
		return nil
	}
	var (
		values []string
		args   = []any{uuid.UUID(consentID)}
	)
	for _, key := range attrs.Keys() {
		n := len(args)
		values = append(values, fmt.Sprintf("($1, $%d, $%d)", n+1, n+2))
		args = append(args, key, attrs[key])
	}
	query := `INSERT INTO consent_attributes (consent_id, att_key, att_value) VALUES ` + strings.Join(values, ", ")
	if _, err := s.execer(ctx).ExecContext(ctx, query, args...); err != nil {
		return insertionFailed(entityAttribute, err)
	}
	return nil
}

// GetAttributes returns a consent's attributes, limited to keys when given.
func (s *PostgresStore) GetAttributes(ctx context.Context, consentID id.ConsentID, keys []string) (models.Attributes, error) {
	query := `SELECT att_key, att_value FROM consent_attributes WHERE consent_id = $1`
	args := []any{uuid.UUID(consentID)}
	if len(keys) > 0 {
		query += ` AND att_key = ANY($2::text[])`
		args = append(args, keys)
	}
	query += ` ORDER BY att_key`

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, retrievalFailed(entityAttribute, err)
	}
	defer rows.Close()

	attrs := models.Attributes{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, retrievalFailed(entityAttribute, err)
		}
		attrs[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, retrievalFailed(entityAttribute, err)
	}
	return attrs, nil
}

// GetAttributesByKey returns the value of key for every consent that has it.
func (s *PostgresStore) GetAttributesByKey(ctx context.Context, key string) (map[id.ConsentID]string, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT consent_id, att_value FROM consent_attributes WHERE att_key = $1`, key)
	if err != nil {
		return nil, retrievalFailed(entityAttribute, err)
	}
	defer rows.Close()

	out := make(map[id.ConsentID]string)
	for rows.Next() {
		var (
			raw   uuid.UUID
			value string
		)
		if err := rows.Scan(&raw, &value); err != nil {
			return nil, retrievalFailed(entityAttribute, err)
		}
		out[id.ConsentID(raw)] = value
	}
	if err := rows.Err(); err != nil {
		return nil, retrievalFailed(entityAttribute, err)
	}
	return out, nil
}

// FindConsentIDsByAttribute returns consents whose attribute key equals value.
func (s *PostgresStore) FindConsentIDsByAttribute(ctx context.Context, key, value string) ([]id.ConsentID, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT consent_id FROM consent_attributes WHERE att_key = $1 AND att_value = $2 ORDER BY consent_id
	`, key, value)
	if err != nil {
		return nil, retrievalFailed(entityAttribute, err)
	}
	defer rows.Close()

	var out []id.ConsentID
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, retrievalFailed(entityAttribute, err)
		}
		out = append(out, id.ConsentID(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, retrievalFailed(entityAttribute, err)
	}
	return out, nil
}

// DeleteAttributes removes the listed keys from a consent. Missing keys are ignored.
func (s *PostgresStore) DeleteAttributes(ctx context.Context, consentID id.ConsentID, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		DELETE FROM consent_attributes WHERE consent_id = $1 AND att_key = ANY($2::text[])
	`, uuid.UUID(consentID), keys)
	if err != nil {
		return deletionFailed(entityAttribute, err)
	}
	return nil
}

func (s *PostgresStore) attributesForConsents(ctx context.Context, consentIDs []string) (map[id.ConsentID]models.Attributes, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT consent_id, att_key, att_value FROM consent_attributes WHERE consent_id = ANY($1::uuid[])
	`, consentIDs)
	if err != nil {
		return nil, retrievalFailed(entityAttribute, err)
	}
	defer rows.Close()

	out := make(map[id.ConsentID]models.Attributes)
	for rows.Next() {
		var (
			raw  uuid.UUID
			k, v string
		)
		if err := rows.Scan(&raw, &k, &v); err != nil {
			return nil, retrievalFailed(entityAttribute, err)
		}
		cid := id.ConsentID(raw)
		if out[cid] == nil {
			out[cid] = models.Attributes{}
		}
		out[cid][k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, retrievalFailed(entityAttribute, err)
	}
	return out, nil
}
