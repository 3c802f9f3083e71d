package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	"consentmgr/pkg/platform/sentinel"
)

const authorizationColumns = `id, consent_id, auth_type, auth_status, user_id, updated_at`

// CreateAuthorization inserts an authorization resource.
func (s *PostgresStore) CreateAuthorization(ctx context.Context, a *models.AuthorizationResource) error {
	if a == nil {
		return insertionFailed(entityAuthorization, fmt.Errorf("authorization resource is required"))
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO consent_authorizations (`+authorizationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		uuid.UUID(a.ID),
		uuid.UUID(a.ConsentID),
		string(a.Type),
		string(a.Status),
		nullableUser(a.UserID),
		a.UpdatedAt,
	)
	if err != nil {
		return insertionFailed(entityAuthorization, err)
	}
	return nil
}

// GetAuthorization loads one authorization resource.
func (s *PostgresStore) GetAuthorization(ctx context.Context, authID id.AuthorizationID) (*models.AuthorizationResource, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+authorizationColumns+` FROM consent_authorizations WHERE id = $1`, uuid.UUID(authID))
	a, err := scanAuthorization(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, retrievalFailed(entityAuthorization, fmt.Errorf("authorization %s: %w", authID, sentinel.ErrNotFound))
		}
		return nil, retrievalFailed(entityAuthorization, err)
	}
	return a, nil
}

// SearchAuthorizations lists authorization resources by consent and/or user.
// Zero-valued filters are ignored; results are in creation order.
func (s *PostgresStore) SearchAuthorizations(ctx context.Context, consentID id.ConsentID, userID id.UserID) ([]*models.AuthorizationResource, error) {
	query := `
		SELECT ` + authorizationColumns + ` FROM consent_authorizations
		WHERE ($1::uuid IS NULL OR consent_id = $1)
		  AND ($2::text IS NULL OR user_id = $2)
		ORDER BY seq
	`
	var consentArg any
	if !consentID.IsNil() {
		consentArg = uuid.UUID(consentID)
	}
	rows, err := s.execer(ctx).QueryContext(ctx, query, consentArg, nullableUser(userID))
	if err != nil {
		return nil, retrievalFailed(entityAuthorization, err)
	}
	return collectAuthorizations(rows)
}

// UpdateAuthorizationStatus sets an authorization resource's status.
func (s *PostgresStore) UpdateAuthorizationStatus(ctx context.Context, authID id.AuthorizationID, status models.AuthStatus, updatedAt time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE consent_authorizations SET auth_status = $2, updated_at = $3 WHERE id = $1
	`, uuid.UUID(authID), string(status), updatedAt)
	return checkUpdated(entityAuthorization, res, err)
}

// UpdateAuthorizationUser binds an authorization resource to a user.
func (s *PostgresStore) UpdateAuthorizationUser(ctx context.Context, authID id.AuthorizationID, userID id.UserID, updatedAt time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE consent_authorizations SET user_id = $2, updated_at = $3 WHERE id = $1
	`, uuid.UUID(authID), nullableUser(userID), updatedAt)
	return checkUpdated(entityAuthorization, res, err)
}

func (s *PostgresStore) authorizationsForConsents(ctx context.Context, consentIDs []string) ([]*models.AuthorizationResource, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+authorizationColumns+` FROM consent_authorizations
		WHERE consent_id = ANY($1::uuid[])
		ORDER BY seq
	`, consentIDs)
	if err != nil {
		return nil, retrievalFailed(entityAuthorization, err)
	}
	return collectAuthorizations(rows)
}

func collectAuthorizations(rows *sql.Rows) ([]*models.AuthorizationResource, error) {
	defer rows.Close()
	var out []*models.AuthorizationResource
	for rows.Next() {
		a, err := scanAuthorization(rows)
		if err != nil {
			return nil, retrievalFailed(entityAuthorization, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, retrievalFailed(entityAuthorization, err)
	}
	return out, nil
}

func scanAuthorization(row rowScanner) (*models.AuthorizationResource, error) {
	var (
		a         models.AuthorizationResource
		rawID     uuid.UUID
		consentID uuid.UUID
		authType  string
		status    string
		userID    sql.NullString
	)
	if err := row.Scan(&rawID, &consentID, &authType, &status, &userID, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ID = id.AuthorizationID(rawID)
	a.ConsentID = id.ConsentID(consentID)
	a.Type = models.AuthType(authType)
	a.Status = models.AuthStatus(status)
	a.UserID = id.UserID(userID.String)
	return &a, nil
}

func nullableUser(userID id.UserID) sql.NullString {
	if userID.IsBlank() {
		return sql.NullString{}
	}
	return sql.NullString{String: string(userID), Valid: true}
}
