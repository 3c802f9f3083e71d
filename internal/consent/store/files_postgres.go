package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	"consentmgr/pkg/platform/sentinel"
)

// StoreConsentFile inserts the consent's file. A second file for the same
// consent is a unique violation.
func (s *PostgresStore) StoreConsentFile(ctx context.Context, f *models.ConsentFile) error {
	if f == nil {
		return insertionFailed(entityFile, fmt.Errorf("consent file is required"))
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO consent_files (consent_id, content, created_at) VALUES ($1, $2, $3)
	`, uuid.UUID(f.ConsentID), f.Content, f.CreatedAt)
	if err != nil {
		return insertionFailed(entityFile, err)
	}
	return nil
}

func (s *PostgresStore) GetConsentFile(ctx context.Context, consentID id.ConsentID) (*models.ConsentFile, error) {
	var (
		f   models.ConsentFile
		raw uuid.UUID
	)
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT consent_id, content, created_at FROM consent_files WHERE consent_id = $1
	`, uuid.UUID(consentID)).Scan(&raw, &f.Content, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, retrievalFailed(entityFile, fmt.Errorf("consent file %s: %w", consentID, sentinel.ErrNotFound))
		}
		return nil, retrievalFailed(entityFile, err)
	}
	f.ConsentID = id.ConsentID(raw)
	return &f, nil
}
