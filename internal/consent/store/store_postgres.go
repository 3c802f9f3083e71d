package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	"consentmgr/pkg/platform/sentinel"
	txcontext "consentmgr/pkg/platform/tx"
)

// PostgresStore persists consents and their related records in PostgreSQL.
// Every method runs on the transaction carried by ctx when there is one and
// never commits or rolls back itself.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed consent store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const consentColumns = `id, org_id, client_id, consent_type, current_status, receipt, receipt_schema,
	validity_period, recurring, frequency, created_at, updated_at`

// CreateConsent inserts a consent and any attributes it carries.
func (s *PostgresStore) CreateConsent(ctx context.Context, c *models.Consent) error {
	if c == nil {
		return insertionFailed(entityConsent, fmt.Errorf("consent is required"))
	}
	query := `
		INSERT INTO consents (` + consentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID),
		string(c.OrgID),
		string(c.ClientID),
		c.ConsentType,
		string(c.Status),
		c.Receipt.Data,
		c.Receipt.SchemaVersion,
		c.ValidityPeriod,
		c.Recurring,
		c.Frequency,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return insertionFailed(entityConsent, err)
	}
	if len(c.Attributes) > 0 {
		return s.StoreAttributes(ctx, c.ID, c.Attributes)
	}
	return nil
}

// GetConsent loads a consent, optionally with its attributes.
func (s *PostgresStore) GetConsent(ctx context.Context, consentID id.ConsentID, withAttributes bool) (*models.Consent, error) {
	return s.getConsent(ctx, consentID, withAttributes, false)
}

// LockConsent loads a consent and holds a row lock on it until the
// enclosing transaction ends.
func (s *PostgresStore) LockConsent(ctx context.Context, consentID id.ConsentID) (*models.Consent, error) {
	return s.getConsent(ctx, consentID, false, true)
}

func (s *PostgresStore) getConsent(ctx context.Context, consentID id.ConsentID, withAttributes, forUpdate bool) (*models.Consent, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanConsent(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(consentID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, retrievalFailed(entityConsent, fmt.Errorf("consent %s: %w", consentID, sentinel.ErrNotFound))
		}
		return nil, retrievalFailed(entityConsent, err)
	}
	if withAttributes {
		attrs, err := s.GetAttributes(ctx, consentID, nil)
		if err != nil {
			return nil, err
		}
		c.Attributes = attrs
	}
	return c, nil
}

// UpdateConsentStatus sets the consent's current status.
func (s *PostgresStore) UpdateConsentStatus(ctx context.Context, consentID id.ConsentID, status models.ConsentStatus, updatedAt time.Time) error {
	return s.updateConsentColumn(ctx, consentID, "current_status = $2", string(status), updatedAt)
}

// UpdateConsentReceipt replaces the consent's receipt document.
func (s *PostgresStore) UpdateConsentReceipt(ctx context.Context, consentID id.ConsentID, receipt models.Receipt, updatedAt time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE consents SET receipt = $2, receipt_schema = $3, updated_at = $4 WHERE id = $1
	`, uuid.UUID(consentID), receipt.Data, receipt.SchemaVersion, updatedAt)
	return checkUpdated(entityConsent, res, err)
}

// UpdateConsentValidity sets the consent's validity period in seconds.
func (s *PostgresStore) UpdateConsentValidity(ctx context.Context, consentID id.ConsentID, validityPeriod int64, updatedAt time.Time) error {
	return s.updateConsentColumn(ctx, consentID, "validity_period = $2", validityPeriod, updatedAt)
}

func (s *PostgresStore) updateConsentColumn(ctx context.Context, consentID id.ConsentID, set string, value any, updatedAt time.Time) error {
	query := `UPDATE consents SET ` + set + `, updated_at = $3 WHERE id = $1`
	res, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(consentID), value, updatedAt)
	return checkUpdated(entityConsent, res, err)
}

// GetDetailedConsent loads the consent aggregate.
func (s *PostgresStore) GetDetailedConsent(ctx context.Context, consentID id.ConsentID) (*models.DetailedConsent, error) {
	c, err := s.GetConsent(ctx, consentID, false)
	if err != nil {
		return nil, err
	}
	details, err := s.loadDetails(ctx, []*models.Consent{c})
	if err != nil {
		return nil, err
	}
	return details[0], nil
}

// SearchConsents returns detailed consents matching filter, newest first.
func (s *PostgresStore) SearchConsents(ctx context.Context, filter models.ConsentFilter) ([]*models.DetailedConsent, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.ConsentIDs) > 0 {
		where = append(where, "id = ANY("+arg(consentIDStrings(filter.ConsentIDs))+"::uuid[])")
	}
	if filter.OrgID != "" {
		where = append(where, "org_id = "+arg(string(filter.OrgID)))
	}
	if len(filter.ClientIDs) > 0 {
		where = append(where, "client_id = ANY("+arg(stringsOf(filter.ClientIDs))+"::text[])")
	}
	if len(filter.Types) > 0 {
		where = append(where, "consent_type = ANY("+arg(filter.Types)+"::text[])")
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "current_status = ANY("+arg(stringsOf(filter.Statuses))+"::text[])")
	}
	if len(filter.UserIDs) > 0 {
		where = append(where, `id IN (
			SELECT consent_id FROM consent_authorizations WHERE user_id = ANY(`+arg(stringsOf(filter.UserIDs))+`::text[]))`)
	}
	if !filter.From.IsZero() {
		where = append(where, "updated_at >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "updated_at <= "+arg(filter.To))
	}

	query := `SELECT ` + consentColumns + ` FROM consents`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}
	if filter.ForUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, retrievalFailed(entityConsent, err)
	}
	defer rows.Close()

	var consents []*models.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, retrievalFailed(entityConsent, err)
		}
		consents = append(consents, c)
	}
	if err := rows.Err(); err != nil {
		return nil, retrievalFailed(entityConsent, err)
	}
	if len(consents) == 0 {
		return nil, nil
	}
	return s.loadDetails(ctx, consents)
}

// ListExpired returns IDs of consents in one of statuses whose validity
// period has elapsed at now, oldest first.
func (s *PostgresStore) ListExpired(ctx context.Context, statuses []models.ConsentStatus, now time.Time, limit int) ([]id.ConsentID, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := `
		SELECT id FROM consents
		WHERE current_status = ANY($1::text[])
		  AND validity_period > 0
		  AND created_at + make_interval(secs => validity_period) <= $2
		ORDER BY created_at
		LIMIT $3
	`
	var limitArg any // LIMIT NULL returns every row
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.execer(ctx).QueryContext(ctx, query, stringsOf(statuses), now, limitArg)
	if err != nil {
		return nil, retrievalFailed(entityConsent, err)
	}
	defer rows.Close()

	var ids []id.ConsentID
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, retrievalFailed(entityConsent, err)
		}
		ids = append(ids, id.ConsentID(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, retrievalFailed(entityConsent, err)
	}
	return ids, nil
}

// loadDetails attaches authorizations, mappings and attributes to consents
// using one query per relation.
func (s *PostgresStore) loadDetails(ctx context.Context, consents []*models.Consent) ([]*models.DetailedConsent, error) {
	ids := make([]string, 0, len(consents))
	details := make([]*models.DetailedConsent, 0, len(consents))
	byID := make(map[id.ConsentID]*models.DetailedConsent, len(consents))
	for _, c := range consents {
		ids = append(ids, c.ID.String())
		d := &models.DetailedConsent{Consent: *c}
		d.Attributes = models.Attributes{}
		details = append(details, d)
		byID[c.ID] = d
	}

	auths, err := s.authorizationsForConsents(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, a := range auths {
		d := byID[a.ConsentID]
		d.Authorizations = append(d.Authorizations, a)
	}

	mappings, err := s.mappingsForConsents(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, m := range mappings {
		d := byID[m.consentID]
		d.Mappings = append(d.Mappings, m.MappingResource)
	}

	attrs, err := s.attributesForConsents(ctx, ids)
	if err != nil {
		return nil, err
	}
	for consentID, a := range attrs {
		byID[consentID].Attributes = a
	}
	return details, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsent(row rowScanner) (*models.Consent, error) {
	var (
		c       models.Consent
		rawID   uuid.UUID
		org     string
		client  string
		status  string
		receipt []byte
	)
	if err := row.Scan(&rawID, &org, &client, &c.ConsentType, &status, &receipt, &c.Receipt.SchemaVersion,
		&c.ValidityPeriod, &c.Recurring, &c.Frequency, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ID = id.ConsentID(rawID)
	c.OrgID = id.OrgID(org)
	c.ClientID = id.ClientID(client)
	c.Status = models.ConsentStatus(status)
	c.Receipt.Data = receipt
	return &c, nil
}

func checkUpdated(entity string, res sql.Result, err error) error {
	if err != nil {
		return updateFailed(entity, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return updateFailed(entity, err)
	}
	if rows == 0 {
		return updateFailed(entity, sentinel.ErrNotFound)
	}
	return nil
}

func consentIDStrings(ids []id.ConsentID) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
