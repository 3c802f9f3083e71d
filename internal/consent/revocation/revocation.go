// Package revocation records revoked consents so resource servers stop
// honouring the tokens issued under them.
package revocation

import (
	"context"
	"errors"
	"time"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	"consentmgr/pkg/requestcontext"
)

// Record describes one revocation as resource servers see it.
type Record struct {
	ConsentID id.ConsentID `json:"consent_id"`
	ClientID  id.ClientID  `json:"client_id"`
	UserID    id.UserID    `json:"user_id"`
	Status    string       `json:"status"`
	RevokedAt time.Time    `json:"revoked_at"`
}

var errNoConsent = errors.New("revocation: consent is required")

func newRecord(ctx context.Context, c *models.DetailedConsent, userID id.UserID) (Record, error) {
	if c == nil || c.ID.IsNil() {
		return Record{}, errNoConsent
	}
	return Record{
		ConsentID: c.ID,
		ClientID:  c.ClientID,
		UserID:    userID,
		Status:    string(c.Status),
		RevokedAt: requestcontext.Now(ctx).UTC(),
	}, nil
}
