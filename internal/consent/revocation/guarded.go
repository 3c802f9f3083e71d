package revocation

import (
	"context"
	"errors"
	"log/slog"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	"consentmgr/pkg/platform/circuit"
)

// ErrUnavailable is returned while the revocation backend's circuit is open.
var ErrUnavailable = errors.New("revocation: backend unavailable")

// Revoker is the hook the consent service calls on revocation.
type Revoker interface {
	RevokeTokens(ctx context.Context, c *models.DetailedConsent, userID id.UserID) error
}

// Guarded fails fast while the wrapped revoker keeps failing, so revocations
// abort quickly instead of holding a consent row lock for a full timeout.
type Guarded struct {
	next    Revoker
	breaker *circuit.Breaker
}

// NewGuarded wraps next with breaker. A nil breaker gets the defaults.
func NewGuarded(next Revoker, breaker *circuit.Breaker, logger *slog.Logger) *Guarded {
	if breaker == nil {
		breaker = circuit.New("token-revocation", circuit.WithStateChange(logStateChange(logger)))
	}
	return &Guarded{next: next, breaker: breaker}
}

func (g *Guarded) RevokeTokens(ctx context.Context, c *models.DetailedConsent, userID id.UserID) error {
	if !g.breaker.Allow() {
		return ErrUnavailable
	}
	err := g.next.RevokeTokens(ctx, c, userID)
	g.breaker.Record(err)
	return err
}

func logStateChange(logger *slog.Logger) func(string, circuit.State, circuit.State) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(name string, from, to circuit.State) {
		logger.Warn("circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
	}
}
