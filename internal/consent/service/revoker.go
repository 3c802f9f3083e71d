package service

import (
	"context"
	"errors"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	dErrors "consentmgr/pkg/domain-errors"
)

// TokenRevoker invalidates access tokens issued under a consent. A failure
// aborts the enclosing transaction.
type TokenRevoker interface {
	RevokeTokens(ctx context.Context, consent *models.DetailedConsent, userID id.UserID) error
}

// revokeUser resolves the user the token hook is called for. It runs before
// any write so a mismatch aborts cleanly.
func revokeUser(c *models.DetailedConsent, caller id.UserID) (id.UserID, error) {
	user, ok := c.FirstUser()
	if !ok || user.IsBlank() {
		return "", dErrors.New(dErrors.CodeValidation, "consent has no authorized user to revoke tokens for")
	}
	if !caller.IsBlank() && caller != user {
		return "", dErrors.New(dErrors.CodeUserMismatch, "user does not match the consent's primary user")
	}
	return user, nil
}

func (s *Service) revokeTokens(ctx context.Context, c *models.DetailedConsent, userID id.UserID) error {
	if s.revoker == nil {
		return collaboratorErr(errors.New("no token revoker configured"))
	}
	err := s.revoker.RevokeTokens(ctx, c, userID)
	if s.metrics != nil {
		s.metrics.IncrementTokenRevocation(err)
	}
	if err != nil {
		return collaboratorErr(err)
	}
	return nil
}

// collaboratorErr reports a failed token revocation hook.
func collaboratorErr(err error) error {
	return &dErrors.Error{Code: dErrors.CodeCollaborator, Message: "token revocation failed", Err: err}
}
