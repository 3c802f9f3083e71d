package service

import (
	"errors"

	dErrors "consentmgr/pkg/domain-errors"
	"consentmgr/pkg/platform/sentinel"
)

// storeErr translates a gateway failure into a domain error. It is applied
// exactly once, at the call site of the store method.
func storeErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
