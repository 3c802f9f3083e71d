// Package tracer is the span abstraction the consent orchestrator emits
// traces through. NoopTracer serves tests; OTelTracer adapts OpenTelemetry.
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Span is an active trace span. End must be called exactly once.
type Span interface {
	// End completes the span and marks it failed when err is non-nil.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key/value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute { return Attribute{Key: key, Value: value} }

func Bool(key string, value bool) Attribute { return Attribute{Key: key, Value: value} }

func Int(key string, value int) Attribute { return Attribute{Key: key, Value: value} }

// HashUserID returns a short SHA-256 prefix of a user ID so traces can be
// correlated without carrying the identifier itself.
func HashUserID(userID string) string {
	if userID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:8])
}

// Span names, one per orchestrator operation.
const (
	SpanCreate              = "consent.create"
	SpanCreateExclusive     = "consent.create_exclusive"
	SpanStoreDetailed       = "consent.store_detailed"
	SpanBindAccounts        = "consent.bind_accounts"
	SpanUpdateAndAuthorize  = "consent.update_and_authorize"
	SpanReauthorizeExisting = "consent.reauthorize_existing"
	SpanReauthorizeNewAuth  = "consent.reauthorize_new_auth"
	SpanRevoke              = "consent.revoke"
	SpanRevokeApplicable    = "consent.revoke_applicable"
	SpanAmend               = "consent.amend"
	SpanUpdateStatus        = "consent.update_status"
	SpanExpire              = "consent.expire"
	SpanStoreHistory        = "consent.history.store"
	SpanGetHistory          = "consent.history.get"
	SpanAuthorization       = "consent.authorization"
	SpanMappings            = "consent.mappings"
	SpanAttributes          = "consent.attributes"
	SpanQuery               = "consent.query"
	SpanConsentFile         = "consent.file"
)

// Attribute keys.
const (
	AttrConsentID    = "consent.id"
	AttrClientID     = "consent.client_id"
	AttrStatus       = "consent.status"
	AttrUserHash     = "consent.user_hash"
	AttrHistoryRows  = "history.rows"
	AttrConsentCount = "consent.count"
	AttrOperation    = "consent.operation"
)

// Event names.
const (
	EventTokensRevoked = "tokens.revoked"
)
