package revocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"consentmgr/internal/consent/models"
	id "consentmgr/pkg/domain"
	"consentmgr/pkg/platform/sentinel"
)

const (
	consentKeyPrefix     = "revoked_consent:"
	userRevokedKeyPrefix = "user_revoked_consents:"

	// defaultRecordTTL bounds how long resource servers keep seeing a
	// revocation. It should outlive the longest access token.
	defaultRecordTTL = 24 * time.Hour
)

// RedisRevoker publishes revocations to Redis. Each revoked consent gets a
// JSON record under revoked_consent:<id> and is added to the user's set.
type RedisRevoker struct {
	client *redis.Client
	ttl    time.Duration
}

// Option configures a RedisRevoker.
type Option func(*RedisRevoker)

// WithTTL overrides the record lifetime when greater than zero.
func WithTTL(ttl time.Duration) Option {
	return func(r *RedisRevoker) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// NewRedis creates a revoker backed by client.
func NewRedis(client *redis.Client, opts ...Option) *RedisRevoker {
	r := &RedisRevoker{client: client, ttl: defaultRecordTTL}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func consentKey(consentID id.ConsentID) string {
	return consentKeyPrefix + consentID.String()
}

func userKey(userID id.UserID) string {
	return userRevokedKeyPrefix + userID.String()
}

// RevokeTokens writes the record and the user index in one MULTI/EXEC. It runs
// before the caller's transaction commits, so a record may outlive a rolled
// back revoke until its TTL; repeating the call rewrites the same key and set
// member.
func (r *RedisRevoker) RevokeTokens(ctx context.Context, c *models.DetailedConsent, userID id.UserID) error {
	rec, err := newRecord(ctx, c, userID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal revocation: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, consentKey(rec.ConsentID), data, r.ttl)
		if !userID.IsBlank() {
			pipe.SAdd(ctx, userKey(userID), rec.ConsentID.String())
			pipe.Expire(ctx, userKey(userID), r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish revocation for consent %s: %w", rec.ConsentID, err)
	}
	return nil
}

// Lookup returns the revocation recorded for consentID.
func (r *RedisRevoker) Lookup(ctx context.Context, consentID id.ConsentID) (*Record, error) {
	data, err := r.client.Get(ctx, consentKey(consentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get revocation: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal revocation: %w", err)
	}
	return &rec, nil
}

// IsRevoked reports whether a live revocation exists for consentID.
func (r *RedisRevoker) IsRevoked(ctx context.Context, consentID id.ConsentID) (bool, error) {
	n, err := r.client.Exists(ctx, consentKey(consentID)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// RevokedForUser lists the consent IDs revoked for userID. IDs whose record
// has already expired are still listed until the set itself expires.
func (r *RedisRevoker) RevokedForUser(ctx context.Context, userID id.UserID) ([]id.ConsentID, error) {
	members, err := r.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list revocations: %w", err)
	}
	out := make([]id.ConsentID, 0, len(members))
	for _, m := range members {
		cid, err := id.ParseConsentID(m)
		if err != nil {
			return nil, fmt.Errorf("parse revoked consent id: %w", err)
		}
		out = append(out, cid)
	}
	return out, nil
}

// Health pings Redis.
func (r *RedisRevoker) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
