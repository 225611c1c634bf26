package repository

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/citygrid-api/pkg/cache"
)

const maxPhoneCodeAttempts = 5

// PhoneCodeRepository stores pending phone verification codes.
type PhoneCodeRepository struct {
	client *redis.Client
}

// NewPhoneCodeRepository creates a new instance of PhoneCodeRepository.
func NewPhoneCodeRepository(client *redis.Client) *PhoneCodeRepository {
	return &PhoneCodeRepository{client: client}
}

func phoneCodeKey(accountID string) string     { return cache.Key("phone", accountID, "code") }
func phoneAttemptsKey(accountID string) string { return cache.Key("phone", accountID, "attempts") }

// Store replaces any pending code for the account.
func (r *PhoneCodeRepository) Store(ctx context.Context, accountID, code string, ttl time.Duration) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, phoneCodeKey(accountID), code, ttl)
		pipe.Del(ctx, phoneAttemptsKey(accountID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store phone code: %w", err)
	}
	return nil
}

// Consume checks code and deletes it on success. After maxPhoneCodeAttempts
// wrong guesses the pending code is discarded.
func (r *PhoneCodeRepository) Consume(ctx context.Context, accountID, code string) (bool, error) {
	stored, err := r.client.Get(ctx, phoneCodeKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis read phone code: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) == 1 {
		if err := r.client.Del(ctx, phoneCodeKey(accountID), phoneAttemptsKey(accountID)).Err(); err != nil {
			return false, fmt.Errorf("redis delete phone code: %w", err)
		}
		return true, nil
	}

	attempts, err := r.client.Incr(ctx, phoneAttemptsKey(accountID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis phone attempts: %w", err)
	}
	if attempts >= maxPhoneCodeAttempts {
		_ = r.client.Del(ctx, phoneCodeKey(accountID), phoneAttemptsKey(accountID)).Err()
	}
	return false, nil
}
