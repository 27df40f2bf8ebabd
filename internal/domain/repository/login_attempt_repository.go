package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockoutKeyPrefix = "auth:lockout:"

// LockoutState is the failure record kept for one username.
type LockoutState struct {
	FailedCount int
	LockedUntil *time.Time
}

// Locked reports whether the state blocks login attempts at now.
func (s LockoutState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

type LoginAttemptRepository interface {
	Get(ctx context.Context, username string) (LockoutState, error)
	RecordFailure(ctx context.Context, username string, now time.Time, threshold int, lockout time.Duration) (LockoutState, error)
	Clear(ctx context.Context, username string) error
}

type redisLoginAttemptRepository struct {
	rdb *redis.Client
}

func NewRedisLoginAttemptRepository(rdb *redis.Client) LoginAttemptRepository {
	return &redisLoginAttemptRepository{rdb: rdb}
}

func (r *redisLoginAttemptRepository) Get(ctx context.Context, username string) (LockoutState, error) {
	data, err := r.rdb.HGetAll(ctx, lockoutKeyPrefix+username).Result()
	if err != nil {
		return LockoutState{}, fmt.Errorf("redisLoginAttemptRepository.Get: %w", err)
	}

	state := LockoutState{}
	if raw, ok := data["failed_count"]; ok {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			state.FailedCount = n
		}
	}
	if raw, ok := data["locked_until"]; ok && raw != "" {
		if unix, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil && unix > 0 {
			t := time.Unix(unix, 0).UTC()
			state.LockedUntil = &t
		}
	}
	return state, nil
}

// RecordFailure bumps the failure counter and sets locked_until once it reaches threshold.
// The counter and its TTL are written in one transaction, so the key always expires with
// the lockout and a locked username frees itself.
func (r *redisLoginAttemptRepository) RecordFailure(ctx context.Context, username string, now time.Time, threshold int, lockout time.Duration) (LockoutState, error) {
	key := lockoutKeyPrefix + username

	var incr *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.HIncrBy(ctx, key, "failed_count", 1)
		p.Expire(ctx, key, lockout)
		return nil
	})
	if err != nil {
		return LockoutState{}, fmt.Errorf("redisLoginAttemptRepository.RecordFailure: %w", err)
	}

	count := int(incr.Val())
	state := LockoutState{FailedCount: count}
	if count < threshold {
		return state, nil
	}

	lockedUntil := now.Add(lockout).UTC()
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "locked_until", lockedUntil.Unix())
		p.Expire(ctx, key, lockout)
		return nil
	})
	if err != nil {
		return LockoutState{}, fmt.Errorf("redisLoginAttemptRepository.RecordFailure: %w", err)
	}
	state.LockedUntil = &lockedUntil
	return state, nil
}

func (r *redisLoginAttemptRepository) Clear(ctx context.Context, username string) error {
	if err := r.rdb.Del(ctx, lockoutKeyPrefix+username).Err(); err != nil {
		return fmt.Errorf("redisLoginAttemptRepository.Clear: %w", err)
	}
	return nil
}
