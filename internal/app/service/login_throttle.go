package service

import (
	"context"
	"time"

	"consentido_auth/internal/domain/repository"
)

// LoginThrottle locks a username after repeated failed logins. A nil *LoginThrottle
// is valid and never locks.
type LoginThrottle struct {
	attempts    repository.LoginAttemptRepository
	maxFailures int
	lockout     time.Duration
	now         func() time.Time
}

func NewLoginThrottle(attempts repository.LoginAttemptRepository, maxFailures int, lockout time.Duration) *LoginThrottle {
	return &LoginThrottle{
		attempts:    attempts,
		maxFailures: maxFailures,
		lockout:     lockout,
		now:         time.Now,
	}
}

func (t *LoginThrottle) Locked(ctx context.Context, username string) (bool, error) {
	if t == nil {
		return false, nil
	}
	state, err := t.attempts.Get(ctx, username)
	if err != nil {
		return false, err
	}
	return state.Locked(t.now()), nil
}

func (t *LoginThrottle) Failure(ctx context.Context, username string) (repository.LockoutState, error) {
	if t == nil {
		return repository.LockoutState{}, nil
	}
	return t.attempts.RecordFailure(ctx, username, t.now(), t.maxFailures, t.lockout)
}

func (t *LoginThrottle) Success(ctx context.Context, username string) error {
	if t == nil {
		return nil
	}
	return t.attempts.Clear(ctx, username)
}
