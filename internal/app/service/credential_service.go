package service

import (
	"context"
	"errors"
	"fmt"

	"consentido_auth/internal/common"
	"consentido_auth/internal/common/security"
	"consentido_auth/internal/domain/repository"
)

// CredentialService checks plaintext secrets against the hashes held by the user
// directory and produces hashes for new users.
type CredentialService struct {
	userRepo  repository.UserRepository
	hasher    *security.PasswordHasher
	dummyHash string
}

func NewCredentialService(userRepo repository.UserRepository, hasher *security.PasswordHasher) (*CredentialService, error) {
	// Unknown usernames are compared against this hash so both paths cost one bcrypt run.
	dummy, err := hasher.HashPassword("consentido-unknown-user")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare credential service: %w", err)
	}
	return &CredentialService{userRepo: userRepo, hasher: hasher, dummyHash: dummy}, nil
}

// Verify returns nil when secret matches the stored hash for username, and
// common.ErrInvalidCredentials when it does not or the user is unknown.
func (s *CredentialService) Verify(ctx context.Context, username, secret string) error {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.hasher.CheckPasswordHash(secret, s.dummyHash)
			return common.ErrInvalidCredentials
		}
		return fmt.Errorf("failed to find user: %w", err)
	}
	if !s.hasher.CheckPasswordHash(secret, user.HashedPassword) {
		return common.ErrInvalidCredentials
	}
	return nil
}

func (s *CredentialService) Hash(secret string) (string, error) {
	return s.hasher.HashPassword(secret)
}
