package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"consentido_auth/internal/common"
	"consentido_auth/internal/common/security"
	"consentido_auth/internal/domain/model"
	"consentido_auth/internal/domain/repository"
)

// CredentialVerifier checks a username/secret pair and hashes new secrets.
// Verify returns common.ErrInvalidCredentials on a mismatch.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, secret string) error
	Hash(secret string) (string, error)
}

type TokenService interface {
	Issue(subject string, claims map[string]any) (string, error)
	ExtractSubject(token string) (string, error)
	IsValid(token, expectedSubject string) bool
	Lifetime() time.Duration
}

// AuthService runs the login, register and verify flows. Requests share no state
// besides the collaborators passed in.
type AuthService struct {
	userRepo    repository.UserRepository
	credentials CredentialVerifier
	tokens      TokenService
	throttle    *LoginThrottle
	signupRoles map[string]struct{}
	logger      *slog.Logger
}

type AuthOption func(*AuthService)

func WithThrottle(t *LoginThrottle) AuthOption {
	return func(s *AuthService) { s.throttle = t }
}

// WithSignupRoles sets the roles a client may ask for at registration.
func WithSignupRoles(roles ...string) AuthOption {
	return func(s *AuthService) {
		s.signupRoles = make(map[string]struct{}, len(roles))
		for _, role := range roles {
			s.signupRoles[strings.ToLower(strings.TrimSpace(role))] = struct{}{}
		}
	}
}

func WithLogger(logger *slog.Logger) AuthOption {
	return func(s *AuthService) { s.logger = logger }
}

func NewAuthService(userRepo repository.UserRepository, credentials CredentialVerifier, tokens TokenService, opts ...AuthOption) *AuthService {
	s := &AuthService{
		userRepo:    userRepo,
		credentials: credentials,
		tokens:      tokens,
		signupRoles: map[string]struct{}{model.RoleUser: {}},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type LoginRequest struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
	Email    string `json:"email"`
	Role     string `json:"role,omitempty"`
}

type AuthResult struct {
	Token string `json:"token"`
	// ExpiresIn is the token lifetime in seconds.
	ExpiresIn int64         `json:"expires_in"`
	Profile   model.Profile `json:"profile"`
}

type RegisterResult struct {
	Message string `json:"message"`
	model.Profile
}

type VerifyResult struct {
	Valid bool `json:"valid"`
	model.Profile
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || strings.TrimSpace(req.Secret) == "" {
		return nil, common.NewError(common.ErrBadRequest, "username and secret are required")
	}

	locked, err := s.throttle.Locked(ctx, username)
	if err != nil {
		s.logger.WarnContext(ctx, "login throttle unavailable", "error", err)
	}
	if locked {
		s.logger.WarnContext(ctx, "login rejected while locked out", "username", username)
		return nil, common.NewError(common.ErrTooManyRequests, "too many failed attempts, try again later")
	}

	if err := s.credentials.Verify(ctx, username, req.Secret); err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			s.recordFailure(ctx, username)
			// Same message whether or not the username exists.
			return nil, common.NewError(common.ErrInvalidCredentials, "invalid username or secret")
		}
		return nil, s.internal(ctx, "credential check failed", err)
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, s.internal(ctx, "authenticated user missing from directory", err)
		}
		return nil, s.internal(ctx, "user lookup failed", err)
	}

	if err := s.throttle.Success(ctx, username); err != nil {
		s.logger.WarnContext(ctx, "failed to clear login failures", "username", username, "error", err)
	}

	token, err := s.tokens.Issue(user.Username, map[string]any{"role": user.Role})
	if err != nil {
		return nil, s.internal(ctx, "token issuance failed", err)
	}

	return &AuthResult{
		Token:     token,
		ExpiresIn: int64(s.tokens.Lifetime() / time.Second),
		Profile:   user.Profile(),
	}, nil
}

// Register creates a user. Two concurrent registrations of one username can both pass
// the existence check; the directory's uniqueness constraint turns the loser into a Conflict.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	switch {
	case username == "":
		return nil, common.NewError(common.ErrBadRequest, "username is required")
	case strings.TrimSpace(req.Secret) == "":
		return nil, common.NewError(common.ErrBadRequest, "secret is required")
	case email == "":
		return nil, common.NewError(common.ErrBadRequest, "email is required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, common.NewError(common.ErrBadRequest, "email is invalid")
	}

	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = model.RoleUser
	} else if _, ok := s.signupRoles[role]; !ok {
		return nil, common.NewError(common.ErrBadRequest, fmt.Sprintf("role %q is not allowed", role))
	}

	exists, err := s.userRepo.ExistsByUsername(ctx, username)
	if err != nil {
		return nil, s.internal(ctx, "user lookup failed", err)
	}
	if exists {
		return nil, common.NewError(common.ErrConflict, "username is already registered")
	}

	hashed, err := s.credentials.Hash(req.Secret)
	if err != nil {
		if errors.Is(err, security.ErrSecretTooLong) {
			return nil, common.NewError(common.ErrBadRequest, "secret must be at most 72 bytes")
		}
		return nil, s.internal(ctx, "failed to hash secret", err)
	}

	user := &model.User{
		Username:       username,
		Email:          email,
		HashedPassword: hashed,
		Role:           role,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, common.NewError(common.ErrConflict, "username is already registered")
		}
		return nil, s.internal(ctx, "failed to create user", err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "username", user.Username)
	return &RegisterResult{Message: "user registered successfully", Profile: user.Profile()}, nil
}

// Verify checks token and returns the profile of the user it was issued to. The
// profile, role included, comes from the directory, not from the token body.
func (s *AuthService) Verify(ctx context.Context, token string) (*VerifyResult, error) {
	if token == "" {
		return nil, common.NewError(common.ErrInvalidToken, "token is required")
	}

	subject, err := s.tokens.ExtractSubject(token)
	if err != nil {
		return nil, common.WrapError(common.ErrInvalidToken, "token is invalid", err)
	}

	user, err := s.userRepo.FindByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewError(common.ErrInvalidToken, "token is invalid")
		}
		return nil, s.internal(ctx, "user lookup failed", err)
	}

	if !s.tokens.IsValid(token, subject) {
		return nil, common.NewError(common.ErrInvalidToken, "token is invalid")
	}

	return &VerifyResult{Valid: true, Profile: user.Profile()}, nil
}

func (s *AuthService) recordFailure(ctx context.Context, username string) {
	state, err := s.throttle.Failure(ctx, username)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record login failure", "username", username, "error", err)
		return
	}
	if state.LockedUntil != nil {
		s.logger.WarnContext(ctx, "login lockout triggered", "username", username, "locked_until", *state.LockedUntil)
	}
}

func (s *AuthService) internal(ctx context.Context, msg string, err error) error {
	s.logger.ErrorContext(ctx, msg, "error", err)
	return common.WrapError(common.ErrInternalServer, "internal server error", fmt.Errorf("%s: %w", msg, err))
}
