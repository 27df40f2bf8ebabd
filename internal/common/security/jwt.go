package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const signingAlg = "HS256"

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrEmptySubject   = errors.New("token subject is empty")
)

// reserved claims are always set by Issue and cannot be supplied by callers.
var reservedClaims = map[string]struct{}{
	"sub": {}, "iat": {}, "exp": {}, "nbf": {}, "jti": {}, "iss": {},
}

// Claims is the decoded body of a token.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	Key      []byte
	Lifetime time.Duration
	Issuer   string
}

// TokenService issues and validates HS256 tokens. It holds no mutable state after
// construction and is safe for concurrent use.
type TokenService struct {
	auth     *jwtauth.JWTAuth
	key      []byte
	lifetime time.Duration
	issuer   string
	now      func() time.Time
}

type TokenOption func(*TokenService)

// WithClock replaces the wall clock used for issuing and validating.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

func NewTokenService(cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	if len(cfg.Key) == 0 {
		return nil, errors.New("security: signing key is empty")
	}
	if cfg.Lifetime <= 0 {
		return nil, errors.New("security: token lifetime must be positive")
	}
	key := append([]byte(nil), cfg.Key...)
	s := &TokenService{
		auth:     jwtauth.New(signingAlg, key, nil),
		key:      key,
		lifetime: cfg.Lifetime,
		issuer:   cfg.Issuer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Lifetime is the validity window given to every issued token.
func (s *TokenService) Lifetime() time.Duration {
	return s.lifetime
}

// Issue signs a token for subject carrying the extra claims. iat is the current time and
// exp is iat plus the configured lifetime; each token gets a fresh jti.
func (s *TokenService) Issue(subject string, claims map[string]any) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}

	body := make(map[string]interface{}, len(claims)+6)
	for k, v := range claims {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		body[k] = v
	}

	now := s.now()
	body["sub"] = subject
	body["jti"] = uuid.NewString()
	jwtauth.SetIssuedAt(body, now)
	jwtauth.SetExpiry(body, now.Add(s.lifetime))
	if s.issuer != "" {
		body["iss"] = s.issuer
	}

	_, tokenString, err := s.auth.Encode(body)
	if err != nil {
		return "", fmt.Errorf("security: sign token: %w", err)
	}
	return tokenString, nil
}

// ExtractSubject reads the subject without verifying the signature or expiry. The result
// is only a lookup key; it must never be used to grant access.
func (s *TokenService) ExtractSubject(tokenString string) (string, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, ErrEmptySubject)
	}
	return claims.Subject, nil
}

// Parse fully verifies tokenString and returns its claims.
func (s *TokenService) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc, s.parserOptions()...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

// IsValid reports whether tokenString carries a good signature, has not reached its
// expiry on this service's clock, and names expectedSubject. It never panics or errors.
func (s *TokenService) IsValid(tokenString, expectedSubject string) bool {
	if tokenString == "" || expectedSubject == "" {
		return false
	}
	claims, err := s.Parse(tokenString)
	if err != nil {
		return false
	}
	return claims.Subject == expectedSubject
}

func (s *TokenService) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingAlg}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	return opts
}

func (s *TokenService) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	return s.key, nil
}
