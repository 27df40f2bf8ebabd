package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	UserStorePostgres = "postgres"
	UserStoreMemory   = "memory"

	minJWTKeyLength = 32

	maxJWTExpirationHours  = 24 * 366
	maxLoginLockoutMinutes = 60 * 24 * 30
	maxRequestTimeoutSecs  = 600
)

type Config struct {
	AppEnv   string
	APIPort  string
	LogLevel string

	RequestTimeout time.Duration

	JWTKey     []byte
	JWTExp     time.Duration
	JWTIssuer  string
	BcryptCost int

	UserStore string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	DBConnStr  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LoginMaxFailures int
	LoginLockout     time.Duration

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	SignupRoles []string

	// Warnings collects non-fatal problems found while loading, logged by the caller
	// once a logger exists.
	Warnings []string
}

// loader resolves keys from the environment first, then from the optional YAML file.
type loader struct {
	file map[string]string
}

// Load reads configuration from the environment. A .env file in the working directory is
// applied first when present, and CONFIG_FILE may point at a flat YAML file of the same keys
// whose values sit beneath the environment.
func Load() (*Config, error) {
	var warnings []string
	if err := godotenv.Load(); err != nil {
		warnings = append(warnings, "no .env file found, relying on environment variables")
	}

	l := &loader{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readYAML(path)
		if err != nil {
			return nil, err
		}
		l.file = file
	}

	cfg := &Config{
		AppEnv:     strings.ToLower(l.get("APP_ENV", EnvProduction)),
		APIPort:    l.get("API_PORT", "8080"),
		LogLevel:   l.get("LOG_LEVEL", "info"),
		JWTKey:     []byte(l.get("JWT_SECRET", "")),
		JWTIssuer:  l.get("JWT_ISSUER", ""),
		BcryptCost: l.getInt("BCRYPT_COST", 10),
		UserStore:  strings.ToLower(l.get("USER_STORE", UserStorePostgres)),

		DBHost:     l.get("DB_HOST", "localhost"),
		DBPort:     l.get("DB_PORT", "5432"),
		DBUser:     l.get("DB_USER", "user"),
		DBPassword: l.get("DB_PASSWORD", "password"),
		DBName:     l.get("DB_NAME", "consentido"),
		DBSslMode:  l.get("DB_SSLMODE", "disable"),

		RedisAddr:     l.get("REDIS_ADDR", ""),
		RedisPassword: l.get("REDIS_PASSWORD", ""),
		RedisDB:       l.getInt("REDIS_DB", 0),

		LoginMaxFailures: l.getInt("LOGIN_MAX_FAILURES", 5),

		CORSAllowedOrigins:   splitList(l.get("CORS_ALLOWED_ORIGINS", "")),
		CORSAllowCredentials: l.getBool("CORS_ALLOW_CREDENTIALS", true),

		SignupRoles: splitList(l.get("SIGNUP_ROLES", "user")),
		Warnings:    warnings,
	}

	// Durations are range-checked as plain integers so the conversion cannot overflow.
	var err error
	if cfg.JWTExp, err = l.getDuration("JWT_EXPIRATION_HOURS", 10, maxJWTExpirationHours, time.Hour); err != nil {
		return nil, err
	}
	if cfg.LoginLockout, err = l.getDuration("LOGIN_LOCKOUT_MINUTES", 15, maxLoginLockoutMinutes, time.Minute); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = l.getDuration("REQUEST_TIMEOUT_SECONDS", 30, maxRequestTimeoutSecs, time.Second); err != nil {
		return nil, err
	}

	if dsn := l.get("DATABASE_URL", ""); dsn != "" {
		cfg.DBConnStr = dsn
	} else {
		cfg.DBConnStr = "host=" + cfg.DBHost +
			" port=" + cfg.DBPort +
			" user=" + cfg.DBUser +
			" password=" + cfg.DBPassword +
			" dbname=" + cfg.DBName +
			" sslmode=" + cfg.DBSslMode
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// ThrottleEnabled reports whether failed logins are counted in Redis.
func (c *Config) ThrottleEnabled() bool {
	return c.RedisAddr != "" && c.LoginMaxFailures > 0
}

func (c *Config) validate() error {
	if len(c.JWTKey) == 0 {
		if !c.IsDevelopment() {
			return errors.New("config: JWT_SECRET is required outside development")
		}
		key := make([]byte, minJWTKeyLength)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("config: generate development signing key: %w", err)
		}
		c.JWTKey = key
		c.Warnings = append(c.Warnings, "JWT_SECRET not set, using a random signing key; tokens will not survive a restart")
	}
	if len(c.JWTKey) < minJWTKeyLength {
		return fmt.Errorf("config: JWT_SECRET must be at least %d bytes", minJWTKeyLength)
	}
	if c.JWTExp <= 0 {
		return errors.New("config: JWT_EXPIRATION_HOURS must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("config: REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("config: BCRYPT_COST %d out of range [4,31]", c.BcryptCost)
	}
	switch c.UserStore {
	case UserStorePostgres, UserStoreMemory:
	default:
		return fmt.Errorf("config: unknown USER_STORE %q", c.UserStore)
	}
	if c.LoginMaxFailures < 0 {
		return errors.New("config: LOGIN_MAX_FAILURES must not be negative")
	}
	if c.LoginMaxFailures > 0 && c.LoginLockout <= 0 {
		return errors.New("config: LOGIN_LOCKOUT_MINUTES must be positive when throttling is on")
	}
	if len(c.SignupRoles) == 0 {
		return errors.New("config: SIGNUP_ROLES must name at least one role")
	}

	// Browsers refuse credentialed responses carrying a wildcard origin, so the
	// wildcard is dropped rather than echoed back.
	if c.CORSAllowCredentials {
		kept := c.CORSAllowedOrigins[:0]
		for _, origin := range c.CORSAllowedOrigins {
			if origin == "*" {
				c.Warnings = append(c.Warnings, "CORS wildcard origin ignored because credentials are allowed")
				continue
			}
			kept = append(kept, origin)
		}
		c.CORSAllowedOrigins = kept
	}
	return nil
}

func readYAML(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	out := make(map[string]string, len(doc))
	for key, value := range doc {
		switch v := value.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			out[strings.ToUpper(key)] = strings.Join(parts, ",")
		default:
			out[strings.ToUpper(key)] = fmt.Sprint(v)
		}
	}
	return out, nil
}

func (l *loader) get(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if value, exists := l.file[key]; exists {
		return value
	}
	return fallback
}

func (l *loader) getInt(key string, fallback int) int {
	valueStr := l.get(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

// getDuration reads an integer count of unit, which must lie in [0,max].
func (l *loader) getDuration(key string, fallback, max int, unit time.Duration) (time.Duration, error) {
	n := l.getInt(key, fallback)
	if n < 0 || n > max {
		return 0, fmt.Errorf("config: %s must be between 0 and %d", key, max)
	}
	return time.Duration(n) * unit, nil
}

func (l *loader) getBool(key string, fallback bool) bool {
	valueStr := l.get(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
