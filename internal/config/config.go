// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"credential-lifecycle/backend/internal/security"
)

// ErrConfiguration is wrapped by every validation failure so startup can fail fast on it.
var ErrConfiguration = errors.New("config")

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// Redis backs the ephemeral state store. Empty RedisAddr keeps state in process memory.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	// CacheOpTimeout bounds every call into the ephemeral store backend.
	CacheOpTimeout time.Duration `mapstructure:"CACHE_OP_TIMEOUT"`
	// EphemeralKeyBytes is the random byte count behind each ephemeral key (8–64).
	EphemeralKeyBytes int `mapstructure:"EPHEMERAL_KEY_BYTES"`
	// EphemeralDefaultTTL applies when a put carries no lifetime.
	EphemeralDefaultTTL time.Duration `mapstructure:"EPHEMERAL_DEFAULT_TTL"`

	// ActionTokenSigningKey is the HMAC key for action tokens, raw or "base64:"-prefixed; at least 32 bytes.
	ActionTokenSigningKey  string        `mapstructure:"ACTION_TOKEN_SIGNING_KEY"`
	ActionTokenSelectorLen int           `mapstructure:"ACTION_TOKEN_SELECTOR_LENGTH"`
	ActionTokenVerifierLen int           `mapstructure:"ACTION_TOKEN_VERIFIER_LENGTH"`
	PasswordResetTTL       time.Duration `mapstructure:"PASSWORD_RESET_TTL"`
	RegistrationTTL        time.Duration `mapstructure:"REGISTRATION_TTL"`

	// MFACodeDigits is the width of one-time codes (1–9).
	MFACodeDigits int           `mapstructure:"MFA_CODE_DIGITS"`
	MFACodeTTL    time.Duration `mapstructure:"MFA_CODE_TTL"`
	// MFAAttemptTTL bounds how long a pending second factor may take.
	MFAAttemptTTL time.Duration `mapstructure:"MFA_ATTEMPT_TTL"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// MFAAssertionTTL is the lifetime of the signed proof returned after a verified second factor.
	MFAAssertionTTL time.Duration `mapstructure:"MFA_ASSERTION_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31) for passwords set through reset; default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	SMTPHost string `mapstructure:"SMTP_HOST"`
	SMTPPort int    `mapstructure:"SMTP_PORT"`
	SMTPUser string `mapstructure:"SMTP_USER"`
	SMTPPass string `mapstructure:"SMTP_PASS"`
	SMTPFrom string `mapstructure:"SMTP_FROM"`

	// SMSLocalAPIKey enables the SMS factor when set.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender string `mapstructure:"SMS_LOCAL_SENDER"`
	// SMSLocalBaseURL is the SMS Local API base URL.
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`
	// OTPReturnToClient when true records codes in memory instead of delivering them. Must not be true in production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`

	// OTLPEndpoint is the OTLP gRPC collector; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`

	// CleanupInterval is how often the worker purges expired tokens and codes.
	CleanupInterval time.Duration `mapstructure:"CLEANUP_INTERVAL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_OP_TIMEOUT", "500ms")
	v.SetDefault("EPHEMERAL_KEY_BYTES", 16)
	v.SetDefault("EPHEMERAL_DEFAULT_TTL", "10m")
	v.SetDefault("ACTION_TOKEN_SIGNING_KEY", "")
	v.SetDefault("ACTION_TOKEN_SELECTOR_LENGTH", security.DefaultSelectorLength)
	v.SetDefault("ACTION_TOKEN_VERIFIER_LENGTH", security.DefaultVerifierLength)
	v.SetDefault("PASSWORD_RESET_TTL", "1h")
	v.SetDefault("REGISTRATION_TTL", "24h")
	v.SetDefault("MFA_CODE_DIGITS", 6)
	v.SetDefault("MFA_CODE_TTL", "5m")
	v.SetDefault("MFA_ATTEMPT_TTL", "15m")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "credential-auth")
	v.SetDefault("JWT_AUDIENCE", "credential-api")
	v.SetDefault("MFA_ASSERTION_TTL", "2m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASS", "")
	v.SetDefault("SMTP_FROM", "")
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://www.smslocal.com/dev/bulkV2")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "credential-lifecycle")
	v.SetDefault("CLEANUP_INTERVAL", "10m")
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Errors wrap ErrConfiguration.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfiguration}, args...)...)
}

func (c *Config) validate() error {
	if c.GRPCAddr == "" {
		return invalid("GRPC_ADDR must be set")
	}
	if c.OTPReturnToClient && c.Env == "production" {
		return invalid("OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return invalid("BCRYPT_COST must be between 4 and 31")
	}
	if c.MFACodeDigits < 1 || c.MFACodeDigits > 9 {
		return invalid("MFA_CODE_DIGITS must be between 1 and 9")
	}
	if c.EphemeralKeyBytes < 8 || c.EphemeralKeyBytes > 64 {
		return invalid("EPHEMERAL_KEY_BYTES must be between 8 and 64")
	}
	if c.ActionTokenSelectorLen <= 0 || c.ActionTokenVerifierLen <= 0 {
		return invalid("ACTION_TOKEN_SELECTOR_LENGTH and ACTION_TOKEN_VERIFIER_LENGTH must be positive")
	}
	for name, d := range map[string]time.Duration{
		"CACHE_OP_TIMEOUT":      c.CacheOpTimeout,
		"EPHEMERAL_DEFAULT_TTL": c.EphemeralDefaultTTL,
		"PASSWORD_RESET_TTL":    c.PasswordResetTTL,
		"REGISTRATION_TTL":      c.RegistrationTTL,
		"MFA_CODE_TTL":          c.MFACodeTTL,
		"MFA_ATTEMPT_TTL":       c.MFAAttemptTTL,
		"MFA_ASSERTION_TTL":     c.MFAAssertionTTL,
		"CLEANUP_INTERVAL":      c.CleanupInterval,
	} {
		if d <= 0 {
			return invalid("%s must be a positive duration", name)
		}
	}
	if c.ActionTokenSigningKey != "" {
		if _, err := security.ParseSigningSecret(c.ActionTokenSigningKey); err != nil {
			return invalid("ACTION_TOKEN_SIGNING_KEY: %v", err)
		}
	}
	return nil
}

// SigningKey returns the decoded action token signing key. It fails when the key is missing,
// so binaries that issue tokens call it at startup.
func (c *Config) SigningKey() ([]byte, error) {
	if c.ActionTokenSigningKey == "" {
		return nil, invalid("ACTION_TOKEN_SIGNING_KEY must be set")
	}
	key, err := security.ParseSigningSecret(c.ActionTokenSigningKey)
	if err != nil {
		return nil, invalid("ACTION_TOKEN_SIGNING_KEY: %v", err)
	}
	return key, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
