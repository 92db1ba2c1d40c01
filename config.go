package stepauth

import (
	"errors"
	"strings"
	"time"
)

// Config is the full engine configuration. Build a value with
// [DefaultConfig], adjust what you need, and pass it to the [Builder].
// It is validated once at build time and treated as immutable afterwards.
type Config struct {
	TOTP    TOTPConfig
	Backup  BackupCodeConfig
	StepUp  StepUpConfig
	Token   TokenConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

// TOTPConfig controls the time-based one-time-password engine.
type TOTPConfig struct {
	// Issuer is the label embedded in provisioning URIs.
	Issuer string
	// Digits is the code length. RFC 6238 allows 6-10; authenticator apps
	// expect 6.
	Digits int
	// Period is the time-step size in seconds.
	Period int
	// Skew is the number of adjacent steps accepted on either side of the
	// current one. Skew 2 with a 30s period tolerates ±60s of drift.
	Skew int
	// Algorithm selects the HMAC hash: SHA1, SHA256, or SHA512.
	Algorithm string
	// SecretLength is the shared-secret size in bytes. 20 bytes = 160 bits.
	SecretLength int
	// EnforceReplayProtection rejects any code whose time-step counter is
	// not strictly greater than the last accepted one. Off by default: a
	// code then verifies repeatedly until it rolls out of the window.
	EnforceReplayProtection bool
}

// BackupCodeConfig controls single-use fallback codes.
type BackupCodeConfig struct {
	Count  int
	Length int
}

// StepUpConfig controls the second login phase.
type StepUpConfig struct {
	// MaxAttempts bounds failed code checks per identity before the
	// limiter cools down. The limiter only runs when the engine is built
	// with a redis client; zero disables it entirely.
	MaxAttempts int
	// AttemptCooldown is how long the failure counter lives.
	AttemptCooldown time.Duration
}

// TokenConfig carries the signing material and expiry policy shared by
// pending and access tokens. Read once at startup.
type TokenConfig struct {
	// SigningMethod is "hs256" or "ed25519".
	SigningMethod string
	// Secret is the HS256 key.
	Secret []byte
	// PrivateKey/PublicKey are raw or PEM ed25519 keys.
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	// PendingTTL bounds the window between password success and code entry.
	PendingTTL time.Duration
	AccessTTL  time.Duration
	Leeway     time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking callers when the buffer
	// is saturated.
	DropIfFull bool
}

// MetricsConfig toggles the atomic counter set.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the baseline configuration. Signing material has
// no usable default and must always be supplied.
func DefaultConfig() Config {
	return Config{
		TOTP: TOTPConfig{
			Issuer:       "stepauth",
			Digits:       6,
			Period:       30,
			Skew:         2,
			Algorithm:    "SHA1",
			SecretLength: 20,
		},
		Backup: BackupCodeConfig{
			Count:  8,
			Length: 8,
		},
		StepUp: StepUpConfig{
			MaxAttempts:     5,
			AttemptCooldown: time.Minute,
		},
		Token: TokenConfig{
			SigningMethod: "hs256",
			Issuer:        "stepauth",
			PendingTTL:    5 * time.Minute,
			AccessTTL:     15 * time.Minute,
			Leeway:        30 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 64,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations the engine cannot operate safely with.
func (c Config) Validate() error {
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 10 {
		return errors.New("TOTP Digits must be between 6 and 10")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 10 {
		return errors.New("TOTP Skew must be between 0 and 10")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}
	if c.TOTP.SecretLength < 20 {
		return errors.New("TOTP SecretLength must be at least 20 bytes")
	}
	if c.Backup.Count <= 0 || c.Backup.Count > 64 {
		return errors.New("Backup Count must be between 1 and 64")
	}
	if c.Backup.Length < 6 || c.Backup.Length > 32 {
		return errors.New("Backup Length must be between 6 and 32")
	}
	if c.StepUp.MaxAttempts < 0 {
		return errors.New("StepUp MaxAttempts must be >= 0")
	}
	if c.StepUp.MaxAttempts > 0 && c.StepUp.AttemptCooldown <= 0 {
		return errors.New("StepUp AttemptCooldown must be > 0 when MaxAttempts is set")
	}
	if c.Token.PendingTTL <= 0 || c.Token.PendingTTL > 30*time.Minute {
		return errors.New("Token PendingTTL must be > 0 and at most 30 minutes")
	}
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2 minutes")
	}
	switch strings.ToLower(c.Token.SigningMethod) {
	case "hs256":
		if len(c.Token.Secret) < 32 {
			return errors.New("Token Secret must be at least 32 bytes for hs256")
		}
	case "ed25519":
		if len(c.Token.PrivateKey) == 0 && len(c.Token.PublicKey) == 0 {
			return errors.New("Token ed25519 requires key material")
		}
	default:
		return errors.New("Token SigningMethod must be hs256 or ed25519")
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 0 {
		return errors.New("Audit BufferSize must be >= 0")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
