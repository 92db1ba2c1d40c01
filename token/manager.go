package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the signature algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// Stage values carried in the "stg" claim. A pending token proves only
// password-stage success; an access token proves full authentication.
const (
	StagePending  = "pending"
	StageComplete = "complete"
)

var (
	// ErrConfig reports missing or invalid signing configuration: a server
	// misconfiguration, never a client failure.
	ErrConfig = errors.New("token configuration invalid")
	// ErrExpired reports a well-formed token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalid reports a token failing signature, structure, or stage
	// checks.
	ErrInvalid = errors.New("token invalid")
)

// Config is the process-wide signing configuration, read at startup.
type Config struct {
	SigningMethod SigningMethod
	// Secret is the HS256 signing key.
	Secret []byte
	// PrivateKey/PublicKey carry ed25519 material, raw or PEM.
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	PendingTTL time.Duration
	AccessTTL  time.Duration
	Leeway     time.Duration
}

// Claims is the claim set shared by both token kinds. Subject carries the
// identity id; Email and Role are present only on access tokens.
type Claims struct {
	Stage string `json:"stg"`
	Email string `json:"eml,omitempty"`
	Role  string `json:"rol,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens. Immutable after construction and safe
// for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a ready manager. All validation
// failures wrap [ErrConfig].
func NewManager(cfg Config) (*Manager, error) {
	if cfg.PendingTTL <= 0 || cfg.AccessTTL <= 0 {
		return nil, fmt.Errorf("%w: TTLs must be > 0", ErrConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, fmt.Errorf("%w: leeway out of range", ErrConfig)
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.Secret) < 32 {
			return nil, fmt.Errorf("%w: hs256 requires a secret of at least 32 bytes", ErrConfig)
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrConfig, err)
			}
		}
		if len(cfg.PublicKey) == 0 {
			return nil, fmt.Errorf("%w: ed25519 requires a public key", ErrConfig)
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported signing method %q", ErrConfig, cfg.SigningMethod)
	}
	return &Manager{config: cfg}, nil
}

// CreatePending mints a short-TTL token carrying only the identity id and
// the pending stage.
func (m *Manager) CreatePending(identityID string) (string, error) {
	if m == nil {
		return "", ErrConfig
	}
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalid)
	}
	return m.sign(Claims{
		Stage: StagePending,
		RegisteredClaims: m.registered(identityID, m.config.PendingTTL),
	})
}

// CreateAccess mints a full access token with identity claims and the
// complete stage.
func (m *Manager) CreateAccess(identityID, email, role string) (string, error) {
	if m == nil {
		return "", ErrConfig
	}
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalid)
	}
	return m.sign(Claims{
		Stage: StageComplete,
		Email: email,
		Role:  role,
		RegisteredClaims: m.registered(identityID, m.config.AccessTTL),
	})
}

// ParsePending validates raw as a pending-stage token.
func (m *Manager) ParsePending(raw string) (*Claims, error) {
	return m.parse(raw, StagePending)
}

// ParseAccess validates raw as a complete-stage token.
func (m *Manager) ParseAccess(raw string) (*Claims, error) {
	return m.parse(raw, StageComplete)
}

func (m *Manager) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    m.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
}

func (m *Manager) sign(claims Claims) (string, error) {
	tok := jwt.NewWithClaims(m.method(), claims)
	key, err := m.signKey()
	if err != nil {
		return "", err
	}
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return signed, nil
}

func (m *Manager) parse(raw string, wantStage string) (*Claims, error) {
	if m == nil {
		return nil, ErrConfig
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalid
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.verifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		if errors.Is(err, ErrConfig) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalid
	}
	if claims.Stage != wantStage {
		return nil, fmt.Errorf("%w: unexpected stage", ErrInvalid)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalid)
	}
	return claims, nil
}

func (m *Manager) method() jwt.SigningMethod {
	if m.config.SigningMethod == MethodEd25519 {
		return jwt.SigningMethodEdDSA
	}
	return jwt.SigningMethodHS256
}

func (m *Manager) signKey() (interface{}, error) {
	if m.config.SigningMethod == MethodEd25519 {
		key, err := parseEdPrivateKey(m.config.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		return key, nil
	}
	return m.config.Secret, nil
}

func (m *Manager) verifyKey() (interface{}, error) {
	if m.config.SigningMethod == MethodEd25519 {
		key, err := parseEdPublicKey(m.config.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		return key, nil
	}
	return m.config.Secret, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
