package stepauth

import (
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/sabq4org/stepauth/permission"
	"github.com/sabq4org/stepauth/token"
)

// Builder assembles an [Engine]. A builder is single-use.
type Builder struct {
	config    Config
	store     EnrollmentStore
	redis     *redis.Client
	roleTable permission.Table
	auditSink AuditSink
	built     bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence boundary. Required.
func (b *Builder) WithStore(store EnrollmentStore) *Builder {
	b.store = store
	return b
}

// WithRedis enables the step-up attempt limiter. Optional; without it the
// engine performs no throttling.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithRoleTable replaces the built-in role → permission table.
func (b *Builder) WithRoleTable(table permission.Table) *Builder {
	b.roleTable = table
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the counter set.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires every subsystem, and returns
// the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("enrollment store required")
	}

	table := b.roleTable
	if table == nil {
		table = permission.DefaultTable()
	}

	tokens, err := token.NewManager(token.Config{
		SigningMethod: token.SigningMethod(strings.ToLower(cfg.Token.SigningMethod)),
		Secret:        cloneBytes(cfg.Token.Secret),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		PendingTTL:    cfg.Token.PendingTTL,
		AccessTTL:     cfg.Token.AccessTTL,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:  cfg,
		store:   b.store,
		totp:    newTOTPEngine(cfg.TOTP),
		tokens:  tokens,
		roles:   permission.NewResolver(table),
		limiter: newStepUpLimiter(b.redis, cfg.StepUp),
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
	}

	b.built = true
	return engine, nil
}
