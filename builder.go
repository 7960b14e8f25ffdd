package fleetauth

import (
	"errors"

	"github.com/fleetdesk/fleetauth/jwt"
	"github.com/fleetdesk/fleetauth/password"
	"github.com/fleetdesk/fleetauth/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Construction is allocation-only; no I/O
// happens before the first Engine call.
type Builder struct {
	config     Config
	redis      redis.UniversalClient
	principals PrincipalStore
	attempts   LoginAttemptStore
	mailer     Mailer
	registerer prometheus.Registerer

	built bool
}

// New returns a Builder seeded with defaults.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the shared store for challenges, sessions, the token
// blacklist, and rate windows. Required: per-process state would break
// logout consistency across instances.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithPrincipalStore(store PrincipalStore) *Builder {
	b.principals = store
	return b
}

func (b *Builder) WithLoginAttemptStore(store LoginAttemptStore) *Builder {
	b.attempts = store
	return b
}

// WithMailer sets the notification dispatcher. Optional.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithMetricsRegisterer registers the counter set on the given registerer.
// Optional; counters still count when unregistered.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.registerer = reg
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.principals == nil {
		return nil, errors.New("principal store required")
	}
	if b.attempts == nil {
		return nil, errors.New("login attempt store required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		SigningKey: b.config.JWT.SigningKey,
		AccessTTL:  b.config.JWT.AccessTTL,
		Issuer:     b.config.JWT.Issuer,
		Leeway:     b.config.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.New(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
	})
	if err != nil {
		return nil, err
	}

	b.built = true
	return &Engine{
		config:       b.config,
		principals:   b.principals,
		attempts:     b.attempts,
		mailer:       b.mailer,
		otp:          newOTPEngine(b.config.TOTP),
		passwordHash: hasher,
		jwtManager:   jwtManager,
		challenges:   newChallengeStore(b.redis),
		revocations:  newRevocationRegistry(b.redis),
		sessions:     session.NewStore(b.redis),
		metrics:      NewMetrics(b.registerer),
	}, nil
}
