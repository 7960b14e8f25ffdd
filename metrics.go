package fleetauth

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts security-relevant transitions. Counters work unregistered,
// so a nil Registerer (tests, minimal deployments) costs nothing but the
// increments.
type Metrics struct {
	Logins              *prometheus.CounterVec
	MFAAttempts         *prometheus.CounterVec
	AccountsLocked      prometheus.Counter
	SessionsInvalidated *prometheus.CounterVec
	TokensRevoked       prometheus.Counter
	BreakerTransitions  *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec
}

// NewMetrics creates the counter set and registers it when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetauth_logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"result"}),
		MFAAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetauth_mfa_attempts_total",
			Help: "OTP and backup-code verifications by outcome.",
		}, []string{"method", "result"}),
		AccountsLocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetauth_accounts_locked_total",
			Help: "Accounts transitioned to the locked state.",
		}),
		SessionsInvalidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetauth_sessions_invalidated_total",
			Help: "Forced session invalidations by reason.",
		}, []string{"reason"}),
		TokensRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetauth_tokens_revoked_total",
			Help: "Tokens added to the revocation registry.",
		}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetauth_breaker_transitions_total",
			Help: "Database circuit breaker state transitions.",
		}, []string{"state"}),
		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetauth_rate_limited_total",
			Help: "Requests rejected by the rate limiter, per route.",
		}, []string{"route"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Logins, m.MFAAttempts, m.AccountsLocked, m.SessionsInvalidated,
			m.TokensRevoked, m.BreakerTransitions, m.RateLimitRejections,
		)
	}
	return m
}
