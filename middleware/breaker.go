package middleware

import (
	"context"
	"fmt"
	"html"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	fleetauth "github.com/fleetdesk/fleetauth"
)

// Probe is a trivial liveness check against the database (SELECT 1 or a
// driver ping). It must be cheap; the breaker issues at most one probe per
// interval.
type Probe func(ctx context.Context) error

// BreakerConfig tunes the database resilience breaker.
type BreakerConfig struct {
	// ProbeInterval is the minimum spacing between liveness probes while
	// the breaker is open.
	ProbeInterval time.Duration
	// MaintenancePath receives redirected requests while the breaker is
	// open. Requests already on this path always pass.
	MaintenancePath string
	// RetryAfter is advertised on the maintenance response.
	RetryAfter time.Duration
	// StaticPrefixes bypass the breaker entirely; static assets never touch
	// the database.
	StaticPrefixes []string
	// Classify decides whether an error counts as a database-availability
	// failure. Defaults to [IsTransientDBError].
	Classify func(error) bool
}

// Breaker is the database circuit breaker: Closed passes requests through,
// Open serves the maintenance surface and probes for recovery. State is
// explicit and injected, never package-global; flag and timestamp races are
// benign (worst case one extra probe or redirect before convergence).
type Breaker struct {
	config  BreakerConfig
	probe   Probe
	metrics *fleetauth.Metrics

	open      atomic.Bool
	lastCheck atomic.Int64 // unix nanos of the last trip or probe

	mu          sync.Mutex
	lastCode    string
	lastMessage string
}

func NewBreaker(cfg BreakerConfig, probe Probe, metrics *fleetauth.Metrics) *Breaker {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 15 * time.Second
	}
	if cfg.MaintenancePath == "" {
		cfg.MaintenancePath = "/maintenance"
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 300 * time.Second
	}
	if len(cfg.StaticPrefixes) == 0 {
		cfg.StaticPrefixes = []string{"/static/", "/assets/", "/favicon.ico"}
	}
	if cfg.Classify == nil {
		cfg.Classify = IsTransientDBError
	}
	return &Breaker{config: cfg, probe: probe, metrics: metrics}
}

// Open reports whether the breaker is currently serving degraded responses.
func (b *Breaker) Open() bool {
	return b.open.Load()
}

// LastError returns the captured error code and sanitized message.
func (b *Breaker) LastError() (code, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastCode, b.lastMessage
}

// Report classifies err and trips the breaker when it is an availability
// failure. It returns true when the breaker absorbed the error; callers
// then redirect to maintenance instead of rendering a failure page.
func (b *Breaker) Report(err error) bool {
	if err == nil || !b.config.Classify(err) {
		return false
	}
	b.trip(err)
	return true
}

func (b *Breaker) trip(err error) {
	if !b.open.Swap(true) && b.metrics != nil {
		b.metrics.BreakerTransitions.WithLabelValues("open").Inc()
	}
	b.lastCheck.Store(time.Now().UnixNano())

	b.mu.Lock()
	b.lastCode = TransientErrorCode(err)
	b.lastMessage = err.Error()
	b.mu.Unlock()

	log.Printf("fleetauth: database breaker opened: %v", err)
}

// Allow reports whether a request may proceed to downstream logic. While
// open it issues at most one probe per interval: the compare-and-swap on
// the probe timestamp keeps concurrent requests from stacking probes.
func (b *Breaker) Allow(ctx context.Context) bool {
	if !b.open.Load() {
		return true
	}

	last := b.lastCheck.Load()
	now := time.Now().UnixNano()
	if now-last < int64(b.config.ProbeInterval) {
		return false
	}
	if !b.lastCheck.CompareAndSwap(last, now) {
		// Another request owns this interval's probe.
		return false
	}

	if err := b.probe(ctx); err != nil {
		b.mu.Lock()
		b.lastCode = TransientErrorCode(err)
		b.lastMessage = err.Error()
		b.mu.Unlock()
		return false
	}

	if b.open.Swap(false) && b.metrics != nil {
		b.metrics.BreakerTransitions.WithLabelValues("closed").Inc()
	}
	log.Printf("fleetauth: database breaker closed after successful probe")
	return true
}

// Middleware short-circuits requests while the breaker is open. It sits
// outermost in the chain so nothing touches storage once the database is
// known to be down.
func (b *Breaker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.bypass(r.URL.Path) || b.Allow(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}
		b.redirectMaintenance(w, r)
	})
}

// WrapErr adapts an error-returning handler. A classified database error
// trips the breaker and redirects the current request; anything else is a
// plain 500.
func (b *Breaker) WrapErr(h func(http.ResponseWriter, *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		if b.Report(err) {
			b.redirectMaintenance(w, r)
			return
		}
		log.Printf("fleetauth: handler error on %s: %v", r.URL.Path, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	})
}

func (b *Breaker) bypass(path string) bool {
	if path == b.config.MaintenancePath {
		return true
	}
	for _, prefix := range b.config.StaticPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (b *Breaker) redirectMaintenance(w http.ResponseWriter, r *http.Request) {
	code, message := b.LastError()
	v := url.Values{}
	v.Set("code", code)
	v.Set("message", message)
	http.Redirect(w, r, b.config.MaintenancePath+"?"+v.Encode(), http.StatusSeeOther)
}

// MaintenanceHandler serves the degraded response: 503 with a Retry-After
// header, echoing the sanitized error code and message.
func (b *Breaker) MaintenanceHandler() http.Handler {
	retryAfter := fmt.Sprintf("%d", int(b.config.RetryAfter.Seconds()))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := html.EscapeString(r.URL.Query().Get("code"))
		message := html.EscapeString(r.URL.Query().Get("message"))

		w.Header().Set("Retry-After", retryAfter)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "<html><body><h1>Temporarily unavailable</h1>"+
			"<p>The service is undergoing maintenance. Please retry shortly.</p>"+
			"<p>%s %s</p></body></html>", code, message)
	})
}
