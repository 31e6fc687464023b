package guard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gatehouse-app/gatehouse/internal/identity"
	"github.com/gatehouse-app/gatehouse/internal/observability"
	"github.com/gatehouse-app/gatehouse/internal/rbac"
	"github.com/gatehouse-app/gatehouse/internal/visibility"
)

// DecisionKind enumerates the terminal outcomes of one guard evaluation.
type DecisionKind int

const (
	// DecisionWait means authorization data is still loading; render a
	// loading affordance, no decision yet.
	DecisionWait DecisionKind = iota
	// DecisionAllow renders the protected view.
	DecisionAllow
	// DecisionEmergencyAllow renders the protected view under degraded
	// trust after the loading timeout elapsed for an authenticated caller.
	DecisionEmergencyAllow
	// DecisionRedirect navigates away to Decision.Target.
	DecisionRedirect
)

// String returns the audit-log label for the kind.
func (k DecisionKind) String() string {
	switch k {
	case DecisionAllow:
		return "allow"
	case DecisionEmergencyAllow:
		return "emergency_allow"
	case DecisionRedirect:
		return "redirect"
	default:
		return "wait"
	}
}

// Decision is the transient output of one evaluation. It is never stored;
// every relevant state change produces a fresh one.
type Decision struct {
	Kind    DecisionKind
	Target  string
	Elapsed time.Duration
	Reason  string
	// RecordReturn asks the caller to remember the current path for
	// post-login restoration.
	RecordReturn bool
}

// Config fixes one guard's gating parameters.
type Config struct {
	// PageKey is the slug checked against the visibility store.
	PageKey string
	// RedirectTo receives ordinary users denied by the visibility flag.
	RedirectTo string
	// RequiredPermission, when set, must be present in an ordinary user's
	// effective set in addition to the visibility flag.
	RequiredPermission string
	// LoginPath receives unauthenticated callers.
	LoginPath string
	// FallbackPath is the fixed known-safe target substituted for
	// self-redirects and looping targets.
	FallbackPath string
	// MemberPath receives authenticated non-privileged callers on hard
	// errors; their identity is valid, so login would be the wrong place.
	MemberPath string
	// Timeout bounds how long an evaluation may stay loading.
	Timeout time.Duration
	// LoopThreshold and LoopWindow parameterize the loop detector.
	LoopThreshold int
	LoopWindow    time.Duration
}

// DefaultTimeout bounds the loading state before the emergency path kicks in.
const DefaultTimeout = 10 * time.Second

const detectorPoolSize = 4096

var errAuthorizationUnavailable = errors.New("guard: authorization state unavailable")

// Guard gates rendering of one protected route. It reads the resolver and
// the visibility store plus the caller's identity, and produces exactly one
// decision per evaluation.
type Guard struct {
	cfg        Config
	resolver   *rbac.Resolver
	visibility *visibility.Store
	logger     *slog.Logger
	metrics    *observability.Metrics

	// detectors keeps one loop history per caller; redirect bounces of one
	// session must not trip the valve for everyone else.
	detectors *lru.Cache[string, *LoopDetector]

	now func() time.Time
}

// New constructs a Guard for one page key.
func New(cfg Config, resolver *rbac.Resolver, vis *visibility.Store, logger *slog.Logger, metrics *observability.Metrics) *Guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.FallbackPath == "" {
		cfg.FallbackPath = "/"
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/auth/login"
	}
	if cfg.MemberPath == "" {
		cfg.MemberPath = cfg.FallbackPath
	}
	detectors, _ := lru.New[string, *LoopDetector](detectorPoolSize)
	return &Guard{
		cfg:        cfg,
		resolver:   resolver,
		visibility: vis,
		logger:     logger,
		metrics:    metrics,
		detectors:  detectors,
		now:        time.Now,
	}
}

type loadResult struct {
	set *rbac.EffectiveSet
	err error
}

// Evaluate runs the transition rules in precedence order and returns the
// single terminal decision for this render pass. callerKey identifies the
// caller's session for per-caller loop detection.
func (g *Guard) Evaluate(ctx context.Context, id identity.Identity, callerKey, currentPath string) Decision {
	start := g.now()

	done := make(chan loadResult, 1)
	go func() { done <- g.load(ctx, id) }()

	timer := time.NewTimer(g.cfg.Timeout)
	defer timer.Stop()

	var res loadResult
	select {
	case res = <-done:
		// settled in time; fall through to the rules below
	case <-timer.C:
		// Loading timed out. Prefer temporary over-permissiveness to a
		// hard lockout for a caller who already proved identity, but
		// never grant emergency access to an anonymous caller. The
		// fetch's eventual settlement is ignored, not reapplied.
		if id.Authenticated() {
			return g.finish(id, Decision{
				Kind:    DecisionEmergencyAllow,
				Elapsed: g.now().Sub(start),
				Reason:  "loading timeout with authenticated identity",
			})
		}
		return g.finish(id, g.redirect(callerKey, currentPath, g.cfg.LoginPath, start, "loading timeout while anonymous", true))
	case <-ctx.Done():
		// Caller navigated away or gave up while still loading.
		return g.finish(id, Decision{Kind: DecisionWait, Elapsed: g.now().Sub(start), Reason: "aborted while loading"})
	}

	if res.err != nil {
		if ctx.Err() != nil {
			return g.finish(id, Decision{Kind: DecisionWait, Elapsed: g.now().Sub(start), Reason: "aborted while loading"})
		}
		switch {
		case !id.Authenticated():
			return g.finish(id, g.redirect(callerKey, currentPath, g.cfg.LoginPath, start, "authorization error while anonymous", true))
		case !id.Privileged():
			// Valid identity, failed authorization fetch: send to the
			// member area, not login. Error states are not a reason to
			// re-authenticate.
			return g.finish(id, g.redirect(callerKey, currentPath, g.cfg.MemberPath, start, "authorization error for ordinary user", false))
		}
		// Privileged identities fall through: administrators must always
		// be able to see and fix misconfigurations.
	}

	if id.Privileged() {
		return g.finish(id, Decision{Kind: DecisionAllow, Elapsed: g.now().Sub(start), Reason: "privileged identity bypass"})
	}

	if id.Authenticated() {
		if !g.visibility.IsVisible(g.cfg.PageKey) {
			return g.finish(id, g.redirect(callerKey, currentPath, g.cfg.RedirectTo, start, "page hidden", false))
		}
		if g.cfg.RequiredPermission != "" && !res.set.Can(g.cfg.RequiredPermission) {
			return g.finish(id, g.redirect(callerKey, currentPath, g.cfg.RedirectTo, start, "missing permission "+g.cfg.RequiredPermission, false))
		}
		return g.finish(id, Decision{Kind: DecisionAllow, Elapsed: g.now().Sub(start), Reason: "visible page"})
	}

	return g.finish(id, g.redirect(callerKey, currentPath, g.cfg.LoginPath, start, "no identity", true))
}

// load gathers the authorization state the rules need. Context cancellation
// surfaces as an error and is told apart from failure by the caller.
func (g *Guard) load(ctx context.Context, id identity.Identity) loadResult {
	if !g.visibility.Ready() {
		if err := g.visibility.Refresh(ctx); err != nil {
			return loadResult{err: err}
		}
	}
	if !id.Authenticated() {
		return loadResult{}
	}
	set, err := g.resolver.Resolve(ctx, id.UserID)
	if err != nil {
		return loadResult{err: err}
	}
	if set.Degraded && set.Empty() {
		// Fetch failed with no known-good set to fall back on.
		return loadResult{set: set, err: errAuthorizationUnavailable}
	}
	return loadResult{set: set}
}

// redirect selects the final target: substitute the fixed fallback for a
// no-op self-redirect or a looping target, and record what was actually
// chosen so the fallback itself cannot poison the detector.
func (g *Guard) redirect(callerKey, currentPath, desired string, start time.Time, reason string, recordReturn bool) Decision {
	det := g.detector(callerKey)
	target := desired
	if target == "" || target == currentPath {
		target = g.cfg.FallbackPath
		reason += "; self-redirect substituted"
	}
	if det.IsLooping(target) {
		target = g.cfg.FallbackPath
		reason += "; loop detected, fallback substituted"
		recordReturn = false
	}
	if target == currentPath {
		// Misconfigured fallback pointing at the guarded page itself; the
		// chosen target must never be the current path.
		target = "/"
		reason += "; fallback equals current path, using root"
	}
	det.RecordRedirect(target)
	return Decision{
		Kind:         DecisionRedirect,
		Target:       target,
		Elapsed:      g.now().Sub(start),
		Reason:       reason,
		RecordReturn: recordReturn,
	}
}

func (g *Guard) detector(callerKey string) *LoopDetector {
	if det, ok := g.detectors.Get(callerKey); ok {
		return det
	}
	det := NewLoopDetector(g.cfg.LoopThreshold, g.cfg.LoopWindow)
	det.now = g.now
	g.detectors.Add(callerKey, det)
	return det
}

// finish emits the audit record and metrics for a decision. Access grants
// and denials must stay diagnosable after the fact; this is the trail.
func (g *Guard) finish(id identity.Identity, d Decision) Decision {
	if g.logger != nil {
		g.logger.Info("guard decision",
			slog.String("page_key", g.cfg.PageKey),
			slog.String("identity", id.Kind.String()),
			slog.String("outcome", d.Kind.String()),
			slog.String("target", d.Target),
			slog.String("reason", d.Reason),
			slog.Duration("elapsed", d.Elapsed))
	}
	if g.metrics != nil {
		g.metrics.GuardDecision(g.cfg.PageKey, d.Kind.String())
	}
	return d
}
