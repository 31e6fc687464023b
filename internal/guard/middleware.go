package guard

import (
	"net/http"

	"github.com/gatehouse-app/gatehouse/internal/identity"
	"github.com/gatehouse-app/gatehouse/internal/platform/httpx"
	"github.com/gatehouse-app/gatehouse/internal/shared"
)

// Middleware evaluates the guard for every request to the wrapped routes.
// Allow and EmergencyAllow render the protected handler, Redirect answers
// 303, Wait answers 202 with the elapsed loading time.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		var sid identity.Identity
		callerKey := r.RemoteAddr
		if sess != nil {
			sid = sess.Identity()
			callerKey = sess.ID
		}

		decision := g.Evaluate(r.Context(), sid, callerKey, r.URL.Path)
		switch decision.Kind {
		case DecisionAllow:
			next.ServeHTTP(w, r)
		case DecisionEmergencyAllow:
			// Degraded trust is visible to the downstream handler and to
			// operators reading response headers, not to the user.
			w.Header().Set("X-Gatehouse-Access", "emergency")
			next.ServeHTTP(w, r)
		case DecisionRedirect:
			if decision.RecordReturn && sess != nil {
				sess.Set(shared.ReturnToKey, r.URL.Path)
			}
			http.Redirect(w, r, decision.Target, http.StatusSeeOther)
		default:
			httpx.JSON(w, http.StatusAccepted, map[string]any{
				"status":     "loading",
				"elapsed_ms": decision.Elapsed.Milliseconds(),
			})
		}
	})
}

// DecideHandler exposes the raw decision as JSON so clients can gate their
// own rendering without following redirects.
func (g *Guard) DecideHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		var sid identity.Identity
		callerKey := r.RemoteAddr
		if sess != nil {
			sid = sess.Identity()
			callerKey = sess.ID
		}

		decision := g.Evaluate(r.Context(), sid, callerKey, r.URL.Path)
		body := map[string]any{
			"page_key":   g.cfg.PageKey,
			"decision":   decision.Kind.String(),
			"elapsed_ms": decision.Elapsed.Milliseconds(),
		}
		if decision.Kind == DecisionRedirect {
			body["target"] = decision.Target
		}
		httpx.JSON(w, http.StatusOK, body)
	}
}
