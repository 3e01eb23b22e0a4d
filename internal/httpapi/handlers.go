package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"parceltrack.org/api/spec"
	"parceltrack.org/internal/audit"
	"parceltrack.org/internal/auth"
	"parceltrack.org/internal/avatar"
	"parceltrack.org/internal/obs"
	"parceltrack.org/internal/ratelimit"
	"parceltrack.org/internal/tracking"
)

// Pinger is implemented by every store backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the store before /readyz reports ready.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.Store.Ping(ctx)
}

// Deps are the services the HTTP layer serves. Nil optional fields disable
// the matching feature.
type Deps struct {
	Auth     *auth.Service
	Tracking *tracking.Service
	// GraphQL serves /graphql.
	GraphQL http.Handler
	// Avatars stores signup avatars; nil ignores uploaded files.
	Avatars avatar.Store
	// Uploads serves stored avatars under /uploads/.
	Uploads http.Handler
	Limiter ratelimit.Limiter
	// TrustProxy keys the limiter on X-Forwarded-For instead of the socket
	// peer. Set it only behind a proxy that writes that header.
	TrustProxy bool
	Analytics  *audit.Recorder
	DevRoutes  bool
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	auth       *auth.Service
	tracking   *tracking.Service
	avatars    avatar.Store
	limiter    ratelimit.Limiter
	trustProxy bool
	analytics  *audit.Recorder
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		auth:       deps.Auth,
		tracking:   deps.Tracking,
		avatars:    deps.Avatars,
		limiter:    deps.Limiter,
		trustProxy: deps.TrustProxy,
		analytics:  deps.Analytics,
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /auth/signup", a.handleSignup)
	a.mux.HandleFunc("POST /auth/admin-token", a.handleAdminToken)
	a.mux.HandleFunc("GET /auth/me", a.handleMe)
	a.mux.HandleFunc("DELETE /auth/users/{id}", a.handleDeleteUser)

	a.mux.HandleFunc("GET /api/track/{trackingNumber}", a.getPackage)
	a.mux.HandleFunc("POST /api/track", a.createPackage)
	a.mux.HandleFunc("PUT /api/track/{trackingNumber}", a.updatePackage)
	a.mux.HandleFunc("PATCH /api/track/{trackingNumber}/owner", a.setPackageOwner)
	a.mux.HandleFunc("DELETE /api/track/{trackingNumber}", a.deletePackage)
	a.mux.HandleFunc("GET /api/my-packages", a.listMyPackages)
	if deps.DevRoutes {
		a.mux.HandleFunc("POST /api/dev/create-demo-packages", a.createDemoPackages)
	}

	if deps.GraphQL != nil {
		a.mux.Handle("/graphql", deps.GraphQL)
	}
	if deps.Uploads != nil {
		a.mux.Handle("GET "+avatar.PublicPrefix, deps.Uploads)
	}

	return a
}

// Handler returns the full middleware chain around the routes.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, maxBodyBytes)
	h = a.recordAnalytics(h)
	h = RateLimit(h, a.limiter, a.trustProxy, rateLimitedPrefixes...)
	h = a.withIdentity(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "parceltrack-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
