package httpapi

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"parceltrack.org/internal/audit"
	"parceltrack.org/internal/auth"
	"parceltrack.org/internal/avatar"
	"parceltrack.org/internal/ids"
	"parceltrack.org/internal/obs"
	"parceltrack.org/internal/ratelimit"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128

	// maxBodyBytes leaves room for a full avatar plus the other signup fields.
	maxBodyBytes = avatar.MaxSize + 1<<20
)

var rateLimitedPrefixes = []string{"/api", "/graphql"}

// Probe and scrape traffic is not written to analytics.
var analyticsSkipPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestID propagates X-Request-ID, generating one when absent or oversized.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if rid == "" || len(rid) > maxRequestIDLen {
			rid = ids.NewRequestID()
		}
		w.Header().Set(requestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(audit.WithRequestID(r.Context(), rid)))
	})
}

// RequestIDFromContext returns the id attached by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	return audit.RequestIDFromContext(ctx)
}

// LoggingJSON writes one structured request_complete entry per request.
func LoggingJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		d := time.Since(start)
		obs.Logger().Info("request_complete",
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.code),
			zap.Float64("duration_ms", float64(d.Microseconds())/1000),
			zap.String("remote", clientIP(r, false)),
			zap.String("forwarded_for", r.Header.Get("X-Forwarded-For")),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

// SecurityHeaders sets the hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Content-Security-Policy",
			"default-src 'self'; "+
				"img-src 'self' data: https:; "+
				"frame-src https://www.openstreetmap.org; "+
				"object-src 'none'; "+
				"frame-ancestors 'none'")

		next.ServeHTTP(w, r)
	})
}

// CORS allows any origin; tokens travel in the Authorization header, not cookies.
func CORS(next http.Handler) http.Handler {
	allowedMethods := "GET,POST,PUT,PATCH,DELETE,OPTIONS"
	allowedHeaders := "Content-Type,Authorization,x-admin-secret"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
		w.Header().Set("Access-Control-Max-Age", "600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBodyBytes: limit request body size
func MaxBodyBytes(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

// RateLimit applies limiter per client IP to paths under prefixes (all paths
// when none are given). Limiter failures let the request through. The client
// IP is the socket peer unless trustProxy is set, in which case it is the
// address the proxy appended to X-Forwarded-For.
func RateLimit(next http.Handler, limiter ratelimit.Limiter, trustProxy bool, prefixes ...string) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !hasPathPrefix(r.URL.Path, prefixes) {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r, trustProxy)
		if ip == "" {
			ip = "unknown"
		}
		dec, err := limiter.Allow(r.Context(), ip)
		if err != nil {
			obs.Logger().Warn("rate limiter unavailable",
				zap.String("request_id", audit.RequestIDFromContext(r.Context())),
				zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("RateLimit-Limit", strconv.Itoa(dec.Limit))
		w.Header().Set("RateLimit-Remaining", strconv.Itoa(dec.Remaining))
		if !dec.Allowed {
			obs.RateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(dec.RetryAfter)))
			writeError(w, r, http.StatusTooManyRequests, "too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withIdentity resolves the bearer token into an auth.Identity. It never
// rejects: bad or missing tokens produce an anonymous caller and the routes
// decide what they require.
func (a *API) withIdentity(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := auth.Anonymous
		if token, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
			id = a.auth.Authenticate(r.Context(), token)
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
	})
}

// recordAnalytics queues one analytics row after the handler returns.
func (a *API) recordAnalytics(next http.Handler) http.Handler {
	if a == nil || a.analytics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if analyticsSkipPaths[r.URL.Path] {
			return
		}
		hit := audit.Hit{
			At:     time.Now(),
			Method: r.Method,
			Path:   r.URL.Path,
		}
		if id := auth.IdentityFromContext(r.Context()); id.Authenticated() {
			uid := id.ID()
			hit.UserID = &uid
		}
		a.analytics.Record(hit)
	})
}

func hasPathPrefix(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// One proxy hop: the last entry is the peer the proxy saw.
		if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
			parts := strings.Split(xff[len(xff)-1], ",")
			if ip := strings.TrimSpace(parts[len(parts)-1]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
