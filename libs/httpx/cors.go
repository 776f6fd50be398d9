package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	defaultCORSMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE"}
	// Browser clients read these: Retry-After on 429/503, the request id for support tickets.
	defaultCORSExposed = []string{RequestIDHeader, "Retry-After"}
)

type CORSPolicy struct {
	// AllowedOrigins accepts exact origins, "*" and single-label wildcards such as
	// "https://*.studio.example".
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// WithCORS answers preflights itself and decorates actual responses. An empty origin list
// disables it.
func WithCORS(cfg CORSPolicy) Middleware {
	origins := trimAll(cfg.AllowedOrigins)
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	methods := trimAll(cfg.AllowedMethods)
	if len(methods) == 0 {
		methods = defaultCORSMethods
	}
	exposed := trimAll(cfg.ExposedHeaders)
	if len(exposed) == 0 {
		exposed = defaultCORSExposed
	}
	allowMethods := strings.Join(methods, ", ")
	allowHeaders := strings.Join(trimAll(cfg.AllowedHeaders), ", ")
	exposeHeaders := strings.Join(exposed, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			origin := r.Header.Get("Origin")
			allowed, ok := "", false
			if origin != "" {
				allowed, ok = allowOrigin(origin, origins, cfg.AllowCredentials)
			}
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if !ok {
				if preflight {
					// Unknown origins get no CORS headers; the browser blocks the real request.
					w.WriteHeader(http.StatusNoContent)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", allowed)
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if !preflight {
				h.Set("Access-Control-Expose-Headers", exposeHeaders)
				next.ServeHTTP(w, r)
				return
			}

			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			h.Set("Access-Control-Allow-Methods", allowMethods)
			if allowHeaders != "" {
				h.Set("Access-Control-Allow-Headers", allowHeaders)
			}
			if cfg.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func allowOrigin(origin string, allowed []string, credentials bool) (string, bool) {
	for _, pattern := range allowed {
		switch {
		case pattern == "*":
			// A literal "*" is not valid together with credentials.
			if credentials {
				return origin, true
			}
			return "*", true
		case strings.EqualFold(pattern, origin):
			return origin, true
		case wildcardMatch(strings.ToLower(pattern), strings.ToLower(origin)):
			return origin, true
		}
	}
	return "", false
}

// wildcardMatch matches "scheme://*.host" against exactly one extra host label.
func wildcardMatch(pattern, origin string) bool {
	prefix, suffix, ok := strings.Cut(pattern, "*")
	if !ok || !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}
	label := origin[len(prefix) : len(origin)-len(suffix)]
	return label != "" && !strings.ContainsAny(label, "./:")
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
