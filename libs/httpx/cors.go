package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy describes which browser origins may call the API.
type CORSPolicy struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	// ExposedHeaders are response headers scripts may read.
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// CORSFromList builds the booking API policy from a comma separated origin
// list. "*" allows any origin.
func CORSFromList(origins string) CORSPolicy {
	return CORSPolicy{
		AllowedOrigins: strings.Split(origins, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", RequestIDHeader, "X-User-Id", "X-Role"},
		ExposedHeaders: []string{RequestIDHeader, "Retry-After"},
		MaxAge:         10 * time.Minute,
	}
}

type corsHeaders struct {
	anyOrigin   bool
	origins     map[string]struct{}
	credentials bool
	methods     string
	headers     string
	exposed     string
	maxAge      string
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or ""
// when the origin is not allowed.
func (c corsHeaders) allowOrigin(origin string) string {
	if _, ok := c.origins[strings.ToLower(origin)]; ok {
		return origin
	}
	if !c.anyOrigin {
		return ""
	}
	// A credentialed response may not use the wildcard.
	if c.credentials {
		return origin
	}
	return "*"
}

func (c corsHeaders) write(h http.Header, allowed string, preflight bool) {
	h.Set("Access-Control-Allow-Origin", allowed)
	h.Add("Vary", "Origin")
	if c.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if !preflight {
		if c.exposed != "" {
			h.Set("Access-Control-Expose-Headers", c.exposed)
		}
		return
	}
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")
	if c.methods != "" {
		h.Set("Access-Control-Allow-Methods", c.methods)
	}
	if c.headers != "" {
		h.Set("Access-Control-Allow-Headers", c.headers)
	}
	if c.maxAge != "" {
		h.Set("Access-Control-Max-Age", c.maxAge)
	}
}

// WithCORS answers preflights for allowed origins and decorates their actual
// requests. Requests from other origins pass through untouched. An empty
// origin list disables CORS.
func WithCORS(cfg CORSPolicy) Middleware {
	c := corsHeaders{
		origins:     make(map[string]struct{}),
		credentials: cfg.AllowCredentials,
		methods:     strings.Join(trimmed(cfg.AllowedMethods), ", "),
		headers:     strings.Join(trimmed(cfg.AllowedHeaders), ", "),
		exposed:     strings.Join(trimmed(cfg.ExposedHeaders), ", "),
	}
	if secs := int(cfg.MaxAge.Seconds()); secs > 0 {
		c.maxAge = strconv.Itoa(secs)
	}
	for _, o := range trimmed(cfg.AllowedOrigins) {
		if o == "*" {
			c.anyOrigin = true
			continue
		}
		c.origins[strings.ToLower(o)] = struct{}{}
	}
	if !c.anyOrigin && len(c.origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := ""
			if origin != "" {
				allowed = c.allowOrigin(origin)
			}
			if allowed == "" {
				next.ServeHTTP(w, r)
				return
			}

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			c.write(w.Header(), allowed, preflight)
			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func trimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
