package httpmiddleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// Defaults used when CORSConfig leaves the lists empty.
var (
	DefaultAllowMethods  = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	DefaultExposeHeaders = []string{HeaderRequestID, "Idempotent-Replayed", "Retry-After"}
)

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	// AllowOrigins lists origins allowed to call the API. Empty or "*"
	// allows any origin.
	AllowOrigins []string
	// AllowMethods defaults to DefaultAllowMethods.
	AllowMethods []string
	// AllowHeaders lists accepted request headers. Empty echoes the
	// preflight's Access-Control-Request-Headers.
	AllowHeaders []string
	// ExposeHeaders defaults to DefaultExposeHeaders.
	ExposeHeaders []string
	// AllowCredentials with a wildcard origin echoes the request Origin,
	// since browsers reject "*" with credentials.
	AllowCredentials bool
	// MaxAge is the preflight cache lifetime in seconds. Zero omits the
	// header; negative sends "0".
	MaxAge int
}

// corsPolicy is CORSConfig resolved once into header values.
type corsPolicy struct {
	anyOrigin bool
	echo      bool
	origins   map[string]string // lowercase -> configured spelling
	methods   []string

	allowMethods  string
	allowHeaders  string
	exposeHeaders string
	credentials   bool
	maxAge        string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		anyOrigin:   len(cfg.AllowOrigins) == 0 || slices.Contains(cfg.AllowOrigins, "*"),
		origins:     make(map[string]string, len(cfg.AllowOrigins)),
		methods:     cfg.AllowMethods,
		credentials: cfg.AllowCredentials,
	}
	for _, o := range cfg.AllowOrigins {
		p.origins[strings.ToLower(o)] = o
	}
	if p.anyOrigin && p.credentials {
		p.anyOrigin, p.echo = false, true
	}

	if len(p.methods) == 0 {
		p.methods = DefaultAllowMethods
	}
	expose := cfg.ExposeHeaders
	if len(expose) == 0 {
		expose = DefaultExposeHeaders
	}
	p.allowMethods = strings.Join(p.methods, ", ")
	p.allowHeaders = strings.Join(cfg.AllowHeaders, ", ")
	p.exposeHeaders = strings.Join(expose, ", ")

	switch {
	case cfg.MaxAge > 0:
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	case cfg.MaxAge < 0:
		p.maxAge = "0"
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value, or "" when the
// origin is not allowed.
func (p *corsPolicy) allowOrigin(origin string) string {
	switch {
	case p.anyOrigin:
		return "*"
	case p.echo:
		return origin
	default:
		return p.origins[strings.ToLower(origin)]
	}
}

func (p *corsPolicy) preflight(w http.ResponseWriter, r *http.Request, allow string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")

	if allow == "" {
		writeError(w, http.StatusForbidden, "origin_not_allowed", "origin not allowed")
		return
	}
	method := strings.ToUpper(r.Header.Get("Access-Control-Request-Method"))
	if !slices.Contains(p.methods, method) {
		writeError(w, http.StatusForbidden, "method_not_allowed", "method "+method+" not allowed")
		return
	}

	h.Set("Access-Control-Allow-Origin", allow)
	h.Set("Access-Control-Allow-Methods", p.allowMethods)
	if p.allowHeaders != "" {
		h.Set("Access-Control-Allow-Headers", p.allowHeaders)
	} else if rh := r.Header.Get("Access-Control-Request-Headers"); rh != "" {
		h.Set("Access-Control-Allow-Headers", rh)
	}
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.maxAge != "" {
		h.Set("Access-Control-Max-Age", p.maxAge)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *corsPolicy) decorate(w http.ResponseWriter, allow string) {
	h := w.Header()
	if !p.anyOrigin {
		h.Add("Vary", "Origin")
	}
	if allow == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", allow)
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.exposeHeaders != "" {
		h.Set("Access-Control-Expose-Headers", p.exposeHeaders)
	}
}

// CORS answers preflight requests and decorates cross-origin responses.
// Origins match case-insensitively and echo the configured spelling. Refused
// preflights get 403 with the API error envelope; refused actual requests
// pass through without CORS headers and the browser blocks the response.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				if !p.anyOrigin {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			allow := p.allowOrigin(origin)
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				p.preflight(w, r, allow)
				return
			}
			p.decorate(w, allow)
			next.ServeHTTP(w, r)
		})
	}
}
