package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSConfig configures CORS. An empty Origins list disables the middleware.
type CORSConfig struct {
	// Origins allowed to call the API. "*" allows any origin.
	Origins []string
	// Headers clients may send in addition to Content-Type.
	Headers []string
	// Expose lists response headers readable by scripts.
	Expose []string
	MaxAge time.Duration
}

// CORS answers preflight requests and annotates responses for allowed
// origins. Disallowed origins get no CORS headers and the browser blocks
// the response.
func CORS(cfg CORSConfig) Middleware {
	if len(cfg.Origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	anyOrigin := false
	origins := make(map[string]struct{}, len(cfg.Origins))
	for _, o := range cfg.Origins {
		if o == "*" {
			anyOrigin = true
		}
		origins[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	allowHeaders := strings.Join(append([]string{"Content-Type"}, cfg.Headers...), ", ")
	expose := strings.Join(cfg.Expose, ", ")
	maxAge := ""
	if cfg.MaxAge > 0 {
		maxAge = strconv.Itoa(int(cfg.MaxAge / time.Second))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if !anyOrigin {
				h.Add("Vary", "Origin")
			}
			if preflight {
				h.Add("Vary", "Access-Control-Request-Method")
			}

			_, allowed := origins[strings.ToLower(origin)]
			allowed = origin != "" && (anyOrigin || allowed)
			if allowed {
				if anyOrigin {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
				}
			}

			if !preflight {
				if allowed && expose != "" {
					h.Set("Access-Control-Expose-Headers", expose)
				}
				next.ServeHTTP(w, r)
				return
			}

			if allowed {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				if maxAge != "" {
					h.Set("Access-Control-Max-Age", maxAge)
				}
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
