package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/cors"
)

// CORS allows any origin when allowedHosts is empty. Otherwise only origins
// whose host matches an entry are allowed, and credentials are permitted so
// the session cookie is sent.
func CORS(allowedHosts []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         3600,
	}

	if len(allowedHosts) == 0 {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowOriginFunc = func(r *http.Request, origin string) bool {
			return isOriginAllowed(origin, allowedHosts)
		}
		opts.AllowCredentials = true
	}

	return cors.Handler(opts)
}

// isOriginAllowed compares the origin's host against the allowed list.
// Entries may be bare hosts or full origins; an entry without a port matches
// any port.
func isOriginAllowed(origin string, allowedHosts []string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}

	host := strings.ToLower(u.Host)
	hostname := strings.ToLower(u.Hostname())

	for _, allowed := range allowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if i := strings.Index(allowed, "://"); i != -1 {
			allowed = allowed[i+3:]
		}
		allowed = strings.TrimSuffix(allowed, "/")
		if allowed == "" {
			continue
		}
		if strings.Contains(allowed, ":") {
			if host == allowed {
				return true
			}
			continue
		}
		if hostname == allowed {
			return true
		}
	}
	return false
}
