package middleware

import (
	"net"
	"net/http"
	"strings"
)

// HSTS tells browsers to use HTTPS for a year, subdomains included.
func HSTS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

// SecureCookies marks every cookie the wrapped handler sets as Secure and
// HttpOnly. Cookies without a SameSite attribute get SameSite=Strict.
func SecureCookies(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&secureCookieWriter{ResponseWriter: w}, r)
	})
}

type secureCookieWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *secureCookieWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// WriteHeader rewrites the Set-Cookie headers just before they are sent.
func (w *secureCookieWriter) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	header := w.ResponseWriter.Header()
	if cookies := header.Values("Set-Cookie"); len(cookies) > 0 {
		header.Del("Set-Cookie")
		for _, c := range cookies {
			header.Add("Set-Cookie", ensureSecureCookie(c))
		}
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

func ensureSecureCookie(raw string) string {
	c, err := http.ParseSetCookie(raw)
	if err != nil {
		return raw
	}
	c.Secure = true
	c.HttpOnly = true
	if c.SameSite == http.SameSiteDefaultMode {
		c.SameSite = http.SameSiteStrictMode
	}
	return c.String()
}

// RedirectToHTTPS answers every request with a permanent redirect to the same
// URI over HTTPS on the default port. The target host comes from
// X-Forwarded-Host or Host and must pass IsHostAllowed, otherwise the request
// is rejected with 400 so the redirect cannot be aimed at another site.
func RedirectToHTTPS(allowedHosts []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Header.Get("X-Forwarded-Host")
		if host == "" {
			host = r.Host
		}

		if host == "" || !IsHostAllowed(host, allowedHosts) {
			http.Error(w, "Invalid host", http.StatusBadRequest)
			return
		}

		target := hostname(host)
		if strings.Contains(target, ":") {
			target = "[" + target + "]"
		}
		http.Redirect(w, r, "https://"+target+r.RequestURI, http.StatusMovedPermanently)
	})
}

// IsHostAllowed reports whether host matches one of allowedHosts, either
// exactly or by hostname with the port ignored. IPv6 literals may be given
// with or without brackets. An empty list allows every host.
func IsHostAllowed(host string, allowedHosts []string) bool {
	if len(allowedHosts) == 0 {
		return true
	}

	host = strings.ToLower(strings.TrimSpace(host))
	name := hostname(host)

	for _, allowed := range allowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if host == allowed || name == hostname(allowed) {
			return true
		}
	}
	return false
}

// hostname strips the port and IPv6 brackets from a host[:port] value.
func hostname(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}
