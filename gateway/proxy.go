package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"
)

// newBackendProxy forwards /api requests to the backend, lifting the session
// cookie into a bearer header when the caller sent none.
func newBackendProxy(target *url.URL, cookieName string, logger *zap.Logger) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)

	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Host = target.Host
		if r.Header.Get("Authorization") != "" {
			return
		}
		if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
			r.Header.Set("Authorization", "Bearer "+cookie.Value)
		}
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("backend proxy failed", zap.String("path", r.URL.Path), zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Backend unavailable"})
	}

	return proxy
}
