package api

import "net/http"

// WithServerHeader adds "Server: airport-visit-map/<version>" to every
// response. HEAD / answers 200 without reaching next, so health checks
// never count as visits.
func WithServerHeader(version string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "airport-visit-map/"+version)

		if r.Method == http.MethodHead && r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
