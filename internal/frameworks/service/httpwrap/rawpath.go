// Package httpwrap holds handler wrappers shared by services.
package httpwrap

import "net/http"

// ClearRawPath drops r.URL.RawPath so chi routes on the decoded path and
// URL parameters arrive unescaped.
func ClearRawPath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.URL.RawPath = ""
		next.ServeHTTP(w, r)
	})
}
