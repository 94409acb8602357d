package middleware

import "net/http"

// NoStore marks every response as uncacheable. Cart and wishlist bodies are
// per-subject and change on every mutation.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Add("Vary", "Authorization")
		w.Header().Add("Vary", "X-Guest-ID")
		next.ServeHTTP(w, r)
	})
}
