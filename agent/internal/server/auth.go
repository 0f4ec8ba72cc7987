package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// BasicAuth returns middleware that checks HTTP basic credentials against a
// bcrypt hash. An empty user disables the check.
func BasicAuth(user, hash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if user == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUser, gotPass, ok := r.BasicAuth()
			if !ok {
				logger.Debug("status server auth: missing credentials", "path", r.URL.Path)
				unauthorized(w)
				return
			}

			userOK := subtle.ConstantTimeCompare([]byte(gotUser), []byte(user)) == 1
			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(gotPass)); err != nil || !userOK {
				logger.Warn("status server auth failed",
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
				)
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="cachet-agent"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
