package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
)

const apiKeyHeader = "X-API-Key"

var (
	errMissingAPIKey = errors.New("missing API key")
	errInvalidAPIKey = errors.New("invalid API key")
)

// requireAPIKey rejects requests whose X-API-Key header does not match the
// configured key.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			w.Header().Set("WWW-Authenticate", "API-Key")
			s.errorResponse(w, http.StatusUnauthorized, errMissingAPIKey)
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			w.Header().Set("WWW-Authenticate", "API-Key")
			s.errorResponse(w, http.StatusUnauthorized, errInvalidAPIKey)
			return
		}
		next(w, r)
	}
}
