package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/chatcal/link-server-go/internal/audit"
	"github.com/chatcal/link-server-go/internal/util"
)

// APITokenMiddleware guards the link API used by the chat collaborator with
// a single bearer token.
type APITokenMiddleware struct {
	token string
}

func NewAPITokenMiddleware(token string) *APITokenMiddleware {
	return &APITokenMiddleware{token: token}
}

func (m *APITokenMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.token == "" {
			log.Warn().Msg("link API auth bypassed: LINK_API_TOKEN is not configured")
			next.ServeHTTP(w, r)
			return
		}

		presented := extractBearerToken(r)
		if presented == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		if !util.ConstantTimeEqual(presented, m.token) {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure,
				Details: map[string]interface{}{"surface": "link_api"}})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
