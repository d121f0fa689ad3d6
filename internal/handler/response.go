package handler

import (
	"net/http"

	"github.com/chatcal/link-server-go/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// requestOrigin returns the public origin serving this request. Behind a
// reverse proxy the forwarded host wins over the connection-level host; the
// scheme is settled later (always https for self-referential URLs).
func requestOrigin(publicBaseURL string, r *http.Request) string {
	if publicBaseURL != "" {
		return publicBaseURL
	}
	if host := r.Header.Get("X-Forwarded-Host"); host != "" {
		return "https://" + host
	}
	return "https://" + r.Host
}
