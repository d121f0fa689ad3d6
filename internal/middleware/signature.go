package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/chatcal/link-server-go/internal/audit"
	"github.com/chatcal/link-server-go/internal/util"
)

const SignatureHeader = "X-Chat-Signature"

// ChatSignatureMiddleware verifies the HMAC-SHA256 signature the chat
// platform attaches to webhook deliveries.
type ChatSignatureMiddleware struct {
	secret string
}

func NewChatSignatureMiddleware(secret string) *ChatSignatureMiddleware {
	return &ChatSignatureMiddleware{secret: secret}
}

func (m *ChatSignatureMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.secret == "" {
			log.Warn().Msg("chat signature verification bypassed: CHAT_SIGNATURE_SECRET is not configured")
			next.ServeHTTP(w, r)
			return
		}

		signature := r.Header.Get(SignatureHeader)
		if signature == "" {
			log.Warn().Msg("chat signature middleware: missing signature header")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing signature",
			})
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.Error().Err(err).Msg("chat signature middleware: failed to read body")
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Failed to read request body",
			})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		computed := util.HmacSHA256(m.secret, string(body))
		if !util.ConstantTimeEqual(computed, signature) {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure,
				Details: map[string]interface{}{"surface": "chat_webhook"}})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid signature",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
