package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chatcal/link-server-go/internal/util"
)

func TestChatSignatureMiddleware(t *testing.T) {
	secret := "test-secret"
	body := `{"events":[]}`
	validSignature := util.HmacSHA256(secret, body)

	t.Run("passes through when secret is empty", func(t *testing.T) {
		middleware := NewChatSignatureMiddleware("")
		handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("POST", "/chat/webhook", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects request without signature header", func(t *testing.T) {
		middleware := NewChatSignatureMiddleware(secret)
		handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("POST", "/chat/webhook", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects request with invalid signature", func(t *testing.T) {
		middleware := NewChatSignatureMiddleware(secret)
		handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("POST", "/chat/webhook", bytes.NewBufferString(body))
		req.Header.Set(SignatureHeader, "invalid-signature")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("allows request with valid signature", func(t *testing.T) {
		middleware := NewChatSignatureMiddleware(secret)
		handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("POST", "/chat/webhook", bytes.NewBufferString(body))
		req.Header.Set(SignatureHeader, validSignature)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("body remains readable after verification", func(t *testing.T) {
		middleware := NewChatSignatureMiddleware(secret)
		handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			read, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			assert.Equal(t, body, string(read))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("POST", "/chat/webhook", bytes.NewBufferString(body))
		req.Header.Set(SignatureHeader, validSignature)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
