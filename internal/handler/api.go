package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/chatcal/link-server-go/internal/errors"
	"github.com/chatcal/link-server-go/internal/httputil"
	"github.com/chatcal/link-server-go/internal/service"
)

// LinkAPIHandler exposes pairing operations to trusted backend callers.
type LinkAPIHandler struct {
	pairingService    *service.PairingService
	credentialService *service.CredentialService
	publicBaseURL     string
}

func NewLinkAPIHandler(pairingService *service.PairingService, credentialService *service.CredentialService, publicBaseURL string) *LinkAPIHandler {
	return &LinkAPIHandler{
		pairingService:    pairingService,
		credentialService: credentialService,
		publicBaseURL:     publicBaseURL,
	}
}

func (h *LinkAPIHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/codes", h.IssueCode)
	r.Get("/status", h.Status)
	return r
}

type issueCodeRequest struct {
	ChatUserID string `json:"chatUserId"`
}

type issueCodeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
	LinkURL   string    `json:"linkUrl"`
}

type statusResponse struct {
	ChatUserID string `json:"chatUserId"`
	Status     string `json:"status"`
}

func (h *LinkAPIHandler) IssueCode(w http.ResponseWriter, r *http.Request) {
	var req issueCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("request body must be valid JSON"))
		return
	}

	code, err := h.pairingService.IssueCode(r.Context(), req.ChatUserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, issueCodeResponse{
		Code:      code.Code,
		ExpiresAt: code.ExpiresAt,
		LinkURL:   h.publicBaseURL + "/link",
	})
}

func (h *LinkAPIHandler) Status(w http.ResponseWriter, r *http.Request) {
	chatUserID := r.URL.Query().Get("chatUserId")
	if chatUserID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("chatUserId"))
		return
	}

	status, err := h.credentialService.Status(r.Context(), chatUserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, statusResponse{
		ChatUserID: chatUserID,
		Status:     string(status),
	})
}
