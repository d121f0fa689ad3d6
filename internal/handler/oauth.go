package handler

import (
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/chatcal/link-server-go/internal/errors"
	"github.com/chatcal/link-server-go/internal/httputil"
	"github.com/chatcal/link-server-go/internal/service"
)

var callbackPageTemplate = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <style>
        body { font-family: sans-serif; max-width: 480px; margin: 48px auto; padding: 0 16px; }
        .ok { color: #188038; }
        .error { color: #c5221f; }
    </style>
</head>
<body>
    <h1 class="{{.Class}}">{{.Title}}</h1>
    <p>{{.Message}}</p>
</body>
</html>
`))

type callbackPageData struct {
	Title   string
	Class   string
	Message string
}

// OAuthHandler terminates the browser round trip at the provider callback.
type OAuthHandler struct {
	oauthService  *service.OAuthService
	publicBaseURL string
}

func NewOAuthHandler(oauthService *service.OAuthService, publicBaseURL string) *OAuthHandler {
	return &OAuthHandler{
		oauthService:  oauthService,
		publicBaseURL: publicBaseURL,
	}
}

func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		log.Warn().Str("error", errMsg).Msg("provider returned an error on callback")
		h.renderPage(w, http.StatusBadRequest,
			"Authorization failed", "The calendar provider reported: "+errMsg+". Return to chat and try /link again.")
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		h.renderPage(w, http.StatusBadRequest,
			"Authorization failed", "The callback is missing required parameters.")
		return
	}

	cred, err := h.oauthService.HandleCallback(r.Context(), code, state, requestOrigin(h.publicBaseURL, r))
	if err != nil {
		log.Error().Err(err).Msg("OAuth callback failed")
		h.renderPage(w, httputil.StatusFromCode(apperrors.GetCode(err)),
			"Authorization failed", callbackMessage(err))
		return
	}

	log.Info().Str("chatUserId", cred.ChatUserID).Msg("OAuth callback completed")

	h.renderPage(w, http.StatusOK,
		"Calendar linked", "Your calendar is connected. Return to chat to continue.")
}

func (h *OAuthHandler) renderPage(w http.ResponseWriter, status int, title, message string) {
	class := "ok"
	if status != http.StatusOK {
		class = "error"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	err := callbackPageTemplate.Execute(w, callbackPageData{Title: title, Class: class, Message: message})
	if err != nil {
		log.Error().Err(err).Msg("failed to render callback page")
	}
}

func callbackMessage(err error) string {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInvalidState:
		return "This authorization session was not recognized. Start over from the pairing form."
	case apperrors.ErrCodeStateExpired:
		return "This authorization session has expired. Start over from the pairing form."
	case apperrors.ErrCodeStateAlreadyUsed:
		return "This authorization session was already completed. Return to chat to continue."
	case apperrors.ErrCodeExchangeFailed:
		return "The calendar provider rejected the authorization. Return to chat and try /link again."
	case apperrors.ErrCodeExchangedNotPersisted:
		return "Authorization succeeded but saving it failed. Return to chat and try /link again."
	case apperrors.ErrCodeStorageUnavailable:
		return "We're having trouble right now. Please try again in a moment."
	default:
		return "Something went wrong. Return to chat and try /link again."
	}
}
