package handler

import (
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/chatcal/link-server-go/internal/errors"
	"github.com/chatcal/link-server-go/internal/httputil"
	"github.com/chatcal/link-server-go/internal/service"
)

var linkFormTemplate = template.Must(template.New("link").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Link your calendar</title>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <style>
        body { font-family: sans-serif; max-width: 480px; margin: 48px auto; padding: 0 16px; }
        label { display: block; margin-bottom: 8px; font-weight: bold; }
        input[type="text"] { width: 100%; padding: 10px; border: 1px solid #ccc; border-radius: 4px;
            font-size: 18px; letter-spacing: 2px; text-transform: uppercase; }
        button { margin-top: 16px; background: #4285f4; color: white; padding: 12px 24px;
            border: none; border-radius: 4px; cursor: pointer; font-size: 16px; }
        .error { color: #c5221f; margin-top: 12px; }
    </style>
</head>
<body>
    <h1>Link your calendar</h1>
    <p>Enter the pairing code the bot sent you to connect your calendar.</p>
    <form method="POST" action="/link">
        <label for="code">Pairing code</label>
        <input type="text" id="code" name="code" placeholder="8-character code" autocomplete="off" required>
        <button type="submit">Continue</button>
    </form>
    {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
</body>
</html>
`))

type linkFormData struct {
	Error string
}

// LinkHandler serves the public pairing form: the web half of the
// chat-to-browser handoff.
type LinkHandler struct {
	pairingService *service.PairingService
	oauthService   *service.OAuthService
	publicBaseURL  string
}

func NewLinkHandler(
	pairingService *service.PairingService,
	oauthService *service.OAuthService,
	publicBaseURL string,
) *LinkHandler {
	return &LinkHandler{
		pairingService: pairingService,
		oauthService:   oauthService,
		publicBaseURL:  publicBaseURL,
	}
}

func (h *LinkHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ShowForm)
	r.Post("/", h.SubmitCode)

	return r
}

func (h *LinkHandler) ShowForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, http.StatusOK, "")
}

func (h *LinkHandler) SubmitCode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderForm(w, http.StatusBadRequest, "Invalid form submission.")
		return
	}

	ctx := r.Context()

	chatUserID, err := h.pairingService.VerifyAndConsume(ctx, r.FormValue("code"))
	if err != nil {
		h.renderForm(w, httputil.StatusFromCode(apperrors.GetCode(err)), formMessage(err))
		return
	}

	authURL, err := h.oauthService.BuildAuthorizationURL(ctx, chatUserID, requestOrigin(h.publicBaseURL, r))
	if err != nil {
		log.Error().Err(err).Str("chatUserId", chatUserID).Msg("failed to build authorization URL")
		h.renderForm(w, httputil.StatusFromCode(apperrors.GetCode(err)),
			"Could not start the authorization flow. Please request a new code and try again.")
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *LinkHandler) renderForm(w http.ResponseWriter, status int, errorMessage string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := linkFormTemplate.Execute(w, linkFormData{Error: errorMessage}); err != nil {
		log.Error().Err(err).Msg("failed to render link form")
	}
}

func formMessage(err error) string {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInvalidCode:
		return "That code was not recognized. Check it and try again."
	case apperrors.ErrCodeCodeExpired:
		return "That code has expired. Ask the bot for a new one."
	case apperrors.ErrCodeCodeAlreadyUsed:
		return "That code has already been used. Ask the bot for a new one."
	case apperrors.ErrCodeMissingRequired:
		return "Enter the pairing code the bot sent you."
	case apperrors.ErrCodeStorageUnavailable:
		return "We're having trouble right now. Please try again in a moment."
	default:
		return "Something went wrong. Please try again."
	}
}
