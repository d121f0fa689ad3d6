package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatcal/link-server-go/internal/model"
	"github.com/chatcal/link-server-go/internal/service"
)

type Command struct {
	Type string // LINK, STATUS, HELP
}

func parseCommand(text string) *Command {
	trimmed := strings.TrimSpace(text)

	if trimmed == "/link" {
		return &Command{Type: "LINK"}
	}

	if trimmed == "/status" {
		return &Command{Type: "STATUS"}
	}

	if trimmed == "/help" {
		return &Command{Type: "HELP"}
	}

	return nil
}

// WebhookHandler receives chat platform events and answers pairing commands.
type WebhookHandler struct {
	pairingService    *service.PairingService
	credentialService *service.CredentialService
	publicBaseURL     string
}

func NewWebhookHandler(
	pairingService *service.PairingService,
	credentialService *service.CredentialService,
	publicBaseURL string,
) *WebhookHandler {
	return &WebhookHandler{
		pairingService:    pairingService,
		credentialService: credentialService,
		publicBaseURL:     publicBaseURL,
	}
}

func (h *WebhookHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var req ChatWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("invalid chat webhook request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	replies := make([]ChatReply, 0, len(req.Events))

	for _, event := range req.Events {
		if event.Type != "message" || event.Message == nil || event.Message.Type != "text" {
			continue
		}

		userID := event.UserID()
		if userID == "" || event.ReplyToken == "" {
			continue
		}

		log.Info().
			Str("chatUserId", userID).
			Str("text", truncate(event.Text(), 50)).
			Msg("received chat webhook event")

		cmd := parseCommand(event.Text())
		if cmd == nil {
			replies = append(replies, NewTextReply(event.ReplyToken,
				"To connect your calendar, send /link.\n\nHelp: /help"))
			continue
		}

		replies = append(replies, NewTextReply(event.ReplyToken, h.handleCommand(r, cmd, userID)))
	}

	writeJSON(w, http.StatusOK, ChatWebhookResponse{Replies: replies})
}

func (h *WebhookHandler) handleCommand(r *http.Request, cmd *Command, chatUserID string) string {
	ctx := r.Context()

	switch cmd.Type {
	case "LINK":
		code, err := h.pairingService.IssueCode(ctx, chatUserID)
		if err != nil {
			log.Error().Err(err).Str("chatUserId", chatUserID).Msg("failed to issue pairing code")
			return "Something went wrong issuing your code. Please try again."
		}

		minutes := int(time.Until(code.ExpiresAt).Round(time.Minute).Minutes())
		return fmt.Sprintf(
			"Your pairing code is:\n\n%s\n\nOpen %s/link and enter it within %d minutes to connect your calendar.",
			code.Code, h.publicBaseURL, minutes)

	case "STATUS":
		status, err := h.credentialService.Status(ctx, chatUserID)
		if err != nil {
			log.Error().Err(err).Str("chatUserId", chatUserID).Msg("failed to look up link status")
			return "Something went wrong checking your status. Please try again."
		}

		switch status {
		case model.LinkStatusLinked:
			return "✅ Your calendar is connected."
		case model.LinkStatusNeedsReauth:
			return "⚠️ Your calendar connection needs to be renewed.\n\nSend /link to reconnect."
		default:
			return "❌ No calendar is connected.\n\nSend /link to connect one."
		}

	case "HELP":
		return "📖 Help\n\n" +
			"This bot connects your chat account to your calendar.\n\n" +
			"Commands:\n" +
			"• /link - connect your calendar\n" +
			"• /status - check your connection\n" +
			"• /help - this help"
	}

	// Unreachable for commands parseCommand produces.
	return "Unknown command. Send /help for a list of commands."
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
