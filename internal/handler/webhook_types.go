package handler

// Chat Webhook Request Types

type ChatWebhookRequest struct {
	Destination string      `json:"destination,omitempty"`
	Events      []ChatEvent `json:"events"`
}

type ChatEvent struct {
	Type       string       `json:"type"`
	ReplyToken string       `json:"replyToken,omitempty"`
	Timestamp  int64        `json:"timestamp,omitempty"`
	Source     *ChatSource  `json:"source,omitempty"`
	Message    *ChatMessage `json:"message,omitempty"`
}

type ChatSource struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type ChatMessage struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Chat Webhook Response Types

type ChatWebhookResponse struct {
	Replies []ChatReply `json:"replies"`
}

type ChatReply struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []ChatMessage `json:"messages"`
}

func NewTextReply(replyToken, text string) ChatReply {
	return ChatReply{
		ReplyToken: replyToken,
		Messages:   []ChatMessage{{Type: "text", Text: text}},
	}
}

func (e *ChatEvent) UserID() string {
	if e.Source == nil {
		return ""
	}
	return e.Source.UserID
}

func (e *ChatEvent) Text() string {
	if e.Message == nil {
		return ""
	}
	return e.Message.Text
}
