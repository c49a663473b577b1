package bus

// InboundMessage is one text message received from a chat transport.
type InboundMessage struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	MessageID int               `json:"message_id"`
	Content   string            `json:"content"`
	RequestID string            `json:"request_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is one reply. A non-empty PhotoURL makes it a photo with
// Content as caption; otherwise Content is sent as text.
type OutboundMessage struct {
	Channel   string `json:"channel"`
	ChatID    string `json:"chat_id"`
	ReplyTo   int    `json:"reply_to,omitempty"`
	Content   string `json:"content"`
	PhotoURL  string `json:"photo_url,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// ParseModeHTML selects the transport's HTML-subset markup.
const ParseModeHTML = "HTML"

// IsPhoto reports whether the message carries an image.
func (m OutboundMessage) IsPhoto() bool {
	return m.PhotoURL != ""
}
