package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"shop-assistant/internal/domain"
)

// Update is the subset of a Telegram webhook update the assistant reads.
type Update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *Message `json:"message,omitempty"`
	EditedMessage *Message `json:"edited_message,omitempty"`
}

type Message struct {
	MessageID int64       `json:"message_id"`
	Chat      Chat        `json:"chat"`
	Text      string      `json:"text,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
	Document  *Document   `json:"document,omitempty"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size,omitempty"`
}

type Document struct {
	FileID   string `json:"file_id"`
	MIMEType string `json:"mime_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

// ParseUpdate normalizes a webhook body. ok is false for updates that carry
// no message with text or an image, which are acknowledged and ignored.
func ParseUpdate(raw []byte) (msg domain.IncomingMessage, ok bool, err error) {
	var u Update
	if err := json.Unmarshal(raw, &u); err != nil {
		return domain.IncomingMessage{}, false, fmt.Errorf("telegram: decode update: %w", err)
	}
	m := u.Message
	if m == nil {
		return domain.IncomingMessage{}, false, nil
	}

	text := m.Text
	if strings.TrimSpace(text) == "" {
		text = m.Caption
	}
	msg = domain.IncomingMessage{
		SessionID: strconv.FormatInt(m.Chat.ID, 10),
		Text:      strings.TrimSpace(text),
		ImageRef:  imageRef(m),
	}
	if msg.Text == "" && msg.ImageRef == "" {
		return domain.IncomingMessage{}, false, nil
	}
	return msg, true, nil
}

// imageRef picks the largest photo size, or an image document.
func imageRef(m *Message) string {
	if len(m.Photo) > 0 {
		best := m.Photo[0]
		for _, p := range m.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		return best.FileID
	}
	if m.Document != nil && strings.HasPrefix(m.Document.MIMEType, "image/") {
		return m.Document.FileID
	}
	return ""
}
