package domain

import "time"

type Role string

const (
	RoleCustomer  Role = "customer"
	RoleAssistant Role = "assistant"
)

// Turn is a single conversation entry. ImageRef is an opaque transport
// reference (for example a Telegram file_id) and is empty for text-only turns.
type Turn struct {
	Role     Role
	Text     string
	ImageRef string
}

// Session is a bounded conversation record for one customer identity.
type Session struct {
	ID        string
	Turns     []Turn
	CreatedAt time.Time
}

// IncomingMessage is the transport-neutral inbound message.
type IncomingMessage struct {
	SessionID string
	Text      string
	ImageRef  string
}

// OutboundReply is handed to the delivery collaborator. Text may carry HTML anchors.
type OutboundReply struct {
	RecipientID string
	Text        string
}

// Image is resolved attachment data sent to the generative backend.
type Image struct {
	Data     []byte
	MIMEType string
}
