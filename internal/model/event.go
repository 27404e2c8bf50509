package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventType inbound webhook event discriminator
type EventType string

const (
	EventQRCode        EventType = "qr_code"
	EventConnected     EventType = "connected"
	EventDisconnected  EventType = "disconnected"
	EventLoggedOut     EventType = "logged_out"
	EventFailed        EventType = "failed"
	EventMessage       EventType = "message"
	EventMessageStatus EventType = "message_status"
)

// ErrUnknownEvent unknown event types are logged and dropped, never fatal
var ErrUnknownEvent = errors.New("unknown webhook event type")

// WebhookEvent one decoded provider event. Exactly one payload field is
// non-nil, matching Type.
type WebhookEvent struct {
	Type      EventType
	SessionID string
	Message   *MessageEvent
	Status    *StatusEvent
}

// MessageEvent payload of an inbound "message" event
type MessageEvent struct {
	From           string `json:"from"`
	FromMe         bool   `json:"fromMe"`
	Type           string `json:"type"` // chat, image, audio, document, ...
	Text           string `json:"text"`
	Body           string `json:"body"`
	MessageID      string `json:"messageId"`
	Timestamp      int64  `json:"timestamp"` // unix seconds
	IsGroup        bool   `json:"isGroup"`
	Participant    string `json:"participant"`
	SenderName     string `json:"senderName"`
	SenderPhone    string `json:"senderPhone"`
	IsLid          bool   `json:"isLid"`
	OriginalLidJID string `json:"originalLidJid"`
	IsHistory      bool   `json:"isHistory"`
	MediaURL       string `json:"mediaUrl"`
	Mimetype       string `json:"mimetype"`
	Filename       string `json:"filename"`
	Caption        string `json:"caption"`
}

// StatusEvent payload of a "message_status" event
type StatusEvent struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"` // sent, delivered, read, failed
}

// eventEnvelope raw wire shape before the payload variant is validated
type eventEnvelope struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId"`
}

// ParseEvent decodes and validates one webhook call into a tagged variant.
// Returns ErrUnknownEvent for event types this service does not handle.
func ParseEvent(data []byte) (*WebhookEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid webhook body: %w", err)
	}

	evt := &WebhookEvent{Type: EventType(env.Event), SessionID: env.SessionID}

	switch evt.Type {
	case EventQRCode, EventConnected, EventDisconnected, EventLoggedOut, EventFailed:
		return evt, nil

	case EventMessage:
		var msg MessageEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid message event: %w", err)
		}
		if msg.From == "" {
			return nil, errors.New("message event missing from")
		}
		evt.Message = &msg
		return evt, nil

	case EventMessageStatus:
		var st StatusEvent
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("invalid message_status event: %w", err)
		}
		if st.MessageID == "" {
			return nil, errors.New("message_status event missing messageId")
		}
		evt.Status = &st
		return evt, nil

	default:
		return evt, ErrUnknownEvent
	}
}

// Content returns the message text, preferring the explicit text field
func (m *MessageEvent) Content() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Body
}

// protocol-level message subtypes filtered out before persistence
var protocolMessageTypes = map[string]struct{}{
	"protocol":              {},
	"e2e_notification":      {},
	"notification_template": {},
	"ciphertext":            {},
	"revoked":               {},
	"receipt":               {},
}

// IsProtocol reports whether the message is a system/protocol artifact
// rather than user content
func (m *MessageEvent) IsProtocol() bool {
	_, ok := protocolMessageTypes[m.Type]
	return ok
}

// ephemeral identifier suffix issued by the channel before a contact's
// stable identity is known
const lidSuffix = "@lid"

// IsEphemeralID reports whether a channel identifier is ephemeral
func IsEphemeralID(jid string) bool {
	return strings.HasSuffix(jid, lidSuffix)
}

// IsGroupID reports whether a channel identifier addresses a group
func IsGroupID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}
