// Package wa is the boundary to the WhatsApp messaging client. The rest of
// the service only sees the Dialer/Handle interfaces and the typed events
// below, so tests can substitute a fake transport.
package wa

import (
	"context"
	"strings"
	"time"
)

// DefaultUserServer is the JID server for personal chats.
const DefaultUserServer = "s.whatsapp.net"

// Receipt describes one accepted outbound message.
type Receipt struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// DisconnectReason classifies why a connection closed.
type DisconnectReason int

const (
	ReasonNone DisconnectReason = iota
	// ReasonConnectionLost covers every transient transport failure.
	ReasonConnectionLost
	// ReasonLoggedOut means the account was unlinked from this device.
	ReasonLoggedOut
	// ReasonStreamReplaced means the session was opened elsewhere.
	ReasonStreamReplaced
)

// Terminal reports whether the reason rules out reconnecting with the
// stored credentials.
func (r DisconnectReason) Terminal() bool {
	return r == ReasonLoggedOut || r == ReasonStreamReplaced
}

func (r DisconnectReason) String() string {
	switch r {
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonStreamReplaced:
		return "stream_replaced"
	default:
		return "none"
	}
}

// Connection states carried by ConnectionEvent.
const (
	ConnectionOpen  = "open"
	ConnectionClose = "close"
)

// ConnectionEvent is emitted on every connection-state change. A pairing
// challenge arrives as an event with a non-empty QR and no Connection value.
type ConnectionEvent struct {
	Connection string
	QR         string
	Reason     DisconnectReason
}

// MessageEvent is one inbound payload. Text may live in either the plain
// conversation field or the extended-text field depending on message shape.
type MessageEvent struct {
	Chat         string
	Sender       string
	PushName     string
	FromMe       bool
	Broadcast    bool
	Conversation string
	ExtendedText string
	Timestamp    time.Time
}

// Handlers is the callback table installed on a Handle. Each event kind has
// exactly one handler; nil entries are skipped.
type Handlers struct {
	OnCredentials func(creds []byte)
	OnConnection  func(ev ConnectionEvent)
	OnMessage     func(ev MessageEvent)
}

// Handle is one live (or opening) session with the messaging service.
// Handles are never shared across tenants and are replaced wholesale on
// reconnect.
type Handle interface {
	// SetHandlers must be called before Connect.
	SetHandlers(h Handlers)
	Connect() error
	Disconnect()
	Logout(ctx context.Context) error
	IsConnected() bool
	IsLoggedIn() bool
	SendText(ctx context.Context, to, text string) (Receipt, error)
}

// Dialer opens a new Handle for a tenant from previously persisted
// credential material. Empty creds start a fresh pairing flow.
type Dialer interface {
	Open(ctx context.Context, tenantID string, creds []byte) (Handle, error)
}

// UserJID appends the personal-chat server to a bare phone number. Inputs
// that already carry a server are returned unchanged.
func UserJID(phone string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	return phone + "@" + DefaultUserServer
}

// PhoneNumber strips the server suffix from a JID, returning the bare number.
func PhoneNumber(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}
