package wa

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	watypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"
)

// storedCreds is the opaque blob persisted by the credential store. The
// device key material itself lives in the whatsmeow sqlstore; the blob only
// records which device belongs to the tenant.
type storedCreds struct {
	JID string `json:"jid"`
}

// MeowDialer opens whatsmeow-backed handles from a shared sqlstore
// container.
type MeowDialer struct {
	container *sqlstore.Container
}

func NewMeowDialer(dbPath string) (*MeowDialer, error) {
	container, err := sqlstore.New("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open whatsmeow store: %w", err)
	}
	return &MeowDialer{container: container}, nil
}

func (d *MeowDialer) Open(ctx context.Context, tenantID string, creds []byte) (Handle, error) {
	device, err := d.lookupDevice(creds)
	if err != nil {
		// Treat unreadable credentials as absent: fall open to a fresh
		// pairing flow rather than refusing to connect.
		log.Warn().Err(err).Str("tenant", tenantID).Msg("stored credentials unusable, starting fresh pairing")
		device = nil
	}
	if device == nil {
		device = d.container.NewDevice()
	}

	client := whatsmeow.NewClient(device, nil)
	// Reconnection policy belongs to the lifecycle manager.
	client.EnableAutoReconnect = false

	h := &meowHandle{tenantID: tenantID, client: client}
	client.AddEventHandler(h.handleEvent)
	return h, nil
}

func (d *MeowDialer) lookupDevice(creds []byte) (*store.Device, error) {
	if len(creds) == 0 {
		return nil, nil
	}
	var sc storedCreds
	if err := json.Unmarshal(creds, &sc); err != nil {
		return nil, fmt.Errorf("failed to decode credential blob: %w", err)
	}
	if sc.JID == "" {
		return nil, nil
	}
	jid, err := watypes.ParseJID(sc.JID)
	if err != nil {
		return nil, fmt.Errorf("invalid device JID %q: %w", sc.JID, err)
	}
	return d.container.GetDevice(jid)
}

type meowHandle struct {
	tenantID string
	client   *whatsmeow.Client

	mu       sync.RWMutex
	handlers Handlers
}

func (h *meowHandle) SetHandlers(hs Handlers) {
	h.mu.Lock()
	h.handlers = hs
	h.mu.Unlock()
}

func (h *meowHandle) callbacks() Handlers {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handlers
}

func (h *meowHandle) Connect() error {
	return h.client.Connect()
}

func (h *meowHandle) Disconnect() {
	h.client.Disconnect()
}

func (h *meowHandle) Logout(ctx context.Context) error {
	return h.client.Logout()
}

func (h *meowHandle) IsConnected() bool {
	return h.client.IsConnected()
}

func (h *meowHandle) IsLoggedIn() bool {
	return h.client.Store.ID != nil && h.client.IsLoggedIn()
}

func (h *meowHandle) SendText(ctx context.Context, to, text string) (Receipt, error) {
	recipient, err := watypes.ParseJID(UserJID(to))
	if err != nil {
		return Receipt{}, fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	msg := &waProto.Message{
		Conversation: proto.String(text),
	}

	resp, err := h.client.SendMessage(ctx, recipient, msg)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// handleEvent translates whatsmeow events into the typed callback table.
func (h *meowHandle) handleEvent(evt interface{}) {
	hs := h.callbacks()

	switch v := evt.(type) {
	case *events.QR:
		if hs.OnConnection != nil && len(v.Codes) > 0 {
			hs.OnConnection(ConnectionEvent{QR: v.Codes[0]})
		}

	case *events.PairSuccess:
		h.emitCredentials(hs)

	case *events.Connected:
		h.emitCredentials(hs)
		if hs.OnConnection != nil {
			hs.OnConnection(ConnectionEvent{Connection: ConnectionOpen})
		}

	case *events.LoggedOut:
		if hs.OnConnection != nil {
			hs.OnConnection(ConnectionEvent{Connection: ConnectionClose, Reason: ReasonLoggedOut})
		}

	case *events.StreamReplaced:
		if hs.OnConnection != nil {
			hs.OnConnection(ConnectionEvent{Connection: ConnectionClose, Reason: ReasonStreamReplaced})
		}

	case *events.Disconnected:
		if hs.OnConnection != nil {
			hs.OnConnection(ConnectionEvent{Connection: ConnectionClose, Reason: ReasonConnectionLost})
		}

	case *events.Message:
		if hs.OnMessage == nil {
			return
		}
		msg := v.Message
		hs.OnMessage(MessageEvent{
			Chat:         v.Info.Chat.String(),
			Sender:       v.Info.Sender.String(),
			PushName:     v.Info.PushName,
			FromMe:       v.Info.IsFromMe,
			Broadcast:    v.Info.Chat.Server == watypes.BroadcastServer,
			Conversation: msg.GetConversation(),
			ExtendedText: msg.GetExtendedTextMessage().GetText(),
			Timestamp:    v.Info.Timestamp,
		})
	}
}

// emitCredentials snapshots the device identity for persistence. Fired on
// pairing success and on every successful connect, which is when whatsmeow
// has rotated or confirmed key material.
func (h *meowHandle) emitCredentials(hs Handlers) {
	if hs.OnCredentials == nil || h.client.Store.ID == nil {
		return
	}
	blob, err := json.Marshal(storedCreds{JID: h.client.Store.ID.String()})
	if err != nil {
		log.Error().Err(err).Str("tenant", h.tenantID).Msg("failed to encode credential blob")
		return
	}
	hs.OnCredentials(blob)
}
