// Package session tracks, per tenant, the connection state machine,
// credential persistence, and reconnection policy.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"wabridge/db"
	"wabridge/wa"
)

// Status is the per-tenant connection state. The string values are what
// gets persisted to the session row.
type Status string

const (
	StatusConnecting      Status = "connecting"
	StatusAwaitingPairing Status = "awaiting_pairing"
	StatusConnected       Status = "connected"
	StatusDisconnected    Status = "disconnected"
	StatusReconnecting    Status = "reconnecting"
	StatusLoggedOut       Status = "logged_out"
)

var (
	ErrNoActiveSession  = errors.New("no active session for tenant")
	ErrNotAuthenticated = errors.New("session is not connected and authenticated")
)

// Store is the credential store consumed by the manager. Save and SetStatus
// failures are treated as best-effort; Load failures fail open to a fresh
// pairing flow.
type Store interface {
	Load(ctx context.Context, tenantID string) ([]byte, error)
	Save(ctx context.Context, tenantID string, creds []byte) error
	SetStatus(ctx context.Context, tenantID, status, qr string) error
	Clear(ctx context.Context, tenantID string) error
	Get(ctx context.Context, tenantID string) (*db.SessionRow, error)
	All(ctx context.Context) ([]db.SessionRow, error)
}

// Session is one tenant's live connection state. Fields are guarded by the
// owning Manager's mutex.
type Session struct {
	TenantID string

	handle wa.Handle
	status Status
	qr     string
}

// Config carries the manager's policy knobs.
type Config struct {
	// ReconnectDelay is the fixed delay between reconnect attempts.
	// Reconnection is retried indefinitely unless the tenant is explicitly
	// logged out.
	ReconnectDelay time.Duration
	// SendLimiter throttles outbound sends across all tenants. Optional.
	SendLimiter *rate.Limiter
}

// Manager drives each tenant's connection through its state machine,
// reacting to messaging-client events and invoking the credential store.
type Manager struct {
	dialer wa.Dialer
	store  Store
	reg    *Registry
	delay  time.Duration
	limit  *rate.Limiter

	mu      sync.Mutex
	pending map[string]*time.Timer // reconnect timers by tenant
	closed  bool

	onMessage    func(tenantID string, ev wa.MessageEvent)
	onTransition func(tenantID string, status Status, qr string)
}

func NewManager(dialer wa.Dialer, store Store, cfg Config) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	return &Manager{
		dialer:  dialer,
		store:   store,
		reg:     NewRegistry(),
		delay:   cfg.ReconnectDelay,
		limit:   cfg.SendLimiter,
		pending: make(map[string]*time.Timer),
	}
}

// Registry exposes the tenant map, mainly for status queries and tests.
func (m *Manager) Registry() *Registry {
	return m.reg
}

// SetMessageHandler installs the inbound message sink. Must be called
// before Connect.
func (m *Manager) SetMessageHandler(h func(tenantID string, ev wa.MessageEvent)) {
	m.onMessage = h
}

// SetTransitionHook installs an observer invoked after every state
// transition. Must be called before Connect.
func (m *Manager) SetTransitionHook(h func(tenantID string, status Status, qr string)) {
	m.onTransition = h
}

// Connect opens (or reuses) the connection for a tenant. A tenant with a
// live, open handle is a no-op; a pending reconnect timer is cancelled so a
// manual connect never races a scheduled one into a double-open.
func (m *Manager) Connect(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("session manager is shut down")
	}
	m.cancelReconnectLocked(tenantID)

	if s := m.reg.Get(tenantID); s != nil {
		// A session that is still dialing counts as live, or two racing
		// connects would tear each other down.
		if s.status == StatusConnecting || (s.handle != nil && s.handle.IsConnected()) {
			m.mu.Unlock()
			log.Debug().Str("tenant", tenantID).Msg("connect is a no-op, session already open")
			return nil
		}
		// Close the stale handle before replacing it so sockets don't leak.
		if s.handle != nil {
			s.handle.Disconnect()
		}
		m.reg.Remove(tenantID)
	}
	m.mu.Unlock()

	creds, err := m.store.Load(ctx, tenantID)
	if err != nil {
		// Storage being unreachable is not fatal: treat as no saved
		// session and start a fresh pairing flow.
		log.Warn().Err(err).Str("tenant", tenantID).Msg("failed to load credentials, starting fresh")
		creds = nil
	}

	handle, err := m.dialer.Open(ctx, tenantID, creds)
	if err != nil {
		return fmt.Errorf("failed to open connection for tenant %s: %w", tenantID, err)
	}

	s := &Session{TenantID: tenantID, handle: handle, status: StatusConnecting}

	// Callbacks carry the owning session so a late event from a replaced
	// handle can be told apart from the live one.
	handle.SetHandlers(wa.Handlers{
		OnCredentials: func(blob []byte) { m.handleCredentials(s, blob) },
		OnConnection:  func(ev wa.ConnectionEvent) { m.handleConnection(s, ev) },
		OnMessage:     func(ev wa.MessageEvent) { m.handleMessage(s, ev) },
	})

	m.mu.Lock()
	if cur := m.reg.Get(tenantID); cur != nil {
		// A concurrent connect registered first; discard our handle so the
		// tenant never holds two.
		m.mu.Unlock()
		handle.Disconnect()
		return nil
	}
	m.reg.Put(tenantID, s)
	m.mu.Unlock()

	m.notify(tenantID, StatusConnecting, "")
	m.persistStatus(tenantID, StatusConnecting, "")

	if err := handle.Connect(); err != nil {
		m.mu.Lock()
		if m.reg.Get(tenantID) == s {
			m.reg.Remove(tenantID)
		}
		m.mu.Unlock()
		m.persistStatus(tenantID, StatusDisconnected, "")
		return fmt.Errorf("failed to connect tenant %s: %w", tenantID, err)
	}
	return nil
}

// Disconnect closes the tenant's socket but keeps stored credentials, so a
// later connect resumes without re-pairing.
func (m *Manager) Disconnect(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	m.cancelReconnectLocked(tenantID)
	s := m.reg.Get(tenantID)
	if s == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	m.reg.Remove(tenantID)
	m.mu.Unlock()

	s.handle.Disconnect()
	m.notify(tenantID, StatusDisconnected, "")
	m.persistStatus(tenantID, StatusDisconnected, "")
	return nil
}

// Logout is the hard reset: close the handle, unlink the device, and wipe
// the persisted credential material. Succeeds even when no live session
// exists, so a stuck tenant can always be cleaned up.
func (m *Manager) Logout(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	m.cancelReconnectLocked(tenantID)
	s := m.reg.Get(tenantID)
	if s != nil {
		m.reg.Remove(tenantID)
	}
	m.mu.Unlock()

	if s != nil {
		if err := s.handle.Logout(ctx); err != nil {
			log.Warn().Err(err).Str("tenant", tenantID).Msg("logout request failed, closing socket anyway")
			s.handle.Disconnect()
		}
	}

	if err := m.store.Clear(ctx, tenantID); err != nil {
		log.Error().Err(err).Str("tenant", tenantID).Msg("failed to clear stored session")
	}
	m.notify(tenantID, StatusLoggedOut, "")
	return nil
}

// Send delivers one text message through the tenant's live session.
func (m *Manager) Send(ctx context.Context, tenantID, phone, text string) (wa.Receipt, error) {
	m.mu.Lock()
	s := m.reg.Get(tenantID)
	var handle wa.Handle
	if s != nil {
		handle = s.handle
	}
	m.mu.Unlock()

	if handle == nil {
		return wa.Receipt{}, ErrNoActiveSession
	}
	if !handle.IsConnected() || !handle.IsLoggedIn() {
		return wa.Receipt{}, ErrNotAuthenticated
	}

	if m.limit != nil {
		if err := m.limit.Wait(ctx); err != nil {
			return wa.Receipt{}, err
		}
	}
	return handle.SendText(ctx, wa.UserJID(phone), text)
}

// Status reports the tenant's current state, falling back to the persisted
// row when the tenant is not in the registry.
func (m *Manager) Status(ctx context.Context, tenantID string) (Status, string, error) {
	m.mu.Lock()
	if s := m.reg.Get(tenantID); s != nil {
		status, qr := s.status, s.qr
		m.mu.Unlock()
		return status, qr, nil
	}
	m.mu.Unlock()

	row, err := m.store.Get(ctx, tenantID)
	if err != nil {
		return "", "", err
	}
	if row == nil || row.Status == "" {
		return StatusDisconnected, "", nil
	}
	return Status(row.Status), row.QRCode, nil
}

// Restore re-dials every tenant that still has persisted credentials.
// Called once at process start.
func (m *Manager) Restore(ctx context.Context) {
	rows, err := m.store.All(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list stored sessions for restore")
		return
	}

	for _, row := range rows {
		if len(row.SessionData) == 0 {
			continue
		}
		// A tenant that was explicitly disconnected or logged out stays
		// down until someone asks for it again.
		if row.Status == string(StatusDisconnected) || row.Status == string(StatusLoggedOut) {
			continue
		}
		log.Info().Str("tenant", row.TenantID).Str("status", row.Status).Msg("restoring session")
		if err := m.Connect(ctx, row.TenantID); err != nil {
			log.Error().Err(err).Str("tenant", row.TenantID).Msg("failed to restore session")
		}
	}
}

// Close drains the manager at shutdown: cancels reconnect timers and closes
// every live handle without touching persisted state.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for tenantID, t := range m.pending {
		t.Stop()
		delete(m.pending, tenantID)
	}
	var sessions []*Session
	for _, tenantID := range m.reg.Tenants() {
		if s := m.reg.Get(tenantID); s != nil {
			sessions = append(sessions, s)
		}
		m.reg.Remove(tenantID)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.handle.Disconnect()
	}
}

// handleCredentials persists rotated key material, best-effort.
func (m *Manager) handleCredentials(s *Session, blob []byte) {
	if !m.isLive(s) {
		return
	}
	if err := m.store.Save(context.Background(), s.TenantID, blob); err != nil {
		log.Error().Err(err).Str("tenant", s.TenantID).Msg("failed to persist credentials")
	}
}

// handleConnection is the state-machine driver for connection updates.
func (m *Manager) handleConnection(s *Session, ev wa.ConnectionEvent) {
	tenantID := s.TenantID

	m.mu.Lock()
	if m.reg.Get(tenantID) != s {
		// Event from a replaced or discarded handle, e.g. after an
		// explicit disconnect or a reconnect that swapped handles.
		m.mu.Unlock()
		return
	}

	switch {
	case ev.QR != "":
		s.status = StatusAwaitingPairing
		s.qr = ev.QR
		m.mu.Unlock()
		m.notify(tenantID, StatusAwaitingPairing, ev.QR)
		m.persistStatus(tenantID, StatusAwaitingPairing, ev.QR)

	case ev.Connection == wa.ConnectionOpen:
		s.status = StatusConnected
		s.qr = ""
		m.mu.Unlock()
		log.Info().Str("tenant", tenantID).Msg("session connected")
		m.notify(tenantID, StatusConnected, "")
		m.persistStatus(tenantID, StatusConnected, "")

	case ev.Connection == wa.ConnectionClose && ev.Reason.Terminal():
		s.status = StatusLoggedOut
		s.qr = ""
		m.reg.Remove(tenantID)
		m.mu.Unlock()
		log.Info().Str("tenant", tenantID).Str("reason", ev.Reason.String()).Msg("session terminated remotely")
		m.notify(tenantID, StatusLoggedOut, "")
		if err := m.store.Clear(context.Background(), tenantID); err != nil {
			log.Error().Err(err).Str("tenant", tenantID).Msg("failed to clear stored session")
		}

	case ev.Connection == wa.ConnectionClose:
		s.status = StatusReconnecting
		s.qr = ""
		m.scheduleReconnectLocked(tenantID)
		m.mu.Unlock()
		log.Warn().Str("tenant", tenantID).Str("reason", ev.Reason.String()).Msg("connection closed, reconnect scheduled")
		m.notify(tenantID, StatusReconnecting, "")
		m.persistStatus(tenantID, StatusReconnecting, "")
	}
}

func (m *Manager) handleMessage(s *Session, ev wa.MessageEvent) {
	if m.onMessage != nil && m.isLive(s) {
		m.onMessage(s.TenantID, ev)
	}
}

// isLive reports whether s is still the registered session for its tenant.
func (m *Manager) isLive(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.Get(s.TenantID) == s
}

// scheduleReconnectLocked arms the tenant's reconnect timer. At most one
// timer exists per tenant; m.mu must be held.
func (m *Manager) scheduleReconnectLocked(tenantID string) {
	if m.closed {
		return
	}
	if _, ok := m.pending[tenantID]; ok {
		return
	}
	m.pending[tenantID] = time.AfterFunc(m.delay, func() { m.runReconnect(tenantID) })
}

func (m *Manager) runReconnect(tenantID string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	delete(m.pending, tenantID)
	m.mu.Unlock()

	if err := m.Connect(context.Background(), tenantID); err != nil {
		log.Error().Err(err).Str("tenant", tenantID).Msg("reconnect attempt failed")
		m.mu.Lock()
		m.scheduleReconnectLocked(tenantID)
		m.mu.Unlock()
	}
}

// cancelReconnectLocked stops a pending reconnect timer; m.mu must be held.
func (m *Manager) cancelReconnectLocked(tenantID string) {
	if t, ok := m.pending[tenantID]; ok {
		t.Stop()
		delete(m.pending, tenantID)
	}
}

func (m *Manager) notify(tenantID string, status Status, qr string) {
	if m.onTransition != nil {
		m.onTransition(tenantID, status, qr)
	}
}

// persistStatus mirrors a transition to the session row. Failures are
// logged and swallowed so storage outages never abort the connection flow.
func (m *Manager) persistStatus(tenantID string, status Status, qr string) {
	if err := m.store.SetStatus(context.Background(), tenantID, string(status), qr); err != nil {
		log.Error().Err(err).Str("tenant", tenantID).Str("status", string(status)).Msg("failed to persist status")
	}
}
