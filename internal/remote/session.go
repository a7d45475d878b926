// Package remote drives the websocket control protocol of Samsung Smart
// TVs: handshake negotiation with plain-to-secure fallback, token-based
// re-authentication, key sending with device-side rate limits, and a
// single automatic reconnect on transport failure.
package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rakanbakir/samsungctl/internal/domain"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultKeyInterval = 500 * time.Millisecond
	maxHistory         = 50
)

// TokenStore persists per-host pairing credentials across process runs.
// The config collaborator supplies the durable implementation.
type TokenStore interface {
	Credential(host string) domain.PairingCredential
	SaveCredential(host string, cred domain.PairingCredential) error
}

// Manager owns exactly one control channel at a time and drives the
// handshake/auth protocol over it. Connect, Send and Close are blocking;
// callers serialize their own calls into one Manager instance.
type Manager struct {
	clientName  string
	timeout     time.Duration
	keyInterval time.Duration
	plainPort   int
	securePort  int
	store       TokenStore
	logger      *slog.Logger

	sessionID string

	mu       sync.Mutex
	state    domain.SessionState
	ch       *channel
	endpoint domain.Endpoint
	cred     domain.PairingCredential
	history  []domain.CommandResult
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger injects the structured logger. Components never touch
// global log state.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithTokenStore wires the credential persistence collaborator.
func WithTokenStore(store TokenStore) Option {
	return func(m *Manager) { m.store = store }
}

// WithTimeout bounds every dial, read and write on the channel.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithKeyInterval overrides the minimum delay enforced after each key.
func WithKeyInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.keyInterval = d
		}
	}
}

// WithControlPorts overrides the standard plain/secure ports.
func WithControlPorts(plain, secure int) Option {
	return func(m *Manager) {
		m.plainPort = plain
		m.securePort = secure
	}
}

func NewManager(clientName string, opts ...Option) *Manager {
	m := &Manager{
		clientName:  clientName,
		timeout:     defaultTimeout,
		keyInterval: defaultKeyInterval,
		plainPort:   domain.PortWebsocket,
		securePort:  domain.PortSecure,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		state:       domain.StateIdle,
		sessionID:   uuid.NewString(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State reports the current session state.
func (m *Manager) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Credential returns the pairing credential as last mutated by a
// successful handshake.
func (m *Manager) Credential() domain.PairingCredential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred
}

// History returns a copy of the capped command history, oldest first.
func (m *Manager) History() []domain.CommandResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CommandResult, len(m.history))
	copy(out, m.history)
	return out
}

// Connect establishes and authorizes a control channel to the endpoint.
// When the credential carries a usable pairing token the secure port is
// dialed directly; otherwise the plain port is tried first and the
// handshake falls back to the secure port once on an unauthorized event.
func (m *Manager) Connect(ctx context.Context, endpoint domain.Endpoint, cred domain.PairingCredential) error {
	if endpoint.Method == domain.MethodLegacy {
		return ErrLegacyUnsupported
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.endpoint = endpoint
	m.cred = cred
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	m.closeChannelLocked()
	m.state = domain.StateConnecting

	secure := m.cred.UsableToken()
	m.logger.Debug("session_connecting",
		slog.String("session_id", m.sessionID),
		slog.String("host", m.endpoint.Host),
		slog.Bool("secure", secure),
	)

	ev, err := m.attemptLocked(ctx, secure)
	if err != nil {
		m.state = domain.StateFailed
		return err
	}

	fellBack := false
	if ev.Event == eventUnauthorized && !secure {
		// The TV wants the authorization prompt flow; retry once over
		// the secure port with relaxed certificate validation.
		m.closeChannelLocked()
		m.logger.Debug("session_retrying_secure",
			slog.String("session_id", m.sessionID),
			slog.String("host", m.endpoint.Host),
		)
		fellBack = true
		ev, err = m.attemptLocked(ctx, true)
		if err != nil {
			m.state = domain.StateFailed
			return err
		}
	}

	switch {
	case ev.Event == eventConnect:
	case ev.Event == eventUnauthorized || fellBack:
		// After the one documented fallback, any non-connect event means
		// the TV refuses this client.
		m.failLocked()
		return ErrAccessDenied
	default:
		m.failLocked()
		return &UnhandledResponseError{Event: ev.Event}
	}

	if ev.Data.Token != "" {
		m.cred.Token = ev.Data.Token
	}
	m.cred.Paired = true
	if m.store != nil {
		if err := m.store.SaveCredential(m.endpoint.Host, m.cred); err != nil {
			m.logger.Warn("credential_persist_failed",
				slog.String("host", m.endpoint.Host),
				slog.String("error", err.Error()),
			)
		}
	}

	m.state = domain.StateAuthorized
	m.logger.Info("session_authorized",
		slog.String("session_id", m.sessionID),
		slog.String("host", m.endpoint.Host),
		slog.Bool("secure", m.ch.secure),
	)
	return nil
}

// attemptLocked opens one channel variant and reads the single handshake
// event from it.
func (m *Manager) attemptLocked(ctx context.Context, secure bool) (handshakeEvent, error) {
	port := m.plainPort
	if secure {
		port = m.securePort
	} else if m.endpoint.Port != 0 {
		port = m.endpoint.Port
	}

	u := controlURL(m.endpoint.Host, port, m.clientName, m.cred.Token, secure)
	ch, err := dialChannel(ctx, u, secure, m.timeout)
	if err != nil {
		return handshakeEvent{}, err
	}

	m.ch = ch
	m.state = domain.StateAwaitingAuth
	ev, err := ch.readEvent()
	if err != nil {
		m.closeChannelLocked()
		return handshakeEvent{}, err
	}
	return ev, nil
}

// Send transmits one opaque key identifier (KEY_POWER, KEY_VOLUP, ...)
// over the authorized channel. A transport failure during the write
// triggers exactly one reconnect against the last known endpoint and
// credential; if reconnection succeeds the key is retried once and the
// result reflects the retry, otherwise the original transport error is
// surfaced. After a successful write the manager enforces the minimum
// inter-command delay before returning, to respect device-side limits.
func (m *Manager) Send(ctx context.Context, key string) (domain.CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.StateAuthorized || m.ch == nil {
		res := m.recordLocked(key, domain.OutcomeFailed, ErrConnectionClosed)
		return res, ErrConnectionClosed
	}

	outcome := domain.OutcomeOk
	err := m.ch.writeJSON(clickCommand(key))

	var terr *TransportError
	if errors.As(err, &terr) {
		m.logger.Warn("send_transport_error",
			slog.String("session_id", m.sessionID),
			slog.String("key", key),
			slog.String("op", string(terr.Op)),
		)
		if rerr := m.connectLocked(ctx); rerr != nil {
			res := m.recordLocked(key, domain.OutcomeFailed, err)
			return res, err
		}
		if werr := m.ch.writeJSON(clickCommand(key)); werr != nil {
			res := m.recordLocked(key, domain.OutcomeFailed, werr)
			return res, werr
		}
		outcome = domain.OutcomeRetried
	} else if err != nil {
		res := m.recordLocked(key, domain.OutcomeFailed, err)
		return res, err
	}

	if werr := m.pauseLocked(ctx); werr != nil {
		res := m.recordLocked(key, outcome, nil)
		return res, werr
	}

	m.logger.Debug("key_sent",
		slog.String("session_id", m.sessionID),
		slog.String("key", key),
		slog.String("outcome", string(outcome)),
	)
	return m.recordLocked(key, outcome, nil), nil
}

// Close releases the channel. Idempotent and safe in any state.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeChannelLocked()
	m.state = domain.StateClosed
}

// pauseLocked enforces the minimum inter-command delay after a write.
// The delay is unconditional: it runs in full every time, so consecutive
// keys stay spaced even when the session sat idle between them.
func (m *Manager) pauseLocked(ctx context.Context) error {
	timer := time.NewTimer(m.keyInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) failLocked() {
	m.closeChannelLocked()
	m.state = domain.StateFailed
}

func (m *Manager) closeChannelLocked() {
	if m.ch != nil {
		m.ch.close()
		m.ch = nil
	}
}

func (m *Manager) recordLocked(key string, outcome domain.Outcome, err error) domain.CommandResult {
	res := domain.CommandResult{
		Key:       key,
		Timestamp: time.Now(),
		Outcome:   outcome,
	}
	if err != nil {
		res.Error = err.Error()
	}
	m.history = append(m.history, res)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	return res
}
