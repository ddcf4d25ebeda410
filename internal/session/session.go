// Package session owns the authenticated state of one client: credentials,
// the connected flag and the platform-issued artifact.
package session

import (
	"context"
	"sync"

	"commsec-trader/internal/brokererr"
	"commsec-trader/internal/interfaces"
	"commsec-trader/internal/logger"
	"commsec-trader/internal/types"
)

// ArtifactStore persists the device id the platform issues at login, so the
// next process presents the same device.
type ArtifactStore interface {
	LoadDeviceID(ctx context.Context, clientID string) (string, error)
	SaveDeviceID(ctx context.Context, clientID, deviceID string) error
}

type Option func(*Manager)

func WithArtifactStore(s ArtifactStore) Option {
	return func(m *Manager) { m.store = s }
}

// Manager establishes and invalidates the session. It never retries a login.
//
// The mutex only protects the fields. Two operations that both see a lost
// session may each log in; the second login simply replaces the first.
type Manager struct {
	auth     interfaces.Authenticator
	artifact *Artifact
	store    ArtifactStore

	mu        sync.Mutex
	creds     types.Credentials
	connected bool
	account   string // caller's choice, survives re-login
}

func NewManager(auth interfaces.Authenticator, creds types.Credentials, artifact *Artifact, opts ...Option) *Manager {
	if artifact == nil {
		artifact = NewArtifact()
	}
	m := &Manager{auth: auth, creds: creds, artifact: artifact}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Artifact() *Artifact {
	return m.artifact
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// EnsureAuthenticated logs in only when the session is not known to be
// valid. It never degrades a valid session.
func (m *Manager) EnsureAuthenticated(ctx context.Context) error {
	if m.Connected() {
		return nil
	}
	return m.Connect(ctx)
}

// Connect performs exactly one login exchange.
func (m *Manager) Connect(ctx context.Context) error {
	const op = "session.connect"

	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()

	if !creds.Complete() {
		return brokererr.Configuration(op, "client id and password are required")
	}
	if creds.DeviceID == "" && m.store != nil {
		id, err := m.store.LoadDeviceID(ctx, creds.ClientID)
		if err != nil {
			logger.Warn(ctx, "Could not load stored device id", "error", err)
		}
		creds.DeviceID = id
	}

	timer := logger.StartOperation(ctx, op, "backend", backendName(m.auth))
	ctx = timer.GetContext()

	m.setConnected(false)
	m.artifact.reset()

	res, err := m.auth.Login(ctx, creds)
	if err != nil {
		if !brokererr.IsConfiguration(err) {
			err = brokererr.Authentication(op, brokererr.Reason(err), err)
		}
		timer.EndWithError(err)
		return err
	}

	m.artifact.store(res)
	m.mu.Lock()
	m.connected = true
	if res.DeviceID != "" && res.DeviceID != m.creds.DeviceID {
		m.creds.DeviceID = res.DeviceID
	}
	if m.account != "" {
		m.artifact.setDefaultAccount(m.account)
	}
	m.mu.Unlock()

	if res.DeviceID != "" && res.DeviceID != creds.DeviceID && m.store != nil {
		if err := m.store.SaveDeviceID(ctx, creds.ClientID, res.DeviceID); err != nil {
			logger.Warn(ctx, "Could not persist device id", "error", err)
		}
	}

	timer.End("account", m.artifact.DefaultAccount())
	logger.Info(ctx, "Session established", "creds", creds, "accounts", len(res.Accounts))
	return nil
}

// Invalidate marks the session as lost without any network exchange.
func (m *Manager) Invalidate() {
	m.setConnected(false)
}

// Logout is a single best-effort exchange. The session is invalid afterwards
// whatever the outcome.
func (m *Manager) Logout(ctx context.Context) error {
	defer func() {
		m.setConnected(false)
		m.artifact.reset()
	}()
	if !m.Connected() {
		return nil
	}
	if err := m.auth.Logout(ctx); err != nil {
		logger.Warn(ctx, "Logout failed", "error", err)
		return err
	}
	logger.Info(ctx, "Logged out")
	return nil
}

// Credentials returns a copy; the device id reflects the latest login.
func (m *Manager) Credentials() types.Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds
}

func (m *Manager) DefaultAccount() string {
	return m.artifact.DefaultAccount()
}

// SetDefaultAccount selects the trading account for later operations. When
// accounts are known the number must be one of them.
func (m *Manager) SetDefaultAccount(account string) error {
	if account == "" {
		return brokererr.Configuration("session.set_default_account", "account number is required")
	}
	if accts := m.artifact.Accounts(); len(accts) > 0 {
		found := false
		for _, a := range accts {
			if a.Number == account {
				found = true
				break
			}
		}
		if !found {
			return brokererr.Configuration("session.set_default_account", "unknown account "+account)
		}
	}
	m.mu.Lock()
	m.account = account
	m.mu.Unlock()
	m.artifact.setDefaultAccount(account)
	return nil
}

func (m *Manager) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func backendName(a interfaces.Authenticator) string {
	if n, ok := a.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "unknown"
}
