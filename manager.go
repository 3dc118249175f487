package cobrasync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cobranzas-app/cobrasync/domain"
	syncErrors "github.com/cobranzas-app/cobrasync/errors"
	"github.com/cobranzas-app/cobrasync/logging"
)

// Manager is the sync orchestrator: the single decision point for whether an
// operation goes to the remote server or the local store, and the owner of
// queue draining. It is the only component the host application calls.
type Manager struct {
	store      LocalStore
	remote     RemoteAPI
	monitor    ConnectivityMonitor
	capability Capability
	config     Config
	logger     *slog.Logger
	metrics    MetricsCollector

	mu            sync.RWMutex
	closed        bool
	autoDrainStop chan struct{}

	// drainMu serializes drain runs; concurrent triggers queue up and the
	// later one sees an already-empty queue.
	drainMu sync.Mutex
}

// alwaysOnline is the default monitor: platforms with no network-state API
// fail open and always attempt remote calls first.
type alwaysOnline struct{}

func (alwaysOnline) Online() bool                         { return true }
func (alwaysOnline) Subscribe(func(bool)) (cancel func()) { return func() {} }

// New creates a Manager around the given remote API. The local store,
// monitor and tunables are supplied through options; without WithLocalStore
// the Manager runs remote-only.
func New(remote RemoteAPI, opts ...Option) (*Manager, error) {
	if remote == nil {
		return nil, &syncErrors.Error{
			Op:        syncErrors.OpStore,
			Kind:      syncErrors.KindUnavailable,
			Component: "manager",
			Message:   "remote API is required",
		}
	}

	m := &Manager{
		remote:  remote,
		monitor: alwaysOnline{},
		logger:  logging.WithComponent(logging.Component("manager")).Logger,
		metrics: &NoOpMetricsCollector{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.config.setDefaults()
	return m, nil
}

// storeAvailable reports whether the local fallback path exists.
func (m *Manager) storeAvailable() bool {
	return m.store != nil && m.capability.LocalStore
}

// localFirst reports whether an operation should skip the remote entirely:
// the platform is local-capable and the monitor says offline.
func (m *Manager) localFirst() bool {
	return m.storeAvailable() && !m.monitor.Online()
}

func (m *Manager) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return &syncErrors.Error{
			Op:        syncErrors.OpStore,
			Kind:      syncErrors.KindUnavailable,
			Component: "manager",
			Message:   "sync manager is closed",
		}
	}
	return nil
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.config.Timeout)
}

// GetClients returns all clients: from the server when reachable, from the
// local store when offline or when the server is unreachable. Degraded mode
// (no local store, remote down) returns an empty list rather than an error.
func (m *Manager) GetClients(ctx context.Context) ([]domain.Client, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	start := time.Now()

	if m.localFirst() {
		defer m.metrics.RecordOperation("get_clients", "local", time.Since(start))
		return m.store.Clients(ctx)
	}

	clients, err := m.remote.Clients(ctx)
	if err == nil {
		m.metrics.RecordOperation("get_clients", "remote", time.Since(start))
		return clients, nil
	}
	if !syncErrors.IsTransport(err) {
		return nil, err
	}
	if m.storeAvailable() {
		m.logger.Warn("server unreachable, serving clients from local store")
		m.metrics.RecordFallback("get_clients")
		defer m.metrics.RecordOperation("get_clients", "local", time.Since(start))
		return m.store.Clients(ctx)
	}
	m.logger.Warn("server unreachable and no local store, returning empty client list")
	return []domain.Client{}, nil
}

// GetClientByID returns one client with nested credits and payments. In
// degraded mode it returns (nil, nil), mirroring GetClients' empty result.
func (m *Manager) GetClientByID(ctx context.Context, id string) (*domain.Client, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	start := time.Now()

	if m.localFirst() {
		defer m.metrics.RecordOperation("get_client", "local", time.Since(start))
		return m.store.ClientByID(ctx, id)
	}

	client, err := m.remote.ClientByID(ctx, id)
	if err == nil {
		m.metrics.RecordOperation("get_client", "remote", time.Since(start))
		return client, nil
	}
	if !syncErrors.IsTransport(err) {
		return nil, err
	}
	if m.storeAvailable() {
		m.metrics.RecordFallback("get_client")
		defer m.metrics.RecordOperation("get_client", "local", time.Since(start))
		return m.store.ClientByID(ctx, id)
	}
	return nil, nil
}

// CreateClient registers a client. Offline or on transport failure the write
// lands in the local store with a queued replay; without a durable fallback
// the transport error propagates, since a create has no safe empty result.
func (m *Manager) CreateClient(ctx context.Context, in domain.ClientInput) (*domain.Client, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	start := time.Now()

	if m.localFirst() {
		defer m.metrics.RecordOperation("create_client", "local", time.Since(start))
		return m.store.CreateClient(ctx, in)
	}

	client, err := m.remote.CreateClient(ctx, in)
	if err == nil {
		m.metrics.RecordOperation("create_client", "remote", time.Since(start))
		return client, nil
	}
	if !syncErrors.IsTransport(err) {
		return nil, err
	}
	if m.storeAvailable() {
		m.logger.Warn("server unreachable, creating client locally",
			slog.String("nombre", in.Nombre))
		m.metrics.RecordFallback("create_client")
		defer m.metrics.RecordOperation("create_client", "local", time.Since(start))
		return m.store.CreateClient(ctx, in)
	}
	return nil, err
}

// UpdateClient applies a partial update to the editable client fields.
func (m *Manager) UpdateClient(ctx context.Context, id string, upd domain.ClientUpdate) (*domain.Client, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	start := time.Now()

	if m.localFirst() {
		defer m.metrics.RecordOperation("update_client", "local", time.Since(start))
		return m.store.UpdateClient(ctx, id, upd)
	}

	client, err := m.remote.UpdateClient(ctx, id, upd)
	if err == nil {
		m.metrics.RecordOperation("update_client", "remote", time.Since(start))
		return client, nil
	}
	if !syncErrors.IsTransport(err) {
		return nil, err
	}
	if m.storeAvailable() {
		m.metrics.RecordFallback("update_client")
		defer m.metrics.RecordOperation("update_client", "local", time.Since(start))
		return m.store.UpdateClient(ctx, id, upd)
	}
	return nil, err
}

// CreateCredit opens a credit for a client. The single-active-credit rule is
// enforced on both paths; its violation is a business error and never
// triggers a local fallback.
func (m *Manager) CreateCredit(ctx context.Context, clientID string, in domain.CreditInput) (*domain.Credit, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	start := time.Now()

	if m.localFirst() {
		defer m.metrics.RecordOperation("create_credit", "local", time.Since(start))
		return m.store.CreateCredit(ctx, clientID, in)
	}

	credit, err := m.remote.CreateCredit(ctx, clientID, in)
	if err == nil {
		m.metrics.RecordOperation("create_credit", "remote", time.Since(start))
		return credit, nil
	}
	if !syncErrors.IsTransport(err) {
		return nil, err
	}
	if m.storeAvailable() {
		m.metrics.RecordFallback("create_credit")
		defer m.metrics.RecordOperation("create_credit", "local", time.Since(start))
		return m.store.CreateCredit(ctx, clientID, in)
	}
	return nil, err
}

// CreatePayment records a payment or a zero-amount visit note.
func (m *Manager) CreatePayment(ctx context.Context, clientID string, in domain.PaymentInput) (*domain.Payment, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	start := time.Now()

	if m.localFirst() {
		defer m.metrics.RecordOperation("create_payment", "local", time.Since(start))
		return m.store.CreatePayment(ctx, clientID, in)
	}

	payment, err := m.remote.CreatePayment(ctx, clientID, in)
	if err == nil {
		m.metrics.RecordOperation("create_payment", "remote", time.Since(start))
		return payment, nil
	}
	if !syncErrors.IsTransport(err) {
		return nil, err
	}
	if m.storeAvailable() {
		m.metrics.RecordFallback("create_payment")
		defer m.metrics.RecordOperation("create_payment", "local", time.Since(start))
		return m.store.CreatePayment(ctx, clientID, in)
	}
	return nil, err
}

// Close shuts the manager down: auto drain stops and the local store is
// closed. Further operations fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	if m.autoDrainStop != nil {
		close(m.autoDrainStop)
		m.autoDrainStop = nil
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			m.logger.Error("error closing local store", slog.String("error", err.Error()))
			return err
		}
	}
	m.logger.Info("sync manager closed")
	return nil
}
