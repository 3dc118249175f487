package cobrasync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobranzas-app/cobrasync/domain"
	syncErrors "github.com/cobranzas-app/cobrasync/errors"
	"github.com/cobranzas-app/cobrasync/remote"
)

// fakeStore is an in-memory LocalStore good enough for routing and drain
// tests: local ids, a FIFO queue and remote-id reconciliation.
type fakeStore struct {
	mu        sync.Mutex
	clients   map[int64]*domain.Client
	remoteIDs map[int64]string
	queue     []domain.QueueEntry
	nextRow   int64
	nextEntry int64
	closed    bool

	createClientCalls int
	createCreditCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clients:   map[int64]*domain.Client{},
		remoteIDs: map[int64]string{},
	}
}

func (f *fakeStore) enqueue(table string, recordID int64, action string, payload any) {
	data, _ := json.Marshal(payload)
	f.nextEntry++
	f.queue = append(f.queue, domain.QueueEntry{
		ID:             f.nextEntry,
		Table:          table,
		RecordID:       recordID,
		Action:         action,
		Data:           data,
		IdempotencyKey: fmt.Sprintf("key-%d", f.nextEntry),
		CreatedAt:      time.Now(),
	})
}

func (f *fakeStore) Clients(ctx context.Context) ([]domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Client
	for _, c := range f.clients {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeStore) ClientByID(ctx context.Context, id string) (*domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		if c.ID == id {
			copy := *c
			return &copy, nil
		}
	}
	return nil, syncErrors.NewBusiness(syncErrors.OpGetClient,
		syncErrors.CodeClientNotFound, "cliente no encontrado")
}

func (f *fakeStore) CreateClient(ctx context.Context, in domain.ClientInput) (*domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createClientCalls++
	f.nextRow++
	c := &domain.Client{
		ID:       domain.LocalClientID(f.nextRow),
		Nombre:   in.Nombre,
		Telefono: in.Telefono,
		Payments: []domain.Payment{},
		Credits:  []domain.Credit{},
	}
	f.clients[f.nextRow] = c
	f.enqueue(domain.TableClients, f.nextRow, domain.ActionCreate, in)
	copy := *c
	return &copy, nil
}

func (f *fakeStore) UpdateClient(ctx context.Context, id string, upd domain.ClientUpdate) (*domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for rowid, c := range f.clients {
		if c.ID == id {
			if upd.Telefono != nil {
				c.Telefono = *upd.Telefono
			}
			if upd.Nombre != nil {
				c.Nombre = *upd.Nombre
			}
			f.enqueue(domain.TableClients, rowid, domain.ActionUpdate,
				domain.QueuedClientUpdate{ClientID: id, ClientUpdate: upd})
			copy := *c
			return &copy, nil
		}
	}
	return nil, syncErrors.NewBusiness(syncErrors.OpUpdateClient,
		syncErrors.CodeClientNotFound, "cliente no encontrado")
}

func (f *fakeStore) CreateCredit(ctx context.Context, clientID string, in domain.CreditInput) (*domain.Credit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCreditCalls++
	terms := domain.NewCreditTerms(in, time.Now().UTC())
	terms.ID = domain.LocalCreditID(f.nextEntry + 1)
	terms.ClientID = clientID
	f.enqueue(domain.TableCredits, f.nextEntry+1, domain.ActionCreate,
		domain.QueuedCreditCreate{ClientID: clientID, CreditInput: in})
	return &terms, nil
}

func (f *fakeStore) CreatePayment(ctx context.Context, clientID string, in domain.PaymentInput) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &domain.Payment{ID: domain.LocalPaymentID(f.nextEntry + 1), ClientID: clientID, Amount: in.Amount, Notes: in.Notes}
	f.enqueue(domain.TablePayments, f.nextEntry+1, domain.ActionCreate,
		domain.QueuedPaymentCreate{ClientID: clientID, PaymentInput: in})
	return p, nil
}

func (f *fakeStore) PendingEntries(ctx context.Context) ([]domain.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.QueueEntry, len(f.queue))
	copy(out, f.queue)
	return out, nil
}

func (f *fakeStore) RemoveEntry(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.queue {
		if e.ID == id {
			f.queue = append(f.queue[:i], f.queue[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) MarkSynced(ctx context.Context, table string, recordID int64) error {
	return nil
}

func (f *fakeStore) ClientRemoteID(ctx context.Context, localID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteIDs[localID], nil
}

func (f *fakeStore) SetClientRemoteID(ctx context.Context, localID int64, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteIDs[localID] = remoteID
	return nil
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeRemote scripts remote responses per operation and records calls.
type fakeRemote struct {
	mu sync.Mutex

	clientsErr      error
	clientByIDErr   error
	createClientErr error
	updateClientErr error
	createCreditErr error
	createPayErr    error

	clientsResult []domain.Client
	assignedID    string

	createClientCalls []domain.ClientInput
	createCreditCalls []string // client ids seen
	createPayCalls    []string
	updateCalls       []string
	idempotencyKeys   []string
}

func (f *fakeRemote) recordKey(ctx context.Context) {
	if key := remote.IdempotencyKeyFromContext(ctx); key != "" {
		f.idempotencyKeys = append(f.idempotencyKeys, key)
	}
}

func (f *fakeRemote) Clients(ctx context.Context) ([]domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clientsErr != nil {
		return nil, f.clientsErr
	}
	return f.clientsResult, nil
}

func (f *fakeRemote) ClientByID(ctx context.Context, id string) (*domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clientByIDErr != nil {
		return nil, f.clientByIDErr
	}
	return &domain.Client{ID: id}, nil
}

func (f *fakeRemote) CreateClient(ctx context.Context, in domain.ClientInput) (*domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordKey(ctx)
	if f.createClientErr != nil {
		return nil, f.createClientErr
	}
	f.createClientCalls = append(f.createClientCalls, in)
	id := f.assignedID
	if id == "" {
		id = "srv-1"
	}
	return &domain.Client{ID: id, Nombre: in.Nombre}, nil
}

func (f *fakeRemote) UpdateClient(ctx context.Context, id string, upd domain.ClientUpdate) (*domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordKey(ctx)
	if f.updateClientErr != nil {
		return nil, f.updateClientErr
	}
	f.updateCalls = append(f.updateCalls, id)
	return &domain.Client{ID: id}, nil
}

func (f *fakeRemote) CreateCredit(ctx context.Context, clientID string, in domain.CreditInput) (*domain.Credit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordKey(ctx)
	if f.createCreditErr != nil {
		return nil, f.createCreditErr
	}
	f.createCreditCalls = append(f.createCreditCalls, clientID)
	terms := domain.NewCreditTerms(in, time.Now().UTC())
	terms.ID = "srv-cr-1"
	terms.ClientID = clientID
	return &terms, nil
}

func (f *fakeRemote) CreatePayment(ctx context.Context, clientID string, in domain.PaymentInput) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordKey(ctx)
	if f.createPayErr != nil {
		return nil, f.createPayErr
	}
	f.createPayCalls = append(f.createPayCalls, clientID)
	return &domain.Payment{ID: "srv-p-1", ClientID: clientID, Amount: in.Amount}, nil
}

// fakeMonitor is a settable ConnectivityMonitor.
type fakeMonitor struct {
	mu     sync.Mutex
	online bool
	subs   []func(bool)
}

func (m *fakeMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *fakeMonitor) Subscribe(fn func(online bool)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
	return func() {}
}

func (m *fakeMonitor) setOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := append([]func(bool){}, m.subs...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

func transportErr() error {
	return syncErrors.NewTransport(syncErrors.OpRequest, fmt.Errorf("connection refused"))
}

func TestOfflineWritesGoToLocalStore(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{}
	mon := &fakeMonitor{online: false}

	m, err := New(rem, WithLocalStore(store), WithMonitor(mon))
	require.NoError(t, err)

	client, err := m.CreateClient(context.Background(), domain.ClientInput{Nombre: "Test"})
	require.NoError(t, err)
	assert.Equal(t, "C-1", client.ID, "offline create must return a locally assigned id")
	assert.Empty(t, rem.createClientCalls, "remote must not be called while offline")

	entries, _ := store.PendingEntries(context.Background())
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TableClients, entries[0].Table)
}

func TestOnlineReadsPreferRemote(t *testing.T) {
	store := newFakeStore()
	store.CreateClient(context.Background(), domain.ClientInput{Nombre: "Local"})
	rem := &fakeRemote{clientsResult: []domain.Client{{ID: "srv-1", Nombre: "Remota"}}}

	m, err := New(rem, WithLocalStore(store), WithMonitor(&fakeMonitor{online: true}))
	require.NoError(t, err)

	clients, err := m.GetClients(context.Background())
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "Remota", clients[0].Nombre, "online reads are served by the server")
}

func TestTransportFailureFallsBackToLocal(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{createClientErr: transportErr()}

	m, err := New(rem, WithLocalStore(store), WithMonitor(&fakeMonitor{online: true}))
	require.NoError(t, err)

	client, err := m.CreateClient(context.Background(), domain.ClientInput{Nombre: "Fallback"})
	require.NoError(t, err)
	assert.Equal(t, "C-1", client.ID)
	assert.Equal(t, 1, store.createClientCalls)

	entries, _ := store.PendingEntries(context.Background())
	assert.Len(t, entries, 1, "fallback write must be queued for replay")
}

func TestBusinessErrorNeverFallsBack(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{
		createCreditErr: syncErrors.NewBusiness(syncErrors.OpCreateCredit,
			syncErrors.CodeActiveCreditExists, "el cliente ya tiene un crédito activo"),
	}

	m, err := New(rem, WithLocalStore(store), WithMonitor(&fakeMonitor{online: true}))
	require.NoError(t, err)

	_, err = m.CreateCredit(context.Background(), "srv-1", domain.CreditInput{
		Amount: 100, Interest: 10, Frequency: domain.FrequencyMonthly,
	})
	require.Error(t, err)
	assert.Equal(t, syncErrors.CodeActiveCreditExists, syncErrors.BusinessCode(err))
	assert.Equal(t, 0, store.createCreditCalls, "business rejections must not write locally")

	entries, _ := store.PendingEntries(context.Background())
	assert.Empty(t, entries, "business rejections must not enqueue anything")
}

func TestSessionErrorSurfaces(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{clientsErr: syncErrors.NewSession(syncErrors.OpGetClients)}

	m, err := New(rem, WithLocalStore(store), WithMonitor(&fakeMonitor{online: true}))
	require.NoError(t, err)

	_, err = m.GetClients(context.Background())
	require.Error(t, err)
	assert.True(t, syncErrors.IsSession(err), "session errors bypass the local fallback")
}

func TestDegradedReadsReturnEmpty(t *testing.T) {
	rem := &fakeRemote{clientsErr: transportErr(), clientByIDErr: transportErr()}

	m, err := New(rem) // no local store
	require.NoError(t, err)

	clients, err := m.GetClients(context.Background())
	require.NoError(t, err)
	assert.Empty(t, clients)

	client, err := m.GetClientByID(context.Background(), "srv-1")
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestDegradedWritesPropagateError(t *testing.T) {
	rem := &fakeRemote{createClientErr: transportErr()}

	m, err := New(rem)
	require.NoError(t, err)

	_, err = m.CreateClient(context.Background(), domain.ClientInput{Nombre: "Test"})
	require.Error(t, err)
	assert.True(t, syncErrors.IsTransport(err),
		"a create with no durable fallback must surface the transport error")
}

func TestClosedManagerRejectsOperations(t *testing.T) {
	m, err := New(&fakeRemote{}, WithLocalStore(newFakeStore()))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = m.GetClients(context.Background())
	require.Error(t, err)

	// Close is idempotent.
	require.NoError(t, m.Close())
}
