package cobrasync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobranzas-app/cobrasync/domain"
	syncErrors "github.com/cobranzas-app/cobrasync/errors"
)

func TestDrainReplaysOfflineCreateExactlyOnce(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{assignedID: "srv-42"}
	mon := &fakeMonitor{online: false}

	m, err := New(rem, WithLocalStore(store), WithMonitor(mon))
	require.NoError(t, err)
	ctx := context.Background()

	client, err := m.CreateClient(ctx, domain.ClientInput{Nombre: "Test"})
	require.NoError(t, err)
	require.Equal(t, "C-1", client.ID)

	mon.setOnline(true)
	result, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Replayed)
	assert.Equal(t, 0, result.Pending)
	assert.Empty(t, result.Errors)

	require.Len(t, rem.createClientCalls, 1, "exactly one remote create per entry")
	assert.Equal(t, "Test", rem.createClientCalls[0].Nombre)

	// The server-assigned id is reconciled onto the local row.
	remoteID, _ := store.ClientRemoteID(ctx, 1)
	assert.Equal(t, "srv-42", remoteID)

	// The entry's idempotency key rode along with the replay.
	require.Len(t, rem.idempotencyKeys, 1)
	assert.Equal(t, "key-1", rem.idempotencyKeys[0])

	entries, _ := store.PendingEntries(ctx)
	assert.Empty(t, entries, "replayed entry must be removed")

	// A second drain finds nothing to do.
	result, err = m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Replayed)
	require.Len(t, rem.createClientCalls, 1, "drain on empty queue must not re-apply")
}

func TestDrainEmptyQueueIsNoOp(t *testing.T) {
	m, err := New(&fakeRemote{}, WithLocalStore(newFakeStore()))
	require.NoError(t, err)

	result, err := m.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Replayed)
	assert.Equal(t, 0, result.Pending)
}

func TestDrainWithoutStoreIsNoOp(t *testing.T) {
	m, err := New(&fakeRemote{})
	require.NoError(t, err)

	result, err := m.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Replayed)
}

func TestDrainResolvesDependentEntriesThroughRemoteID(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{assignedID: "srv-7"}
	mon := &fakeMonitor{online: false}

	m, err := New(rem, WithLocalStore(store), WithMonitor(mon))
	require.NoError(t, err)
	ctx := context.Background()

	client, err := m.CreateClient(ctx, domain.ClientInput{Nombre: "Cadena"})
	require.NoError(t, err)
	_, err = m.CreateCredit(ctx, client.ID, domain.CreditInput{
		Amount: 500, Interest: 10, Frequency: domain.FrequencyWeekly,
	})
	require.NoError(t, err)
	_, err = m.CreatePayment(ctx, client.ID, domain.PaymentInput{Amount: 20})
	require.NoError(t, err)

	result, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Replayed)

	// FIFO: the client reached the server first, and its dependents were
	// replayed against the server-assigned id, not the local "C-1".
	require.Len(t, rem.createCreditCalls, 1)
	assert.Equal(t, "srv-7", rem.createCreditCalls[0])
	require.Len(t, rem.createPayCalls, 1)
	assert.Equal(t, "srv-7", rem.createPayCalls[0])
}

func TestDrainStopsAtFirstFailure(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{createClientErr: transportErr()}
	mon := &fakeMonitor{online: false}

	m, err := New(rem, WithLocalStore(store), WithMonitor(mon))
	require.NoError(t, err)
	ctx := context.Background()

	client, err := m.CreateClient(ctx, domain.ClientInput{Nombre: "Atascada"})
	require.NoError(t, err)
	_, err = m.CreateCredit(ctx, client.ID, domain.CreditInput{
		Amount: 100, Interest: 0, Frequency: domain.FrequencyMonthly,
	})
	require.NoError(t, err)

	result, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Replayed)
	assert.Equal(t, 2, result.Pending)
	require.Len(t, result.Errors, 1)
	assert.True(t, syncErrors.IsTransport(result.Errors[0]))

	// Everything stays queued: replaying the credit before its client
	// exists remotely would break causal order.
	entries, _ := store.PendingEntries(ctx)
	assert.Len(t, entries, 2)
	assert.Empty(t, rem.createCreditCalls)
}

func TestDrainRecoversAfterFailure(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{createClientErr: transportErr(), assignedID: "srv-9"}
	mon := &fakeMonitor{online: false}

	m, err := New(rem, WithLocalStore(store), WithMonitor(mon))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.CreateClient(ctx, domain.ClientInput{Nombre: "Reintento"})
	require.NoError(t, err)

	result, err := m.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)

	// Server comes back: the next drain picks the same entry up.
	rem.mu.Lock()
	rem.createClientErr = nil
	rem.mu.Unlock()

	result, err = m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Replayed)
	entries, _ := store.PendingEntries(ctx)
	assert.Empty(t, entries)
}

func TestAutoDrainTriggersOnTransitionToOnline(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{assignedID: "srv-5"}
	mon := &fakeMonitor{online: false}

	m, err := New(rem, WithLocalStore(store), WithMonitor(mon),
		WithDrainInterval(time.Hour)) // only the transition should trigger
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = m.CreateClient(ctx, domain.ClientInput{Nombre: "Auto"})
	require.NoError(t, err)

	require.NoError(t, m.StartAutoDrain(ctx))
	defer m.StopAutoDrain()

	assert.Error(t, m.StartAutoDrain(ctx), "second start must fail")

	mon.setOnline(true)

	require.Eventually(t, func() bool {
		entries, _ := store.PendingEntries(ctx)
		return len(entries) == 0
	}, 2*time.Second, 10*time.Millisecond, "transition to online should drain the queue")

	rem.mu.Lock()
	calls := len(rem.createClientCalls)
	rem.mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestStopAutoDrainWhenNotRunning(t *testing.T) {
	m, err := New(&fakeRemote{}, WithLocalStore(newFakeStore()))
	require.NoError(t, err)
	assert.Error(t, m.StopAutoDrain())
}
