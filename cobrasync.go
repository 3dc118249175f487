// Package cobrasync is the offline-first synchronization core of the
// collections ("cobranzas") application. It pairs an embedded local store
// with a remote REST API and decides, per operation, which side is
// authoritative: remote when reachable, local with a durable pending-change
// queue otherwise. Queued writes are replayed in FIFO order when
// connectivity returns.
//
// The Manager is the only surface the host application consumes. Components
// are injected through interfaces so platforms without an embedded database
// can run degraded (remote-only) and tests can substitute fakes.
package cobrasync

import (
	"context"

	"github.com/cobranzas-app/cobrasync/domain"
)

// LocalStore is the embedded persistence layer: clients, credits, payments
// and the sync queue. Implemented by store/sqlite.
type LocalStore interface {
	Clients(ctx context.Context) ([]domain.Client, error)
	ClientByID(ctx context.Context, id string) (*domain.Client, error)
	CreateClient(ctx context.Context, in domain.ClientInput) (*domain.Client, error)
	UpdateClient(ctx context.Context, id string, upd domain.ClientUpdate) (*domain.Client, error)
	CreateCredit(ctx context.Context, clientID string, in domain.CreditInput) (*domain.Credit, error)
	CreatePayment(ctx context.Context, clientID string, in domain.PaymentInput) (*domain.Payment, error)

	// Queue operations used by the drain.
	PendingEntries(ctx context.Context) ([]domain.QueueEntry, error)
	RemoveEntry(ctx context.Context, id int64) error
	MarkSynced(ctx context.Context, table string, recordID int64) error

	// Local→remote id reconciliation.
	ClientRemoteID(ctx context.Context, localID int64) (string, error)
	SetClientRemoteID(ctx context.Context, localID int64, remoteID string) error

	Close() error
}

// RemoteAPI is the server's REST surface. Implemented by remote.Client.
type RemoteAPI interface {
	Clients(ctx context.Context) ([]domain.Client, error)
	ClientByID(ctx context.Context, id string) (*domain.Client, error)
	CreateClient(ctx context.Context, in domain.ClientInput) (*domain.Client, error)
	UpdateClient(ctx context.Context, id string, upd domain.ClientUpdate) (*domain.Client, error)
	CreateCredit(ctx context.Context, clientID string, in domain.CreditInput) (*domain.Credit, error)
	CreatePayment(ctx context.Context, clientID string, in domain.PaymentInput) (*domain.Payment, error)
}

// ConnectivityMonitor reports network reachability and notifies on
// transitions. Implemented by connectivity.Static and connectivity.Probe.
type ConnectivityMonitor interface {
	Online() bool
	Subscribe(fn func(online bool)) (cancel func())
}

// Capability describes what the host platform supports. It is resolved once
// at construction and injected, replacing scattered runtime platform checks.
type Capability struct {
	// LocalStore reports whether this platform has embedded-database
	// support. When false every operation is remote-only and offline
	// behavior degrades as documented on the Manager methods.
	LocalStore bool
}
