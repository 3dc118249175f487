package cobrasync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cobranzas-app/cobrasync/domain"
	syncErrors "github.com/cobranzas-app/cobrasync/errors"
	"github.com/cobranzas-app/cobrasync/remote"
)

// DrainResult reports the outcome of one drain run.
type DrainResult struct {
	// Replayed is the number of queue entries confirmed against the server
	// and removed.
	Replayed int

	// Pending is the number of entries still queued when the run stopped.
	Pending int

	// Errors holds the failure that stopped the run, if any.
	Errors []error

	// StartTime is when the drain began.
	StartTime time.Time

	// Duration is how long the drain took.
	Duration time.Duration
}

// Drain replays the pending-change queue against the server in FIFO order.
// Each entry is removed only after its remote call succeeded; on the first
// failure the run stops and everything behind the failed entry stays queued
// for the next cycle, preserving causal order (a client create replays
// before that client's credits and payments). An empty queue is a no-op.
//
// Drain is an explicit, awaitable operation: the host decides when to call
// it, or lets StartAutoDrain schedule it.
func (m *Manager) Drain(ctx context.Context) (*DrainResult, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	result := &DrainResult{StartTime: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartTime)
		m.metrics.RecordDrain(result.Replayed, result.Pending, result.Duration)
	}()

	if !m.storeAvailable() {
		return result, nil
	}

	m.drainMu.Lock()
	defer m.drainMu.Unlock()

	entries, err := m.store.PendingEntries(ctx)
	if err != nil {
		m.metrics.RecordDrainError(string(syncErrors.KindStorage))
		return result, err
	}
	if len(entries) == 0 {
		return result, nil
	}

	m.logger.Info("draining sync queue", slog.Int("pending", len(entries)))

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			result.Pending = len(entries) - result.Replayed
			return result, ctx.Err()
		default:
		}

		if err := m.replay(ctx, entry); err != nil {
			m.logger.Warn("replay failed, entry stays queued",
				slog.Int64("entry_id", entry.ID),
				slog.String("table", entry.Table),
				slog.String("action", entry.Action),
				slog.String("error", err.Error()))
			m.metrics.RecordDrainError(string(syncErrors.KindOf(err)))
			result.Errors = append(result.Errors, err)
			break
		}

		if err := m.store.MarkSynced(ctx, entry.Table, entry.RecordID); err != nil {
			result.Errors = append(result.Errors, err)
			break
		}
		if err := m.store.RemoveEntry(ctx, entry.ID); err != nil {
			result.Errors = append(result.Errors, err)
			break
		}
		result.Replayed++
	}

	result.Pending = len(entries) - result.Replayed
	if result.Pending == 0 {
		m.logger.Info("sync queue drained", slog.Int("replayed", result.Replayed))
	}
	return result, nil
}

// replay issues the remote call for one queue entry. The entry's idempotency
// key rides along so the server can deduplicate a re-delivered write whose
// first attempt succeeded but was never confirmed.
func (m *Manager) replay(ctx context.Context, entry domain.QueueEntry) error {
	ctx = remote.WithIdempotencyKey(ctx, entry.IdempotencyKey)

	switch {
	case entry.Table == domain.TableClients && entry.Action == domain.ActionCreate:
		var in domain.ClientInput
		if err := json.Unmarshal(entry.Data, &in); err != nil {
			return syncErrors.NewStorage(syncErrors.OpDrain, err)
		}
		created, err := m.remote.CreateClient(ctx, in)
		if err != nil {
			return err
		}
		// Record the server-assigned id so later entries for this client
		// can be replayed against it.
		return m.store.SetClientRemoteID(ctx, entry.RecordID, created.ID)

	case entry.Table == domain.TableClients && entry.Action == domain.ActionUpdate:
		var p domain.QueuedClientUpdate
		if err := json.Unmarshal(entry.Data, &p); err != nil {
			return syncErrors.NewStorage(syncErrors.OpDrain, err)
		}
		remoteID, err := m.resolveRemoteClientID(ctx, p.ClientID)
		if err != nil {
			return err
		}
		_, err = m.remote.UpdateClient(ctx, remoteID, p.ClientUpdate)
		return err

	case entry.Table == domain.TableCredits && entry.Action == domain.ActionCreate:
		var p domain.QueuedCreditCreate
		if err := json.Unmarshal(entry.Data, &p); err != nil {
			return syncErrors.NewStorage(syncErrors.OpDrain, err)
		}
		remoteID, err := m.resolveRemoteClientID(ctx, p.ClientID)
		if err != nil {
			return err
		}
		_, err = m.remote.CreateCredit(ctx, remoteID, p.CreditInput)
		return err

	case entry.Table == domain.TablePayments && entry.Action == domain.ActionCreate:
		var p domain.QueuedPaymentCreate
		if err := json.Unmarshal(entry.Data, &p); err != nil {
			return syncErrors.NewStorage(syncErrors.OpDrain, err)
		}
		remoteID, err := m.resolveRemoteClientID(ctx, p.ClientID)
		if err != nil {
			return err
		}
		_, err = m.remote.CreatePayment(ctx, remoteID, p.PaymentInput)
		return err
	}

	return syncErrors.NewStorage(syncErrors.OpDrain,
		fmt.Errorf("unknown queue entry %s/%s", entry.Table, entry.Action))
}

// resolveRemoteClientID maps the public client id stored in a queue payload
// to the id the server knows. Local ids resolve through the reconciled
// remote_id; anything else is already a server id and passes through.
func (m *Manager) resolveRemoteClientID(ctx context.Context, publicID string) (string, error) {
	rowid, ok := domain.ParseLocalClientID(publicID)
	if !ok {
		return publicID, nil
	}
	remoteID, err := m.store.ClientRemoteID(ctx, rowid)
	if err != nil {
		return "", err
	}
	if remoteID == "" {
		// FIFO order means the client's own create entry replays first;
		// reaching here implies it failed and the drain should stop.
		return "", syncErrors.NewStorage(syncErrors.OpDrain,
			fmt.Errorf("client %s not reconciled with the server yet", publicID))
	}
	return remoteID, nil
}

// StartAutoDrain begins draining automatically: immediately on transition to
// online, and on a periodic interval as a catch-all. Each run retries with
// exponential backoff per the configured retry policy.
func (m *Manager) StartAutoDrain(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return &syncErrors.Error{
			Op:        syncErrors.OpDrain,
			Kind:      syncErrors.KindUnavailable,
			Component: "manager",
			Message:   "sync manager is closed",
		}
	}
	if m.autoDrainStop != nil {
		return &syncErrors.Error{
			Op:        syncErrors.OpDrain,
			Kind:      syncErrors.KindUnavailable,
			Component: "manager",
			Message:   "auto drain is already running",
		}
	}

	stop := make(chan struct{})
	m.autoDrainStop = stop

	kick := make(chan struct{}, 1)
	unsubscribe := m.monitor.Subscribe(func(online bool) {
		if !online {
			return
		}
		select {
		case kick <- struct{}{}:
		default:
		}
	})

	go func() {
		defer unsubscribe()
		m.logger.Info("auto drain started",
			slog.Duration("interval", m.config.DrainInterval))
		ticker := time.NewTicker(m.config.DrainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("auto drain stopping: context canceled")
				return
			case <-stop:
				m.logger.Info("auto drain stopped")
				return
			case <-kick:
				m.logger.Info("connection restored, draining queue")
				m.drainWithRetry(ctx)
			case <-ticker.C:
				m.drainWithRetry(ctx)
			}
		}
	}()

	return nil
}

// StopAutoDrain stops the automatic drain loop.
func (m *Manager) StopAutoDrain() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.autoDrainStop == nil {
		return &syncErrors.Error{
			Op:        syncErrors.OpDrain,
			Kind:      syncErrors.KindUnavailable,
			Component: "manager",
			Message:   "auto drain is not running",
		}
	}
	close(m.autoDrainStop)
	m.autoDrainStop = nil
	return nil
}

type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

func (eb *exponentialBackoff) nextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(eb.initialDelay)
	for i := 0; i < attempt; i++ {
		delay *= eb.multiplier
	}
	result := time.Duration(delay)
	if result > eb.maxDelay {
		result = eb.maxDelay
	}
	return result
}

// drainWithRetry runs one drain, retrying retryable failures with backoff.
// Business errors stop the sequence: a rejected entry will not pass on the
// next attempt either.
func (m *Manager) drainWithRetry(ctx context.Context) {
	operation := func() error {
		result, err := m.Drain(ctx)
		if err != nil {
			return err
		}
		if len(result.Errors) > 0 {
			return result.Errors[0]
		}
		return nil
	}

	config := m.config.Retry
	if config == nil {
		if err := operation(); err != nil {
			m.logger.Warn("drain failed", slog.String("error", err.Error()))
		}
		return
	}

	eb := &exponentialBackoff{
		initialDelay: config.InitialDelay,
		maxDelay:     config.MaxDelay,
		multiplier:   config.Multiplier,
	}

	err := operation()
	if err == nil {
		return
	}
	if !syncErrors.IsRetryable(err) {
		m.logger.Warn("drain failed with non-retryable error",
			slog.String("error", err.Error()))
		return
	}

	for attempt := 1; attempt < config.MaxAttempts; attempt++ {
		delay := eb.nextDelay(attempt - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err = operation()
		if err == nil {
			m.logger.Info("drain succeeded after retry", slog.Int("attempt", attempt+1))
			return
		}
		if !syncErrors.IsRetryable(err) {
			m.logger.Warn("drain retry failed with non-retryable error",
				slog.String("error", err.Error()))
			return
		}
	}

	m.logger.Error("drain retries exhausted",
		slog.Int("attempts", config.MaxAttempts),
		slog.String("error", err.Error()))
}
