package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cobranzas-app/cobrasync/domain"
	syncErrors "github.com/cobranzas-app/cobrasync/errors"
	"github.com/google/uuid"
)

// enqueue records a pending change inside the caller's transaction. Each entry
// gets a fresh idempotency key so at-least-once replays can be deduplicated
// by the server.
func (s *Store) enqueue(ctx context.Context, tx *sql.Tx, table string, recordID int64, action string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return syncErrors.NewStorage(syncErrors.OpEnqueue, err)
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO sync_queue (table_name, record_id, action, data, idempotency_key, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		table, recordID, action, string(data), uuid.NewString(),
		s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return syncErrors.NewStorage(syncErrors.OpEnqueue, err)
	}
	return nil
}

// PendingEntries returns the queue in FIFO order. Replay order matters: a
// client create must reach the server before its credits and payments.
func (s *Store) PendingEntries(ctx context.Context) ([]domain.QueueEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, table_name, record_id, action, data, idempotency_key, created_at
        FROM sync_queue ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpDrain, err)
	}
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		var (
			e       domain.QueueEntry
			data    sql.NullString
			created string
		)
		if err := rows.Scan(&e.ID, &e.Table, &e.RecordID, &e.Action, &data,
			&e.IdempotencyKey, &created); err != nil {
			return nil, syncErrors.NewStorage(syncErrors.OpDrain, err)
		}
		if data.Valid {
			e.Data = json.RawMessage(data.String)
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpDrain, err)
	}
	return entries, nil
}

// RemoveEntry deletes a queue entry after its replay was confirmed.
func (s *Store) RemoveEntry(ctx context.Context, id int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return syncErrors.NewStorage(syncErrors.OpDrain, err)
	}
	return nil
}

// MarkSynced flips a replayed row back to the synced state.
func (s *Store) MarkSynced(ctx context.Context, table string, recordID int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	switch table {
	case domain.TableClients, domain.TableCredits, domain.TablePayments:
	default:
		return syncErrors.NewStorage(syncErrors.OpDrain,
			errUnknownTable(table))
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET sync_status = ? WHERE id = ?`,
		statusSynced, recordID); err != nil {
		return syncErrors.NewStorage(syncErrors.OpDrain, err)
	}
	return nil
}

// ClientRemoteID returns the reconciled remote id of a local client row, or
// "" while the row has not been replayed yet.
func (s *Store) ClientRemoteID(ctx context.Context, localID int64) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	var remoteID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT remote_id FROM clients WHERE id = ?`, localID).Scan(&remoteID)
	if err == sql.ErrNoRows {
		return "", syncErrors.NewBusiness(syncErrors.OpDrain,
			syncErrors.CodeClientNotFound, "cliente no encontrado")
	}
	if err != nil {
		return "", syncErrors.NewStorage(syncErrors.OpDrain, err)
	}
	return remoteID.String, nil
}

// SetClientRemoteID records the server-assigned id on a local client row so
// later queue entries for the same client can be replayed against it.
func (s *Store) SetClientRemoteID(ctx context.Context, localID int64, remoteID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE clients SET remote_id = ? WHERE id = ?`, remoteID, localID); err != nil {
		return syncErrors.NewStorage(syncErrors.OpDrain, err)
	}
	return nil
}

type errUnknownTable string

func (e errUnknownTable) Error() string { return "unknown queue table: " + string(e) }
