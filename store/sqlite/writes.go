package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/cobranzas-app/cobrasync/domain"
	syncErrors "github.com/cobranzas-app/cobrasync/errors"
)

// CreateCredit computes the credit terms, inserts the credit row and bumps
// the client's deuda by the credit total in one transaction, then enqueues a
// create entry. A second credit while one still has saldo > 0 is rejected
// without mutating anything.
func (s *Store) CreateCredit(ctx context.Context, clientID string, in domain.CreditInput) (*domain.Credit, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, syncErrors.NewBusiness(syncErrors.OpCreateCredit,
			syncErrors.CodeValidation, "el valor del crédito debe ser mayor a cero")
	}
	if !in.Frequency.Valid() {
		return nil, syncErrors.NewBusiness(syncErrors.OpCreateCredit,
			syncErrors.CodeValidation, fmt.Sprintf("frecuencia inválida: %q", in.Frequency))
	}

	rowid, err := s.resolveClientRow(ctx, clientID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpCreateCredit, err)
	}
	defer tx.Rollback()

	// Active credit: any credit whose total exceeds the money collected
	// against it.
	var active bool
	err = tx.QueryRowContext(ctx, `
        SELECT EXISTS(
            SELECT 1 FROM credits c
            WHERE c.client_id = ?
              AND c.total > IFNULL(
                    (SELECT SUM(p.amount) FROM payments p WHERE p.credit_id = c.id), 0)
        )`, rowid).Scan(&active)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpCreateCredit, err)
	}
	if active {
		return nil, syncErrors.NewBusiness(syncErrors.OpCreateCredit,
			syncErrors.CodeActiveCreditExists, "el cliente ya tiene un crédito activo")
	}

	terms := domain.NewCreditTerms(in, s.now().UTC())

	res, err := tx.ExecContext(ctx, `
        INSERT INTO credits (client_id, amount, interest, total, frequency,
                             cuotas, valor_cuota, date, sync_status)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rowid, terms.Amount, terms.Interest, terms.Total, terms.Frequency,
		terms.Cuotas, terms.ValorCuota, terms.Date.Format(time.RFC3339), statusPending)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpCreateCredit, err)
	}
	creditRow, err := res.LastInsertId()
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpCreateCredit, err)
	}

	// Deuda moves in the same transaction as the credit row: readers never
	// observe one without the other.
	if _, err := tx.ExecContext(ctx, `
        UPDATE clients SET deuda = deuda + ?, sync_status = ? WHERE id = ?`,
		terms.Total, statusPending, rowid); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpCreateCredit, err)
	}

	payload := domain.QueuedCreditCreate{ClientID: clientID, CreditInput: in}
	if err := s.enqueue(ctx, tx, domain.TableCredits, creditRow, domain.ActionCreate, payload); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpCreateCredit, err)
	}

	terms.ID = domain.LocalCreditID(creditRow)
	terms.ClientID = clientID
	return &terms, nil
}

// CreatePayment inserts the payment row and, for monetary payments, decrements
// the client's deuda clamped at zero in the same transaction, then enqueues
// a create entry. Zero-amount payments with notes are visit status records and
// leave deuda untouched.
func (s *Store) CreatePayment(ctx context.Context, clientID string, in domain.PaymentInput) (*domain.Payment, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if in.Amount < 0 {
		return nil, syncErrors.NewBusiness(syncErrors.OpCreatePayment,
			syncErrors.CodeValidation, "el valor del pago no puede ser negativo")
	}

	rowid, err := s.resolveClientRow(ctx, clientID)
	if err != nil {
		return nil, err
	}

	date := in.Date
	if date.IsZero() {
		date = s.now().UTC()
	}

	var creditRef any
	if in.CreditID != "" {
		if n, ok := creditRowID(in.CreditID); ok {
			creditRef = n
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpCreatePayment, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        INSERT INTO payments (client_id, credit_id, amount, date, notes, sync_status)
        VALUES (?, ?, ?, ?, ?, ?)`,
		rowid, creditRef, in.Amount, date.Format(time.RFC3339), in.Notes, statusPending)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpCreatePayment, err)
	}
	paymentRow, err := res.LastInsertId()
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpCreatePayment, err)
	}

	if in.Amount > 0 {
		if _, err := tx.ExecContext(ctx, `
            UPDATE clients SET deuda = MAX(0, deuda - ?), sync_status = ? WHERE id = ?`,
			in.Amount, statusPending, rowid); err != nil {
			return nil, syncErrors.NewStorage(syncErrors.OpCreatePayment, err)
		}
	}

	payload := domain.QueuedPaymentCreate{ClientID: clientID, PaymentInput: in}
	payload.Date = date
	if err := s.enqueue(ctx, tx, domain.TablePayments, paymentRow, domain.ActionCreate, payload); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpCreatePayment, err)
	}

	return &domain.Payment{
		ID:       domain.LocalPaymentID(paymentRow),
		ClientID: clientID,
		CreditID: in.CreditID,
		Amount:   in.Amount,
		Date:     date,
		Notes:    in.Notes,
	}, nil
}
