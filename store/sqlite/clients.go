package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cobranzas-app/cobrasync/domain"
	syncErrors "github.com/cobranzas-app/cobrasync/errors"
)

// syncStatus values for local rows.
const (
	statusSynced  = "synced"
	statusPending = "pending"
)

// Clients returns all locally stored clients with their credits and payments
// assembled.
func (s *Store) Clients(ctx context.Context) ([]domain.Client, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, nombre, identificacion, ubicacion_gps, direccion, negocio,
               telefono, deuda, vencimiento, remote_id
        FROM clients ORDER BY id`)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpGetClients, err)
	}
	defer rows.Close()

	var clients []domain.Client
	index := map[int64]int{}
	for rows.Next() {
		c, rowid, err := scanClient(rows)
		if err != nil {
			return nil, syncErrors.NewStorage(syncErrors.OpGetClients, err)
		}
		index[rowid] = len(clients)
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpGetClients, err)
	}

	if err := s.attachCredits(ctx, clients, index); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpGetClients, err)
	}
	if err := s.attachPayments(ctx, clients, index); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpGetClients, err)
	}
	return clients, nil
}

// ClientByID returns one client with nested collections. The id may be a
// local id ("C-<n>") or a remote id previously reconciled onto a local row.
// A not-found result is a business error, not a storage failure.
func (s *Store) ClientByID(ctx context.Context, id string) (*domain.Client, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
        SELECT id, nombre, identificacion, ubicacion_gps, direccion, negocio,
               telefono, deuda, vencimiento, remote_id
        FROM clients WHERE id = ? OR remote_id = ?`,
		numericPart(id), id)

	c, rowid, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, syncErrors.NewBusiness(syncErrors.OpGetClient,
			syncErrors.CodeClientNotFound, "cliente no encontrado")
	}
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpGetClient, err)
	}

	clients := []domain.Client{c}
	index := map[int64]int{rowid: 0}
	if err := s.attachCredits(ctx, clients, index); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpGetClient, err)
	}
	if err := s.attachPayments(ctx, clients, index); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpGetClient, err)
	}
	return &clients[0], nil
}

// CreateClient inserts a new client row, assigns a local id and enqueues a
// create entry for later replay. The returned client has empty collections.
func (s *Store) CreateClient(ctx context.Context, in domain.ClientInput) (*domain.Client, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Nombre) == "" {
		return nil, syncErrors.NewBusiness(syncErrors.OpCreateClient,
			syncErrors.CodeValidation, "el nombre es obligatorio")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpCreateClient, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        INSERT INTO clients (nombre, identificacion, ubicacion_gps, direccion,
                             negocio, telefono, deuda, vencimiento, sync_status)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Nombre, in.Identificacion, in.UbicacionGPS, in.Direccion,
		in.Negocio, in.Telefono, in.Deuda, in.Vencimiento, statusPending)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpCreateClient, err)
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpCreateClient, err)
	}

	if err := s.enqueue(ctx, tx, domain.TableClients, rowid, domain.ActionCreate, in); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpCreateClient, err)
	}

	return &domain.Client{
		ID:             domain.LocalClientID(rowid),
		Nombre:         in.Nombre,
		Identificacion: in.Identificacion,
		UbicacionGPS:   in.UbicacionGPS,
		Direccion:      in.Direccion,
		Negocio:        in.Negocio,
		Telefono:       in.Telefono,
		Deuda:          in.Deuda,
		Vencimiento:    in.Vencimiento,
		Payments:       []domain.Payment{},
		Credits:        []domain.Credit{},
	}, nil
}

// UpdateClient applies only the supplied fields, marks the row pending and
// enqueues an update entry. Deuda and vencimiento are not updatable here:
// both derive from credit and payment writes.
func (s *Store) UpdateClient(ctx context.Context, id string, upd domain.ClientUpdate) (*domain.Client, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if upd.Empty() {
		return nil, syncErrors.NewBusiness(syncErrors.OpUpdateClient,
			syncErrors.CodeValidation, "sin campos para actualizar")
	}

	rowid, err := s.resolveClientRow(ctx, id)
	if err != nil {
		return nil, err
	}

	set := make([]string, 0, 6)
	args := make([]any, 0, 7)
	appendField := func(col string, v *string) {
		if v != nil {
			set = append(set, col+" = ?")
			args = append(args, *v)
		}
	}
	appendField("nombre", upd.Nombre)
	appendField("identificacion", upd.Identificacion)
	appendField("telefono", upd.Telefono)
	appendField("negocio", upd.Negocio)
	appendField("ubicacion_gps", upd.UbicacionGPS)
	set = append(set, "sync_status = ?")
	args = append(args, statusPending, rowid)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpUpdateClient, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE clients SET "+strings.Join(set, ", ")+" WHERE id = ?", args...); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpUpdateClient, err)
	}

	payload := domain.QueuedClientUpdate{ClientID: id, ClientUpdate: upd}
	if err := s.enqueue(ctx, tx, domain.TableClients, rowid, domain.ActionUpdate, payload); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, syncErrors.NewStorage(syncErrors.OpUpdateClient, err)
	}

	return s.ClientByID(ctx, id)
}

// resolveClientRow maps a public id onto the local rowid, matching either the
// local form or a reconciled remote id.
func (s *Store) resolveClientRow(ctx context.Context, id string) (int64, error) {
	if rowid, ok := clientRowID(id); ok {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM clients WHERE id = ?`, rowid).Scan(&exists)
		if err == sql.ErrNoRows {
			return 0, syncErrors.NewBusiness(syncErrors.OpGetClient,
				syncErrors.CodeClientNotFound, "cliente no encontrado")
		}
		if err != nil {
			return 0, syncErrors.NewStorage(syncErrors.OpGetClient, err)
		}
		return rowid, nil
	}

	var rowid int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM clients WHERE remote_id = ?`, id).Scan(&rowid)
	if err == sql.ErrNoRows {
		return 0, syncErrors.NewBusiness(syncErrors.OpGetClient,
			syncErrors.CodeClientNotFound, "cliente no encontrado")
	}
	if err != nil {
		return 0, syncErrors.NewStorage(syncErrors.OpGetClient, err)
	}
	return rowid, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(r rowScanner) (domain.Client, int64, error) {
	var (
		c        domain.Client
		rowid    int64
		ident    sql.NullString
		gps      sql.NullString
		dir      sql.NullString
		negocio  sql.NullString
		tel      sql.NullString
		venc     sql.NullString
		remoteID sql.NullString
	)
	if err := r.Scan(&rowid, &c.Nombre, &ident, &gps, &dir, &negocio,
		&tel, &c.Deuda, &venc, &remoteID); err != nil {
		return domain.Client{}, 0, err
	}
	c.ID = domain.LocalClientID(rowid)
	c.Identificacion = ident.String
	c.UbicacionGPS = gps.String
	c.Direccion = dir.String
	c.Negocio = negocio.String
	c.Telefono = tel.String
	c.Vencimiento = venc.String
	c.Payments = []domain.Payment{}
	c.Credits = []domain.Credit{}
	return c, rowid, nil
}

func (s *Store) attachCredits(ctx context.Context, clients []domain.Client, index map[int64]int) error {
	if len(clients) == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, client_id, amount, interest, total, frequency, cuotas,
               valor_cuota, date
        FROM credits ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cr       domain.Credit
			rowid    int64
			clientID int64
			date     string
		)
		if err := rows.Scan(&rowid, &clientID, &cr.Amount, &cr.Interest,
			&cr.Total, &cr.Frequency, &cr.Cuotas, &cr.ValorCuota, &date); err != nil {
			return err
		}
		i, ok := index[clientID]
		if !ok {
			continue
		}
		cr.ID = domain.LocalCreditID(rowid)
		cr.ClientID = clients[i].ID
		cr.Date = parseTime(date)
		clients[i].Credits = append(clients[i].Credits, cr)
	}
	return rows.Err()
}

func (s *Store) attachPayments(ctx context.Context, clients []domain.Client, index map[int64]int) error {
	if len(clients) == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, client_id, credit_id, amount, date, notes
        FROM payments ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p        domain.Payment
			rowid    int64
			clientID int64
			creditID sql.NullInt64
			date     string
			notes    sql.NullString
		)
		if err := rows.Scan(&rowid, &clientID, &creditID, &p.Amount, &date, &notes); err != nil {
			return err
		}
		i, ok := index[clientID]
		if !ok {
			continue
		}
		p.ID = domain.LocalPaymentID(rowid)
		p.ClientID = clients[i].ID
		if creditID.Valid {
			p.CreditID = domain.LocalCreditID(creditID.Int64)
		}
		p.Date = parseTime(date)
		p.Notes = notes.String
		clients[i].Payments = append(clients[i].Payments, p)
	}
	return rows.Err()
}

// numericPart strips the local prefix for direct rowid comparison; non-local
// ids pass through and simply never match the integer id column.
func numericPart(id string) string {
	return strings.TrimPrefix(id, "C-")
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
