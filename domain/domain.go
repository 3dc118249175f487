// Package domain holds the entities of the collections ("cobranzas") core:
// clients, their credits and payments, and the pending-change queue entries
// used by the offline sync layer. All money values are COP with two-decimal
// precision.
package domain

import (
	"encoding/json"
	"time"
)

// Frequency is the installment cadence of a credit. Values match the wire
// vocabulary used by the server and the mobile clients.
type Frequency string

const (
	FrequencyDaily    Frequency = "diario"
	FrequencyWeekly   Frequency = "semanal"
	FrequencyBiweekly Frequency = "quincenal"
	FrequencyMonthly  Frequency = "mensual"
)

// Valid reports whether f is one of the known cadences.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

// Status-note vocabulary for zero-amount visit records. A payment carrying one
// of these with amount == 0 documents the visit without moving money.
const (
	NoteNotFound = "no se encuentra"
	NoteWeekly   = "semanal"
	NoteNoMoney  = "no tiene"
	NoteClavo    = "clavo"
)

// Client is a debtor on a collector's route. Deuda is a cached balance the
// store keeps equal to sum(credit.total) - sum(monetary payments), clamped
// at zero; it is never written independently of a credit or payment.
type Client struct {
	ID             string    `json:"id"`
	Nombre         string    `json:"nombre"`
	Identificacion string    `json:"identificacion,omitempty"`
	UbicacionGPS   string    `json:"ubicacionGps,omitempty"`
	Direccion      string    `json:"direccion,omitempty"`
	Negocio        string    `json:"negocio,omitempty"`
	Telefono       string    `json:"telefono,omitempty"`
	Deuda          float64   `json:"deuda"`
	Vencimiento    string    `json:"vencimiento,omitempty"`
	Payments       []Payment `json:"payments"`
	Credits        []Credit  `json:"credits"`
}

// Credit is a loan extended to a client. Total and ValorCuota are derived at
// creation time (see NewCreditTerms) and immutable afterwards.
type Credit struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"clientId,omitempty"`
	Amount     float64   `json:"amount"`
	Interest   float64   `json:"interest"`
	Total      float64   `json:"total"`
	Frequency  Frequency `json:"frequency"`
	Cuotas     int       `json:"cuotas"`
	ValorCuota float64   `json:"valorCuota"`
	Date       time.Time `json:"date"`
}

// Payment is either a monetary collection (Amount > 0) or, with Amount == 0
// and a non-empty note, a visit status record that must not touch deuda.
type Payment struct {
	ID       string    `json:"id"`
	ClientID string    `json:"clientId,omitempty"`
	CreditID string    `json:"creditId,omitempty"`
	Amount   float64   `json:"amount"`
	Date     time.Time `json:"date"`
	Notes    string    `json:"notes,omitempty"`
}

// IsStatusRecord reports whether p documents a visit rather than money
// changing hands.
func (p Payment) IsStatusRecord() bool {
	return p.Amount == 0 && p.Notes != ""
}

// ClientInput is the payload for creating a client.
type ClientInput struct {
	Nombre         string  `json:"nombre"`
	Identificacion string  `json:"identificacion,omitempty"`
	UbicacionGPS   string  `json:"ubicacionGps,omitempty"`
	Direccion      string  `json:"direccion,omitempty"`
	Negocio        string  `json:"negocio,omitempty"`
	Telefono       string  `json:"telefono,omitempty"`
	Deuda          float64 `json:"deuda,omitempty"`
	Vencimiento    string  `json:"vencimiento,omitempty"`
}

// ClientUpdate carries the editable client fields. Nil pointers mean "leave
// unchanged". Deuda and vencimiento are deliberately absent: both are derived
// by credit and payment writes.
type ClientUpdate struct {
	Nombre         *string `json:"nombre,omitempty"`
	Identificacion *string `json:"identificacion,omitempty"`
	Telefono       *string `json:"telefono,omitempty"`
	Negocio        *string `json:"negocio,omitempty"`
	UbicacionGPS   *string `json:"ubicacionGps,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ClientUpdate) Empty() bool {
	return u.Nombre == nil && u.Identificacion == nil && u.Telefono == nil &&
		u.Negocio == nil && u.UbicacionGPS == nil
}

// CreditInput is the payload for creating a credit. Total, cuotas and
// valorCuota are computed from it, never supplied by callers.
type CreditInput struct {
	Amount    float64   `json:"amount"`
	Interest  float64   `json:"interest"`
	Frequency Frequency `json:"frequency"`
}

// PaymentInput is the payload for recording a payment or visit note.
type PaymentInput struct {
	CreditID string    `json:"creditId,omitempty"`
	Amount   float64   `json:"amount"`
	Date     time.Time `json:"date,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

// Queue actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

// Queue table names.
const (
	TableClients  = "clients"
	TableCredits  = "credits"
	TablePayments = "payments"
)

// QueueEntry is one durable pending change awaiting replay against the remote
// server. IdempotencyKey is generated at enqueue time and sent with every
// replay attempt so the server can deduplicate at-least-once deliveries.
type QueueEntry struct {
	ID             int64           `json:"id"`
	Table          string          `json:"tableName"`
	RecordID       int64           `json:"recordId"`
	Action         string          `json:"action"`
	Data           json.RawMessage `json:"data"`
	IdempotencyKey string          `json:"idempotencyKey"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Serialized queue payloads. Each carries the public client id exactly as the
// caller supplied it; the drain resolves local ids to remote ids at replay
// time. Client creates serialize a bare ClientInput.

// QueuedClientUpdate is the payload of a clients/update entry.
type QueuedClientUpdate struct {
	ClientID string `json:"clientId"`
	ClientUpdate
}

// QueuedCreditCreate is the payload of a credits/create entry.
type QueuedCreditCreate struct {
	ClientID string `json:"clientId"`
	CreditInput
}

// QueuedPaymentCreate is the payload of a payments/create entry.
type QueuedPaymentCreate struct {
	ClientID string `json:"clientId"`
	PaymentInput
}
