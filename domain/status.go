package domain

import "time"

// moraGraceDays is the grace window before a delinquent credit enters mora.
const moraGraceDays = 30

// PaymentsFor returns the payments applied to a given credit.
func PaymentsFor(creditID string, payments []Payment) []Payment {
	var out []Payment
	for _, p := range payments {
		if p.CreditID == creditID {
			out = append(out, p)
		}
	}
	return out
}

// Abono is the total money collected against a credit.
func Abono(creditID string, payments []Payment) float64 {
	var sum float64
	for _, p := range PaymentsFor(creditID, payments) {
		sum += p.Amount
	}
	return sum
}

// Saldo is the outstanding balance of a credit, never negative.
func Saldo(c Credit, payments []Payment) float64 {
	s := Round2(c.Total - Abono(c.ID, payments))
	if s < 0 {
		return 0
	}
	return s
}

// ActiveCredit returns the most recent credit that still has saldo > 0, or
// nil. A client may hold at most one such credit; creating another is a
// business error.
func ActiveCredit(credits []Credit, payments []Payment) *Credit {
	var active *Credit
	for i := range credits {
		c := &credits[i]
		if Saldo(*c, payments) <= 0 {
			continue
		}
		if active == nil || c.Date.After(active.Date) {
			active = c
		}
	}
	return active
}

// DaysElapsed is the number of whole calendar days since the credit started.
func DaysElapsed(c Credit, now time.Time) int {
	if now.Before(c.Date) {
		return 0
	}
	return int(now.Sub(c.Date).Hours() / 24)
}

// DaysLate counts the days not covered by a visit. Every recorded payment,
// monetary or status-only, covers one expected installment day.
func DaysLate(daysElapsed, paymentsCount int) int {
	late := daysElapsed - paymentsCount
	if late < 0 {
		return 0
	}
	return late
}

// MoraDays is the lateness persisting beyond the 30-day grace window. There
// is no mora while the credit is inside the window or already paid off.
func MoraDays(daysElapsed int, saldo float64) int {
	if daysElapsed > moraGraceDays && saldo > 0 {
		return daysElapsed - moraGraceDays
	}
	return 0
}

// CreditStatus is the per-credit summary the route views render.
type CreditStatus struct {
	Abono          float64
	Saldo          float64
	CuotasPagadas  int
	DaysLate       int
	MoraDays       int
	AlDia          bool
	InstallmentVal float64
}

// StatusOf computes the collection status of a credit at a point in time.
func StatusOf(c Credit, payments []Payment, now time.Time) CreditStatus {
	ps := PaymentsFor(c.ID, payments)
	abono := Abono(c.ID, payments)
	saldo := Saldo(c, payments)
	elapsed := DaysElapsed(c, now)

	vc := c.ValorCuota
	if vc == 0 {
		vc = InstallmentValue(c.Amount)
	}
	paid := 0
	if vc > 0 {
		paid = int(abono / vc)
	}

	return CreditStatus{
		Abono:          abono,
		Saldo:          saldo,
		CuotasPagadas:  paid,
		DaysLate:       DaysLate(elapsed, len(ps)),
		MoraDays:       MoraDays(elapsed, saldo),
		AlDia:          paid >= ExpectedInstallments(c, now),
		InstallmentVal: vc,
	}
}
