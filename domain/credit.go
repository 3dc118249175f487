package domain

import (
	"math"
	"time"
)

// Round2 rounds to two decimals the way the rest of the system does:
// round(x*100)/100.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// CreditTotal is principal plus simple interest, two-decimal rounded.
func CreditTotal(amount, interest float64) float64 {
	return Round2(amount + amount*interest/100)
}

// InstallmentValue is the collectable cuota: 4% of the principal. Business
// rule: the percentage applies to the amount lent, not the total with
// interest, and does not vary with frequency.
func InstallmentValue(amount float64) float64 {
	return Round2(amount * 0.04)
}

// InstallmentsFor maps a cadence to its fixed installment count. The mapping
// is not user-editable once the frequency is chosen.
func InstallmentsFor(f Frequency) int {
	switch f {
	case FrequencyDaily:
		return 30
	case FrequencyWeekly:
		return 4
	case FrequencyBiweekly:
		return 2
	case FrequencyMonthly:
		return 1
	}
	return 1
}

// NewCreditTerms derives the full terms of a credit from its input.
func NewCreditTerms(in CreditInput, date time.Time) Credit {
	return Credit{
		Amount:     in.Amount,
		Interest:   in.Interest,
		Total:      CreditTotal(in.Amount, in.Interest),
		Frequency:  in.Frequency,
		Cuotas:     InstallmentsFor(in.Frequency),
		ValorCuota: InstallmentValue(in.Amount),
		Date:       date,
	}
}

// periodDays is the length in days of one installment period per cadence.
func periodDays(f Frequency) int {
	switch f {
	case FrequencyDaily:
		return 1
	case FrequencyWeekly:
		return 7
	case FrequencyBiweekly:
		return 15
	case FrequencyMonthly:
		return 30
	}
	return 0
}

// ExpectedInstallments is how many cuotas should have been paid on a credit
// between its start date and now, given its cadence.
func ExpectedInstallments(c Credit, now time.Time) int {
	pd := periodDays(c.Frequency)
	if pd == 0 || now.Before(c.Date) {
		return 0
	}
	return int(now.Sub(c.Date).Hours() / 24 / float64(pd))
}
