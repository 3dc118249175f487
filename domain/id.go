package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Locally created rows are surfaced with a prefixed rowid; server-assigned
// ids are opaque strings without these prefixes. The prefix is how the drain
// recognizes references that still need local→remote reconciliation.
const (
	clientIDPrefix  = "C-"
	creditIDPrefix  = "CR-"
	paymentIDPrefix = "P-"
)

// LocalClientID formats a local client rowid as a public id.
func LocalClientID(rowid int64) string {
	return fmt.Sprintf("%s%d", clientIDPrefix, rowid)
}

// LocalCreditID formats a local credit rowid as a public id.
func LocalCreditID(rowid int64) string {
	return fmt.Sprintf("%s%d", creditIDPrefix, rowid)
}

// LocalPaymentID formats a local payment rowid as a public id.
func LocalPaymentID(rowid int64) string {
	return fmt.Sprintf("%s%d", paymentIDPrefix, rowid)
}

// ParseLocalClientID extracts the rowid from a local client id. The second
// return is false for remote (opaque) ids.
func ParseLocalClientID(id string) (int64, bool) {
	return parseLocalID(id, clientIDPrefix)
}

// ParseLocalCreditID extracts the rowid from a local credit id.
func ParseLocalCreditID(id string) (int64, bool) {
	return parseLocalID(id, creditIDPrefix)
}

func parseLocalID(id, prefix string) (int64, bool) {
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(id, prefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
