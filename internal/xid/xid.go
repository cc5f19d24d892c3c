// Package xid generates human facing identifiers.
package xid

import (
	"fmt"
	"time"
)

// Receipt returns the receipt number for a sale at t: TX-<unix millis>.
func Receipt(t time.Time) string {
	return fmt.Sprintf("TX-%d", t.UnixMilli())
}

// ReceiptAttempt returns the n-th candidate for base. The first attempt is
// base itself, later ones append -2, -3 and so on.
func ReceiptAttempt(base string, n int) string {
	if n <= 1 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}
