package config

import (
	"os"
	"strings"
)

// AutoReconcileOnPayment makes the payment-recording endpoint run the
// reconciliation engine for the student right after the payment is stored.
//
// Set via env:
// - AUTO_RECONCILE_ON_PAYMENT=true
func AutoReconcileOnPayment() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("AUTO_RECONCILE_ON_PAYMENT")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
