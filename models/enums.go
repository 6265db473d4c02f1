package models

import "errors"

type DebtStatus string

const (
	DebtStatusPending DebtStatus = "pending"
	DebtStatusPaid    DebtStatus = "paid"
	// Overdue is a presentation-level classification (pending + past due date).
	// It is never written to the debts table by the engine.
	DebtStatusOverdue DebtStatus = "overdue"
)

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodCheque       PaymentMethod = "cheque"
	PaymentMethodOther        PaymentMethod = "other"
)

func (m PaymentMethod) Validate() error {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodCard, PaymentMethodCheque, PaymentMethodOther:
		return nil
	}
	return errors.New("invalid payment method")
}

type ConceptApplicationType string

const (
	ConceptApplicationRecurringMonthly ConceptApplicationType = "recurring-monthly"
	ConceptApplicationOneTime          ConceptApplicationType = "one-time"
)

func (t ConceptApplicationType) Validate() error {
	switch t {
	case ConceptApplicationRecurringMonthly, ConceptApplicationOneTime:
		return nil
	}
	return errors.New("invalid concept application type")
}
