package models

import (
	"context"
	"time"

	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/config"
	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/utils"
	"github.com/shopspring/decimal"
)

// AccountStatement is a student's balance snapshot at query time.
// It is a pure read; callers wanting a fully up-to-date balance reconcile first.
type AccountStatement struct {
	StudentId    int                 `json:"student_id"`
	TotalOwed    decimal.Decimal     `json:"total_owed"`
	TotalPaid    decimal.Decimal     `json:"total_paid"`
	Balance      decimal.Decimal     `json:"balance"`
	PendingDebts []PendingDebtDetail `json:"pending_debts"`
}

type PendingDebtDetail struct {
	ID          int             `json:"id"`
	ConceptId   int             `json:"concept_id"`
	AmountTotal decimal.Decimal `json:"amount_total"`
	DueDate     time.Time       `json:"due_date"`
	// DaysUntilDue is negative once the due date has passed.
	DaysUntilDue int        `json:"days_until_due"`
	Status       DebtStatus `json:"status"`
}

// buildAccountStatement folds loaded rows into the statement. totalPaid counts
// every payment, assigned or not; totalOwed counts every non-paid debt; the
// balance never goes negative even when payments exceed debts.
func buildAccountStatement(studentID int, debts []*Debt, payments []*Payment, today time.Time) *AccountStatement {

	statement := &AccountStatement{
		StudentId:    studentID,
		TotalOwed:    decimal.Zero,
		TotalPaid:    decimal.Zero,
		PendingDebts: []PendingDebtDetail{},
	}

	for _, p := range payments {
		statement.TotalPaid = statement.TotalPaid.Add(p.Amount)
	}

	for _, d := range debts {
		if d.Status == DebtStatusPaid {
			continue
		}
		statement.TotalOwed = statement.TotalOwed.Add(d.AmountTotal)
		statement.PendingDebts = append(statement.PendingDebts, PendingDebtDetail{
			ID:           d.ID,
			ConceptId:    d.ConceptId,
			AmountTotal:  d.AmountTotal,
			DueDate:      d.DueDate,
			DaysUntilDue: daysBetween(today, d.DueDate),
			Status:       d.DisplayStatus(today),
		})
	}

	statement.Balance = utils.MaxZero(statement.TotalOwed.Sub(statement.TotalPaid))
	return statement
}

// daysBetween counts calendar days from a to b, both read in a's location.
// The midnight arithmetic happens in UTC where every day is 24h, so DST
// transitions and driver-vs-server offsets cannot skew the count.
func daysBetween(a, b time.Time) int {
	b = b.In(a.Location())
	au := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bu := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bu.Sub(au).Hours() / 24)
}

// GetAccountStatement computes the student's current balance summary.
func GetAccountStatement(ctx context.Context, studentID int) (*AccountStatement, error) {

	if _, err := GetStudent(ctx, studentID); err != nil {
		return nil, err
	}

	db := config.GetDB()

	var debts []*Debt
	if err := db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("due_date ASC, id ASC").
		Find(&debts).Error; err != nil {
		return nil, err
	}

	var payments []*Payment
	if err := db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Find(&payments).Error; err != nil {
		return nil, err
	}

	return buildAccountStatement(studentID, debts, payments, time.Now()), nil
}
