package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/config"
	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Debt is an assessed amount a student owes for a fee concept. Once a payment
// references it, it is never physically deleted (soft lifecycle only). Status
// is mutated only by the reconciliation engine or explicit manual settlement.
type Debt struct {
	ID          int             `gorm:"primary_key" json:"id"`
	StudentId   int             `gorm:"index;not null" json:"student_id" binding:"required"`
	ConceptId   int             `gorm:"index;not null" json:"concept_id" binding:"required"`
	AmountTotal decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount_total" binding:"required"`
	DueDate     time.Time       `gorm:"not null;index" json:"due_date" binding:"required"`
	Status      DebtStatus      `gorm:"type:enum('pending','paid');not null;default:'pending'" json:"status"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt  `gorm:"index" json:"deleted_at,omitempty"`
}

type NewDebt struct {
	StudentId   int             `json:"student_id" binding:"required"`
	ConceptId   int             `json:"concept_id" binding:"required"`
	AmountTotal decimal.Decimal `json:"amount_total" binding:"required"`
	DueDate     time.Time       `json:"due_date" binding:"required"`
}

// DebtAllocation records one applied (payment, debt) contribution. Written only
// by the reconciliation engine. Partial applications live here so that a re-run
// sees the remaining balances instead of re-applying the same money.
type DebtAllocation struct {
	ID        int             `gorm:"primary_key" json:"id"`
	DebtId    int             `gorm:"index;not null" json:"debt_id"`
	PaymentId int             `gorm:"index;not null" json:"payment_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// DisplayStatus derives the presentation classification: a pending debt whose
// due date falls on an earlier calendar day than today shows as overdue.
// Nothing is persisted.
func (d *Debt) DisplayStatus(today time.Time) DebtStatus {
	if d.Status == DebtStatusPending && daysBetween(today, d.DueDate) < 0 {
		return DebtStatusOverdue
	}
	return d.Status
}

func (input NewDebt) validate(ctx context.Context) error {

	if !input.AmountTotal.IsPositive() {
		return errors.New("debt amount must be positive")
	}
	// exists student
	if err := utils.ValidateResourceId[Student](ctx, input.StudentId); err != nil {
		return fmt.Errorf("student not found: %w", err)
	}
	// exists concept
	if err := utils.ValidateResourceId[PaymentConcept](ctx, input.ConceptId); err != nil {
		return fmt.Errorf("payment concept not found: %w", err)
	}

	return nil
}

func CreateDebt(ctx context.Context, input *NewDebt) (*Debt, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	debt := Debt{
		StudentId:   input.StudentId,
		ConceptId:   input.ConceptId,
		AmountTotal: input.AmountTotal,
		DueDate:     input.DueDate,
		Status:      DebtStatusPending,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&debt).Error; err != nil {
		return nil, err
	}

	return &debt, nil
}

func GetDebt(ctx context.Context, id int) (*Debt, error) {
	return utils.FetchSingleModel[Debt](ctx, id)
}

// GetPendingDebts returns the student's pending debts oldest due date first,
// id ascending on ties, so reconciliation walks them deterministically.
func GetPendingDebts(ctx context.Context, tx *gorm.DB, studentID int) ([]*Debt, error) {
	var debts []*Debt
	err := tx.WithContext(ctx).
		Where("student_id = ? AND status = ?", studentID, DebtStatusPending).
		Order("due_date ASC, id ASC").
		Find(&debts).Error
	if err != nil {
		return nil, err
	}
	return debts, nil
}

// allocatedByDebt sums prior allocations per debt id.
func allocatedByDebt(ctx context.Context, tx *gorm.DB, debtIDs []int) (map[int]decimal.Decimal, error) {
	sums := make(map[int]decimal.Decimal, len(debtIDs))
	if len(debtIDs) == 0 {
		return sums, nil
	}
	rows, err := tx.WithContext(ctx).
		Model(&DebtAllocation{}).
		Select("debt_id, SUM(amount) AS total").
		Where("debt_id IN ?", debtIDs).
		Group("debt_id").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var debtID int
		var total decimal.Decimal
		if err := rows.Scan(&debtID, &total); err != nil {
			return nil, err
		}
		sums[debtID] = total
	}
	return sums, rows.Err()
}

// ManualSettleDebt marks a pending debt paid outside the reconciliation engine
// (waiver, scholarship, cash settled at the front desk). It is the only other
// legal writer of debt status.
func ManualSettleDebt(ctx context.Context, debtID int) (*Debt, error) {
	logger := config.GetLogger()

	debt, err := GetDebt(ctx, debtID)
	if err != nil {
		return nil, err
	}
	if debt.Status == DebtStatusPaid {
		// settling twice is a no-op, not an error
		return debt, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).
		Model(&Debt{}).
		Where("id = ? AND status = ?", debtID, DebtStatusPending).
		Update("status", DebtStatusPaid).Error; err != nil {
		config.LogError(logger, "debt.go", "ManualSettleDebt", "update status", debtID, err)
		return nil, err
	}
	debt.Status = DebtStatusPaid
	return debt, nil
}
