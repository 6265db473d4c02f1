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

// Payment is money recorded as received from a student. Amount and payment
// date are immutable after creation; only debt_id may later be set, exactly
// once, by the reconciliation engine. A NULL debt_id means unassigned.
type Payment struct {
	ID          int             `gorm:"primary_key" json:"id"`
	StudentId   int             `gorm:"index;not null" json:"student_id" binding:"required"`
	ConceptId   int             `gorm:"index;not null" json:"concept_id" binding:"required"`
	DebtId      *int            `gorm:"index" json:"debt_id,omitempty"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount" binding:"required"`
	PaymentDate time.Time       `gorm:"not null;index" json:"payment_date" binding:"required"`
	Method      PaymentMethod   `gorm:"type:enum('cash','bank_transfer','card','cheque','other');not null;default:'cash'" json:"method"`
	Reference   *string         `gorm:"size:255" json:"reference,omitempty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPayment struct {
	StudentId   int             `json:"student_id" binding:"required"`
	ConceptId   int             `json:"concept_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	PaymentDate time.Time       `json:"payment_date" binding:"required"`
	Method      PaymentMethod   `json:"method"`
	Reference   *string         `json:"reference,omitempty"`
}

func (input NewPayment) validate(ctx context.Context) error {

	if !input.Amount.IsPositive() {
		return errors.New("payment amount must be positive")
	}
	if input.Method != "" {
		if err := input.Method.Validate(); err != nil {
			return err
		}
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

// CreatePayment records received money. It does not run reconciliation;
// matching against debts is the engine's job.
func CreatePayment(ctx context.Context, input *NewPayment) (*Payment, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	method := input.Method
	if method == "" {
		method = PaymentMethodCash
	}

	payment := Payment{
		StudentId:   input.StudentId,
		ConceptId:   input.ConceptId,
		Amount:      input.Amount,
		PaymentDate: input.PaymentDate,
		Method:      method,
		Reference:   input.Reference,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, err
	}

	return &payment, nil
}

func GetPayment(ctx context.Context, id int) (*Payment, error) {
	return utils.FetchSingleModel[Payment](ctx, id)
}

// GetUnassignedPayments returns the student's payments with no debt link,
// oldest payment date first, id ascending on ties.
func GetUnassignedPayments(ctx context.Context, tx *gorm.DB, studentID int) ([]*Payment, error) {
	var payments []*Payment
	err := tx.WithContext(ctx).
		Where("student_id = ? AND debt_id IS NULL", studentID).
		Order("payment_date ASC, id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// allocatedByPayment sums prior allocations per payment id. A payment with a
// remainder left over from an earlier run keeps debt_id NULL, so its consumed
// fraction is only visible here.
func allocatedByPayment(ctx context.Context, tx *gorm.DB, paymentIDs []int) (map[int]decimal.Decimal, error) {
	sums := make(map[int]decimal.Decimal, len(paymentIDs))
	if len(paymentIDs) == 0 {
		return sums, nil
	}
	rows, err := tx.WithContext(ctx).
		Model(&DebtAllocation{}).
		Select("payment_id, SUM(amount) AS total").
		Where("payment_id IN ?", paymentIDs).
		Group("payment_id").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var paymentID int
		var total decimal.Decimal
		if err := rows.Scan(&paymentID, &total); err != nil {
			return nil, err
		}
		sums[paymentID] = total
	}
	return sums, rows.Err()
}
