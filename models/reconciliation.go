package models

import (
	"context"
	"errors"

	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/config"
	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/utils"
	"github.com/shopspring/decimal"
)

// ReconcileResult reports what one reconciliation run changed.
type ReconcileResult struct {
	DebtsSettled  []int           `json:"debts_settled"`
	AmountApplied decimal.Decimal `json:"amount_applied"`
}

// reconcilePlan is the full set of writes one run intends to make. It is
// computed without side effects and applied in a single transaction, so a
// failed apply can simply be retried as a whole.
type reconcilePlan struct {
	allocations        []DebtAllocation
	settledDebtIDs     []int
	paymentAssignments map[int]int // payment id -> debt id
	amountApplied      decimal.Decimal
}

// buildReconcilePlan walks pending debts (oldest due date first) and consumes
// unassigned payments (oldest payment date first) until each debt's
// outstanding balance is covered or the payment queue runs dry.
//
// A payment's debt_id is assigned only when the payment is fully consumed by
// exactly one debt. A payment that covers a debt with remainder left over
// keeps debt_id NULL; its consumed fraction is recorded as an allocation so
// the remainder stays spendable and a re-run applies nothing twice.
//
// Both slices must already be in their deterministic order; priorByDebt and
// priorByPayment carry allocation sums from earlier runs.
func buildReconcilePlan(debts []*Debt, priorByDebt map[int]decimal.Decimal, payments []*Payment, priorByPayment map[int]decimal.Decimal) reconcilePlan {

	plan := reconcilePlan{
		paymentAssignments: make(map[int]int),
		amountApplied:      decimal.Zero,
	}

	remaining := make([]decimal.Decimal, len(payments))
	debtsTouched := make([]int, len(payments)) // distinct debts each payment fed this run
	for i, p := range payments {
		remaining[i] = p.Amount.Sub(priorByPayment[p.ID])
	}

	next := 0 // first payment with money left
	for _, debt := range debts {
		outstanding := debt.AmountTotal.Sub(priorByDebt[debt.ID])
		if !outstanding.IsPositive() {
			// already fully covered by earlier allocations; status catches up here
			plan.settledDebtIDs = append(plan.settledDebtIDs, debt.ID)
			continue
		}

		for next < len(payments) && outstanding.IsPositive() {
			if !remaining[next].IsPositive() {
				next++
				continue
			}

			applied := decimal.Min(remaining[next], outstanding)
			plan.allocations = append(plan.allocations, DebtAllocation{
				DebtId:    debt.ID,
				PaymentId: payments[next].ID,
				Amount:    applied,
			})
			remaining[next] = remaining[next].Sub(applied)
			outstanding = outstanding.Sub(applied)
			debtsTouched[next]++
			plan.amountApplied = plan.amountApplied.Add(applied)

			if remaining[next].IsZero() {
				// Fully consumed: link the payment iff this single debt took
				// all of it and no earlier run took a slice.
				if debtsTouched[next] == 1 && priorByPayment[payments[next].ID].IsZero() {
					plan.paymentAssignments[payments[next].ID] = debt.ID
				}
				next++
			}
		}

		if outstanding.IsZero() {
			plan.settledDebtIDs = append(plan.settledDebtIDs, debt.ID)
		}
	}

	return plan
}

// ReconcileStudentDebts applies the student's unassigned payments to their
// pending debts, oldest first. Idempotent: an unchanged ledger yields an
// empty plan and no writes. Serialized per student via a redis lock so two
// concurrent runs cannot double-apply the same payment set.
func ReconcileStudentDebts(ctx context.Context, studentID int) (*ReconcileResult, error) {
	logger := config.GetLogger()

	if _, err := GetStudent(ctx, studentID); err != nil {
		return nil, err
	}

	var result *ReconcileResult
	err := utils.WithStudentLock(ctx, studentID, "reconciliation.go", "ReconcileStudentDebts", func() error {

		db := config.GetDB()
		tx := db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return tx.Error
		}

		debts, err := GetPendingDebts(ctx, tx, studentID)
		if err != nil {
			tx.Rollback()
			return err
		}
		payments, err := GetUnassignedPayments(ctx, tx, studentID)
		if err != nil {
			tx.Rollback()
			return err
		}

		debtIDs := make([]int, len(debts))
		for i, d := range debts {
			debtIDs[i] = d.ID
		}
		paymentIDs := make([]int, len(payments))
		for i, p := range payments {
			paymentIDs[i] = p.ID
		}

		priorByDebt, err := allocatedByDebt(ctx, tx, debtIDs)
		if err != nil {
			tx.Rollback()
			return err
		}
		priorByPayment, err := allocatedByPayment(ctx, tx, paymentIDs)
		if err != nil {
			tx.Rollback()
			return err
		}

		plan := buildReconcilePlan(debts, priorByDebt, payments, priorByPayment)

		if len(plan.allocations) > 0 {
			if err := tx.Create(&plan.allocations).Error; err != nil {
				tx.Rollback()
				return err
			}
		}

		for paymentID, debtID := range plan.paymentAssignments {
			// debt_id is set exactly once; a row that is no longer NULL means
			// another writer slipped in despite the lock.
			res := tx.Model(&Payment{}).
				Where("id = ? AND debt_id IS NULL", paymentID).
				Update("debt_id", debtID)
			if res.Error != nil {
				tx.Rollback()
				return res.Error
			}
			if res.RowsAffected == 0 {
				tx.Rollback()
				config.LogError(logger, "reconciliation.go", "ReconcileStudentDebts", "payment already assigned", paymentID, errors.New("debt_id no longer NULL"))
				return utils.ErrorConcurrencyConflict
			}
		}

		if len(plan.settledDebtIDs) > 0 {
			if err := tx.Model(&Debt{}).
				Where("id IN ? AND status = ?", plan.settledDebtIDs, DebtStatusPending).
				Update("status", DebtStatusPaid).Error; err != nil {
				tx.Rollback()
				return err
			}
		}

		if err := tx.Commit().Error; err != nil {
			return err
		}

		settled := plan.settledDebtIDs
		if settled == nil {
			settled = []int{}
		}
		result = &ReconcileResult{
			DebtsSettled:  settled,
			AmountApplied: plan.amountApplied,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
