package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestStatementBalanceIsZeroWhenFullyPaid(t *testing.T) {
	today := time.Date(2025, 4, 20, 10, 0, 0, 0, time.UTC)
	debts := []*Debt{planDebt(10, 1000, "2025-04-15")}
	debts[0].Status = DebtStatusPaid
	payments := []*Payment{planPayment(20, 1000, "2025-04-10")}

	s := buildAccountStatement(1, debts, payments, today)

	if !s.TotalOwed.IsZero() {
		t.Fatalf("paid debts must not count as owed, got %s", s.TotalOwed)
	}
	if !s.TotalPaid.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected total paid 1000, got %s", s.TotalPaid)
	}
	if !s.Balance.IsZero() {
		t.Fatalf("expected zero balance, got %s", s.Balance)
	}
	if len(s.PendingDebts) != 0 {
		t.Fatalf("expected no pending debts, got %d", len(s.PendingDebts))
	}
}

func TestStatementListsPendingDebtsWithDaysUntilDue(t *testing.T) {
	today := time.Date(2025, 4, 10, 23, 59, 0, 0, time.UTC)
	debts := []*Debt{
		planDebt(1, 500, "2025-04-01"), // overdue by 9 days
		planDebt(2, 500, "2025-04-25"), // due in 15 days
	}

	s := buildAccountStatement(1, debts, nil, today)

	if len(s.PendingDebts) != 2 {
		t.Fatalf("expected two pending debts, got %d", len(s.PendingDebts))
	}
	if s.PendingDebts[0].DaysUntilDue != -9 {
		t.Fatalf("expected -9 days for the overdue debt, got %d", s.PendingDebts[0].DaysUntilDue)
	}
	if s.PendingDebts[0].Status != DebtStatusOverdue {
		t.Fatalf("expected overdue display status, got %s", s.PendingDebts[0].Status)
	}
	if s.PendingDebts[1].DaysUntilDue != 15 {
		t.Fatalf("expected 15 days until due, got %d", s.PendingDebts[1].DaysUntilDue)
	}
	if s.PendingDebts[1].Status != DebtStatusPending {
		t.Fatalf("expected pending display status, got %s", s.PendingDebts[1].Status)
	}
	if !s.TotalOwed.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected total owed 1000, got %s", s.TotalOwed)
	}
}

func TestStatementDayCountsUseLocalCalendarDay(t *testing.T) {
	// Server runs at UTC-6; the driver hands back due dates in UTC.
	loc := time.FixedZone("UTC-6", -6*3600)
	today := time.Date(2025, 3, 10, 12, 0, 0, 0, loc)
	debts := []*Debt{
		// 2025-03-08 03:00 UTC is the local evening of March 7.
		{ID: 1, StudentId: 1, ConceptId: 1, AmountTotal: decimal.NewFromInt(500),
			DueDate: time.Date(2025, 3, 8, 3, 0, 0, 0, time.UTC), Status: DebtStatusPending},
		// 2025-03-11 02:00 UTC is still the local day of March 10.
		{ID: 2, StudentId: 1, ConceptId: 1, AmountTotal: decimal.NewFromInt(500),
			DueDate: time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC), Status: DebtStatusPending},
	}

	s := buildAccountStatement(1, debts, nil, today)

	if s.PendingDebts[0].DaysUntilDue != -3 {
		t.Fatalf("expected -3 days for the March 7 debt, got %d", s.PendingDebts[0].DaysUntilDue)
	}
	if s.PendingDebts[0].Status != DebtStatusOverdue {
		t.Fatalf("expected overdue display status, got %s", s.PendingDebts[0].Status)
	}
	if s.PendingDebts[1].DaysUntilDue != 0 {
		t.Fatalf("a debt due later today must count zero days, got %d", s.PendingDebts[1].DaysUntilDue)
	}
	if s.PendingDebts[1].Status != DebtStatusPending {
		t.Fatalf("a debt due today is not overdue, got %s", s.PendingDebts[1].Status)
	}
}

func TestStatementBalanceNeverNegative(t *testing.T) {
	today := time.Date(2025, 4, 20, 0, 0, 0, 0, time.UTC)
	debts := []*Debt{planDebt(1, 500, "2025-04-01")}
	payments := []*Payment{planPayment(20, 2000, "2025-04-02")}

	s := buildAccountStatement(1, debts, payments, today)

	if !s.Balance.IsZero() {
		t.Fatalf("overpayment must clamp balance to zero, got %s", s.Balance)
	}
	if !s.TotalPaid.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("expected total paid 2000, got %s", s.TotalPaid)
	}
}

func TestStatementEmptyLedger(t *testing.T) {
	s := buildAccountStatement(1, nil, nil, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	if !s.TotalOwed.IsZero() || !s.TotalPaid.IsZero() || !s.Balance.IsZero() {
		t.Fatalf("expected all-zero statement, got %+v", s)
	}
	if s.PendingDebts == nil || len(s.PendingDebts) != 0 {
		t.Fatalf("pending debts must be an empty slice, got %v", s.PendingDebts)
	}
}
