package reports

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func intPtr(v int) *int { return &v }

func strPtr(s string) *string { return &s }

func TestAggregateNetsOutstandingAgainstPairPayments(t *testing.T) {
	// One 2000 payment and one 2000 pending debt for the same student and
	// concept: the month collected 2000 and nothing is outstanding.
	due := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	payments := []paymentRow{
		{ID: 1, StudentId: 1, ConceptId: 1, ConceptName: "Tuition", Amount: dec(2000), PaymentDate: due.AddDate(0, 0, -5)},
	}
	debts := []debtRow{
		{ID: 1, StudentId: 1, StudentName: "Ana", ConceptId: 1, AmountTotal: dec(2000), DueDate: due},
	}
	pairPaid := map[pairKey]decimal.Decimal{{1, 1}: dec(2000)}

	agg := aggregatePeriod(payments, debts, pairPaid)

	if !agg.collected.Equal(dec(2000)) {
		t.Fatalf("expected collected 2000, got %s", agg.collected)
	}
	if !agg.outstanding.IsZero() {
		t.Fatalf("expected outstanding 0, got %s", agg.outstanding)
	}
	if got := compliancePct(agg.collected, agg.outstanding); !got.Equal(dec(100)) {
		t.Fatalf("expected compliance 100, got %s", got)
	}
	if len(agg.byStudent) != 0 {
		t.Fatalf("a fully covered debt must not rank its student as debtor, got %v", agg.byStudent)
	}
}

func TestAggregateEmptyPeriod(t *testing.T) {
	agg := aggregatePeriod(nil, nil, map[pairKey]decimal.Decimal{})

	if !agg.collected.IsZero() || !agg.outstanding.IsZero() {
		t.Fatalf("expected zero totals, got collected=%s outstanding=%s", agg.collected, agg.outstanding)
	}
	if got := compliancePct(agg.collected, agg.outstanding); !got.IsZero() {
		t.Fatalf("zero denominator must yield compliance 0, got %s", got)
	}
	if debtors := agg.topDebtors(5, time.Now()); len(debtors) != 0 {
		t.Fatalf("expected no debtors, got %v", debtors)
	}
	if agg.topGroup() != nil || agg.topConcept() != nil {
		t.Fatalf("expected nil top group and concept for empty period")
	}
}

func TestAggregateClampsOverpaidPairToZero(t *testing.T) {
	due := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	debts := []debtRow{
		{ID: 1, StudentId: 1, StudentName: "Ana", ConceptId: 1, AmountTotal: dec(1500), DueDate: due},
		{ID: 2, StudentId: 2, StudentName: "Bruno", ConceptId: 1, AmountTotal: dec(1500), DueDate: due},
	}
	pairPaid := map[pairKey]decimal.Decimal{
		{1, 1}: dec(2000), // overpaid
		{2, 1}: dec(500),
	}

	agg := aggregatePeriod(nil, debts, pairPaid)

	if !agg.outstanding.Equal(dec(1000)) {
		t.Fatalf("expected 0 + 1000 outstanding, got %s", agg.outstanding)
	}
	if _, ok := agg.byStudent[1]; ok {
		t.Fatalf("overpaid student must not appear as debtor")
	}
	if !agg.byStudent[2].Equal(dec(1000)) {
		t.Fatalf("expected student 2 owing 1000, got %s", agg.byStudent[2])
	}
}

func TestTopGroupAndConceptTieBreakOnLowestId(t *testing.T) {
	due := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	payments := []paymentRow{
		{ID: 1, StudentId: 1, ConceptId: 2, ConceptName: "Enrollment", Amount: dec(500), PaymentDate: due},
		{ID: 2, StudentId: 2, ConceptId: 1, ConceptName: "Tuition", Amount: dec(500), PaymentDate: due},
	}
	debts := []debtRow{
		{ID: 1, StudentId: 1, StudentName: "Ana", GroupId: intPtr(2), GroupName: strPtr("3-B"), ConceptId: 1, AmountTotal: dec(700), DueDate: due},
		{ID: 2, StudentId: 2, StudentName: "Bruno", GroupId: intPtr(1), GroupName: strPtr("1-A"), ConceptId: 2, AmountTotal: dec(700), DueDate: due},
	}

	agg := aggregatePeriod(payments, debts, map[pairKey]decimal.Decimal{})

	group := agg.topGroup()
	if group == nil || group.GroupId != 1 {
		t.Fatalf("tied groups must resolve to the lowest id, got %+v", group)
	}
	concept := agg.topConcept()
	if concept == nil || concept.ConceptId != 1 {
		t.Fatalf("tied concepts must resolve to the lowest id, got %+v", concept)
	}
}

func TestTopDebtorsOrderingAndOverdueDays(t *testing.T) {
	today := time.Date(2025, 4, 20, 12, 0, 0, 0, time.UTC)
	due := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	debts := []debtRow{
		{ID: 1, StudentId: 1, StudentName: "Ana", ConceptId: 1, AmountTotal: dec(300), DueDate: due},
		{ID: 2, StudentId: 2, StudentName: "Bruno", ConceptId: 1, AmountTotal: dec(900), DueDate: due.AddDate(0, 0, 8)}, // due 2025-04-18
		{ID: 3, StudentId: 2, StudentName: "Bruno", ConceptId: 2, AmountTotal: dec(100), DueDate: due},
		{ID: 4, StudentId: 3, StudentName: "Carla", ConceptId: 1, AmountTotal: dec(1000), DueDate: today.AddDate(0, 0, 5)},
	}

	agg := aggregatePeriod(nil, debts, map[pairKey]decimal.Decimal{})
	debtors := agg.topDebtors(2, today)

	if len(debtors) != 2 {
		t.Fatalf("expected the list capped at 2, got %d", len(debtors))
	}
	if debtors[0].StudentId != 2 && debtors[0].StudentId != 3 {
		t.Fatalf("unexpected leader %+v", debtors[0])
	}
	// Bruno and Carla both owe 1000; the tie resolves to the lower id.
	if debtors[0].StudentId != 2 {
		t.Fatalf("tie must resolve to student 2, got %d", debtors[0].StudentId)
	}
	// Bruno's earliest relevant debt is the 2025-04-10 one: 10 days overdue.
	if debtors[0].DaysOverdue != 10 {
		t.Fatalf("expected 10 days overdue, got %d", debtors[0].DaysOverdue)
	}
	// Carla's debt is not due yet; overdue clamps at zero.
	if debtors[1].StudentId != 3 || debtors[1].DaysOverdue != 0 {
		t.Fatalf("expected student 3 with 0 days overdue, got %+v", debtors[1])
	}
}

func TestInvalidationKeysCoverTouchedCacheSlices(t *testing.T) {
	keys := invalidationKeys(2025, 4, 7, 3)
	want := []string{
		"report:period_metrics:2025-04:g0:c0",
		"report:period_metrics:2025-04:g7:c0",
		"report:period_metrics:2025-04:g0:c3",
		"report:period_metrics:2025-04:g7:c3",
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), keys)
	}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("key %d: expected %s, got %s", i, k, keys[i])
		}
	}

	// A student without a group only touches the unfiltered and concept views.
	keys = invalidationKeys(2025, 4, 0, 3)
	if len(keys) != 2 || keys[1] != "report:period_metrics:2025-04:g0:c3" {
		t.Fatalf("expected unfiltered+concept keys, got %v", keys)
	}
}

func TestDaysOverdueUsesTodaysCalendarDay(t *testing.T) {
	// 2025-03-11 02:00 UTC is still March 10 at UTC-6; two local days overdue.
	loc := time.FixedZone("UTC-6", -6*3600)
	today := time.Date(2025, 3, 12, 8, 0, 0, 0, loc)
	due := time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC)

	if got := daysOverdue(due, today); got != 2 {
		t.Fatalf("expected 2 days overdue, got %d", got)
	}
	if got := daysOverdue(today.AddDate(0, 0, 1), today); got != 0 {
		t.Fatalf("a future due date must clamp to zero, got %d", got)
	}
}

func TestCompliancePctRounds(t *testing.T) {
	got := compliancePct(dec(1), dec(2))
	want := decimal.NewFromFloat(33.33)
	if !got.Equal(want) {
		t.Fatalf("expected 33.33, got %s", got)
	}
}

func TestVariationPct(t *testing.T) {
	v := variationPct(dec(2400), dec(2000))
	if v == nil || !v.Equal(dec(20)) {
		t.Fatalf("expected +20%%, got %v", v)
	}
	if variationPct(dec(2400), decimal.Zero) != nil {
		t.Fatalf("zero baseline must yield nil variation")
	}
	down := variationPct(dec(1500), dec(2000))
	if down == nil || !down.Equal(dec(-25)) {
		t.Fatalf("expected -25%%, got %v", down)
	}
}

func TestFillTrendSpansYearBoundaryOldestFirst(t *testing.T) {
	sums := map[string]decimal.Decimal{
		"2024-12": dec(300),
		"2025-02": dec(900),
	}

	trend := fillTrend(sums, 2025, time.February, trendMonths)

	if len(trend) != trendMonths {
		t.Fatalf("expected %d buckets, got %d", trendMonths, len(trend))
	}
	wantLabels := []string{"2024-Nov", "2024-Dec", "2025-Jan", "2025-Feb"}
	wantAmounts := []decimal.Decimal{decimal.Zero, dec(300), decimal.Zero, dec(900)}
	for i := range trend {
		if trend[i].Month != wantLabels[i] {
			t.Fatalf("bucket %d: expected label %s, got %s", i, wantLabels[i], trend[i].Month)
		}
		if !trend[i].Amount.Equal(wantAmounts[i]) {
			t.Fatalf("bucket %d: expected %s, got %s", i, wantAmounts[i], trend[i].Amount)
		}
	}
}
