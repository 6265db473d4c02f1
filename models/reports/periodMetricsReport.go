package reports

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/config"
	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/models"
	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const trendMonths = 4

// PeriodMetricsReport aggregates a school's debts and payments for one
// calendar month, optionally narrowed to a group and/or fee concept.
type PeriodMetricsReport struct {
	Year           int                 `json:"year"`
	Month          int                 `json:"month"`
	Collected      decimal.Decimal     `json:"collected"`
	Outstanding    decimal.Decimal     `json:"outstanding"`
	CompliancePct  decimal.Decimal     `json:"compliance_pct"`
	TopDebtorGroup *GroupOutstanding   `json:"top_debtor_group"`
	TopConcept     *ConceptCollected   `json:"top_concept"`
	MonthlyTrend   []MonthlyCollection `json:"monthly_trend"`
	TopDebtors     []DebtorDetail      `json:"top_debtors"`
	PriorYear      *PeriodSummary      `json:"prior_year"`
	VariationPct   VariationPct        `json:"variation_pct"`
}

// PeriodSummary is the collected/outstanding/compliance triple for one period.
type PeriodSummary struct {
	Year          int             `json:"year"`
	Month         int             `json:"month"`
	Collected     decimal.Decimal `json:"collected"`
	Outstanding   decimal.Decimal `json:"outstanding"`
	CompliancePct decimal.Decimal `json:"compliance_pct"`
}

// VariationPct holds year-over-year percentage changes. A field is nil when
// the prior-year baseline is zero; dividing by it would be meaningless.
type VariationPct struct {
	Collected   *decimal.Decimal `json:"collected"`
	Outstanding *decimal.Decimal `json:"outstanding"`
	Compliance  *decimal.Decimal `json:"compliance"`
}

type MonthlyCollection struct {
	Month  string          `json:"month"`
	Amount decimal.Decimal `json:"amount"`
}

type DebtorDetail struct {
	StudentId       int             `json:"student_id"`
	Name            string          `json:"name"`
	Amount          decimal.Decimal `json:"amount"`
	DaysOverdue     int             `json:"days_overdue"`
	LastPaymentDate *time.Time      `json:"last_payment_date"`
}

type GroupOutstanding struct {
	GroupId int             `json:"group_id"`
	Name    string          `json:"name"`
	Amount  decimal.Decimal `json:"amount"`
}

type ConceptCollected struct {
	ConceptId int             `json:"concept_id"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
}


type paymentRow struct {
	ID          int
	StudentId   int
	ConceptId   int
	ConceptName string
	Amount      decimal.Decimal
	PaymentDate time.Time
}

type debtRow struct {
	ID          int
	StudentId   int
	StudentName string
	GroupId     *int
	GroupName   *string
	ConceptId   int
	AmountTotal decimal.Decimal
	DueDate     time.Time
}

type pairKey struct {
	StudentId int
	ConceptId int
}


// periodAggregate is a locally-scoped accumulator; one is built per call, so
// nothing leaks between requests.
type periodAggregate struct {
	collected       decimal.Decimal
	outstanding     decimal.Decimal
	byGroup         map[int]decimal.Decimal
	groupNames      map[int]string
	byConcept       map[int]decimal.Decimal
	conceptNames    map[int]string
	byStudent       map[int]decimal.Decimal
	studentNames    map[int]string
	earliestDueDate map[int]time.Time
}

// aggregatePeriod folds payment and debt rows for one period. Each debt's
// outstanding share is its amount minus all payments recorded for the same
// (student, concept) pair, whatever month those payments landed in; this nets
// out cross-month advance payments. Shares are clamped at zero before summing
// so an overpaying pair never drags the totals negative.
func aggregatePeriod(payments []paymentRow, debts []debtRow, pairPaid map[pairKey]decimal.Decimal) periodAggregate {

	agg := periodAggregate{
		collected:       decimal.Zero,
		outstanding:     decimal.Zero,
		byGroup:         make(map[int]decimal.Decimal),
		groupNames:      make(map[int]string),
		byConcept:       make(map[int]decimal.Decimal),
		conceptNames:    make(map[int]string),
		byStudent:       make(map[int]decimal.Decimal),
		studentNames:    make(map[int]string),
		earliestDueDate: make(map[int]time.Time),
	}

	for _, p := range payments {
		agg.collected = agg.collected.Add(p.Amount)
		agg.byConcept[p.ConceptId] = agg.byConcept[p.ConceptId].Add(p.Amount)
		agg.conceptNames[p.ConceptId] = p.ConceptName
	}

	for _, d := range debts {
		share := utils.MaxZero(d.AmountTotal.Sub(pairPaid[pairKey{d.StudentId, d.ConceptId}]))
		agg.outstanding = agg.outstanding.Add(share)

		if share.IsPositive() {
			agg.byStudent[d.StudentId] = agg.byStudent[d.StudentId].Add(share)
			agg.studentNames[d.StudentId] = d.StudentName
			if first, ok := agg.earliestDueDate[d.StudentId]; !ok || d.DueDate.Before(first) {
				agg.earliestDueDate[d.StudentId] = d.DueDate
			}
			if d.GroupId != nil {
				agg.byGroup[*d.GroupId] = agg.byGroup[*d.GroupId].Add(share)
				if d.GroupName != nil {
					agg.groupNames[*d.GroupId] = *d.GroupName
				}
			}
		}
	}

	return agg
}

// compliancePct is collected over collected-plus-outstanding, as a percentage
// rounded to two decimals. Zero denominator means zero, never NaN.
func compliancePct(collected, outstanding decimal.Decimal) decimal.Decimal {
	denominator := collected.Add(outstanding)
	if denominator.IsZero() {
		return decimal.Zero
	}
	return collected.Div(denominator).Mul(decimal.NewFromInt(100)).Round(2)
}

// variationPct is the percentage change against a prior-year baseline,
// nil when the baseline is zero.
func variationPct(current, prior decimal.Decimal) *decimal.Decimal {
	if prior.IsZero() {
		return nil
	}
	v := current.Sub(prior).Div(prior).Mul(decimal.NewFromInt(100)).Round(2)
	return &v
}

// topGroup picks the group owing the most; ties go to the lowest group id.
func (agg periodAggregate) topGroup() *GroupOutstanding {
	var best *GroupOutstanding
	for id, amount := range agg.byGroup {
		if best == nil || amount.GreaterThan(best.Amount) || (amount.Equal(best.Amount) && id < best.GroupId) {
			best = &GroupOutstanding{GroupId: id, Name: agg.groupNames[id], Amount: amount}
		}
	}
	return best
}

// topConcept picks the concept that collected the most; ties go to the lowest
// concept id.
func (agg periodAggregate) topConcept() *ConceptCollected {
	var best *ConceptCollected
	for id, amount := range agg.byConcept {
		if best == nil || amount.GreaterThan(best.Amount) || (amount.Equal(best.Amount) && id < best.ConceptId) {
			best = &ConceptCollected{ConceptId: id, Name: agg.conceptNames[id], Amount: amount}
		}
	}
	return best
}

// topDebtors ranks students by outstanding amount, largest first, lowest id on
// ties, capped at limit.
func (agg periodAggregate) topDebtors(limit int, today time.Time) []DebtorDetail {
	debtors := make([]DebtorDetail, 0, len(agg.byStudent))
	for id, amount := range agg.byStudent {
		days := 0
		if due, ok := agg.earliestDueDate[id]; ok {
			days = daysOverdue(due, today)
		}
		debtors = append(debtors, DebtorDetail{
			StudentId:   id,
			Name:        agg.studentNames[id],
			Amount:      amount,
			DaysOverdue: days,
		})
	}
	sort.Slice(debtors, func(i, j int) bool {
		if !debtors[i].Amount.Equal(debtors[j].Amount) {
			return debtors[i].Amount.GreaterThan(debtors[j].Amount)
		}
		return debtors[i].StudentId < debtors[j].StudentId
	})
	if len(debtors) > limit {
		debtors = debtors[:limit]
	}
	return debtors
}

// daysOverdue counts full calendar days past the due date, in today's
// location; debts due today or later count zero. The midnight arithmetic
// happens in UTC where every day is 24h, so DST transitions and
// driver-vs-server offsets cannot skew the count.
func daysOverdue(due, today time.Time) int {
	due = due.In(today.Location())
	du := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	tu := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	d := int(tu.Sub(du).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}


func loadPeriodPayments(ctx context.Context, tx *gorm.DB, year int, month time.Month, groupId *int, conceptId *int) ([]paymentRow, error) {

	var rows []paymentRow
	sqlTemplate := `
SELECT
    p.id,
    p.student_id,
    p.concept_id,
    pc.name AS concept_name,
    p.amount,
    p.payment_date
FROM
    payments p
    JOIN students s ON s.id = p.student_id
    JOIN payment_concepts pc ON pc.id = p.concept_id
WHERE
    p.payment_date >= @periodStart
    AND p.payment_date < @periodEnd
    {{- if .groupId }} AND s.group_id = @groupId {{- end}}
    {{- if .conceptId }} AND p.concept_id = @conceptId {{- end}}
ORDER BY
    p.id;
`
	sql, err := utils.ExecTemplate(sqlTemplate, map[string]interface{}{
		"groupId":   utils.DereferencePtr(groupId, 0),
		"conceptId": utils.DereferencePtr(conceptId, 0),
	})
	if err != nil {
		return nil, err
	}

	periodStart, periodEnd := utils.MonthBounds(year, month)
	if err := tx.WithContext(ctx).Raw(sql, map[string]interface{}{
		"periodStart": periodStart,
		"periodEnd":   periodEnd,
		"groupId":     groupId,
		"conceptId":   conceptId,
	}).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func loadPeriodDebts(ctx context.Context, tx *gorm.DB, year int, month time.Month, groupId *int, conceptId *int) ([]debtRow, error) {

	var rows []debtRow
	sqlTemplate := `
SELECT
    d.id,
    d.student_id,
    s.name AS student_name,
    s.group_id,
    g.name AS group_name,
    d.concept_id,
    d.amount_total,
    d.due_date
FROM
    debts d
    JOIN students s ON s.id = d.student_id
    LEFT JOIN ` + "`groups`" + ` g ON g.id = s.group_id
WHERE
    d.due_date >= @periodStart
    AND d.due_date < @periodEnd
    AND d.status <> 'paid'
    AND d.deleted_at IS NULL
    {{- if .groupId }} AND s.group_id = @groupId {{- end}}
    {{- if .conceptId }} AND d.concept_id = @conceptId {{- end}}
ORDER BY
    d.id;
`
	sql, err := utils.ExecTemplate(sqlTemplate, map[string]interface{}{
		"groupId":   utils.DereferencePtr(groupId, 0),
		"conceptId": utils.DereferencePtr(conceptId, 0),
	})
	if err != nil {
		return nil, err
	}

	periodStart, periodEnd := utils.MonthBounds(year, month)
	if err := tx.WithContext(ctx).Raw(sql, map[string]interface{}{
		"periodStart": periodStart,
		"periodEnd":   periodEnd,
		"groupId":     groupId,
		"conceptId":   conceptId,
	}).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// loadPairPaid sums every payment ever recorded for each (student, concept)
// pair appearing in the given debts, across all months. Advance and late
// payments both count toward the pair they were made for.
func loadPairPaid(ctx context.Context, tx *gorm.DB, debts []debtRow) (map[pairKey]decimal.Decimal, error) {

	paid := make(map[pairKey]decimal.Decimal)
	if len(debts) == 0 {
		return paid, nil
	}

	studentIds := make([]int, 0, len(debts))
	seen := make(map[int]bool)
	for _, d := range debts {
		if !seen[d.StudentId] {
			seen[d.StudentId] = true
			studentIds = append(studentIds, d.StudentId)
		}
	}

	var rows []struct {
		StudentId int
		ConceptId int
		Total     decimal.Decimal
	}
	sql := `
SELECT
    p.student_id,
    p.concept_id,
    SUM(p.amount) AS total
FROM
    payments p
WHERE
    p.student_id IN @studentIds
GROUP BY
    p.student_id,
    p.concept_id;
`
	if err := tx.WithContext(ctx).Raw(sql, map[string]interface{}{
		"studentIds": studentIds,
	}).Scan(&rows).Error; err != nil {
		return nil, err
	}

	for _, r := range rows {
		paid[pairKey{r.StudentId, r.ConceptId}] = r.Total
	}
	return paid, nil
}

func loadTrendSums(ctx context.Context, tx *gorm.DB, year int, month time.Month, groupId *int, conceptId *int) (map[string]decimal.Decimal, error) {

	var rows []struct {
		MonthKey string
		Total    decimal.Decimal
	}
	sqlTemplate := `
SELECT
    DATE_FORMAT(p.payment_date, '%Y-%m') AS month_key,
    SUM(p.amount) AS total
FROM
    payments p
    JOIN students s ON s.id = p.student_id
WHERE
    p.payment_date >= @trendStart
    AND p.payment_date < @periodEnd
    {{- if .groupId }} AND s.group_id = @groupId {{- end}}
    {{- if .conceptId }} AND p.concept_id = @conceptId {{- end}}
GROUP BY
    month_key;
`
	sql, err := utils.ExecTemplate(sqlTemplate, map[string]interface{}{
		"groupId":   utils.DereferencePtr(groupId, 0),
		"conceptId": utils.DereferencePtr(conceptId, 0),
	})
	if err != nil {
		return nil, err
	}

	firstYear, firstMonth := utils.AddMonths(year, month, -(trendMonths - 1))
	trendStart, _ := utils.MonthBounds(firstYear, firstMonth)
	_, periodEnd := utils.MonthBounds(year, month)

	if err := tx.WithContext(ctx).Raw(sql, map[string]interface{}{
		"trendStart": trendStart,
		"periodEnd":  periodEnd,
		"groupId":    groupId,
		"conceptId":  conceptId,
	}).Scan(&rows).Error; err != nil {
		return nil, err
	}

	sums := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		sums[r.MonthKey] = r.Total
	}
	return sums, nil
}

// loadLastPaymentDates returns each listed student's most recent payment
// date, regardless of concept or month. Students who never paid are absent.
func loadLastPaymentDates(ctx context.Context, tx *gorm.DB, studentIds []int) (map[int]time.Time, error) {

	last := make(map[int]time.Time)
	if len(studentIds) == 0 {
		return last, nil
	}

	var rows []struct {
		StudentId   int
		LastPayment time.Time
	}
	sql := `
SELECT
    p.student_id,
    MAX(p.payment_date) AS last_payment
FROM
    payments p
WHERE
    p.student_id IN @studentIds
GROUP BY
    p.student_id;
`
	if err := tx.WithContext(ctx).Raw(sql, map[string]interface{}{
		"studentIds": studentIds,
	}).Scan(&rows).Error; err != nil {
		return nil, err
	}

	for _, r := range rows {
		last[r.StudentId] = r.LastPayment
	}
	return last, nil
}


// GetPeriodMetricsReport assembles the full financial snapshot for one
// calendar month, including the four-month collection trend and the same
// period of the prior year for comparison.
func GetPeriodMetricsReport(ctx context.Context, year int, month int, groupId *int, conceptId *int) (*PeriodMetricsReport, error) {
	start := time.Now()
	defer logSlowReport(ctx, "period_metrics_report", start, map[string]any{
		"year":       year,
		"month":      month,
		"group_id":   utils.DereferencePtr(groupId, 0),
		"concept_id": utils.DereferencePtr(conceptId, 0),
	})

	if month < 1 || month > 12 || year < 1900 || year > 9999 {
		return nil, utils.ErrorInvalidFilter
	}
	if groupId != nil {
		if _, err := models.GetGroup(ctx, *groupId); err != nil {
			return nil, err
		}
	}
	if conceptId != nil {
		if _, err := models.GetPaymentConcept(ctx, *conceptId); err != nil {
			return nil, err
		}
	}

	if reportCacheEnabled() {
		key := metricsCacheKey(year, month, utils.DereferencePtr(groupId, 0), utils.DereferencePtr(conceptId, 0))
		var cached *PeriodMetricsReport
		if ok, err := cacheGet(key, &cached); err == nil && ok && cached != nil {
			return cached, nil
		}
		report, err := computePeriodMetrics(ctx, year, month, groupId, conceptId)
		if err != nil {
			return nil, err
		}
		_ = cacheSet(key, report, reportCacheTTL())
		return report, nil
	}

	return computePeriodMetrics(ctx, year, month, groupId, conceptId)
}

func metricsCacheKey(year int, month int, groupId int, conceptId int) string {
	return fmt.Sprintf("report:period_metrics:%04d-%02d:g%d:c%d", year, month, groupId, conceptId)
}

// InvalidatePeriodMetrics drops the cached report slices a ledger change in
// the given month can touch: the unfiltered view plus the matching group,
// concept and group+concept views. Cached reports for neighboring periods
// (trend window, prior-year comparison) age out via the TTL instead.
func InvalidatePeriodMetrics(at time.Time, groupId *int, conceptId *int) error {
	if !reportCacheEnabled() {
		return nil
	}
	keys := invalidationKeys(at.Year(), int(at.Month()),
		utils.DereferencePtr(groupId, 0), utils.DereferencePtr(conceptId, 0))
	return cacheDel(keys...)
}

func invalidationKeys(year int, month int, groupId int, conceptId int) []string {
	keys := []string{metricsCacheKey(year, month, 0, 0)}
	if groupId != 0 {
		keys = append(keys, metricsCacheKey(year, month, groupId, 0))
	}
	if conceptId != 0 {
		keys = append(keys, metricsCacheKey(year, month, 0, conceptId))
	}
	if groupId != 0 && conceptId != 0 {
		keys = append(keys, metricsCacheKey(year, month, groupId, conceptId))
	}
	return keys
}

// computePeriodMetrics runs every sub-query of one report inside a single
// read-only REPEATABLE READ transaction, so the collected, outstanding, trend
// and prior-year figures all describe the same ledger snapshot. The session
// default is READ COMMITTED, which would let a payment recorded mid-report
// appear in some sub-queries and not others.
func computePeriodMetrics(ctx context.Context, year int, month int, groupId *int, conceptId *int) (*PeriodMetricsReport, error) {

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin(&sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if tx.Error != nil {
		return nil, tx.Error
	}
	report, err := buildPeriodMetrics(ctx, tx, year, month, groupId, conceptId)
	tx.Rollback()
	if err != nil {
		return nil, err
	}
	return report, nil
}

func buildPeriodMetrics(ctx context.Context, tx *gorm.DB, year int, month int, groupId *int, conceptId *int) (*PeriodMetricsReport, error) {

	agg, err := loadAndAggregate(ctx, tx, year, time.Month(month), groupId, conceptId)
	if err != nil {
		return nil, err
	}

	trendSums, err := loadTrendSums(ctx, tx, year, time.Month(month), groupId, conceptId)
	if err != nil {
		return nil, err
	}

	today := time.Now()
	debtors := agg.topDebtors(5, today)

	debtorIds := make([]int, 0, len(debtors))
	for _, d := range debtors {
		debtorIds = append(debtorIds, d.StudentId)
	}
	lastPayments, err := loadLastPaymentDates(ctx, tx, debtorIds)
	if err != nil {
		return nil, err
	}
	for i := range debtors {
		if last, ok := lastPayments[debtors[i].StudentId]; ok {
			t := last
			debtors[i].LastPaymentDate = &t
		}
	}

	report := &PeriodMetricsReport{
		Year:           year,
		Month:          month,
		Collected:      agg.collected,
		Outstanding:    agg.outstanding,
		CompliancePct:  compliancePct(agg.collected, agg.outstanding),
		TopDebtorGroup: agg.topGroup(),
		TopConcept:     agg.topConcept(),
		MonthlyTrend:   fillTrend(trendSums, year, time.Month(month), trendMonths),
		TopDebtors:     debtors,
	}

	priorAgg, err := loadAndAggregate(ctx, tx, year-1, time.Month(month), groupId, conceptId)
	if err != nil {
		return nil, err
	}
	if !priorAgg.collected.IsZero() || !priorAgg.outstanding.IsZero() {
		prior := &PeriodSummary{
			Year:          year - 1,
			Month:         month,
			Collected:     priorAgg.collected,
			Outstanding:   priorAgg.outstanding,
			CompliancePct: compliancePct(priorAgg.collected, priorAgg.outstanding),
		}
		report.PriorYear = prior
		report.VariationPct = VariationPct{
			Collected:   variationPct(report.Collected, prior.Collected),
			Outstanding: variationPct(report.Outstanding, prior.Outstanding),
			Compliance:  variationPct(report.CompliancePct, prior.CompliancePct),
		}
	}

	return report, nil
}

func loadAndAggregate(ctx context.Context, tx *gorm.DB, year int, month time.Month, groupId *int, conceptId *int) (periodAggregate, error) {

	payments, err := loadPeriodPayments(ctx, tx, year, month, groupId, conceptId)
	if err != nil {
		return periodAggregate{}, err
	}
	debts, err := loadPeriodDebts(ctx, tx, year, month, groupId, conceptId)
	if err != nil {
		return periodAggregate{}, err
	}
	pairPaid, err := loadPairPaid(ctx, tx, debts)
	if err != nil {
		return periodAggregate{}, err
	}
	return aggregatePeriod(payments, debts, pairPaid), nil
}

// fillTrend turns sparse per-month sums into a dense oldest-first window of
// the `months` calendar months ending at (year, month).
func fillTrend(sums map[string]decimal.Decimal, year int, month time.Month, months int) []MonthlyCollection {
	trend := make([]MonthlyCollection, 0, months)
	for offset := -(months - 1); offset <= 0; offset++ {
		y, m := utils.AddMonths(year, month, offset)
		key := fmt.Sprintf("%04d-%02d", y, int(m))
		amount, ok := sums[key]
		if !ok {
			amount = decimal.Zero
		}
		trend = append(trend, MonthlyCollection{Month: utils.MonthLabel(y, m), Amount: amount})
	}
	return trend
}
