package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/config"
	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/models"
	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/models/reports"
	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/utils"
	"github.com/shopspring/decimal"
)

// End-to-end reconciliation regression against real MySQL and Redis.
//
// Usage (requires Docker):
//   INTEGRATION_TESTS=1 go test ./models -run ReconcileEndToEnd -v

func TestReconcileEndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "school_finance_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()

	group := models.Group{Name: "1-A", Level: "primary"}
	if err := db.Create(&group).Error; err != nil {
		t.Fatalf("create group: %v", err)
	}
	student := models.Student{Name: "Ana Torres", GroupId: &group.ID}
	if err := db.Create(&student).Error; err != nil {
		t.Fatalf("create student: %v", err)
	}
	concept := models.PaymentConcept{Name: "Tuition", ApplicationType: models.ConceptApplicationRecurringMonthly}
	if err := db.Create(&concept).Error; err != nil {
		t.Fatalf("create concept: %v", err)
	}

	// Writes against unknown ids classify as not-found, not bad input.
	if _, err := models.CreateDebt(ctx, &models.NewDebt{
		StudentId:   student.ID + 1000,
		ConceptId:   concept.ID,
		AmountTotal: decimal.NewFromInt(100),
		DueDate:     time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected record-not-found for unknown student, got %v", err)
	}
	if _, err := models.CreatePayment(ctx, &models.NewPayment{
		StudentId:   student.ID,
		ConceptId:   concept.ID + 1000,
		Amount:      decimal.NewFromInt(100),
		PaymentDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected record-not-found for unknown concept, got %v", err)
	}

	// Exact match: one debt, one payment of the same amount.
	debt, err := models.CreateDebt(ctx, &models.NewDebt{
		StudentId:   student.ID,
		ConceptId:   concept.ID,
		AmountTotal: decimal.NewFromInt(1000),
		DueDate:     time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateDebt: %v", err)
	}
	payment, err := models.CreatePayment(ctx, &models.NewPayment{
		StudentId:   student.ID,
		ConceptId:   concept.ID,
		Amount:      decimal.NewFromInt(1000),
		PaymentDate: time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC),
		Method:      models.PaymentMethodBankTransfer,
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	result, err := models.ReconcileStudentDebts(ctx, student.ID)
	if err != nil {
		t.Fatalf("ReconcileStudentDebts: %v", err)
	}
	if len(result.DebtsSettled) != 1 || result.DebtsSettled[0] != debt.ID {
		t.Fatalf("expected debt %d settled, got %v", debt.ID, result.DebtsSettled)
	}
	if !result.AmountApplied.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected 1000 applied, got %s", result.AmountApplied)
	}

	settled, err := models.GetDebt(ctx, debt.ID)
	if err != nil {
		t.Fatalf("GetDebt: %v", err)
	}
	if settled.Status != models.DebtStatusPaid {
		t.Fatalf("expected paid status, got %s", settled.Status)
	}
	linked, err := models.GetPayment(ctx, payment.ID)
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if linked.DebtId == nil || *linked.DebtId != debt.ID {
		t.Fatalf("expected payment linked to debt %d, got %v", debt.ID, linked.DebtId)
	}

	statement, err := models.GetAccountStatement(ctx, student.ID)
	if err != nil {
		t.Fatalf("GetAccountStatement: %v", err)
	}
	if !statement.Balance.IsZero() {
		t.Fatalf("expected zero balance, got %s", statement.Balance)
	}

	// A second run must be a no-op.
	again, err := models.ReconcileStudentDebts(ctx, student.ID)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if len(again.DebtsSettled) != 0 || !again.AmountApplied.IsZero() {
		t.Fatalf("second run must change nothing, got %+v", again)
	}

	// Split payment across two debts: the due-date order and the partial
	// remainder must both survive across runs.
	for _, d := range []struct {
		amount int64
		due    time.Time
	}{
		{500, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)},
		{500, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
	} {
		if _, err := models.CreateDebt(ctx, &models.NewDebt{
			StudentId:   student.ID,
			ConceptId:   concept.ID,
			AmountTotal: decimal.NewFromInt(d.amount),
			DueDate:     d.due,
		}); err != nil {
			t.Fatalf("CreateDebt: %v", err)
		}
	}
	if _, err := models.CreatePayment(ctx, &models.NewPayment{
		StudentId:   student.ID,
		ConceptId:   concept.ID,
		Amount:      decimal.NewFromInt(800),
		PaymentDate: time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	split, err := models.ReconcileStudentDebts(ctx, student.ID)
	if err != nil {
		t.Fatalf("split reconcile: %v", err)
	}
	if len(split.DebtsSettled) != 1 {
		t.Fatalf("expected only the May debt settled, got %v", split.DebtsSettled)
	}
	if !split.AmountApplied.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("expected 800 applied, got %s", split.AmountApplied)
	}
	statement, err = models.GetAccountStatement(ctx, student.ID)
	if err != nil {
		t.Fatalf("GetAccountStatement: %v", err)
	}
	// 2000 owed total so far, 1800 paid.
	if !statement.Balance.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected balance 200, got %s", statement.Balance)
	}

	// Metrics over April: the 1000 payment, no outstanding April debt left.
	report, err := reports.GetPeriodMetricsReport(ctx, 2025, 4, nil, nil)
	if err != nil {
		t.Fatalf("GetPeriodMetricsReport: %v", err)
	}
	if !report.Collected.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected April collected 1000, got %s", report.Collected)
	}
	if !report.Outstanding.IsZero() {
		t.Fatalf("expected April outstanding 0, got %s", report.Outstanding)
	}
	if !report.CompliancePct.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected April compliance 100, got %s", report.CompliancePct)
	}

	// Manual settlement is idempotent.
	junes, err := models.GetPendingDebts(ctx, db, student.ID)
	if err != nil {
		t.Fatalf("GetPendingDebts: %v", err)
	}
	if len(junes) != 1 {
		t.Fatalf("expected one pending debt, got %d", len(junes))
	}
	if _, err := models.ManualSettleDebt(ctx, junes[0].ID); err != nil {
		t.Fatalf("ManualSettleDebt: %v", err)
	}
	if _, err := models.ManualSettleDebt(ctx, junes[0].ID); err != nil {
		t.Fatalf("ManualSettleDebt rerun: %v", err)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("finance-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("finance-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=school_finance_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
