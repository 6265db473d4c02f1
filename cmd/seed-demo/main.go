package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/config"
	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Seeds a small school: two groups, a handful of students, monthly tuition
// debts plus one-time fees, and a partial payment history so the reconcile
// and metrics endpoints return non-trivial answers out of the box.
func main() {
	wipe := flag.Bool("wipe", false, "Delete existing finance rows before seeding")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	if *wipe {
		for _, table := range []string{"debt_allocations", "payments", "debts", "payment_concepts", "students", "`groups`"} {
			if err := db.Exec("DELETE FROM " + table).Error; err != nil {
				fmt.Fprintf(os.Stderr, "failed to wipe %s: %v\n", table, err)
				os.Exit(1)
			}
		}
	}

	if err := seed(db); err != nil {
		fmt.Fprintf(os.Stderr, "seeding failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("demo data seeded")
}

func ptr[T any](v T) *T { return &v }

func seed(db *gorm.DB) error {

	groups := []*models.Group{
		{Name: "1-A", Level: "primary"},
		{Name: "3-B", Level: "secondary"},
	}
	if err := db.Create(&groups).Error; err != nil {
		return err
	}

	students := []*models.Student{
		{Name: "Ana Torres", GroupId: &groups[0].ID},
		{Name: "Bruno Salas", GroupId: &groups[0].ID},
		{Name: "Carla Mendez", GroupId: &groups[1].ID},
		{Name: "Diego Luna", GroupId: &groups[1].ID},
		{Name: "Elena Rios", GroupId: nil},
	}
	if err := db.Create(&students).Error; err != nil {
		return err
	}

	concepts := []*models.PaymentConcept{
		{Name: "Tuition", ApplicationType: models.ConceptApplicationRecurringMonthly},
		{Name: "Enrollment", ApplicationType: models.ConceptApplicationOneTime},
		{Name: "Lab Fee", ApplicableLevel: ptr("secondary"), ApplicationType: models.ConceptApplicationOneTime},
	}
	if err := db.Create(&concepts).Error; err != nil {
		return err
	}

	tuition, enrollment, labFee := concepts[0], concepts[1], concepts[2]
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var debts []*models.Debt
	for _, s := range students {
		// Three months of tuition: two past-due, one current.
		for offset := -2; offset <= 0; offset++ {
			debts = append(debts, &models.Debt{
				StudentId:   s.ID,
				ConceptId:   tuition.ID,
				AmountTotal: decimal.NewFromInt(1500),
				DueDate:     monthStart.AddDate(0, offset, 4),
			})
		}
		debts = append(debts, &models.Debt{
			StudentId:   s.ID,
			ConceptId:   enrollment.ID,
			AmountTotal: decimal.NewFromInt(2000),
			DueDate:     monthStart.AddDate(0, -2, 0),
		})
	}
	for _, s := range students[2:4] {
		debts = append(debts, &models.Debt{
			StudentId:   s.ID,
			ConceptId:   labFee.ID,
			AmountTotal: decimal.NewFromInt(350),
			DueDate:     monthStart.AddDate(0, 0, 14),
		})
	}
	if err := db.Create(&debts).Error; err != nil {
		return err
	}

	payments := []*models.Payment{
		// Ana pays everything she owes so far.
		{StudentId: students[0].ID, ConceptId: tuition.ID, Amount: decimal.NewFromInt(4500), PaymentDate: monthStart.AddDate(0, 0, 2), Method: models.PaymentMethodBankTransfer},
		{StudentId: students[0].ID, ConceptId: enrollment.ID, Amount: decimal.NewFromInt(2000), PaymentDate: monthStart.AddDate(0, -2, 1), Method: models.PaymentMethodCash},
		// Bruno covers one month and half of the next.
		{StudentId: students[1].ID, ConceptId: tuition.ID, Amount: decimal.NewFromInt(2250), PaymentDate: monthStart.AddDate(0, -1, 10), Method: models.PaymentMethodCard},
		// Carla pays enrollment only.
		{StudentId: students[2].ID, ConceptId: enrollment.ID, Amount: decimal.NewFromInt(2000), PaymentDate: monthStart.AddDate(0, -1, 20), Method: models.PaymentMethodCash},
		// Diego overpays tuition slightly.
		{StudentId: students[3].ID, ConceptId: tuition.ID, Amount: decimal.NewFromInt(4700), PaymentDate: monthStart.AddDate(0, 0, 1), Method: models.PaymentMethodCheque, Reference: ptr("CHQ-0042")},
	}
	if err := db.Create(&payments).Error; err != nil {
		return err
	}

	return nil
}
