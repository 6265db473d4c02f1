package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/config"
	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/models"
	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/utils"
)

// Batch reconciliation over every student with unassigned payments. Meant to
// run as a scheduled job, e.g. nightly after bank imports land.
func main() {
	studentID := flag.Int("student-id", 0, "Optional: reconcile only one student. If 0, reconciles every student with unassigned payments.")
	retryConflicts := flag.Int("retry-conflicts", 3, "How many times to retry a student whose lock is held")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()
	if config.GetRedisLock() == nil {
		fmt.Fprintln(os.Stderr, "redis not initialized (config.GetRedisLock returned nil)")
		os.Exit(1)
	}

	var studentIds []int
	if *studentID > 0 {
		studentIds = []int{*studentID}
	} else {
		// Only students with at least one payment not yet tied to a debt.
		err := db.WithContext(ctx).
			Raw("SELECT DISTINCT student_id FROM payments WHERE debt_id IS NULL ORDER BY student_id").
			Scan(&studentIds).Error
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list students: %v\n", err)
			os.Exit(1)
		}
	}
	if len(studentIds) == 0 {
		fmt.Println("nothing to reconcile")
		return
	}

	failed := 0
	for _, id := range studentIds {
		result, err := reconcileWithRetry(ctx, id, *retryConflicts)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "student %d: %v\n", id, err)
			continue
		}
		fmt.Printf("student %d: settled %d debts, applied %s\n", id, len(result.DebtsSettled), result.AmountApplied.String())
	}
	fmt.Printf("done: %d students, %d failed\n", len(studentIds), failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func reconcileWithRetry(ctx context.Context, studentID int, retries int) (*models.ReconcileResult, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		result, err := models.ReconcileStudentDebts(ctx, studentID)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !errors.Is(err, utils.ErrorConcurrencyConflict) {
			return nil, err
		}
		time.Sleep(time.Second * time.Duration(attempt+1))
	}
	return nil, lastErr
}
