package models

import (
	"log"

	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Group{}, &Student{},
		&PaymentConcept{},
		&Debt{}, &Payment{}, &DebtAllocation{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
