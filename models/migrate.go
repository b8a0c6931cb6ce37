package models

import (
	"log"

	"github.com/fatoora-app/intake_backend/config"
	"github.com/fatoora-app/intake_backend/utils"
)

// MigrateTable runs AutoMigrate for every persisted model. DDL can block
// tables on large installs; callers may skip it on startup and run it as a
// separate job.
func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&Counterpart{},
		&Product{},
		&CurrencyExchange{},
		&IntakeRequest{},
		&AccountingDocument{},
		&DocumentLine{},
		&StockMovement{},
		&PaymentRequest{},
		&Payment{},
	)
	utils.ErrorPanic(err)
	log.Println("Migrated tables successfully")
}
