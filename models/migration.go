package models

import (
	"log"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
)

// MigrateTable runs AutoMigrate for every table this service owns.
func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&MenuItem{},
		&Order{},
		&OrderItem{},
		&OrderSyncStatus{},
		&SyncBatch{},
		&SyncLog{},
		&SyncConflict{},
		&SyncConfiguration{},
	)
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}
}
