package models

import (
	"log"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Organization{}, &Order{},
		&MasterCode{}, &UniqueCode{},
		&ShipmentSession{}, &ShipmentSessionScan{},
		&StockMovement{}, &MovementDedup{},
		&OutboxRecord{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
