package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"github.com/shopspring/decimal"
)

// StockMovement is one ledger row per logical shipment event. The row-level
// on-hand mutation is performed by the stored routine (config.MovementProcName);
// this model backs the read path and migrations.
type StockMovement struct {
	ID                int                   `gorm:"primary_key" json:"id"`
	FromOrgId         int                   `gorm:"not null;index" json:"from_org_id"`
	ToOrgId           int                   `gorm:"not null;index" json:"to_org_id"`
	QuantityChange    decimal.Decimal       `gorm:"type:decimal(20,4);not null" json:"quantity_change"`
	ReferenceType     MovementReferenceType `gorm:"type:enum('Order','MasterCode','UniqueCode');not null" json:"reference_type"`
	ReferenceId       int                   `gorm:"not null;index" json:"reference_id"`
	ShipmentSessionId *int                  `gorm:"index" json:"shipment_session_id"`
	MovedAt           time.Time             `gorm:"not null" json:"moved_at"`
	CreatedAt         time.Time             `gorm:"autoCreateTime" json:"created_at"`
}

func (StockMovement) TableName() string {
	return "stock_movements"
}

// MovementDedup holds one row per gateway call, keyed by a client-generated
// idempotency key inserted before the stored routine runs. A duplicate-key
// insert means the movement was already applied by an earlier attempt that
// crashed before finishing its confirmation, so the gateway returns the
// recorded summary instead of applying the movement again.
type MovementDedup struct {
	ID              int             `gorm:"primary_key" json:"id"`
	DedupKey        string          `gorm:"size:120;not null;uniqueIndex" json:"dedup_key"`
	SessionId       *int            `gorm:"index" json:"session_id"`
	StockMovementId *int            `json:"stock_movement_id"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (MovementDedup) TableName() string {
	return "wms_movement_dedup"
}

// MovementsForSession lists the ledger rows a confirmed session produced.
func MovementsForSession(ctx context.Context, sessionId int) ([]StockMovement, error) {
	db := config.GetDB()
	var movements []StockMovement
	err := db.WithContext(ctx).
		Where("shipment_session_id = ?", sessionId).
		Order("id").
		Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}

// PurgeMovementDedupBefore deletes dedup rows older than the cutoff. Keys only
// need to outlive the retry window of a crashed confirmation; the cleanup
// command runs this on a schedule.
func PurgeMovementDedupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	db := config.GetDB()
	result := db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&MovementDedup{})
	return result.RowsAffected, result.Error
}
