package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"gorm.io/gorm"
)

// MasterCode is a case-level container for a fixed expected count of unit
// codes. ActualUnitCount is what intake counted and is the authoritative unit
// count once set; ExpectedUnitCount is what the packaging line declared.
type MasterCode struct {
	ID                     int              `gorm:"primary_key" json:"id"`
	Code                   string           `gorm:"size:100;not null;uniqueIndex" json:"code" binding:"required"`
	SecuritySignature      *string          `gorm:"size:100" json:"-"`
	Status                 MasterCodeStatus `gorm:"type:enum('ReceivedWarehouse','WarehousePacked','ShippedDistributor','Opened','Activated','Redeemed');not null;index" json:"status"`
	WarehouseOrgId         int              `gorm:"not null;index" json:"warehouse_org_id"`
	ShippedToDistributorId *int             `gorm:"index" json:"shipped_to_distributor_id"`
	ExpectedUnitCount      int              `gorm:"not null" json:"expected_unit_count"`
	ActualUnitCount        int              `gorm:"not null;default:0" json:"actual_unit_count"`
	ShipmentOrderId        *int             `gorm:"index" json:"shipment_order_id"`
	CreatedAt              time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MasterCode) TableName() string {
	return "qr_master_codes"
}

// UnitCount is the authoritative number of units in the case.
func (master *MasterCode) UnitCount() int {
	if master.ActualUnitCount > 0 {
		return master.ActualUnitCount
	}
	return master.ExpectedUnitCount
}

// MasterFullyShipped is the single fully-shipped predicate shared by the
// confirmation write path and the history read path: a case counts as shipped
// when its own status says so OR enough children are individually shipped.
// The two signals can disagree after a partial failure; either one suffices.
func MasterFullyShipped(status MasterCodeStatus, shippedChildren int, unitCount int) bool {
	if status == MasterCodeStatusShippedDistributor {
		return true
	}
	return unitCount > 0 && shippedChildren >= unitCount
}

// ChildCounts holds per-master child tallies for one query round trip.
type ChildCounts struct {
	MasterCodeId    int `json:"master_code_id"`
	TotalChildren   int `json:"total_children"`
	ShippedChildren int `json:"shipped_children"`
	PackedChildren  int `json:"packed_children"`
}

// MasterChildCounts tallies children per master in one grouped query.
func MasterChildCounts(ctx context.Context, tx *gorm.DB, masterIds []int) (map[int]ChildCounts, error) {
	counts := make(map[int]ChildCounts, len(masterIds))
	if len(masterIds) == 0 {
		return counts, nil
	}
	var rows []ChildCounts
	err := tx.WithContext(ctx).Model(&UniqueCode{}).
		Select("master_code_id AS master_code_id,"+
			" COUNT(*) AS total_children,"+
			" SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS shipped_children,"+
			" SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS packed_children",
			CodeStatusShippedDistributor, CodeStatusWarehousePacked).
		Where("master_code_id IN ?", masterIds).
		Group("master_code_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.MasterCodeId] = row
	}
	return counts, nil
}

// PackedChildIds returns the ids of a master's children still eligible for
// shipment.
func PackedChildIds(ctx context.Context, tx *gorm.DB, masterId int) ([]int, error) {
	var ids []int
	err := tx.WithContext(ctx).Model(&UniqueCode{}).
		Where("master_code_id = ? AND status = ?", masterId, CodeStatusWarehousePacked).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ResolveScannedMasterCode mirrors ResolveScannedCode for case barcodes.
func ResolveScannedMasterCode(ctx context.Context, scanned string) (*MasterCode, error) {
	db := config.GetDB()
	var master MasterCode
	err := db.WithContext(ctx).Where("code = ?", scanned).Take(&master).Error
	if err == nil {
		return &master, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	base, _, hasSig := SplitScannedCode(scanned)
	if !hasSig {
		return nil, utils.ErrorRecordNotFound
	}
	err = db.WithContext(ctx).Where("code = ?", base).Take(&master).Error
	if err == gorm.ErrRecordNotFound {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &master, nil
}

// PromoteMasterShipped sets a master's own status to shipped and records the
// receiving distributor. Idempotent: an already-shipped row is left alone.
func PromoteMasterShipped(ctx context.Context, tx *gorm.DB, masterId int, distributorOrgId int, orderId *int) error {
	updates := map[string]interface{}{
		"status":                    MasterCodeStatusShippedDistributor,
		"shipped_to_distributor_id": distributorOrgId,
	}
	if orderId != nil {
		updates["shipment_order_id"] = *orderId
	}
	return tx.WithContext(ctx).Model(&MasterCode{}).
		Where("id = ? AND status <> ?", masterId, MasterCodeStatusShippedDistributor).
		Updates(updates).Error
}

func GetMasterCode(ctx context.Context, id int) (*MasterCode, error) {
	return utils.FetchModel[MasterCode](ctx, id)
}
