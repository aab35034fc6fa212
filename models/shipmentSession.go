package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"gorm.io/gorm"
)

// ShipmentSession is one physical handover event: the set of case and unit
// codes an operator scanned for an outbound shipment. A session is consumed
// exactly once; Approved is terminal.
type ShipmentSession struct {
	ID               int                   `gorm:"primary_key" json:"id"`
	WarehouseOrgId   *int                  `gorm:"index" json:"warehouse_org_id"`
	DistributorOrgId *int                  `gorm:"index" json:"distributor_org_id"`
	OrderId          *int                  `gorm:"index" json:"order_id"`
	ValidationStatus ValidationStatus      `gorm:"type:enum('Pending','Matched','Discrepancy','Approved');not null;default:'Pending';index" json:"validation_status"`
	ApprovedBy       *int                  `json:"approved_by"`
	ApprovedAt       *time.Time            `json:"approved_at"`
	CasesShipped     int                   `gorm:"not null;default:0" json:"cases_shipped"`
	UnitsShipped     int                   `gorm:"not null;default:0" json:"units_shipped"`
	Scans            []ShipmentSessionScan `gorm:"foreignKey:SessionId" json:"scans"`
	CreatedAt        time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ShipmentSession) TableName() string {
	return "shipment_sessions"
}

type ShipmentSessionScan struct {
	ID        int       `gorm:"primary_key" json:"id"`
	SessionId int       `gorm:"not null;index" json:"session_id"`
	Scanned   string    `gorm:"size:120;not null" json:"scanned"`
	ScanType  ScanType  `gorm:"type:enum('Master','Unique');not null" json:"scan_type"`
	ScannedAt time.Time `gorm:"autoCreateTime" json:"scanned_at"`
}

func (ShipmentSessionScan) TableName() string {
	return "shipment_session_scans"
}

// ScannedStrings splits the session's scans into the master-code list and the
// unique-code list.
func (session *ShipmentSession) ScannedStrings() (masters []string, uniques []string) {
	for _, scan := range session.Scans {
		switch scan.ScanType {
		case ScanTypeMaster:
			masters = append(masters, scan.Scanned)
		case ScanTypeUnique:
			uniques = append(uniques, scan.Scanned)
		}
	}
	return masters, uniques
}

func GetShipmentSession(ctx context.Context, id int) (*ShipmentSession, error) {
	return utils.FetchModel[ShipmentSession](ctx, id, "Scans")
}

type NewShipmentSession struct {
	WarehouseOrgId   *int     `json:"warehouse_org_id"`
	DistributorOrgId *int     `json:"distributor_org_id"`
	OrderId          *int     `json:"order_id"`
	MasterCodes      []string `json:"master_codes"`
	UniqueCodes      []string `json:"unique_codes"`
}

// CreateShipmentSession records a scan session started by a warehouse
// operator. Validation against stored records happens at confirmation time.
func CreateShipmentSession(ctx context.Context, input *NewShipmentSession) (*ShipmentSession, error) {
	session := ShipmentSession{
		WarehouseOrgId:   input.WarehouseOrgId,
		DistributorOrgId: input.DistributorOrgId,
		OrderId:          input.OrderId,
		ValidationStatus: ValidationStatusPending,
	}
	for _, scanned := range utils.UniqueSlice(input.MasterCodes) {
		session.Scans = append(session.Scans, ShipmentSessionScan{Scanned: scanned, ScanType: ScanTypeMaster})
	}
	for _, scanned := range utils.UniqueSlice(input.UniqueCodes) {
		session.Scans = append(session.Scans, ShipmentSessionScan{Scanned: scanned, ScanType: ScanTypeUnique})
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// TransitionSessionStatus is the compare-and-swap guard on the session
// lifecycle: the UPDATE succeeds only while validation_status is still in the
// allowed set, so a concurrent caller that loses the race sees zero rows
// affected and must re-read the session.
func TransitionSessionStatus(ctx context.Context, tx *gorm.DB, sessionId int, from []ValidationStatus, to ValidationStatus, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["validation_status"] = to
	result := tx.WithContext(ctx).Model(&ShipmentSession{}).
		Where("id = ? AND validation_status IN ?", sessionId, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
