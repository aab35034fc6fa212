package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"gorm.io/gorm"
)

// UniqueCode is one sellable unit. The stored Code column holds the bare base
// code; scanned strings may carry an appended security-signature segment that
// is matched against SecuritySignature (see codeSecurity.go).
type UniqueCode struct {
	ID                   int         `gorm:"primary_key" json:"id"`
	Code                 string      `gorm:"size:100;not null;uniqueIndex" json:"code" binding:"required"`
	SecuritySignature    *string     `gorm:"size:100" json:"-"`
	Status               CodeStatus  `gorm:"type:enum('ReceivedWarehouse','WarehousePacked','ShippedDistributor','Activated','Redeemed');not null;index" json:"status"`
	MasterCodeId         *int        `gorm:"index" json:"master_code_id"`
	MasterCode           *MasterCode `gorm:"foreignKey:MasterCodeId" json:"master_code,omitempty"`
	OrderId              int         `gorm:"not null;index" json:"order_id"`
	CurrentLocationOrgId int         `gorm:"not null;index" json:"current_location_org_id"`
	ShipmentSessionId    *int        `gorm:"index" json:"shipment_session_id"`
	CreatedAt            time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UniqueCode) TableName() string {
	return "qr_codes"
}

// AfterUpdate mirrors the status-column trigger of the original warehouse
// schema: a code landing on ShippedDistributor outside a shipment confirmation
// records a per-row derived movement. Confirmation sets the suppress flag on
// the statement context before every batch update because it has already
// written one consolidated movement for the same codes; without the flag each
// row here would deduct inventory a second time.
func (code *UniqueCode) AfterUpdate(tx *gorm.DB) error {
	if utils.GetSuppressDerivedMovementFromContext(tx.Statement.Context) {
		return nil
	}
	if code.Status != CodeStatusShippedDistributor {
		return nil
	}
	var order Order
	if err := tx.Session(&gorm.Session{NewDB: true}).
		WithContext(tx.Statement.Context).
		First(&order, code.OrderId).Error; err != nil {
		return err
	}
	gateway := GetMovementGateway()
	_, err := gateway.CreateConsolidatedMovement(tx.Statement.Context, MovementRequest{
		CodeIds:  []int{code.ID},
		FromOrg:  order.FromOrgId,
		ToOrg:    code.CurrentLocationOrgId,
		OrderId:  code.OrderId,
		DedupKey: singleCodeDedupKey(code.ID),
		MovedAt:  time.Now(),
	})
	return err
}

// ResolveScannedCode resolves a scanned string that may carry the extra
// signature segment to its stored row: exact match on the full string first,
// then base-code-only match for codes issued before the signature scheme.
func ResolveScannedCode(ctx context.Context, scanned string) (*UniqueCode, error) {
	db := config.GetDB()
	var code UniqueCode
	err := db.WithContext(ctx).Where("code = ?", scanned).Take(&code).Error
	if err == nil {
		return &code, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	base, _, hasSig := SplitScannedCode(scanned)
	if !hasSig {
		return nil, utils.ErrorRecordNotFound
	}
	err = db.WithContext(ctx).Where("code = ?", base).Take(&code).Error
	if err == gorm.ErrRecordNotFound {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// ResolvedScan pairs a scanned string with its stored row (nil when the scan
// did not resolve) so callers can report unknown scans individually.
type ResolvedScan struct {
	Scanned string
	Code    *UniqueCode
}

// ResolveScannedCodes batch-resolves scanned strings. Exact matches come from
// one IN query; leftovers retry individually through the base-code fallback.
func ResolveScannedCodes(ctx context.Context, scans []string) ([]ResolvedScan, error) {
	db := config.GetDB()
	scans = utils.UniqueSlice(scans)

	var exact []UniqueCode
	if err := db.WithContext(ctx).Where("code IN ?", scans).Find(&exact).Error; err != nil {
		return nil, err
	}
	byCode := make(map[string]*UniqueCode, len(exact))
	for i := range exact {
		byCode[exact[i].Code] = &exact[i]
	}

	results := make([]ResolvedScan, 0, len(scans))
	for _, scanned := range scans {
		if code, ok := byCode[scanned]; ok {
			results = append(results, ResolvedScan{Scanned: scanned, Code: code})
			continue
		}
		code, err := ResolveScannedCode(ctx, scanned)
		if err == utils.ErrorRecordNotFound {
			results = append(results, ResolvedScan{Scanned: scanned})
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, ResolvedScan{Scanned: scanned, Code: code})
	}
	return results, nil
}

// UpdateCodeStatuses batch-updates the given codes to status/custody. The
// suppress flag is applied to the statement context of THIS statement only;
// callers performing several batch updates in one confirmation must pass it
// on every call, matching how the original schema reset its session-scoped
// trigger flag per statement.
func UpdateCodeStatuses(ctx context.Context, tx *gorm.DB, ids []int, status CodeStatus, locationOrgId int, sessionId *int, suppressDerivedMovement bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	stmtCtx := utils.SetSuppressDerivedMovementInContext(ctx, suppressDerivedMovement)
	updates := map[string]interface{}{
		"status":                  status,
		"current_location_org_id": locationOrgId,
	}
	if sessionId != nil {
		updates["shipment_session_id"] = *sessionId
	}
	result := tx.WithContext(stmtCtx).Model(&UniqueCode{}).Where("id IN ?", ids).Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CodesShippedBySession returns the unit codes a prior confirmation of the
// session shipped, backing the AlreadyConfirmed response.
func CodesShippedBySession(ctx context.Context, sessionId int) ([]UniqueCode, error) {
	db := config.GetDB()
	var codes []UniqueCode
	err := db.WithContext(ctx).
		Where("shipment_session_id = ? AND status = ?", sessionId, CodeStatusShippedDistributor).
		Order("id").
		Find(&codes).Error
	if err != nil {
		return nil, err
	}
	return codes, nil
}

func GetUniqueCode(ctx context.Context, id int) (*UniqueCode, error) {
	return utils.FetchModel[UniqueCode](ctx, id, "MasterCode")
}
