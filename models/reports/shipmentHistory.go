package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/models"
	"github.com/xuri/excelize/v2"
)

type ShipmentHistoryRow struct {
	OrderId        int    `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	BuyerName      string `json:"buyer_name"`
	CasesReceived  int    `json:"cases_received"`
	UnitsReceived  int    `json:"units_received"`
	CasesProcessed int    `json:"cases_processed"`
	UnitsProcessed int    `json:"units_processed"`
	CasesShipped   int    `json:"cases_shipped"`
	UnitsShipped   int    `json:"units_shipped"`
	LooseShipped   int    `json:"loose_shipped"`
}

type ShipmentHistoryResponse struct {
	Rows       []*ShipmentHistoryRow `json:"rows"`
	TotalCount int64                 `json:"total_count"`
}

// masterRollup is one (order, master) aggregate from the code tables. The
// status flag and the child counts are the two signals that can disagree
// after a partial confirmation failure; models.MasterFullyShipped reconciles
// them the same way the write path does.
type masterRollup struct {
	OrderId           int
	MasterCodeId      int
	Status            models.MasterCodeStatus
	ActualUnitCount   int
	ExpectedUnitCount int
	TotalChildren     int
	PackedChildren    int
	ShippedChildren   int
}

type looseRollup struct {
	OrderId      int
	TotalUnits   int
	PackedUnits  int
	ShippedUnits int
}

// GetShipmentHistory reconstructs per-order received/processed/shipped
// rollups for one warehouse over a date range. Shipped cases reconcile three
// signals: the master status flag, children individually marked shipped, and
// de-parented unique codes shipped as loose items.
func GetShipmentHistory(ctx context.Context, warehouseId int, fromDate time.Time, toDate time.Time, search string, limit int, offset int) (*ShipmentHistoryResponse, error) {
	if warehouseId == 0 {
		return nil, errors.New("warehouse id is required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	db := config.GetDB()

	orderQuery := db.WithContext(ctx).Model(&models.Order{}).
		Joins("LEFT JOIN organizations buyer ON buyer.id = orders.to_org_id").
		Where("orders.from_org_id = ?", warehouseId).
		Where("orders.order_date BETWEEN ? AND ?", fromDate, toDate)
	if search != "" {
		pattern := "%" + search + "%"
		orderQuery = orderQuery.Where("orders.order_number LIKE ? OR buyer.name LIKE ?", pattern, pattern)
	}

	var totalCount int64
	if err := orderQuery.Count(&totalCount).Error; err != nil {
		return nil, err
	}

	type orderHead struct {
		OrderId     int
		OrderNumber string
		BuyerName   string
	}
	var heads []orderHead
	err := orderQuery.
		Select("orders.id AS order_id, orders.order_number AS order_number, buyer.name AS buyer_name").
		Order("orders.order_date DESC, orders.id DESC").
		Limit(limit).Offset(offset).
		Scan(&heads).Error
	if err != nil {
		return nil, err
	}

	response := ShipmentHistoryResponse{TotalCount: totalCount, Rows: []*ShipmentHistoryRow{}}
	if len(heads) == 0 {
		return &response, nil
	}

	orderIds := make([]int, 0, len(heads))
	rowByOrder := make(map[int]*ShipmentHistoryRow, len(heads))
	for _, head := range heads {
		row := &ShipmentHistoryRow{
			OrderId:     head.OrderId,
			OrderNumber: head.OrderNumber,
			BuyerName:   head.BuyerName,
		}
		orderIds = append(orderIds, head.OrderId)
		rowByOrder[head.OrderId] = row
		response.Rows = append(response.Rows, row)
	}

	var masterRollups []masterRollup
	err = db.WithContext(ctx).Raw(`
SELECT
    qc.order_id AS order_id,
    qc.master_code_id AS master_code_id,
    mc.status AS status,
    mc.actual_unit_count AS actual_unit_count,
    mc.expected_unit_count AS expected_unit_count,
    COUNT(*) AS total_children,
    SUM(CASE WHEN qc.status = ? THEN 1 ELSE 0 END) AS packed_children,
    SUM(CASE WHEN qc.status IN ? THEN 1 ELSE 0 END) AS shipped_children
FROM qr_codes qc
    JOIN qr_master_codes mc ON mc.id = qc.master_code_id
WHERE qc.order_id IN ?
GROUP BY qc.order_id, qc.master_code_id, mc.status, mc.actual_unit_count, mc.expected_unit_count`,
		models.CodeStatusWarehousePacked,
		[]models.CodeStatus{models.CodeStatusShippedDistributor, models.CodeStatusActivated, models.CodeStatusRedeemed},
		orderIds).
		Scan(&masterRollups).Error
	if err != nil {
		return nil, err
	}

	var looseRollups []looseRollup
	err = db.WithContext(ctx).Raw(`
SELECT
    order_id AS order_id,
    COUNT(*) AS total_units,
    SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS packed_units,
    SUM(CASE WHEN status IN ? THEN 1 ELSE 0 END) AS shipped_units
FROM qr_codes
WHERE order_id IN ? AND master_code_id IS NULL
GROUP BY order_id`,
		models.CodeStatusWarehousePacked,
		[]models.CodeStatus{models.CodeStatusShippedDistributor, models.CodeStatusActivated, models.CodeStatusRedeemed},
		orderIds).
		Scan(&looseRollups).Error
	if err != nil {
		return nil, err
	}

	for _, agg := range masterRollups {
		row, ok := rowByOrder[agg.OrderId]
		if !ok {
			continue
		}
		unitCount := agg.ActualUnitCount
		if unitCount == 0 {
			unitCount = agg.ExpectedUnitCount
		}

		row.CasesReceived++
		row.UnitsReceived += agg.TotalChildren
		row.UnitsProcessed += agg.PackedChildren + agg.ShippedChildren
		row.UnitsShipped += agg.ShippedChildren

		if agg.PackedChildren+agg.ShippedChildren >= unitCount && unitCount > 0 {
			row.CasesProcessed++
		} else if agg.Status.Stage() >= models.MasterCodeStatusWarehousePacked.Stage() {
			row.CasesProcessed++
		}
		if models.MasterFullyShipped(agg.Status, agg.ShippedChildren, unitCount) {
			row.CasesShipped++
		}
	}

	for _, agg := range looseRollups {
		row, ok := rowByOrder[agg.OrderId]
		if !ok {
			continue
		}
		row.UnitsReceived += agg.TotalUnits
		row.UnitsProcessed += agg.PackedUnits + agg.ShippedUnits
		row.UnitsShipped += agg.ShippedUnits
		row.LooseShipped += agg.ShippedUnits
	}

	return &response, nil
}

var shipmentHistoryHeaders = []string{
	"OrderNumber", "Buyer",
	"CasesReceived", "UnitsReceived",
	"CasesProcessed", "UnitsProcessed",
	"CasesShipped", "UnitsShipped", "LooseShipped",
}

// ExportShipmentHistoryXLSX renders the same rollups as an xlsx workbook.
func ExportShipmentHistoryXLSX(ctx context.Context, warehouseId int, fromDate time.Time, toDate time.Time, search string) (*bytes.Buffer, error) {
	report, err := GetShipmentHistory(ctx, warehouseId, fromDate, toDate, search, 200, 0)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := "ShipmentHistory"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	for col, header := range shipmentHistoryHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		f.SetCellValue(sheet, cell, header)
	}

	for i, row := range report.Rows {
		values := []interface{}{
			row.OrderNumber, row.BuyerName,
			row.CasesReceived, row.UnitsReceived,
			row.CasesProcessed, row.UnitsProcessed,
			row.CasesShipped, row.UnitsShipped, row.LooseShipped,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			f.SetCellValue(sheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return &buf, nil
}
