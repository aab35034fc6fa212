package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MovementRequest asks the gateway for one consolidated ledger movement
// covering every code id in the list. DedupKey is the client-generated
// idempotency key for the call: the gateway inserts it before invoking the
// stored routine, so a crashed confirmation retried later finds the key and
// gets the prior summary back instead of a second movement.
type MovementRequest struct {
	CodeIds   []int
	FromOrg   int
	ToOrg     int
	OrderId   int
	SessionId *int
	DedupKey  string
	MovedAt   time.Time
}

// CaseMovementRequest asks for a case-level movement covering the units of
// one master code that were not already moved individually.
type CaseMovementRequest struct {
	MasterCodeId int
	Quantity     int
	FromOrg      int
	ToOrg        int
	OrderId      int
	SessionId    *int
	DedupKey     string
	MovedAt      time.Time
}

// MovementSummary reports what one gateway call moved. Replayed is true when
// the dedup key matched an earlier call and nothing new was applied.
type MovementSummary struct {
	StockMovementId int             `json:"stock_movement_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	FromOrg         int             `json:"from_org"`
	ToOrg           int             `json:"to_org"`
	Replayed        bool            `json:"replayed"`
}

// MovementGateway is the call contract to the movement ledger. The stored
// routine behind it performs the row-level on-hand mutation; tests swap in a
// fake through SetMovementGateway.
type MovementGateway interface {
	CreateConsolidatedMovement(ctx context.Context, req MovementRequest) (*MovementSummary, error)
	CreateCaseMovement(ctx context.Context, req CaseMovementRequest) (*MovementSummary, error)
}

var movementGateway MovementGateway = &storedProcGateway{}

func GetMovementGateway() MovementGateway {
	return movementGateway
}

func SetMovementGateway(gateway MovementGateway) {
	movementGateway = gateway
}

// Dedup key shapes. One consolidated key per (session, order, from, to)
// triple, one per explicitly moved case, one per legacy single-code ship.
func sessionUnitsDedupKey(sessionId int, orderId int, fromOrg int, toOrg int) string {
	return fmt.Sprintf("sess:%d:units:%d:%d:%d", sessionId, orderId, fromOrg, toOrg)
}

func sessionCaseDedupKey(sessionId int, masterCodeId int) string {
	return fmt.Sprintf("sess:%d:case:%d", sessionId, masterCodeId)
}

func singleCodeDedupKey(codeId int) string {
	return fmt.Sprintf("code:%d:ship", codeId)
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// storedProcGateway writes the dedup row, the ledger row and the stored
// routine call in one DB transaction, so "key exists" always implies "movement
// applied".
type storedProcGateway struct{}

func (g *storedProcGateway) CreateConsolidatedMovement(ctx context.Context, req MovementRequest) (*MovementSummary, error) {
	if len(req.CodeIds) == 0 {
		return nil, errors.New("no codes to move")
	}
	quantity := decimal.NewFromInt(int64(len(req.CodeIds)))
	return g.apply(ctx, req.DedupKey, req.SessionId, quantity,
		req.FromOrg, req.ToOrg, MovementReferenceTypeOrder, req.OrderId, req.MovedAt)
}

func (g *storedProcGateway) CreateCaseMovement(ctx context.Context, req CaseMovementRequest) (*MovementSummary, error) {
	if req.Quantity <= 0 {
		return nil, errors.New("case movement quantity must be positive")
	}
	quantity := decimal.NewFromInt(int64(req.Quantity))
	return g.apply(ctx, req.DedupKey, req.SessionId, quantity,
		req.FromOrg, req.ToOrg, MovementReferenceTypeMasterCode, req.MasterCodeId, req.MovedAt)
}

func (g *storedProcGateway) apply(ctx context.Context, dedupKey string, sessionId *int, quantity decimal.Decimal,
	fromOrg int, toOrg int, refType MovementReferenceType, refId int, movedAt time.Time) (*MovementSummary, error) {

	db := config.GetDB()
	logger := config.GetLogger()

	var summary *MovementSummary
	txErr := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dedup := MovementDedup{
			DedupKey:  dedupKey,
			SessionId: sessionId,
			Quantity:  quantity,
		}
		if err := tx.Create(&dedup).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return errMovementReplayed
			}
			return err
		}

		movement := StockMovement{
			FromOrgId:         fromOrg,
			ToOrgId:           toOrg,
			QuantityChange:    quantity.Neg(),
			ReferenceType:     refType,
			ReferenceId:       refId,
			ShipmentSessionId: sessionId,
			MovedAt:           movedAt,
		}
		if err := tx.Create(&movement).Error; err != nil {
			return err
		}
		if err := tx.Model(&MovementDedup{}).
			Where("id = ?", dedup.ID).
			Update("stock_movement_id", movement.ID).Error; err != nil {
			return err
		}

		// The stored routine decrements on-hand at fromOrg and increments at
		// toOrg for the ledger row just written.
		call := fmt.Sprintf("CALL %s(?, ?, ?, ?)", config.MovementProcName())
		if err := tx.Exec(call, movement.ID, fromOrg, toOrg, quantity).Error; err != nil {
			return err
		}

		summary = &MovementSummary{
			StockMovementId: movement.ID,
			Quantity:        quantity,
			FromOrg:         fromOrg,
			ToOrg:           toOrg,
		}
		return nil
	})

	if txErr == errMovementReplayed {
		replayed, err := g.replaySummary(ctx, dedupKey)
		if err != nil {
			return nil, err
		}
		config.LogError(logger, "movementGateway", "apply",
			"Dedup key already applied, returning prior summary", dedupKey, nil)
		return replayed, nil
	}
	if txErr != nil {
		return nil, txErr
	}
	return summary, nil
}

var errMovementReplayed = errors.New("movement already applied for dedup key")

func (g *storedProcGateway) replaySummary(ctx context.Context, dedupKey string) (*MovementSummary, error) {
	db := config.GetDB()
	var dedup MovementDedup
	if err := db.WithContext(ctx).Where("dedup_key = ?", dedupKey).Take(&dedup).Error; err != nil {
		return nil, err
	}
	summary := MovementSummary{
		Quantity: dedup.Quantity,
		Replayed: true,
	}
	if dedup.StockMovementId != nil {
		var movement StockMovement
		if err := db.WithContext(ctx).First(&movement, *dedup.StockMovementId).Error; err == nil {
			summary.StockMovementId = movement.ID
			summary.FromOrg = movement.FromOrgId
			summary.ToOrg = movement.ToOrgId
		}
	}
	return &summary, nil
}
