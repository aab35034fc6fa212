package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ShipmentResult is what one confirmation shipped.
type ShipmentResult struct {
	SessionId       int               `json:"session_id"`
	CasesShipped    int               `json:"cases_shipped"`
	UnitsShipped    int               `json:"units_shipped"`
	ShippedCodeIds  []int             `json:"shipped_code_ids"`
	SkippedCodeIds  []int             `json:"skipped_code_ids"`
	RejectedScans   []string          `json:"rejected_scans"`
	Movements       []MovementSummary `json:"movements"`
	PartialFailures []string          `json:"partial_failures,omitempty"`
	ApprovedBy      int               `json:"approved_by"`
	ApprovedAt      time.Time         `json:"approved_at"`
}

// ConfirmationStore is the persistence surface the confirmer needs. The
// default implementation runs on GORM; tests swap in an in-memory fake.
type ConfirmationStore interface {
	GetSession(ctx context.Context, id int) (*ShipmentSession, error)
	ShippedCodeIds(ctx context.Context, sessionId int) ([]int, error)
	ResolveUniqueScans(ctx context.Context, scans []string) ([]ResolvedScan, error)
	ResolveMasterScan(ctx context.Context, scanned string) (*MasterCode, error)
	ShipCodes(ctx context.Context, ids []int, toOrg int, sessionId int) (int64, error)
	MasterChildCounts(ctx context.Context, masterIds []int) (map[int]ChildCounts, error)
	MastersByIds(ctx context.Context, ids []int) (map[int]*MasterCode, error)
	PackedChildIds(ctx context.Context, masterId int) ([]int, error)
	PromoteMaster(ctx context.Context, masterId int, distributorOrgId int, orderId *int) error
	ApproveSession(ctx context.Context, session *ShipmentSession, actorId int, at time.Time, result *ShipmentResult) (bool, error)
}

// ShipmentConfirmer consumes one shipment session: it resolves the scanned
// codes, writes exactly one consolidated movement for the loose units plus
// one case movement per partially scanned case, ships the code rows with the
// derived-movement hook suppressed, promotes fully shipped cases, and
// finalizes the session. The movement calls happen before any status
// mutation; once the first movement commits the operation is logically
// committed and later step failures degrade to PartialReconciliation instead
// of rolling back.
type ShipmentConfirmer struct {
	Store   ConfirmationStore
	Gateway MovementGateway
	Logger  *logrus.Logger
	Lock    func(ctx context.Context, sessionId int) (func(), error)
	Now     func() time.Time
}

func NewShipmentConfirmer() *ShipmentConfirmer {
	return &ShipmentConfirmer{
		Store:   &dbConfirmationStore{},
		Gateway: GetMovementGateway(),
		Logger:  config.GetLogger(),
		Lock: func(ctx context.Context, sessionId int) (func(), error) {
			return utils.SessionLock(ctx, sessionId, "shipmentConfirmation", "ConfirmShipment")
		},
		Now: time.Now,
	}
}

// ConfirmShipment consumes the session identified by sessionId on behalf of
// actorId. A session is consumed exactly once: a repeat call gets
// AlreadyConfirmedError carrying the prior result.
func ConfirmShipment(ctx context.Context, sessionId int, actorId int) (*ShipmentResult, error) {
	return NewShipmentConfirmer().ConfirmShipment(ctx, sessionId, actorId)
}

func (c *ShipmentConfirmer) ConfirmShipment(ctx context.Context, sessionId int, actorId int) (*ShipmentResult, error) {
	moduleName := "shipmentConfirmation"
	functionName := "ConfirmShipment"

	if c.Lock != nil {
		release, err := c.Lock(ctx, sessionId)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	session, err := c.Store.GetSession(ctx, sessionId)
	if err == utils.ErrorRecordNotFound {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	if session.ValidationStatus == ValidationStatusApproved {
		return nil, c.alreadyConfirmed(ctx, session)
	}
	if !session.ValidationStatus.IsConfirmable() {
		return nil, &InvalidStateError{SessionId: session.ID, Status: session.ValidationStatus}
	}

	masterScans, uniqueScans := session.ScannedStrings()
	allowLegacy := config.AllowLegacyCodesForShipment()
	now := c.Now()

	result := &ShipmentResult{SessionId: session.ID}

	// Resolve scanned unit codes. Unknown and tampered scans are rejected per
	// scan; rows outside WarehousePacked are stale (most often shipped by an
	// earlier attempt) and are filtered, not errored.
	var eligible []*UniqueCode
	if len(uniqueScans) > 0 {
		resolved, err := c.Store.ResolveUniqueScans(ctx, uniqueScans)
		if err != nil {
			return nil, err
		}
		for _, scan := range resolved {
			if scan.Code == nil {
				result.RejectedScans = append(result.RejectedScans, scan.Scanned)
				continue
			}
			if ok, reason := ValidateCode(scan.Scanned, scan.Code.SecuritySignature, allowLegacy); !ok {
				config.LogError(c.Logger, moduleName, functionName,
					"Rejected scanned code", scan.Scanned, errors.New(reason))
				result.RejectedScans = append(result.RejectedScans, scan.Scanned)
				continue
			}
			if scan.Code.Status != CodeStatusWarehousePacked {
				result.SkippedCodeIds = append(result.SkippedCodeIds, scan.Code.ID)
				continue
			}
			eligible = append(eligible, scan.Code)
		}
	}

	// Resolve scanned case codes. An already-shipped case is a repeat scan and
	// is skipped the same way stale units are, but counted: it may be the
	// residue of a crashed confirmation of this same session.
	var explicitMasters []*MasterCode
	seenMasters := map[int]bool{}
	shippedMasters := 0
	for _, scanned := range masterScans {
		master, err := c.Store.ResolveMasterScan(ctx, scanned)
		if err == utils.ErrorRecordNotFound {
			result.RejectedScans = append(result.RejectedScans, scanned)
			continue
		}
		if err != nil {
			return nil, err
		}
		if ok, reason := ValidateCode(scanned, master.SecuritySignature, allowLegacy); !ok {
			config.LogError(c.Logger, moduleName, functionName,
				"Rejected scanned case code", scanned, errors.New(reason))
			result.RejectedScans = append(result.RejectedScans, scanned)
			continue
		}
		if seenMasters[master.ID] {
			continue
		}
		seenMasters[master.ID] = true
		if master.Status == MasterCodeStatusShippedDistributor {
			shippedMasters++
			continue
		}
		explicitMasters = append(explicitMasters, master)
	}

	if len(eligible) == 0 && len(explicitMasters) == 0 {
		// Nothing left to ship. If codes already carry this session id, an
		// earlier attempt moved and shipped them but died before approval;
		// resume straight to the approval step instead of erroring.
		shippedBefore, shippedErr := c.Store.ShippedCodeIds(ctx, session.ID)
		if shippedErr != nil {
			return nil, shippedErr
		}
		if len(shippedBefore) == 0 {
			return nil, &InvalidRequestError{Reason: "no shippable codes resolved for this session"}
		}
		result.ShippedCodeIds = shippedBefore
		result.UnitsShipped = len(shippedBefore)
		result.CasesShipped = shippedMasters
		result.ApprovedBy = actorId
		result.ApprovedAt = now
		swapped, approveErr := c.Store.ApproveSession(ctx, session, actorId, now, result)
		if approveErr != nil {
			return nil, approveErr
		}
		if !swapped {
			fresh, freshErr := c.Store.GetSession(ctx, session.ID)
			if freshErr != nil {
				return nil, freshErr
			}
			return nil, c.alreadyConfirmed(ctx, fresh)
		}
		return result, nil
	}

	fromOrg, toOrg, orderId, err := c.resolveEndpoints(session, eligible, explicitMasters)
	if err != nil {
		return nil, err
	}

	if config.DebugShipmentConfirmation() {
		c.Logger.WithFields(logrus.Fields{
			"session_id":       session.ID,
			"eligible_units":   len(eligible),
			"explicit_masters": len(explicitMasters),
			"from_org":         fromOrg,
			"to_org":           toOrg,
			"order_id":         orderId,
		}).Info("confirming shipment session")
	}

	// One consolidated movement for every eligible unit, before any status
	// mutation. A failure here leaves the session untouched and retryable.
	eligibleIds := make([]int, 0, len(eligible))
	for _, code := range eligible {
		eligibleIds = append(eligibleIds, code.ID)
	}
	if len(eligibleIds) > 0 {
		summary, err := c.Gateway.CreateConsolidatedMovement(ctx, MovementRequest{
			CodeIds:   eligibleIds,
			FromOrg:   fromOrg,
			ToOrg:     toOrg,
			OrderId:   orderId,
			SessionId: &session.ID,
			DedupKey:  sessionUnitsDedupKey(session.ID, orderId, fromOrg, toOrg),
			MovedAt:   now,
		})
		if err != nil {
			return nil, &GatewayFailureError{Err: err}
		}
		result.Movements = append(result.Movements, *summary)
	}

	// Point of no return once a movement exists: later failures are recorded
	// and reported, never rolled back.
	var partialFailures []string
	note := func(step string, err error) {
		config.LogError(c.Logger, moduleName, functionName, "Post-movement step failed: "+step, session.ID, err)
		partialFailures = append(partialFailures, fmt.Sprintf("%s: %v", step, err))
	}

	if len(eligibleIds) > 0 {
		if _, err := c.Store.ShipCodes(ctx, eligibleIds, toOrg, session.ID); err != nil {
			note("ship scanned units", err)
		} else {
			result.ShippedCodeIds = append(result.ShippedCodeIds, eligibleIds...)
		}
	}

	// Promote parents of individually scanned units that are now fully
	// shipped, once per master.
	promoted := map[int]bool{}
	parentIds := parentMasterIds(eligible)
	if len(parentIds) > 0 {
		counts, countErr := c.Store.MasterChildCounts(ctx, parentIds)
		masters, mastersErr := c.Store.MastersByIds(ctx, parentIds)
		if countErr != nil {
			note("count case children", countErr)
		} else if mastersErr != nil {
			note("load parent cases", mastersErr)
		} else {
			for _, id := range parentIds {
				master, ok := masters[id]
				if !ok || promoted[id] {
					continue
				}
				if !MasterFullyShipped(master.Status, counts[id].ShippedChildren, master.UnitCount()) {
					continue
				}
				if err := c.Store.PromoteMaster(ctx, id, toOrg, session.OrderId); err != nil {
					note(fmt.Sprintf("promote case %d", id), err)
					continue
				}
				promoted[id] = true
				result.CasesShipped++
			}
		}
	}

	// Explicitly scanned cases. When every child has already shipped (either
	// before this session or through the consolidated movement above) the
	// quantity is already deducted, so only the case status moves. Otherwise
	// one case-level movement covers the remaining children, preventing a
	// second deduction for the units scanned individually in the same session.
	// The consolidated movement already deducted every eligible unit, so those
	// ids are excluded here even when their status update failed and left them
	// looking packed.
	coveredByConsolidated := make(map[int]bool, len(eligibleIds))
	for _, id := range eligibleIds {
		coveredByConsolidated[id] = true
	}
	for _, master := range explicitMasters {
		if promoted[master.ID] {
			continue
		}
		allPackedIds, err := c.Store.PackedChildIds(ctx, master.ID)
		if err != nil {
			note(fmt.Sprintf("load children of case %d", master.ID), err)
			continue
		}
		packedIds := make([]int, 0, len(allPackedIds))
		for _, id := range allPackedIds {
			if coveredByConsolidated[id] {
				continue
			}
			packedIds = append(packedIds, id)
		}
		if len(packedIds) > 0 {
			summary, err := c.Gateway.CreateCaseMovement(ctx, CaseMovementRequest{
				MasterCodeId: master.ID,
				Quantity:     len(packedIds),
				FromOrg:      fromOrg,
				ToOrg:        toOrg,
				OrderId:      orderId,
				SessionId:    &session.ID,
				DedupKey:     sessionCaseDedupKey(session.ID, master.ID),
				MovedAt:      now,
			})
			if err != nil {
				if len(result.Movements) == 0 {
					// Nothing committed yet, the whole call is still retryable.
					return nil, &GatewayFailureError{Err: err}
				}
				note(fmt.Sprintf("case movement for %d", master.ID), err)
				continue
			}
			result.Movements = append(result.Movements, *summary)
			if _, err := c.Store.ShipCodes(ctx, packedIds, toOrg, session.ID); err != nil {
				note(fmt.Sprintf("ship children of case %d", master.ID), err)
			} else {
				result.ShippedCodeIds = append(result.ShippedCodeIds, packedIds...)
			}
		}
		if err := c.Store.PromoteMaster(ctx, master.ID, toOrg, session.OrderId); err != nil {
			note(fmt.Sprintf("promote case %d", master.ID), err)
			continue
		}
		promoted[master.ID] = true
		result.CasesShipped++
	}

	result.UnitsShipped = len(result.ShippedCodeIds)
	result.ApprovedBy = actorId
	result.ApprovedAt = now
	result.PartialFailures = partialFailures

	swapped, err := c.Store.ApproveSession(ctx, session, actorId, now, result)
	if err != nil {
		note("approve session", err)
	} else if !swapped {
		// A concurrent caller finalized the session first; its result stands.
		fresh, freshErr := c.Store.GetSession(ctx, session.ID)
		if freshErr == nil {
			return nil, c.alreadyConfirmed(ctx, fresh)
		}
		note("approve session", fmt.Errorf("lost approval race and re-read failed: %v", freshErr))
	}

	if len(partialFailures) > 0 {
		return nil, &PartialReconciliationError{
			SessionId: session.ID,
			Step:      partialFailures[0],
			Err:       fmt.Errorf("%d post-movement step(s) failed", len(partialFailures)),
			Result:    result,
		}
	}
	return result, nil
}

func (c *ShipmentConfirmer) alreadyConfirmed(ctx context.Context, session *ShipmentSession) error {
	shippedIds, err := c.Store.ShippedCodeIds(ctx, session.ID)
	if err != nil {
		config.LogError(c.Logger, "shipmentConfirmation", "alreadyConfirmed",
			"Could not load previously shipped codes", session.ID, err)
	}
	return &AlreadyConfirmedError{
		SessionId:      session.ID,
		ApprovedBy:     session.ApprovedBy,
		ApprovedAt:     session.ApprovedAt,
		ShippedCodeIds: shippedIds,
		CasesShipped:   session.CasesShipped,
		UnitsShipped:   session.UnitsShipped,
	}
}

// resolveEndpoints picks warehouse, distributor and order: session fields
// first, the resolved codes' stored custody and linkage as fallback.
func (c *ShipmentConfirmer) resolveEndpoints(session *ShipmentSession, eligible []*UniqueCode, explicitMasters []*MasterCode) (fromOrg int, toOrg int, orderId int, err error) {
	fromOrg = utils.DereferencePtr(session.WarehouseOrgId)
	toOrg = utils.DereferencePtr(session.DistributorOrgId)
	orderId = utils.DereferencePtr(session.OrderId)

	if fromOrg == 0 && len(eligible) > 0 {
		fromOrg = eligible[0].CurrentLocationOrgId
	}
	if fromOrg == 0 && len(explicitMasters) > 0 {
		fromOrg = explicitMasters[0].WarehouseOrgId
	}
	if toOrg == 0 && len(explicitMasters) > 0 {
		toOrg = utils.DereferencePtr(explicitMasters[0].ShippedToDistributorId)
	}
	if orderId == 0 && len(eligible) > 0 {
		orderId = eligible[0].OrderId
	}
	if orderId == 0 && len(explicitMasters) > 0 {
		orderId = utils.DereferencePtr(explicitMasters[0].ShipmentOrderId)
	}

	if fromOrg == 0 || toOrg == 0 {
		return 0, 0, 0, &InvalidRequestError{Reason: "warehouse and distributor organizations are required"}
	}
	if fromOrg == toOrg {
		return 0, 0, 0, &InvalidRequestError{Reason: "warehouse and distributor must be different organizations"}
	}
	if orderId == 0 {
		return 0, 0, 0, &InvalidRequestError{Reason: "no order is linked to the scanned codes"}
	}
	return fromOrg, toOrg, orderId, nil
}

func parentMasterIds(codes []*UniqueCode) []int {
	var ids []int
	seen := map[int]bool{}
	for _, code := range codes {
		if code.MasterCodeId == nil || seen[*code.MasterCodeId] {
			continue
		}
		seen[*code.MasterCodeId] = true
		ids = append(ids, *code.MasterCodeId)
	}
	return ids
}

// dbConfirmationStore is the GORM-backed ConfirmationStore.
type dbConfirmationStore struct{}

func (s *dbConfirmationStore) GetSession(ctx context.Context, id int) (*ShipmentSession, error) {
	return GetShipmentSession(ctx, id)
}

func (s *dbConfirmationStore) ShippedCodeIds(ctx context.Context, sessionId int) ([]int, error) {
	codes, err := CodesShippedBySession(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(codes))
	for _, code := range codes {
		ids = append(ids, code.ID)
	}
	return ids, nil
}

func (s *dbConfirmationStore) ResolveUniqueScans(ctx context.Context, scans []string) ([]ResolvedScan, error) {
	return ResolveScannedCodes(ctx, scans)
}

func (s *dbConfirmationStore) ResolveMasterScan(ctx context.Context, scanned string) (*MasterCode, error) {
	return ResolveScannedMasterCode(ctx, scanned)
}

func (s *dbConfirmationStore) ShipCodes(ctx context.Context, ids []int, toOrg int, sessionId int) (int64, error) {
	db := config.GetDB()
	return UpdateCodeStatuses(ctx, db, ids, CodeStatusShippedDistributor, toOrg, &sessionId, true)
}

func (s *dbConfirmationStore) MasterChildCounts(ctx context.Context, masterIds []int) (map[int]ChildCounts, error) {
	return MasterChildCounts(ctx, config.GetDB(), masterIds)
}

func (s *dbConfirmationStore) MastersByIds(ctx context.Context, ids []int) (map[int]*MasterCode, error) {
	db := config.GetDB()
	var rows []MasterCode
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	masters := make(map[int]*MasterCode, len(rows))
	for i := range rows {
		masters[rows[i].ID] = &rows[i]
	}
	return masters, nil
}

func (s *dbConfirmationStore) PackedChildIds(ctx context.Context, masterId int) ([]int, error) {
	return PackedChildIds(ctx, config.GetDB(), masterId)
}

func (s *dbConfirmationStore) PromoteMaster(ctx context.Context, masterId int, distributorOrgId int, orderId *int) error {
	return PromoteMasterShipped(ctx, config.GetDB(), masterId, distributorOrgId, orderId)
}

func (s *dbConfirmationStore) ApproveSession(ctx context.Context, session *ShipmentSession, actorId int, at time.Time, result *ShipmentResult) (bool, error) {
	db := config.GetDB()
	var swapped bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		swapped, err = TransitionSessionStatus(ctx, tx, session.ID, ConfirmableStatuses, ValidationStatusApproved, map[string]interface{}{
			"approved_by":   actorId,
			"approved_at":   at,
			"cases_shipped": result.CasesShipped,
			"units_shipped": result.UnitsShipped,
		})
		if err != nil {
			return err
		}
		if !swapped {
			return nil
		}
		return PublishShipmentConfirmed(ctx, tx, session, result, at)
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}
