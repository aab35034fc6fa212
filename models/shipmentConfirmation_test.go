package models

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the confirmation
// semantics against in-memory fakes:
// - exactly one consolidated movement per confirmation
// - no double deduction when a case and its units are scanned together
// - idempotency via the AlreadyConfirmed guard
//
// Full DB integration tests should be added in an environment that can run MySQL.

const (
	testWarehouse   = 10
	testDistributor = 20
	testOrder       = 7
)

type fakeStore struct {
	sessions map[int]*ShipmentSession
	codes    map[int]*UniqueCode
	masters  map[int]*MasterCode

	shipCalls    int
	approveCalls int
	failShip     bool
	failShipOnce bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[int]*ShipmentSession{},
		codes:    map[int]*UniqueCode{},
		masters:  map[int]*MasterCode{},
	}
}

func (s *fakeStore) addCode(id int, code string, sig string, status CodeStatus, masterId *int) *UniqueCode {
	c := &UniqueCode{
		ID:                   id,
		Code:                 code,
		Status:               status,
		MasterCodeId:         masterId,
		OrderId:              testOrder,
		CurrentLocationOrgId: testWarehouse,
	}
	if sig != "" {
		c.SecuritySignature = &sig
	}
	s.codes[id] = c
	return c
}

func (s *fakeStore) addMaster(id int, code string, status MasterCodeStatus, unitCount int) *MasterCode {
	m := &MasterCode{
		ID:              id,
		Code:            code,
		Status:          status,
		WarehouseOrgId:  testWarehouse,
		ActualUnitCount: unitCount,
	}
	s.masters[id] = m
	return m
}

func (s *fakeStore) addSession(id int, status ValidationStatus, masterScans []string, uniqueScans []string) *ShipmentSession {
	warehouse, distributor, order := testWarehouse, testDistributor, testOrder
	session := &ShipmentSession{
		ID:               id,
		WarehouseOrgId:   &warehouse,
		DistributorOrgId: &distributor,
		OrderId:          &order,
		ValidationStatus: status,
	}
	for _, scanned := range masterScans {
		session.Scans = append(session.Scans, ShipmentSessionScan{SessionId: id, Scanned: scanned, ScanType: ScanTypeMaster})
	}
	for _, scanned := range uniqueScans {
		session.Scans = append(session.Scans, ShipmentSessionScan{SessionId: id, Scanned: scanned, ScanType: ScanTypeUnique})
	}
	s.sessions[id] = session
	return session
}

func (s *fakeStore) GetSession(ctx context.Context, id int) (*ShipmentSession, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return session, nil
}

func (s *fakeStore) ShippedCodeIds(ctx context.Context, sessionId int) ([]int, error) {
	var ids []int
	for _, code := range s.codes {
		if code.ShipmentSessionId != nil && *code.ShipmentSessionId == sessionId && code.Status == CodeStatusShippedDistributor {
			ids = append(ids, code.ID)
		}
	}
	return ids, nil
}

func (s *fakeStore) lookupCode(scanned string) *UniqueCode {
	for _, code := range s.codes {
		if code.Code == scanned {
			return code
		}
	}
	base, _, hasSig := SplitScannedCode(scanned)
	if !hasSig {
		return nil
	}
	for _, code := range s.codes {
		if code.Code == base {
			return code
		}
	}
	return nil
}

func (s *fakeStore) ResolveUniqueScans(ctx context.Context, scans []string) ([]ResolvedScan, error) {
	var results []ResolvedScan
	for _, scanned := range scans {
		results = append(results, ResolvedScan{Scanned: scanned, Code: s.lookupCode(scanned)})
	}
	return results, nil
}

func (s *fakeStore) ResolveMasterScan(ctx context.Context, scanned string) (*MasterCode, error) {
	base, _, _ := SplitScannedCode(scanned)
	for _, master := range s.masters {
		if master.Code == scanned || master.Code == base {
			return master, nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func (s *fakeStore) ShipCodes(ctx context.Context, ids []int, toOrg int, sessionId int) (int64, error) {
	s.shipCalls++
	if s.failShip || s.failShipOnce {
		s.failShipOnce = false
		return 0, errors.New("simulated status update failure")
	}
	var affected int64
	for _, id := range ids {
		code, ok := s.codes[id]
		if !ok {
			continue
		}
		sid := sessionId
		code.Status = CodeStatusShippedDistributor
		code.CurrentLocationOrgId = toOrg
		code.ShipmentSessionId = &sid
		affected++
	}
	return affected, nil
}

func (s *fakeStore) MasterChildCounts(ctx context.Context, masterIds []int) (map[int]ChildCounts, error) {
	counts := map[int]ChildCounts{}
	for _, id := range masterIds {
		counts[id] = s.countChildren(id)
	}
	return counts, nil
}

func (s *fakeStore) countChildren(masterId int) ChildCounts {
	counts := ChildCounts{MasterCodeId: masterId}
	for _, code := range s.codes {
		if code.MasterCodeId == nil || *code.MasterCodeId != masterId {
			continue
		}
		counts.TotalChildren++
		switch code.Status {
		case CodeStatusShippedDistributor, CodeStatusActivated, CodeStatusRedeemed:
			counts.ShippedChildren++
		case CodeStatusWarehousePacked:
			counts.PackedChildren++
		}
	}
	return counts
}

func (s *fakeStore) MastersByIds(ctx context.Context, ids []int) (map[int]*MasterCode, error) {
	result := map[int]*MasterCode{}
	for _, id := range ids {
		if master, ok := s.masters[id]; ok {
			result[id] = master
		}
	}
	return result, nil
}

func (s *fakeStore) PackedChildIds(ctx context.Context, masterId int) ([]int, error) {
	var ids []int
	for _, code := range s.codes {
		if code.MasterCodeId != nil && *code.MasterCodeId == masterId && code.Status == CodeStatusWarehousePacked {
			ids = append(ids, code.ID)
		}
	}
	return ids, nil
}

func (s *fakeStore) PromoteMaster(ctx context.Context, masterId int, distributorOrgId int, orderId *int) error {
	master, ok := s.masters[masterId]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	if master.Status == MasterCodeStatusShippedDistributor {
		return nil
	}
	master.Status = MasterCodeStatusShippedDistributor
	master.ShippedToDistributorId = &distributorOrgId
	return nil
}

func (s *fakeStore) ApproveSession(ctx context.Context, session *ShipmentSession, actorId int, at time.Time, result *ShipmentResult) (bool, error) {
	s.approveCalls++
	stored := s.sessions[session.ID]
	if !stored.ValidationStatus.IsConfirmable() {
		return false, nil
	}
	stored.ValidationStatus = ValidationStatusApproved
	stored.ApprovedBy = &actorId
	approvedAt := at
	stored.ApprovedAt = &approvedAt
	stored.CasesShipped = result.CasesShipped
	stored.UnitsShipped = result.UnitsShipped
	return true, nil
}

type fakeGateway struct {
	summaries         map[string]*MovementSummary
	consolidatedCalls []MovementRequest
	caseCalls         []CaseMovementRequest
	failConsolidated  bool
	failCase          bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{summaries: map[string]*MovementSummary{}}
}

func (g *fakeGateway) totalQuantity() int {
	total := 0
	for _, s := range g.summaries {
		total += int(s.Quantity.IntPart())
	}
	return total
}

func (g *fakeGateway) CreateConsolidatedMovement(ctx context.Context, req MovementRequest) (*MovementSummary, error) {
	if g.failConsolidated {
		return nil, errors.New("simulated gateway outage")
	}
	if prior, ok := g.summaries[req.DedupKey]; ok {
		replay := *prior
		replay.Replayed = true
		return &replay, nil
	}
	g.consolidatedCalls = append(g.consolidatedCalls, req)
	summary := &MovementSummary{
		StockMovementId: len(g.summaries) + 1,
		Quantity:        decimal.NewFromInt(int64(len(req.CodeIds))),
		FromOrg:         req.FromOrg,
		ToOrg:           req.ToOrg,
	}
	g.summaries[req.DedupKey] = summary
	return summary, nil
}

func (g *fakeGateway) CreateCaseMovement(ctx context.Context, req CaseMovementRequest) (*MovementSummary, error) {
	if g.failCase {
		return nil, errors.New("simulated gateway outage")
	}
	if prior, ok := g.summaries[req.DedupKey]; ok {
		replay := *prior
		replay.Replayed = true
		return &replay, nil
	}
	g.caseCalls = append(g.caseCalls, req)
	summary := &MovementSummary{
		StockMovementId: len(g.summaries) + 1,
		Quantity:        decimal.NewFromInt(int64(req.Quantity)),
		FromOrg:         req.FromOrg,
		ToOrg:           req.ToOrg,
	}
	g.summaries[req.DedupKey] = summary
	return summary, nil
}

func newTestConfirmer(store *fakeStore, gateway *fakeGateway) *ShipmentConfirmer {
	return &ShipmentConfirmer{
		Store:   store,
		Gateway: gateway,
		Logger:  config.GetLogger(),
		Now:     func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) },
	}
}

func sig(i int) string {
	return fmt.Sprintf("S%04d", i)
}

func scannedWithSig(code string, i int) string {
	return code + "." + sig(i)
}

func TestConfirmShipment_SingleConsolidatedMovement(t *testing.T) {
	store := newFakeStore()
	var scans []string
	for i := 1; i <= 3; i++ {
		code := fmt.Sprintf("QR%04d", i)
		store.addCode(i, code, sig(i), CodeStatusWarehousePacked, nil)
		scans = append(scans, scannedWithSig(code, i))
	}
	store.addSession(1, ValidationStatusMatched, nil, scans)
	gateway := newFakeGateway()

	result, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(gateway.consolidatedCalls) != 1 {
		t.Fatalf("expected exactly 1 consolidated movement, got %d", len(gateway.consolidatedCalls))
	}
	if len(gateway.caseCalls) != 0 {
		t.Fatalf("expected no case movements, got %d", len(gateway.caseCalls))
	}
	if gateway.totalQuantity() != 3 {
		t.Fatalf("expected quantity 3, got %d", gateway.totalQuantity())
	}
	if result.UnitsShipped != 3 || result.CasesShipped != 0 {
		t.Fatalf("unexpected counts: units=%d cases=%d", result.UnitsShipped, result.CasesShipped)
	}
	if store.sessions[1].ValidationStatus != ValidationStatusApproved {
		t.Fatalf("expected session approved, got %s", store.sessions[1].ValidationStatus)
	}
	for i := 1; i <= 3; i++ {
		if store.codes[i].Status != CodeStatusShippedDistributor {
			t.Fatalf("code %d not shipped: %s", i, store.codes[i].Status)
		}
		if store.codes[i].CurrentLocationOrgId != testDistributor {
			t.Fatalf("code %d custody not transferred", i)
		}
	}
}

func TestConfirmShipment_SecondCallReturnsAlreadyConfirmed(t *testing.T) {
	store := newFakeStore()
	store.addCode(1, "QR0001", sig(1), CodeStatusWarehousePacked, nil)
	store.addSession(1, ValidationStatusPending, nil, []string{scannedWithSig("QR0001", 1)})
	gateway := newFakeGateway()
	confirmer := newTestConfirmer(store, gateway)

	first, err := confirmer.ConfirmShipment(context.Background(), 1, 99)
	if err != nil {
		t.Fatalf("first confirmation failed: %v", err)
	}

	_, err = confirmer.ConfirmShipment(context.Background(), 1, 99)
	var already *AlreadyConfirmedError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyConfirmedError, got %v", err)
	}
	if already.ApprovedBy == nil || *already.ApprovedBy != 99 {
		t.Fatalf("expected approved_by 99, got %v", already.ApprovedBy)
	}
	if len(already.ShippedCodeIds) != len(first.ShippedCodeIds) {
		t.Fatalf("prior result mismatch: %v vs %v", already.ShippedCodeIds, first.ShippedCodeIds)
	}
	if already.UnitsShipped != first.UnitsShipped {
		t.Fatalf("prior units mismatch: %d vs %d", already.UnitsShipped, first.UnitsShipped)
	}
	if len(gateway.consolidatedCalls) != 1 {
		t.Fatalf("second call must not create another movement, got %d", len(gateway.consolidatedCalls))
	}
}

func TestConfirmShipment_CaseAndUnitsNoDoubleDeduction(t *testing.T) {
	store := newFakeStore()
	masterId := 100
	master := store.addMaster(masterId, "MC0100", MasterCodeStatusWarehousePacked, 10)
	masterSig := "CASESIG"
	master.SecuritySignature = &masterSig
	var unitScans []string
	for i := 1; i <= 10; i++ {
		code := fmt.Sprintf("QR%04d", i)
		store.addCode(i, code, sig(i), CodeStatusWarehousePacked, &masterId)
		if i <= 4 {
			unitScans = append(unitScans, scannedWithSig(code, i))
		}
	}
	store.addSession(1, ValidationStatusMatched, []string{"MC0100.CASESIG"}, unitScans)
	gateway := newFakeGateway()

	result, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got := gateway.totalQuantity(); got != 10 {
		t.Fatalf("expected total deduction 10, got %d", got)
	}
	if len(gateway.consolidatedCalls) != 1 || len(gateway.caseCalls) != 1 {
		t.Fatalf("expected 1 consolidated + 1 case movement, got %d + %d",
			len(gateway.consolidatedCalls), len(gateway.caseCalls))
	}
	if gateway.caseCalls[0].Quantity != 6 {
		t.Fatalf("case movement must cover only the 6 remaining units, got %d", gateway.caseCalls[0].Quantity)
	}
	if result.UnitsShipped != 10 || result.CasesShipped != 1 {
		t.Fatalf("unexpected counts: units=%d cases=%d", result.UnitsShipped, result.CasesShipped)
	}
	for i := 1; i <= 10; i++ {
		if store.codes[i].Status != CodeStatusShippedDistributor {
			t.Fatalf("child %d not shipped", i)
		}
	}
	if store.masters[masterId].Status != MasterCodeStatusShippedDistributor {
		t.Fatalf("master not promoted: %s", store.masters[masterId].Status)
	}
}

func TestConfirmShipment_WholeCaseAlreadyShippedChildrenStatusOnly(t *testing.T) {
	store := newFakeStore()
	masterId := 100
	master := store.addMaster(masterId, "MC0100", MasterCodeStatusWarehousePacked, 3)
	masterSig := "CASESIG"
	master.SecuritySignature = &masterSig
	for i := 1; i <= 3; i++ {
		code := store.addCode(i, fmt.Sprintf("QR%04d", i), sig(i), CodeStatusShippedDistributor, &masterId)
		prior := 55
		code.ShipmentSessionId = &prior
	}
	store.addSession(1, ValidationStatusMatched, []string{"MC0100.CASESIG"}, nil)
	gateway := newFakeGateway()

	result, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if gateway.totalQuantity() != 0 {
		t.Fatalf("all children already shipped, expected no deduction, got %d", gateway.totalQuantity())
	}
	if result.CasesShipped != 1 {
		t.Fatalf("expected case status promotion, got cases=%d", result.CasesShipped)
	}
	if store.masters[masterId].Status != MasterCodeStatusShippedDistributor {
		t.Fatalf("master not promoted")
	}
}

func TestConfirmShipment_DiscrepancyShipsOnlyScanned(t *testing.T) {
	store := newFakeStore()
	var scans []string
	for i := 1; i <= 5; i++ {
		code := fmt.Sprintf("QR%04d", i)
		store.addCode(i, code, sig(i), CodeStatusWarehousePacked, nil)
		if i <= 3 {
			scans = append(scans, scannedWithSig(code, i))
		}
	}
	store.addSession(1, ValidationStatusDiscrepancy, nil, scans)
	gateway := newFakeGateway()

	result, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	if err != nil {
		t.Fatalf("discrepancy session must confirm partially, got %v", err)
	}
	if result.UnitsShipped != 3 {
		t.Fatalf("expected 3 units shipped, got %d", result.UnitsShipped)
	}
	for i := 4; i <= 5; i++ {
		if store.codes[i].Status != CodeStatusWarehousePacked {
			t.Fatalf("unscanned code %d must stay packed, got %s", i, store.codes[i].Status)
		}
	}
}

func TestConfirmShipment_StaleCodesFiltered(t *testing.T) {
	store := newFakeStore()
	store.addCode(1, "QR0001", sig(1), CodeStatusShippedDistributor, nil)
	store.addCode(2, "QR0002", sig(2), CodeStatusWarehousePacked, nil)
	store.addSession(1, ValidationStatusMatched, nil, []string{
		scannedWithSig("QR0001", 1),
		scannedWithSig("QR0002", 2),
	})
	gateway := newFakeGateway()

	result, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	if err != nil {
		t.Fatalf("stale code must not fail the batch, got %v", err)
	}
	if gateway.totalQuantity() != 1 {
		t.Fatalf("expected quantity 1, got %d", gateway.totalQuantity())
	}
	if len(result.SkippedCodeIds) != 1 || result.SkippedCodeIds[0] != 1 {
		t.Fatalf("expected code 1 skipped, got %v", result.SkippedCodeIds)
	}
	if result.UnitsShipped != 1 {
		t.Fatalf("expected 1 unit shipped, got %d", result.UnitsShipped)
	}
}

func TestConfirmShipment_MasterPromotedWhenLastChildShips(t *testing.T) {
	store := newFakeStore()
	masterId := 100
	store.addMaster(masterId, "MC0100", MasterCodeStatusWarehousePacked, 2)
	shipped := store.addCode(1, "QR0001", sig(1), CodeStatusShippedDistributor, &masterId)
	prior := 55
	shipped.ShipmentSessionId = &prior
	store.addCode(2, "QR0002", sig(2), CodeStatusWarehousePacked, &masterId)
	store.addSession(1, ValidationStatusMatched, nil, []string{scannedWithSig("QR0002", 2)})
	gateway := newFakeGateway()

	result, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if store.masters[masterId].Status != MasterCodeStatusShippedDistributor {
		t.Fatalf("master must be promoted in the same call, got %s", store.masters[masterId].Status)
	}
	if result.CasesShipped != 1 {
		t.Fatalf("expected 1 case counted, got %d", result.CasesShipped)
	}
	if gateway.totalQuantity() != 1 {
		t.Fatalf("only the newly scanned unit moves, got quantity %d", gateway.totalQuantity())
	}
}

func TestConfirmShipment_GatewayFailureLeavesSessionRetryable(t *testing.T) {
	store := newFakeStore()
	store.addCode(1, "QR0001", sig(1), CodeStatusWarehousePacked, nil)
	store.addSession(1, ValidationStatusPending, nil, []string{scannedWithSig("QR0001", 1)})
	gateway := newFakeGateway()
	gateway.failConsolidated = true
	confirmer := newTestConfirmer(store, gateway)

	_, err := confirmer.ConfirmShipment(context.Background(), 1, 99)
	var gwFailure *GatewayFailureError
	if !errors.As(err, &gwFailure) {
		t.Fatalf("expected GatewayFailureError, got %v", err)
	}
	if store.sessions[1].ValidationStatus != ValidationStatusPending {
		t.Fatalf("session must remain untouched, got %s", store.sessions[1].ValidationStatus)
	}
	if store.codes[1].Status != CodeStatusWarehousePacked {
		t.Fatalf("code must remain packed, got %s", store.codes[1].Status)
	}

	gateway.failConsolidated = false
	result, err := confirmer.ConfirmShipment(context.Background(), 1, 99)
	if err != nil {
		t.Fatalf("retry after gateway recovery must succeed, got %v", err)
	}
	if result.UnitsShipped != 1 {
		t.Fatalf("expected 1 unit shipped on retry, got %d", result.UnitsShipped)
	}
}

func TestConfirmShipment_PartialReconciliationAfterMovement(t *testing.T) {
	store := newFakeStore()
	store.addCode(1, "QR0001", sig(1), CodeStatusWarehousePacked, nil)
	store.addSession(1, ValidationStatusPending, nil, []string{scannedWithSig("QR0001", 1)})
	store.failShip = true
	gateway := newFakeGateway()

	_, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	var partial *PartialReconciliationError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialReconciliationError, got %v", err)
	}
	if partial.Result == nil {
		t.Fatalf("partial error must carry the result for operator follow-up")
	}
	if len(gateway.consolidatedCalls) != 1 {
		t.Fatalf("movement must have committed, got %d calls", len(gateway.consolidatedCalls))
	}
	// The session is still finalized so a blind resubmission trips the
	// AlreadyConfirmed guard instead of re-running the movement.
	if store.sessions[1].ValidationStatus != ValidationStatusApproved {
		t.Fatalf("session must be approved despite partial failure, got %s", store.sessions[1].ValidationStatus)
	}
	store.failShip = false
	_, err = newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	var already *AlreadyConfirmedError
	if !errors.As(err, &already) {
		t.Fatalf("resubmission must hit AlreadyConfirmed, got %v", err)
	}
}

func TestConfirmShipment_SessionNotFound(t *testing.T) {
	store := newFakeStore()
	gateway := newFakeGateway()
	_, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 42, 99)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestConfirmShipment_InvalidState(t *testing.T) {
	store := newFakeStore()
	session := store.addSession(1, ValidationStatusPending, nil, []string{"QR0001"})
	session.ValidationStatus = ValidationStatus("Cancelled")
	gateway := newFakeGateway()

	_, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	var invalidState *InvalidStateError
	if !errors.As(err, &invalidState) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestConfirmShipment_NoResolvableCodes(t *testing.T) {
	store := newFakeStore()
	store.addSession(1, ValidationStatusPending, nil, []string{"UNKNOWN.X"})
	gateway := newFakeGateway()

	_, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	var invalidRequest *InvalidRequestError
	if !errors.As(err, &invalidRequest) {
		t.Fatalf("expected InvalidRequestError, got %v", err)
	}
	if len(gateway.consolidatedCalls) != 0 {
		t.Fatalf("no movement may be created, got %d", len(gateway.consolidatedCalls))
	}
}

func TestConfirmShipment_SameWarehouseAndDistributorRejected(t *testing.T) {
	store := newFakeStore()
	store.addCode(1, "QR0001", sig(1), CodeStatusWarehousePacked, nil)
	session := store.addSession(1, ValidationStatusPending, nil, []string{scannedWithSig("QR0001", 1)})
	warehouse := testWarehouse
	session.DistributorOrgId = &warehouse
	gateway := newFakeGateway()

	_, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	var invalidRequest *InvalidRequestError
	if !errors.As(err, &invalidRequest) {
		t.Fatalf("expected InvalidRequestError, got %v", err)
	}
}

func TestConfirmShipment_TamperedUnitScanRejected(t *testing.T) {
	store := newFakeStore()
	store.addCode(1, "QR0001", "GOODSIG", CodeStatusWarehousePacked, nil)
	store.addSession(1, ValidationStatusPending, nil, []string{"QR0001.BADSIG"})
	gateway := newFakeGateway()

	_, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	var invalidRequest *InvalidRequestError
	if !errors.As(err, &invalidRequest) {
		t.Fatalf("tampered scan was the only code, expected InvalidRequestError, got %v", err)
	}
	if store.codes[1].Status != CodeStatusWarehousePacked {
		t.Fatalf("tampered scan must not ship the code")
	}
}

func TestConfirmShipment_TamperedCaseScanRejected(t *testing.T) {
	store := newFakeStore()
	goodSig := "GOODSIG"
	master := store.addMaster(100, "MC0100", MasterCodeStatusWarehousePacked, 2)
	master.SecuritySignature = &goodSig
	store.addSession(1, ValidationStatusPending, []string{"MC0100.BADSIG"}, nil)
	gateway := newFakeGateway()

	_, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	var invalidRequest *InvalidRequestError
	if !errors.As(err, &invalidRequest) {
		t.Fatalf("tampered case scan was the only code, expected InvalidRequestError, got %v", err)
	}
	if master.Status != MasterCodeStatusWarehousePacked {
		t.Fatalf("tampered case scan must not promote the master")
	}
	if len(gateway.caseCalls) != 0 {
		t.Fatalf("no movement may be created, got %d", len(gateway.caseCalls))
	}
}

func TestConfirmShipment_UnitShipFailureDoesNotDoubleDeduct(t *testing.T) {
	store := newFakeStore()
	masterId := 100
	master := store.addMaster(masterId, "MC0100", MasterCodeStatusWarehousePacked, 10)
	masterSig := "CASESIG"
	master.SecuritySignature = &masterSig
	var unitScans []string
	for i := 1; i <= 10; i++ {
		code := fmt.Sprintf("QR%04d", i)
		store.addCode(i, code, sig(i), CodeStatusWarehousePacked, &masterId)
		if i <= 4 {
			unitScans = append(unitScans, scannedWithSig(code, i))
		}
	}
	store.addSession(1, ValidationStatusMatched, []string{"MC0100.CASESIG"}, unitScans)
	// The batch status update for the scanned units fails transiently after
	// their consolidated movement committed.
	store.failShipOnce = true
	gateway := newFakeGateway()

	_, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	var partial *PartialReconciliationError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialReconciliationError, got %v", err)
	}
	if got := gateway.totalQuantity(); got != 10 {
		t.Fatalf("total deduction must stay 10, got %d", got)
	}
	if len(gateway.caseCalls) != 1 || gateway.caseCalls[0].Quantity != 6 {
		t.Fatalf("case movement must exclude the units already moved, got %+v", gateway.caseCalls)
	}
	// Status lags for the failed batch; inventory is already correct.
	for i := 1; i <= 4; i++ {
		if store.codes[i].Status != CodeStatusWarehousePacked {
			t.Fatalf("unit %d status update failed, must still be packed", i)
		}
	}
	for i := 5; i <= 10; i++ {
		if store.codes[i].Status != CodeStatusShippedDistributor {
			t.Fatalf("remaining unit %d must ship via the case movement", i)
		}
	}
	if partial.Result == nil || partial.Result.UnitsShipped != 6 {
		t.Fatalf("partial result must report the 6 units that shipped, got %+v", partial.Result)
	}
}

func TestConfirmShipment_ResumesApprovalAfterCrashGap(t *testing.T) {
	store := newFakeStore()
	masterId := 100
	master := store.addMaster(masterId, "MC0100", MasterCodeStatusShippedDistributor, 3)
	masterSig := "CASESIG"
	master.SecuritySignature = &masterSig
	distributor := testDistributor
	master.ShippedToDistributorId = &distributor
	var unitScans []string
	for i := 1; i <= 3; i++ {
		code := fmt.Sprintf("QR%04d", i)
		c := store.addCode(i, code, sig(i), CodeStatusShippedDistributor, &masterId)
		session := 1
		c.ShipmentSessionId = &session
		c.CurrentLocationOrgId = testDistributor
		unitScans = append(unitScans, scannedWithSig(code, i))
	}
	// Every code shipped under this session id but the session never got
	// approved: the process died between the status updates and the approval.
	store.addSession(1, ValidationStatusMatched, []string{"MC0100.CASESIG"}, unitScans)
	gateway := newFakeGateway()

	result, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	if err != nil {
		t.Fatalf("retry must resume to approval, got %v", err)
	}
	if gateway.totalQuantity() != 0 {
		t.Fatalf("resume must not move stock again, got %d", gateway.totalQuantity())
	}
	if result.UnitsShipped != 3 || result.CasesShipped != 1 {
		t.Fatalf("unexpected counts: units=%d cases=%d", result.UnitsShipped, result.CasesShipped)
	}
	if store.sessions[1].ValidationStatus != ValidationStatusApproved {
		t.Fatalf("session must be approved, got %s", store.sessions[1].ValidationStatus)
	}
}

func TestConfirmShipment_LegacyCodeHonorsFeatureFlag(t *testing.T) {
	store := newFakeStore()
	store.addCode(1, "QR0001", "", CodeStatusWarehousePacked, nil)
	store.addSession(1, ValidationStatusPending, nil, []string{"QR0001"})
	gateway := newFakeGateway()

	// Strict by default: a legacy code without a stored signature cannot ship.
	_, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	var invalidRequest *InvalidRequestError
	if !errors.As(err, &invalidRequest) {
		t.Fatalf("expected InvalidRequestError under strict mode, got %v", err)
	}

	t.Setenv("WMS_ALLOW_LEGACY_CODES", "true")
	result, err := newTestConfirmer(store, gateway).ConfirmShipment(context.Background(), 1, 99)
	if err != nil {
		t.Fatalf("legacy code must ship when allowed, got %v", err)
	}
	if result.UnitsShipped != 1 {
		t.Fatalf("expected 1 unit shipped, got %d", result.UnitsShipped)
	}
}
