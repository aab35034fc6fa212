package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

// CodeStatus is the lifecycle of a unit-level (unique) code. Stages are
// strictly ordered; a code never moves backwards outside an administrative
// reset.
type CodeStatus string

const (
	CodeStatusReceivedWarehouse  CodeStatus = "ReceivedWarehouse"
	CodeStatusWarehousePacked    CodeStatus = "WarehousePacked"
	CodeStatusShippedDistributor CodeStatus = "ShippedDistributor"
	CodeStatusActivated          CodeStatus = "Activated"
	CodeStatusRedeemed           CodeStatus = "Redeemed"
)

var codeStatusStages = map[CodeStatus]int{
	CodeStatusReceivedWarehouse:  1,
	CodeStatusWarehousePacked:    2,
	CodeStatusShippedDistributor: 3,
	CodeStatusActivated:          4,
	CodeStatusRedeemed:           5,
}

// ParseCodeStatus rejects unknown status strings at the repository boundary so
// business logic only ever sees members of the closed set.
func ParseCodeStatus(s string) (CodeStatus, error) {
	status := CodeStatus(s)
	if _, ok := codeStatusStages[status]; !ok {
		return "", fmt.Errorf("unknown code status %q", s)
	}
	return status, nil
}

// Stage returns the ordinal position in the lifecycle (1-based), 0 for unknown.
func (s CodeStatus) Stage() int {
	return codeStatusStages[s]
}

// CanTransition reports whether a unique code may move from s to next.
// Only forward transitions to the immediate next stage are allowed.
func (s CodeStatus) CanTransition(next CodeStatus) bool {
	from, ok := codeStatusStages[s]
	if !ok {
		return false
	}
	to, ok := codeStatusStages[next]
	if !ok {
		return false
	}
	return to == from+1
}

func (s CodeStatus) Value() (driver.Value, error) {
	if _, ok := codeStatusStages[s]; !ok {
		return nil, fmt.Errorf("invalid code status %q", string(s))
	}
	return string(s), nil
}

func (s *CodeStatus) Scan(value interface{}) error {
	str, err := scanEnumString(value)
	if err != nil {
		return err
	}
	parsed, err := ParseCodeStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MasterCodeStatus mirrors CodeStatus with the added Opened state: a case
// whose warehouse custody was broken down into loose units.
type MasterCodeStatus string

const (
	MasterCodeStatusReceivedWarehouse  MasterCodeStatus = "ReceivedWarehouse"
	MasterCodeStatusWarehousePacked    MasterCodeStatus = "WarehousePacked"
	MasterCodeStatusShippedDistributor MasterCodeStatus = "ShippedDistributor"
	MasterCodeStatusOpened             MasterCodeStatus = "Opened"
	MasterCodeStatusActivated          MasterCodeStatus = "Activated"
	MasterCodeStatusRedeemed           MasterCodeStatus = "Redeemed"
)

var masterCodeStatusStages = map[MasterCodeStatus]int{
	MasterCodeStatusReceivedWarehouse:  1,
	MasterCodeStatusWarehousePacked:    2,
	MasterCodeStatusShippedDistributor: 3,
	MasterCodeStatusOpened:             4,
	MasterCodeStatusActivated:          5,
	MasterCodeStatusRedeemed:           6,
}

func ParseMasterCodeStatus(s string) (MasterCodeStatus, error) {
	status := MasterCodeStatus(s)
	if _, ok := masterCodeStatusStages[status]; !ok {
		return "", fmt.Errorf("unknown master code status %q", s)
	}
	return status, nil
}

func (s MasterCodeStatus) Stage() int {
	return masterCodeStatusStages[s]
}

func (s MasterCodeStatus) Value() (driver.Value, error) {
	if _, ok := masterCodeStatusStages[s]; !ok {
		return nil, fmt.Errorf("invalid master code status %q", string(s))
	}
	return string(s), nil
}

func (s *MasterCodeStatus) Scan(value interface{}) error {
	str, err := scanEnumString(value)
	if err != nil {
		return err
	}
	parsed, err := ParseMasterCodeStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ValidationStatus is the lifecycle of a shipment scan session. Approved is
// terminal; a session is consumed exactly once.
type ValidationStatus string

const (
	ValidationStatusPending     ValidationStatus = "Pending"
	ValidationStatusMatched     ValidationStatus = "Matched"
	ValidationStatusDiscrepancy ValidationStatus = "Discrepancy"
	ValidationStatusApproved    ValidationStatus = "Approved"
)

// ConfirmableStatuses are the session states ConfirmShipment accepts. A
// Discrepancy session proceeds deliberately: the operator accepts partial
// shipment by confirming despite the mismatch.
var ConfirmableStatuses = []ValidationStatus{
	ValidationStatusPending,
	ValidationStatusMatched,
	ValidationStatusDiscrepancy,
}

func (s ValidationStatus) IsConfirmable() bool {
	for _, allowed := range ConfirmableStatuses {
		if s == allowed {
			return true
		}
	}
	return false
}

// ScanType distinguishes case-level scans from unit-level scans in a session.
type ScanType string

const (
	ScanTypeMaster ScanType = "Master"
	ScanTypeUnique ScanType = "Unique"
)

// OrgType classifies organizations along the distribution chain.
type OrgType string

const (
	OrgTypeManufacturer OrgType = "Manufacturer"
	OrgTypeWarehouse    OrgType = "Warehouse"
	OrgTypeDistributor  OrgType = "Distributor"
	OrgTypeShop         OrgType = "Shop"
)

// MovementReferenceType tags a stock movement ledger row with its origin.
type MovementReferenceType string

const (
	MovementReferenceTypeOrder      MovementReferenceType = "Order"
	MovementReferenceTypeMasterCode MovementReferenceType = "MasterCode"
	MovementReferenceTypeUniqueCode MovementReferenceType = "UniqueCode"
)

// Outbox publish lifecycle (dispatcher-side).
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

func scanEnumString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", errors.New("enum column must scan from string")
	}
}
