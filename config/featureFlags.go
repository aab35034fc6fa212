package config

import (
	"os"
	"strings"
)

// AllowLegacyCodesForShipment controls whether codes issued before the
// security-signature scheme may pass shipment confirmation. Consumer-facing
// verification always accepts legacy codes; warehouse flows default to strict.
//
// Set via env:
// - WMS_ALLOW_LEGACY_CODES=true
func AllowLegacyCodesForShipment() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("WMS_ALLOW_LEGACY_CODES")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// MovementProcName returns the stored routine that applies the row-level
// inventory mutation and appends the ledger row. The routine is owned by the
// warehouse database team; this service only orchestrates calls to it.
//
// Set via env:
// - WMS_MOVEMENT_PROC (default wms_apply_stock_movement)
func MovementProcName() string {
	v := strings.TrimSpace(os.Getenv("WMS_MOVEMENT_PROC"))
	if v == "" {
		return "wms_apply_stock_movement"
	}
	return v
}

// DebugShipmentConfirmation enables verbose per-step logging in the
// confirmation orchestrator.
//
// Set via env:
// - DEBUG_SHIPMENT_CONFIRMATION=true
func DebugShipmentConfirmation() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DEBUG_SHIPMENT_CONFIRMATION")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
