package models

import (
	"context"

	"bitbucket.org/mmdatafocus/distribution_backend/utils"
)

type CodeVerification struct {
	Scanned    string     `json:"scanned"`
	IsValid    bool       `json:"is_valid"`
	Reason     string     `json:"reason,omitempty"`
	CodeId     int        `json:"code_id,omitempty"`
	Status     CodeStatus `json:"status,omitempty"`
	OrderId    int        `json:"order_id,omitempty"`
	MasterCode *string    `json:"master_code,omitempty"`
}

// VerifyScannedCode is the consumer-facing verification: it resolves the
// scanned string and checks its signature. Legacy codes without a stored
// signature are accepted here; the shipment flow is stricter.
func VerifyScannedCode(ctx context.Context, scanned string) (*CodeVerification, error) {
	result := CodeVerification{Scanned: scanned}

	code, err := ResolveScannedCode(ctx, scanned)
	if err == utils.ErrorRecordNotFound {
		result.Reason = "code not found"
		return &result, nil
	}
	if err != nil {
		return nil, err
	}

	isValid, reason := ValidateCode(scanned, code.SecuritySignature, true)
	result.IsValid = isValid
	result.Reason = reason
	result.CodeId = code.ID
	result.Status = code.Status
	result.OrderId = code.OrderId
	if code.MasterCodeId != nil {
		master, err := GetMasterCode(ctx, *code.MasterCodeId)
		if err == nil {
			result.MasterCode = &master.Code
		}
	}
	return &result, nil
}
