package models

import (
	"strings"
)

// Scanned codes may carry an appended security-signature segment:
// "<baseCode>.<signature>". Codes issued before the signature scheme
// have no stored signature and no segment.
const codeSignatureSeparator = "."

// SplitScannedCode returns the base code and, if present, the appended
// signature segment. Only the last segment is treated as a signature.
func SplitScannedCode(rawScanned string) (base string, signature string, hasSignature bool) {
	idx := strings.LastIndex(rawScanned, codeSignatureSeparator)
	if idx < 0 {
		return rawScanned, "", false
	}
	return rawScanned[:idx], rawScanned[idx+1:], true
}

// ValidateCode checks a scanned string against the signature stored when
// the code was issued. A nil stored signature marks a legacy code, which
// is accepted only where the call site allows it. A stored signature must
// be matched exactly (case-insensitive) by the scanned segment; a missing
// or mismatched segment is never normalized to a best-effort match.
func ValidateCode(rawScanned string, storedSignature *string, allowLegacy bool) (bool, string) {
	if storedSignature == nil || *storedSignature == "" {
		if allowLegacy {
			return true, ""
		}
		return false, "legacy code without security signature"
	}

	_, scannedSig, hasSig := SplitScannedCode(rawScanned)
	if !hasSig || scannedSig == "" {
		return false, "tampered or incomplete code"
	}
	if !strings.EqualFold(scannedSig, *storedSignature) {
		return false, "tampered or incomplete code"
	}
	return true, ""
}
