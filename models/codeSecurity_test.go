package models

import "testing"

func TestSplitScannedCode(t *testing.T) {
	cases := []struct {
		raw    string
		base   string
		sig    string
		hasSig bool
	}{
		{"QR0001.AB12", "QR0001", "AB12", true},
		{"QR0001", "QR0001", "", false},
		{"A.B.C", "A.B", "C", true},
		{"QR0001.", "QR0001", "", true},
		{".SIG", "", "SIG", true},
	}
	for _, c := range cases {
		base, sig, hasSig := SplitScannedCode(c.raw)
		if base != c.base || sig != c.sig || hasSig != c.hasSig {
			t.Fatalf("SplitScannedCode(%q) = (%q, %q, %v), want (%q, %q, %v)",
				c.raw, base, sig, hasSig, c.base, c.sig, c.hasSig)
		}
	}
}

func TestValidateCode_MatchingSignature(t *testing.T) {
	stored := "AB12"
	ok, reason := ValidateCode("QR0001.AB12", &stored, false)
	if !ok {
		t.Fatalf("expected valid, got reason %q", reason)
	}
	// Case-insensitive match.
	ok, _ = ValidateCode("QR0001.ab12", &stored, false)
	if !ok {
		t.Fatalf("signature comparison must be case-insensitive")
	}
}

func TestValidateCode_TamperedOrIncomplete(t *testing.T) {
	stored := "AB12"
	for _, raw := range []string{"QR0001.XXXX", "QR0001", "QR0001."} {
		ok, reason := ValidateCode(raw, &stored, true)
		if ok {
			t.Fatalf("scan %q must be rejected", raw)
		}
		if reason != "tampered or incomplete code" {
			t.Fatalf("scan %q: unexpected reason %q", raw, reason)
		}
	}
}

func TestValidateCode_LegacyCode(t *testing.T) {
	ok, _ := ValidateCode("QR0001", nil, true)
	if !ok {
		t.Fatalf("legacy code must pass when allowed")
	}
	ok, reason := ValidateCode("QR0001", nil, false)
	if ok {
		t.Fatalf("legacy code must fail under strict mode")
	}
	if reason != "legacy code without security signature" {
		t.Fatalf("unexpected reason %q", reason)
	}
	// An empty stored signature counts as legacy too.
	empty := ""
	if ok, _ := ValidateCode("QR0001.SIG", &empty, false); ok {
		t.Fatalf("empty stored signature must fail under strict mode")
	}
}
