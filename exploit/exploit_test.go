package exploit

import "testing"

func TestSeverityBounds(t *testing.T) {
	for _, tp := range All() {
		sev := Severity(tp)
		if sev < 1 || sev > 5 {
			t.Errorf("%s has severity %d, want 1..5", tp, sev)
		}
		if Description(tp) == "" {
			t.Errorf("%s has no description", tp)
		}
	}
}

func TestSeverityUnknown(t *testing.T) {
	if got := Severity(Type("not_a_real_exploit")); got != 1 {
		t.Fatalf("unknown exploit severity = %d, want 1", got)
	}
}

func TestSeverityOrdering(t *testing.T) {
	// Content-level forgeries are graver than pure timing anomalies.
	if Severity(CursorDuplication) <= Severity(ClickTooFast) {
		t.Fatal("cursor duplication should outrank a fast click")
	}
	if Severity(TamperedItemFingerprint) <= Severity(ClickRateExceeded) {
		t.Fatal("a forged fingerprint should outrank a rate violation")
	}
}
