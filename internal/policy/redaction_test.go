package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Mail naar an@example.be, bel 0470 12 34 56 en betaal met 4242 4242 4242 4242 op BE71 0961 2345 6769."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]", "[REDACTED_IBAN]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if strings.Contains(out, "0470") || strings.Contains(out, "4242") {
		t.Fatalf("digits leaked: %q", out)
	}
}

func TestRedactPIINationalID(t *testing.T) {
	out, changed := RedactPII("mijn rijksregisternummer is 85.07.30-033.28")
	if !changed || !strings.Contains(out, "[REDACTED_NATIONAL_ID]") {
		t.Fatalf("RedactPII() = %q, %v", out, changed)
	}
}

func TestRedactPIILeavesBookingTextAlone(t *testing.T) {
	in := "Ik wil kleuren op dinsdag om 14:30"
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII(%q) = %q, %v", in, out, changed)
	}
}

func TestMaskPhone(t *testing.T) {
	tests := map[string]string{
		"+32470123456": "+32******456",
		"0470123456":   "*******456",
		"12345":        "*****",
	}
	for in, want := range tests {
		if got := MaskPhone(in); got != want {
			t.Fatalf("MaskPhone(%q) = %q, want %q", in, got, want)
		}
	}
}
