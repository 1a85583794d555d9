package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	ibanPattern  = regexp.MustCompile(`\b[A-Z]{2}\d{2}(?:[ ]?[A-Z0-9]{4}){3,7}\b`)
	// Belgian national register number, 85.07.30-033.28 and variants.
	nationalIDPattern = regexp.MustCompile(`\b\d{2}[.\-]?\d{2}[.\-]?\d{2}[.\- ]?\d{3}[.\- ]?\d{2}\b`)
	cardPattern       = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	phonePattern      = regexp.MustCompile(`(?:\+|00)?[0-9][0-9\-()/. ]{7,}[0-9]`)
)

// RedactPII masks identifiers callers tend to read out over the phone before
// text is logged or stored.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range []struct {
		pattern *regexp.Regexp
		marker  string
	}{
		{emailPattern, "[REDACTED_EMAIL]"},
		{ibanPattern, "[REDACTED_IBAN]"},
		// Cards and national ids before phones; both would also match the phone pattern.
		{cardPattern, "[REDACTED_CARD]"},
		{nationalIDPattern, "[REDACTED_NATIONAL_ID]"},
		{phonePattern, "[REDACTED_PHONE]"},
	} {
		next := r.pattern.ReplaceAllString(out, r.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// MaskPhone keeps the country prefix and the last three digits of a phone
// number, e.g. "+32******456".
func MaskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if len(phone) <= 6 {
		return strings.Repeat("*", len(phone))
	}
	head := 0
	if strings.HasPrefix(phone, "+") {
		head = 3
	}
	return phone[:head] + strings.Repeat("*", len(phone)-head-3) + phone[len(phone)-3:]
}
