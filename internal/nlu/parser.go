// Package nlu turns caller utterances into intents with extracted slot values.
// Parsing is deterministic pattern matching over Dutch (and some English) phrasing.
package nlu

import (
	"regexp"
	"strings"
	"time"

	"github.com/ent0n29/voicedesk/internal/dialogue"
)

// Hints carries the context a parser may use. Now must be in the tenant's
// time zone so relative dates resolve to the tenant's calendar day.
type Hints struct {
	Now       time.Time
	Services  []string
	Expecting dialogue.Slot
}

// Parser extracts an intent from one utterance. Implementations never fail:
// anything not understood is simply absent from the result.
type Parser interface {
	Parse(utterance string, hints Hints) dialogue.Intent
}

// RuleParser is the default Parser. The zero value is ready to use.
type RuleParser struct{}

var _ Parser = RuleParser{}

var (
	cancelPattern     = regexp.MustCompile(`\b(?:annul\w*|cancel\w*|afzeg\w*|afzeggen|verwijder\w*)\b`)
	reschedulePattern = regexp.MustCompile(`\b(?:verzet\w*|verplaats\w*|reschedul\w*|omboeken|ombo\w*)\b`)
	bookPattern       = regexp.MustCompile(`\b(?:afspraak\w*|boek\w*|reserv\w*|inplan\w*|appointment|book\w*)\b`)
	greetingPattern   = regexp.MustCompile(`^(?:hallo|hey|hoi|goedemorgen|goedemiddag|goedenavond|dag|hello|hi)\b`)
	questionPattern   = regexp.MustCompile(`(?:\?\s*$|^(?:wat|wanneer|hoe|waar|welke|hoeveel|zijn jullie|kan ik|kunnen jullie)\b)`)
	phonePattern      = regexp.MustCompile(`(?:\+|00)?\d[\d \-/.]{7,}\d`)
)

var yesWords = []string{
	"ja", "yes", "jep", "jaa", "jawel", "klopt", "oke", "ok", "goed", "prima",
	"akkoord", "dat klopt", "dat is goed", "graag", "doe maar", "bevestig", "correct", "juist",
}

var noWords = []string{
	"nee", "neen", "no", "niet", "liever niet", "toch niet", "laat maar",
}

// Parse implements Parser.
func (RuleParser) Parse(utterance string, hints Hints) dialogue.Intent {
	raw := strings.TrimSpace(utterance)
	t := normalize(raw)
	in := dialogue.Intent{Kind: dialogue.IntentUnclear, Confidence: 0.3, Raw: raw}
	if t == "" {
		return in
	}
	now := hints.Now
	if now.IsZero() {
		now = time.Now()
	}

	if cancelPattern.MatchString(t) {
		in.Kind, in.Confidence = dialogue.IntentCancel, 0.85
		return in
	}
	if reschedulePattern.MatchString(t) {
		in.Kind, in.Confidence = dialogue.IntentReschedule, 0.85
		return in
	}

	work := t
	if loc := phonePattern.FindStringIndex(work); loc != nil {
		if phone := normalizePhone(work[loc[0]:loc[1]]); phone != "" {
			in.Entities.Phone = phone
			work = blank(work, loc)
		}
	}
	if date, loc := parseDate(work, now); date != "" {
		in.Entities.Date = date
		work = blank(work, loc)
	}
	if hints.Expecting != dialogue.SlotDate || !bareHourPattern.MatchString(strings.Trim(work, " .,!?")) {
		if clock, loc := parseTime(work); clock != "" {
			in.Entities.Time = clock
			work = blank(work, loc)
		}
	}

	if in.Entities.Date == "" && in.Entities.Time == "" {
		in.Entities.Name = extractName(raw, hints.Expecting, hints.Services)
	} else if hints.Expecting != dialogue.SlotName {
		// An explicit introduction still counts next to a date or time.
		in.Entities.Name = explicitName(raw)
	}

	if service := MatchService(raw, hints.Services); service != "" {
		in.Entities.Service = service
	} else if hints.Expecting == dialogue.SlotService && in.Entities.Name == "" {
		in.Entities.Service = freeTextService(work)
	}

	yes, no := matchesAny(t, yesWords), matchesAny(t, noWords)
	switch {
	case no:
		in.Kind, in.Confidence = dialogue.IntentConfirmNo, 0.95
	case yes:
		in.Kind, in.Confidence = dialogue.IntentConfirmYes, 0.95
	case bookPattern.MatchString(t):
		in.Kind, in.Confidence = dialogue.IntentBook, 0.85
	case !in.Entities.Empty():
		in.Kind, in.Confidence = dialogue.IntentProvideInfo, entityConfidence(in.Entities)
	case greetingPattern.MatchString(t):
		in.Kind, in.Confidence = dialogue.IntentGreeting, 0.9
	case questionPattern.MatchString(t):
		in.Kind, in.Confidence = dialogue.IntentQuestion, 0.5
	}
	return in
}

func explicitName(raw string) string {
	if m := explicitNamePattern.FindStringSubmatch(raw); m != nil {
		return cleanName(m[1])
	}
	return ""
}

func entityConfidence(e dialogue.Slots) float64 {
	switch {
	case e.Date != "" || e.Time != "":
		return 0.8
	case e.Name != "":
		return 0.75
	default:
		return 0.7
	}
}

// matchesAny reports whether t is one of words or starts with one of them
// followed by a space or comma.
func matchesAny(t string, words []string) bool {
	t = strings.Trim(t, " .!?")
	for _, w := range words {
		if t == w || strings.HasPrefix(t, w+" ") || strings.HasPrefix(t, w+",") {
			return true
		}
	}
	return false
}

func normalizePhone(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	digits := strings.TrimPrefix(b.String(), "+")
	if len(digits) < 9 || len(digits) > 15 {
		return ""
	}
	return b.String()
}
