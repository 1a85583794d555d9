package nlu

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/ent0n29/voicedesk/internal/dialogue"
)

var (
	explicitNamePattern = regexp.MustCompile(`(?i)\b(?:mijn naam is|de naam is|naam is|ik heet|my name is)\s+([\p{L}'\-]+(?:\s+[\p{L}'\-]+){0,2})`)

	// "ik ben" and "dit is" only count when followed by a capitalized word.
	introNamePattern  = regexp.MustCompile(`(?i:\b(?:ik ben|dit is|met))\s+(\p{Lu}[\p{L}'\-]*(?:\s+\p{Lu}[\p{L}'\-]*){0,2})`)
	properNounPattern = regexp.MustCompile(`^\p{Lu}\p{Ll}+(?:[ \-]\p{Lu}\p{Ll}+){0,2}[.!?]?$`)
	nameCharsPattern  = regexp.MustCompile(`^[\p{L}'\- ]+$`)
)

// Words that are never a name on their own.
var nameRejects = map[string]bool{
	"ja": true, "nee": true, "neen": true, "ok": true, "oke": true, "goed": true,
	"prima": true, "klopt": true, "correct": true, "juist": true, "perfect": true,
	"akkoord": true, "euh": true, "uh": true, "uhm": true, "graag": true, "hallo": true,
	"hoi": true, "hey": true, "dag": true, "dank": true, "bedankt": true, "merci": true,
	"sorry": true, "wat": true, "wie": true, "waar": true, "wanneer": true, "hoe": true,
	"welke": true, "afspraak": true, "morgen": true, "vandaag": true, "overmorgen": true,
	"om": true, "op": true, "voor": true, "een": true, "de": true, "het": true,
	"vrij": true, "niet": true, "blij": true, "benieuwd": true, "uur": true,
	"goedemorgen": true, "goedemiddag": true, "goedenavond": true, "yes": true, "no": true,
}

// nameStopWords end a captured name: "ik heet Jan en ik wil..." yields "Jan".
var nameStopWords = map[string]bool{
	"en": true, "op": true, "om": true, "voor": true, "want": true, "maar": true,
	"graag": true, "ik": true, "wil": true, "de": true, "het": true, "een": true,
}

// extractName tries the explicit patterns first, then the bare answer forms.
// A bare answer is only a name when the dialogue asked for one or expects
// nothing in particular, and never when it names a catalog service.
func extractName(raw string, expecting dialogue.Slot, services []string) string {
	for _, p := range []*regexp.Regexp{explicitNamePattern, introNamePattern} {
		if m := p.FindStringSubmatch(raw); m != nil {
			if name := cleanName(m[1]); name != "" {
				return name
			}
		}
	}

	trimmed := strings.Trim(strings.TrimSpace(raw), ".,!?")
	if MatchService(trimmed, services) != "" {
		return ""
	}
	switch expecting {
	case dialogue.SlotName:
		words := strings.Fields(trimmed)
		if len(words) >= 1 && len(words) <= 3 && nameCharsPattern.MatchString(trimmed) {
			return cleanName(trimmed)
		}
		return ""
	case dialogue.SlotService, dialogue.SlotDate, dialogue.SlotTime:
		// Punctuating STT capitalizes one-word answers like "Knippen."
		return ""
	}

	if properNounPattern.MatchString(strings.TrimSpace(raw)) {
		return cleanName(trimmed)
	}
	return ""
}

func cleanName(candidate string) string {
	var kept []string
	for _, w := range strings.Fields(candidate) {
		f := fold(w)
		if nameStopWords[f] {
			break
		}
		if nameRejects[f] || weekdayPattern.MatchString(f) || relativePattern.MatchString(f) {
			return ""
		}
		kept = append(kept, titleCase(w))
	}
	name := strings.Join(kept, " ")
	if len(name) < 2 || len(name) > 40 {
		return ""
	}
	return name
}

func titleCase(w string) string {
	r := []rune(strings.ToLower(w))
	if len(r) == 0 {
		return w
	}
	r[0] = unicode.ToUpper(r[0])
	for i := 1; i < len(r); i++ {
		if r[i-1] == '-' || r[i-1] == '\'' {
			r[i] = unicode.ToUpper(r[i])
		}
	}
	return string(r)
}
