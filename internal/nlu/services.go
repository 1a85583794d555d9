package nlu

import (
	"regexp"
	"strings"
)

// MatchService maps an utterance onto the tenant catalog: exact name first,
// then the name contained in the utterance, then the first word of a
// multi-word name (at least four letters). It returns "" when nothing matches.
func MatchService(utterance string, catalog []string) string {
	t := normalize(utterance)
	if t == "" {
		return ""
	}
	trimmed := strings.Trim(t, " .,!?")
	for _, name := range catalog {
		if fold(name) == trimmed {
			return name
		}
	}
	for _, name := range catalog {
		if n := fold(name); n != "" && containsWord(t, n) {
			return name
		}
	}
	for _, name := range catalog {
		first := strings.Fields(fold(name))
		if len(first) > 0 && len([]rune(first[0])) >= 4 && containsWord(t, first[0]) {
			return name
		}
	}
	return ""
}

func containsWord(t, phrase string) bool {
	p := regexp.MustCompile(`\b` + regexp.QuoteMeta(phrase) + `\b`)
	return p.MatchString(t)
}

// Words dropped when the free text of an utterance is taken as the service.
var serviceFiller = map[string]bool{
	"ik": true, "wil": true, "wilde": true, "zou": true, "graag": true, "willen": true,
	"een": true, "de": true, "het": true, "voor": true, "om": true, "op": true, "aan": true,
	"afspraak": true, "afspraakje": true, "maken": true, "boeken": true, "inplannen": true,
	"reserveren": true, "vastleggen": true, "mag": true, "kan": true, "kunnen": true,
	"ja": true, "nee": true, "hallo": true, "hoi": true, "hey": true, "dag": true,
	"goedemorgen": true, "goedemiddag": true, "goedenavond": true, "alstublieft": true,
	"aub": true, "please": true, "dan": true, "nog": true, "even": true, "eens": true,
	"je": true, "u": true, "me": true, "mij": true, "mijn": true, "komen": true,
	"langskomen": true, "laten": true, "doen": true, "hebben": true, "is": true,
	"i": true, "want": true, "would": true, "like": true, "to": true, "a": true, "an": true,
	"the": true, "book": true, "appointment": true, "for": true, "uur": true,
	"euh": true, "uh": true, "uhm": true, "oke": true, "ok": true, "prima": true,
	"goed": true, "dus": true, "welke": true,
}

var punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s'\-]+`)

// freeTextService returns the cleaned free text of t, which must already have
// its date, time and phone spans blanked. It returns "" when nothing
// plausible remains.
func freeTextService(t string) string {
	t = punctuation.ReplaceAllString(t, " ")
	var kept []string
	for _, w := range strings.Fields(t) {
		if serviceFiller[w] {
			continue
		}
		kept = append(kept, w)
	}
	for len(kept) > 0 && kept[0] == "en" {
		kept = kept[1:]
	}
	for len(kept) > 0 && kept[len(kept)-1] == "en" {
		kept = kept[:len(kept)-1]
	}
	if len(kept) == 0 || len(kept) > 4 {
		return ""
	}
	out := strings.Join(kept, " ")
	if len(out) < 3 || nameRejects[out] {
		return ""
	}
	return out
}
