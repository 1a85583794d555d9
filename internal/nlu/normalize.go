package nlu

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lowercases s and strips diacritics so "Oké" and "oke" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Transcription regularly misspells Dutch weekday names.
var dayCorrections = map[string]string{
	"dinddag": "dinsdag", "dinkdag": "dinsdag", "dindag": "dinsdag", "dinsag": "dinsdag",
	"woendag": "woensdag", "winsdag": "woensdag", "wendag": "woensdag",
	"maanda": "maandag", "maadag": "maandag",
	"donddag": "donderdag", "donderda": "donderdag",
	"vrijda": "vrijdag", "vrida": "vrijdag",
	"zaterddag": "zaterdag", "zaterda": "zaterdag",
	"zonda": "zondag", "zonddag": "zondag",
}

var (
	wordPattern  = regexp.MustCompile(`[a-z]+`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// normalize returns the folded utterance with weekday misspellings corrected
// and whitespace collapsed. All span based extraction runs on this form.
func normalize(raw string) string {
	t := fold(raw)
	t = wordPattern.ReplaceAllStringFunc(t, func(w string) string {
		if c, ok := dayCorrections[w]; ok {
			return c
		}
		return w
	})
	return strings.TrimSpace(spacePattern.ReplaceAllString(t, " "))
}

// blank overwrites t[start:end] with spaces, keeping every other index stable.
func blank(t string, loc []int) string {
	if loc == nil {
		return t
	}
	return t[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + t[loc[1]:]
}
