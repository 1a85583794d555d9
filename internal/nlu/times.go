package nlu

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const hourGroup = `(\d{1,2}|een|twee|drie|vier|vijf|zes|zeven|acht|negen|tien|elf|twaalf|dertien|veertien|vijftien|zestien|zeventien|achttien|negentien|twintig)`

var hourWords = map[string]int{
	"een": 1, "twee": 2, "drie": 3, "vier": 4, "vijf": 5, "zes": 6,
	"zeven": 7, "acht": 8, "negen": 9, "tien": 10, "elf": 11, "twaalf": 12,
	"dertien": 13, "veertien": 14, "vijftien": 15, "zestien": 16, "zeventien": 17,
	"achttien": 18, "negentien": 19, "twintig": 20,
}

var (
	clockPattern       = regexp.MustCompile(`\b(\d{1,2})\s*(?::|\.|u|h)\s*(\d{2})\b`)
	halfPattern        = regexp.MustCompile(`\bhalf\s+` + hourGroup + `\b`)
	quarterToPattern   = regexp.MustCompile(`\bkwart\s+voor\s+` + hourGroup + `\b`)
	quarterPastPattern = regexp.MustCompile(`\bkwart\s+over\s+` + hourGroup + `\b`)
	hourUnitPattern    = regexp.MustCompile(`\b` + hourGroup + `\s*(?:uur|u|h)\b`)
	// "om een" is too often the article, so the bare form skips it.
	atHourPattern    = regexp.MustCompile(`\bom\s+(\d{1,2}|twee|drie|vier|vijf|zes|zeven|acht|negen|tien|elf|twaalf|dertien|veertien|vijftien|zestien|zeventien|achttien|negentien|twintig)\b`)
	bareHourPattern  = regexp.MustCompile(`^\s*(\d{1,2})\s*$`)
	afternoonPattern = regexp.MustCompile(`\b(?:'?s\s+)?(?:middags?|namiddag|avonds?|pm)\b`)
)

func hourValue(s string) (int, bool) {
	if h, ok := hourWords[s]; ok {
		return h, true
	}
	h, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return h, true
}

// businessHour reads small hours as afternoon: nobody books at 3 in the night.
func businessHour(h int) int {
	if h < 7 {
		return h + 12
	}
	return h
}

func formatClock(h, m int) (string, bool) {
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, m), true
}

// parseTime finds the first time expression in t and returns it as HH:MM
// together with the matched span. Date and phone spans must already be blanked.
func parseTime(t string) (string, []int) {
	clock, loc := matchTime(t)
	if clock == "" {
		return "", nil
	}
	if afternoonPattern.MatchString(t) {
		h, _ := strconv.Atoi(clock[:2])
		if h < 12 {
			clock, _ = formatClock(h+12, mustAtoi(clock[3:]))
		}
	}
	return clock, loc
}

func matchTime(t string) (string, []int) {
	if m := clockPattern.FindStringSubmatchIndex(t); m != nil {
		h, _ := strconv.Atoi(t[m[2]:m[3]])
		min, _ := strconv.Atoi(t[m[4]:m[5]])
		if clock, ok := formatClock(h, min); ok {
			return clock, m[:2]
		}
	}

	if m := halfPattern.FindStringSubmatchIndex(t); m != nil {
		if h, ok := hourValue(t[m[2]:m[3]]); ok {
			if clock, ok := formatClock(businessHour(h-1), 30); ok {
				return clock, m[:2]
			}
		}
	}

	if m := quarterToPattern.FindStringSubmatchIndex(t); m != nil {
		if h, ok := hourValue(t[m[2]:m[3]]); ok {
			if clock, ok := formatClock(businessHour(h-1), 45); ok {
				return clock, m[:2]
			}
		}
	}

	if m := quarterPastPattern.FindStringSubmatchIndex(t); m != nil {
		if h, ok := hourValue(t[m[2]:m[3]]); ok {
			if clock, ok := formatClock(businessHour(h), 15); ok {
				return clock, m[:2]
			}
		}
	}

	for _, p := range []*regexp.Regexp{hourUnitPattern, atHourPattern} {
		if m := p.FindStringSubmatchIndex(t); m != nil {
			if h, ok := hourValue(t[m[2]:m[3]]); ok {
				if clock, ok := formatClock(businessHour(h), 0); ok {
					return clock, m[:2]
				}
			}
		}
	}

	trimmed := strings.Trim(t, " .,!?")
	if m := bareHourPattern.FindStringSubmatch(trimmed); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h >= 7 && h <= 20 {
			clock, _ := formatClock(h, 0)
			start := strings.Index(t, m[1])
			return clock, []int{start, start + len(m[1])}
		}
	}

	return "", nil
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
