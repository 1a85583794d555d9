package nlu

import (
	"regexp"
	"strconv"
	"time"
)

const isoDate = "2006-01-02"

var weekdays = map[string]time.Weekday{
	"zondag": time.Sunday, "maandag": time.Monday, "dinsdag": time.Tuesday, "woensdag": time.Wednesday,
	"donderdag": time.Thursday, "vrijdag": time.Friday, "zaterdag": time.Saturday,
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

var months = map[string]time.Month{
	"januari": time.January, "februari": time.February, "maart": time.March,
	"april": time.April, "mei": time.May, "juni": time.June, "juli": time.July,
	"augustus": time.August, "september": time.September, "oktober": time.October,
	"november": time.November, "december": time.December,
	"jan": time.January, "feb": time.February, "mrt": time.March, "apr": time.April,
	"jun": time.June, "jul": time.July, "aug": time.August, "sep": time.September,
	"sept": time.September, "okt": time.October, "nov": time.November, "dec": time.December,
}

var (
	isoDatePattern  = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dayMonthPattern = regexp.MustCompile(`\b(\d{1,2})[/\-](\d{1,2})\b`)
	dayNamedPattern = regexp.MustCompile(`\b(\d{1,2})\s+(januari|februari|maart|april|mei|juni|juli|augustus|september|oktober|november|december|jan|feb|mrt|apr|jun|jul|aug|sept|sep|okt|nov|dec)\b`)
	relativePattern = regexp.MustCompile(`\b(overmorgen|morgen|vandaag|tomorrow|today)\b`)
	weekdayPattern  = regexp.MustCompile(`\b(maandag|dinsdag|woensdag|donderdag|vrijdag|zaterdag|zondag|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	relativeOffsets = map[string]int{"vandaag": 0, "today": 0, "morgen": 1, "tomorrow": 1, "overmorgen": 2}
)

// parseDate finds the first date expression in the normalized text t and
// returns it as YYYY-MM-DD together with the matched byte span.
// Relative expressions are resolved against now, in now's location.
func parseDate(t string, now time.Time) (string, []int) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if m := isoDatePattern.FindStringSubmatchIndex(t); m != nil {
		y, _ := strconv.Atoi(t[m[2]:m[3]])
		mo, _ := strconv.Atoi(t[m[4]:m[5]])
		d, _ := strconv.Atoi(t[m[6]:m[7]])
		if date, ok := validDate(y, time.Month(mo), d, now.Location()); ok {
			return date.Format(isoDate), m[:2]
		}
	}

	if m := dayNamedPattern.FindStringSubmatchIndex(t); m != nil {
		d, _ := strconv.Atoi(t[m[2]:m[3]])
		mo := months[t[m[4]:m[5]]]
		if date, ok := upcoming(today, mo, d); ok {
			return date.Format(isoDate), m[:2]
		}
	}

	if m := dayMonthPattern.FindStringSubmatchIndex(t); m != nil {
		d, _ := strconv.Atoi(t[m[2]:m[3]])
		mo, _ := strconv.Atoi(t[m[4]:m[5]])
		if mo >= 1 && mo <= 12 {
			if date, ok := upcoming(today, time.Month(mo), d); ok {
				return date.Format(isoDate), m[:2]
			}
		}
	}

	if m := relativePattern.FindStringSubmatchIndex(t); m != nil {
		offset := relativeOffsets[t[m[2]:m[3]]]
		return today.AddDate(0, 0, offset).Format(isoDate), m[:2]
	}

	if m := weekdayPattern.FindStringSubmatchIndex(t); m != nil {
		target := weekdays[t[m[2]:m[3]]]
		diff := int(target) - int(today.Weekday())
		if diff <= 0 {
			diff += 7
		}
		return today.AddDate(0, 0, diff).Format(isoDate), m[:2]
	}

	return "", nil
}

func validDate(y int, mo time.Month, d int, loc *time.Location) (time.Time, bool) {
	date := time.Date(y, mo, d, 0, 0, 0, 0, loc)
	if date.Year() != y || date.Month() != mo || date.Day() != d {
		return time.Time{}, false
	}
	return date, true
}

// upcoming resolves a day and month without a year to the next occurrence on
// or after today.
func upcoming(today time.Time, mo time.Month, d int) (time.Time, bool) {
	date, ok := validDate(today.Year(), mo, d, today.Location())
	if !ok {
		return time.Time{}, false
	}
	if date.Before(today) {
		return validDate(today.Year()+1, mo, d, today.Location())
	}
	return date, true
}
