package dialogue

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ResponseCode selects the reply template for a turn.
type ResponseCode string

const (
	RespGreeting                 ResponseCode = "GREETING"
	RespAskService               ResponseCode = "ASK_SERVICE"
	RespAskServiceRetry          ResponseCode = "ASK_SERVICE_RETRY"
	RespAskDate                  ResponseCode = "ASK_DATE"
	RespAskDateRetry             ResponseCode = "ASK_DATE_RETRY"
	RespAskTime                  ResponseCode = "ASK_TIME"
	RespAskTimeRetry             ResponseCode = "ASK_TIME_RETRY"
	RespAskName                  ResponseCode = "ASK_NAME"
	RespAskNameRetry             ResponseCode = "ASK_NAME_RETRY"
	RespCheckAvailability        ResponseCode = "CHECK_AVAILABILITY"
	RespSlotAvailableAskName     ResponseCode = "SLOT_AVAILABLE_ASK_NAME"
	RespConfirmDetails           ResponseCode = "CONFIRM_DETAILS"
	RespAskWhatToChange          ResponseCode = "ASK_WHAT_TO_CHANGE"
	RespSlotUnavailable          ResponseCode = "SLOT_UNAVAILABLE"
	RespSlotJustBooked           ResponseCode = "SLOT_JUST_BOOKED"
	RespClosedOnDay              ResponseCode = "CLOSED_ON_DAY"
	RespBooking                  ResponseCode = "BOOKING"
	RespBookingSuccess           ResponseCode = "BOOKING_SUCCESS"
	RespBookingFailed            ResponseCode = "BOOKING_FAILED"
	RespEscalateCancelReschedule ResponseCode = "ESCALATE_CANCEL_RESCHEDULE"
	RespEscalateMaxRetries       ResponseCode = "ESCALATE_MAX_RETRIES"
	RespEscalated                ResponseCode = "ESCALATED"
	RespAlreadyDone              ResponseCode = "ALREADY_DONE"
	RespAgendaUnavailable        ResponseCode = "AGENDA_UNAVAILABLE"
	RespTechnicalIssue           ResponseCode = "TECHNICAL_ISSUE"
	RespUnexpectedState          ResponseCode = "UNEXPECTED_STATE"
)

// FallbackReply is spoken when a turn could not be processed at all.
const FallbackReply = "Excuseer, kan je dat herhalen?"

// RenderInput carries the context a template may need besides the slots.
type RenderInput struct {
	Collected    Slots
	BusinessName string
	Services     []string
	Alternatives []string
	// OpenFrom and OpenUntil are set when the reply should mention opening hours.
	OpenFrom  string
	OpenUntil string
}

var (
	weekdayNames = [...]string{"zondag", "maandag", "dinsdag", "woensdag", "donderdag", "vrijdag", "zaterdag"}
	monthNames   = [...]string{"januari", "februari", "maart", "april", "mei", "juni", "juli", "augustus", "september", "oktober", "november", "december"}
)

// Render produces the Dutch reply for a response code.
func Render(code ResponseCode, in RenderInput) string {
	c := in.Collected
	var text string
	switch code {
	case RespGreeting:
		if in.BusinessName != "" {
			text = fmt.Sprintf("Hallo, met %s. Waarmee kan ik je helpen?", in.BusinessName)
		} else {
			text = "Hallo. Waarmee kan ik je helpen?"
		}
	case RespAskService:
		if len(in.Services) > 0 {
			list := in.Services
			if len(list) > 5 {
				list = list[:5]
			}
			text = "Waarvoor wil je graag een afspraak maken? We bieden onder andere " + strings.Join(list, ", ") + " aan."
		} else {
			text = "Waarvoor wil je graag een afspraak maken?"
		}
	case RespAskServiceRetry:
		text = "Sorry, dat heb ik niet goed begrepen. Welke behandeling wil je graag?"
	case RespAskDate:
		text = "Op welke dag zou je graag langskomen?"
	case RespAskDateRetry:
		text = "Sorry, welke dag bedoel je precies?"
	case RespAskTime:
		text = "Om hoe laat zou je willen komen?"
	case RespAskTimeRetry:
		text = "Sorry, ik heb het uur niet goed verstaan. Hoe laat wil je komen?"
	case RespAskName:
		text = "Mag ik je naam weten?"
	case RespAskNameRetry:
		text = "Sorry, ik heb je naam niet goed verstaan. Kan je die nog eens herhalen?"
	case RespCheckAvailability:
		text = "Even kijken of dat beschikbaar is."
	case RespSlotAvailableAskName:
		text = fmt.Sprintf("Dat kan, %s om %s is nog vrij. Mag ik je naam weten?", FormatDate(c.Date), c.Time)
	case RespConfirmDetails:
		service := c.Service
		if service == "" {
			service = "een afspraak"
		}
		text = fmt.Sprintf("%s, ik kan je inplannen op %s om %s voor %s. Klopt dat?", c.Name, FormatDate(c.Date), c.Time, service)
	case RespAskWhatToChange:
		text = "Wat wil je graag aanpassen, de dag of het uur?"
	case RespSlotUnavailable:
		switch {
		case len(in.Alternatives) > 0:
			alts := in.Alternatives
			if len(alts) > 2 {
				alts = alts[:2]
			}
			text = fmt.Sprintf("Dat tijdstip is helaas bezet. Ik heb nog %s vrij. Past een van die tijden?", strings.Join(alts, " of "))
		case in.OpenFrom != "" && in.OpenUntil != "":
			text = fmt.Sprintf("Dat tijdstip kan helaas niet. We zijn die dag open van %s tot %s. Welk uur past je?", in.OpenFrom, in.OpenUntil)
		default:
			text = "Dat tijdstip is helaas niet beschikbaar. Heb je een ander uur in gedachten?"
		}
	case RespSlotJustBooked:
		text = "Dat uur is net door iemand anders vastgelegd. Welk ander uur past je?"
	case RespClosedOnDay:
		text = "We zijn dan helaas gesloten. Kan het op een andere dag?"
	case RespBooking:
		text = "Momentje, ik plan dat nu in."
	case RespBookingSuccess:
		text = fmt.Sprintf("Dat is genoteerd. %s, je afspraak staat op %s om %s. Tot dan.", c.Name, FormatDate(c.Date), c.Time)
	case RespBookingFailed:
		text = "Er ging iets mis bij het opslaan. Ik verbind je door met een medewerker."
	case RespEscalateCancelReschedule:
		text = "Daarvoor verbind ik je door met een medewerker. Eén momentje."
	case RespEscalateMaxRetries:
		text = "Ik begrijp het niet helemaal. Ik verbind je door met een medewerker."
	case RespEscalated:
		text = "Een medewerker neemt zo snel mogelijk over. Eén momentje."
	case RespAlreadyDone:
		text = "Je afspraak is al bevestigd. Kan ik nog iets anders voor je doen?"
	case RespAgendaUnavailable:
		text = "Ik kan de agenda even niet raadplegen. Mag ik je vragen dat nog eens te herhalen?"
	case RespTechnicalIssue, RespUnexpectedState:
		text = "Er ging iets mis. Probeer het opnieuw of bel ons later terug."
	default:
		text = "Waarmee kan ik je helpen?"
	}
	return Sanitize(text)
}

// FormatDate renders YYYY-MM-DD as "dinsdag 3 maart". Unparseable input is returned as is.
func FormatDate(iso string) string {
	d, err := time.Parse("2006-01-02", iso)
	if err != nil {
		return iso
	}
	return fmt.Sprintf("%s %d %s", weekdayNames[d.Weekday()], d.Day(), monthNames[d.Month()-1])
}

var (
	bannedPhrases = []string{
		"dit duurt maar een seconde",
		"geen probleem",
		"absoluut",
		"zeker weten",
		"super",
		"geweldig",
		"perfect",
		"fantastisch",
		"uitstekend",
		"wonderful",
	}
	bannedPattern = regexp.MustCompile(`(?i)\b(?:` + strings.Join(bannedPhrases, "|") + `)\b`)
	spacePattern  = regexp.MustCompile(`\s{2,}`)
	bangPattern   = regexp.MustCompile(`!+`)
)

// Sanitize strips filler phrases and exclamation marks from a reply.
func Sanitize(text string) string {
	out := bannedPattern.ReplaceAllString(text, "")
	out = spacePattern.ReplaceAllString(out, " ")
	out = bangPattern.ReplaceAllString(out, ".")
	return strings.TrimSpace(out)
}
