package dialogue

// DefaultMaxRetries is how many unproductive answers a slot tolerates before
// the call is handed to a human.
const DefaultMaxRetries = 2

// Result is the outcome of one transition. Session already carries the new
// state, merged slots and updated retry counters.
type Result struct {
	Session                 Session
	Response                ResponseCode
	ShouldCheckAvailability bool
	ShouldBook              bool
}

// State is a shortcut for r.Session.State.
func (r Result) State() State {
	return r.Session.State
}

// Machine is the slot-filling state machine. The zero value uses DefaultMaxRetries.
type Machine struct {
	MaxRetries int
}

var collectOrder = []Slot{SlotService, SlotDate, SlotTime}

// ExpectedSlot returns the slot a state is asking for, or "" when the state
// does not collect anything.
func ExpectedSlot(state State) Slot {
	switch state {
	case StateGreeting, StateCollectService:
		return SlotService
	case StateCollectDate:
		return SlotDate
	case StateCollectTime:
		return SlotTime
	case StateCollectName:
		return SlotName
	default:
		return ""
	}
}

func collectState(slot Slot) State {
	switch slot {
	case SlotService:
		return StateCollectService
	case SlotDate:
		return StateCollectDate
	case SlotTime:
		return StateCollectTime
	default:
		return StateCollectName
	}
}

func askCode(slot Slot, retry bool) ResponseCode {
	switch slot {
	case SlotService:
		if retry {
			return RespAskServiceRetry
		}
		return RespAskService
	case SlotDate:
		if retry {
			return RespAskDateRetry
		}
		return RespAskDate
	case SlotTime:
		if retry {
			return RespAskTimeRetry
		}
		return RespAskTime
	default:
		if retry {
			return RespAskNameRetry
		}
		return RespAskName
	}
}

// Transition applies one parsed utterance to a session. It never mutates its
// arguments and performs no I/O.
func (m Machine) Transition(s Session, in Intent) Result {
	next := s.Clone()
	if next.State == "" {
		next.State = StateGreeting
	}

	switch next.State {
	case StateSuccess:
		return result(next, StateSuccess, RespAlreadyDone)
	case StateEscalate:
		return result(next, StateEscalate, RespEscalated)
	case StateError:
		return result(next, StateError, RespTechnicalIssue)
	}

	if in.Kind == IntentCancel || in.Kind == IntentReschedule {
		return result(next, StateEscalate, RespEscalateCancelReschedule)
	}

	changed := next.Collected.Merge(in.Entities)
	bookingChanged := containsAny(changed, SlotService, SlotDate, SlotTime)

	switch next.State {
	case StateGreeting:
		if !bookingChanged {
			if next.Collected.Service == "" {
				return result(next, StateCollectService, RespAskService)
			}
		}
		return m.advance(next)

	case StateCollectService, StateCollectDate, StateCollectTime:
		if !bookingChanged {
			return m.retry(next)
		}
		return m.advance(next)

	case StateCollectName:
		if bookingChanged || !m.ready(next) {
			return m.advance(next)
		}
		if next.Collected.Name == "" {
			return m.retry(next)
		}
		return result(next, StateConfirm, RespConfirmDetails)

	case StateCheckAvailability:
		return m.advance(next)

	case StateConfirm, StateBook:
		if bookingChanged || !m.ready(next) {
			return m.advance(next)
		}
		if next.Collected.Name == "" {
			return result(next, StateCollectName, RespAskName)
		}
		if in.Kind == IntentConfirmNo {
			return m.reprompt(next, RetryConfirm, StateConfirm, RespAskWhatToChange)
		}
		if containsAny(changed, SlotName) {
			return result(next, StateConfirm, RespConfirmDetails)
		}
		r := result(next, StateBook, RespBooking)
		r.ShouldBook = true
		return r
	}

	r := m.advance(next)
	r.Response = RespUnexpectedState
	return r
}

// Transition runs the default machine.
func Transition(s Session, in Intent) Result {
	return Machine{}.Transition(s, in)
}

func (m Machine) maxRetries() int {
	if m.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return m.MaxRetries
}

func (m Machine) ready(s Session) bool {
	return firstMissing(s.Collected) == ""
}

// advance moves to the first collection state whose slot is still empty, or
// to CHECK_AVAILABILITY once service, date and time are known.
func (m Machine) advance(s Session) Result {
	if slot := firstMissing(s.Collected); slot != "" {
		return result(s, collectState(slot), askCode(slot, false))
	}
	r := result(s, StateCheckAvailability, RespCheckAvailability)
	r.ShouldCheckAvailability = true
	return r
}

func (m Machine) retry(s Session) Result {
	slot := ExpectedSlot(s.State)
	if missing := firstMissing(s.Collected); missing != "" {
		slot = missing
	}
	return m.reprompt(s, slot, collectState(slot), askCode(slot, true))
}

// reprompt counts one more attempt under key and escalates once the count
// exceeds the retry limit. s must own its Retries map.
func (m Machine) reprompt(s Session, key Slot, state State, code ResponseCode) Result {
	s.Retries[key]++
	if s.Retries[key] > m.maxRetries() {
		return result(s, StateEscalate, RespEscalateMaxRetries)
	}
	return result(s, state, code)
}

// ApplyCheckError keeps a session in CHECK_AVAILABILITY after the calendar
// could not be read, so the next turn checks again. Repeated failures escalate.
func (m Machine) ApplyCheckError(s Session) Result {
	return m.reprompt(s.Clone(), RetryAvailability, StateCheckAvailability, RespAgendaUnavailable)
}

// StateFor is the state a session with the given slots belongs in when no
// availability check has run yet: the first empty collection state, else
// CHECK_AVAILABILITY.
func StateFor(c Slots) State {
	if slot := firstMissing(c); slot != "" {
		return collectState(slot)
	}
	return StateCheckAvailability
}

func firstMissing(c Slots) Slot {
	for _, slot := range collectOrder {
		if c.Get(slot) == "" {
			return slot
		}
	}
	return ""
}

func result(s Session, state State, code ResponseCode) Result {
	s.State = state
	return Result{Session: s, Response: code}
}

func containsAny(changed []Slot, want ...Slot) bool {
	for _, c := range changed {
		for _, w := range want {
			if c == w {
				return true
			}
		}
	}
	return false
}

// Failure names why a booking attempt for the collected date and time cannot proceed.
type Failure string

const (
	// FailureClosedDay resets date and time.
	FailureClosedDay Failure = "closed_day"
	// FailureSlotTaken resets time only.
	FailureSlotTaken Failure = "slot_taken"
	// FailureJustBooked is a slot taken between check and insert. Resets time only.
	FailureJustBooked Failure = "just_booked"
)

// ApplyAvailable moves a checked session forward: CONFIRM when the caller's
// name is known, otherwise COLLECT_NAME.
func ApplyAvailable(s Session) Result {
	next := s.Clone()
	if next.Collected.Name == "" {
		return result(next, StateCollectName, RespSlotAvailableAskName)
	}
	return result(next, StateConfirm, RespConfirmDetails)
}

// ApplyFailure demotes a session after a failed availability check or a lost
// booking race and clears exactly the slots implicated.
func ApplyFailure(s Session, f Failure) Result {
	next := s.Clone()
	switch f {
	case FailureClosedDay:
		next.Collected.Date = ""
		next.Collected.Time = ""
		return result(next, StateCollectTime, RespClosedOnDay)
	case FailureJustBooked:
		next.Collected.Time = ""
		return result(next, StateCollectTime, RespSlotJustBooked)
	default:
		next.Collected.Time = ""
		return result(next, StateCollectTime, RespSlotUnavailable)
	}
}

// ApplyBooked marks the session as successfully booked.
func ApplyBooked(s Session) Result {
	return result(s.Clone(), StateSuccess, RespBookingSuccess)
}

// ApplyBookingFailed marks the session as failed after a non-conflict booking error.
func ApplyBookingFailed(s Session) Result {
	return result(s.Clone(), StateError, RespBookingFailed)
}

// ApplyError marks the session as failed after an unexpected error.
func ApplyError(s Session) Result {
	return result(s.Clone(), StateError, RespTechnicalIssue)
}
