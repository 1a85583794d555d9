package dialogue

import "time"

// State is a node of the booking dialogue.
type State string

const (
	StateGreeting          State = "GREETING"
	StateCollectService    State = "COLLECT_SERVICE"
	StateCollectDate       State = "COLLECT_DATE"
	StateCollectTime       State = "COLLECT_TIME"
	StateCollectName       State = "COLLECT_NAME"
	StateCheckAvailability State = "CHECK_AVAILABILITY"
	StateConfirm           State = "CONFIRM"
	StateBook              State = "BOOK"
	StateSuccess           State = "SUCCESS"
	StateEscalate          State = "ESCALATE"
	StateError             State = "ERROR"
)

// Terminal reports whether no further turns can change the session.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateEscalate, StateError:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateGreeting, StateCollectService, StateCollectDate, StateCollectTime,
		StateCollectName, StateCheckAvailability, StateConfirm, StateBook,
		StateSuccess, StateEscalate, StateError:
		return true
	default:
		return false
	}
}

// Slot names a field of Slots. Used as the key of the retry counters.
type Slot string

const (
	SlotService Slot = "service"
	SlotDate    Slot = "date"
	SlotTime    Slot = "time"
	SlotName    Slot = "name"
	SlotPhone   Slot = "phone"
)

// Retry counters for re-prompts that are not about a missing slot.
const (
	RetryConfirm      Slot = "confirm"
	RetryAvailability Slot = "availability"
)

// Slots holds the booking fields collected so far. Empty string means unknown.
// Date is YYYY-MM-DD and Time is HH:MM, both in the tenant's local time zone.
type Slots struct {
	Service string `json:"service,omitempty"`
	Date    string `json:"date,omitempty"`
	Time    string `json:"time,omitempty"`
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Get returns the value of one slot.
func (s Slots) Get(slot Slot) string {
	switch slot {
	case SlotService:
		return s.Service
	case SlotDate:
		return s.Date
	case SlotTime:
		return s.Time
	case SlotName:
		return s.Name
	case SlotPhone:
		return s.Phone
	default:
		return ""
	}
}

// Merge copies every non-empty field of in over s and returns the slots whose
// value changed.
func (s *Slots) Merge(in Slots) []Slot {
	var changed []Slot
	set := func(dst *string, v string, slot Slot) {
		if v == "" || *dst == v {
			return
		}
		*dst = v
		changed = append(changed, slot)
	}
	set(&s.Service, in.Service, SlotService)
	set(&s.Date, in.Date, SlotDate)
	set(&s.Time, in.Time, SlotTime)
	set(&s.Name, in.Name, SlotName)
	set(&s.Phone, in.Phone, SlotPhone)
	return changed
}

// Empty reports whether no slot is set.
func (s Slots) Empty() bool {
	return s == Slots{}
}

// IntentKind classifies what the caller is trying to do in one utterance.
type IntentKind string

const (
	IntentBook        IntentKind = "book_appointment"
	IntentCancel      IntentKind = "cancel_appointment"
	IntentReschedule  IntentKind = "reschedule_appointment"
	IntentQuestion    IntentKind = "question"
	IntentConfirmYes  IntentKind = "confirm_yes"
	IntentConfirmNo   IntentKind = "confirm_no"
	IntentProvideInfo IntentKind = "provide_info"
	IntentGreeting    IntentKind = "greeting"
	IntentUnclear     IntentKind = "unclear"
)

// Intent is the parse of one utterance. Confidence is diagnostic only.
type Intent struct {
	Kind       IntentKind `json:"intent"`
	Entities   Slots      `json:"entities"`
	Confidence float64    `json:"confidence"`
	Raw        string     `json:"raw"`
}

// Session is the persisted dialogue state of one call.
type Session struct {
	CallID    string       `json:"call_id"`
	TenantID  string       `json:"tenant_id"`
	State     State        `json:"state"`
	Collected Slots        `json:"collected"`
	Retries   map[Slot]int `json:"retries"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewSession returns a fresh session in GREETING.
func NewSession(callID, tenantID string, now time.Time) Session {
	return Session{
		CallID:    callID,
		TenantID:  tenantID,
		State:     StateGreeting,
		Retries:   map[Slot]int{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	c := s
	c.Retries = make(map[Slot]int, len(s.Retries))
	for k, v := range s.Retries {
		c.Retries[k] = v
	}
	return c
}
