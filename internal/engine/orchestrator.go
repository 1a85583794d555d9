// Package engine runs one dialogue turn end to end: session load, intent
// parsing, state transition, availability check, booking, reply rendering
// and persistence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ent0n29/voicedesk/internal/availability"
	"github.com/ent0n29/voicedesk/internal/booking"
	"github.com/ent0n29/voicedesk/internal/conversation"
	"github.com/ent0n29/voicedesk/internal/dialogue"
	"github.com/ent0n29/voicedesk/internal/logging"
	"github.com/ent0n29/voicedesk/internal/nlu"
	"github.com/ent0n29/voicedesk/internal/observability"
	"github.com/ent0n29/voicedesk/internal/policy"
	"github.com/ent0n29/voicedesk/internal/store"
	"github.com/ent0n29/voicedesk/internal/tenant"
)

// ErrUnknownTenant is returned alongside an apology when the tenant cannot be resolved.
var ErrUnknownTenant = errors.New("unknown tenant")

const (
	ChannelPhone = "phone"
	ChannelChat  = "chat"
)

// Input is one caller utterance.
type Input struct {
	TenantID string
	CallID   string
	CallerID string
	// Transcript is the utterance; conversation.GreetingSentinel or empty opens the call.
	Transcript string
	// History holds earlier turns of this call and is used only when the
	// session store cannot be read.
	History []conversation.Turn
	Channel string
}

// Output is what to say next. Response is never empty.
type Output struct {
	Response string
	State    dialogue.State
	Code     dialogue.ResponseCode
	EndCall  bool
	Escalate bool
	// Degraded is set when the session was rebuilt from history.
	Degraded bool
}

// Config wires the orchestrator's collaborators. Transcripts and Metrics are optional.
type Config struct {
	Tenants     tenant.Directory
	Sessions    *conversation.Store
	Transcripts store.Transcripts
	Parser      nlu.Parser
	Machine     dialogue.Machine
	Checker     *availability.Checker
	Booker      *booking.Booker
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	Location    *time.Location
	Now         func() time.Time
}

// Orchestrator processes turns. It is safe for concurrent use across calls;
// turns of one call must be serialized by the caller.
type Orchestrator struct {
	cfg Config
}

func New(cfg Config) *Orchestrator {
	if cfg.Parser == nil {
		cfg.Parser = nlu.RuleParser{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{cfg: cfg}
}

// ProcessTurn runs one turn. It always returns a speakable Output; the error
// is informational for transports that want to map it to a status code.
func (o *Orchestrator) ProcessTurn(ctx context.Context, in Input) (out Output, err error) {
	started := o.cfg.Now()
	channel := in.Channel
	if channel == "" {
		channel = ChannelPhone
	}
	logger := logging.From(ctx)
	if logger == slog.Default() {
		logger = o.cfg.Logger
	}
	logger = logger.With("call_id", in.CallID, "tenant_id", in.TenantID, "channel", channel)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("turn panicked", "panic", r, "stack", string(debug.Stack()))
			out = o.apology(dialogue.RespTechnicalIssue)
			err = fmt.Errorf("turn panicked: %v", r)
		}
		o.cfg.Metrics.ObserveTurn(channel, string(out.State), o.cfg.Now().Sub(started))
	}()

	t, err := o.cfg.Tenants.Tenant(ctx, in.TenantID)
	if err != nil {
		logger.Warn("tenant lookup failed", "error", err)
		if errors.Is(err, tenant.ErrNotFound) {
			err = fmt.Errorf("%w: %s", ErrUnknownTenant, in.TenantID)
		}
		return o.apology(dialogue.RespTechnicalIssue), err
	}

	loc := t.Location(o.cfg.Location)
	hints := nlu.Hints{Now: o.cfg.Now().In(loc), Services: t.ServiceNames()}
	render := dialogue.RenderInput{BusinessName: t.DisplayName(), Services: hints.Services}

	sess, degraded := o.loadSession(ctx, logger, in, hints)

	text := strings.TrimSpace(in.Transcript)
	if text == "" || text == conversation.GreetingSentinel {
		out = o.greet(sess, render)
		o.persist(ctx, logger, sess, degraded)
		o.recordTranscript(ctx, logger, in, "", out.Response)
		out.Degraded = degraded
		return out, nil
	}

	if sess.Collected.Phone == "" && in.CallerID != "" {
		sess.Collected.Phone = in.CallerID
	}

	hints.Expecting = expecting(sess)
	intent := o.cfg.Parser.Parse(text, hints)
	logger.Debug("turn parsed", "state", sess.State, "intent", intent.Kind, "confidence", intent.Confidence)

	res := o.cfg.Machine.Transition(sess, intent)
	if res.ShouldCheckAvailability {
		res = o.checkAvailability(ctx, logger, t, res, &render)
	}
	if res.ShouldBook {
		res = o.book(ctx, logger, t, res, channel)
	}

	render.Collected = res.Session.Collected
	out = Output{
		Response: dialogue.Render(res.Response, render),
		State:    res.State(),
		Code:     res.Response,
		EndCall:  res.State().Terminal(),
		Escalate: res.State() == dialogue.StateEscalate,
		Degraded: degraded,
	}
	if out.Response == "" {
		out.Response = dialogue.FallbackReply
	}

	o.persist(ctx, logger, res.Session, degraded)
	o.recordTranscript(ctx, logger, in, text, out.Response)
	logger.Info("turn processed", "state", out.State, "response_code", out.Code, "degraded", degraded)
	return out, nil
}

func (o *Orchestrator) loadSession(ctx context.Context, logger *slog.Logger, in Input, hints nlu.Hints) (dialogue.Session, bool) {
	sess, err := o.cfg.Sessions.Get(ctx, in.CallID, in.TenantID)
	if err == nil {
		return sess, false
	}
	logger.Warn("session store unavailable, rebuilding from history", "error", err, "history_turns", len(in.History))
	o.cfg.Metrics.ObserveSessionFallback("load")
	return conversation.Reconstruct(in.CallID, in.TenantID, in.History, o.cfg.Parser, hints), true
}

func (o *Orchestrator) greet(sess dialogue.Session, render dialogue.RenderInput) Output {
	code := dialogue.RespGreeting
	if !sess.Collected.Empty() && !sess.State.Terminal() {
		// Reconnect mid-dialogue: repeat the pending question instead of starting over.
		if slot := dialogue.ExpectedSlot(sess.State); slot != "" {
			code = askFor(slot)
		}
	}
	render.Collected = sess.Collected
	return Output{Response: dialogue.Render(code, render), State: sess.State, Code: code}
}

func (o *Orchestrator) checkAvailability(ctx context.Context, logger *slog.Logger, t tenant.Tenant, res dialogue.Result, render *dialogue.RenderInput) dialogue.Result {
	c := res.Session.Collected
	duration := o.cfg.Booker.Duration(t, c.Service)
	check, err := o.cfg.Checker.Check(ctx, t, c.Date, c.Time, duration)
	if err != nil {
		logger.Error("availability check failed", "error", err, "date", c.Date, "time", c.Time)
		o.cfg.Metrics.ObserveAvailability("error")
		return o.cfg.Machine.ApplyCheckError(res.Session)
	}
	if check.Available {
		o.cfg.Metrics.ObserveAvailability("available")
		return dialogue.ApplyAvailable(res.Session)
	}

	o.cfg.Metrics.ObserveAvailability(string(check.Reason))
	logger.Info("slot unavailable", "reason", check.Reason, "date", c.Date, "time", c.Time, "alternatives", check.Alternatives)
	render.Alternatives = check.Alternatives
	if check.Reason == availability.ReasonOutsideHours && check.Hours != nil {
		render.OpenFrom, render.OpenUntil = check.Hours.Open, check.Hours.Close
	}
	if check.Reason == availability.ReasonClosed {
		return dialogue.ApplyFailure(res.Session, dialogue.FailureClosedDay)
	}
	return dialogue.ApplyFailure(res.Session, dialogue.FailureSlotTaken)
}

func (o *Orchestrator) book(ctx context.Context, logger *slog.Logger, t tenant.Tenant, res dialogue.Result, channel string) dialogue.Result {
	source := booking.SourcePhone
	if channel == ChannelChat {
		source = booking.SourceChat
	}
	appt, err := o.cfg.Booker.Book(ctx, booking.Request{
		Tenant: t,
		CallID: res.Session.CallID,
		Slots:  res.Session.Collected,
		Source: source,
	})
	switch {
	case err == nil:
		o.cfg.Metrics.ObserveBooking("booked")
		logger.Info("appointment booked", "appointment_id", appt.ID, "start", appt.StartTime, "phone", policy.MaskPhone(appt.CustomerPhone))
		return dialogue.ApplyBooked(res.Session)
	case errors.Is(err, booking.ErrSlotJustBooked):
		o.cfg.Metrics.ObserveBooking("just_booked")
		return dialogue.ApplyFailure(res.Session, dialogue.FailureJustBooked)
	default:
		o.cfg.Metrics.ObserveBooking("error")
		logger.Error("booking failed", "error", err)
		return dialogue.ApplyBookingFailed(res.Session)
	}
}

// persist saves or archives the session. Failures are logged and counted;
// they never change the reply.
func (o *Orchestrator) persist(ctx context.Context, logger *slog.Logger, sess dialogue.Session, degraded bool) {
	var err error
	op := "save"
	if sess.State.Terminal() {
		op = "archive"
		err = o.cfg.Sessions.Archive(ctx, sess)
	} else {
		err = o.cfg.Sessions.Save(ctx, sess)
	}
	if err != nil {
		o.cfg.Metrics.ObserveSessionFallback(op)
		logger.Warn("session persist failed", "op", op, "error", err, "degraded", degraded)
	}
}

func (o *Orchestrator) recordTranscript(ctx context.Context, logger *slog.Logger, in Input, user, assistant string) {
	if o.cfg.Transcripts == nil {
		return
	}
	now := o.cfg.Now().UTC()
	records := make([]store.TurnRecord, 0, 2)
	if user != "" {
		content, redacted := policy.RedactPII(user)
		records = append(records, store.TurnRecord{CallID: in.CallID, TenantID: in.TenantID, Role: conversation.RoleUser, Content: content, PIIRedacted: redacted, CreatedAt: now})
	}
	records = append(records, store.TurnRecord{CallID: in.CallID, TenantID: in.TenantID, Role: conversation.RoleAssistant, Content: assistant, CreatedAt: now})
	for _, r := range records {
		if err := o.cfg.Transcripts.SaveTurn(ctx, r); err != nil {
			logger.Warn("transcript write failed", "error", err)
			return
		}
	}
}

func (o *Orchestrator) apology(code dialogue.ResponseCode) Output {
	return Output{
		Response: dialogue.Render(code, dialogue.RenderInput{}),
		State:    dialogue.StateError,
		Code:     code,
	}
}

func expecting(s dialogue.Session) dialogue.Slot {
	if slot := dialogue.ExpectedSlot(s.State); slot != "" {
		return slot
	}
	if (s.State == dialogue.StateCheckAvailability || s.State == dialogue.StateConfirm) && s.Collected.Name == "" {
		return dialogue.SlotName
	}
	return ""
}

func askFor(slot dialogue.Slot) dialogue.ResponseCode {
	switch slot {
	case dialogue.SlotService:
		return dialogue.RespAskService
	case dialogue.SlotDate:
		return dialogue.RespAskDate
	case dialogue.SlotTime:
		return dialogue.RespAskTime
	default:
		return dialogue.RespAskName
	}
}
