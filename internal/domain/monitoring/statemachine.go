package monitoring

import (
	"fmt"

	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VIEWER STATE MACHINE
// ══════════════════════════════════════════════════════════════════════════════

// State is the viewer's position in the consent and monitoring flow.
type State int

const (
	StateIdle State = iota
	StateReadyToStart
	StateAwaitingConsent
	StateAcquiring
	StateMonitoring
	StateFinalizing
	StateError
)

var stateNames = [...]string{
	StateIdle:            "idle",
	StateReadyToStart:    "ready_to_start",
	StateAwaitingConsent: "awaiting_consent",
	StateAcquiring:       "acquiring",
	StateMonitoring:      "monitoring",
	StateFinalizing:      "finalizing",
	StateError:           "error",
}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// HoldsCamera reports whether a stream may be live in this state.
func (s State) HoldsCamera() bool {
	return s == StateAcquiring || s == StateMonitoring
}

// Trigger is something that happened to the viewer.
type Trigger int

const (
	// TriggerSessionReady - resource allows monitoring and the session id is known.
	TriggerSessionReady Trigger = iota
	// TriggerBegin - the user asked to start.
	TriggerBegin
	// TriggerAccept - the user accepted the consent notice.
	TriggerAccept
	// TriggerDecline - the user declined the consent notice.
	TriggerDecline
	// TriggerAcquired - the camera stream is live.
	TriggerAcquired
	// TriggerAcquireFailed - the camera could not be opened.
	TriggerAcquireFailed
	// TriggerElapsed - the countdown reached zero.
	TriggerElapsed
	// TriggerFinalized - the backend acknowledged the end of the session.
	TriggerFinalized
	// TriggerFinalizeFailed - the backend rejected or missed the end of the session.
	TriggerFinalizeFailed
	// TriggerTeardown - resource change or unmount.
	TriggerTeardown
)

var triggerNames = [...]string{
	TriggerSessionReady:   "session_ready",
	TriggerBegin:          "begin",
	TriggerAccept:         "accept",
	TriggerDecline:        "decline",
	TriggerAcquired:       "acquired",
	TriggerAcquireFailed:  "acquire_failed",
	TriggerElapsed:        "elapsed",
	TriggerFinalized:      "finalized",
	TriggerFinalizeFailed: "finalize_failed",
	TriggerTeardown:       "teardown",
}

// String returns the trigger name.
func (t Trigger) String() string {
	if int(t) < len(triggerNames) {
		return triggerNames[t]
	}
	return fmt.Sprintf("trigger(%d)", int(t))
}

// Effect is a side effect the orchestrator must perform after a transition.
// Effects are returned in the order they must run.
type Effect int

const (
	EffectShowConsent Effect = iota
	EffectHideConsent
	EffectAcquireCamera
	EffectStartSession
	EffectStartCapture
	EffectStartCountdown
	EffectStopCapture
	EffectStopCountdown
	EffectReleaseCamera
	EffectFinalizeSession
	EffectCancelSession
	EffectReconcile
)

var effectNames = [...]string{
	EffectShowConsent:     "show_consent",
	EffectHideConsent:     "hide_consent",
	EffectAcquireCamera:   "acquire_camera",
	EffectStartSession:    "start_session",
	EffectStartCapture:    "start_capture",
	EffectStartCountdown:  "start_countdown",
	EffectStopCapture:     "stop_capture",
	EffectStopCountdown:   "stop_countdown",
	EffectReleaseCamera:   "release_camera",
	EffectFinalizeSession: "finalize_session",
	EffectCancelSession:   "cancel_session",
	EffectReconcile:       "reconcile",
}

// String returns the effect name.
func (e Effect) String() string {
	if int(e) < len(effectNames) {
		return effectNames[e]
	}
	return fmt.Sprintf("effect(%d)", int(e))
}

type edge struct {
	from State
	on   Trigger
}

type outcome struct {
	to      State
	effects []Effect
}

// stopAll is the shared shutdown sequence: loops first, then the stream.
var stopAll = []Effect{EffectStopCapture, EffectStopCountdown, EffectReleaseCamera}

var transitions = map[edge]outcome{
	{StateIdle, TriggerSessionReady}: {StateReadyToStart, nil},

	{StateReadyToStart, TriggerBegin}: {StateAwaitingConsent, []Effect{EffectShowConsent}},
	{StateError, TriggerBegin}:        {StateAwaitingConsent, []Effect{EffectShowConsent}},

	{StateAwaitingConsent, TriggerDecline}: {StateReadyToStart, []Effect{EffectHideConsent}},
	{StateAwaitingConsent, TriggerAccept}:  {StateAcquiring, []Effect{EffectHideConsent, EffectAcquireCamera}},

	{StateAcquiring, TriggerAcquired}: {StateMonitoring, []Effect{
		EffectStartSession, EffectStartCapture, EffectStartCountdown,
	}},
	{StateAcquiring, TriggerAcquireFailed}: {StateError, []Effect{EffectReleaseCamera}},

	{StateMonitoring, TriggerElapsed}: {StateFinalizing, append(append([]Effect{}, stopAll...), EffectFinalizeSession)},

	{StateFinalizing, TriggerFinalized}:      {StateIdle, []Effect{EffectReconcile}},
	{StateFinalizing, TriggerFinalizeFailed}: {StateError, nil},
}

// Transition is the pure transition function of the viewer. Teardown is legal
// from every state; from Idle it yields no effects. Any other undefined pair
// returns ErrIllegalTransition and leaves the state unchanged.
//
// A finalized run ends in Idle, which has no Begin edge: monitoring the same
// resource again takes a remount, which resolves the session and fires
// SessionReady. A failed run ends in Error, from which Begin is legal.
func Transition(from State, on Trigger) (State, []Effect, error) {
	if on == TriggerTeardown {
		return StateIdle, teardownEffects(from), nil
	}
	out, ok := transitions[edge{from, on}]
	if !ok {
		return from, nil, shared.ErrIllegalTransition.Wrap(
			fmt.Errorf("%s on %s", on, from))
	}
	effects := make([]Effect, len(out.effects))
	copy(effects, out.effects)
	return out.to, effects, nil
}

func teardownEffects(from State) []Effect {
	switch from {
	case StateAwaitingConsent:
		return []Effect{EffectHideConsent}
	case StateAcquiring:
		return []Effect{EffectReleaseCamera}
	case StateMonitoring:
		return append(append([]Effect{}, stopAll...), EffectCancelSession)
	default:
		return nil
	}
}

// CanTrigger reports whether on is legal from s.
func CanTrigger(s State, on Trigger) bool {
	if on == TriggerTeardown {
		return true
	}
	_, ok := transitions[edge{s, on}]
	return ok
}
