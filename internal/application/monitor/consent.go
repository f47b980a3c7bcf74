// Package monitor implements the attention monitoring use cases: session
// resolution, the consent gate, camera acquisition, the capture and countdown
// loops, score reconciliation, and the per-resource Viewer that drives them
// through the monitoring state machine.
package monitor

import (
	"fmt"
	"sync"

	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// ConsentState is the position of the consent gate.
type ConsentState int

const (
	ConsentIdle ConsentState = iota
	ConsentAwaiting
	ConsentAccepted
)

func (s ConsentState) String() string {
	switch s {
	case ConsentIdle:
		return "idle"
	case ConsentAwaiting:
		return "awaiting"
	case ConsentAccepted:
		return "accepted"
	default:
		return fmt.Sprintf("consent(%d)", int(s))
	}
}

// ConsentGate blocks camera access until the user explicitly accepts.
// It has no side effects of its own: the accept callback is the only place
// camera access may start.
type ConsentGate struct {
	mu    sync.Mutex
	state ConsentState
}

// NewConsentGate creates an idle gate.
func NewConsentGate() *ConsentGate {
	return &ConsentGate{}
}

// State returns the current gate state.
func (g *ConsentGate) State() ConsentState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Request opens the consent notice.
func (g *ConsentGate) Request() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == ConsentAwaiting {
		return nil
	}
	g.state = ConsentAwaiting
	return nil
}

// Accept records the user's acceptance and runs onAccept synchronously,
// inside the same call, so the camera request stays part of the user gesture.
// The gate stays accepted even when onAccept fails; Reset re-arms it.
func (g *ConsentGate) Accept(onAccept func() error) error {
	g.mu.Lock()
	if g.state != ConsentAwaiting {
		state := g.state
		g.mu.Unlock()
		return shared.ErrIllegalTransition.Wrap(fmt.Errorf("accept while consent is %s", state))
	}
	g.state = ConsentAccepted
	g.mu.Unlock()

	if onAccept == nil {
		return nil
	}
	return onAccept()
}

// Decline closes the notice without granting anything.
func (g *ConsentGate) Decline() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != ConsentAwaiting {
		return shared.ErrIllegalTransition.Wrap(fmt.Errorf("decline while consent is %s", g.state))
	}
	g.state = ConsentIdle
	return nil
}

// Granted reports whether the user accepted since the last Reset.
func (g *ConsentGate) Granted() bool {
	return g.State() == ConsentAccepted
}

// Reset returns the gate to idle. Consent is never carried across runs.
func (g *ConsentGate) Reset() {
	g.mu.Lock()
	g.state = ConsentIdle
	g.mu.Unlock()
}
