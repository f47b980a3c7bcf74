// Package monitoring contains the domain model of attention monitoring.
//
// It defines:
//
//   - Entities: Session, Resource, JournalEntry
//   - Value objects: CombinedScore, Readout, Recommendation
//   - The viewer state machine: State, Trigger, Effect and Transition
//   - Gateway interfaces implemented in infrastructure
//
// # State machine
//
// A viewer moves through
//
//	Idle -> ReadyToStart -> AwaitingConsent -> Acquiring -> Monitoring -> Finalizing -> Idle
//
// Declining consent returns to ReadyToStart. A camera failure or a failed
// finalization lands in Error, from which the user may begin again. Teardown is
// legal everywhere and always ends in Idle:
//
//	next, effects, err := monitoring.Transition(monitoring.StateAwaitingConsent, monitoring.TriggerAccept)
//	// next == StateAcquiring, effects == [hide_consent acquire_camera]
//
// The package has no external dependencies.
package monitoring
