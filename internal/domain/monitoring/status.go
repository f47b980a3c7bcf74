package monitoring

import (
	"errors"

	"github.com/learnwatch/attention-monitor/internal/domain/shared"
)

// StatusMessage returns the one-line text shown to the user for a state and the
// error that led there, if any. Raw errors are never shown.
func StatusMessage(s State, err error) string {
	if err != nil {
		return errorMessage(err)
	}
	switch s {
	case StateIdle:
		return "Monitoring is not available for this resource."
	case StateReadyToStart:
		return "Ready. Start attention monitoring when you are."
	case StateAwaitingConsent:
		return "This resource uses your camera to measure attention. Frames are analyzed and never stored on this device."
	case StateAcquiring:
		return "Starting camera..."
	case StateMonitoring:
		return "Monitoring attention."
	case StateFinalizing:
		return "Saving your monitoring session..."
	case StateError:
		return "Monitoring stopped because of an error."
	default:
		return ""
	}
}

// CompletedMessage is shown after a successful finalization.
const CompletedMessage = "Monitoring finished. Your attention data was saved."

// ConsentNotice is shown before the camera is opened.
const ConsentNotice = "Attention monitoring uses your camera while this lesson plays. " +
	"About one frame per second is sent for analysis; no video is stored on this device."

func errorMessage(err error) string {
	switch {
	case errors.Is(err, shared.ErrPermissionDenied):
		return "Camera access was denied. Allow camera access and start again."
	case errors.Is(err, shared.ErrDeviceUnavailable):
		return "No camera was found or it is in use by another application."
	case errors.Is(err, shared.ErrNotSupported):
		return "Camera capture is not supported in this environment."
	case errors.Is(err, shared.ErrSessionResolution):
		return "Could not prepare a monitoring session. Check your connection and sign-in."
	case errors.Is(err, shared.ErrFinalize):
		return "Monitoring ended but could not be saved. Start again to retry."
	case errors.Is(err, shared.ErrScoreFetch):
		return "Your combined grade is not available yet."
	case errors.Is(err, shared.ErrRecommendation):
		return "Recommendations are not available right now."
	case errors.Is(err, shared.ErrMonitoringNotAllowed):
		return "Monitoring is not available for this resource."
	default:
		return "Something went wrong. Please try again."
	}
}
