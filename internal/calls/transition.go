// Package calls owns the call lifecycle: creation of direct calls and broadcasts
// and every status transition after that.
package calls

import (
	"errors"
	"time"

	"cececho/pkg/types"
)

var (
	ErrCallEnded          = errors.New("call already ended")
	ErrBackwardTransition = errors.New("call cannot move back to an earlier status")
	ErrTooManyConflicts   = errors.New("call changed concurrently too many times")
)

// Transition moves call to status at now and reports whether anything changed.
//
// Entering ongoing stamps StartTime once. Entering a terminal status stamps EndTime
// and, when the call had started, the whole-second Duration. A terminal call accepts
// only a repeat of its own status, which is a no-op. The call is untouched on error.
func Transition(call *types.Call, status types.CallStatus, now time.Time) (bool, error) {
	switch status {
	case types.CallStatusRinging, types.CallStatusOngoing,
		types.CallStatusCompleted, types.CallStatusMissed, types.CallStatusRejected:
	default:
		return false, types.WrapError(types.CodeValidation, "Invalid call status", types.ErrInvalidCallStatus)
	}

	if call.Status.IsTerminal() {
		if status == call.Status {
			return false, nil
		}
		return false, types.WrapError(types.CodeConflict, "Call has already ended", ErrCallEnded)
	}

	if status == call.Status {
		return false, nil
	}
	if !status.IsTerminal() && status.Precedes(call.Status) {
		return false, types.WrapError(types.CodeConflict, "Call cannot return to "+string(status), ErrBackwardTransition)
	}

	now = now.UTC()
	if status == types.CallStatusOngoing && call.StartTime == nil {
		call.StartTime = &now
	}
	if status.IsTerminal() && call.EndTime == nil {
		call.EndTime = &now
		if call.StartTime != nil {
			seconds := int64(now.Sub(*call.StartTime) / time.Second)
			if seconds < 0 {
				seconds = 0
			}
			call.Duration = &seconds
		}
	}
	call.Status = status
	return true, nil
}
