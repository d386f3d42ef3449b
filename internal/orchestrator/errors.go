package orchestrator

import "errors"

// Turn-level failures. A turn never returns a Go error; these are carried
// in Result.Err next to the plain-text message shown to the user.
var (
	ErrMaxRoundsExceeded   = errors.New("round limit reached")
	ErrTimedOut            = errors.New("turn timed out")
	ErrAborted             = errors.New("turn aborted")
	ErrNoToolResults       = errors.New("tool use requested without tool calls")
	ErrNoFinalResponse     = errors.New("model finished without a response")
	ErrProviderUnavailable = errors.New("model provider unavailable")
	ErrMalformedResponse   = errors.New("malformed model response")
)
