package modem

import (
	"context"
	"errors"

	"i4.energy/across/smsgw/at"
)

var (
	// ErrNoDialer is returned when a Session is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when the Dialer hands back no Transport.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Session that has
	// already been closed, and by operations attempted after Close.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrSIMPinRequired is returned when the SIM card requires a PIN and no
	// PIN was provided in the Config.
	//
	// Callers may handle this error specially (for example, by prompting
	// the user for a PIN) and retry initialization.
	ErrSIMPinRequired = errors.New("SIM PIN required")

	// ErrTransport wraps failures reported by the Transport when transmitting
	// or when arming the next byte read.
	ErrTransport = errors.New("transport failure")

	// ErrTimedOut is returned when an expectation does not reach the awaited
	// state within the wait bound. The expectation is left registered; the
	// caller owns its release.
	ErrTimedOut = errors.New("timed out waiting for modem")

	// ErrResponse is returned when the exchange ended with a failure marker or
	// without the success marker.
	ErrResponse = at.ErrResponse

	// ErrTableFull is returned by Register when every expectation slot is in
	// use. The table is left unchanged.
	ErrTableFull = errors.New("expectation table full")

	// ErrPatternTooLong is returned by Register when the pattern exceeds the
	// configured maximum length.
	ErrPatternTooLong = errors.New("pattern too long")

	// ErrInvalidSlot is returned for slot indexes outside the table, or for
	// operations that need a registered slot but found a free one.
	ErrInvalidSlot = errors.New("invalid expectation slot")

	// ErrPayloadTruncated is returned when the accumulated response did not
	// fit into the payload buffer. The stored payload holds the prefix that
	// fit.
	ErrPayloadTruncated = errors.New("response payload truncated")

	// ErrNotificationsEnabled is returned when SMS notifications are enabled
	// twice without being disabled in between.
	ErrNotificationsEnabled = errors.New("SMS notifications already enabled")

	// ErrMessageTooLong is returned by SendSMS when the recipient or the text
	// does not fit into a single command buffer.
	ErrMessageTooLong = errors.New("SMS recipient or text too long")

	// ErrNoPrompt is returned by SendSMS when the modem did not ask for the
	// message body.
	ErrNoPrompt = errors.New("no SMS input prompt")

	// ErrQueueFull is returned by RequestSMS when too many reads are pending.
	ErrQueueFull = errors.New("SMS read queue full")
)

// Result is the tri-state outcome of a request.
type Result int

const (
	ResultOK Result = iota
	ResultError
	ResultTimedOut
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultTimedOut:
		return "TIMEOUT"
	default:
		return "ERROR"
	}
}

// ResultOf folds an error returned by a request operation into a Result.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return ResultTimedOut
	default:
		return ResultError
	}
}
