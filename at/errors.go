package at

import "errors"

var (
	// ErrResponse is returned when a payload does not carry the success
	// marker, either because the modem answered ERROR or because the
	// exchange ended before OK arrived.
	ErrResponse = errors.New("modem responded with error")

	// ErrMalformed is returned by the response parsers when a payload does
	// not follow the fixed grammar of its command.
	ErrMalformed = errors.New("malformed response")
)
