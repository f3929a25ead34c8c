package modem

import (
	"context"
)

//go:generate go tool mockgen -destination=mock_transport.go -package=modem . Transport,Dialer

// Transport represents an established byte link to a GSM modem.
//
// Transmission is a plain buffer write. Reception is armed one byte at a
// time: Receive requests the next byte and returns immediately, and the
// byte is handed to deliver once it arrives. The Session re-arms from inside
// deliver, so an implementation must accept Receive calls made from the
// goroutine that runs deliver.
//
// Failures to transmit or to arm a read are reported synchronously.
type Transport interface {
	// Transmit writes the whole buffer to the modem.
	Transmit(p []byte) error
	// Receive arms a single byte read. Arming while a read is already armed
	// replaces the callback and does not queue a second read.
	Receive(deliver func(b byte)) error
	// Close releases the link. Pending reads are abandoned.
	Close() error
}

// ReadFailer is implemented by transports whose reads fail after Receive
// has returned, for example a reader goroutine losing its port. The Session
// registers a callback when it is created and fails pending requests with
// ErrTransport when it is called.
type ReadFailer interface {
	// OnReadError sets the function called once with the read error. If
	// the read already failed, fn is called before OnReadError returns.
	OnReadError(fn func(err error))
}

// Dialer opens a Transport to a GSM modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port or a test double) and is intended to be used during session
// construction only. Once a Transport is obtained, the Dialer is no longer
// needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}
