package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate = 115200

	// defaultReadTimeout lets the reader goroutine notice Close while the
	// modem is silent.
	defaultReadTimeout = 100 * time.Millisecond
)

// SerialDialer opens a GSM modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	PortName string
	// Mode defaults to 115200 baud 8N1.
	Mode *serial.Mode
	// ReadTimeout bounds a single port read.
	ReadTimeout time.Duration
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("gsm: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("gsm: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		mode = &serial.Mode{
			BaudRate: DefaultBaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("gsm: open serial port %s: %w", d.PortName, err)
	}

	timeout := d.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("gsm: set read timeout on %s: %w", d.PortName, err)
	}

	return newPortTransport(port), nil
}

// portTransport adapts a blocking port to the one-byte-per-arm Transport
// contract. A single reader goroutine buffers port reads and hands out one
// byte for every Receive call.
type portTransport struct {
	port io.ReadWriteCloser

	mu      sync.Mutex
	deliver func(byte)
	readErr error
	onError func(error)

	armed     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newPortTransport(port io.ReadWriteCloser) *portTransport {
	t := &portTransport{
		port:  port,
		armed: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *portTransport) Transmit(p []byte) error {
	select {
	case <-t.done:
		return ErrAlreadyClosed
	default:
	}

	n, err := t.port.Write(p)
	if err != nil {
		return err
	}
	if n < len(p) {
		return io.ErrShortWrite
	}
	return nil
}

func (t *portTransport) Receive(deliver func(b byte)) error {
	select {
	case <-t.done:
		return ErrAlreadyClosed
	default:
	}

	t.mu.Lock()
	if t.readErr != nil {
		err := t.readErr
		t.mu.Unlock()
		return err
	}
	t.deliver = deliver
	t.mu.Unlock()

	select {
	case t.armed <- struct{}{}:
	default:
		// already armed
	}
	return nil
}

func (t *portTransport) OnReadError(fn func(err error)) {
	t.mu.Lock()
	t.onError = fn
	err := t.readErr
	t.mu.Unlock()

	if err != nil && fn != nil {
		fn(err)
	}
}

func (t *portTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.port.Close()
	})
	return err
}

func (t *portTransport) readLoop() {
	buf := make([]byte, 256)
	var pos, n int

	for {
		select {
		case <-t.done:
			return
		case <-t.armed:
		}

		for pos == n {
			select {
			case <-t.done:
				return
			default:
			}

			read, err := t.port.Read(buf)
			if err != nil {
				select {
				case <-t.done:
				default:
					t.fail(fmt.Errorf("serial read: %w", err))
				}
				return
			}
			pos, n = 0, read
		}

		b := buf[pos]
		pos++

		t.mu.Lock()
		deliver := t.deliver
		t.deliver = nil
		t.mu.Unlock()

		if deliver != nil {
			deliver(b)
		}
	}
}

func (t *portTransport) fail(err error) {
	t.mu.Lock()
	t.readErr = err
	onError := t.onError
	t.mu.Unlock()

	if onError != nil {
		onError(err)
	}
}
