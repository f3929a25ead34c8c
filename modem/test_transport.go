package modem

import (
	"context"
	"strings"
	"sync"

	"i4.energy/across/smsgw/at"
)

// TestTransport is a test helper that plays the modem side of a Transport.
// Queued bytes are delivered one per armed read from a single pump
// goroutine, like a serial port interrupt would, and scripted replies are
// queued when the matching command is transmitted.
//
// It also implements Dialer by returning itself.
type TestTransport struct {
	mu          sync.Mutex
	deliver     func(byte)
	written     []string
	replies     map[string][]string
	transmitErr error
	receiveErr  error

	pending   chan byte
	armed     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	t := &TestTransport{
		replies: make(map[string][]string),
		pending: make(chan byte, 4096),
		armed:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go t.pump()
	return t
}

func (t *TestTransport) Dial(ctx context.Context) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// Transmit records p and queues the reply scripted for it, if any. The
// trailing CRLF of a command is ignored when looking the reply up.
func (t *TestTransport) Transmit(p []byte) error {
	t.mu.Lock()
	if t.transmitErr != nil {
		err := t.transmitErr
		t.mu.Unlock()
		return err
	}

	select {
	case <-t.done:
		t.mu.Unlock()
		return ErrAlreadyClosed
	default:
	}

	cmd := strings.TrimSuffix(string(p), at.CRLF)
	t.written = append(t.written, cmd)

	var reply string
	if queue := t.replies[cmd]; len(queue) > 0 {
		reply = queue[0]
		if len(queue) > 1 {
			t.replies[cmd] = queue[1:]
		}
	}
	t.mu.Unlock()

	if reply != "" {
		t.Feed(reply)
	}
	return nil
}

func (t *TestTransport) Receive(deliver func(b byte)) error {
	t.mu.Lock()
	if t.receiveErr != nil {
		err := t.receiveErr
		t.mu.Unlock()
		return err
	}
	t.deliver = deliver
	t.mu.Unlock()

	select {
	case t.armed <- struct{}{}:
	default:
	}
	return nil
}

func (t *TestTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
	})
	return nil
}

// Feed queues data to be delivered to the session.
// This simulates receiving data from the modem.
func (t *TestTransport) Feed(data string) {
	for i := 0; i < len(data); i++ {
		select {
		case t.pending <- data[i]:
		case <-t.done:
			return
		}
	}
}

// Reply scripts the modem answer to cmd, given without its CRLF. Replies to
// the same command are used in order; the last one repeats.
func (t *TestTransport) Reply(cmd, response string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.replies[cmd] = append(t.replies[cmd], response)
	return t
}

// Written returns every transmitted buffer, command terminators stripped.
func (t *TestTransport) Written() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.written...)
}

// FailTransmit makes every following Transmit return err.
func (t *TestTransport) FailTransmit(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transmitErr = err
}

// FailReceive makes every following Receive return err.
func (t *TestTransport) FailReceive(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiveErr = err
}

func (t *TestTransport) pump() {
	for {
		select {
		case <-t.done:
			return
		case <-t.armed:
		}

		var b byte
		select {
		case <-t.done:
			return
		case b = <-t.pending:
		}

		t.mu.Lock()
		deliver := t.deliver
		t.deliver = nil
		t.mu.Unlock()

		if deliver != nil {
			deliver(b)
		}
	}
}
