package modem

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"i4.energy/across/smsgw/at"
)

// Session is the per-connection correlation engine. It assembles lines from
// the byte stream delivered by the Transport, matches every line against the
// registered expectations and lets request operations wait for the
// expectation they registered.
//
// All mutable state is guarded by mu. Bytes are delivered by the Transport
// from one goroutine at a time; requests may be issued from any goroutine.
type Session struct {
	transport Transport
	config    Config
	logger    *zap.Logger

	mu sync.Mutex
	// table holds the expectation slots, live counts the non-free ones.
	table []slot
	live  int
	// active is the slot receiving continuation lines and terminal markers.
	active int

	// line is the assembly buffer; lineDropped records bytes dropped from
	// the line currently being assembled.
	line        []byte
	lineDropped bool
	receiving   bool

	// prompts counts SMS input prompts seen; promptWanted enables their
	// detection.
	prompts      uint64
	promptWanted int

	// changed is closed and replaced on every state change.
	changed chan struct{}

	notifySlot int
	// failure is set once the transport stopped delivering bytes.
	failure error
	closed  bool
	done    chan struct{}

	// requests holds one token while a request owns the line.
	requests chan struct{}
	// reads queues message indexes for the reader started by RequestSMS.
	reads      chan int
	readerOnce sync.Once
}

// New dials the modem, creates its session and starts receiving. When the
// config asks for it, the initialization sequence runs before New returns.
//
// Returns an error if the transport connection or modem initialization
// fails; the transport is closed in that case.
func New(ctx context.Context, config Config) (*Session, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	s := NewSession(transport, config)
	if err := s.EnableReceive(); err != nil {
		transport.Close()
		return nil, err
	}

	if config.initOnStart {
		if err := s.Init(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("initialize modem: %w", err)
		}
	}

	return s, nil
}

// NewSession wraps an established transport. Receiving is disabled until
// EnableReceive is called.
func NewSession(transport Transport, config Config) *Session {
	config.setDefaults()

	s := &Session{
		transport:  transport,
		config:     config,
		logger:     config.logger,
		table:      make([]slot, config.tableSize),
		line:       make([]byte, 0, config.lineMax+1),
		changed:    make(chan struct{}),
		notifySlot: -1,
		done:       make(chan struct{}),
		requests:   make(chan struct{}, 1),
		reads:      make(chan int, config.tableSize),
	}

	if rf, ok := transport.(ReadFailer); ok {
		rf.OnReadError(s.fail)
	}
	return s
}

// Close stops receiving and closes the transport. Pending waits return
// ErrAlreadyClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	s.closed = true
	s.receiving = false
	close(s.done)
	s.mu.Unlock()

	return s.transport.Close()
}

// acquire takes the request lock. Only one request at a time may have a
// command on the line, otherwise terminal markers go to the wrong slot.
func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.requests <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for modem: %w", ctx.Err())
	case <-s.done:
		return ErrAlreadyClosed
	}
}

func (s *Session) releaseRequest() {
	<-s.requests
}

// send transmits one raw command buffer.
func (s *Session) send(cmd string) error {
	s.mu.Lock()
	closed, failure := s.closed, s.failure
	s.mu.Unlock()
	if closed {
		return ErrAlreadyClosed
	}
	if failure != nil {
		return failure
	}

	s.logger.Debug("transmit", zap.String("cmd", printable(cmd)))
	if err := s.transport.Transmit([]byte(cmd)); err != nil {
		return fmt.Errorf("transmit %q: %w: %w", printable(cmd), ErrTransport, err)
	}
	return nil
}

// fail records that no further bytes will arrive and wakes every waiter.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.closed || s.failure != nil {
		s.mu.Unlock()
		return
	}
	s.receiving = false
	s.failure = fmt.Errorf("%w: %w", ErrTransport, err)
	s.broadcast()
	s.mu.Unlock()

	s.logger.Error("receive failed", zap.Error(err))
}

// broadcast wakes every waiter. Callers hold mu.
func (s *Session) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// printable strips line control characters for log output.
func printable(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\r', '\n':
		case at.CtrlZ[0]:
			out = append(out, "<ctrl-z>"...)
		case at.Escape[0]:
			out = append(out, "<esc>"...)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
