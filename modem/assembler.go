package modem

import (
	"fmt"

	"go.uber.org/zap"

	"i4.energy/across/smsgw/at"
)

// HandleByte is the receive callback handed to the Transport. It appends b
// to the line being assembled and dispatches the line once it is complete.
//
// A line is complete on LF, or when the buffer holds exactly the SMS input
// prompt while SendSMS is waiting for it, since the modem never terminates
// the prompt. Bytes beyond the line capacity are dropped and the line is
// marked truncated. The next byte is armed only while receiving is enabled.
func (s *Session) HandleByte(b byte) {
	s.mu.Lock()

	if b != at.LF {
		if len(s.line) < s.config.lineMax {
			s.line = append(s.line, b)
		} else {
			s.lineDropped = true
		}

		if s.promptWanted == 0 || string(s.line) != at.Prompt {
			receiving := s.receiving
			s.mu.Unlock()

			if receiving {
				s.arm()
			}
			return
		}
	} else {
		// line has room for the terminator beyond lineMax
		s.line = append(s.line, b)
	}

	line, dropped := string(s.line), s.lineDropped
	s.line = s.line[:0]
	s.lineDropped = false

	if dropped {
		s.logger.Warn("line truncated", zap.String("line", line), zap.Int("capacity", s.config.lineMax))
	}

	call := s.dispatchLocked(line, dropped)
	receiving := s.receiving
	s.mu.Unlock()

	if call != nil {
		call()
	}
	if receiving {
		s.arm()
	}
}

// EnableReceive starts byte reception. Enabling twice is a no-op.
//
// A failure to arm the first read is returned wrapped in ErrTransport and
// leaves reception disabled.
func (s *Session) EnableReceive() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	if s.receiving {
		s.mu.Unlock()
		return nil
	}
	if s.failure != nil {
		err := s.failure
		s.mu.Unlock()
		return fmt.Errorf("enable receive: %w", err)
	}
	s.receiving = true
	s.mu.Unlock()

	if err := s.transport.Receive(s.HandleByte); err != nil {
		s.mu.Lock()
		s.receiving = false
		s.mu.Unlock()
		return fmt.Errorf("enable receive: %w: %w", ErrTransport, err)
	}

	s.logger.Debug("receive enabled")
	return nil
}

// DisableReceive stops re-arming after the byte in flight. It has no effect
// while reception is disabled.
func (s *Session) DisableReceive() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.receiving {
		return
	}
	s.receiving = false
	s.logger.Debug("receive disabled")
}

// Receiving reports whether reception is enabled.
func (s *Session) Receiving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiving
}

// arm requests the next byte. A transport failure disables reception and
// fails pending waits since nothing would deliver further bytes.
func (s *Session) arm() {
	if err := s.transport.Receive(s.HandleByte); err != nil {
		s.fail(fmt.Errorf("arm receive: %w", err))
	}
}
