package modem

import (
	"strings"

	"go.uber.org/zap"

	"i4.energy/across/smsgw/at"
)

// dispatchLocked correlates one complete line with the expectation table.
// It returns the handler invocation to run once mu is released, or nil.
//
// Terminal markers always end the active exchange. Any other line is
// matched against the watching patterns in table order, lowest slot first,
// and falls back to continuing the active exchange.
func (s *Session) dispatchLocked(line string, dropped bool) func() {
	switch at.Classify(line) {
	case at.TypePrompt:
		s.prompts++
		s.broadcast()
		return nil

	case at.TypeBlank:
		return nil

	case at.TypeSuccess, at.TypeFailure:
		return s.terminateLocked(line, dropped)
	}

	examined := 0
	for i := range s.table {
		if examined >= s.live {
			break
		}
		sl := &s.table[i]
		if sl.state == Free {
			continue
		}
		examined++

		if sl.state != Watching || !strings.HasPrefix(line, sl.pattern) {
			continue
		}

		s.setPayload(sl, line, dropped)
		sl.state = MatchedHeader
		sl.resume = s.active
		s.active = i
		s.broadcast()

		s.logger.Debug("header matched",
			zap.Int("slot", i),
			zap.String("pattern", sl.pattern),
			zap.String("line", printable(line)))
		return handlerCall(s, i, sl.handler)
	}

	sl := &s.table[s.active]
	if sl.state == MatchedHeader || sl.state == MatchedContinuation {
		s.appendPayload(sl, line, dropped)
		sl.state = MatchedContinuation
		s.broadcast()
		return nil
	}

	s.logger.Debug("unmatched line dropped", zap.String("line", printable(line)))
	return nil
}

func (s *Session) terminateLocked(line string, dropped bool) func() {
	sl := &s.table[s.active]
	if sl.state == Free {
		s.logger.Debug("terminal marker without exchange", zap.String("line", printable(line)))
		return nil
	}

	s.appendPayload(sl, line, dropped)
	sl.state = Terminal
	if at.Classify(line) == at.TypeSuccess {
		sl.outcome = OutcomeSuccess
	} else {
		sl.outcome = OutcomeFailure
	}
	s.broadcast()

	s.logger.Debug("exchange terminated",
		zap.Int("slot", s.active),
		zap.String("pattern", sl.pattern),
		zap.String("line", printable(line)))
	return handlerCall(s, s.active, sl.handler)
}

func handlerCall(s *Session, slot int, h Handler) func() {
	if h == nil {
		return nil
	}
	return func() { h(s, slot) }
}
