package modem

import (
	"fmt"
)

// State is the lifecycle state of an expectation slot.
type State int

const (
	Free State = iota
	Watching
	MatchedHeader
	MatchedContinuation
	Terminal
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Watching:
		return "watching"
	case MatchedHeader:
		return "matched header"
	case MatchedContinuation:
		return "matched continuation"
	case Terminal:
		return "terminal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome records which terminal marker ended an exchange.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

// Handler is called when an expectation matches its header line and again
// when the exchange it belongs to reaches its terminal marker. It runs on
// the byte delivery goroutine with the session unlocked.
type Handler func(s *Session, slot int)

// Expectation is a copy of one slot, taken with Snapshot.
type Expectation struct {
	Pattern   string
	State     State
	Payload   string
	Truncated bool
	Outcome   Outcome
}

type slot struct {
	pattern   string
	state     State
	payload   []byte
	truncated bool
	outcome   Outcome
	handler   Handler
	// resume is the slot that was active before this one matched.
	resume int
}

// Register starts watching for lines that begin with pattern. The first free
// slot is used and becomes the active slot.
//
// Registering the same pattern twice is not detected; the lower slot wins
// every match. Patterns that prefix one another are ambiguous in the same
// way.
func (s *Session) Register(pattern string, h Handler) (int, error) {
	if len(pattern) > s.config.patternMax {
		return -1, fmt.Errorf("pattern %q: %w", pattern, ErrPatternTooLong)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.registerLocked(pattern, h)
}

func (s *Session) registerLocked(pattern string, h Handler) (int, error) {
	for i := range s.table {
		sl := &s.table[i]
		if sl.state != Free {
			continue
		}

		*sl = slot{
			pattern: pattern,
			state:   Watching,
			payload: sl.payload[:0],
			handler: h,
			resume:  i,
		}
		s.live++
		s.active = i
		return i, nil
	}

	return -1, fmt.Errorf("pattern %q: %w", pattern, ErrTableFull)
}

// Release frees the slot. Releasing a free slot does nothing.
func (s *Session) Release(slot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.releaseLocked(slot)
}

func (s *Session) releaseLocked(i int) error {
	if i < 0 || i >= len(s.table) {
		return fmt.Errorf("release slot %d: %w", i, ErrInvalidSlot)
	}

	sl := &s.table[i]
	if sl.state == Free {
		return nil
	}

	*sl = slot{payload: sl.payload[:0]}
	s.live--
	if s.notifySlot == i {
		s.notifySlot = -1
	}
	return nil
}

// Rearm puts a matched slot back to Watching so it can match the next
// header. The payload is kept until the next match replaces it. If the slot
// is active, the exchange it interrupted becomes active again.
func (s *Session) Rearm(slot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot < 0 || slot >= len(s.table) {
		return fmt.Errorf("rearm slot %d: %w", slot, ErrInvalidSlot)
	}
	sl := &s.table[slot]
	if sl.state == Free {
		return fmt.Errorf("rearm free slot %d: %w", slot, ErrInvalidSlot)
	}

	sl.state = Watching
	sl.truncated = false
	sl.outcome = OutcomeNone

	// An unsolicited line in the middle of an exchange must not keep the
	// terminal marker of that exchange.
	if s.active == slot && sl.resume != slot && s.table[sl.resume].state != Free {
		s.active = sl.resume
	}
	s.broadcast()
	return nil
}

// Snapshot copies the slot.
func (s *Session) Snapshot(slot int) (Expectation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot < 0 || slot >= len(s.table) {
		return Expectation{}, fmt.Errorf("snapshot slot %d: %w", slot, ErrInvalidSlot)
	}

	sl := &s.table[slot]
	return Expectation{
		Pattern:   sl.pattern,
		State:     sl.state,
		Payload:   string(sl.payload),
		Truncated: sl.truncated,
		Outcome:   sl.outcome,
	}, nil
}

// Live returns the number of registered expectations.
func (s *Session) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Active returns the slot that currently receives continuation lines.
func (s *Session) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// setPayload replaces the slot payload with line, cutting it at capacity.
func (s *Session) setPayload(sl *slot, line string, dropped bool) {
	sl.payload = sl.payload[:0]
	sl.truncated = false
	s.appendPayload(sl, line, dropped)
}

// appendPayload appends line to the slot payload, never growing it beyond
// capacity.
func (s *Session) appendPayload(sl *slot, line string, dropped bool) {
	room := s.config.payloadMax - len(sl.payload)
	if room < 0 {
		room = 0
	}
	if len(line) > room {
		line = line[:room]
		dropped = true
	}
	sl.payload = append(sl.payload, line...)
	if dropped {
		sl.truncated = true
	}
}
