package modem

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WaitFor blocks until the slot reaches target, the timeout elapses, ctx is
// done, the session is closed or the transport stops delivering bytes. A
// non-positive timeout uses the configured default.
//
// The slot state is read again after every change the dispatcher
// announces, so a state reached before the call returns immediately. WaitFor
// never releases the slot; on ErrTimedOut the caller still owns it.
func (s *Session) WaitFor(ctx context.Context, slot int, target State, timeout time.Duration) error {
	if slot < 0 || slot >= len(s.table) {
		return fmt.Errorf("wait for slot %d: %w", slot, ErrInvalidSlot)
	}
	if timeout <= 0 {
		timeout = s.config.timeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		state := s.table[slot].state
		changed, failure := s.changed, s.failure
		s.mu.Unlock()

		if state == target {
			return nil
		}
		if failure != nil {
			return fmt.Errorf("wait for slot %d: %w", slot, failure)
		}

		select {
		case <-changed:
		case <-timer.C:
			return fmt.Errorf("slot %d %s after %s: %w", slot, state, timeout, ErrTimedOut)
		case <-ctx.Done():
			return fmt.Errorf("wait for slot %d: %w", slot, ctx.Err())
		case <-s.done:
			return ErrAlreadyClosed
		}
	}
}

// errExchangeEnded is returned by waitPrompt when the modem answered with a
// terminal marker instead of the prompt.
var errExchangeEnded = errors.New("exchange ended before prompt")

// waitPrompt blocks until more than since SMS input prompts have been seen
// or the slot reaches Terminal.
func (s *Session) waitPrompt(ctx context.Context, slot int, since uint64, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		prompts := s.prompts
		state := s.table[slot].state
		changed, failure := s.changed, s.failure
		s.mu.Unlock()

		if prompts > since {
			return nil
		}
		if state == Terminal {
			return errExchangeEnded
		}
		if failure != nil {
			return fmt.Errorf("wait for prompt: %w", failure)
		}

		select {
		case <-changed:
		case <-timer.C:
			return fmt.Errorf("prompt after %s: %w", timeout, ErrTimedOut)
		case <-ctx.Done():
			return fmt.Errorf("wait for prompt: %w", ctx.Err())
		case <-s.done:
			return ErrAlreadyClosed
		}
	}
}
