package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"i4.energy/across/smsgw/at"
)

// PollConfig defines configuration for polling operations like waiting for SIM readiness.
type PollConfig struct {
	// Interval is the time between polling attempts
	Interval time.Duration
	// Timeout is the maximum time to wait for the condition
	Timeout time.Duration
	// MaxRetries is the maximum number of polling attempts
	MaxRetries int
}

// Status checks that the modem answers AT with OK.
func (s *Session) Status(ctx context.Context) error {
	_, err := s.exchange(ctx, at.CodeNone, at.CmdAt)
	return err
}

// EchoOff disables command echo.
func (s *Session) EchoOff(ctx context.Context) error {
	_, err := s.exchange(ctx, at.CodeNone, at.CmdEchoOff)
	return err
}

// Battery reads the charge status, connection level and voltage.
func (s *Session) Battery(ctx context.Context) (at.Battery, error) {
	payload, err := s.exchange(ctx, at.CodeBattery, at.CmdBattery)
	if err != nil {
		return at.Battery{}, err
	}
	return at.ParseBattery(payload)
}

// NetworkRegistration reads the network registration status. On any error
// the status is at.RegistrationFailed.
func (s *Session) NetworkRegistration(ctx context.Context) (at.RegistrationStatus, error) {
	payload, err := s.exchange(ctx, at.CodeRegistration, at.CmdRegistration)
	if err != nil {
		return at.RegistrationFailed, err
	}

	status, err := at.ParseRegistration(payload)
	if err != nil {
		return at.RegistrationFailed, err
	}
	return status, nil
}

// SetSMSTextMode selects SMS text mode.
func (s *Session) SetSMSTextMode(ctx context.Context) error {
	_, err := s.exchange(ctx, at.CodeTextMode, at.CmdSetTextMode)
	return err
}

// DeleteAllSMS deletes every message stored on the SIM.
func (s *Session) DeleteAllSMS(ctx context.Context) error {
	_, err := s.exchange(ctx, at.CodeDelete, at.CmdDeleteAll)
	return err
}

// PINStatus returns the SIM state reported by AT+CPIN?, for example
// "READY" or "SIM PIN".
func (s *Session) PINStatus(ctx context.Context) (string, error) {
	payload, err := s.exchange(ctx, at.CodePIN, at.CmdSimStatus)
	if err != nil {
		return "", err
	}
	return at.ParsePINStatus(payload)
}

// EnterPIN unlocks the SIM with pin.
func (s *Session) EnterPIN(ctx context.Context, pin string) error {
	_, err := s.exchange(ctx, at.CodeNone, fmt.Sprintf(at.CmdEnterPIN, pin))
	return err
}

// Init performs the initial setup sequence for the modem hardware: it wakes
// the modem, disables echo, unlocks the SIM if needed and selects SMS text
// mode.
func (s *Session) Init(ctx context.Context) error {
	// Wake-up / sanity check
	if err := s.Status(ctx); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}

	if err := s.EchoOff(ctx); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}

	// Check SIM status
	simStatus, err := s.PINStatus(ctx)
	if err != nil {
		return fmt.Errorf("query SIM status: %w", err)
	}

	switch simStatus {
	case at.SimReady:
		// OK

	case at.SimPin:
		if s.config.simPIN == "" {
			return ErrSIMPinRequired
		}
		if err := s.EnterPIN(ctx, s.config.simPIN); err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}

		// Wait until SIM becomes ready
		if err := s.waitForSIMReady(ctx, PollConfig{}); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported SIM state: %q", simStatus)
	}

	// Select SMS text mode
	if err := s.SetSMSTextMode(ctx); err != nil {
		return fmt.Errorf("set SMS text mode: %w", err)
	}

	s.logger.Info("modem initialized")
	return nil
}

// waitForSIMReady polls the SIM card status until it reports ready state.
// This is necessary after entering a SIM PIN, as the SIM card needs time
// to authenticate and become operational.
func (s *Session) waitForSIMReady(ctx context.Context, config PollConfig) error {
	var (
		pollInterval = config.Interval
		timeout      = config.Timeout
		maxRetries   = config.MaxRetries
	)

	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = int(timeout / pollInterval)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	retries := 0

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("SIM not ready: %w", ctx.Err())
		case <-ticker.C:
			retries++
			if retries > maxRetries {
				return fmt.Errorf("SIM not ready after %d retries", maxRetries)
			}
			status, err := s.PINStatus(ctx)
			if err != nil {
				// Fail fast on critical errors
				if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrTransport) {
					return fmt.Errorf("SIM status check failed: %w", err)
				}
				continue
			}
			if status == at.SimReady {
				return nil
			}
		}
	}
}

// exchange runs one request: it registers pattern, transmits cmd, waits for
// the terminal marker and validates the payload. The request lock is held
// and the slot is released on every path.
func (s *Session) exchange(ctx context.Context, pattern, cmd string) (string, error) {
	if err := s.acquire(ctx); err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	defer s.releaseRequest()

	slot, err := s.Register(pattern, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	defer s.Release(slot)

	if err := s.send(cmd + at.CRLF); err != nil {
		return "", err
	}

	if err := s.WaitFor(ctx, slot, Terminal, 0); err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}

	payload, err := s.result(slot)
	if err != nil {
		return payload, fmt.Errorf("%s: %w", cmd, err)
	}
	return payload, nil
}

// result returns the payload of a finished exchange, checking that it was
// stored whole and carries the success marker.
func (s *Session) result(slot int) (string, error) {
	exp, err := s.Snapshot(slot)
	if err != nil {
		return "", err
	}

	if exp.Truncated {
		s.logger.Warn("response truncated",
			zap.String("pattern", exp.Pattern),
			zap.Int("capacity", s.config.payloadMax))
		return exp.Payload, ErrPayloadTruncated
	}

	if exp.Outcome == OutcomeFailure {
		return exp.Payload, fmt.Errorf("%w: %q", ErrResponse, strings.TrimSpace(exp.Payload))
	}
	if err := at.Validate(exp.Payload); err != nil {
		return exp.Payload, fmt.Errorf("%w: %q", err, strings.TrimSpace(exp.Payload))
	}
	return exp.Payload, nil
}
