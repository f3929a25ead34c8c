package modem

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"i4.energy/across/smsgw/at"
)

// SendSMS sends a text message to the specified recipient.
//
// The message is sent in text mode (not PDU mode). The recipient should be
// in international format (e.g., "+1234567890"). Both the recipient and the
// text must fit into the command buffer minus the quoting and terminator.
//
// This method blocks until the message is accepted by the network or an error
// occurs. If the modem never asks for the body, or never confirms it, the
// input is aborted with ESC.
func (s *Session) SendSMS(ctx context.Context, recipient, text string) error {
	limit := s.config.smsMax - 3
	if len(recipient) > limit || len(text) > limit {
		return fmt.Errorf("send SMS to %q: %w", recipient, ErrMessageTooLong)
	}

	if err := s.acquire(ctx); err != nil {
		return fmt.Errorf("send SMS to %q: %w", recipient, err)
	}
	defer s.releaseRequest()

	slot, err := s.Register(at.CodeSend, nil)
	if err != nil {
		return fmt.Errorf("send SMS: %w", err)
	}
	defer s.Release(slot)

	s.mu.Lock()
	s.promptWanted++
	since := s.prompts
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.promptWanted--
		s.mu.Unlock()
	}()

	if err := s.send(fmt.Sprintf(at.CmdSendSMS, recipient) + at.CRLF); err != nil {
		return err
	}

	if err := s.waitPrompt(ctx, slot, since, s.config.promptTimeout); err != nil {
		if errors.Is(err, errExchangeEnded) {
			if _, err := s.result(slot); err != nil {
				return fmt.Errorf("send SMS to %q: %w", recipient, err)
			}
			return fmt.Errorf("send SMS to %q: %w", recipient, ErrNoPrompt)
		}

		s.abortInput()
		return fmt.Errorf("send SMS to %q: %w: %w", recipient, ErrNoPrompt, err)
	}

	if err := s.send(text + at.CtrlZ); err != nil {
		s.abortInput()
		return err
	}

	if err := s.WaitFor(ctx, slot, Terminal, 0); err != nil {
		s.abortInput()
		return fmt.Errorf("send SMS to %q: %w", recipient, err)
	}

	if _, err := s.result(slot); err != nil {
		return fmt.Errorf("send SMS to %q: %w", recipient, err)
	}

	s.logger.Info("SMS sent", zap.String("recipient", recipient), zap.Int("length", len(text)))
	return nil
}

// abortInput leaves the SMS input mode without sending.
func (s *Session) abortInput() {
	if err := s.send(at.Escape); err != nil {
		s.logger.Warn("abort SMS input", zap.Error(err))
	}
}

// ReadSMS reads the message stored at index and waits for it.
func (s *Session) ReadSMS(ctx context.Context, index int) (at.Message, error) {
	payload, err := s.exchange(ctx, at.CodeRead, fmt.Sprintf(at.CmdReadSMS, index))
	if err != nil {
		return at.Message{}, err
	}

	msg, err := at.ParseMessage(payload)
	if err != nil {
		return at.Message{}, fmt.Errorf("read SMS %d: %w", index, err)
	}
	msg.Index = index
	return msg, nil
}

// RequestSMS queues a read of the message stored at index and returns
// without waiting. A reader goroutine runs the reads one at a time, after
// any request in flight, and hands each message to the ReceivedSMS callback.
// Reads that fail are logged and dropped.
//
// RequestSMS may be called from the NewSMS callback. It returns ErrQueueFull
// when more reads are pending than the expectation table has slots.
func (s *Session) RequestSMS(index int) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrAlreadyClosed
	}

	s.readerOnce.Do(func() { go s.readRequested() })

	select {
	case s.reads <- index:
		return nil
	default:
		return fmt.Errorf("request SMS %d: %w", index, ErrQueueFull)
	}
}

// readRequested drains the read queue until the session is closed.
func (s *Session) readRequested() {
	for {
		select {
		case <-s.done:
			return
		case index := <-s.reads:
			s.readRequestedSMS(index)
		}
	}
}

func (s *Session) readRequestedSMS(index int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.timeout)
	defer cancel()

	msg, err := s.ReadSMS(ctx, index)
	if err != nil {
		if !errors.Is(err, ErrAlreadyClosed) {
			s.logger.Warn("requested SMS not read", zap.Int("index", index), zap.Error(err))
		}
		return
	}

	if cb := s.config.callbacks.ReceivedSMS; cb != nil {
		cb(s, msg)
	}
}

// EnableSMSNotifications starts watching for new message indications. Each
// one is reported through the NewSMS callback.
func (s *Session) EnableSMSNotifications() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.notifySlot >= 0 {
		return ErrNotificationsEnabled
	}

	slot, err := s.registerLocked(at.CodeNewMessage, s.newMessage)
	if err != nil {
		return fmt.Errorf("enable SMS notifications: %w", err)
	}
	s.notifySlot = slot
	return nil
}

// DisableSMSNotifications stops watching for new message indications.
func (s *Session) DisableSMSNotifications() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.notifySlot < 0 {
		return
	}
	s.releaseLocked(s.notifySlot)
}

// newMessage is the notification handler. It decodes the index, watches
// for the next indication and reports the message.
func (s *Session) newMessage(_ *Session, slot int) {
	exp, err := s.Snapshot(slot)
	if err != nil {
		return
	}

	if err := s.Rearm(slot); err != nil {
		s.logger.Debug("notification slot released", zap.Int("slot", slot))
		return
	}
	if exp.State != MatchedHeader {
		return
	}

	index, err := at.ParseNotificationIndex(exp.Payload)
	if err != nil {
		s.logger.Warn("bad new message indication", zap.String("line", printable(exp.Payload)), zap.Error(err))
		return
	}

	s.logger.Debug("new SMS", zap.Int("index", index))
	if cb := s.config.callbacks.NewSMS; cb != nil {
		cb(s, index)
	}
}
