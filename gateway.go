package main

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"i4.energy/across/smsgw/at"
	"i4.energy/across/smsgw/modem"
)

// ErrQueueFull is returned by Enqueue when the send queue has no room left.
var ErrQueueFull = errors.New("send queue full")

const (
	queueSize = 1024
	inboxSize = 64
)

// SMSRequest is a message to send, as accepted over HTTP and MQTT.
type SMSRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"` // optional caller-supplied id
}

// Sender sends a single SMS. *modem.Session implements it.
type Sender interface {
	SendSMS(ctx context.Context, to, text string) error
}

// Rate is a sliding one minute window limiter. A non-positive cap disables
// limiting.
type Rate struct {
	mu  sync.Mutex
	cap int
	win []time.Time
}

func NewRate(nPerMin int) *Rate { return &Rate{cap: nPerMin} }

// Allow reports whether another message may be sent now and records it if so.
func (r *Rate) Allow() bool {
	return r.allowAt(time.Now())
}

func (r *Rate) allowAt(now time.Time) bool {
	if r.cap <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-time.Minute)
	kept := r.win[:0]
	for _, t := range r.win {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	r.win = kept
	if len(r.win) >= r.cap {
		return false
	}
	r.win = append(r.win, now)
	return true
}

// Job is a queued request and the number of failed attempts so far.
type Job struct {
	Req      SMSRequest
	Attempts int
}

// Gateway queues outgoing messages for a single sender and relays received
// messages to a publisher.
type Gateway struct {
	logger     *zap.Logger
	queue      chan Job
	inbox      chan at.Message
	limit      *Rate
	maxRetries int

	// rateDelay is how long the worker waits when the rate limit is hit
	rateDelay time.Duration
	// backoff returns the pause before the next attempt of a failed job
	backoff func() time.Duration
}

func NewGateway(logger *zap.Logger, ratePerMin, maxRetries int) *Gateway {
	return &Gateway{
		logger:     logger,
		queue:      make(chan Job, queueSize),
		inbox:      make(chan at.Message, inboxSize),
		limit:      NewRate(ratePerMin),
		maxRetries: maxRetries,
		rateDelay:  2 * time.Second,
		backoff: func() time.Duration {
			return time.Duration(800+rand.IntN(600)) * time.Millisecond
		},
	}
}

// Enqueue adds a request to the send queue and returns its id. A missing id
// is derived from the request contents and the current time.
func (g *Gateway) Enqueue(r SMSRequest) (string, error) {
	if r.ID == "" {
		h := sha1.Sum(fmt.Appendf(nil, "%s|%s|%d", r.To, r.Message, time.Now().UnixNano()))
		r.ID = hex.EncodeToString(h[:8])
	}

	select {
	case g.queue <- Job{Req: r}:
		g.logger.Debug("SMS queued", zap.String("id", r.ID), zap.String("to", r.To))
		return r.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// Callbacks returns modem callbacks that read every newly stored message and
// hand it to the inbox.
func (g *Gateway) Callbacks() modem.Callbacks {
	return modem.Callbacks{
		NewSMS: func(s *modem.Session, index int) {
			if err := s.RequestSMS(index); err != nil {
				g.logger.Warn("Failed to request SMS", zap.Int("index", index), zap.Error(err))
			}
		},
		ReceivedSMS: func(_ *modem.Session, msg at.Message) {
			select {
			case g.inbox <- msg:
			default:
				g.logger.Warn("Inbox full, dropping SMS", zap.Int("index", msg.Index), zap.String("sender", msg.Sender))
			}
		},
	}
}

// Run sends queued messages through sender and passes received messages to
// publish until ctx is done. A nil publish only logs them.
func (g *Gateway) Run(ctx context.Context, sender Sender, publish func(at.Message)) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.relay(ctx, publish)
	}()

	g.worker(ctx, sender)
	wg.Wait()
}

func (g *Gateway) relay(ctx context.Context, publish func(at.Message)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-g.inbox:
			g.logger.Info("SMS received",
				zap.Int("index", msg.Index),
				zap.String("sender", msg.Sender),
				zap.Int("length", len(msg.Text)))
			if publish != nil {
				publish(msg)
			}
		}
	}
}

func (g *Gateway) worker(ctx context.Context, sender Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-g.queue:
			g.process(ctx, sender, job)
		}
	}
}

func (g *Gateway) process(ctx context.Context, sender Sender, job Job) {
	for !g.limit.Allow() {
		if !sleep(ctx, g.rateDelay) {
			return
		}
	}

	for {
		err := sender.SendSMS(ctx, job.Req.To, job.Req.Message)
		if err == nil {
			g.logger.Info("Send ok", zap.String("id", job.Req.ID), zap.String("to", job.Req.To))
			return
		}
		if errors.Is(err, modem.ErrMessageTooLong) || errors.Is(err, modem.ErrAlreadyClosed) || job.Attempts >= g.maxRetries {
			g.logger.Error("Send permanent fail",
				zap.String("id", job.Req.ID),
				zap.String("to", job.Req.To),
				zap.Int("attempts", job.Attempts+1),
				zap.Error(err))
			return
		}

		back := g.backoff()
		g.logger.Warn("Send fail, retrying",
			zap.String("id", job.Req.ID),
			zap.Stringer("result", modem.ResultOf(err)),
			zap.Duration("backoff", back),
			zap.Error(err))
		job.Attempts++
		if !sleep(ctx, back) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
