package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"i4.energy/across/smsgw/at"
	"i4.energy/across/smsgw/modem"
)

type senderFunc func(ctx context.Context, to, text string) error

func (f senderFunc) SendSMS(ctx context.Context, to, text string) error { return f(ctx, to, text) }

func newTestGateway(t *testing.T, ratePerMin, maxRetries int) *Gateway {
	g := NewGateway(zaptest.NewLogger(t), ratePerMin, maxRetries)
	g.backoff = func() time.Duration { return time.Millisecond }
	g.rateDelay = time.Millisecond
	return g
}

// runGateway starts g and stops it when the test ends.
func runGateway(t *testing.T, g *Gateway, sender Sender, publish func(at.Message)) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Run(ctx, sender, publish)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRate(t *testing.T) {
	t.Run("sliding window", func(t *testing.T) {
		r := NewRate(2)
		start := time.Now()

		assert.True(t, r.allowAt(start))
		assert.True(t, r.allowAt(start.Add(time.Second)))
		assert.False(t, r.allowAt(start.Add(2*time.Second)))
		assert.True(t, r.allowAt(start.Add(61*time.Second)))
		assert.True(t, r.allowAt(start.Add(61*time.Second)))
		assert.False(t, r.allowAt(start.Add(62*time.Second)))
	})

	t.Run("non-positive cap disables limiting", func(t *testing.T) {
		r := NewRate(0)
		for i := 0; i < 100; i++ {
			assert.True(t, r.Allow())
		}
	})
}

func TestGatewayEnqueue(t *testing.T) {
	t.Run("generates an id", func(t *testing.T) {
		g := newTestGateway(t, 0, 0)

		id, err := g.Enqueue(SMSRequest{To: "+1234567890", Message: "Hello"})
		require.NoError(t, err)
		assert.Len(t, id, 16)
	})

	t.Run("keeps the caller id", func(t *testing.T) {
		g := newTestGateway(t, 0, 0)

		id, err := g.Enqueue(SMSRequest{To: "+1234567890", Message: "Hello", ID: "order-7"})
		require.NoError(t, err)
		assert.Equal(t, "order-7", id)
		assert.Equal(t, "order-7", (<-g.queue).Req.ID)
	})

	t.Run("ErrQueueFull", func(t *testing.T) {
		g := newTestGateway(t, 0, 0)
		g.queue = make(chan Job, 1)

		_, err := g.Enqueue(SMSRequest{To: "+1", Message: "a"})
		require.NoError(t, err)
		_, err = g.Enqueue(SMSRequest{To: "+1", Message: "b"})
		assert.ErrorIs(t, err, ErrQueueFull)
	})
}

func TestGatewayWorker(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	t.Run("retries until sent", func(t *testing.T) {
		g := newTestGateway(t, 0, 3)
		var calls atomic.Int32
		sent := make(chan string, 1)

		runGateway(t, g, senderFunc(func(_ context.Context, to, text string) error {
			if calls.Add(1) < 3 {
				return modem.ErrTimedOut
			}
			sent <- to + ":" + text
			return nil
		}), nil)

		_, err := g.Enqueue(SMSRequest{To: "+1234567890", Message: "Hello"})
		require.NoError(t, err)

		select {
		case got := <-sent:
			assert.Equal(t, "+1234567890:Hello", got)
		case <-time.After(time.Second):
			t.Fatal("message not sent")
		}
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		g := newTestGateway(t, 0, 2)
		var calls atomic.Int32

		runGateway(t, g, senderFunc(func(context.Context, string, string) error {
			calls.Add(1)
			return modem.ErrResponse
		}), nil)

		_, err := g.Enqueue(SMSRequest{To: "+1", Message: "a"})
		require.NoError(t, err)

		require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("too long is not retried", func(t *testing.T) {
		g := newTestGateway(t, 0, 5)
		var calls atomic.Int32

		runGateway(t, g, senderFunc(func(context.Context, string, string) error {
			calls.Add(1)
			return modem.ErrMessageTooLong
		}), nil)

		_, err := g.Enqueue(SMSRequest{To: "+1", Message: "a"})
		require.NoError(t, err)
		_, err = g.Enqueue(SMSRequest{To: "+1", Message: "b"})
		require.NoError(t, err)

		require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	})

	t.Run("rate limit delays sending", func(t *testing.T) {
		g := newTestGateway(t, 1, 0)
		var calls atomic.Int32

		runGateway(t, g, senderFunc(func(context.Context, string, string) error {
			calls.Add(1)
			return nil
		}), nil)

		for _, text := range []string{"a", "b"} {
			_, err := g.Enqueue(SMSRequest{To: "+1", Message: text})
			require.NoError(t, err)
		}

		require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestGatewayInbox(t *testing.T) {
	g := newTestGateway(t, 0, 0)

	transport := modem.NewTestTransport()
	config, err := modem.NewConfigBuilder().
		WithDialer(transport).
		WithTimeout(time.Second).
		WithLogger(zap.NewNop()).
		WithCallbacks(g.Callbacks()).
		Build()
	require.NoError(t, err)

	s, err := modem.New(context.Background(), config)
	require.NoError(t, err)
	defer s.Close()

	var mu sync.Mutex
	var published []at.Message
	runGateway(t, g, senderFunc(func(context.Context, string, string) error {
		return errors.New("not used")
	}), func(msg at.Message) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, msg)
	})

	require.NoError(t, s.EnableSMSNotifications())
	transport.Reply("AT+CMGR=7", "+CMGR: \"REC UNREAD\",\"+12025550123\",\"\",\"24/01/01,10:00:00+00\"\r\nHello\r\n\r\nOK\r\n")
	transport.Feed("\r\n+CMTI: \"SM\",7\r\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(published) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 7, published[0].Index)
	assert.Equal(t, "+12025550123", published[0].Sender)
	assert.Equal(t, "Hello", published[0].Text)
	assert.Equal(t, []string{"AT+CMGR=7"}, transport.Written())
}
