package modem

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
)

func TestSerialDialer_Dial_EmptyPortName(t *testing.T) {
	dialer := SerialDialer{
		PortName: "",
	}

	ctx := context.Background()
	transport, err := dialer.Dial(ctx)

	if err == nil {
		t.Error("expected error for empty port name")
	}
	if transport != nil {
		t.Error("expected nil transport for empty port name")
	}
	if err.Error() != "gsm: serial port name is required" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestSerialDialer_Dial_NilContext(t *testing.T) {
	dialer := SerialDialer{
		PortName: "/dev/ttyUSB0",
	}

	transport, err := dialer.Dial(nil)

	if err == nil {
		t.Error("expected error for nil context")
	}
	if transport != nil {
		t.Error("expected nil transport for nil context")
	}
	if err.Error() != "gsm: context is nil" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestSerialDialer_Dial_ContextCanceled(t *testing.T) {
	dialer := SerialDialer{
		PortName: "/dev/nonexistent", // Port that should fail to open
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	transport, err := dialer.Dial(ctx)

	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
	if transport != nil {
		t.Error("expected nil transport for canceled context")
	}
}

func TestSerialDialer_Dial_WithMode(t *testing.T) {
	dialer := SerialDialer{
		PortName: "/dev/nonexistent", // This will fail, but we test the path
		Mode: &serial.Mode{
			BaudRate: 115200,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		},
	}

	ctx := context.Background()
	transport, err := dialer.Dial(ctx)

	// Since we're using a non-existent port, expect an error
	if err == nil {
		t.Error("expected error for non-existent port")
	}
	if transport != nil {
		t.Error("expected nil transport for non-existent port")
	}
	// Check that the error mentions the port name
	if err != nil && err.Error() == "" {
		t.Error("expected descriptive error message")
	}
}

func TestSerialDialer_Dial_DefaultMode(t *testing.T) {
	dialer := SerialDialer{
		PortName: "/dev/nonexistent", // This will fail, but we test the path
		// Mode is nil - should use defaults
	}

	ctx := context.Background()
	transport, err := dialer.Dial(ctx)

	// Since we're using a non-existent port, expect an error
	if err == nil {
		t.Error("expected error for non-existent port")
	}
	if transport != nil {
		t.Error("expected nil transport for non-existent port")
	}
}

func TestDialerInterface(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDialer := NewMockDialer(ctrl)
	mockTransport := NewMockTransport(ctrl)

	// Test that mockDialer implements Dialer interface
	var _ Dialer = mockDialer

	ctx := context.Background()
	mockDialer.EXPECT().Dial(ctx).Return(mockTransport, nil)

	transport, err := mockDialer.Dial(ctx)
	if err != nil {
		t.Errorf("unexpected dial error: %v", err)
	}
	if transport != mockTransport {
		t.Error("expected mock transport to be returned")
	}
}

func TestDialerInterface_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDialer := NewMockDialer(ctrl)
	dialError := errors.New("dial failed")

	ctx := context.Background()
	mockDialer.EXPECT().Dial(ctx).Return(nil, dialError)

	transport, err := mockDialer.Dial(ctx)
	if err != dialError {
		t.Errorf("expected dial error, got: %v", err)
	}
	if transport != nil {
		t.Error("expected nil transport on error")
	}
}

// fakePort behaves like a serial port with a read timeout: Read returns
// (0, nil) when nothing arrived in time.
type fakePort struct {
	mu      sync.Mutex
	written bytes.Buffer
	input   chan []byte
	closed  chan struct{}
	readErr error
}

func newFakePort() *fakePort {
	return &fakePort{
		input:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	err := p.readErr
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}

	select {
	case data := <-p.input:
		return copy(b, data), nil
	case <-p.closed:
		return 0, io.EOF
	case <-time.After(5 * time.Millisecond):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	close(p.closed)
	return nil
}

func TestPortTransport(t *testing.T) {
	t.Run("delivers one byte per arm", func(t *testing.T) {
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

		port := newFakePort()
		transport := newPortTransport(port)

		received := make(chan byte, 16)
		var deliver func(b byte)
		deliver = func(b byte) {
			received <- b
			if b != '\n' {
				require.NoError(t, transport.Receive(deliver))
			}
		}

		port.input <- []byte("OK\r\n")
		require.NoError(t, transport.Receive(deliver))

		var got []byte
		for len(got) < 4 {
			select {
			case b := <-received:
				got = append(got, b)
			case <-time.After(time.Second):
				t.Fatalf("received %q only", got)
			}
		}
		assert.Equal(t, "OK\r\n", string(got))

		// not re-armed after the terminator
		select {
		case b := <-received:
			t.Errorf("unexpected byte %q", b)
		case <-time.After(20 * time.Millisecond):
		}

		require.NoError(t, transport.Close())
		assert.NoError(t, transport.Close())
	})

	t.Run("transmit", func(t *testing.T) {
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

		port := newFakePort()
		transport := newPortTransport(port)

		require.NoError(t, transport.Transmit([]byte("AT\r\n")))
		port.mu.Lock()
		assert.Equal(t, "AT\r\n", port.written.String())
		port.mu.Unlock()

		require.NoError(t, transport.Close())
		assert.ErrorIs(t, transport.Transmit([]byte("AT\r\n")), ErrAlreadyClosed)
		assert.ErrorIs(t, transport.Receive(func(byte) {}), ErrAlreadyClosed)
	})

	t.Run("read error is reported by the next arm", func(t *testing.T) {
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

		port := newFakePort()
		port.readErr = errors.New("device unplugged")
		transport := newPortTransport(port)
		defer transport.Close()

		require.NoError(t, transport.Receive(func(byte) {}))
		require.Eventually(t, func() bool {
			return transport.Receive(func(byte) {}) != nil
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("read error is reported once to the callback", func(t *testing.T) {
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

		port := newFakePort()
		port.readErr = errors.New("device unplugged")
		transport := newPortTransport(port)
		defer transport.Close()

		failed := make(chan error, 2)
		transport.OnReadError(func(err error) { failed <- err })
		require.NoError(t, transport.Receive(func(byte) {}))

		select {
		case err := <-failed:
			assert.ErrorContains(t, err, "device unplugged")
		case <-time.After(time.Second):
			t.Fatal("read error not reported")
		}

		// registered after the failure
		late := make(chan error, 1)
		transport.OnReadError(func(err error) { late <- err })
		assert.Len(t, late, 1)
		assert.Empty(t, failed)
	})
}

func TestSessionReadFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	port := newFakePort()
	port.readErr = errors.New("device unplugged")

	config, err := NewConfigBuilder().
		WithDialer(SerialDialer{PortName: "/dev/ttyUSB0"}).
		WithTimeout(5 * time.Second).
		Build()
	require.NoError(t, err)

	s := NewSession(newPortTransport(port), config)
	defer s.Close()
	require.NoError(t, s.EnableReceive())

	start := time.Now()
	err = s.Status(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, s.Receiving())

	assert.ErrorIs(t, s.EnableReceive(), ErrTransport)
}
