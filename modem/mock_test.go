package modem_test

import (
	"testing"
	"time"

	gomock "go.uber.org/mock/gomock"

	"i4.energy/across/smsgw/modem"
)

// MockSequenceBuilder scripts an ordered command exchange on a
// MockTransport. Replies are delivered byte by byte through a TestTransport.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	modem     *modem.TestTransport
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport, feeder *modem.TestTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		modem:     feeder,
		calls:     []any{},
	}
}

func (b *MockSequenceBuilder) expect(cmd, resp string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Transmit([]byte(cmd)).DoAndReturn(func(p []byte) error {
			b.modem.Feed(resp)
			return nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.expect("AT\r\n", "AT\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.expect("ATE0\r\n", "ATE0\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimPinRequired() *MockSequenceBuilder {
	return b.expect("AT+CPIN?\r\n", "+CPIN: SIM PIN\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimReady() *MockSequenceBuilder {
	return b.expect("AT+CPIN?\r\n", "+CPIN: READY\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SMSTextMode() *MockSequenceBuilder {
	return b.expect("AT+CMGF=1\r\n", "OK\r\n")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

// mockTransport returns a MockTransport whose reads are served by feeder.
func mockTransport(ctrl *gomock.Controller) (*modem.MockTransport, *modem.TestTransport) {
	feeder := modem.NewTestTransport()
	transport := modem.NewMockTransport(ctrl)
	transport.EXPECT().Receive(gomock.Any()).DoAndReturn(feeder.Receive).AnyTimes()
	return transport, feeder
}

// newSession starts a receiving session on a TestTransport.
func newSession(t *testing.T, configure ...func(*modem.ConfigBuilder)) (*modem.Session, *modem.TestTransport) {
	t.Helper()

	transport := modem.NewTestTransport()
	builder := modem.NewConfigBuilder().
		WithDialer(transport).
		WithTimeout(2 * time.Second).
		WithPromptTimeout(time.Second)
	for _, fn := range configure {
		fn(builder)
	}

	config, err := builder.Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	s := modem.NewSession(transport, config)
	if err := s.EnableReceive(); err != nil {
		t.Fatalf("unexpected error from EnableReceive(): %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s, transport
}

// newOfflineSession returns a session that is fed through HandleByte
// directly, without a receiving transport.
func newOfflineSession(t *testing.T, configure ...func(*modem.ConfigBuilder)) *modem.Session {
	t.Helper()

	transport := modem.NewTestTransport()
	builder := modem.NewConfigBuilder().WithDialer(transport)
	for _, fn := range configure {
		fn(builder)
	}

	config, err := builder.Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	s := modem.NewSession(transport, config)
	t.Cleanup(func() { s.Close() })
	return s
}

func feed(s *modem.Session, data string) {
	for i := 0; i < len(data); i++ {
		s.HandleByte(data[i])
	}
}
