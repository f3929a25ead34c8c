package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"i4.energy/across/smsgw/at"
	"i4.energy/across/smsgw/modem"
)

func newTestServer(t *testing.T) (*Server, *modem.TestTransport) {
	t.Helper()

	transport := modem.NewTestTransport()
	config, err := modem.NewConfigBuilder().
		WithDialer(transport).
		WithTimeout(100 * time.Millisecond).
		WithPromptTimeout(100 * time.Millisecond).
		Build()
	require.NoError(t, err)

	m, err := modem.New(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	return &Server{Logger: zaptest.NewLogger(t), Modem: m}, transport
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServerSendSMS(t *testing.T) {
	t.Run("sent", func(t *testing.T) {
		s, transport := newTestServer(t)
		transport.
			Reply(`AT+CMGS="+1234567890"`, "\r\n> ").
			Reply("Hello\x1a", "\r\n+CMGS: 12\r\n\r\nOK\r\n")

		rec := do(s, http.MethodPost, "/sms", `{"to":"+1234567890","message":"Hello"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{`AT+CMGS="+1234567890"`, "Hello\x1a"}, transport.Written())
	})

	t.Run("missing fields", func(t *testing.T) {
		s, transport := newTestServer(t)

		rec := do(s, http.MethodPost, "/sms", `{"to":"+1234567890"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "required")
		assert.Empty(t, transport.Written())
	})

	t.Run("bad json", func(t *testing.T) {
		s, _ := newTestServer(t)

		rec := do(s, http.MethodPost, "/sms", `{"to":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("too long", func(t *testing.T) {
		s, _ := newTestServer(t)

		body, err := json.Marshal(SMSRequest{To: "+1", Message: strings.Repeat("x", modem.DefaultSMSMax)})
		require.NoError(t, err)

		rec := do(s, http.MethodPost, "/sms", string(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no prompt", func(t *testing.T) {
		s, _ := newTestServer(t)

		rec := do(s, http.MethodPost, "/sms", `{"to":"+1234567890","message":"Hello"}`)
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		s, _ := newTestServer(t)

		rec := do(s, http.MethodPut, "/sms", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestServerQueue(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		s, _ := newTestServer(t)
		s.Gateway = newTestGateway(t, 0, 0)

		rec := do(s, http.MethodPost, "/sms/queue", `{"to":"+1","message":"Hi","id":"abc"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, map[string]string{"status": "queued", "id": "abc"}, resp)
	})

	t.Run("no gateway", func(t *testing.T) {
		s, _ := newTestServer(t)

		rec := do(s, http.MethodPost, "/sms/queue", `{"to":"+1","message":"Hi"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServerStatus(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		s, transport := newTestServer(t)
		transport.Reply("AT", "OK\r\n")

		rec := do(s, http.MethodGet, "/status", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"result":"OK"}`, rec.Body.String())
	})

	t.Run("ERROR", func(t *testing.T) {
		s, transport := newTestServer(t)
		transport.Reply("AT", "ERROR\r\n")

		rec := do(s, http.MethodGet, "/status", "")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), `"result":"ERROR"`)
	})

	t.Run("TIMEOUT", func(t *testing.T) {
		s, _ := newTestServer(t)

		rec := do(s, http.MethodGet, "/status", "")
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Contains(t, rec.Body.String(), `"result":"TIMEOUT"`)
	})
}

func TestServerQueries(t *testing.T) {
	t.Run("battery", func(t *testing.T) {
		s, transport := newTestServer(t)
		transport.Reply("AT+CBC", "+CBC: 1,60,3900\r\n\r\nOK\r\n")

		rec := do(s, http.MethodGet, "/battery", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var battery at.Battery
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&battery))
		assert.Equal(t, at.Battery{ChargeStatus: at.Charging, ConnectionLevel: 60, BatteryLevel: 3900}, battery)
	})

	t.Run("registration", func(t *testing.T) {
		s, transport := newTestServer(t)
		transport.Reply("AT+CREG?", "+CREG: 0,5\r\n\r\nOK\r\n")

		rec := do(s, http.MethodGet, "/registration", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":5`)
		assert.Contains(t, rec.Body.String(), `"registered":true`)
	})

	t.Run("read SMS", func(t *testing.T) {
		s, transport := newTestServer(t)
		transport.Reply("AT+CMGR=3", "+CMGR: \"REC READ\",\"+12025550123\",\"\",\"24/01/01,10:00:00+00\"\r\nHi there\r\n\r\nOK\r\n")

		rec := do(s, http.MethodGet, "/sms/3", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var msg at.Message
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
		assert.Equal(t, 3, msg.Index)
		assert.Equal(t, "Hi there", msg.Text)
	})

	t.Run("read empty index", func(t *testing.T) {
		s, transport := newTestServer(t)
		transport.Reply("AT+CMGR=4", "OK\r\n")

		rec := do(s, http.MethodGet, "/sms/4", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("read invalid index", func(t *testing.T) {
		s, transport := newTestServer(t)

		rec := do(s, http.MethodGet, "/sms/abc", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, transport.Written())
	})

	t.Run("delete all", func(t *testing.T) {
		s, transport := newTestServer(t)
		transport.Reply("AT+CMGD=1,4", "OK\r\n")

		rec := do(s, http.MethodDelete, "/sms", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []string{"AT+CMGD=1,4"}, transport.Written())
	})
}
