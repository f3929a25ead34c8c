package at

import (
	"fmt"
	"strconv"
	"strings"
)

// ChargeStatus is the first field of a +CBC reply.
type ChargeStatus int

const (
	NotCharging      ChargeStatus = 0
	Charging         ChargeStatus = 1
	ChargingFinished ChargeStatus = 2
)

func (c ChargeStatus) String() string {
	switch c {
	case NotCharging:
		return "not charging"
	case Charging:
		return "charging"
	case ChargingFinished:
		return "charging finished"
	default:
		return "unknown(" + strconv.Itoa(int(c)) + ")"
	}
}

// Battery is the decoded +CBC reply.
type Battery struct {
	ChargeStatus    ChargeStatus `json:"charge_status"`
	ConnectionLevel int          `json:"connection_level"`
	// BatteryLevel is the battery voltage in millivolts.
	BatteryLevel int `json:"battery_level"`
}

// RegistrationStatus is the <stat> field of a +CREG reply.
type RegistrationStatus int

const (
	NotRegistered             RegistrationStatus = 0
	RegisteredHome            RegistrationStatus = 1
	Searching                 RegistrationStatus = 2
	RegistrationDenied        RegistrationStatus = 3
	RegistrationStatusUnknown RegistrationStatus = 4
	RegisteredRoaming         RegistrationStatus = 5

	// RegistrationFailed is not reported by the modem. It is returned
	// together with an error when the status could not be obtained.
	RegistrationFailed RegistrationStatus = 6
)

func (r RegistrationStatus) String() string {
	switch r {
	case NotRegistered:
		return "not registered"
	case RegisteredHome:
		return "registered, home network"
	case Searching:
		return "searching"
	case RegistrationDenied:
		return "registration denied"
	case RegistrationStatusUnknown:
		return "unknown"
	case RegisteredRoaming:
		return "registered, roaming"
	default:
		return "failed"
	}
}

// Registered reports whether the modem is attached to a network.
func (r RegistrationStatus) Registered() bool {
	return r == RegisteredHome || r == RegisteredRoaming
}

// Message is a text mode SMS read with +CMGR.
type Message struct {
	Index  int    `json:"index"`
	Status string `json:"status"` // "REC UNREAD", "REC READ", "STO UNSENT", "STO SENT"
	Sender string `json:"sender"`
	Time   string `json:"time"`
	Text   string `json:"text"`
}

// Validate checks that the payload contains the success marker.
func Validate(payload string) error {
	if strings.Contains(payload, OK) {
		return nil
	}
	return ErrResponse
}

// ParseBattery decodes "+CBC: <bcs>,<bcl>,<voltage>".
func ParseBattery(payload string) (Battery, error) {
	rest, err := afterHeader(payload)
	if err != nil {
		return Battery{}, err
	}

	fields, err := leadingInts(rest, 3)
	if err != nil {
		return Battery{}, fmt.Errorf("battery %q: %w", firstLine(payload), err)
	}

	return Battery{
		ChargeStatus:    ChargeStatus(fields[0]),
		ConnectionLevel: fields[1],
		BatteryLevel:    fields[2],
	}, nil
}

// ParseRegistration decodes the status code of "+CREG: <n>,<stat>".
func ParseRegistration(payload string) (RegistrationStatus, error) {
	rest, err := afterHeader(payload)
	if err != nil {
		return RegistrationFailed, err
	}

	i := strings.IndexByte(rest, ',')
	if i < 0 {
		return RegistrationFailed, fmt.Errorf("registration %q: missing comma: %w", firstLine(payload), ErrMalformed)
	}

	code, err := leadingInt(rest[i+1:])
	if err != nil {
		return RegistrationFailed, fmt.Errorf("registration %q: %w", firstLine(payload), err)
	}
	if code < int(NotRegistered) || code > int(RegisteredRoaming) {
		return RegistrationFailed, fmt.Errorf("registration status %d: %w", code, ErrMalformed)
	}

	return RegistrationStatus(code), nil
}

// ParseNotificationIndex decodes the storage index of
// `+CMTI: "<mem>",<index>`.
func ParseNotificationIndex(payload string) (int, error) {
	i := strings.IndexByte(payload, ',')
	if i < 0 {
		return 0, fmt.Errorf("notification %q: missing comma: %w", firstLine(payload), ErrMalformed)
	}

	index, err := leadingInt(payload[i+1:])
	if err != nil {
		return 0, fmt.Errorf("notification %q: %w", firstLine(payload), err)
	}
	return index, nil
}

// ParseMessage decodes a +CMGR payload. It only understands the text mode
// layout
//
//	+CMGR: "<status>","<sender>","","<timestamp>"
//	<body>
//	OK
//
// and reads exactly one body line. Other layouts are rejected.
func ParseMessage(payload string) (Message, error) {
	header, body, ok := strings.Cut(payload, "\n")
	if !ok {
		return Message{}, fmt.Errorf("message: missing body line: %w", ErrMalformed)
	}

	rest, err := afterHeader(header)
	if err != nil {
		return Message{}, err
	}

	fields := quotedFields(rest)
	if len(fields) < 4 {
		return Message{}, fmt.Errorf("message header %q: %d quoted fields: %w", strings.TrimSpace(header), len(fields), ErrMalformed)
	}

	text, _, ok := strings.Cut(body, "\n")
	if !ok {
		return Message{}, fmt.Errorf("message: unterminated body: %w", ErrMalformed)
	}

	return Message{
		Status: fields[0],
		Sender: fields[1],
		Time:   fields[3],
		Text:   strings.TrimSuffix(text, "\r"),
	}, nil
}

// ParsePINStatus decodes "+CPIN: <code>".
func ParsePINStatus(payload string) (string, error) {
	rest, err := afterHeader(payload)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(firstLine(rest)), nil
}

// afterHeader returns everything after the first colon of the payload.
func afterHeader(payload string) (string, error) {
	i := strings.IndexByte(firstLine(payload), ':')
	if i < 0 {
		return "", fmt.Errorf("header %q: missing colon: %w", firstLine(payload), ErrMalformed)
	}
	return payload[i+1:], nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSuffix(line, "\r")
}

// leadingInts decodes n comma separated integers from the start of s.
func leadingInts(s string, n int) ([]int, error) {
	out := make([]int, 0, n)
	for len(out) < n {
		v, err := leadingInt(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)

		if len(out) == n {
			break
		}
		i := strings.IndexByte(s, ',')
		if i < 0 {
			return nil, fmt.Errorf("expected %d fields, got %d: %w", n, len(out), ErrMalformed)
		}
		s = s[i+1:]
	}
	return out, nil
}

// leadingInt decodes the integer at the start of s, skipping blanks, and
// ignores whatever follows the digits.
func leadingInt(s string) (int, error) {
	s = strings.TrimLeft(s, " \t")
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}

	v, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, fmt.Errorf("integer field %q: %w", s, ErrMalformed)
	}
	return v, nil
}

// quotedFields splits a comma separated list of fields, honouring commas
// inside double quotes and stripping the quotes.
func quotedFields(s string) []string {
	s = strings.TrimSpace(firstLine(s))
	if s == "" {
		return nil
	}

	var (
		fields  []string
		current strings.Builder
		quoted  bool
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"':
			quoted = !quoted
		case c == ',' && !quoted:
			fields = append(fields, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	return append(fields, current.String())
}
