package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Ack is a decoded acknowledgment.
type Ack struct {
	// NextExpected is the cumulative acknowledgment: every sequence number
	// strictly below it has been applied. Zero for ping acks.
	NextExpected uint64
	// Ping reports whether this acknowledges a keepalive rather than an event.
	Ping bool
}

// EncodeAck renders an event acknowledgment: *<next_expected_sequence>#.
func EncodeAck(nextExpected uint64) string {
	return FieldSeparator + strconv.FormatUint(nextExpected, 10) + Terminator
}

// EncodePingAck renders the empty-sequence acknowledgment for a keepalive: *#.
func EncodePingAck() string {
	return FieldSeparator + Terminator
}

// DecodeAck parses an acknowledgment in either form.
func DecodeAck(raw string) (*Ack, error) {
	if !strings.HasPrefix(raw, FieldSeparator) || !strings.HasSuffix(raw, Terminator) {
		return nil, fmt.Errorf("%w: bad ack framing", ErrMalformedMessage)
	}

	body := strings.TrimSuffix(strings.TrimPrefix(raw, FieldSeparator), Terminator)
	if body == "" {
		return &Ack{Ping: true}, nil
	}

	nextExpected, err := strconv.ParseUint(body, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ack sequence %q", ErrMalformedMessage, body)
	}

	return &Ack{NextExpected: nextExpected}, nil
}

// EncodeSessionAck renders the secondary-transport cumulative acknowledgment,
// a bare sequence number terminated by #.
func EncodeSessionAck(nextExpected uint64) string {
	return strconv.FormatUint(nextExpected, 10) + Terminator
}

// DecodeSessionAck parses a secondary-transport cumulative acknowledgment.
func DecodeSessionAck(raw string) (uint64, error) {
	body := strings.TrimSuffix(raw, Terminator)
	if body == raw {
		return 0, fmt.Errorf("%w: missing terminator", ErrMalformedMessage)
	}

	nextExpected, err := strconv.ParseUint(body, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad session ack %q", ErrMalformedMessage, body)
	}

	return nextExpected, nil
}

// EncodeIdentity renders the secondary-session identity line: client_id*pin#.
func EncodeIdentity(clientID, pin string) string {
	return clientID + FieldSeparator + pin + Terminator
}

// DecodeIdentity parses a secondary-session identity line.
func DecodeIdentity(raw string) (clientID, pin string, err error) {
	if !strings.HasSuffix(raw, Terminator) {
		return "", "", fmt.Errorf("%w: missing terminator", ErrMalformedMessage)
	}

	fields := strings.Split(strings.TrimSuffix(raw, Terminator), FieldSeparator)
	if len(fields) != 2 || fields[0] == "" || fields[1] == "" {
		return "", "", fmt.Errorf("%w: bad identity line", ErrMalformedMessage)
	}

	return fields[0], fields[1], nil
}
