// Package frame implements the STX/ETX/LRC framing shared by the legacy
// binary terminal protocols (Ingenico Telium, Verifone VIPA). A frame is
//
//	STX (0x02) | message type | fixed-width zero-padded fields | ETX (0x03) | LRC
//
// where LRC is the running XOR of every byte in the frame except itself.
package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	STX byte = 0x02
	ETX byte = 0x03
	ENQ byte = 0x05
	ACK byte = 0x06
)

var ErrMalformed = errors.New("malformed terminal frame")

// Field widths used by both vendors' Telium-era message layouts.
const (
	AmountWidth   = 12
	CurrencyWidth = 3
	RefWidth      = 20
)

// Build assembles a frame from a message type and pre-padded fields and
// appends the LRC.
func Build(messageType string, fields ...string) []byte {
	var payload strings.Builder
	payload.WriteString(messageType)
	for _, f := range fields {
		payload.WriteString(f)
	}

	buf := make([]byte, 0, payload.Len()+3)
	buf = append(buf, STX)
	buf = append(buf, payload.String()...)
	buf = append(buf, ETX)
	buf = append(buf, LRC(buf))
	return buf
}

// LRC computes the XOR checksum over a byte slice.
func LRC(data []byte) byte {
	var lrc byte
	for _, b := range data {
		lrc ^= b
	}
	return lrc
}

// Parsed is a validated, de-framed message.
type Parsed struct {
	// Type is the two-character response type prefix ("A0", "D0", ...).
	Type string
	// Payload is everything between the type prefix and ETX.
	Payload string
}

// Parse validates framing and checksum and splits out the response type.
// A frame must be at least STX + 2-char type + ETX + LRC.
func Parse(raw []byte) (*Parsed, error) {
	if len(raw) < 5 {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrMalformed, len(raw))
	}
	if raw[0] != STX {
		return nil, fmt.Errorf("%w: expected STX, got 0x%02X", ErrMalformed, raw[0])
	}
	etx := len(raw) - 2
	if raw[etx] != ETX {
		return nil, fmt.Errorf("%w: expected ETX at offset %d, got 0x%02X", ErrMalformed, etx, raw[etx])
	}
	if got, want := raw[len(raw)-1], LRC(raw[:len(raw)-1]); got != want {
		return nil, fmt.Errorf("%w: LRC mismatch (got 0x%02X, want 0x%02X)", ErrMalformed, got, want)
	}
	body := string(raw[1:etx])
	return &Parsed{Type: body[:2], Payload: body[2:]}, nil
}

// PadAmount renders minor units as a fixed-width zero-padded field.
func PadAmount(minor int64) string {
	return fmt.Sprintf("%0*d", AmountWidth, minor)
}

// PadCurrency renders an ISO 4217 numeric code as a 3-digit field.
func PadCurrency(numeric int) string {
	return fmt.Sprintf("%0*d", CurrencyWidth, numeric)
}

// PadRef right-pads a reference id with spaces to the fixed wire width,
// truncating anything longer.
func PadRef(ref string) string {
	if len(ref) > RefWidth {
		ref = ref[:RefWidth]
	}
	return ref + strings.Repeat(" ", RefWidth-len(ref))
}

// ParseAmount reads a fixed-width zero-padded amount field back into minor
// units.
func ParseAmount(field string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimLeft(field, "0"), 10, 64)
	if err != nil {
		if strings.Trim(field, "0") == "" && field != "" {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: bad amount field %q", ErrMalformed, field)
	}
	return v, nil
}

// Decline reasons used by the Telium-era protocols: a 2-digit code mapped to
// a human-readable reason. Codes follow the ISO 8583 DE39 convention.
var declineReasons = map[string]string{
	"05": "Do not honor",
	"12": "Invalid transaction",
	"13": "Invalid amount",
	"14": "Invalid card number",
	"41": "Lost card",
	"43": "Stolen card",
	"51": "Insufficient funds",
	"54": "Expired card",
	"55": "Incorrect PIN",
	"57": "Transaction not permitted",
	"61": "Exceeds withdrawal limit",
	"91": "Issuer unavailable",
	"96": "System malfunction",
}

// DeclineReason maps a 2-digit decline code to its human-readable reason.
func DeclineReason(code string) string {
	if reason, ok := declineReasons[code]; ok {
		return reason
	}
	return "Transaction declined"
}
