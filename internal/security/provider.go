// Package security holds the message-authentication contract used by
// providers that MAC their wire messages. The default implementation is a
// software HMAC for development; a PKCS#11-backed implementation is enabled
// with the softhsm build tag.
package security

// MACProvider computes a message authentication code over an outgoing wire
// message. Implementations must not log or retain the input.
type MACProvider interface {
	// MAC returns an 8-byte authentication code for data.
	MAC(data []byte) ([]byte, error)
}
