package security

// Signer signs and verifies opaque byte payloads.
type Signer interface {
	Sign(data []byte, secret []byte) string
	Verify(data []byte, signature string, secret []byte) bool
}
