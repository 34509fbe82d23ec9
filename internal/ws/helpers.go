package ws

import (
	"crypto/rand"
	"encoding/hex"
)

// newConnID returns a random identifier for one session. It appears in
// logs and lifecycle events only; it is never exposed to clients.
func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "conn-unknown"
	}
	return hex.EncodeToString(buf)
}
