package orders

import (
	"crypto/rand"
	"math/big"
)

// referenceAlphabet omits characters that read ambiguously on a printed
// ticket (0/O, 1/I/L).
const referenceAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewOrderReference mints a short human-facing order code. Uniqueness is
// enforced by the database; callers retry on collision.
func NewOrderReference() string {
	return "SP-" + randomCode(9)
}

// NewAttendeeReference mints the per-ticket code printed on each admission.
func NewAttendeeReference() string {
	return "T-" + randomCode(10)
}

func randomCode(length int) string {
	max := big.NewInt(int64(len(referenceAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform entropy source is broken.
			panic(err)
		}
		out[i] = referenceAlphabet[n.Int64()]
	}
	return string(out)
}
