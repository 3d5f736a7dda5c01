package envelope

import (
	"encoding/binary"
	"strings"
	"sync/atomic"
	"time"
)

// crockfordAlphabet is the lowercase Crockford base32 alphabet used to
// render transaction ids: no padding, unambiguous characters, and safe
// to embed directly as an MQTT topic segment (no '+', '#' or '/').
const crockfordAlphabet = "0123456789abcdefghjkmnpqrstvwxyz"

// idLength is the fixed rendered length of a minted transaction id:
// 8 bytes of monotonic nanoseconds + 4 bytes of counter, base32-encoded
// 5 bits at a time (12 bytes -> ceil(96/5) = 20 characters).
const idLength = 20

// processStart anchors the monotonic clock reading used by
// NewTransactionID; time.Since(processStart) carries Go's internal
// monotonic reading and is therefore immune to wall-clock adjustments.
var processStart = time.Now()

// counter is a per-process, monotonically increasing value mixed into
// every minted id so that two calls landing on the same nanosecond
// tick still produce distinct ids.
var counter uint32

// NewTransactionID mints a fresh, validator-accepted transaction id.
// The id embeds a monotonic timestamp and a per-process counter so
// that (a) two calls in the same nanosecond still produce distinct
// ids, and (b) ValidTransactionID accepts only ids produced by this
// function's alphabet and length.
func NewTransactionID() string {
	elapsed := uint64(time.Since(processStart).Nanoseconds())
	seq := atomic.AddUint32(&counter, 1)

	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], elapsed)
	binary.BigEndian.PutUint32(buf[8:], seq)
	return encodeBase32(buf[:])
}

// ValidTransactionID reports whether s could have been produced by
// NewTransactionID: fixed length, drawn entirely from the minter's
// alphabet. It does not, and cannot, re-derive timing information.
func ValidTransactionID(s string) bool {
	if len(s) != idLength {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(crockfordAlphabet, r) {
			return false
		}
	}
	return true
}

// encodeBase32 renders data using the lowercase Crockford alphabet,
// 5 bits at a time, without padding.
func encodeBase32(data []byte) string {
	var sb strings.Builder
	sb.Grow(idLength)

	var bitBuf uint64
	bitCount := 0
	for _, b := range data {
		bitBuf = (bitBuf << 8) | uint64(b)
		bitCount += 8
		for bitCount >= 5 {
			bitCount -= 5
			idx := (bitBuf >> uint(bitCount)) & 0x1f
			sb.WriteByte(crockfordAlphabet[idx])
		}
	}
	if bitCount > 0 {
		idx := (bitBuf << uint(5-bitCount)) & 0x1f
		sb.WriteByte(crockfordAlphabet[idx])
	}
	return sb.String()
}
