// internal/protocol/nori/constants.go
package nori

// Wire constants
//
// Outbound frame:
//
//	[0xFF][0x2D][LEN][IDX][ACTION][KIND][PORT][PAYLOAD...][0x0A]
//
// Inbound frame (after splitting on CR LF):
//
//	[0xFF][0x2D][FORMAT][VALUE...][PORT][KIND]
const (
	MagicHigh  byte = 0xFF
	MagicLow   byte = 0x2D
	Terminator byte = 0x0A

	// headerBodyLen counts idx, action, kind, port and the terminator byte
	headerBodyLen = 5

	// MaxSequence is the last index emitted before the counter wraps to zero
	MaxSequence byte = 254

	// CheckPhrase is the identity string the board answers the ALIVE query with
	CheckPhrase = "HiNori!"
)

// Magic is the two-byte frame prefix
var Magic = []byte{MagicHigh, MagicLow}

// Delimiter separates inbound frames in the raw byte stream
var Delimiter = []byte{0x0D, 0x0A}
