package message

import "errors"

var (
	// ErrTooManySurbs is returned by Pack when more SURBs are requested
	// than MaxSurbsInPacket allows.
	ErrTooManySurbs = errors.New("message: too many surbs for one packet")

	// ErrMessageTooLong is returned by Pack when payload does not fit
	// alongside the requested SURBs.
	ErrMessageTooLong = errors.New("message: payload too long for remaining capacity")

	// ErrInvalidFrameLength is returned by Unpack when the input is not
	// exactly sphinx.PayloadLen bytes.
	ErrInvalidFrameLength = errors.New("message: framed payload has invalid length")

	// ErrCorruptSurbCount is returned by Unpack when the declared SURB
	// count cannot possibly fit in the remaining buffer.
	ErrCorruptSurbCount = errors.New("message: corrupt surb count")
)
