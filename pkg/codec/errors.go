package codec

import "errors"

var (
	// ErrBufferBounds is returned when a read or a patch would cross the end
	// of the buffer.
	ErrBufferBounds = errors.New("pdx: buffer bounds exceeded")
	// ErrMalformedLengthCode is returned for a four-byte length prefix that
	// does not fit an int32.
	ErrMalformedLengthCode = errors.New("pdx: unexpected length code")
	// ErrMalformedString is returned for an invalid modified UTF-8 sequence.
	ErrMalformedString = errors.New("pdx: malformed modified utf-8")
	// ErrUnexpectedStringCode is returned when a string is expected but the
	// type code says otherwise.
	ErrUnexpectedStringCode = errors.New("pdx: unexpected string type code")
)
