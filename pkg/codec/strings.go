package codec

import (
	"fmt"
	"math"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/rawbytedev/pdx/internal/common"
)

// utfUnits returns s as UTF-16 code units.
func utfUnits(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

func unitLen(u uint16) int {
	switch {
	case u != 0 && u < 0x80:
		return 1
	case u < 0x800:
		return 2
	default:
		return 3
	}
}

// ModifiedUTF8Len returns the encoded size of s in modified UTF-8.
func ModifiedUTF8Len(s string) int {
	n := 0
	for _, r := range s {
		switch {
		case r == 0:
			n += 2
		case r < 0x80:
			n++
		case r < 0x800:
			n += 2
		case r <= 0xFFFF:
			n += 3
		default:
			n += 6
		}
	}
	return n
}

// IsASCII reports whether every byte of s is 7-bit.
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func appendUnit(dst []byte, u uint16) []byte {
	switch {
	case u != 0 && u < 0x80:
		return append(dst, byte(u))
	case u < 0x800:
		return append(dst, byte(0xC0|(u>>6)&0x1F), byte(0x80|u&0x3F))
	default:
		return append(dst, byte(0xE0|(u>>12)&0x0F), byte(0x80|(u>>6)&0x3F), byte(0x80|u&0x3F))
	}
}

// encodeModifiedUTF8 encodes s, stopping before any code point that would
// push the output past limit bytes. Surrogate pairs are kept whole.
func encodeModifiedUTF8(dst []byte, s string, limit int) []byte {
	n := 0
	for _, r := range s {
		if r > 0xFFFF {
			hi, lo := utf16.EncodeRune(r)
			if n+6 > limit {
				break
			}
			dst = appendUnit(dst, uint16(hi))
			dst = appendUnit(dst, uint16(lo))
			n += 6
			continue
		}
		u := uint16(r)
		w := unitLen(u)
		if n+w > limit {
			break
		}
		dst = appendUnit(dst, u)
		n += w
	}
	return dst
}

func decodeModifiedUTF8(b []byte) (string, error) {
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", fmt.Errorf("%w: bad 2-byte sequence at %d", ErrMalformedString, i)
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", fmt.Errorf("%w: bad 3-byte sequence at %d", ErrMalformedString, i)
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return "", fmt.Errorf("%w: bad lead byte 0x%02x at %d", ErrMalformedString, c, i)
		}
	}
	return string(utf16.Decode(units)), nil
}

// WriteUTF writes the short modified UTF-8 form: a u16 byte length followed
// by the encoding, truncated at a code point boundary to fit 0xFFFF bytes.
func (o *Output) WriteUTF(s string) {
	n := ModifiedUTF8Len(s)
	if n > math.MaxUint16 {
		n = math.MaxUint16
	}
	lenPos := len(o.buf)
	o.Grow(2 + n)
	o.buf = append(o.buf, 0, 0)
	o.buf = encodeModifiedUTF8(o.buf, s, n)
	o.PutUintAt(lenPos, 2, uint32(len(o.buf)-lenPos-2))
}

// WriteASCII writes the short ASCII form. Only the first 0xFFFF bytes are
// kept.
func (o *Output) WriteASCII(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	o.WriteUint16(uint16(len(s)))
	o.Grow(len(s))
	o.buf = append(o.buf, s...)
}

// WriteASCIIHuge writes the ASCII form with a u32 length.
func (o *Output) WriteASCIIHuge(s string) {
	o.WriteUint32(uint32(len(s)))
	o.Grow(len(s))
	o.buf = append(o.buf, s...)
}

// WriteUTFHuge writes a u32 count of UTF-16 units followed by the units.
func (o *Output) WriteUTFHuge(s string) {
	units := utfUnits(s)
	o.WriteUint32(uint32(len(units)))
	o.Grow(2 * len(units))
	for _, u := range units {
		o.WriteUint16(u)
	}
}

// WriteString writes s prefixed by the type code of the smallest form that
// holds it without truncation.
func (o *Output) WriteString(s string) {
	if IsASCII(s) {
		if len(s) <= math.MaxUint16 {
			o.WriteUint8(common.DSASCIIString)
			o.WriteASCII(s)
			return
		}
		o.WriteUint8(common.DSASCIIStringHuge)
		o.WriteASCIIHuge(s)
		return
	}
	if ModifiedUTF8Len(s) <= math.MaxUint16 {
		o.WriteUint8(common.DSString)
		o.WriteUTF(s)
		return
	}
	o.WriteUint8(common.DSStringHuge)
	o.WriteUTFHuge(s)
}

// WriteNullString writes the null string marker.
func (o *Output) WriteNullString() {
	o.WriteUint8(common.DSNullString)
}

func (in *Input) ReadUTF() (string, error) {
	n, err := in.ReadUint16()
	if err != nil {
		return "", err
	}
	raw, err := in.ReadRaw(int(n))
	if err != nil {
		return "", err
	}
	return decodeModifiedUTF8(raw)
}

func (in *Input) ReadASCII() (string, error) {
	n, err := in.ReadUint16()
	if err != nil {
		return "", err
	}
	raw, err := in.ReadRaw(int(n))
	return string(raw), err
}

func (in *Input) ReadASCIIHuge() (string, error) {
	n, err := in.ReadUint32()
	if err != nil {
		return "", err
	}
	if n > math.MaxInt32 {
		return "", fmt.Errorf("%w: string length %d", ErrBufferBounds, n)
	}
	raw, err := in.ReadRaw(int(n))
	return string(raw), err
}

func (in *Input) ReadUTFHuge() (string, error) {
	n, err := in.ReadUint32()
	if err != nil {
		return "", err
	}
	if n > math.MaxInt32/2 {
		return "", fmt.Errorf("%w: string length %d", ErrBufferBounds, n)
	}
	if err := in.check(int(n) * 2); err != nil {
		return "", err
	}
	units := make([]uint16, n)
	for i := range units {
		units[i], _ = in.ReadUint16()
	}
	return string(utf16.Decode(units)), nil
}

// ReadStringBody decodes the string form selected by code.
func (in *Input) ReadStringBody(code byte) (s string, ok bool, err error) {
	switch code {
	case common.DSNullString:
		return "", false, nil
	case common.DSString:
		s, err = in.ReadUTF()
	case common.DSASCIIString:
		s, err = in.ReadASCII()
	case common.DSASCIIStringHuge:
		s, err = in.ReadASCIIHuge()
	case common.DSStringHuge:
		s, err = in.ReadUTFHuge()
	default:
		return "", false, fmt.Errorf("%w: %d", ErrUnexpectedStringCode, code)
	}
	return s, err == nil, err
}

// ReadNullableString reads a type-coded string. ok is false for the null
// marker.
func (in *Input) ReadNullableString() (s string, ok bool, err error) {
	code, err := in.ReadUint8()
	if err != nil {
		return "", false, err
	}
	return in.ReadStringBody(code)
}

// ReadString reads a type-coded string; null decodes as "".
func (in *Input) ReadString() (string, error) {
	s, _, err := in.ReadNullableString()
	return s, err
}
