package pdx

import (
	"fmt"

	"github.com/rawbytedev/pdx/internal/common"
	"github.com/rawbytedev/pdx/pkg/codec"
	"github.com/rawbytedev/pdx/pkg/pdxtype"
)

// writeTypeID emits the marker and the type id in the narrowest form.
func writeTypeID(out *codec.Output, id int32) {
	switch {
	case id >= 0 && id <= 0xFF:
		out.WriteUint8(common.DSPdxByteID)
		out.WriteUint8(uint8(id))
	case id >= 0 && id <= 0xFFFF:
		out.WriteUint8(common.DSPdxShortID)
		out.WriteUint16(uint16(id))
	default:
		out.WriteUint8(common.DSPdx)
		out.WriteInt32(id)
	}
}

// appendEnvelope writes header, payload and offset table. varStarts holds
// the payload position of every variable-length field in order.
func appendEnvelope(out *codec.Output, id int32, payload []byte, varStarts []int) {
	total := pdxtype.TotalLength(len(payload), len(varStarts))
	width := pdxtype.OffsetWidth(total)
	out.Grow(total + 9)
	writeTypeID(out, id)
	out.WriteInt32(int32(total))
	out.Write(payload)
	for i := len(varStarts) - 1; i > 0; i-- {
		out.WriteUintN(width, uint32(varStarts[i]))
	}
}

// readHeader reads the type id and the payload-plus-table blob following a
// marker that has already been consumed.
func readHeader(in *codec.Input, marker byte) (int32, []byte, error) {
	var id int32
	switch marker {
	case common.DSPdxByteID:
		v, err := in.ReadUint8()
		if err != nil {
			return 0, nil, err
		}
		id = int32(v)
	case common.DSPdxShortID:
		v, err := in.ReadUint16()
		if err != nil {
			return 0, nil, err
		}
		id = int32(v)
	case common.DSPdx:
		v, err := in.ReadInt32()
		if err != nil {
			return 0, nil, err
		}
		id = v
	default:
		return 0, nil, fmt.Errorf("%w: marker %d", ErrUnsupportedObject, marker)
	}
	total, err := in.ReadInt32()
	if err != nil {
		return 0, nil, err
	}
	if total < 0 {
		return 0, nil, fmt.Errorf("%w: negative length %d", codec.ErrBufferBounds, total)
	}
	blob, err := in.ReadRaw(int(total))
	if err != nil {
		return 0, nil, err
	}
	return id, blob, nil
}

// headerLen returns the size of marker, id and length at the start of an
// envelope.
func headerLen(envelope []byte) int {
	switch envelope[0] {
	case common.DSPdxByteID:
		return 1 + 1 + 4
	case common.DSPdxShortID:
		return 1 + 2 + 4
	}
	return 1 + 4 + 4
}
