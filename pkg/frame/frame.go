// Package frame packs lists of records into a self-checking container:
// preamble, total length, flags, an offset table locating each record, the
// payload (optionally zstd-compressed) and a CRC32 trailer.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	magic0  = 'P'
	magic1  = 'X'
	Version = 1

	// Frame kinds.
	KindTypes    byte = 0x01
	KindRegistry byte = 0x03

	FlagHasOffsetTable byte = 0x01
	FlagZstd           byte = 0x02

	preambleSize = 4 // magic, version, kind
	headerSize   = preambleSize + 4 + 1
)

var (
	ErrNotFrame       = errors.New("frame: bad preamble")
	ErrLengthMismatch = errors.New("frame: length mismatch")
	ErrChecksum       = errors.New("frame: crc mismatch")
	ErrTruncated      = errors.New("frame: truncated")
)

var (
	encOnce sync.Once
	encoder *zstd.Encoder
	decOnce sync.Once
	decoder *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	encOnce.Do(func() {
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	})
	return encoder
}

func zstdDecoder() *zstd.Decoder {
	decOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})
	return decoder
}

// Frame is a decoded container.
type Frame struct {
	Kind    byte
	Flags   byte
	Offsets []uint32
	Payload []byte // always uncompressed
}

// Encode serializes f. When FlagZstd is set the payload is compressed; the
// offsets always refer to the uncompressed payload.
func Encode(f Frame) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.Write([]byte{magic0, magic1, Version, f.Kind})

	// length placeholder
	binary.Write(buf, binary.LittleEndian, uint32(0))
	flags := f.Flags
	if len(f.Offsets) > 0 {
		flags |= FlagHasOffsetTable
	}
	buf.WriteByte(flags)

	if flags&FlagHasOffsetTable != 0 {
		binary.Write(buf, binary.LittleEndian, uint32(len(f.Offsets)))
		for _, off := range f.Offsets {
			binary.Write(buf, binary.LittleEndian, off)
		}
	}

	payload := f.Payload
	if flags&FlagZstd != 0 {
		payload = zstdEncoder().EncodeAll(f.Payload, nil)
	}
	buf.Write(payload)

	out := buf.Bytes()
	total := uint32(len(out) + 4)
	binary.LittleEndian.PutUint32(out[preambleSize:], total)

	// crc covers everything after the magic
	crc := crc32.ChecksumIEEE(out[2:])
	out = binary.LittleEndian.AppendUint32(out, crc)
	return out, nil
}

// Decode parses and verifies a frame produced by Encode.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if len(data) < headerSize+4 {
		return f, ErrTruncated
	}
	if data[0] != magic0 || data[1] != magic1 || data[2] != Version {
		return f, ErrNotFrame
	}
	f.Kind = data[3]
	if length := binary.LittleEndian.Uint32(data[preambleSize:]); int(length) != len(data) {
		return f, fmt.Errorf("%w: header says %d, have %d", ErrLengthMismatch, length, len(data))
	}
	want := binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(data[2:len(data)-4]) != want {
		return f, ErrChecksum
	}
	f.Flags = data[headerSize-1]

	rdr := bytes.NewReader(data[headerSize : len(data)-4])
	if f.Flags&FlagHasOffsetTable != 0 {
		var cnt uint32
		if err := binary.Read(rdr, binary.LittleEndian, &cnt); err != nil {
			return f, ErrTruncated
		}
		if int(cnt) > rdr.Len()/4 {
			return f, ErrTruncated
		}
		f.Offsets = make([]uint32, cnt)
		if err := binary.Read(rdr, binary.LittleEndian, f.Offsets); err != nil {
			return f, ErrTruncated
		}
	}
	payloadStart := len(data) - 4 - rdr.Len()
	payload := data[payloadStart : len(data)-4]
	if f.Flags&FlagZstd != 0 {
		raw, err := zstdDecoder().DecodeAll(payload, nil)
		if err != nil {
			return f, fmt.Errorf("frame: decompress: %w", err)
		}
		payload = raw
	}
	f.Payload = payload
	return f, nil
}

// Pack concatenates records into one frame of the given kind.
func Pack(kind byte, records [][]byte, compress bool) ([]byte, error) {
	var f Frame
	f.Kind = kind
	if compress {
		f.Flags |= FlagZstd
	}
	size := 0
	for _, r := range records {
		size += len(r)
	}
	f.Payload = make([]byte, 0, size)
	f.Offsets = make([]uint32, 0, len(records))
	for _, r := range records {
		f.Offsets = append(f.Offsets, uint32(len(f.Payload)))
		f.Payload = append(f.Payload, r...)
	}
	return Encode(f)
}

// Unpack splits a frame built by Pack back into its records.
func Unpack(data []byte) (byte, [][]byte, error) {
	f, err := Decode(data)
	if err != nil {
		return 0, nil, err
	}
	records := make([][]byte, len(f.Offsets))
	for i, start := range f.Offsets {
		end := uint32(len(f.Payload))
		if i+1 < len(f.Offsets) {
			end = f.Offsets[i+1]
		}
		if start > end || end > uint32(len(f.Payload)) {
			return 0, nil, fmt.Errorf("%w: record %d [%d,%d)", ErrTruncated, i, start, end)
		}
		records[i] = f.Payload[start:end]
	}
	return f.Kind, records, nil
}
