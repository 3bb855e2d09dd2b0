// Package wire implements the Minecraft protocol-340 wire-type codec: plain
// functions over small Reader/Writer interfaces rather than the teacher
// corpus's struct-per-message approach, because the source spec itself
// expresses types as a handful of free read/write functions
// (minecraft/protocol/types.py) — generics stand in for Python's per-type
// classmethods for Array and Option.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// maxVarIntBits/maxVarLongBits bound how many continuation bytes ReadVarInt/
// ReadVarLong will accept before declaring the value malformed.
const (
	maxVarIntBits  = 32
	maxVarLongBits = 64
)

// ErrVarIntOverflow is returned when a variable-length integer's continuation
// bit stays set past its type's bit width — a malformed or hostile stream.
var ErrVarIntOverflow = errors.New("wire: variable-length integer overflow")

// ByteReader reads one byte at a time, used by the variable-length integer
// decoders which must discover their own length.
type ByteReader interface {
	ReadByte() (byte, error)
}

// Reader is everything wire's decoders need from the underlying stream.
type Reader interface {
	ByteReader
	ReadExact(n int) ([]byte, error)
}

// Writer is everything wire's encoders need from the underlying stream.
type Writer interface {
	Write(p []byte) error
}

// WriteVarInt encodes v using the standard 7-bits-per-byte, high-bit-
// continuation scheme, zig-zag-free (sign is carried via two's complement
// wraparound, matching the source protocol, not via zig-zag encoding).
func WriteVarInt(w Writer, v int32) error {
	return writeVarUint(w, uint64(uint32(v)))
}

// ReadVarInt decodes a 32-bit variable-length integer.
func ReadVarInt(r ByteReader) (int32, error) {
	v, err := readVarUint(r, maxVarIntBits)
	if err != nil {
		return 0, err
	}
	return int32(uint32(v)), nil
}

// WriteVarLong encodes a 64-bit variable-length integer.
func WriteVarLong(w Writer, v int64) error {
	return writeVarUint(w, uint64(v))
}

// ReadVarLong decodes a 64-bit variable-length integer.
func ReadVarLong(r ByteReader) (int64, error) {
	v, err := readVarUint(r, maxVarLongBits)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

func writeVarUint(w Writer, v uint64) error {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		if err := w.Write([]byte{b}); err != nil {
			return fmt.Errorf("wire: write varint: %w", err)
		}
		if v == 0 {
			return nil
		}
	}
}

func readVarUint(r ByteReader, maxBits int) (uint64, error) {
	var value uint64
	var position int
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("wire: read varint: %w", err)
		}
		value |= uint64(b&0x7f) << position
		if b&0x80 == 0 {
			break
		}
		position += 7
		if position >= maxBits {
			return 0, ErrVarIntOverflow
		}
	}
	return value, nil
}

// WriteBool writes a single boolean byte.
func WriteBool(w Writer, v bool) error {
	if v {
		return w.Write([]byte{1})
	}
	return w.Write([]byte{0})
}

// ReadBool reads a single boolean byte; any non-zero byte is true.
func ReadBool(r Reader) (bool, error) {
	b, err := r.ReadExact(1)
	if err != nil {
		return false, fmt.Errorf("wire: read bool: %w", err)
	}
	return b[0] != 0, nil
}

// WriteUByte writes an unsigned byte.
func WriteUByte(w Writer, v uint8) error { return w.Write([]byte{v}) }

// ReadUByte reads an unsigned byte.
func ReadUByte(r Reader) (uint8, error) {
	b, err := r.ReadExact(1)
	if err != nil {
		return 0, fmt.Errorf("wire: read ubyte: %w", err)
	}
	return b[0], nil
}

// WriteByte writes a signed byte.
func WriteByte(w Writer, v int8) error { return w.Write([]byte{byte(v)}) }

// ReadSByte reads a signed byte.
func ReadSByte(r Reader) (int8, error) {
	b, err := ReadUByte(r)
	return int8(b), err
}

// WriteUShort writes a big-endian uint16.
func WriteUShort(w Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return w.Write(buf[:])
}

// ReadUShort reads a big-endian uint16.
func ReadUShort(r Reader) (uint16, error) {
	b, err := r.ReadExact(2)
	if err != nil {
		return 0, fmt.Errorf("wire: read ushort: %w", err)
	}
	return binary.BigEndian.Uint16(b), nil
}

// WriteShort writes a big-endian int16.
func WriteShort(w Writer, v int16) error { return WriteUShort(w, uint16(v)) }

// ReadShort reads a big-endian int16.
func ReadShort(r Reader) (int16, error) {
	v, err := ReadUShort(r)
	return int16(v), err
}

// WriteUInt32 writes a big-endian uint32.
func WriteUInt32(w Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return w.Write(buf[:])
}

// ReadUInt32 reads a big-endian uint32.
func ReadUInt32(r Reader) (uint32, error) {
	b, err := r.ReadExact(4)
	if err != nil {
		return 0, fmt.Errorf("wire: read uint32: %w", err)
	}
	return binary.BigEndian.Uint32(b), nil
}

// WriteInt32 writes a big-endian int32.
func WriteInt32(w Writer, v int32) error { return WriteUInt32(w, uint32(v)) }

// ReadInt32 reads a big-endian int32.
func ReadInt32(r Reader) (int32, error) {
	v, err := ReadUInt32(r)
	return int32(v), err
}

// WriteUInt64 writes a big-endian uint64.
func WriteUInt64(w Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return w.Write(buf[:])
}

// ReadUInt64 reads a big-endian uint64.
func ReadUInt64(r Reader) (uint64, error) {
	b, err := r.ReadExact(8)
	if err != nil {
		return 0, fmt.Errorf("wire: read uint64: %w", err)
	}
	return binary.BigEndian.Uint64(b), nil
}

// WriteInt64 writes a big-endian int64.
func WriteInt64(w Writer, v int64) error { return WriteUInt64(w, uint64(v)) }

// ReadInt64 reads a big-endian int64.
func ReadInt64(r Reader) (int64, error) {
	v, err := ReadUInt64(r)
	return int64(v), err
}

// WriteBytes writes a VarInt length prefix followed by the raw bytes.
func WriteBytes(w Writer, b []byte) error {
	if err := WriteVarInt(w, int32(len(b))); err != nil {
		return err
	}
	return w.Write(b)
}

// ReadBytes reads a VarInt-length-prefixed byte string.
func ReadBytes(r Reader) ([]byte, error) {
	n, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("wire: read bytes: negative length %d", n)
	}
	b, err := r.ReadExact(int(n))
	if err != nil {
		return nil, fmt.Errorf("wire: read bytes: %w", err)
	}
	return b, nil
}

// WriteString writes a VarInt-length-prefixed, UTF-8-encoded string.
func WriteString(w Writer, s string) error {
	return WriteBytes(w, []byte(s))
}

// ReadString reads a VarInt-length-prefixed, UTF-8-encoded string.
func ReadString(r Reader) (string, error) {
	b, err := ReadBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteUUID writes a UUID as its raw 16 bytes.
func WriteUUID(w Writer, u uuid.UUID) error {
	return w.Write(u[:])
}

// ReadUUID reads a UUID from its raw 16 bytes.
func ReadUUID(r Reader) (uuid.UUID, error) {
	b, err := r.ReadExact(16)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("wire: read uuid: %w", err)
	}
	var u uuid.UUID
	copy(u[:], b)
	return u, nil
}

// WriteArray writes a VarInt element count followed by each element written
// with writeElem, the Go generic stand-in for the source's per-type Array
// subclass.
func WriteArray[T any](w Writer, items []T, writeElem func(Writer, T) error) error {
	if err := WriteVarInt(w, int32(len(items))); err != nil {
		return err
	}
	for _, item := range items {
		if err := writeElem(w, item); err != nil {
			return err
		}
	}
	return nil
}

// ReadArray reads a VarInt element count followed by that many elements via
// readElem.
func ReadArray[T any](r Reader, readElem func(Reader) (T, error)) ([]T, error) {
	n, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("wire: read array: negative length %d", n)
	}
	items := make([]T, 0, n)
	for i := int32(0); i < n; i++ {
		item, err := readElem(r)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// WriteOption writes a presence boolean followed by the value (via
// writeSome) when present.
func WriteOption[T any](w Writer, v *T, writeSome func(Writer, T) error) error {
	if v == nil {
		return WriteBool(w, false)
	}
	if err := WriteBool(w, true); err != nil {
		return err
	}
	return writeSome(w, *v)
}

// ReadOption reads a presence boolean and, if set, the value via readSome.
func ReadOption[T any](r Reader, readSome func(Reader) (T, error)) (*T, error) {
	present, err := ReadBool(r)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	v, err := readSome(r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
