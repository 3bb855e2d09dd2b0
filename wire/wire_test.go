package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
)

// byteBuf adapts a bytes.Buffer to the wire.Reader/Writer interfaces.
type byteBuf struct {
	bytes.Buffer
}

func (b *byteBuf) ReadExact(n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := readFull(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *byteBuf) Write(p []byte) error {
	_, err := b.Buffer.Write(p)
	return err
}

func readFull(b *byteBuf, out []byte) (int, error) {
	n := 0
	for n < len(out) {
		m, err := b.Buffer.Read(out[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, errors.New("short read")
		}
	}
	return n, nil
}

func TestVarIntRoundTrip(t *testing.T) {
	cases := []int32{0, 1, -1, 127, 128, 255, 2147483647, -2147483648, 300000}
	for _, v := range cases {
		buf := &byteBuf{}
		if err := WriteVarInt(buf, v); err != nil {
			t.Fatalf("WriteVarInt(%d): %v", v, err)
		}
		got, err := ReadVarInt(buf)
		if err != nil {
			t.Fatalf("ReadVarInt(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("VarInt round trip: got %d, want %d", got, v)
		}
	}
}

func TestVarIntKnownEncodings(t *testing.T) {
	// Values from the protocol's published VarInt examples.
	cases := map[int32][]byte{
		0:          {0x00},
		1:          {0x01},
		127:        {0x7f},
		128:        {0x80, 0x01},
		255:        {0xff, 0x01},
		2097151:    {0xff, 0xff, 0x7f},
		-1:         {0xff, 0xff, 0xff, 0xff, 0x0f},
		2147483647: {0xff, 0xff, 0xff, 0xff, 0x07},
	}
	for v, want := range cases {
		buf := &byteBuf{}
		if err := WriteVarInt(buf, v); err != nil {
			t.Fatalf("WriteVarInt(%d): %v", v, err)
		}
		if !bytes.Equal(buf.Bytes(), want) {
			t.Errorf("VarInt(%d) = % x, want % x", v, buf.Bytes(), want)
		}
	}
}

func TestVarIntOverflow(t *testing.T) {
	buf := &byteBuf{}
	for i := 0; i < 6; i++ {
		_ = buf.Write([]byte{0xff})
	}
	_ = buf.Write([]byte{0x01})
	if _, err := ReadVarInt(buf); !errors.Is(err, ErrVarIntOverflow) {
		t.Fatalf("expected ErrVarIntOverflow, got %v", err)
	}
}

func TestVarLongRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 1 << 40, -(1 << 40), 9223372036854775807, -9223372036854775808}
	for _, v := range cases {
		buf := &byteBuf{}
		if err := WriteVarLong(buf, v); err != nil {
			t.Fatalf("WriteVarLong(%d): %v", v, err)
		}
		got, err := ReadVarLong(buf)
		if err != nil {
			t.Fatalf("ReadVarLong(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("VarLong round trip: got %d, want %d", got, v)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	buf := &byteBuf{}
	want := "hello, world é"
	if err := WriteString(buf, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadString(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFixedIntRoundTrip(t *testing.T) {
	buf := &byteBuf{}
	if err := WriteInt32(buf, -123456); err != nil {
		t.Fatal(err)
	}
	if err := WriteUInt64(buf, 0xdeadbeefcafebabe); err != nil {
		t.Fatal(err)
	}
	i, err := ReadInt32(buf)
	if err != nil || i != -123456 {
		t.Errorf("ReadInt32: got %d, %v", i, err)
	}
	u, err := ReadUInt64(buf)
	if err != nil || u != 0xdeadbeefcafebabe {
		t.Errorf("ReadUInt64: got %x, %v", u, err)
	}
}

func TestUUIDRoundTrip(t *testing.T) {
	buf := &byteBuf{}
	want := uuid.New()
	if err := WriteUUID(buf, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadUUID(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestArrayRoundTrip(t *testing.T) {
	buf := &byteBuf{}
	want := []string{"a", "bb", "ccc"}
	err := WriteArray(buf, want, func(w Writer, s string) error { return WriteString(w, s) })
	if err != nil {
		t.Fatal(err)
	}
	got, err := ReadArray(buf, func(r Reader) (string, error) { return ReadString(r) })
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestOptionRoundTrip(t *testing.T) {
	buf := &byteBuf{}
	var none *int64
	if err := WriteOption(buf, none, func(w Writer, v int64) error { return WriteInt64(w, v) }); err != nil {
		t.Fatal(err)
	}
	got, err := ReadOption(buf, func(r Reader) (int64, error) { return ReadInt64(r) })
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil, got %v", *got)
	}

	buf2 := &byteBuf{}
	v := int64(42)
	if err := WriteOption(buf2, &v, func(w Writer, v int64) error { return WriteInt64(w, v) }); err != nil {
		t.Fatal(err)
	}
	got2, err := ReadOption(buf2, func(r Reader) (int64, error) { return ReadInt64(r) })
	if err != nil {
		t.Fatal(err)
	}
	if got2 == nil || *got2 != 42 {
		t.Errorf("got %v, want 42", got2)
	}
}
