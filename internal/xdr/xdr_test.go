package xdr

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestReaderIntegers(t *testing.T) {
	data := []byte{
		0x34, 0x12, // uint16 0x1234
		0x78, 0x56, 0x34, 0x12, // uint32 0x12345678
		0xEF, 0xCD, 0xAB, 0x89, 0x67, 0x45, 0x23, 0x01, // uint64
	}
	r := NewReader(data)

	u16, err := r.ReadUint16()
	if err != nil || u16 != 0x1234 {
		t.Fatalf("ReadUint16() = 0x%04X, %v; want 0x1234", u16, err)
	}
	u32, err := r.ReadUint32()
	if err != nil || u32 != 0x12345678 {
		t.Fatalf("ReadUint32() = 0x%08X, %v; want 0x12345678", u32, err)
	}
	u64, err := r.ReadUint64()
	if err != nil || u64 != 0x0123456789ABCDEF {
		t.Fatalf("ReadUint64() = 0x%016X, %v", u64, err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	if _, err := r.ReadByte(); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("ReadByte() past end error = %v, want ErrShortBuffer", err)
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewBufferWriter(16)
	w.WriteString("channels")
	w.WriteInt32(-7)
	w.WriteInt64(-1)
	w.WriteFloat32(1.5)
	w.WriteUint16(0xBEEF)
	w.WriteByte(9)

	r := NewReader(w.Bytes())
	if s, err := r.ReadString(); err != nil || s != "channels" {
		t.Fatalf("ReadString() = %q, %v", s, err)
	}
	if v, _ := r.ReadInt32(); v != -7 {
		t.Errorf("ReadInt32() = %d, want -7", v)
	}
	if v, _ := r.ReadInt64(); v != -1 {
		t.Errorf("ReadInt64() = %d, want -1", v)
	}
	if v, _ := r.ReadFloat32(); v != 1.5 {
		t.Errorf("ReadFloat32() = %v, want 1.5", v)
	}
	if v, _ := r.ReadUint16(); v != 0xBEEF {
		t.Errorf("ReadUint16() = 0x%04X, want 0xBEEF", v)
	}
	if v, _ := r.ReadByte(); v != 9 {
		t.Errorf("ReadByte() = %d, want 9", v)
	}
}

func TestReaderSkipAndBytes(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4, 5})
	if err := r.Skip(-1); !errors.Is(err, ErrNegativeSize) {
		t.Errorf("Skip(-1) error = %v, want ErrNegativeSize", err)
	}
	if err := r.Skip(2); err != nil {
		t.Fatalf("Skip(2) error = %v", err)
	}
	b, err := r.ReadBytes(3)
	if err != nil || !bytes.Equal(b, []byte{3, 4, 5}) {
		t.Errorf("ReadBytes(3) = %v, %v", b, err)
	}
	if err := r.Skip(1); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("Skip past end error = %v, want ErrShortBuffer", err)
	}
}

func TestReadStringUnterminated(t *testing.T) {
	r := NewReader([]byte("abc"))
	if _, err := r.ReadString(); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("ReadString() error = %v, want ErrShortBuffer", err)
	}
	if r.Pos() != 0 {
		t.Errorf("Pos() after failed ReadString = %d, want 0", r.Pos())
	}
}

func TestReadFull(t *testing.T) {
	src := bytes.NewReader([]byte{1, 2, 3, 4})
	p := make([]byte, 2)
	if err := ReadFull(src, p, 2); err != nil || p[0] != 3 || p[1] != 4 {
		t.Errorf("ReadFull at 2 = %v, %v", p, err)
	}
	if err := ReadFull(src, make([]byte, 4), 2); err != io.ErrUnexpectedEOF {
		t.Errorf("short ReadFull error = %v, want io.ErrUnexpectedEOF", err)
	}
}
