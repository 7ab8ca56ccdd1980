package buffer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestBuffer(t *testing.T) {
	t.Run("Cursors", func(t *testing.T) {
		b := New(8, 64)
		if _, err := b.Write([]byte("hello")); err != nil {
			t.Fatal(err)
		}
		if b.ReadableBytes() != 5 || b.WriterIndex() != 5 || b.ReaderIndex() != 0 {
			t.Fatalf("unexpected cursors r=%d w=%d", b.ReaderIndex(), b.WriterIndex())
		}
		c, err := b.ReadByte()
		if err != nil || c != 'h' {
			t.Fatalf("ReadByte = %q, %v", c, err)
		}
		if b.ReadableBytes() != 4 {
			t.Fatalf("readable = %d", b.ReadableBytes())
		}
		if b.String() != "ello" {
			t.Fatalf("String = %q", b.String())
		}
	})

	t.Run("Integers", func(t *testing.T) {
		b := New(0, 0)
		b.WriteUint16(0x0102)
		b.WriteUint32(0x03040506)
		b.WriteUint64(0x0708090a0b0c0d0e)
		b.WriteUint16LE(0x0102)
		b.WriteUint(3, binary.BigEndian, 0xabcdef)
		b.WriteUint(3, binary.LittleEndian, 0xabcdef)

		if v, _ := b.GetUint(0, 2, binary.BigEndian); v != 0x0102 {
			t.Fatalf("GetUint = %x", v)
		}
		if v, _ := b.ReadUint16(); v != 0x0102 {
			t.Fatalf("ReadUint16 = %x", v)
		}
		if v, _ := b.ReadUint32(); v != 0x03040506 {
			t.Fatalf("ReadUint32 = %x", v)
		}
		if v, _ := b.ReadUint64(); v != 0x0708090a0b0c0d0e {
			t.Fatalf("ReadUint64 = %x", v)
		}
		if v, _ := b.ReadUint16LE(); v != 0x0102 {
			t.Fatalf("ReadUint16LE = %x", v)
		}
		if v, _ := b.ReadUint(3, binary.BigEndian); v != 0xabcdef {
			t.Fatalf("ReadUint(3, BE) = %x", v)
		}
		if v, _ := b.ReadUint(3, binary.LittleEndian); v != 0xabcdef {
			t.Fatalf("ReadUint(3, LE) = %x", v)
		}
		if b.IsReadable() {
			t.Fatal("expected buffer drained")
		}
	})

	t.Run("ReadPastEnd", func(t *testing.T) {
		b := FromString("ab")
		_, err := b.ReadUint32()
		var ie *IndexError
		if !errors.As(err, &ie) {
			t.Fatalf("expected IndexError, got %v", err)
		}
		if b.ReaderIndex() != 0 {
			t.Fatal("failed read moved the reader index")
		}
	})

	t.Run("SetOutOfBounds", func(t *testing.T) {
		b := Fixed(4)
		if err := b.SetUint32(0, 1); err != nil {
			t.Fatal(err)
		}
		if err := b.SetByte(4, 1); !errors.Is(err, ErrIndex) {
			t.Fatalf("expected ErrIndex, got %v", err)
		}
		if err := b.SetUint16(-1, 1); !errors.Is(err, ErrIndex) {
			t.Fatalf("expected ErrIndex, got %v", err)
		}
	})

	t.Run("Grow", func(t *testing.T) {
		b := New(4, 100)
		if _, err := b.Write(bytes.Repeat([]byte{1}, 70)); err != nil {
			t.Fatal(err)
		}
		if b.Capacity() < 70 || b.Capacity() > 100 {
			t.Fatalf("capacity = %d", b.Capacity())
		}
		_, err := b.Write(bytes.Repeat([]byte{1}, 31))
		var ce *CapacityError
		if !errors.As(err, &ce) {
			t.Fatalf("expected CapacityError, got %v", err)
		}
		if ce.Max != 100 || ce.Required != 101 {
			t.Fatalf("unexpected error %+v", ce)
		}
		if _, err := b.Write(bytes.Repeat([]byte{1}, 30)); err != nil {
			t.Fatalf("writing up to max capacity: %v", err)
		}
	})

	t.Run("FixedCapacity", func(t *testing.T) {
		b := Fixed(2)
		b.WriteByte(1)
		b.WriteByte(2)
		if err := b.WriteByte(3); !errors.Is(err, ErrCapacity) {
			t.Fatalf("expected ErrCapacity, got %v", err)
		}
	})

	t.Run("DiscardReadBytes", func(t *testing.T) {
		b := FromString("abcdef")
		b.Skip(4)
		if err := b.DiscardReadBytes(); err != nil {
			t.Fatal(err)
		}
		if b.ReaderIndex() != 0 || b.WriterIndex() != 2 || b.String() != "ef" {
			t.Fatalf("r=%d w=%d s=%q", b.ReaderIndex(), b.WriterIndex(), b.String())
		}
	})

	t.Run("IndexOf", func(t *testing.T) {
		b := FromString("AB$$__CD$$__")
		if i := b.IndexOf(0, b.WriterIndex(), []byte("$$__")); i != 2 {
			t.Fatalf("IndexOf = %d", i)
		}
		if i := b.IndexOf(3, b.WriterIndex(), []byte("$$__")); i != 8 {
			t.Fatalf("IndexOf = %d", i)
		}
		if i := b.IndexOf(0, b.WriterIndex(), []byte("zz")); i != -1 {
			t.Fatalf("IndexOf = %d", i)
		}
	})

	t.Run("ReaderWriter", func(t *testing.T) {
		b := New(16, 0)
		n, err := io.Copy(b, strings.NewReader("streamed content"))
		if err != nil || n != 16 {
			t.Fatalf("io.Copy = %d, %v", n, err)
		}
		out, err := io.ReadAll(b)
		if err != nil || string(out) != "streamed content" {
			t.Fatalf("io.ReadAll = %q, %v", out, err)
		}
	})

	t.Run("ReadFromOnce", func(t *testing.T) {
		b := New(4, 0)
		n, err := b.ReadFromOnce(strings.NewReader("0123456789"), 64)
		if err != nil || n != 10 {
			t.Fatalf("ReadFromOnce = %d, %v", n, err)
		}
	})
}

// recoverReference runs fn and returns the *ReferenceError it panicked with.
func recoverReference(fn func()) (err error) {
	defer func() {
		if re, ok := recover().(*ReferenceError); ok {
			err = re
		}
	}()
	fn()
	return nil
}

func TestReferenceCount(t *testing.T) {
	t.Run("ReleaseTwice", func(t *testing.T) {
		b := FromString("x")
		freed, err := b.Release()
		if err != nil || !freed {
			t.Fatalf("Release = %v, %v", freed, err)
		}
		_, err = b.Release()
		var re *ReferenceError
		if !errors.As(err, &re) {
			t.Fatalf("expected ReferenceError, got %v", err)
		}
		if !errors.Is(err, ErrReleased) {
			t.Fatal("ReferenceError should match ErrReleased")
		}
	})

	t.Run("UseAfterRelease", func(t *testing.T) {
		b := FromString("abc")
		b.Release()
		if _, err := b.ReadByte(); !errors.Is(err, ErrReleased) {
			t.Fatalf("ReadByte after release: %v", err)
		}
		if err := b.WriteByte(1); !errors.Is(err, ErrReleased) {
			t.Fatalf("WriteByte after release: %v", err)
		}
		if err := b.Retain(); !errors.Is(err, ErrReleased) {
			t.Fatalf("Retain after release: %v", err)
		}
		for name, fn := range map[string]func(){
			"Bytes":   func() { b.Bytes() },
			"IndexOf": func() { b.IndexOf(0, 3, []byte("b")) },
			"Clear":   func() { b.Clear() },
		} {
			if err := recoverReference(fn); !errors.Is(err, ErrReleased) {
				t.Fatalf("%s after release: %v", name, err)
			}
		}
		if s := b.String(); s != "Buffer(freed)" {
			t.Fatalf("String after release = %q", s)
		}
	})

	t.Run("RetainRelease", func(t *testing.T) {
		b := FromString("abc")
		b.Retain()
		if b.RefCnt() != 2 {
			t.Fatalf("refCnt = %d", b.RefCnt())
		}
		if freed, _ := b.Release(); freed {
			t.Fatal("freed with outstanding reference")
		}
		if freed, _ := b.Release(); !freed {
			t.Fatal("expected storage freed")
		}
	})
}

func TestSlice(t *testing.T) {
	t.Run("SharesStorage", func(t *testing.T) {
		b := FromString("hello world")
		s, err := b.Slice(6, 5)
		if err != nil {
			t.Fatal(err)
		}
		if s.String() != "world" {
			t.Fatalf("slice = %q", s.String())
		}
		s.SetByte(0, 'W')
		if b.String() != "hello World" {
			t.Fatalf("parent = %q", b.String())
		}
		if s.RefCnt() != b.RefCnt() {
			t.Fatal("slice must share the reference count")
		}
	})

	t.Run("RetainedSliceOutlivesParentRelease", func(t *testing.T) {
		b := FromString("framedata")
		s, err := b.ReadRetainedSlice(5)
		if err != nil {
			t.Fatal(err)
		}
		if b.RefCnt() != 2 {
			t.Fatalf("refCnt = %d", b.RefCnt())
		}
		b.Release()
		if s.String() != "frame" {
			t.Fatalf("slice = %q", s.String())
		}
		if freed, _ := s.Release(); !freed {
			t.Fatal("last release should free storage")
		}
		if _, err := b.ReadByte(); !errors.Is(err, ErrReleased) {
			t.Fatal("parent should be released together with slice")
		}
	})

	t.Run("SliceCannotGrow", func(t *testing.T) {
		b := FromString("abcd")
		s, _ := b.Slice(0, 2)
		s.SetWriterIndex(0)
		s.WriteByte('x')
		s.WriteByte('y')
		if err := s.WriteByte('z'); !errors.Is(err, ErrCapacity) {
			t.Fatalf("expected ErrCapacity, got %v", err)
		}
		if b.String() != "xycd" {
			t.Fatalf("parent = %q", b.String())
		}
	})

	t.Run("CopyIsIndependent", func(t *testing.T) {
		b := FromString("abcd")
		c, err := b.Copy(1, 2)
		if err != nil {
			t.Fatal(err)
		}
		b.SetByte(1, 'X')
		if c.String() != "bc" {
			t.Fatalf("copy = %q", c.String())
		}
		b.Release()
		if c.RefCnt() != 1 || c.String() != "bc" {
			t.Fatal("copy must not share lifetime with source")
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		b := FromString("abcd")
		if _, err := b.Slice(2, 5); !errors.Is(err, ErrIndex) {
			t.Fatalf("expected ErrIndex, got %v", err)
		}
		if _, err := b.ReadSlice(5); !errors.Is(err, ErrIndex) {
			t.Fatalf("expected ErrIndex, got %v", err)
		}
	})
}

func TestPooledAllocator(t *testing.T) {
	a := NewPooledAllocator()

	b := a.Buffer(100, 0)
	if b.Capacity() != 256 {
		t.Fatalf("capacity = %d", b.Capacity())
	}
	b.WriteString("pooled")
	if freed, _ := b.Release(); !freed {
		t.Fatal("expected free")
	}

	b2 := a.Buffer(200, 0)
	if b2.ReadableBytes() != 0 {
		t.Fatal("reused buffer must start empty")
	}
	b2.Write(bytes.Repeat([]byte{7}, 300))
	if b2.Capacity() < 300 {
		t.Fatalf("capacity = %d", b2.Capacity())
	}
	b2.Release()

	st := a.Stats()
	if st.InUse != 0 {
		t.Fatalf("in use = %d", st.InUse)
	}
	if st.Returned == 0 {
		t.Fatal("expected returned arrays")
	}

	small := a.Buffer(16, 32)
	if small.MaxCapacity() != 32 || small.Capacity() > 32 {
		t.Fatalf("capacity %d max %d", small.Capacity(), small.MaxCapacity())
	}
}
