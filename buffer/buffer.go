// Package buffer provides a reference-counted byte container with independent
// reader and writer cursors.
//
// A Buffer starts with a reference count of one. Retain and Release move the
// count; once it reaches zero every method touching content or cursors fails
// with *ReferenceError. Methods with an error result return it; Bytes,
// IndexOf and Clear panic with it. The cursor and capacity getters only read
// plain fields and stay usable for diagnostics.
// Slices share storage and the reference count with their parent.
// A Buffer is owned by one goroutine at a time; once shared it must be
// treated as read-only or copied.
package buffer

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"sync/atomic"
)

const (
	// DefaultInitialCapacity is used when a caller asks for a zero capacity.
	DefaultInitialCapacity = 256
	// DefaultMaxCapacity bounds growth when no explicit maximum is given.
	DefaultMaxCapacity = math.MaxInt32

	minGrowth = 64
)

type storage struct {
	buf    []byte
	refCnt atomic.Int32
	alloc  *PooledAllocator
}

// Buffer is a resizable byte container. The zero value is not usable; obtain
// one from New, Wrap or an Allocator.
type Buffer struct {
	s        *storage
	offset   int
	capacity int
	maxCap   int
	r, w     int
	// view buffers (slices) never grow.
	view bool
}

// New returns an unpooled buffer with the given initial and maximum
// capacity. A maxCapacity equal to initialCapacity makes the buffer fixed.
func New(initialCapacity, maxCapacity int) *Buffer {
	if initialCapacity <= 0 {
		initialCapacity = DefaultInitialCapacity
	}
	if maxCapacity <= 0 {
		maxCapacity = DefaultMaxCapacity
	}
	if maxCapacity < initialCapacity {
		maxCapacity = initialCapacity
	}
	return newBuffer(make([]byte, initialCapacity), maxCapacity, nil)
}

// Fixed returns an unpooled buffer that can never grow past capacity.
func Fixed(capacity int) *Buffer {
	return New(capacity, capacity)
}

// Wrap returns a buffer whose readable bytes are p. The buffer takes
// ownership of p.
func Wrap(p []byte) *Buffer {
	b := newBuffer(p, DefaultMaxCapacity, nil)
	b.w = len(p)
	return b
}

// FromString returns a readable buffer holding a copy of s.
func FromString(s string) *Buffer {
	return Wrap([]byte(s))
}

func newBuffer(p []byte, maxCap int, alloc *PooledAllocator) *Buffer {
	s := &storage{buf: p, alloc: alloc}
	s.refCnt.Store(1)
	return &Buffer{s: s, capacity: len(p), maxCap: maxCap}
}

func (b *Buffer) mem() []byte {
	return b.s.buf[b.offset : b.offset+b.capacity]
}

func (b *Buffer) ensureAccessible(op string) error {
	if cnt := b.s.refCnt.Load(); cnt <= 0 {
		return &ReferenceError{Op: op, RefCnt: cnt}
	}
	return nil
}

// mustAccessible panics with *ReferenceError on a freed buffer.
func (b *Buffer) mustAccessible(op string) {
	if err := b.ensureAccessible(op); err != nil {
		panic(err)
	}
}

// RefCnt returns the current reference count.
func (b *Buffer) RefCnt() int32 {
	return b.s.refCnt.Load()
}

// Retain increments the reference count.
func (b *Buffer) Retain() error {
	for {
		cnt := b.s.refCnt.Load()
		if cnt <= 0 {
			return &ReferenceError{Op: "retain", RefCnt: cnt}
		}
		if b.s.refCnt.CompareAndSwap(cnt, cnt+1) {
			return nil
		}
	}
}

// Release decrements the reference count and reports whether the storage
// was freed. Releasing an already freed buffer returns *ReferenceError.
func (b *Buffer) Release() (bool, error) {
	for {
		cnt := b.s.refCnt.Load()
		if cnt <= 0 {
			return false, &ReferenceError{Op: "release", RefCnt: cnt}
		}
		if !b.s.refCnt.CompareAndSwap(cnt, cnt-1) {
			continue
		}
		if cnt == 1 {
			b.s.free()
			return true, nil
		}
		return false, nil
	}
}

func (s *storage) free() {
	buf := s.buf
	s.buf = nil
	if s.alloc != nil {
		s.alloc.put(buf)
	}
}

// Capacity returns the number of bytes the buffer can hold without growing.
func (b *Buffer) Capacity() int { return b.capacity }

// MaxCapacity returns the growth limit.
func (b *Buffer) MaxCapacity() int { return b.maxCap }

// ReaderIndex returns the read cursor.
func (b *Buffer) ReaderIndex() int { return b.r }

// WriterIndex returns the write cursor.
func (b *Buffer) WriterIndex() int { return b.w }

// ReadableBytes returns WriterIndex - ReaderIndex.
func (b *Buffer) ReadableBytes() int { return b.w - b.r }

// WritableBytes returns Capacity - WriterIndex.
func (b *Buffer) WritableBytes() int { return b.capacity - b.w }

// IsReadable reports whether any bytes can be read.
func (b *Buffer) IsReadable() bool { return b.w > b.r }

// SetReaderIndex moves the read cursor.
func (b *Buffer) SetReaderIndex(i int) error {
	if err := b.ensureAccessible("setReaderIndex"); err != nil {
		return err
	}
	if i < 0 || i > b.w {
		return &IndexError{Op: "setReaderIndex", Index: i, Capacity: b.capacity}
	}
	b.r = i
	return nil
}

// SetWriterIndex moves the write cursor.
func (b *Buffer) SetWriterIndex(i int) error {
	if err := b.ensureAccessible("setWriterIndex"); err != nil {
		return err
	}
	if i < b.r || i > b.capacity {
		return &IndexError{Op: "setWriterIndex", Index: i, Capacity: b.capacity}
	}
	b.w = i
	return nil
}

// Clear resets both cursors without touching the content.
func (b *Buffer) Clear() {
	b.mustAccessible("clear")
	b.r, b.w = 0, 0
}

// Skip advances the read cursor by n.
func (b *Buffer) Skip(n int) error {
	if err := b.checkReadable("skip", n); err != nil {
		return err
	}
	b.r += n
	return nil
}

// DiscardReadBytes moves the readable bytes to the start of the buffer.
// Slices sharing the storage observe the move.
func (b *Buffer) DiscardReadBytes() error {
	if err := b.ensureAccessible("discardReadBytes"); err != nil {
		return err
	}
	if b.r == 0 {
		return nil
	}
	m := b.mem()
	n := copy(m, m[b.r:b.w])
	b.r, b.w = 0, n
	return nil
}

// EnsureWritable grows the buffer so that at least n more bytes can be
// written. Growth doubles capacity and stops at MaxCapacity.
func (b *Buffer) EnsureWritable(n int) error {
	if err := b.ensureAccessible("ensureWritable"); err != nil {
		return err
	}
	if n < 0 {
		return &IndexError{Op: "ensureWritable", Length: n, Capacity: b.capacity}
	}
	if n <= b.WritableBytes() {
		return nil
	}
	required := b.w + n
	if b.view || required > b.maxCap || required < 0 {
		max := b.maxCap
		if b.view {
			max = b.capacity
		}
		return &CapacityError{Required: required, Max: max}
	}

	newCap := b.capacity
	if newCap < minGrowth {
		newCap = minGrowth
	}
	for newCap < required {
		if newCap > b.maxCap/2 {
			newCap = b.maxCap
			break
		}
		newCap <<= 1
	}

	var grown []byte
	if b.s.alloc != nil {
		grown = b.s.alloc.get(newCap)
	} else {
		grown = make([]byte, newCap)
	}
	copy(grown, b.s.buf[:b.w])
	old := b.s.buf
	b.s.buf = grown
	b.capacity = len(grown)
	if b.s.alloc != nil {
		b.s.alloc.put(old)
	}
	return nil
}

func (b *Buffer) checkReadable(op string, n int) error {
	if err := b.ensureAccessible(op); err != nil {
		return err
	}
	if n < 0 || n > b.w-b.r {
		return &IndexError{Op: op, Index: b.r, Length: n, Capacity: b.capacity}
	}
	return nil
}

func (b *Buffer) checkIndex(op string, i, n int) error {
	if err := b.ensureAccessible(op); err != nil {
		return err
	}
	if i < 0 || n < 0 || i+n > b.capacity || i+n < 0 {
		return &IndexError{Op: op, Index: i, Length: n, Capacity: b.capacity}
	}
	return nil
}

// GetByte returns the byte at absolute index i.
func (b *Buffer) GetByte(i int) (byte, error) {
	if err := b.checkIndex("getByte", i, 1); err != nil {
		return 0, err
	}
	return b.mem()[i], nil
}

// GetUint16 returns the big-endian uint16 at index i.
func (b *Buffer) GetUint16(i int) (uint16, error) {
	v, err := b.GetUint(i, 2, binary.BigEndian)
	return uint16(v), err
}

// GetUint32 returns the big-endian uint32 at index i.
func (b *Buffer) GetUint32(i int) (uint32, error) {
	v, err := b.GetUint(i, 4, binary.BigEndian)
	return uint32(v), err
}

// GetUint64 returns the big-endian uint64 at index i.
func (b *Buffer) GetUint64(i int) (uint64, error) {
	return b.GetUint(i, 8, binary.BigEndian)
}

// GetUint reads an unsigned integer of width 1, 2, 3, 4 or 8 bytes at
// absolute index i in the given byte order.
func (b *Buffer) GetUint(i, width int, order binary.ByteOrder) (uint64, error) {
	if err := b.checkIndex("getUint", i, width); err != nil {
		return 0, err
	}
	return decodeUint(b.mem()[i:i+width], width, order)
}

// GetBytes copies len(dst) bytes starting at index i into dst.
func (b *Buffer) GetBytes(i int, dst []byte) error {
	if err := b.checkIndex("getBytes", i, len(dst)); err != nil {
		return err
	}
	copy(dst, b.mem()[i:])
	return nil
}

// SetByte stores v at absolute index i.
func (b *Buffer) SetByte(i int, v byte) error {
	if err := b.checkIndex("setByte", i, 1); err != nil {
		return err
	}
	b.mem()[i] = v
	return nil
}

// SetUint16 stores v big-endian at index i.
func (b *Buffer) SetUint16(i int, v uint16) error {
	return b.SetUint(i, 2, binary.BigEndian, uint64(v))
}

// SetUint32 stores v big-endian at index i.
func (b *Buffer) SetUint32(i int, v uint32) error {
	return b.SetUint(i, 4, binary.BigEndian, uint64(v))
}

// SetUint64 stores v big-endian at index i.
func (b *Buffer) SetUint64(i int, v uint64) error {
	return b.SetUint(i, 8, binary.BigEndian, v)
}

// SetUint stores v using width bytes in the given order at index i.
func (b *Buffer) SetUint(i, width int, order binary.ByteOrder, v uint64) error {
	if err := b.checkIndex("setUint", i, width); err != nil {
		return err
	}
	return encodeUint(b.mem()[i:i+width], width, order, v)
}

// SetBytes copies src into the buffer starting at index i.
func (b *Buffer) SetBytes(i int, src []byte) error {
	if err := b.checkIndex("setBytes", i, len(src)); err != nil {
		return err
	}
	copy(b.mem()[i:], src)
	return nil
}

// ReadByte reads one byte and advances the read cursor.
func (b *Buffer) ReadByte() (byte, error) {
	if err := b.checkReadable("readByte", 1); err != nil {
		return 0, err
	}
	v := b.mem()[b.r]
	b.r++
	return v, nil
}

// ReadUint16 reads a big-endian uint16.
func (b *Buffer) ReadUint16() (uint16, error) {
	v, err := b.ReadUint(2, binary.BigEndian)
	return uint16(v), err
}

// ReadUint16LE reads a little-endian uint16.
func (b *Buffer) ReadUint16LE() (uint16, error) {
	v, err := b.ReadUint(2, binary.LittleEndian)
	return uint16(v), err
}

// ReadUint32 reads a big-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	v, err := b.ReadUint(4, binary.BigEndian)
	return uint32(v), err
}

// ReadUint32LE reads a little-endian uint32.
func (b *Buffer) ReadUint32LE() (uint32, error) {
	v, err := b.ReadUint(4, binary.LittleEndian)
	return uint32(v), err
}

// ReadUint64 reads a big-endian uint64.
func (b *Buffer) ReadUint64() (uint64, error) {
	return b.ReadUint(8, binary.BigEndian)
}

// ReadUint64LE reads a little-endian uint64.
func (b *Buffer) ReadUint64LE() (uint64, error) {
	return b.ReadUint(8, binary.LittleEndian)
}

// ReadUint reads an unsigned integer of width 1, 2, 3, 4 or 8 bytes.
func (b *Buffer) ReadUint(width int, order binary.ByteOrder) (uint64, error) {
	if err := b.checkReadable("readUint", width); err != nil {
		return 0, err
	}
	v, err := decodeUint(b.mem()[b.r:b.r+width], width, order)
	if err != nil {
		return 0, err
	}
	b.r += width
	return v, nil
}

// ReadBytes copies the next n readable bytes into a new slice.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if err := b.checkReadable("readBytes", n); err != nil {
		return nil, err
	}
	p := make([]byte, n)
	copy(p, b.mem()[b.r:])
	b.r += n
	return p, nil
}

// ReadSlice returns a view of the next n readable bytes and advances the
// read cursor. The view shares storage and reference count with b and is
// not retained.
func (b *Buffer) ReadSlice(n int) (*Buffer, error) {
	if err := b.checkReadable("readSlice", n); err != nil {
		return nil, err
	}
	s, err := b.Slice(b.r, n)
	if err != nil {
		return nil, err
	}
	b.r += n
	return s, nil
}

// ReadRetainedSlice is ReadSlice followed by Retain.
func (b *Buffer) ReadRetainedSlice(n int) (*Buffer, error) {
	s, err := b.ReadSlice(n)
	if err != nil {
		return nil, err
	}
	if err := s.Retain(); err != nil {
		return nil, err
	}
	return s, nil
}

// Read implements io.Reader.
func (b *Buffer) Read(p []byte) (int, error) {
	if err := b.ensureAccessible("read"); err != nil {
		return 0, err
	}
	if b.r == b.w {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, b.mem()[b.r:b.w])
	b.r += n
	return n, nil
}

// WriteByte appends one byte.
func (b *Buffer) WriteByte(c byte) error {
	if err := b.EnsureWritable(1); err != nil {
		return err
	}
	b.mem()[b.w] = c
	b.w++
	return nil
}

// WriteUint16 appends v big-endian.
func (b *Buffer) WriteUint16(v uint16) error { return b.WriteUint(2, binary.BigEndian, uint64(v)) }

// WriteUint16LE appends v little-endian.
func (b *Buffer) WriteUint16LE(v uint16) error {
	return b.WriteUint(2, binary.LittleEndian, uint64(v))
}

// WriteUint32 appends v big-endian.
func (b *Buffer) WriteUint32(v uint32) error { return b.WriteUint(4, binary.BigEndian, uint64(v)) }

// WriteUint32LE appends v little-endian.
func (b *Buffer) WriteUint32LE(v uint32) error {
	return b.WriteUint(4, binary.LittleEndian, uint64(v))
}

// WriteUint64 appends v big-endian.
func (b *Buffer) WriteUint64(v uint64) error { return b.WriteUint(8, binary.BigEndian, v) }

// WriteUint64LE appends v little-endian.
func (b *Buffer) WriteUint64LE(v uint64) error { return b.WriteUint(8, binary.LittleEndian, v) }

// WriteUint appends v using width bytes (1, 2, 3, 4 or 8) in order.
func (b *Buffer) WriteUint(width int, order binary.ByteOrder, v uint64) error {
	if err := b.EnsureWritable(width); err != nil {
		return err
	}
	if err := encodeUint(b.mem()[b.w:b.w+width], width, order, v); err != nil {
		return err
	}
	b.w += width
	return nil
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.EnsureWritable(len(p)); err != nil {
		return 0, err
	}
	n := copy(b.mem()[b.w:], p)
	b.w += n
	return n, nil
}

// WriteString appends s.
func (b *Buffer) WriteString(s string) (int, error) {
	if err := b.EnsureWritable(len(s)); err != nil {
		return 0, err
	}
	n := copy(b.mem()[b.w:], s)
	b.w += n
	return n, nil
}

// WriteBuffer appends the readable bytes of src and consumes them.
func (b *Buffer) WriteBuffer(src *Buffer) error {
	if err := src.ensureAccessible("writeBuffer"); err != nil {
		return err
	}
	n := src.ReadableBytes()
	if _, err := b.Write(src.mem()[src.r:src.w]); err != nil {
		return err
	}
	src.r += n
	return nil
}

// ReadFromOnce grows the buffer by at least n writable bytes and performs a
// single Read from r into it.
func (b *Buffer) ReadFromOnce(r io.Reader, n int) (int, error) {
	if err := b.EnsureWritable(n); err != nil {
		return 0, err
	}
	m, err := r.Read(b.mem()[b.w:])
	if m > 0 {
		b.w += m
	}
	return m, err
}

// Slice returns a fixed-capacity view of length bytes starting at absolute
// index start. Writes through either buffer are visible in both.
func (b *Buffer) Slice(start, length int) (*Buffer, error) {
	if err := b.checkIndex("slice", start, length); err != nil {
		return nil, err
	}
	return &Buffer{
		s:        b.s,
		offset:   b.offset + start,
		capacity: length,
		maxCap:   length,
		w:        length,
		view:     true,
	}, nil
}

// RetainedSlice is Slice followed by Retain.
func (b *Buffer) RetainedSlice(start, length int) (*Buffer, error) {
	s, err := b.Slice(start, length)
	if err != nil {
		return nil, err
	}
	if err := s.Retain(); err != nil {
		return nil, err
	}
	return s, nil
}

// Copy returns an independent unpooled buffer holding length bytes starting
// at absolute index start.
func (b *Buffer) Copy(start, length int) (*Buffer, error) {
	if err := b.checkIndex("copy", start, length); err != nil {
		return nil, err
	}
	p := make([]byte, length)
	copy(p, b.mem()[start:])
	return Wrap(p), nil
}

// Bytes returns the readable bytes without copying. The slice aliases the
// buffer storage and is only valid until the next mutation or release.
func (b *Buffer) Bytes() []byte {
	b.mustAccessible("bytes")
	return b.mem()[b.r:b.w]
}

// IndexOf returns the absolute index of the first occurrence of needle in
// [from, to), or -1.
func (b *Buffer) IndexOf(from, to int, needle []byte) int {
	b.mustAccessible("indexOf")
	if from < 0 {
		from = 0
	}
	if to > b.capacity {
		to = b.capacity
	}
	if from >= to || len(needle) == 0 {
		return -1
	}
	i := bytes.Index(b.mem()[from:to], needle)
	if i < 0 {
		return -1
	}
	return from + i
}

// String returns the readable bytes as a string, or a marker once the
// buffer is freed so that logging a stale reference does not panic.
func (b *Buffer) String() string {
	if cnt := b.s.refCnt.Load(); cnt <= 0 {
		return "Buffer(freed)"
	}
	return string(b.mem()[b.r:b.w])
}

func decodeUint(p []byte, width int, order binary.ByteOrder) (uint64, error) {
	switch width {
	case 1:
		return uint64(p[0]), nil
	case 2:
		return uint64(order.Uint16(p)), nil
	case 3:
		if order == binary.LittleEndian {
			return uint64(p[0]) | uint64(p[1])<<8 | uint64(p[2])<<16, nil
		}
		return uint64(p[0])<<16 | uint64(p[1])<<8 | uint64(p[2]), nil
	case 4:
		return uint64(order.Uint32(p)), nil
	case 8:
		return order.Uint64(p), nil
	}
	return 0, &IndexError{Op: "uint width", Length: width}
}

func encodeUint(p []byte, width int, order binary.ByteOrder, v uint64) error {
	switch width {
	case 1:
		p[0] = byte(v)
	case 2:
		order.PutUint16(p, uint16(v))
	case 3:
		if order == binary.LittleEndian {
			p[0], p[1], p[2] = byte(v), byte(v>>8), byte(v>>16)
		} else {
			p[0], p[1], p[2] = byte(v>>16), byte(v>>8), byte(v)
		}
	case 4:
		order.PutUint32(p, uint32(v))
	case 8:
		order.PutUint64(p, v)
	default:
		return &IndexError{Op: "uint width", Length: width}
	}
	return nil
}
