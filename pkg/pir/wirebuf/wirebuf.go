// Package wirebuf provides the growable byte buffer with a read cursor that
// the TLS record/handshake engine threads through every wire-format
// operation. Storage is pooled through
// bytebufferpool rather than hand-rolled, since growable-buffer pooling is
// exactly what that library exists for.
package wirebuf

import (
	"encoding/binary"

	"github.com/valyala/bytebufferpool"
)

var pool bytebufferpool.Pool

// Buffer is a growable byte buffer with typed big-endian read/write and an
// independent read cursor. The zero value is not usable; construct with
// New or Wrap.
type Buffer struct {
	bb   *bytebufferpool.ByteBuffer
	off  int
	view bool // true when Wrap()ed over caller-owned memory; Reset is then a no-op
}

// New returns an empty, pool-backed Buffer. Callers should call Release
// when done so the backing storage can be reused.
func New() *Buffer {
	return &Buffer{bb: pool.Get()}
}

// Wrap returns a non-owning Buffer view over p. Append still works (it
// grows the slice like append() would), but Reset is a no-op and Release
// does not return anything to the pool: a view never owns its storage.
func Wrap(p []byte) *Buffer {
	bb := &bytebufferpool.ByteBuffer{B: p}
	return &Buffer{bb: bb, view: true}
}

// Release returns owned storage to the pool. Safe to call on a view.
func (b *Buffer) Release() {
	if b.view || b.bb == nil {
		return
	}
	pool.Put(b.bb)
	b.bb = nil
}

// Reset zeroes Size() but keeps capacity for owned buffers; it is a no-op
// for views.
func (b *Buffer) Reset() {
	if b.view {
		return
	}
	b.bb.Reset()
	b.off = 0
}

// Bytes returns the full written region (Size() bytes), not Remaining().
func (b *Buffer) Bytes() []byte {
	return b.bb.B
}

// Size is the number of bytes written so far.
func (b *Buffer) Size() int {
	return len(b.bb.B)
}

// SetSize truncates or grows the written region to n bytes (growth is
// zero-filled). Used by callers that compute a length up front and fill it
// in place, as the record layer does for record bodies.
func (b *Buffer) SetSize(n int) {
	if n <= len(b.bb.B) {
		b.bb.B = b.bb.B[:n]
		return
	}
	b.bb.B = append(b.bb.B, make([]byte, n-len(b.bb.B))...)
}

// Append copies p into the buffer, growing as needed, and returns the
// offset at which it was written.
func (b *Buffer) Append(p []byte) int {
	off := len(b.bb.B)
	b.bb.B = append(b.bb.B, p...)
	return off
}

// AppendByte appends a single byte and returns its offset.
func (b *Buffer) AppendByte(v byte) int {
	off := len(b.bb.B)
	b.bb.B = append(b.bb.B, v)
	return off
}

// AppendUint16BE appends a big-endian uint16.
func (b *Buffer) AppendUint16BE(v uint16) int {
	off := len(b.bb.B)
	b.bb.B = append(b.bb.B, byte(v>>8), byte(v))
	return off
}

// AppendUint24BE appends a big-endian 24-bit length.
func (b *Buffer) AppendUint24BE(v uint32) int {
	off := len(b.bb.B)
	b.bb.B = append(b.bb.B, byte(v>>16), byte(v>>8), byte(v))
	return off
}

// AppendSize reserves n zero bytes and returns the offset, for patching a
// length prefix once the body that follows is known.
func (b *Buffer) AppendSize(n int) int {
	off := len(b.bb.B)
	b.bb.B = append(b.bb.B, make([]byte, n)...)
	return off
}

// PatchUint16BE overwrites a previously reserved 2-byte slot.
func (b *Buffer) PatchUint16BE(offset int, v uint16) {
	binary.BigEndian.PutUint16(b.bb.B[offset:], v)
}

// PatchUint24BE overwrites a previously reserved 3-byte slot.
func (b *Buffer) PatchUint24BE(offset int, v uint32) {
	b.bb.B[offset] = byte(v >> 16)
	b.bb.B[offset+1] = byte(v >> 8)
	b.bb.B[offset+2] = byte(v)
}

// Off returns the current read cursor.
func (b *Buffer) Off() int {
	return b.off
}

// Remaining returns Size() - Off().
func (b *Buffer) Remaining() int {
	return len(b.bb.B) - b.off
}

// Skip advances the read cursor by n bytes without copying. Panics if it
// would move the cursor past Size(): reading past the written region is a
// framing bug on the caller's side, not a recoverable condition.
func (b *Buffer) Skip(n int) {
	if b.off+n > len(b.bb.B) {
		panic("wirebuf: read past buffer size")
	}
	b.off += n
}

// ReadByte reads and consumes one byte.
func (b *Buffer) ReadByte() byte {
	b.Skip(1)
	return b.bb.B[b.off-1]
}

// ReadUint16BE reads and consumes a big-endian uint16.
func (b *Buffer) ReadUint16BE() uint16 {
	b.Skip(2)
	return binary.BigEndian.Uint16(b.bb.B[b.off-2:])
}

// ReadUint24BE reads and consumes a big-endian 24-bit length.
func (b *Buffer) ReadUint24BE() uint32 {
	b.Skip(3)
	p := b.bb.B[b.off-3:]
	return uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
}

// Read copies min(len(p), Remaining()) bytes into p, consuming them, and
// returns the number of bytes copied.
func (b *Buffer) Read(p []byte) int {
	n := copy(p, b.bb.B[b.off:])
	b.off += n
	return n
}

// ReadN consumes and returns the next n bytes as a sub-slice (no copy); the
// caller must not retain it past the next mutation of b.
func (b *Buffer) ReadN(n int) []byte {
	b.Skip(n)
	return b.bb.B[b.off-n : b.off]
}
