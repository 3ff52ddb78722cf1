package rosbag

import (
	"math"
	"time"
)

// Buffer serializes message fields in ROS wire order. It is the write-side twin of the field
// decoders: variable length arrays and strings are prefixed with a uint32 length, fixed arrays
// are not.
type Buffer struct {
	b []byte
}

// NewBuffer returns an empty Buffer with room for n bytes.
func NewBuffer(n int) *Buffer {
	return &Buffer{b: make([]byte, 0, n)}
}

// Bytes returns the serialized message. The slice aliases the buffer.
func (buf *Buffer) Bytes() []byte {
	return buf.b
}

// Len returns the number of serialized bytes.
func (buf *Buffer) Len() int {
	return len(buf.b)
}

// Reset empties the buffer, keeping its storage.
func (buf *Buffer) Reset() {
	buf.b = buf.b[:0]
}

func (buf *Buffer) PutBool(v bool) {
	if v {
		buf.b = append(buf.b, 1)
	} else {
		buf.b = append(buf.b, 0)
	}
}

func (buf *Buffer) PutUint8(v uint8) {
	buf.b = append(buf.b, v)
}

func (buf *Buffer) PutUint32(v uint32) {
	buf.b = endian.AppendUint32(buf.b, v)
}

func (buf *Buffer) PutInt32(v int32) {
	buf.b = endian.AppendUint32(buf.b, uint32(v))
}

func (buf *Buffer) PutUint64(v uint64) {
	buf.b = endian.AppendUint64(buf.b, v)
}

func (buf *Buffer) PutFloat32(v float32) {
	buf.b = endian.AppendUint32(buf.b, math.Float32bits(v))
}

func (buf *Buffer) PutFloat64(v float64) {
	buf.b = endian.AppendUint64(buf.b, math.Float64bits(v))
}

func (buf *Buffer) PutString(v string) {
	buf.PutUint32(uint32(len(v)))
	buf.b = append(buf.b, v...)
}

// PutBytes writes a uint8[] field.
func (buf *Buffer) PutBytes(v []byte) {
	buf.PutUint32(uint32(len(v)))
	buf.b = append(buf.b, v...)
}

func (buf *Buffer) PutTime(t Time) {
	buf.PutUint32(t.Sec)
	buf.PutUint32(t.Nsec)
}

func (buf *Buffer) PutDuration(d time.Duration) {
	sec := d / time.Second
	buf.PutInt32(int32(sec))
	buf.PutInt32(int32(d - sec*time.Second))
}

// PutLength writes the element count that prefixes a variable length array.
func (buf *Buffer) PutLength(n int) {
	buf.PutUint32(uint32(n))
}

// PutFloat64Slice writes a float64[] field.
func (buf *Buffer) PutFloat64Slice(vs []float64) {
	buf.PutLength(len(vs))
	buf.PutFloat64Array(vs)
}

// PutFloat64Array writes a float64[N] field.
func (buf *Buffer) PutFloat64Array(vs []float64) {
	for _, v := range vs {
		buf.PutFloat64(v)
	}
}
