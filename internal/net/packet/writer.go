package packet

import (
	"encoding/binary"
	"math"
)

// Writer builds a render-stream packet. All multi-byte writes are
// little-endian.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

func NewWriterWithOpcode(opcode byte) *Writer {
	return NewWriterSize(opcode, 64)
}

// NewWriterSize preallocates capacity bytes; frames know their size upfront.
func NewWriterSize(opcode byte, capacity int) *Writer {
	w := &Writer{buf: make([]byte, 0, capacity)}
	w.WriteC(opcode)
	return w
}

// WriteC writes 1 byte.
func (w *Writer) WriteC(v byte) {
	w.buf = append(w.buf, v)
}

// WriteH writes 2 bytes little-endian.
func (w *Writer) WriteH(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// WriteD writes 4 bytes little-endian (signed or unsigned via cast).
func (w *Writer) WriteD(v int32) {
	w.WriteDU(uint32(v))
}

// WriteDU writes 4 bytes little-endian unsigned.
func (w *Writer) WriteDU(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteQ writes 8 bytes little-endian unsigned.
func (w *Writer) WriteQ(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// WriteF writes an IEEE-754 float32.
func (w *Writer) WriteF(v float32) {
	w.WriteDU(math.Float32bits(v))
}

// WriteFloats writes every value in vs.
func (w *Writer) WriteFloats(vs []float32) {
	for _, v := range vs {
		w.WriteF(v)
	}
}

// WriteS writes a null-terminated UTF-8 string.
func (w *Writer) WriteS(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0) // null terminator
}

// Bytes returns the packet content.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the current length.
func (w *Writer) Len() int {
	return len(w.buf)
}
