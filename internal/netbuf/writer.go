// Package netbuf: побайтовые writer/reader для сообщений протокола.
// Целые фиксированной ширины пишутся little-endian, длины и теги: varint (protowire).
package netbuf

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/netsync/internal/vec"
)

// defaultCapacity начальный размер буфера writer'а
const defaultCapacity = 1500

// Writer накапливает байты сообщения
type Writer struct {
	buf []byte
}

// NewWriter создаёт пустой writer
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, defaultCapacity)}
}

var writerPool = sync.Pool{
	New: func() interface{} { return NewWriter() },
}

// GetWriter берёт writer из пула. Вернуть через PutWriter.
func GetWriter() *Writer {
	w := writerPool.Get().(*Writer)
	w.Reset()
	return w
}

// PutWriter возвращает writer в пул. Слайс из Bytes() после этого использовать нельзя.
func PutWriter(w *Writer) {
	if w == nil {
		return
	}
	writerPool.Put(w)
}

// Reset очищает writer без освобождения памяти
func (w *Writer) Reset() { w.buf = w.buf[:0] }

// Len число записанных байт
func (w *Writer) Len() int { return len(w.buf) }

// Bytes записанные байты (без копирования)
func (w *Writer) Bytes() []byte { return w.buf }

// CopyBytes копия записанных байт
func (w *Writer) CopyBytes() []byte {
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	return out
}

func (w *Writer) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteUInt16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *Writer) WriteUInt32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *Writer) WriteUInt64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *Writer) WriteInt32(v int32)   { w.WriteUInt32(uint32(v)) }
func (w *Writer) WriteInt64(v int64)   { w.WriteUInt64(uint64(v)) }

func (w *Writer) WriteFloat32(v float32) { w.WriteUInt32(math.Float32bits(v)) }
func (w *Writer) WriteFloat64(v float64) { w.WriteUInt64(math.Float64bits(v)) }

// WriteVarUInt пишет беззнаковое целое в формате varint
func (w *Writer) WriteVarUInt(v uint64) { w.buf = protowire.AppendVarint(w.buf, v) }

// WriteVarInt пишет знаковое целое в zigzag-varint
func (w *Writer) WriteVarInt(v int64) {
	w.buf = protowire.AppendVarint(w.buf, protowire.EncodeZigZag(v))
}

// WriteRaw пишет байты как есть
func (w *Writer) WriteRaw(p []byte) { w.buf = append(w.buf, p...) }

// Write реализует io.Writer
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// WriteBytesAndSize пишет длину (varint) и затем байты. nil и пустой слайс различаются:
// размер кодируется как len+1, 0 означает nil.
func (w *Writer) WriteBytesAndSize(p []byte) {
	if p == nil {
		w.WriteVarUInt(0)
		return
	}
	w.WriteVarUInt(uint64(len(p)) + 1)
	w.buf = append(w.buf, p...)
}

// WriteString пишет строку UTF-8 с длиной
func (w *Writer) WriteString(s string) {
	w.WriteVarUInt(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteVec3 пишет вектор тремя float32
func (w *Writer) WriteVec3(v vec.Vec3) {
	w.WriteFloat32(float32(v.X))
	w.WriteFloat32(float32(v.Y))
	w.WriteFloat32(float32(v.Z))
}

// WriteQuat пишет кватернион четырьмя float32
func (w *Writer) WriteQuat(q vec.Quat) {
	w.WriteFloat32(float32(q.X))
	w.WriteFloat32(float32(q.Y))
	w.WriteFloat32(float32(q.Z))
	w.WriteFloat32(float32(q.W))
}

// WriteUUID пишет 16 байт идентификатора
func (w *Writer) WriteUUID(id uuid.UUID) { w.buf = append(w.buf, id[:]...) }
