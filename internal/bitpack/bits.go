// Package bitpack упаковывает целые и числа с плавающей точкой в общий битовый буфер
// минимальным числом бит. Биты пишутся младшими вперёд (LSB-first), байты: по порядку.
package bitpack

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	// ErrValueOverflow значение не помещается в заданное число бит (только в strict режиме)
	ErrValueOverflow = errors.New("bitpack: value exceeds bit width")
	// ErrReadPastEnd попытка прочитать больше бит, чем есть в буфере
	ErrReadPastEnd = errors.New("bitpack: read past end of buffer")
	// ErrInvalidBitCount число бит вне диапазона 1..MaxBits
	ErrInvalidBitCount = errors.New("bitpack: invalid bit count")
	// ErrInvalidValue прочитанное значение вне допустимого диапазона (повреждённый поток)
	ErrInvalidValue = errors.New("bitpack: decoded value out of range")
)

// MaxBits максимальная ширина одной записи
const MaxBits = 64

// BitsRequired возвращает минимальное число бит для представления maxValue (не меньше 1)
func BitsRequired(maxValue uint64) int {
	if maxValue == 0 {
		return 1
	}
	return bits.Len64(maxValue)
}

// MaxValue возвращает 2^bitCount - 1
func MaxValue(bitCount int) uint64 {
	if bitCount >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(bitCount)) - 1
}

// BitWriter пишет значения произвольной ширины в байтовый буфер
type BitWriter struct {
	buf         []byte
	scratch     uint64
	scratchBits int
	written     int
	strict      bool
}

// NewBitWriter создаёт writer. strict=true: переполнение возвращает ошибку,
// strict=false: значение усекается до младших bitCount бит.
func NewBitWriter(strict bool) *BitWriter {
	return &BitWriter{strict: strict, buf: make([]byte, 0, 64)}
}

// Strict сообщает режим обработки переполнения
func (w *BitWriter) Strict() bool { return w.strict }

// Reset очищает writer; буфер переиспользуется
func (w *BitWriter) Reset() {
	w.buf = w.buf[:0]
	w.scratch = 0
	w.scratchBits = 0
	w.written = 0
}

// Write записывает bitCount младших бит value
func (w *BitWriter) Write(value uint64, bitCount int) error {
	if bitCount < 1 || bitCount > MaxBits {
		return fmt.Errorf("%w: %d", ErrInvalidBitCount, bitCount)
	}
	mask := MaxValue(bitCount)
	if value > mask {
		if w.strict {
			return fmt.Errorf("%w: %d does not fit in %d bits", ErrValueOverflow, value, bitCount)
		}
		value &= mask
	}

	w.written += bitCount
	for bitCount > 0 {
		free := 64 - w.scratchBits
		take := bitCount
		if take > free {
			take = free
		}
		w.scratch |= (value & MaxValue(take)) << uint(w.scratchBits)
		w.scratchBits += take
		bitCount -= take
		if take < 64 {
			value >>= uint(take)
		} else {
			value = 0
		}

		for w.scratchBits >= 8 {
			w.buf = append(w.buf, byte(w.scratch))
			w.scratch >>= 8
			w.scratchBits -= 8
		}
	}
	return nil
}

// WriteBool записывает один бит
func (w *BitWriter) WriteBool(v bool) {
	if v {
		_ = w.Write(1, 1)
	} else {
		_ = w.Write(0, 1)
	}
}

// Flush дописывает неполный последний байт (добивка нулями)
func (w *BitWriter) Flush() {
	if w.scratchBits > 0 {
		w.buf = append(w.buf, byte(w.scratch))
		w.scratch = 0
		w.scratchBits = 0
	}
}

// Bytes возвращает записанные байты. Вызывать после Flush.
func (w *BitWriter) Bytes() []byte { return w.buf }

// BitLength общее число записанных бит (без добивки)
func (w *BitWriter) BitLength() int { return w.written }

// BitReader читает значения, записанные BitWriter
type BitReader struct {
	data []byte
	pos  int
}

// NewBitReader создаёт reader поверх data
func NewBitReader(data []byte) *BitReader {
	return &BitReader{data: data}
}

// Reset переключает reader на новые данные
func (r *BitReader) Reset(data []byte) {
	r.data = data
	r.pos = 0
}

// Read читает bitCount бит
func (r *BitReader) Read(bitCount int) (uint64, error) {
	if bitCount < 1 || bitCount > MaxBits {
		return 0, fmt.Errorf("%w: %d", ErrInvalidBitCount, bitCount)
	}
	if r.pos+bitCount > len(r.data)*8 {
		return 0, fmt.Errorf("%w: need %d bits, have %d", ErrReadPastEnd, bitCount, r.BitsRemaining())
	}

	var value uint64
	read := 0
	for read < bitCount {
		byteIdx := r.pos >> 3
		bitOff := r.pos & 7
		take := 8 - bitOff
		if take > bitCount-read {
			take = bitCount - read
		}
		chunk := (uint64(r.data[byteIdx]) >> uint(bitOff)) & MaxValue(take)
		value |= chunk << uint(read)
		read += take
		r.pos += take
	}
	return value, nil
}

// ReadBool читает один бит
func (r *BitReader) ReadBool() (bool, error) {
	v, err := r.Read(1)
	return v == 1, err
}

// BitPosition текущая позиция курсора в битах
func (r *BitReader) BitPosition() int { return r.pos }

// BytePosition число байт, затронутых чтением (округление вверх)
func (r *BitReader) BytePosition() int { return (r.pos + 7) >> 3 }

// BitsRemaining сколько бит ещё можно прочитать
func (r *BitReader) BitsRemaining() int { return len(r.data)*8 - r.pos }

// PaddingIsZero проверяет, что непрочитанные биты последнего байта нулевые.
// Используется для проверки точного потребления сообщения.
func (r *BitReader) PaddingIsZero() bool {
	rem := r.BitsRemaining()
	if rem >= 8 || rem == 0 {
		return rem == 0
	}
	last := r.data[len(r.data)-1]
	return last>>uint(8-rem) == 0
}
