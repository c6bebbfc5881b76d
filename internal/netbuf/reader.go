package netbuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/netsync/internal/vec"
)

var (
	// ErrEndOfBuffer чтение за концом данных
	ErrEndOfBuffer = errors.New("netbuf: read past end of buffer")
	// ErrMalformedVarint повреждённый varint
	ErrMalformedVarint = errors.New("netbuf: malformed varint")
)

// Reader читает данные, записанные Writer. Ошибка чтения не сдвигает позицию.
type Reader struct {
	data []byte
	pos  int
}

// NewReader создаёт reader поверх data
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Reset переключает reader на новые данные
func (r *Reader) Reset(data []byte) {
	r.data = data
	r.pos = 0
}

// Position текущая позиция в байтах
func (r *Reader) Position() int { return r.pos }

// Len полный размер данных
func (r *Reader) Len() int { return len(r.data) }

// Remaining сколько байт осталось
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

func (r *Reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return fmt.Errorf("%w: need %d bytes at %d, have %d", ErrEndOfBuffer, n, r.pos, r.Remaining())
	}
	return nil
}

func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func (r *Reader) ReadUInt16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadUInt32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadUInt64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUInt32()
	return int32(v), err
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUInt64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUInt32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUInt64()
	return math.Float64frombits(v), err
}

// ReadVarUInt читает varint
func (r *Reader) ReadVarUInt() (uint64, error) {
	if r.Remaining() == 0 {
		return 0, fmt.Errorf("%w: varint at %d", ErrEndOfBuffer, r.pos)
	}
	v, n := protowire.ConsumeVarint(r.data[r.pos:])
	if n < 0 {
		perr := protowire.ParseError(n)
		if errors.Is(perr, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("%w: truncated varint at %d", ErrEndOfBuffer, r.pos)
		}
		return 0, fmt.Errorf("%w at %d: %v", ErrMalformedVarint, r.pos, perr)
	}
	r.pos += n
	return v, nil
}

// ReadVarInt читает zigzag-varint
func (r *Reader) ReadVarInt() (int64, error) {
	v, err := r.ReadVarUInt()
	if err != nil {
		return 0, err
	}
	return protowire.DecodeZigZag(v), nil
}

// ReadRaw читает ровно n байт (без копирования)
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	p := r.data[r.pos : r.pos+n]
	r.pos += n
	return p, nil
}

// ReadBytesAndSize читает данные, записанные WriteBytesAndSize. Результат копируется.
func (r *Reader) ReadBytesAndSize() ([]byte, error) {
	start := r.pos
	size, err := r.ReadVarUInt()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	if size-1 > uint64(r.Remaining()) {
		r.pos = start
		return nil, fmt.Errorf("%w: declared %d bytes, have %d", ErrEndOfBuffer, size-1, r.Remaining())
	}
	p, _ := r.ReadRaw(int(size - 1))
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

// ReadString читает строку
func (r *Reader) ReadString() (string, error) {
	start := r.pos
	size, err := r.ReadVarUInt()
	if err != nil {
		return "", err
	}
	if size > uint64(r.Remaining()) {
		r.pos = start
		return "", fmt.Errorf("%w: string of %d bytes, have %d", ErrEndOfBuffer, size, r.Remaining())
	}
	p, _ := r.ReadRaw(int(size))
	return string(p), nil
}

// ReadVec3 читает вектор из трёх float32
func (r *Reader) ReadVec3() (vec.Vec3, error) {
	p, err := r.ReadRaw(12)
	if err != nil {
		return vec.Vec3{}, err
	}
	return vec.Vec3{
		X: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[0:]))),
		Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[4:]))),
		Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[8:]))),
	}, nil
}

// ReadQuat читает кватернион из четырёх float32
func (r *Reader) ReadQuat() (vec.Quat, error) {
	p, err := r.ReadRaw(16)
	if err != nil {
		return vec.Quat{}, err
	}
	return vec.Quat{
		X: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[0:]))),
		Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[4:]))),
		Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[8:]))),
		W: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[12:]))),
	}, nil
}

// ReadUUID читает 16 байт идентификатора
func (r *Reader) ReadUUID() (uuid.UUID, error) {
	p, err := r.ReadRaw(16)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	copy(id[:], p)
	return id, nil
}
