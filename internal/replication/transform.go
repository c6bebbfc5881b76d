package replication

import (
	"errors"
	"fmt"

	"github.com/annel0/netsync/internal/bitpack"
	"github.com/annel0/netsync/internal/entity"
	"github.com/annel0/netsync/internal/vec"
)

// ErrMalformedTransform повреждённый поток записей трансформа
var ErrMalformedTransform = errors.New("replication: malformed transform payload")

// TransformRecord одна запись потока TransformBroadcast/TransformSingle
type TransformRecord struct {
	NetID    uint32
	Position vec.Vec3
	Rotation vec.Quat
}

// TransformSystem пакует записи [id ярусами][позиция][вращение] подряд, младшими битами вперёд
type TransformSystem struct {
	p *Packers
}

// NewTransformSystem создаёт систему поверх упаковщиков мира
func NewTransformSystem(p *Packers) *TransformSystem {
	return &TransformSystem{p: p}
}

// RecordBits размер записи сущности id в битах
func (t *TransformSystem) RecordBits(id uint32) int {
	return t.p.ID.BitsFor(uint64(id)) + t.p.Position.BitCount() + t.p.Rotation.BitCount()
}

func (t *TransformSystem) packRecord(w *bitpack.BitWriter, rec TransformRecord) error {
	if err := t.p.ID.Pack(w, uint64(rec.NetID)); err != nil {
		return fmt.Errorf("net id %d: %w", rec.NetID, err)
	}
	if err := t.p.Position.Pack(w, rec.Position); err != nil {
		return fmt.Errorf("position of %d: %w", rec.NetID, err)
	}
	if err := t.p.Rotation.Pack(w, rec.Rotation); err != nil {
		return fmt.Errorf("rotation of %d: %w", rec.NetID, err)
	}
	return nil
}

// PackAll упаковывает записи в одну или несколько полезных нагрузок не длиннее maxBytes
// (0: без ограничения). Ошибка ёмкости возвращается вызывающему и ничего не отправляется.
func (t *TransformSystem) PackAll(records []TransformRecord, maxBytes int) ([][]byte, error) {
	if len(records) == 0 {
		return nil, nil
	}
	var out [][]byte
	w := bitpack.NewBitWriter(t.p.Strict)
	bits := 0
	for _, rec := range records {
		rb := t.RecordBits(rec.NetID)
		if bits > 0 && maxBytes > 0 && (bits+rb+7)/8 > maxBytes {
			w.Flush()
			out = append(out, append([]byte(nil), w.Bytes()...))
			w.Reset()
			bits = 0
		}
		if err := t.packRecord(w, rec); err != nil {
			return nil, err
		}
		bits += rb
	}
	w.Flush()
	out = append(out, append([]byte(nil), w.Bytes()...))
	return out, nil
}

// PackOne одна запись (TransformSingle)
func (t *TransformSystem) PackOne(rec TransformRecord) ([]byte, error) {
	chunks, err := t.PackAll([]TransformRecord{rec}, 0)
	if err != nil {
		return nil, err
	}
	return chunks[0], nil
}

// Unpack разбирает поток целиком. При любой ошибке не возвращает ни одной записи,
// чтобы вызывающий не применил сообщение частично.
func (t *TransformSystem) Unpack(data []byte) ([]TransformRecord, error) {
	r := bitpack.NewBitReader(data)
	var out []TransformRecord
	for r.BitsRemaining() >= 8 {
		id, err := t.p.ID.Unpack(r)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d id: %v", ErrMalformedTransform, len(out), err)
		}
		if id == uint64(entity.NoID) {
			return nil, fmt.Errorf("%w: record %d has zero id", ErrMalformedTransform, len(out))
		}
		pos, err := t.p.Position.Unpack(r)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d position: %v", ErrMalformedTransform, len(out), err)
		}
		rot, err := t.p.Rotation.Unpack(r)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d rotation: %v", ErrMalformedTransform, len(out), err)
		}
		out = append(out, TransformRecord{NetID: uint32(id), Position: pos, Rotation: rot})
	}
	if !r.PaddingIsZero() {
		return nil, fmt.Errorf("%w: %d trailing bits are not zero", ErrMalformedTransform, r.BitsRemaining())
	}
	return out, nil
}
