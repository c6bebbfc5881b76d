package replication

import (
	"fmt"

	"github.com/annel0/netsync/internal/dirty"
	"github.com/annel0/netsync/internal/entity"
	"github.com/annel0/netsync/internal/netbuf"
	"github.com/annel0/netsync/internal/statecodec"
	"github.com/annel0/netsync/internal/vec"
)

// Полезная нагрузка Spawn и UpdateVars:
//   [varint маска]
//   [позиция vec3][вращение quat][масштаб vec3]: если в маске бит Transform
//   [поля состояния по возрастанию номера]: биты 0..62

// codecFor кодек состояния сущности; nil, если у ассета его нет
func (w *World) codecFor(e *entity.Entity) *statecodec.Codec {
	c, ok := w.Codecs.Get(e.AssetID)
	if !ok {
		return nil
	}
	return c
}

// encodeState пишет нагрузку для mask. Биты полей без кодека отбрасываются.
func (w *World) encodeState(buf *netbuf.Writer, e *entity.Entity, mask dirty.Mask) error {
	codec := w.codecFor(e)
	if codec == nil || e.State == nil {
		mask &= dirty.Transform
	} else {
		mask &= codec.AllMask() | dirty.Transform
	}
	buf.WriteVarUInt(uint64(mask))
	if mask&dirty.Transform != 0 {
		buf.WriteVec3(e.Position)
		buf.WriteQuat(e.Rotation)
		buf.WriteVec3(e.Scale)
	}
	if fields := mask &^ dirty.Transform; fields != 0 {
		if err := codec.Encode(buf, e.State, fields); err != nil {
			return fmt.Errorf("encode state of %d: %w", e.NetID, err)
		}
	}
	return nil
}

// initialPayload полное состояние для Spawn: все поля, трансформ уже есть в самом сообщении
func (w *World) initialPayload(e *entity.Entity) ([]byte, error) {
	codec := w.codecFor(e)
	if codec == nil || e.State == nil {
		return nil, nil
	}
	buf := netbuf.GetWriter()
	defer netbuf.PutWriter(buf)
	if err := w.encodeState(buf, e, codec.AllMask()); err != nil {
		return nil, err
	}
	return buf.CopyBytes(), nil
}

// applyState применяет нагрузку к сущности целиком или не применяет вовсе.
// skipTransform: прочитать трансформ, но не применять (сущностью управляет локальная сторона).
// Возвращает маску применённых изменений.
func (w *World) applyState(e *entity.Entity, payload []byte, skipTransform bool) (dirty.Mask, error) {
	r := netbuf.NewReader(payload)
	raw, err := r.ReadVarUInt()
	if err != nil {
		return 0, fmt.Errorf("state mask: %w", err)
	}
	mask := dirty.Mask(raw)

	var pos, scale vec.Vec3
	var rot vec.Quat
	if mask&dirty.Transform != 0 {
		if pos, err = r.ReadVec3(); err != nil {
			return 0, fmt.Errorf("state position: %w", err)
		}
		if rot, err = r.ReadQuat(); err != nil {
			return 0, fmt.Errorf("state rotation: %w", err)
		}
		if scale, err = r.ReadVec3(); err != nil {
			return 0, fmt.Errorf("state scale: %w", err)
		}
	}

	if fields := mask &^ dirty.Transform; fields != 0 {
		codec := w.codecFor(e)
		if codec == nil {
			return 0, fmt.Errorf("state fields %#x for asset %s without codec", uint64(fields), e.AssetID)
		}
		// разбираем в копию; e.State трогаем только после проверки хвоста
		tmp := codec.New()
		if e.State != nil {
			if err := codec.Copy(tmp, e.State); err != nil {
				return 0, err
			}
		}
		if err := codec.Decode(r, tmp, fields); err != nil {
			return 0, err
		}
		if r.Remaining() != 0 {
			return 0, fmt.Errorf("state payload: %d trailing bytes", r.Remaining())
		}
		if e.State == nil {
			e.State = tmp
		} else if err := codec.Copy(e.State, tmp); err != nil {
			return 0, err
		}
	} else if r.Remaining() != 0 {
		return 0, fmt.Errorf("state payload: %d trailing bytes", r.Remaining())
	}

	if mask&dirty.Transform != 0 && !skipTransform {
		e.Position = pos
		e.Rotation = rot
		e.Scale = scale
	}
	return mask, nil
}
