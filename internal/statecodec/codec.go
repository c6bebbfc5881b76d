// Package statecodec строит при старте сериализаторы состояния сущностей по их типам.
// Поле структуры с порядковым номером i соответствует биту i маски изменений.
package statecodec

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"github.com/annel0/netsync/internal/dirty"
	"github.com/annel0/netsync/internal/netbuf"
	"github.com/annel0/netsync/internal/vec"
)

// MaxFields поля 0..62; бит 63 занят трансформом
const MaxFields = 63

var (
	// ErrUnsupportedType тип поля не поддерживается
	ErrUnsupportedType = errors.New("statecodec: unsupported field type")
	// ErrTypeMismatch передано состояние другого типа
	ErrTypeMismatch = errors.New("statecodec: state type mismatch")
)

var (
	vec3Type = reflect.TypeOf(vec.Vec3{})
	quatType = reflect.TypeOf(vec.Quat{})
	uuidType = reflect.TypeOf(uuid.UUID{})
)

type encodeFn func(w *netbuf.Writer, v reflect.Value)
type decodeFn func(r *netbuf.Reader, v reflect.Value) error

type field struct {
	name  string
	index []int
	enc   encodeFn
	dec   decodeFn
}

// Codec сериализатор одного типа состояния
type Codec struct {
	typ    reflect.Type
	fields []field
	byName map[string]int
}

// Build строит кодек по образцу (структура или указатель на неё).
// Экспортируемые поля нумеруются по порядку объявления; тег `net:"-"` исключает поле.
func Build(sample any) (*Codec, error) {
	t := reflect.TypeOf(sample)
	if t == nil {
		return nil, fmt.Errorf("%w: nil sample", ErrUnsupportedType)
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrUnsupportedType, t)
	}

	c := &Codec{typ: t, byName: make(map[string]int)}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Tag.Get("net") == "-" {
			continue
		}
		enc, dec, err := fieldCodec(sf.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name(), sf.Name, err)
		}
		if len(c.fields) == MaxFields {
			return nil, fmt.Errorf("%w: %s has more than %d fields", ErrUnsupportedType, t, MaxFields)
		}
		c.byName[sf.Name] = len(c.fields)
		c.fields = append(c.fields, field{name: sf.Name, index: sf.Index, enc: enc, dec: dec})
	}
	return c, nil
}

func fieldCodec(t reflect.Type) (encodeFn, decodeFn, error) {
	switch t {
	case vec3Type:
		return func(w *netbuf.Writer, v reflect.Value) { w.WriteVec3(v.Interface().(vec.Vec3)) },
			func(r *netbuf.Reader, v reflect.Value) error {
				x, err := r.ReadVec3()
				if err == nil {
					v.Set(reflect.ValueOf(x))
				}
				return err
			}, nil
	case quatType:
		return func(w *netbuf.Writer, v reflect.Value) { w.WriteQuat(v.Interface().(vec.Quat)) },
			func(r *netbuf.Reader, v reflect.Value) error {
				x, err := r.ReadQuat()
				if err == nil {
					v.Set(reflect.ValueOf(x))
				}
				return err
			}, nil
	case uuidType:
		return func(w *netbuf.Writer, v reflect.Value) { w.WriteUUID(v.Interface().(uuid.UUID)) },
			func(r *netbuf.Reader, v reflect.Value) error {
				x, err := r.ReadUUID()
				if err == nil {
					v.Set(reflect.ValueOf(x))
				}
				return err
			}, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return func(w *netbuf.Writer, v reflect.Value) { w.WriteBool(v.Bool()) },
			func(r *netbuf.Reader, v reflect.Value) error {
				x, err := r.ReadBool()
				if err == nil {
					v.SetBool(x)
				}
				return err
			}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return func(w *netbuf.Writer, v reflect.Value) { w.WriteVarInt(v.Int()) },
			func(r *netbuf.Reader, v reflect.Value) error {
				x, err := r.ReadVarInt()
				if err != nil {
					return err
				}
				if v.OverflowInt(x) {
					return fmt.Errorf("%w: %d overflows %s", netbuf.ErrMalformedVarint, x, v.Type())
				}
				v.SetInt(x)
				return nil
			}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return func(w *netbuf.Writer, v reflect.Value) { w.WriteVarUInt(v.Uint()) },
			func(r *netbuf.Reader, v reflect.Value) error {
				x, err := r.ReadVarUInt()
				if err != nil {
					return err
				}
				if v.OverflowUint(x) {
					return fmt.Errorf("%w: %d overflows %s", netbuf.ErrMalformedVarint, x, v.Type())
				}
				v.SetUint(x)
				return nil
			}, nil
	case reflect.Float32:
		return func(w *netbuf.Writer, v reflect.Value) { w.WriteFloat32(float32(v.Float())) },
			func(r *netbuf.Reader, v reflect.Value) error {
				x, err := r.ReadFloat32()
				if err == nil {
					v.SetFloat(float64(x))
				}
				return err
			}, nil
	case reflect.Float64:
		return func(w *netbuf.Writer, v reflect.Value) { w.WriteFloat64(v.Float()) },
			func(r *netbuf.Reader, v reflect.Value) error {
				x, err := r.ReadFloat64()
				if err == nil {
					v.SetFloat(x)
				}
				return err
			}, nil
	case reflect.String:
		return func(w *netbuf.Writer, v reflect.Value) { w.WriteString(v.String()) },
			func(r *netbuf.Reader, v reflect.Value) error {
				x, err := r.ReadString()
				if err == nil {
					v.SetString(x)
				}
				return err
			}, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return func(w *netbuf.Writer, v reflect.Value) { w.WriteBytesAndSize(v.Bytes()) },
				func(r *netbuf.Reader, v reflect.Value) error {
					x, err := r.ReadBytesAndSize()
					if err == nil {
						v.SetBytes(x)
					}
					return err
				}, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// Type тип состояния
func (c *Codec) Type() reflect.Type { return c.typ }

// FieldCount число сериализуемых полей
func (c *Codec) FieldCount() int { return len(c.fields) }

// FieldIndex номер поля (бит маски) по имени
func (c *Codec) FieldIndex(name string) (int, bool) {
	i, ok := c.byName[name]
	return i, ok
}

// FieldNames имена полей по порядку битов
func (c *Codec) FieldNames() []string {
	out := make([]string, len(c.fields))
	for i, f := range c.fields {
		out[i] = f.name
	}
	return out
}

// AllMask маска всех полей
func (c *Codec) AllMask() dirty.Mask {
	if len(c.fields) == 0 {
		return 0
	}
	return dirty.Mask(1)<<uint(len(c.fields)) - 1
}

// New новый экземпляр состояния (указатель на нулевую структуру)
func (c *Codec) New() any { return reflect.New(c.typ).Interface() }

func (c *Codec) target(state any) (reflect.Value, error) {
	v := reflect.ValueOf(state)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Type() != c.typ {
		return reflect.Value{}, fmt.Errorf("%w: want *%s, got %T", ErrTypeMismatch, c.typ, state)
	}
	return v.Elem(), nil
}

// Encode пишет поля, отмеченные в mask, по возрастанию номера. Сама маска не пишется.
func (c *Codec) Encode(w *netbuf.Writer, state any, mask dirty.Mask) error {
	v, err := c.target(state)
	if err != nil {
		return err
	}
	for i, f := range c.fields {
		if mask&dirty.Field(i) == 0 {
			continue
		}
		f.enc(w, v.FieldByIndex(f.index))
	}
	return nil
}

// Decode читает поля mask в state. Состояние меняется только если все поля прочитаны успешно.
func (c *Codec) Decode(r *netbuf.Reader, state any, mask dirty.Mask) error {
	v, err := c.target(state)
	if err != nil {
		return err
	}
	if extra := mask &^ c.AllMask() &^ dirty.Transform; extra != 0 {
		return fmt.Errorf("statecodec: %s: unknown field bits %#x", c.typ, uint64(extra))
	}

	tmp := reflect.New(c.typ).Elem()
	tmp.Set(v)
	for i, f := range c.fields {
		if mask&dirty.Field(i) == 0 {
			continue
		}
		if err := f.dec(r, tmp.FieldByIndex(f.index)); err != nil {
			return fmt.Errorf("statecodec: %s.%s: %w", c.typ.Name(), f.name, err)
		}
	}
	v.Set(tmp)
	return nil
}

// Copy копирует значение src в dst (оба указатели на тип кодека)
func (c *Codec) Copy(dst, src any) error {
	d, err := c.target(dst)
	if err != nil {
		return err
	}
	s, err := c.target(src)
	if err != nil {
		return err
	}
	d.Set(s)
	return nil
}
