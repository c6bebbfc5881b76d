package bitpack

import (
	"fmt"
	"math"

	"github.com/annel0/netsync/internal/vec"
)

// tierTagBits ширина префикса яруса в VarUIntPacker
const tierTagBits = 2

// VarUIntPacker пакует идентификаторы в один из трёх ярусов ширины (small/medium/large)
// с 2-битным префиксом яруса. Префикс 3 зарезервирован и при чтении считается порчей.
type VarUIntPacker struct {
	tiers [3]int
	maxes [3]uint64
}

// NewVarUIntPacker создаёт упаковщик с ярусами small < medium < large
func NewVarUIntPacker(small, medium, large int) (*VarUIntPacker, error) {
	if small < 1 || medium <= small || large <= medium || large > 62 {
		return nil, fmt.Errorf("%w: tiers %d/%d/%d must satisfy 1 <= small < medium < large <= 62",
			ErrInvalidBitCount, small, medium, large)
	}
	p := &VarUIntPacker{tiers: [3]int{small, medium, large}}
	for i, b := range p.tiers {
		p.maxes[i] = MaxValue(b)
	}
	return p, nil
}

// MaxValue наибольшее значение, которое можно упаковать
func (p *VarUIntPacker) MaxValue() uint64 { return p.maxes[2] }

// BitsFor сколько бит займёт value (с префиксом)
func (p *VarUIntPacker) BitsFor(value uint64) int {
	for i, m := range p.maxes {
		if value <= m {
			return tierTagBits + p.tiers[i]
		}
	}
	return tierTagBits + p.tiers[2]
}

// Pack записывает value самым узким подходящим ярусом
func (p *VarUIntPacker) Pack(w *BitWriter, value uint64) error {
	tier := 2
	for i, m := range p.maxes {
		if value <= m {
			tier = i
			break
		}
	}
	if err := w.Write(uint64(tier), tierTagBits); err != nil {
		return err
	}
	return w.Write(value, p.tiers[tier])
}

// Unpack читает значение, записанное Pack
func (p *VarUIntPacker) Unpack(r *BitReader) (uint64, error) {
	tag, err := r.Read(tierTagBits)
	if err != nil {
		return 0, err
	}
	if tag > 2 {
		return 0, fmt.Errorf("%w: tier tag %d", ErrInvalidValue, tag)
	}
	return r.Read(p.tiers[tag])
}

// PositionPacker квантует каждую ось в [0, ceil((max-min)/precision)].
// Позиции вне [min, max] предварительно зажимаются; погрешность на оси не больше precision/2.
type PositionPacker struct {
	min       vec.Vec3
	max       vec.Vec3
	precision float64
	steps     [3]uint64
	bits      [3]int
}

// NewPositionPacker создаёт упаковщик позиций
func NewPositionPacker(min, max vec.Vec3, precision float64) (*PositionPacker, error) {
	if !(precision > 0) || math.IsInf(precision, 0) {
		return nil, fmt.Errorf("bitpack: precision must be positive, got %v", precision)
	}
	p := &PositionPacker{min: min, max: max, precision: precision}
	for i := 0; i < 3; i++ {
		lo, hi := min.Axis(i), max.Axis(i)
		if !(hi > lo) || math.IsInf(hi-lo, 0) {
			return nil, fmt.Errorf("bitpack: axis %d: max (%v) must be greater than min (%v)", i, hi, lo)
		}
		steps := math.Ceil((hi - lo) / precision)
		if steps > float64(MaxValue(32)) {
			return nil, fmt.Errorf("%w: axis %d needs more than 32 bits at precision %v", ErrInvalidBitCount, i, precision)
		}
		p.steps[i] = uint64(steps)
		p.bits[i] = BitsRequired(p.steps[i])
	}
	return p, nil
}

// AxisBits ширина каждой оси
func (p *PositionPacker) AxisBits() [3]int { return p.bits }

// BitCount суммарная ширина позиции
func (p *PositionPacker) BitCount() int { return p.bits[0] + p.bits[1] + p.bits[2] }

// Precision шаг квантования
func (p *PositionPacker) Precision() float64 { return p.precision }

// Pack записывает позицию
func (p *PositionPacker) Pack(w *BitWriter, v vec.Vec3) error {
	for i := 0; i < 3; i++ {
		if err := w.Write(p.quantize(i, v.Axis(i)), p.bits[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *PositionPacker) quantize(axis int, x float64) uint64 {
	lo, hi := p.min.Axis(axis), p.max.Axis(axis)
	if math.IsNaN(x) || x < lo {
		x = lo
	} else if x > hi {
		x = hi
	}
	q := math.Round((x - lo) / p.precision)
	if q > float64(p.steps[axis]) {
		return p.steps[axis]
	}
	return uint64(q)
}

// Unpack читает позицию
func (p *PositionPacker) Unpack(r *BitReader) (vec.Vec3, error) {
	var out vec.Vec3
	for i := 0; i < 3; i++ {
		q, err := r.Read(p.bits[i])
		if err != nil {
			return vec.Vec3{}, err
		}
		if q > p.steps[i] {
			return vec.Vec3{}, fmt.Errorf("%w: axis %d quantum %d > %d", ErrInvalidValue, i, q, p.steps[i])
		}
		x := p.min.Axis(i) + float64(q)*p.precision
		if hi := p.max.Axis(i); x > hi {
			x = hi
		}
		out = out.WithAxis(i, x)
	}
	return out, nil
}

// smallestThreeRange максимум модуля трёх меньших компонент единичного кватерниона (1/√2)
var smallestThreeRange = 1 / math.Sqrt2

// QuaternionPacker пакует вращение схемой "smallest three": три меньшие компоненты по
// bitCount бит каждая и 2 бита индекса отброшенной (наибольшей по модулю) компоненты.
// Знак выбирается так, чтобы отброшенная компонента была неотрицательной,
// поэтому q и -q кодируются одинаково.
type QuaternionPacker struct {
	bitCount int
	maxQ     float64
}

// NewQuaternionPacker создаёт упаковщик вращений
func NewQuaternionPacker(bitCount int) (*QuaternionPacker, error) {
	if bitCount < 2 || bitCount > 30 {
		return nil, fmt.Errorf("%w: rotation bit count %d must be in 2..30", ErrInvalidBitCount, bitCount)
	}
	return &QuaternionPacker{bitCount: bitCount, maxQ: float64(MaxValue(bitCount))}, nil
}

// BitCount суммарная ширина вращения
func (p *QuaternionPacker) BitCount() int { return 3*p.bitCount + 2 }

// Pack записывает вращение
func (p *QuaternionPacker) Pack(w *BitWriter, q vec.Quat) error {
	c := q.Normalized().Components()

	largest := 0
	for i := 1; i < 4; i++ {
		if math.Abs(c[i]) > math.Abs(c[largest]) {
			largest = i
		}
	}
	if c[largest] < 0 {
		for i := range c {
			c[i] = -c[i]
		}
	}

	for i := 0; i < 4; i++ {
		if i == largest {
			continue
		}
		if err := w.Write(p.quantize(c[i]), p.bitCount); err != nil {
			return err
		}
	}
	return w.Write(uint64(largest), 2)
}

func (p *QuaternionPacker) quantize(x float64) uint64 {
	m := smallestThreeRange
	if x < -m {
		x = -m
	} else if x > m {
		x = m
	}
	return uint64(math.Round((x + m) / (2 * m) * p.maxQ))
}

func (p *QuaternionPacker) dequantize(u uint64) float64 {
	m := smallestThreeRange
	return float64(u)/p.maxQ*2*m - m
}

// Unpack читает вращение; результат нормализован
func (p *QuaternionPacker) Unpack(r *BitReader) (vec.Quat, error) {
	var small [3]float64
	for i := range small {
		u, err := r.Read(p.bitCount)
		if err != nil {
			return vec.Quat{}, err
		}
		small[i] = p.dequantize(u)
	}
	idx, err := r.Read(2)
	if err != nil {
		return vec.Quat{}, err
	}

	var c [4]float64
	sumSq := 0.0
	j := 0
	for i := 0; i < 4; i++ {
		if i == int(idx) {
			continue
		}
		c[i] = small[j]
		sumSq += small[j] * small[j]
		j++
	}
	c[idx] = math.Sqrt(math.Max(0, 1-sumSq))
	return vec.QuatFromComponents(c).Normalized(), nil
}
