package vec

import "math"

// Quat кватернион вращения (X, Y, Z: векторная часть, W: скалярная)
type Quat struct {
	X float64
	Y float64
	Z float64
	W float64
}

// IdentityQuat нулевое вращение
var IdentityQuat = Quat{W: 1}

// QuatFromAxisAngle строит кватернион поворота на angle радиан вокруг оси axis
func QuatFromAxisAngle(axis Vec3, angle float64) Quat {
	l := axis.Length()
	if l == 0 {
		return IdentityQuat
	}
	s := math.Sin(angle/2) / l
	return Quat{X: axis.X * s, Y: axis.Y * s, Z: axis.Z * s, W: math.Cos(angle / 2)}
}

// QuatFromEuler строит кватернион из углов Эйлера (радианы, порядок Z-X-Y как в Unity)
func QuatFromEuler(pitch, yaw, roll float64) Quat {
	cx, sx := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	cz, sz := math.Cos(roll/2), math.Sin(roll/2)
	return Quat{
		X: sx*cy*cz + cx*sy*sz,
		Y: cx*sy*cz - sx*cy*sz,
		Z: cx*cy*sz - sx*sy*cz,
		W: cx*cy*cz + sx*sy*sz,
	}
}

// Component возвращает компоненту по индексу (0=X, 1=Y, 2=Z, 3=W)
func (q Quat) Component(i int) float64 {
	switch i {
	case 0:
		return q.X
	case 1:
		return q.Y
	case 2:
		return q.Z
	default:
		return q.W
	}
}

// Components возвращает компоненты массивом в порядке X, Y, Z, W
func (q Quat) Components() [4]float64 {
	return [4]float64{q.X, q.Y, q.Z, q.W}
}

// QuatFromComponents собирает кватернион из массива X, Y, Z, W
func QuatFromComponents(c [4]float64) Quat {
	return Quat{X: c[0], Y: c[1], Z: c[2], W: c[3]}
}

// Length возвращает норму кватерниона
func (q Quat) Length() float64 {
	return math.Sqrt(q.Dot(q))
}

// Dot скалярное произведение
func (q Quat) Dot(o Quat) float64 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

// Negate меняет знак всех компонент (то же вращение)
func (q Quat) Negate() Quat {
	return Quat{X: -q.X, Y: -q.Y, Z: -q.Z, W: -q.W}
}

// Normalized возвращает единичный кватернион; нулевой превращается в IdentityQuat
func (q Quat) Normalized() Quat {
	l := q.Length()
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return IdentityQuat
	}
	return Quat{X: q.X / l, Y: q.Y / l, Z: q.Z / l, W: q.W / l}
}

// AngleTo возвращает угол (радианы) между двумя вращениями.
// q и -q считаются одним вращением.
func (q Quat) AngleTo(o Quat) float64 {
	d := math.Abs(q.Normalized().Dot(o.Normalized()))
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}
