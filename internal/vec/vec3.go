package vec

import "math"

// Vec3 представляет трехмерный вектор с плавающими координатами
type Vec3 struct {
	X float64
	Y float64
	Z float64
}

// Zero3 нулевой вектор
var Zero3 = Vec3{}

// One3 вектор из единиц (масштаб по умолчанию)
var One3 = Vec3{X: 1, Y: 1, Z: 1}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub вычитает вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Mul умножает вектор на скаляр
func (v Vec3) Mul(scalar float64) Vec3 {
	return Vec3{X: v.X * scalar, Y: v.Y * scalar, Z: v.Z * scalar}
}

// Length возвращает длину вектора
func (v Vec3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// DistanceTo возвращает евклидово расстояние до другой точки
func (v Vec3) DistanceTo(other Vec3) float64 {
	return math.Sqrt(v.DistanceSqTo(other))
}

// DistanceSqTo возвращает квадрат расстояния (без корня, для сравнений)
func (v Vec3) DistanceSqTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return dx*dx + dy*dy + dz*dz
}

// Clamp ограничивает каждую ось диапазоном [min, max]
func (v Vec3) Clamp(min, max Vec3) Vec3 {
	return Vec3{
		X: clamp(v.X, min.X, max.X),
		Y: clamp(v.Y, min.Y, max.Y),
		Z: clamp(v.Z, min.Z, max.Z),
	}
}

// Axis возвращает компоненту по индексу 0..2
func (v Vec3) Axis(i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// WithAxis возвращает копию с заменённой компонентой
func (v Vec3) WithAxis(i int, value float64) Vec3 {
	switch i {
	case 0:
		v.X = value
	case 1:
		v.Y = value
	default:
		v.Z = value
	}
	return v
}

// Equals проверяет точное равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// IsFinite сообщает, что все компоненты конечны
func (v Vec3) IsFinite() bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
