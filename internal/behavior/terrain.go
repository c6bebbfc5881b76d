package behavior

import (
	"github.com/aquilax/go-perlin"
)

// Terrain высота поверхности в точке (x, z)
type Terrain interface {
	Height(x, z float64) float64
}

// PerlinTerrain холмы из шума Перлина. Сервер и боты с одинаковым seed получают одну и ту же поверхность.
type PerlinTerrain struct {
	noise     *perlin.Perlin
	scale     float64
	amplitude float64
}

// NewPerlinTerrain scale: размер холма в единицах мира, amplitude: максимальная высота над нулём
func NewPerlinTerrain(seed int64, scale, amplitude float64) *PerlinTerrain {
	if scale <= 0 {
		scale = 50
	}
	// alpha, beta и число октав как у генератора мира
	return &PerlinTerrain{
		noise:     perlin.NewPerlin(2, 2, 3, seed),
		scale:     scale,
		amplitude: amplitude,
	}
}

// Height в диапазоне [0, amplitude]
func (t *PerlinTerrain) Height(x, z float64) float64 {
	n := t.noise.Noise2D(x/t.scale, z/t.scale) // примерно -1..1
	h := (n + 1) / 2
	if h < 0 {
		h = 0
	} else if h > 1 {
		h = 1
	}
	return h * t.amplitude
}
