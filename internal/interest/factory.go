package interest

import (
	"fmt"

	"github.com/annel0/netsync/internal/config"
)

// FromConfig стратегия по секции interest
func FromConfig(ic config.InterestConfig) (Strategy, error) {
	switch ic.Strategy {
	case "", "brute_force":
		return NewBruteForce(ic.VisibilityRadius), nil
	case "spatial_hash":
		return NewSpatialHash(ic.VisibilityRadius, ic.CellSize), nil
	case "always_visible":
		return AlwaysVisible{}, nil
	default:
		return nil, fmt.Errorf("interest: unknown strategy %q", ic.Strategy)
	}
}

// Name имя стратегии в терминах конфига
func Name(s Strategy) string {
	switch s.(type) {
	case *BruteForce:
		return "brute_force"
	case *SpatialHash:
		return "spatial_hash"
	case AlwaysVisible, *AlwaysVisible:
		return "always_visible"
	default:
		return fmt.Sprintf("%T", s)
	}
}
