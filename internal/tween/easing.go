package tween

import (
	"fmt"
	"math"
	"strings"
)

// Easing maps normalized time to normalized progress. Every easing returns
// exactly 0 at 0 and 1 at 1; bounce and elastic may leave [0,1] in between.
type Easing func(t float32) float32

const (
	EaseLinear    = "linear"
	EaseIn        = "easeIn"
	EaseOut       = "easeOut"
	EaseInOut     = "easeInOut"
	EaseBounce    = "bounce"
	EaseElastic   = "elastic"
	DefaultEasing = EaseInOut
)

var easings = map[string]Easing{
	"linear":    linear,
	"easein":    easeInCubic,
	"easeout":   easeOutCubic,
	"easeinout": easeInOutCubic,
	"bounce":    easeOutBounce,
	"elastic":   easeOutElastic,
}

// EasingNames lists the accepted easing names.
func EasingNames() []string {
	return []string{EaseLinear, EaseIn, EaseOut, EaseInOut, EaseBounce, EaseElastic}
}

func normalizeEasing(name string) string {
	return strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(name))
}

// ParseEasing looks up an easing by name. "ease-in-out", "ease_in_out" and
// "easeInOut" are the same easing. An empty name selects DefaultEasing.
func ParseEasing(name string) (Easing, error) {
	if name == "" {
		name = DefaultEasing
	}
	fn, ok := easings[normalizeEasing(name)]
	if !ok {
		return nil, fmt.Errorf("unknown easing %q", name)
	}
	return pinned(fn), nil
}

// ValidEasing reports whether name is accepted by ParseEasing.
func ValidEasing(name string) bool {
	if name == "" {
		return true
	}
	_, ok := easings[normalizeEasing(name)]
	return ok
}

func pinned(fn Easing) Easing {
	return func(t float32) float32 {
		if t <= 0 {
			return 0
		}
		if t >= 1 {
			return 1
		}
		return fn(t)
	}
}

func linear(t float32) float32 {
	return t
}

func easeInCubic(t float32) float32 {
	return t * t * t
}

func easeOutCubic(t float32) float32 {
	return 1 - pow3(1-t)
}

func easeInOutCubic(t float32) float32 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - pow3(-2*t+2)/2
}

func easeOutBounce(t float32) float32 {
	const n1 = 7.5625
	const d1 = 2.75

	switch {
	case t < 1/d1:
		return n1 * t * t
	case t < 2/d1:
		t -= 1.5 / d1
		return n1*t*t + 0.75
	case t < 2.5/d1:
		t -= 2.25 / d1
		return n1*t*t + 0.9375
	default:
		t -= 2.625 / d1
		return n1*t*t + 0.984375
	}
}

func easeOutElastic(t float32) float32 {
	const c4 = (2 * math.Pi) / 3
	return float32(math.Pow(2, -10*float64(t))*math.Sin((float64(t)*10-0.75)*c4)) + 1
}

func pow3(x float32) float32 {
	return x * x * x
}
