package clip

import (
	"context"
	"errors"
	"fmt"

	"github.com/normanking/cortexmotion/internal/preset"
	"github.com/normanking/cortexmotion/internal/rig"
)

var ErrNoSource = errors.New("no clip source for preset")

// Strategy names one way of obtaining a clip.
type Strategy string

const (
	StrategyAsset   Strategy = "asset"
	StrategyFactory Strategy = "factory"
)

// DefaultStrategies prefers authored assets and falls back to the factory.
var DefaultStrategies = []Strategy{StrategyAsset, StrategyFactory}

// ParseStrategies validates a configured strategy order.
func ParseStrategies(names []string) ([]Strategy, error) {
	if len(names) == 0 {
		return DefaultStrategies, nil
	}
	out := make([]Strategy, 0, len(names))
	seen := make(map[Strategy]bool)
	for _, n := range names {
		s := Strategy(n)
		if s != StrategyAsset && s != StrategyFactory {
			return nil, fmt.Errorf("unknown clip strategy %q", n)
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

// AssetSource is the authored-clip loader as seen by the resolver.
type AssetSource interface {
	Resolve(requested string) string
	HasAsset(name string) bool
	Cached(name string) (*Clip, bool)
	Load(ctx context.Context, name string) (*Clip, error)
}

// Plan says how a preset's clip will be obtained. Name is the asset name for
// asset plans, which may be a substitute for the requested preset.
type Plan struct {
	Strategy Strategy
	Preset   preset.Preset
	Name     string
}

// Resolver is the single place that decides where a preset's clip comes from.
type Resolver struct {
	rig        *rig.Rig
	assets     AssetSource
	strategies []Strategy
}

// NewResolver binds a rig to an optional asset source. A nil assets source
// disables the asset strategy.
func NewResolver(r *rig.Rig, assets AssetSource, strategies []Strategy) *Resolver {
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	return &Resolver{rig: r, assets: assets, strategies: strategies}
}

// Strategies returns the configured order.
func (r *Resolver) Strategies() []Strategy {
	out := make([]Strategy, len(r.strategies))
	copy(out, r.strategies)
	return out
}

// Plan picks the first strategy able to serve p. An asset strategy serves a
// preset directly when its own asset exists; a substitute asset is only used
// when no later strategy can synthesize the preset itself.
func (r *Resolver) Plan(p preset.Preset) (Plan, error) {
	for i, s := range r.strategies {
		switch s {
		case StrategyAsset:
			if r.assets == nil {
				continue
			}
			resolved := r.assets.Resolve(p.Name)
			if !r.assets.HasAsset(resolved) {
				continue
			}
			if resolved == p.Name || !r.factoryAfter(i, p.Name) {
				return Plan{Strategy: StrategyAsset, Preset: p, Name: resolved}, nil
			}
		case StrategyFactory:
			if HasRecipe(p.Name) {
				return Plan{Strategy: StrategyFactory, Preset: p, Name: p.Name}, nil
			}
		}
	}
	return Plan{}, fmt.Errorf("%w: %q", ErrNoSource, p.Name)
}

func (r *Resolver) factoryAfter(i int, name string) bool {
	for _, s := range r.strategies[i+1:] {
		if s == StrategyFactory && HasRecipe(name) {
			return true
		}
	}
	return false
}

// Immediate returns the clip for a plan when it is available without waiting:
// factory plans always are, asset plans only once cached.
func (r *Resolver) Immediate(plan Plan) (*Clip, bool) {
	switch plan.Strategy {
	case StrategyFactory:
		return Generate(r.rig, plan.Preset), true
	case StrategyAsset:
		if r.assets == nil {
			return nil, false
		}
		return r.assets.Cached(plan.Name)
	}
	return nil, false
}

// Load fetches the clip for an asset plan. Factory plans return immediately.
func (r *Resolver) Load(ctx context.Context, plan Plan) (*Clip, error) {
	if c, ok := r.Immediate(plan); ok {
		return c, nil
	}
	if plan.Strategy != StrategyAsset || r.assets == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoSource, plan.Preset.Name)
	}
	return r.assets.Load(ctx, plan.Name)
}
