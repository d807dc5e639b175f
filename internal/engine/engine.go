// Package engine owns every loaded avatar and advances all of their motion
// layers from a single per-frame update.
package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexmotion/internal/bus"
	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/clip/asset"
	"github.com/normanking/cortexmotion/internal/lipsync"
	"github.com/normanking/cortexmotion/internal/metrics"
	"github.com/normanking/cortexmotion/internal/playback"
	"github.com/normanking/cortexmotion/internal/rig"
	"github.com/normanking/cortexmotion/internal/tween"
)

var (
	ErrUnknownAvatar = errors.New("unknown avatar")
	ErrDuplicateName = errors.New("avatar name already in use")
	ErrQueueFull     = errors.New("avatar command queue full")
)

// Handle addresses an avatar slot. A handle outlives its avatar safely: once
// the slot is reused the generation no longer matches.
type Handle struct {
	Index uint32
	Gen   uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.Index, h.Gen)
}

type Config struct {
	// MaxDelta caps a single step so a stalled frame doesn't teleport clips.
	MaxDelta    float32
	FrameBudget time.Duration
	QueueSize   int
	Strategies  []clip.Strategy
	LipSync     lipsync.Config
}

func DefaultConfig() Config {
	return Config{
		MaxDelta:    0.1,
		FrameBudget: time.Second / 60,
		QueueSize:   64,
		Strategies:  clip.DefaultStrategies,
		LipSync:     lipsync.DefaultConfig(),
	}
}

// AvatarOptions describes an avatar to add. Manifest is optional; without it
// every clip comes from the factory.
type AvatarOptions struct {
	Name     string
	Rig      *rig.Rig
	Manifest *asset.Manifest
	Fetcher  asset.Fetcher
	// Watch evicts cached clips when their local asset files change.
	Watch bool
}

type slot struct {
	gen    uint32
	avatar *Avatar
}

// Engine is the arena of avatars. Add, Remove, Update and Close belong to the
// frame loop goroutine; Submit and Lookup may be called from anywhere.
type Engine struct {
	cfg    Config
	bus    *bus.EventBus
	base   zerolog.Logger
	logger zerolog.Logger

	mu    sync.RWMutex
	slots []slot
	free  []uint32
	names map[string]Handle
}

func New(cfg Config, eventBus *bus.EventBus, logger zerolog.Logger) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.MaxDelta <= 0 {
		cfg.MaxDelta = DefaultConfig().MaxDelta
	}
	return &Engine{
		cfg:    cfg,
		bus:    eventBus,
		base:   logger,
		logger: logger.With().Str("component", "engine").Logger(),
		names:  make(map[string]Handle),
	}
}

// Add builds the per-avatar context: asset loader, resolver, playback
// controller, tween scheduler and lip-sync analyzer, all bound to opts.Rig.
func (e *Engine) Add(opts AvatarOptions) (Handle, error) {
	if opts.Rig == nil {
		return Handle{}, errors.New("avatar needs a rig")
	}
	if opts.Name == "" {
		return Handle{}, errors.New("avatar needs a name")
	}

	e.mu.RLock()
	_, taken := e.names[opts.Name]
	e.mu.RUnlock()
	if taken {
		return Handle{}, fmt.Errorf("%w: %q", ErrDuplicateName, opts.Name)
	}

	a, err := e.newAvatar(opts)
	if err != nil {
		return Handle{}, err
	}

	e.mu.Lock()
	var h Handle
	if n := len(e.free); n > 0 {
		h.Index = e.free[n-1]
		e.free = e.free[:n-1]
		h.Gen = e.slots[h.Index].gen
	} else {
		h.Index = uint32(len(e.slots))
		e.slots = append(e.slots, slot{})
	}
	a.handle = h
	e.slots[h.Index].avatar = a
	e.names[opts.Name] = h
	count := len(e.names)
	e.mu.Unlock()

	metrics.Avatars.Set(float64(count))
	e.logger.Info().Str("avatar", opts.Name).Str("handle", h.String()).
		Int("bones", len(opts.Rig.Bones())).Int("expressions", len(opts.Rig.Expressions())).
		Msg("Avatar added")
	e.bus.Publish(bus.Event{Type: bus.EventTypeAvatarAdded, Data: map[string]any{
		"avatar": opts.Name,
		"handle": h.String(),
	}})
	return h, nil
}

func (e *Engine) newAvatar(opts AvatarOptions) (*Avatar, error) {
	logger := e.base.With().Str("avatar", opts.Name).Logger()

	a := &Avatar{
		name:   opts.Name,
		rig:    opts.Rig,
		limit:  e.cfg.QueueSize,
		logger: e.logger.With().Str("avatar", opts.Name).Logger(),
	}

	var assets clip.AssetSource
	if opts.Manifest != nil {
		a.loader = asset.NewLoader(opts.Manifest, opts.Rig, opts.Fetcher, logger)
		assets = a.loader
		if opts.Watch {
			w, err := asset.NewWatcher(a.loader, logger, func(names []string) {
				e.bus.Publish(bus.Event{Type: bus.EventTypeClipEvicted, Data: map[string]any{
					"avatar":  opts.Name,
					"presets": names,
				}})
			})
			if err != nil {
				// hot reload is a convenience; the avatar still works without it
				logger.Warn().Err(err).Msg("Asset watcher unavailable")
			} else {
				a.watcher = w
			}
		}
	}

	resolver := clip.NewResolver(opts.Rig, assets, e.cfg.Strategies)
	a.playback = playback.NewController(opts.Rig, resolver, playback.Options{Avatar: opts.Name, Bus: e.bus, Logger: e.base})
	a.tweens = tween.NewScheduler(opts.Rig, tween.Options{Avatar: opts.Name, Bus: e.bus, Logger: e.base})

	lips, err := lipsync.New(opts.Rig, e.cfg.LipSync, lipsync.Options{Avatar: opts.Name, Bus: e.bus, Logger: e.base})
	if err != nil {
		a.dispose()
		return nil, fmt.Errorf("lip sync config: %w", err)
	}
	a.lipsync = lips
	return a, nil
}

func (e *Engine) get(h Handle) (*Avatar, bool) {
	if int(h.Index) >= len(e.slots) {
		return nil, false
	}
	s := e.slots[h.Index]
	if s.avatar == nil || s.gen != h.Gen {
		return nil, false
	}
	return s.avatar, true
}

// Avatar returns the live avatar behind h.
func (e *Engine) Avatar(h Handle) (*Avatar, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.get(h)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAvatar, h)
	}
	return a, nil
}

// Lookup finds an avatar by name.
func (e *Engine) Lookup(name string) (Handle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.names[name]
	return h, ok
}

// Handles lists live avatars in arena order.
func (e *Engine) Handles() []Handle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Handle, 0, len(e.names))
	for i, s := range e.slots {
		if s.avatar != nil {
			out = append(out, Handle{Index: uint32(i), Gen: s.gen})
		}
	}
	return out
}

func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.names)
}

// Remove disposes an avatar: in-flight asset loads are cancelled and their
// results discarded, lip sync is released and the slot's generation bumped.
func (e *Engine) Remove(h Handle) error {
	e.mu.Lock()
	a, ok := e.get(h)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAvatar, h)
	}
	e.slots[h.Index].avatar = nil
	e.slots[h.Index].gen++
	e.free = append(e.free, h.Index)
	delete(e.names, a.name)
	count := len(e.names)
	e.mu.Unlock()

	a.dispose()
	metrics.Avatars.Set(float64(count))
	e.logger.Info().Str("avatar", a.name).Str("handle", h.String()).Msg("Avatar removed")
	e.bus.Publish(bus.Event{Type: bus.EventTypeAvatarRemoved, Data: map[string]any{
		"avatar": a.name,
		"handle": h.String(),
	}})
	return nil
}

// Submit validates cmd and queues it for h's next update. Rejected commands
// never reach the avatar.
func (e *Engine) Submit(h Handle, cmd Command) error {
	err := cmd.Validate()
	if err == nil {
		e.mu.RLock()
		a, ok := e.get(h)
		e.mu.RUnlock()
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownAvatar, h)
		} else {
			err = a.enqueue(cmd)
		}
	}
	if err != nil {
		metrics.CommandsRejected.WithLabelValues(rejectReason(err)).Inc()
		e.logger.Debug().Err(err).Str("handle", h.String()).Str("type", string(cmd.Type)).Msg("Command rejected")
		e.bus.Publish(bus.Event{Type: bus.EventTypeCommandRejected, Data: map[string]any{
			"handle": h.String(),
			"type":   string(cmd.Type),
			"error":  err.Error(),
		}})
		return err
	}
	metrics.Commands.WithLabelValues(string(cmd.Type)).Inc()
	return nil
}

// Update advances every avatar by dt seconds. For each avatar, in arena
// order: queued commands, clip playback, pose tweens, then lip sync. Later
// layers win on channels they share with earlier ones.
func (e *Engine) Update(dt float32) {
	start := time.Now()

	if dt < 0 || math.IsNaN(float64(dt)) {
		dt = 0
	}
	if dt > e.cfg.MaxDelta {
		dt = e.cfg.MaxDelta
	}

	e.mu.RLock()
	live := make([]*Avatar, 0, len(e.names))
	for _, s := range e.slots {
		if s.avatar != nil {
			live = append(live, s.avatar)
		}
	}
	e.mu.RUnlock()

	for _, a := range live {
		a.update(dt)
	}

	elapsed := time.Since(start)
	metrics.FrameDuration.Observe(elapsed.Seconds())
	if e.cfg.FrameBudget > 0 && elapsed > e.cfg.FrameBudget {
		metrics.FrameOverruns.Inc()
		e.logger.Debug().Dur("elapsed", elapsed).Dur("budget", e.cfg.FrameBudget).Msg("Frame over budget")
	}
}

// Close removes every avatar.
func (e *Engine) Close() {
	for _, h := range e.Handles() {
		_ = e.Remove(h)
	}
}
