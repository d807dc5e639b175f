// Package playback cross-fades preset clips on a rig.
package playback

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexmotion/internal/bus"
	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/metrics"
	"github.com/normanking/cortexmotion/internal/preset"
	"github.com/normanking/cortexmotion/internal/rig"
)

type loadResult struct {
	seq    uint64
	preset preset.Preset
	fade   float32
	clip   *clip.Clip
	err    error
}

type pendingLoad struct {
	seq  uint64
	name string
}

// Options configures a Controller.
type Options struct {
	Avatar string
	Bus    *bus.EventBus
	Logger zerolog.Logger
}

// Controller owns the playback actions of one rig. Every method except the
// load goroutines it spawns must be called from the frame loop.
//
// A single-shot clip holds its last frame when it ends; the controller never
// returns to idle on its own.
type Controller struct {
	rig      *rig.Rig
	resolver *clip.Resolver
	avatar   string
	bus      *bus.EventBus
	logger   zerolog.Logger

	// oldest first; current, when set, is always present
	actions []*Action
	current *Action

	pending *pendingLoad
	seq     uint64
	results chan loadResult

	ctx    context.Context
	cancel context.CancelFunc

	channels []rig.Channel
}

func NewController(r *rig.Rig, resolver *clip.Resolver, opts Options) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		rig:      r,
		resolver: resolver,
		avatar:   opts.Avatar,
		bus:      opts.Bus,
		logger:   opts.Logger.With().Str("component", "playback").Str("avatar", opts.Avatar).Logger(),
		results:  make(chan loadResult, 8),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Play cross-fades to preset over fade seconds. Playing the current preset,
// or one already loading, does nothing. Clips that are not yet available are
// loaded in the background while the current clip keeps playing.
func (c *Controller) Play(name string, fade float32) error {
	p, err := preset.Lookup(name)
	if err != nil {
		return err
	}
	if fade < 0 {
		fade = 0
	}

	if c.current != nil && c.current.Preset.Name == name {
		// a later request for something else is abandoned
		c.pending = nil
		return nil
	}
	if c.pending != nil && c.pending.name == name {
		return nil
	}

	plan, err := c.resolver.Plan(p)
	if err != nil {
		return err
	}

	if cl, ok := c.resolver.Immediate(plan); ok {
		c.pending = nil
		c.start(p, cl, fade)
		return nil
	}

	c.seq++
	c.pending = &pendingLoad{seq: c.seq, name: name}
	c.logger.Debug().Str("preset", name).Str("asset", plan.Name).Msg("Loading clip in background")

	go func(seq uint64) {
		cl, err := c.resolver.Load(c.ctx, plan)
		select {
		case c.results <- loadResult{seq: seq, preset: p, fade: fade, clip: cl, err: err}:
		case <-c.ctx.Done():
		}
	}(c.seq)
	return nil
}

// ReturnToIdle plays the idle preset.
func (c *Controller) ReturnToIdle(fade float32) error {
	return c.Play(preset.Idle, fade)
}

// Stop fades the current clip out without a replacement.
func (c *Controller) Stop(fade float32) {
	c.pending = nil
	if c.current == nil {
		return
	}
	c.current.fade(0, fade)
	c.bus.Publish(bus.Event{Type: bus.EventTypeClipStopped, Data: map[string]any{
		"avatar": c.avatar,
		"preset": c.current.Preset.Name,
	}})
	c.current = nil
}

func (c *Controller) start(p preset.Preset, cl *clip.Clip, fade float32) {
	var next *Action
	for _, a := range c.actions {
		if a.Preset.Name == p.Name {
			next = a
			break
		}
	}

	if next == nil {
		next = newAction(p, cl)
		if c.current == nil && len(c.actions) == 0 {
			next.weight = 1
		} else {
			next.fade(1, fade)
		}
		c.actions = append(c.actions, next)
	} else {
		// still fading out; pick it back up where it is
		next.Clip = cl
		if next.finished {
			next.time = 0
			next.finished = false
		}
		next.fade(1, fade)
	}
	c.addChannels(cl)

	for _, a := range c.actions {
		if a != next {
			a.fade(0, fade)
		}
	}
	c.current = next
	metrics.CrossFades.Inc()

	c.logger.Debug().Str("preset", p.Name).Float32("fade", fade).Msg("Clip started")
	c.bus.Publish(bus.Event{Type: bus.EventTypeClipStarted, Data: map[string]any{
		"avatar": c.avatar,
		"preset": p.Name,
		"clip":   cl.Name,
		"loop":   next.Loop,
	}})
}

// Update applies finished loads, advances clocks and fades, and writes the
// blended pose into the rig.
func (c *Controller) Update(dt float32) {
	c.drainLoads()

	for _, a := range c.actions {
		if a.advance(dt) {
			c.bus.Publish(bus.Event{Type: bus.EventTypeClipFinished, Data: map[string]any{
				"avatar": c.avatar,
				"preset": a.Preset.Name,
			}})
		}
	}

	c.blend()
	c.prune()
}

func (c *Controller) drainLoads() {
	for {
		select {
		case res := <-c.results:
			c.applyLoad(res)
		default:
			return
		}
	}
}

func (c *Controller) applyLoad(res loadResult) {
	if c.pending == nil || c.pending.seq != res.seq {
		c.logger.Debug().Str("preset", res.preset.Name).Msg("Discarding superseded clip load")
		return
	}
	c.pending = nil

	if res.err != nil {
		c.logger.Warn().Err(res.err).Str("preset", res.preset.Name).Msg("Clip load failed, keeping current animation")
		c.bus.Publish(bus.Event{Type: bus.EventTypeClipLoadFailed, Data: map[string]any{
			"avatar": c.avatar,
			"preset": res.preset.Name,
			"error":  res.err.Error(),
		}})
		return
	}
	c.start(res.preset, res.clip, res.fade)
}

func (c *Controller) addChannels(cl *clip.Clip) {
	seen := make(map[rig.Channel]bool, len(c.channels))
	for _, ch := range c.channels {
		seen[ch] = true
	}
	for _, ch := range cl.Channels() {
		if !seen[ch] && c.rig.Has(ch) {
			seen[ch] = true
			c.channels = append(c.channels, ch)
		}
	}
	rig.SortChannels(c.channels)
}

// blend writes rest*(1-W) + sum(w*v) for every channel any action animates,
// where W is the total weight of the actions carrying that channel.
func (c *Controller) blend() {
	if len(c.actions) == 0 {
		return
	}
	for _, ch := range c.channels {
		var total, sum float32
		for _, a := range c.actions {
			tr, ok := a.Clip.Track(ch)
			if !ok || a.weight <= 0 {
				continue
			}
			total += a.weight
			sum += a.weight * tr.Sample(a.time)
		}
		if total > 1 {
			sum /= total
			total = 1
		}
		rest, ok := c.rig.RestValue(ch)
		if !ok {
			continue
		}
		c.rig.Write(ch, rest*(1-total)+sum)
	}
}

// prune drops actions that have faded out. It runs after blend so their
// channels are written back to rest once.
func (c *Controller) prune() {
	kept := c.actions[:0]
	removed := false
	for _, a := range c.actions {
		if a != c.current && a.spent() {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	for i := len(kept); i < len(c.actions); i++ {
		c.actions[i] = nil
	}
	c.actions = kept

	if removed {
		c.channels = c.channels[:0]
		for _, a := range c.actions {
			c.addChannels(a.Clip)
		}
	}
}

// Current returns the current preset name, or "" when nothing is playing.
func (c *Controller) Current() string {
	if c.current == nil {
		return ""
	}
	return c.current.Preset.Name
}

// CurrentAction returns the current action, or nil.
func (c *Controller) CurrentAction() *Action {
	return c.current
}

// Pending returns the preset waiting on a background load.
func (c *Controller) Pending() (string, bool) {
	if c.pending == nil {
		return "", false
	}
	return c.pending.name, true
}

// Actions snapshots every live action, oldest first.
func (c *Controller) Actions() []ActionState {
	out := make([]ActionState, len(c.actions))
	for i, a := range c.actions {
		out[i] = ActionState{
			Preset:   a.Preset.Name,
			Clip:     a.Clip.Name,
			Time:     a.time,
			Weight:   a.weight,
			Loop:     a.Loop,
			Finished: a.finished,
			Current:  a == c.current,
		}
	}
	return out
}

// Influence returns the weight of the live action for name, or 0.
func (c *Controller) Influence(name string) float32 {
	var w float32
	for _, a := range c.actions {
		if a.Preset.Name == name {
			w += a.weight
		}
	}
	return w
}

// Dispose cancels background loads and drops every action. Loads that finish
// afterwards are discarded.
func (c *Controller) Dispose() {
	c.cancel()
	c.pending = nil
	c.actions = nil
	c.current = nil
	c.channels = nil
}
