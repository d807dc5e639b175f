// Package tween interpolates rig channels towards declarative targets with
// easing, delay, repeat, yoyo and auto-revert.
package tween

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexmotion/internal/bus"
	"github.com/normanking/cortexmotion/internal/metrics"
	"github.com/normanking/cortexmotion/internal/rig"
)

// MaxRepeat is the largest pass count a tween accepts.
const MaxRepeat = 1 << 30

// maxPassesPerTick bounds how many whole passes one Update may run through;
// time beyond that is dropped.
const maxPassesPerTick = 64

var (
	ErrNoChannels    = errors.New("tween target has no channels on this rig")
	ErrInvalidTiming = errors.New("invalid tween timing")
)

// Target is the value each channel should reach. Bone rotations are radians.
type Target map[rig.Channel]float32

// Timing controls how a tween runs. Times are seconds. Repeat is the total
// number of passes; zero means one.
type Timing struct {
	Duration       float32
	Delay          float32
	Easing         string
	Repeat         int
	Yoyo           bool
	AutoRevert     bool
	RevertDelay    float32
	RevertDuration float32
}

// Validate rejects negative values, oversized repeats and unknown easings.
func (t Timing) Validate() error {
	switch {
	case t.Duration < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalidTiming)
	case t.Delay < 0:
		return fmt.Errorf("%w: negative delay", ErrInvalidTiming)
	case t.Repeat < 0:
		return fmt.Errorf("%w: negative repeat", ErrInvalidTiming)
	case t.Repeat > MaxRepeat:
		return fmt.Errorf("%w: repeat %d exceeds %d", ErrInvalidTiming, t.Repeat, MaxRepeat)
	case t.RevertDelay < 0:
		return fmt.Errorf("%w: negative revert delay", ErrInvalidTiming)
	case t.RevertDuration < 0:
		return fmt.Errorf("%w: negative revert duration", ErrInvalidTiming)
	case !ValidEasing(t.Easing):
		return fmt.Errorf("%w: unknown easing %q", ErrInvalidTiming, t.Easing)
	}
	return nil
}

func (t Timing) passes() int {
	if t.Repeat < 1 {
		return 1
	}
	return t.Repeat
}

type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateReverting
	StateRevertCompleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateReverting:
		return "reverting"
	case StateRevertCompleted:
		return "revert_completed"
	}
	return "unknown"
}

type instance struct {
	id       string
	channels []rig.Channel
	target   Target
	baseline map[rig.Channel]float32
	timing   Timing
	ease     Easing

	state      State
	elapsed    float32
	pass       int
	reverse    bool
	revertFrom map[rig.Channel]float32
	onComplete func()
	stopped    bool
}

// Options configures a Scheduler.
type Options struct {
	Avatar string
	Bus    *bus.EventBus
	Logger zerolog.Logger
}

// Scheduler runs pose tweens on one rig. It must only be used from the frame
// loop.
//
// Instances run in start order. When two touch the same channel in one tick,
// the later one's write is what the rig keeps.
type Scheduler struct {
	rig    *rig.Rig
	avatar string
	bus    *bus.EventBus
	logger zerolog.Logger

	instances []*instance
	byID      map[string]*instance
}

func NewScheduler(r *rig.Rig, opts Options) *Scheduler {
	return &Scheduler{
		rig:    r,
		avatar: opts.Avatar,
		bus:    opts.Bus,
		logger: opts.Logger.With().Str("component", "tween").Str("avatar", opts.Avatar).Logger(),
		byID:   make(map[string]*instance),
	}
}

// Start captures the live value of every targeted channel as the baseline and
// schedules the tween to begin after timing.Delay. Channels the rig lacks are
// skipped. A zero-duration tween with no delay is applied before Start returns.
func (s *Scheduler) Start(target Target, timing Timing, onComplete func()) (string, error) {
	if err := timing.Validate(); err != nil {
		return "", err
	}
	ease, err := ParseEasing(timing.Easing)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTiming, err)
	}

	channels := make([]rig.Channel, 0, len(target))
	for ch := range target {
		if s.rig.Has(ch) {
			channels = append(channels, ch)
		} else {
			s.logger.Debug().Str("channel", ch.String()).Msg("Skipping missing tween channel")
		}
	}
	if len(channels) == 0 {
		return "", ErrNoChannels
	}
	rig.SortChannels(channels)

	inst := &instance{
		id:         uuid.NewString(),
		channels:   channels,
		target:     make(Target, len(channels)),
		baseline:   s.rig.Snapshot(channels),
		timing:     timing,
		ease:       ease,
		state:      StatePending,
		onComplete: onComplete,
	}
	for _, ch := range channels {
		inst.target[ch] = target[ch]
	}

	s.instances = append(s.instances, inst)
	s.byID[inst.id] = inst
	metrics.ActiveTweens.Inc()

	if timing.Delay == 0 {
		s.advance(inst, 0)
		s.sweep()
	}
	return inst.id, nil
}

// Update advances every instance by dt seconds.
func (s *Scheduler) Update(dt float32) {
	if len(s.instances) == 0 {
		return
	}
	// callbacks may start or stop tweens
	batch := make([]*instance, len(s.instances))
	copy(batch, s.instances)
	for _, inst := range batch {
		if inst.stopped {
			continue
		}
		s.advance(inst, dt)
	}
	s.sweep()
}

func (s *Scheduler) advance(inst *instance, dt float32) {
	remaining := dt
	passes := 0
	for {
		switch inst.state {
		case StatePending:
			inst.elapsed += remaining
			if inst.elapsed < inst.timing.Delay {
				return
			}
			remaining = inst.elapsed - inst.timing.Delay
			inst.elapsed = 0
			inst.state = StateRunning

		case StateRunning:
			dur := inst.timing.Duration
			if dur <= 0 {
				// instant passes: only the last one's end value is visible
				left := inst.timing.passes() - inst.pass
				if inst.timing.Yoyo && left%2 == 0 {
					inst.reverse = !inst.reverse
				}
				s.apply(inst, 1)
				inst.pass = inst.timing.passes()
				inst.elapsed = 0
				s.complete(inst)
				if !inst.timing.AutoRevert {
					return
				}
				continue
			}

			inst.elapsed += remaining
			if inst.elapsed < dur {
				s.apply(inst, inst.elapsed/dur)
				return
			}
			remaining = inst.elapsed - dur
			s.apply(inst, 1)

			inst.pass++
			inst.elapsed = 0
			passes++
			if inst.pass < inst.timing.passes() {
				if inst.timing.Yoyo {
					inst.reverse = !inst.reverse
				}
				if passes >= maxPassesPerTick {
					remaining = 0
				}
				if remaining <= 0 {
					// hold the pass's end value until time moves on
					return
				}
				continue
			}
			s.complete(inst)
			if !inst.timing.AutoRevert {
				return
			}

		case StateCompleted:
			inst.elapsed += remaining
			if inst.elapsed < inst.timing.RevertDelay {
				return
			}
			remaining = inst.elapsed - inst.timing.RevertDelay
			inst.elapsed = 0
			inst.revertFrom = s.rig.Snapshot(inst.channels)
			inst.state = StateReverting

		case StateReverting:
			rd := inst.timing.RevertDuration
			if rd > 0 {
				inst.elapsed += remaining
				if inst.elapsed < rd {
					s.applyRevert(inst, easeOutCubic(inst.elapsed/rd))
					return
				}
			}
			s.applyRevert(inst, 1)
			inst.state = StateRevertCompleted
			s.bus.Publish(bus.Event{Type: bus.EventTypeTweenReverted, Data: map[string]any{
				"avatar": s.avatar,
				"id":     inst.id,
			}})
			return

		default:
			return
		}
	}
}

func (s *Scheduler) apply(inst *instance, progress float32) {
	e := inst.ease(progress)
	if inst.reverse {
		e = 1 - e
	}
	for _, ch := range inst.channels {
		from := inst.baseline[ch]
		s.rig.Write(ch, from+(inst.target[ch]-from)*e)
	}
}

func (s *Scheduler) applyRevert(inst *instance, f float32) {
	for _, ch := range inst.channels {
		if f >= 1 {
			s.rig.Write(ch, inst.baseline[ch])
			continue
		}
		from := inst.revertFrom[ch]
		s.rig.Write(ch, from+(inst.baseline[ch]-from)*f)
	}
}

func (s *Scheduler) complete(inst *instance) {
	inst.state = StateCompleted
	s.logger.Debug().Str("id", inst.id).Bool("autoRevert", inst.timing.AutoRevert).Msg("Tween completed")
	s.bus.Publish(bus.Event{Type: bus.EventTypeTweenCompleted, Data: map[string]any{
		"avatar": s.avatar,
		"id":     inst.id,
	}})
	if inst.onComplete != nil {
		inst.onComplete()
	}
}

// sweep removes finished and stopped instances.
func (s *Scheduler) sweep() {
	kept := s.instances[:0]
	for _, inst := range s.instances {
		done := inst.stopped ||
			inst.state == StateRevertCompleted ||
			(inst.state == StateCompleted && !inst.timing.AutoRevert)
		if done {
			delete(s.byID, inst.id)
			metrics.ActiveTweens.Dec()
			continue
		}
		kept = append(kept, inst)
	}
	for i := len(kept); i < len(s.instances); i++ {
		s.instances[i] = nil
	}
	s.instances = kept
}

// Stop removes a tween, leaving channels at their current values. It reports
// whether the id was active.
func (s *Scheduler) Stop(id string) bool {
	inst, ok := s.byID[id]
	if !ok || inst.stopped {
		return false
	}
	inst.stopped = true
	s.sweep()
	return true
}

// StopAll removes every tween without restoring values.
func (s *Scheduler) StopAll() {
	for _, inst := range s.instances {
		inst.stopped = true
	}
	s.sweep()
}

// State reports the phase of an active tween.
func (s *Scheduler) State(id string) (State, bool) {
	inst, ok := s.byID[id]
	if !ok {
		return 0, false
	}
	return inst.state, true
}

// Active returns the ids of live tweens in processing order.
func (s *Scheduler) Active() []string {
	out := make([]string, len(s.instances))
	for i, inst := range s.instances {
		out[i] = inst.id
	}
	return out
}

func (s *Scheduler) Len() int {
	return len(s.instances)
}
