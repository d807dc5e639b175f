package playback

import (
	"math"

	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/preset"
)

// Action binds one clip to the mixer timeline with its own clock and weight.
type Action struct {
	Preset preset.Preset
	Clip   *clip.Clip
	Loop   bool

	time   float32
	weight float32

	fadeFrom    float32
	fadeTo      float32
	fadeDur     float32
	fadeElapsed float32
	fading      bool

	finished bool
}

func newAction(p preset.Preset, c *clip.Clip) *Action {
	return &Action{Preset: p, Clip: c, Loop: p.Loop}
}

// Time is the clip-local clock in seconds.
func (a *Action) Time() float32 { return a.time }

// Weight is the action's current influence in [0,1].
func (a *Action) Weight() float32 { return a.weight }

// Finished reports whether a single-shot clip reached its end.
func (a *Action) Finished() bool { return a.finished }

// FadingOut reports whether the action is ramping towards zero influence.
func (a *Action) FadingOut() bool { return a.fading && a.fadeTo == 0 }

func (a *Action) fade(to, seconds float32) {
	if seconds <= 0 {
		a.weight = to
		a.fading = false
		return
	}
	a.fadeFrom = a.weight
	a.fadeTo = to
	a.fadeDur = seconds
	a.fadeElapsed = 0
	a.fading = true
}

// advance moves the clock and fade by dt. It reports true on the tick a
// single-shot clip reaches its end.
func (a *Action) advance(dt float32) bool {
	if a.fading {
		a.fadeElapsed += dt
		f := a.fadeElapsed / a.fadeDur
		if f >= 1 {
			f = 1
			a.fading = false
		}
		a.weight = a.fadeFrom + (a.fadeTo-a.fadeFrom)*f
	}

	if a.finished {
		return false
	}
	a.time += dt
	dur := a.Clip.Duration
	if dur <= 0 {
		return false
	}
	if a.Loop {
		if a.time >= dur {
			a.time = float32(math.Mod(float64(a.time), float64(dur)))
		}
		return false
	}
	if a.time >= dur {
		// hold the last frame
		a.time = dur
		a.finished = true
		return true
	}
	return false
}

// spent reports whether the action has faded out completely.
func (a *Action) spent() bool {
	return !a.fading && a.weight <= 0
}

// ActionState is a read-only view of an action for callers and tests.
type ActionState struct {
	Preset   string
	Clip     string
	Time     float32
	Weight   float32
	Loop     bool
	Finished bool
	Current  bool
}
