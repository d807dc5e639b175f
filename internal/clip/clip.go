// Package clip holds keyframed motion clips, the procedural clip factory and
// the resolver that decides where a preset's clip comes from.
package clip

import (
	"fmt"
	"sort"

	"github.com/normanking/cortexmotion/internal/rig"
)

// Track is a scalar keyframe curve for one rig channel. Times are seconds and
// strictly increasing.
type Track struct {
	Channel rig.Channel
	Times   []float32
	Values  []float32
}

// Sample interpolates linearly between keys, holding the first and last
// values outside the keyed range.
func (t *Track) Sample(at float32) float32 {
	n := len(t.Times)
	if n == 0 {
		return 0
	}
	if at <= t.Times[0] {
		return t.Values[0]
	}
	if at >= t.Times[n-1] {
		return t.Values[n-1]
	}

	// first key strictly after at
	i := sort.Search(n, func(i int) bool { return t.Times[i] > at })
	t0, t1 := t.Times[i-1], t.Times[i]
	span := t1 - t0
	if span <= 0 {
		return t.Values[i]
	}
	f := (at - t0) / span
	return lerp(t.Values[i-1], t.Values[i], f)
}

// Validate checks the key layout.
func (t *Track) Validate() error {
	if len(t.Times) == 0 {
		return fmt.Errorf("track %s has no keys", t.Channel)
	}
	if len(t.Times) != len(t.Values) {
		return fmt.Errorf("track %s has %d times but %d values", t.Channel, len(t.Times), len(t.Values))
	}
	for i := 1; i < len(t.Times); i++ {
		if t.Times[i] <= t.Times[i-1] {
			return fmt.Errorf("track %s key times not increasing at %d", t.Channel, i)
		}
	}
	return nil
}

// Clip is a named set of tracks played over Duration seconds.
type Clip struct {
	Name     string
	Duration float32
	Loop     bool
	Tracks   []Track
}

// Channels lists every channel the clip animates.
func (c *Clip) Channels() []rig.Channel {
	out := make([]rig.Channel, len(c.Tracks))
	for i := range c.Tracks {
		out[i] = c.Tracks[i].Channel
	}
	return out
}

// Track returns the track for ch, if the clip animates it.
func (c *Clip) Track(ch rig.Channel) (*Track, bool) {
	for i := range c.Tracks {
		if c.Tracks[i].Channel == ch {
			return &c.Tracks[i], true
		}
	}
	return nil, false
}

// Sample evaluates every track at clip-local time at and calls fn with the
// results in track order.
func (c *Clip) Sample(at float32, fn func(ch rig.Channel, v float32)) {
	for i := range c.Tracks {
		fn(c.Tracks[i].Channel, c.Tracks[i].Sample(at))
	}
}

// Validate checks every track and that keys fall inside the clip duration.
func (c *Clip) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("clip %q has non-positive duration", c.Name)
	}
	for i := range c.Tracks {
		if err := c.Tracks[i].Validate(); err != nil {
			return fmt.Errorf("clip %q: %w", c.Name, err)
		}
	}
	return nil
}

// Retarget drops tracks for channels the rig does not have.
func (c *Clip) Retarget(r *rig.Rig) *Clip {
	out := &Clip{Name: c.Name, Duration: c.Duration, Loop: c.Loop}
	for _, tr := range c.Tracks {
		if r.Has(tr.Channel) {
			out.Tracks = append(out.Tracks, tr)
		}
	}
	return out
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}
