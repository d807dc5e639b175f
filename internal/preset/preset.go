// Package preset is the closed registry of animation presets the engine
// accepts. Names outside the registry are rejected before they reach a mixer.
package preset

import (
	"errors"
	"fmt"
	"sort"
)

var ErrInvalidPreset = errors.New("invalid animation preset")

// Preset is static playback configuration for one named animation.
type Preset struct {
	Name        string
	Duration    float32 // seconds
	Loop        bool
	Description string
}

const (
	Idle      = "idle"
	Talking   = "talking"
	Thinking  = "thinking"
	Listening = "listening"
	Happy     = "happy"
	Sad       = "sad"
	Surprised = "surprised"
	Wave      = "wave"
	Nod       = "nod"
	ShakeHead = "shake_head"
	Shrug     = "shrug"
	Bow       = "bow"
	Celebrate = "celebrate"
)

var registry = map[string]Preset{
	Idle:      {Name: Idle, Duration: 4.0, Loop: true, Description: "Relaxed breathing and slight sway"},
	Talking:   {Name: Talking, Duration: 2.0, Loop: true, Description: "Conversational head and hand movement"},
	Thinking:  {Name: Thinking, Duration: 3.0, Loop: true, Description: "Head tilt with gaze up and to the side"},
	Listening: {Name: Listening, Duration: 3.0, Loop: true, Description: "Attentive lean with occasional small nods"},
	Happy:     {Name: Happy, Duration: 2.0, Loop: false, Description: "Smile with a lifted chest"},
	Sad:       {Name: Sad, Duration: 2.5, Loop: false, Description: "Lowered head and drooping shoulders"},
	Surprised: {Name: Surprised, Duration: 1.5, Loop: false, Description: "Quick recoil with raised brows"},
	Wave:      {Name: Wave, Duration: 2.0, Loop: false, Description: "Right hand raised and waved"},
	Nod:       {Name: Nod, Duration: 1.0, Loop: false, Description: "Affirmative head nod"},
	ShakeHead: {Name: ShakeHead, Duration: 1.2, Loop: false, Description: "Negative head shake"},
	Shrug:     {Name: Shrug, Duration: 1.5, Loop: false, Description: "Shoulders raised with open palms"},
	Bow:       {Name: Bow, Duration: 2.0, Loop: false, Description: "Polite forward bow from the hips"},
	Celebrate: {Name: Celebrate, Duration: 2.5, Loop: false, Description: "Both arms thrown up in joy"},
}

// Lookup returns the preset registered under name.
func Lookup(name string) (Preset, error) {
	p, ok := registry[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrInvalidPreset, name)
	}
	return p, nil
}

// Valid reports whether name is a registered preset.
func Valid(name string) bool {
	_, ok := registry[name]
	return ok
}

// Names returns every registered preset name, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns every registered preset, sorted by name.
func All() []Preset {
	names := Names()
	out := make([]Preset, len(names))
	for i, n := range names {
		out[i] = registry[n]
	}
	return out
}
