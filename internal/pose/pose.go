// Package pose parses declarative pose payloads into tween targets.
package pose

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"

	"github.com/normanking/cortexmotion/internal/rig"
	"github.com/normanking/cortexmotion/internal/tween"
)

var ErrInvalidPayload = errors.New("invalid pose payload")

const (
	DefaultDuration = 0.5

	maxEyeYaw   = 20 // degrees
	maxEyePitch = 15
)

// Rotation is an Euler offset from the rest pose, in degrees. Absent axes are
// left alone.
type Rotation struct {
	X *float64 `json:"x,omitempty" yaml:"x,omitempty"`
	Y *float64 `json:"y,omitempty" yaml:"y,omitempty"`
	Z *float64 `json:"z,omitempty" yaml:"z,omitempty"`
}

// LookAt is a gaze direction in [-1,1]; positive x looks to the avatar's
// right and positive y looks up.
type LookAt struct {
	X *float64 `json:"x,omitempty" yaml:"x,omitempty"`
	Y *float64 `json:"y,omitempty" yaml:"y,omitempty"`
}

type Shoulders struct {
	Left  *Rotation `json:"left,omitempty" yaml:"left,omitempty"`
	Right *Rotation `json:"right,omitempty" yaml:"right,omitempty"`
}

type Timing struct {
	Duration       *float64 `json:"duration,omitempty" yaml:"duration,omitempty"`
	Delay          *float64 `json:"delay,omitempty" yaml:"delay,omitempty"`
	Easing         *string  `json:"easing,omitempty" yaml:"easing,omitempty"`
	Repeat         *int     `json:"repeat,omitempty" yaml:"repeat,omitempty"`
	Yoyo           *bool    `json:"yoyo,omitempty" yaml:"yoyo,omitempty"`
	AutoRevert     *bool    `json:"autoRevert,omitempty" yaml:"autoRevert,omitempty"`
	RevertDelay    *float64 `json:"revertDelay,omitempty" yaml:"revertDelay,omitempty"`
	RevertDuration *float64 `json:"revertDuration,omitempty" yaml:"revertDuration,omitempty"`
}

// Payload is a declarative pose: grouped channel targets plus timing.
type Payload struct {
	Expressions map[string]float64  `json:"expressions,omitempty" yaml:"expressions,omitempty"`
	LookAt      *LookAt             `json:"lookAt,omitempty" yaml:"lookAt,omitempty"`
	Head        *Rotation           `json:"head,omitempty" yaml:"head,omitempty"`
	Arms        map[string]Rotation `json:"arms,omitempty" yaml:"arms,omitempty"`
	Spine       *Rotation           `json:"spine,omitempty" yaml:"spine,omitempty"`
	Shoulders   *Shoulders          `json:"shoulders,omitempty" yaml:"shoulders,omitempty"`
	Timing      *Timing             `json:"timing,omitempty" yaml:"timing,omitempty"`
}

// armBones are the bones accepted under "arms".
var armBones = map[string]bool{
	rig.BoneLeftUpperArm:  true,
	rig.BoneRightUpperArm: true,
	rig.BoneLeftLowerArm:  true,
	rig.BoneRightLowerArm: true,
	rig.BoneLeftHand:      true,
	rig.BoneRightHand:     true,
}

// Parse decodes a JSON object, or YAML when the document is not JSON, and
// validates it.
func Parse(data []byte) (*Payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return ParseJSON(trimmed)
	}
	return ParseYAML(trimmed)
}

func ParseJSON(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func ParseYAML(data []byte) (*Payload, error) {
	var p Payload
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks presence and types only. What the pose means is up to the
// caller.
func (p *Payload) Validate() error {
	if len(p.Expressions) == 0 && p.LookAt == nil && p.Head == nil &&
		len(p.Arms) == 0 && p.Spine == nil && p.Shoulders == nil {
		return fmt.Errorf("%w: no channel groups", ErrInvalidPayload)
	}

	for name, v := range p.Expressions {
		if name == "" {
			return fmt.Errorf("%w: empty expression name", ErrInvalidPayload)
		}
		if !finite(v) {
			return fmt.Errorf("%w: expression %q is not a number", ErrInvalidPayload, name)
		}
	}
	if p.LookAt != nil {
		if err := checkFinite("lookAt", p.LookAt.X, p.LookAt.Y); err != nil {
			return err
		}
	}
	for name, rot := range p.Arms {
		if !armBones[name] {
			return fmt.Errorf("%w: unknown arm bone %q", ErrInvalidPayload, name)
		}
		if err := rot.check("arms." + name); err != nil {
			return err
		}
	}
	for label, rot := range map[string]*Rotation{"head": p.Head, "spine": p.Spine} {
		if rot != nil {
			if err := rot.check(label); err != nil {
				return err
			}
		}
	}
	if p.Shoulders != nil {
		if p.Shoulders.Left != nil {
			if err := p.Shoulders.Left.check("shoulders.left"); err != nil {
				return err
			}
		}
		if p.Shoulders.Right != nil {
			if err := p.Shoulders.Right.check("shoulders.right"); err != nil {
				return err
			}
		}
	}

	if err := p.TweenTiming().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (r Rotation) check(label string) error {
	return checkFinite(label, r.X, r.Y, r.Z)
}

func checkFinite(label string, vals ...*float64) error {
	for _, v := range vals {
		if v != nil && !finite(*v) {
			return fmt.Errorf("%w: %s is not a number", ErrInvalidPayload, label)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// TweenTiming fills in defaults: half a second, ease-in-out, and a revert as
// long as the tween itself.
func (p *Payload) TweenTiming() tween.Timing {
	t := tween.Timing{Duration: DefaultDuration, Easing: tween.DefaultEasing}
	if p.Timing == nil {
		return t
	}
	pt := p.Timing
	if pt.Duration != nil {
		t.Duration = float32(*pt.Duration)
	}
	if pt.Delay != nil {
		t.Delay = float32(*pt.Delay)
	}
	if pt.Easing != nil {
		t.Easing = *pt.Easing
	}
	if pt.Repeat != nil {
		t.Repeat = *pt.Repeat
	}
	if pt.Yoyo != nil {
		t.Yoyo = *pt.Yoyo
	}
	if pt.AutoRevert != nil {
		t.AutoRevert = *pt.AutoRevert
	}
	if pt.RevertDelay != nil {
		t.RevertDelay = float32(*pt.RevertDelay)
	}
	t.RevertDuration = t.Duration
	if pt.RevertDuration != nil {
		t.RevertDuration = float32(*pt.RevertDuration)
	}
	return t
}

// Target maps the payload onto rig channels. Rotations are offsets from the
// rig's rest pose; channels the rig lacks are left out.
func (p *Payload) Target(r *rig.Rig) tween.Target {
	t := make(tween.Target)
	set := func(ch rig.Channel, v float32) {
		if r.Has(ch) {
			t[ch] = v
		}
	}
	rotate := func(bone string, rot *Rotation) {
		if rot == nil {
			return
		}
		for axis, v := range []*float64{rot.X, rot.Y, rot.Z} {
			if v == nil {
				continue
			}
			ch := rig.BoneRotation(bone, rig.Axis(axis))
			rest, ok := r.RestValue(ch)
			if !ok {
				continue
			}
			t[ch] = rest + mgl32.DegToRad(float32(*v))
		}
	}

	for name, v := range p.Expressions {
		set(rig.Expression(name), clamp01(float32(v)))
	}

	if p.LookAt != nil {
		p.gaze(r, set)
	}

	rotate(rig.BoneHead, p.Head)
	rotate(rig.BoneSpine, p.Spine)
	for bone, rot := range p.Arms {
		rotate(bone, &rot)
	}
	if p.Shoulders != nil {
		rotate(rig.BoneLeftShoulder, p.Shoulders.Left)
		rotate(rig.BoneRightShoulder, p.Shoulders.Right)
	}
	return t
}

// gaze drives the look expressions, the ARKit eye channels and the eye bones.
// The opposite direction is always zeroed so a new gaze fully replaces the old.
func (p *Payload) gaze(r *rig.Rig, set func(rig.Channel, float32)) {
	if p.LookAt.X != nil {
		x := clampSigned(float32(*p.LookAt.X))
		right, left := positive(x), positive(-x)
		set(rig.Expression(rig.ExprLookRight), right)
		set(rig.Expression(rig.ExprLookLeft), left)
		set(rig.Expression("eyeLookOutRight"), right*0.8)
		set(rig.Expression("eyeLookInLeft"), right*0.8)
		set(rig.Expression("eyeLookOutLeft"), left*0.8)
		set(rig.Expression("eyeLookInRight"), left*0.8)
		for _, eye := range []string{rig.BoneLeftEye, rig.BoneRightEye} {
			ch := rig.BoneRotation(eye, rig.AxisY)
			if rest, ok := r.RestValue(ch); ok {
				set(ch, rest-mgl32.DegToRad(maxEyeYaw*x))
			}
		}
	}
	if p.LookAt.Y != nil {
		y := clampSigned(float32(*p.LookAt.Y))
		up, down := positive(y), positive(-y)
		set(rig.Expression(rig.ExprLookUp), up)
		set(rig.Expression(rig.ExprLookDown), down)
		set(rig.Expression("eyeLookUpLeft"), up*0.6)
		set(rig.Expression("eyeLookUpRight"), up*0.6)
		set(rig.Expression("eyeLookDownLeft"), down*0.6)
		set(rig.Expression("eyeLookDownRight"), down*0.6)
		for _, eye := range []string{rig.BoneLeftEye, rig.BoneRightEye} {
			ch := rig.BoneRotation(eye, rig.AxisX)
			if rest, ok := r.RestValue(ch); ok {
				set(ch, rest-mgl32.DegToRad(maxEyePitch*y))
			}
		}
	}
}

// Compile validates p and returns its tween target and timing for r.
func Compile(r *rig.Rig, p *Payload) (tween.Target, tween.Timing, error) {
	if err := p.Validate(); err != nil {
		return nil, tween.Timing{}, err
	}
	return p.Target(r), p.TweenTiming(), nil
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampSigned(v float32) float32 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

func positive(v float32) float32 {
	if v < 0 {
		return 0
	}
	return v
}
