// Package rig holds the mutable humanoid skeleton and expression channels
// that every motion layer writes into.
package rig

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

var ErrMissingChannel = errors.New("rig has no such channel")

type Bone struct {
	Name     string
	Rotation mgl32.Vec3 // Euler XYZ, radians

	rest mgl32.Vec3
}

// Quat returns the bone rotation as a quaternion for renderers.
func (b *Bone) Quat() mgl32.Quat {
	return mgl32.AnglesToQuat(b.Rotation[0], b.Rotation[1], b.Rotation[2], mgl32.XYZ)
}

// Rest returns the rotation the bone had when the rig was built.
func (b *Bone) Rest() mgl32.Vec3 {
	return b.rest
}

// Rig is a named-bone skeleton plus named [0,1] expression channels.
//
// The set of bones and expressions is fixed at construction, so name lookups
// are safe from any goroutine. Values are owned by the frame loop and must
// only be read or written from it.
type Rig struct {
	bones     map[string]*Bone
	boneNames []string

	exprIndex map[string]int
	exprNames []string
	exprs     []float32
}

// New builds a rig with the given bones (at rest rotation zero) and expressions.
// Duplicate names are ignored.
func New(bones, expressions []string) *Rig {
	r := &Rig{
		bones:     make(map[string]*Bone, len(bones)),
		exprIndex: make(map[string]int, len(expressions)),
	}
	for _, name := range bones {
		r.addBone(name, mgl32.Vec3{})
	}
	for _, name := range expressions {
		r.addExpression(name)
	}
	r.finish()
	return r
}

// NewHumanoid returns a rig with every standard bone, expression preset and
// ARKit blendshape.
func NewHumanoid() *Rig {
	exprs := make([]string, 0, len(StandardExpressions)+len(ARKitBlendshapes))
	exprs = append(exprs, StandardExpressions...)
	exprs = append(exprs, ARKitBlendshapes...)
	return New(StandardBones, exprs)
}

func (r *Rig) addBone(name string, rest mgl32.Vec3) {
	if name == "" {
		return
	}
	if _, ok := r.bones[name]; ok {
		return
	}
	r.bones[name] = &Bone{Name: name, Rotation: rest, rest: rest}
	r.boneNames = append(r.boneNames, name)
}

func (r *Rig) addExpression(name string) {
	if name == "" {
		return
	}
	if _, ok := r.exprIndex[name]; ok {
		return
	}
	r.exprIndex[name] = len(r.exprNames)
	r.exprNames = append(r.exprNames, name)
}

func (r *Rig) finish() {
	r.exprs = make([]float32, len(r.exprNames))
}

// Bone looks up a bone by standard name.
func (r *Rig) Bone(name string) (*Bone, bool) {
	b, ok := r.bones[name]
	return b, ok
}

func (r *Rig) HasBone(name string) bool {
	_, ok := r.bones[name]
	return ok
}

func (r *Rig) HasExpression(name string) bool {
	_, ok := r.exprIndex[name]
	return ok
}

// Has reports whether the channel exists on this rig.
func (r *Rig) Has(ch Channel) bool {
	switch ch.Kind {
	case KindExpression:
		return r.HasExpression(ch.Name)
	case KindBoneRotation:
		return r.HasBone(ch.Name) && ch.Axis >= AxisX && ch.Axis <= AxisZ
	}
	return false
}

// Bones returns bone names in construction order.
func (r *Rig) Bones() []string {
	out := make([]string, len(r.boneNames))
	copy(out, r.boneNames)
	return out
}

// Expressions returns expression names in construction order.
func (r *Rig) Expressions() []string {
	out := make([]string, len(r.exprNames))
	copy(out, r.exprNames)
	return out
}

func (r *Rig) Expression(name string) (float32, bool) {
	i, ok := r.exprIndex[name]
	if !ok {
		return 0, false
	}
	return r.exprs[i], true
}

// SetExpression clamps value into [0,1]. It reports false when the rig lacks
// the channel.
func (r *Rig) SetExpression(name string, value float32) bool {
	i, ok := r.exprIndex[name]
	if !ok {
		return false
	}
	r.exprs[i] = clamp01(value)
	return true
}

// Read returns the live value of a channel.
func (r *Rig) Read(ch Channel) (float32, bool) {
	switch ch.Kind {
	case KindExpression:
		return r.Expression(ch.Name)
	case KindBoneRotation:
		b, ok := r.bones[ch.Name]
		if !ok || ch.Axis < AxisX || ch.Axis > AxisZ {
			return 0, false
		}
		return b.Rotation[ch.Axis], true
	}
	return 0, false
}

// Write sets a channel. Expression writes are clamped; non-finite values are
// dropped. It reports false when nothing was written.
func (r *Rig) Write(ch Channel, value float32) bool {
	if math.IsNaN(float64(value)) || math.IsInf(float64(value), 0) {
		return false
	}
	switch ch.Kind {
	case KindExpression:
		return r.SetExpression(ch.Name, value)
	case KindBoneRotation:
		b, ok := r.bones[ch.Name]
		if !ok || ch.Axis < AxisX || ch.Axis > AxisZ {
			return false
		}
		b.Rotation[ch.Axis] = value
		return true
	}
	return false
}

// Require reports the channels in chs that the rig lacks, wrapped in
// ErrMissingChannel. It returns nil when every channel is present.
func (r *Rig) Require(chs ...Channel) error {
	var missing []string
	for _, ch := range chs {
		if !r.Has(ch) {
			missing = append(missing, ch.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingChannel, strings.Join(missing, ", "))
	}
	return nil
}

// RestValue is the value the channel had when the rig was built.
func (r *Rig) RestValue(ch Channel) (float32, bool) {
	switch ch.Kind {
	case KindExpression:
		if !r.HasExpression(ch.Name) {
			return 0, false
		}
		return 0, true
	case KindBoneRotation:
		b, ok := r.bones[ch.Name]
		if !ok || ch.Axis < AxisX || ch.Axis > AxisZ {
			return 0, false
		}
		return b.rest[ch.Axis], true
	}
	return 0, false
}

// Snapshot captures the live values of the channels the rig has. Missing
// channels are left out of the result.
func (r *Rig) Snapshot(chs []Channel) map[Channel]float32 {
	out := make(map[Channel]float32, len(chs))
	for _, ch := range chs {
		if v, ok := r.Read(ch); ok {
			out[ch] = v
		}
	}
	return out
}

// Reset returns every bone to rest and every expression to zero.
func (r *Rig) Reset() {
	for _, b := range r.bones {
		b.Rotation = b.rest
	}
	for i := range r.exprs {
		r.exprs[i] = 0
	}
}

// SortChannels orders channels deterministically in place.
func SortChannels(chs []Channel) {
	sort.Slice(chs, func(i, j int) bool { return chs[i].Less(chs[j]) })
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
