package clip

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/cortexmotion/internal/preset"
	"github.com/normanking/cortexmotion/internal/rig"
)

// Key fractions of the preset duration, chosen by how many values a curve has.
var keyFractions = map[int][]float32{
	2: {0, 1},
	3: {0, 0.5, 1},
	4: {0, 0.2, 0.8, 1},
	5: {0, 0.2, 0.5, 0.8, 1},
}

// curve is one hand-tuned channel of a recipe. Bone values are degrees offset
// from the rest pose; expression values are absolute weights.
type curve struct {
	ch     rig.Channel
	values []float32
}

func bone(name string, axis rig.Axis, degrees ...float32) curve {
	return curve{ch: rig.BoneRotation(name, axis), values: degrees}
}

func expr(name string, weights ...float32) curve {
	return curve{ch: rig.Expression(name), values: weights}
}

// Looping recipes begin and end at rest so the wrap is seamless. No recipe
// touches the mouth shapes; those belong to lip sync.
var recipes = map[string][]curve{
	preset.Idle: {
		bone(rig.BoneSpine, rig.AxisX, 0, 1.5, 0, -1.5, 0),
		bone(rig.BoneChest, rig.AxisX, 0, 1, 2, 1, 0),
		bone(rig.BoneHead, rig.AxisY, 0, 2, 0, -2, 0),
		bone(rig.BoneHead, rig.AxisX, 0, -1, 0, 1, 0),
		bone(rig.BoneLeftUpperArm, rig.AxisZ, 0, -2, 0, -2, 0),
		bone(rig.BoneRightUpperArm, rig.AxisZ, 0, 2, 0, 2, 0),
		expr(rig.ExprBlink, 0, 0, 1, 0, 0),
	},
	preset.Talking: {
		bone(rig.BoneHead, rig.AxisX, 0, 3, -2, 2, 0),
		bone(rig.BoneHead, rig.AxisY, 0, -3, 2, 1, 0),
		bone(rig.BoneSpine, rig.AxisY, 0, 2, 0, -2, 0),
		bone(rig.BoneRightLowerArm, rig.AxisY, 0, 10, 0, 10, 0),
		bone(rig.BoneLeftHand, rig.AxisZ, 0, 8, -5, 8, 0),
		bone(rig.BoneRightHand, rig.AxisZ, 0, -6, 4, -6, 0),
	},
	preset.Thinking: {
		bone(rig.BoneHead, rig.AxisZ, 0, 10, 10, 10, 0),
		bone(rig.BoneHead, rig.AxisX, 0, -8, -8, -8, 0),
		bone(rig.BoneRightLowerArm, rig.AxisX, 0, -40, -45, -40, 0),
		expr(rig.ExprLookUp, 0, 0.6, 0.6, 0.6, 0),
		expr(rig.ExprLookRight, 0, 0.4, 0.4, 0.4, 0),
	},
	preset.Listening: {
		bone(rig.BoneHead, rig.AxisZ, 0, -6, -6, -6, 0),
		bone(rig.BoneHead, rig.AxisX, 0, 4, 0, 4, 0),
		bone(rig.BoneSpine, rig.AxisX, 0, 3, 3, 3, 0),
		expr(rig.ExprRelaxed, 0, 0.3, 0.3, 0.3, 0),
	},
	preset.Happy: {
		expr(rig.ExprHappy, 0, 1, 1, 0.6),
		bone(rig.BoneChest, rig.AxisX, 0, -5, -5, -2),
		bone(rig.BoneHead, rig.AxisX, 0, -5, -3, 0),
	},
	preset.Sad: {
		expr(rig.ExprSad, 0, 0.9, 0.9, 0.7),
		bone(rig.BoneHead, rig.AxisX, 0, 15, 15, 12),
		bone(rig.BoneSpine, rig.AxisX, 0, 6, 6, 5),
		bone(rig.BoneLeftShoulder, rig.AxisZ, 0, -8, -8, -6),
		bone(rig.BoneRightShoulder, rig.AxisZ, 0, 8, 8, 6),
	},
	preset.Surprised: {
		expr(rig.ExprSurprised, 0, 1, 1, 0.3),
		bone(rig.BoneHead, rig.AxisX, 0, -10, -8, 0),
		bone(rig.BoneSpine, rig.AxisX, 0, -6, -4, 0),
		bone(rig.BoneLeftUpperArm, rig.AxisZ, 0, 15, 10, 0),
		bone(rig.BoneRightUpperArm, rig.AxisZ, 0, -15, -10, 0),
	},
	preset.Wave: {
		bone(rig.BoneRightUpperArm, rig.AxisZ, 0, 75, 75, 75, 0),
		bone(rig.BoneRightLowerArm, rig.AxisZ, 0, 20, -20, 20, 0),
		bone(rig.BoneRightHand, rig.AxisY, 0, 15, -15, 15, 0),
		expr(rig.ExprHappy, 0, 0.5, 0.5, 0.5, 0),
	},
	preset.Nod: {
		bone(rig.BoneHead, rig.AxisX, 0, 15, -5, 10, 0),
		bone(rig.BoneNeck, rig.AxisX, 0, 5, 0, 3, 0),
	},
	preset.ShakeHead: {
		bone(rig.BoneHead, rig.AxisY, 0, -20, 20, -15, 0),
		bone(rig.BoneNeck, rig.AxisY, 0, -5, 5, -4, 0),
	},
	preset.Shrug: {
		bone(rig.BoneLeftShoulder, rig.AxisZ, 0, 15, 15, 0),
		bone(rig.BoneRightShoulder, rig.AxisZ, 0, -15, -15, 0),
		bone(rig.BoneLeftLowerArm, rig.AxisY, 0, -30, -30, 0),
		bone(rig.BoneRightLowerArm, rig.AxisY, 0, 30, 30, 0),
		bone(rig.BoneHead, rig.AxisZ, 0, 5, 5, 0),
	},
	preset.Bow: {
		bone(rig.BoneSpine, rig.AxisX, 0, 30, 30, 0),
		bone(rig.BoneChest, rig.AxisX, 0, 10, 10, 0),
		bone(rig.BoneHead, rig.AxisX, 0, 10, 10, 0),
	},
	preset.Celebrate: {
		bone(rig.BoneLeftUpperArm, rig.AxisZ, 0, 70, 80, 70, 0),
		bone(rig.BoneRightUpperArm, rig.AxisZ, 0, -70, -80, -70, 0),
		bone(rig.BoneLeftLowerArm, rig.AxisZ, 0, 20, 10, 20, 0),
		bone(rig.BoneRightLowerArm, rig.AxisZ, 0, -20, -10, -20, 0),
		bone(rig.BoneSpine, rig.AxisX, 0, -8, -8, -8, 0),
		expr(rig.ExprHappy, 0, 1, 1, 1, 0.5),
		expr(rig.ExprSurprised, 0, 0.3, 0, 0, 0),
	},
}

// Generate synthesizes the procedural clip for a preset. Channels the rig
// lacks are left out. The result depends only on the rig's rest pose and the
// preset, so repeated calls produce equal tracks.
func Generate(r *rig.Rig, p preset.Preset) *Clip {
	c := &Clip{Name: p.Name, Duration: p.Duration, Loop: p.Loop}

	for _, cv := range recipes[p.Name] {
		if cv.ch.Kind == rig.KindExpression && rig.IsMouthShape(cv.ch.Name) {
			continue
		}
		rest, ok := r.RestValue(cv.ch)
		if !ok {
			continue
		}
		fractions, ok := keyFractions[len(cv.values)]
		if !ok {
			continue
		}

		tr := Track{
			Channel: cv.ch,
			Times:   make([]float32, len(cv.values)),
			Values:  make([]float32, len(cv.values)),
		}
		for i, v := range cv.values {
			tr.Times[i] = fractions[i] * p.Duration
			if cv.ch.Kind == rig.KindBoneRotation {
				tr.Values[i] = rest + mgl32.DegToRad(v)
			} else {
				tr.Values[i] = v
			}
		}
		c.Tracks = append(c.Tracks, tr)
	}
	return c
}

// HasRecipe reports whether the factory can synthesize the preset.
func HasRecipe(name string) bool {
	_, ok := recipes[name]
	return ok
}
