package pose

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexmotion/internal/rig"
	"github.com/normanking/cortexmotion/internal/tween"
)

func TestParseJSON(t *testing.T) {
	p, err := Parse([]byte(`{
		"expressions": {"happy": 0.8, "blink": 1.5},
		"lookAt": {"x": 0.5, "y": -1},
		"head": {"x": 10},
		"arms": {"leftUpperArm": {"z": 45}},
		"shoulders": {"right": {"z": -5}},
		"timing": {"duration": 1, "easing": "ease-out", "autoRevert": true, "revertDelay": 0.2}
	}`))
	require.NoError(t, err)

	r := rig.NewHumanoid()
	target := p.Target(r)

	assert.Equal(t, float32(0.8), target[rig.Expression(rig.ExprHappy)])
	assert.Equal(t, float32(1), target[rig.Expression(rig.ExprBlink)])
	assert.Equal(t, float32(0.5), target[rig.Expression(rig.ExprLookRight)])
	assert.Equal(t, float32(0), target[rig.Expression(rig.ExprLookLeft)])
	assert.Equal(t, float32(1), target[rig.Expression(rig.ExprLookDown)])
	assert.InDelta(t, 0.6, target[rig.Expression("eyeLookDownLeft")], 1e-6)
	assert.InDelta(t, 0.4, target[rig.Expression("eyeLookOutRight")], 1e-6)
	assert.InDelta(t, mgl32.DegToRad(10), target[rig.BoneRotation(rig.BoneHead, rig.AxisX)], 1e-6)
	assert.InDelta(t, mgl32.DegToRad(45), target[rig.BoneRotation(rig.BoneLeftUpperArm, rig.AxisZ)], 1e-6)
	assert.InDelta(t, mgl32.DegToRad(-5), target[rig.BoneRotation(rig.BoneRightShoulder, rig.AxisZ)], 1e-6)

	_, hasY := target[rig.BoneRotation(rig.BoneHead, rig.AxisY)]
	assert.False(t, hasY)

	timing := p.TweenTiming()
	assert.Equal(t, tween.Timing{
		Duration:       1,
		Easing:         "ease-out",
		AutoRevert:     true,
		RevertDelay:    0.2,
		RevertDuration: 1,
	}, timing)
}

func TestParseYAML(t *testing.T) {
	p, err := Parse([]byte(`
spine:
  x: 12
timing:
  repeat: 3
  yoyo: true
`))
	require.NoError(t, err)

	timing := p.TweenTiming()
	assert.Equal(t, float32(DefaultDuration), timing.Duration)
	assert.Equal(t, tween.DefaultEasing, timing.Easing)
	assert.Equal(t, 3, timing.Repeat)
	assert.True(t, timing.Yoyo)

	target := p.Target(rig.NewHumanoid())
	assert.Len(t, target, 1)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", `{}`},
		{"wrong type", `{"expressions": {"happy": "lots"}}`},
		{"negative duration", `{"head": {"x": 1}, "timing": {"duration": -1}}`},
		{"negative repeat", `{"head": {"x": 1}, "timing": {"repeat": -2}}`},
		{"unknown easing", `{"head": {"x": 1}, "timing": {"easing": "wobble"}}`},
		{"unknown arm", `{"arms": {"tail": {"x": 1}}}`},
		{"not json", `{"head": `},
		{"yaml nan", "head:\n  x: .nan\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.in))
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestTargetSkipsMissingChannels(t *testing.T) {
	p, err := Parse([]byte(`{"expressions": {"happy": 1, "smirk": 1}, "head": {"y": 5}}`))
	require.NoError(t, err)

	r := rig.New([]string{rig.BoneSpine}, []string{rig.ExprHappy})
	target, _, err := Compile(r, p)
	require.NoError(t, err)
	assert.Equal(t, tween.Target{rig.Expression(rig.ExprHappy): 1}, target)
}

func TestRotationsAreOffsetsFromRest(t *testing.T) {
	r := rig.NewHumanoid()
	b, _ := r.Bone(rig.BoneHead)
	require.NotNil(t, b)

	p, err := Parse([]byte(`{"head": {"z": 90}}`))
	require.NoError(t, err)
	rest, _ := r.RestValue(rig.BoneRotation(rig.BoneHead, rig.AxisZ))
	assert.InDelta(t, rest+mgl32.DegToRad(90), p.Target(r)[rig.BoneRotation(rig.BoneHead, rig.AxisZ)], 1e-6)
}
