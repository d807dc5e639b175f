package asset

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"

	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/rig"
)

// Decode binds a glTF animation to the rig's channel naming. The animation
// named after the clip is used when present, otherwise the first one.
// Rotation channels become per-axis Euler tracks and morph weight channels
// become expression tracks. Channels the rig lacks are dropped.
func Decode(doc *gltf.Document, r *rig.Rig, name string) (*clip.Clip, error) {
	if len(doc.Animations) == 0 {
		return nil, fmt.Errorf("no animations in asset")
	}
	var anim *gltf.Animation
	for _, a := range doc.Animations {
		if a == nil {
			continue
		}
		if anim == nil {
			anim = a
		}
		if a.Name == name {
			anim = a
			break
		}
	}
	if anim == nil {
		return nil, fmt.Errorf("no animations in asset")
	}

	c := &clip.Clip{Name: name}
	for _, ch := range anim.Channels {
		if ch == nil || ch.Target.Node == nil {
			continue
		}
		nodeIdx := *ch.Target.Node
		if nodeIdx < 0 || nodeIdx >= len(doc.Nodes) {
			return nil, fmt.Errorf("channel targets missing node %d", nodeIdx)
		}
		if ch.Sampler < 0 || ch.Sampler >= len(anim.Samplers) {
			return nil, fmt.Errorf("channel references missing sampler %d", ch.Sampler)
		}
		sampler := anim.Samplers[ch.Sampler]
		node := doc.Nodes[nodeIdx]
		if sampler == nil || node == nil {
			return nil, fmt.Errorf("channel references an empty sampler or node")
		}

		times, err := readFloats(doc, sampler.Input)
		if err != nil {
			return nil, fmt.Errorf("sampler input: %w", err)
		}
		output, err := readFloats(doc, sampler.Output)
		if err != nil {
			return nil, fmt.Errorf("sampler output: %w", err)
		}
		if len(times) == 0 {
			continue
		}

		var tracks []clip.Track
		switch ch.Target.Path {
		case gltf.TRSRotation:
			tracks = rotationTracks(r, node, times, keyValues(output, len(times), 4, sampler.Interpolation))
		case gltf.TRSWeights:
			tracks = weightTracks(doc, r, node, times, output, sampler.Interpolation)
		default:
			// translation and scale are not rig channels
			continue
		}

		for _, tr := range tracks {
			if tr.Times[len(tr.Times)-1] > c.Duration {
				c.Duration = tr.Times[len(tr.Times)-1]
			}
			c.Tracks = append(c.Tracks, tr)
		}
	}

	if len(c.Tracks) == 0 {
		return nil, fmt.Errorf("animation %q has no channels bound to the rig", anim.Name)
	}
	if c.Duration <= 0 {
		c.Duration = 1.0 / 30
	}
	return c, nil
}

// keyValues strips cubic-spline tangents, leaving width components per key.
func keyValues(output []float32, keys, width int, interp gltf.Interpolation) []float32 {
	if interp != gltf.InterpolationCubicSpline {
		return output
	}
	out := make([]float32, 0, keys*width)
	for k := 0; k < keys; k++ {
		base := (3*k + 1) * width
		if base+width > len(output) {
			break
		}
		out = append(out, output[base:base+width]...)
	}
	return out
}

func rotationTracks(r *rig.Rig, node *gltf.Node, times, values []float32) []clip.Track {
	bone := rig.NormalizeBoneName(node.Name)
	if !r.HasBone(bone) {
		return nil
	}

	n := len(times)
	if len(values) < n*4 {
		n = len(values) / 4
	}

	var axes [3]clip.Track
	for a := range axes {
		axes[a].Channel = rig.BoneRotation(bone, rig.Axis(a))
	}

	var prev mgl32.Vec3
	last := float32(math.Inf(-1))
	for k := 0; k < n; k++ {
		if times[k] <= last {
			continue
		}
		last = times[k]

		q := mgl32.Quat{W: values[k*4+3], V: mgl32.Vec3{values[k*4], values[k*4+1], values[k*4+2]}}
		e := rig.EulerFromQuat(q)
		if len(axes[0].Times) > 0 {
			e = unwrap(prev, e)
		}
		prev = e

		for a := range axes {
			axes[a].Times = append(axes[a].Times, times[k])
			axes[a].Values = append(axes[a].Values, e[a])
		}
	}
	if len(axes[0].Times) == 0 {
		return nil
	}
	return axes[:]
}

// unwrap shifts each angle by whole turns so consecutive keys never jump
// more than half a turn.
func unwrap(prev, cur mgl32.Vec3) mgl32.Vec3 {
	for i := 0; i < 3; i++ {
		for cur[i]-prev[i] > math.Pi {
			cur[i] -= 2 * math.Pi
		}
		for cur[i]-prev[i] < -math.Pi {
			cur[i] += 2 * math.Pi
		}
	}
	return cur
}

func weightTracks(doc *gltf.Document, r *rig.Rig, node *gltf.Node, times, output []float32, interp gltf.Interpolation) []clip.Track {
	if node.Mesh == nil || *node.Mesh < 0 || *node.Mesh >= len(doc.Meshes) || doc.Meshes[*node.Mesh] == nil {
		return nil
	}
	names := rig.MorphTargetNames(doc.Meshes[*node.Mesh])
	if len(names) == 0 {
		return nil
	}

	keys := len(times)
	width := len(output) / keys
	if interp == gltf.InterpolationCubicSpline {
		width /= 3
	}
	if width == 0 {
		return nil
	}
	values := keyValues(output, keys, width, interp)

	var tracks []clip.Track
	for j := 0; j < width && j < len(names); j++ {
		ch := rig.Expression(names[j])
		if !r.Has(ch) || rig.IsMouthShape(names[j]) {
			continue
		}
		tr := clip.Track{Channel: ch}
		last := float32(math.Inf(-1))
		for k := 0; k < keys && k*width+j < len(values); k++ {
			if times[k] <= last {
				continue
			}
			last = times[k]
			v := values[k*width+j]
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			tr.Times = append(tr.Times, times[k])
			tr.Values = append(tr.Values, v)
		}
		if len(tr.Times) > 0 {
			tracks = append(tracks, tr)
		}
	}
	return tracks
}

// maxAccessorCount bounds a single accessor so a corrupt count can't drive a
// huge allocation.
const maxAccessorCount = 1 << 22

// readFloats flattens an accessor into float32 components, denormalizing
// integer component types.
func readFloats(doc *gltf.Document, accessorIdx int) ([]float32, error) {
	if accessorIdx < 0 || accessorIdx >= len(doc.Accessors) {
		return nil, fmt.Errorf("missing accessor %d", accessorIdx)
	}
	accessor := doc.Accessors[accessorIdx]
	if accessor == nil {
		return nil, fmt.Errorf("accessor %d is empty", accessorIdx)
	}
	if accessor.Count < 0 || accessor.Count > maxAccessorCount {
		return nil, fmt.Errorf("accessor %d count %d out of range", accessorIdx, accessor.Count)
	}
	if accessor.BufferView == nil {
		return make([]float32, accessor.Count*components(accessor.Type)), nil
	}
	viewIdx := *accessor.BufferView
	if viewIdx < 0 || viewIdx >= len(doc.BufferViews) || doc.BufferViews[viewIdx] == nil {
		return nil, fmt.Errorf("accessor %d references missing buffer view %d", accessorIdx, viewIdx)
	}
	bufferView := doc.BufferViews[viewIdx]
	if bufferView.Buffer < 0 || bufferView.Buffer >= len(doc.Buffers) || doc.Buffers[bufferView.Buffer] == nil {
		return nil, fmt.Errorf("buffer view %d references missing buffer %d", viewIdx, bufferView.Buffer)
	}
	data := doc.Buffers[bufferView.Buffer].Data
	if len(data) == 0 {
		return nil, fmt.Errorf("buffer %d has no data", bufferView.Buffer)
	}

	comps := components(accessor.Type)
	size := componentSize(accessor.ComponentType)
	if size == 0 {
		return nil, fmt.Errorf("unsupported component type %v", accessor.ComponentType)
	}

	stride := bufferView.ByteStride
	if stride == 0 {
		stride = comps * size
	}
	offset := bufferView.ByteOffset + accessor.ByteOffset
	if offset < 0 || stride < 0 {
		return nil, fmt.Errorf("accessor %d has a negative offset or stride", accessorIdx)
	}

	out := make([]float32, 0, accessor.Count*comps)
	for i := 0; i < accessor.Count; i++ {
		base := offset + i*stride
		if base+comps*size > len(data) {
			return nil, fmt.Errorf("accessor %d overruns buffer", accessorIdx)
		}
		for c := 0; c < comps; c++ {
			out = append(out, readComponent(data[base+c*size:], accessor.ComponentType, accessor.Normalized))
		}
	}
	return out, nil
}

func components(t gltf.AccessorType) int {
	switch t {
	case gltf.AccessorScalar:
		return 1
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4, gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	case gltf.AccessorMat4:
		return 16
	}
	return 1
}

func componentSize(ct gltf.ComponentType) int {
	switch ct {
	case gltf.ComponentFloat, gltf.ComponentUint:
		return 4
	case gltf.ComponentShort, gltf.ComponentUshort:
		return 2
	case gltf.ComponentByte, gltf.ComponentUbyte:
		return 1
	}
	return 0
}

func readComponent(b []byte, ct gltf.ComponentType, normalized bool) float32 {
	switch ct {
	case gltf.ComponentFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case gltf.ComponentUint:
		return float32(binary.LittleEndian.Uint32(b))
	case gltf.ComponentShort:
		v := int16(binary.LittleEndian.Uint16(b))
		if normalized {
			return float32(math.Max(float64(v)/32767, -1))
		}
		return float32(v)
	case gltf.ComponentUshort:
		v := binary.LittleEndian.Uint16(b)
		if normalized {
			return float32(v) / 65535
		}
		return float32(v)
	case gltf.ComponentByte:
		v := int8(b[0])
		if normalized {
			return float32(math.Max(float64(v)/127, -1))
		}
		return float32(v)
	case gltf.ComponentUbyte:
		if normalized {
			return float32(b[0]) / 255
		}
		return float32(b[0])
	}
	return 0
}
