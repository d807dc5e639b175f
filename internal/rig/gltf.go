package rig

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// mixamoAliases maps common Mixamo joint names onto standard bone names.
var mixamoAliases = map[string]string{
	"hips":          BoneHips,
	"spine":         BoneSpine,
	"spine1":        BoneChest,
	"spine2":        BoneUpperChest,
	"neck":          BoneNeck,
	"head":          BoneHead,
	"lefteye":       BoneLeftEye,
	"righteye":      BoneRightEye,
	"leftshoulder":  BoneLeftShoulder,
	"rightshoulder": BoneRightShoulder,
	"leftarm":       BoneLeftUpperArm,
	"rightarm":      BoneRightUpperArm,
	"leftforearm":   BoneLeftLowerArm,
	"rightforearm":  BoneRightLowerArm,
	"lefthand":      BoneLeftHand,
	"righthand":     BoneRightHand,
	"leftupleg":     BoneLeftUpperLeg,
	"rightupleg":    BoneRightUpperLeg,
	"leftleg":       BoneLeftLowerLeg,
	"rightleg":      BoneRightLowerLeg,
	"leftfoot":      BoneLeftFoot,
	"rightfoot":     BoneRightFoot,
}

var standardByLower = func() map[string]string {
	m := make(map[string]string, len(StandardBones))
	for _, b := range StandardBones {
		m[strings.ToLower(b)] = b
	}
	return m
}()

// NormalizeBoneName maps an exported joint name onto a standard bone name.
// Names that match nothing are returned unchanged.
func NormalizeBoneName(name string) string {
	n := name
	if i := strings.LastIndexByte(n, ':'); i >= 0 {
		n = n[i+1:]
	}
	lower := strings.ToLower(strings.NewReplacer("_", "", " ", "", "-", "").Replace(n))
	if std, ok := standardByLower[lower]; ok {
		return std
	}
	if std, ok := mixamoAliases[lower]; ok {
		return std
	}
	return name
}

// FromGLTF opens a .gltf/.glb file and builds a rig from its joints and morph
// target names.
func FromGLTF(path string) (*Rig, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}
	return FromDocument(doc)
}

// FromDocument builds a rig from a decoded glTF document. Skin joints become
// bones (every named node when there is no skin); morph target names found in
// mesh extras become expressions.
func FromDocument(doc *gltf.Document) (*Rig, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil gltf document")
	}

	r := &Rig{
		bones:     make(map[string]*Bone),
		exprIndex: make(map[string]int),
	}

	joints := make(map[int]bool)
	for _, skin := range doc.Skins {
		for _, j := range skin.Joints {
			joints[int(j)] = true
		}
	}

	for i, node := range doc.Nodes {
		if node == nil || node.Name == "" {
			continue
		}
		if len(joints) > 0 && !joints[i] {
			continue
		}
		q := mgl32.Quat{
			W: float32(node.Rotation[3]),
			V: mgl32.Vec3{float32(node.Rotation[0]), float32(node.Rotation[1]), float32(node.Rotation[2])},
		}
		rest := mgl32.Vec3{}
		if q.Len() > 0 {
			rest = EulerFromQuat(q)
		}
		r.addBone(NormalizeBoneName(node.Name), rest)
	}

	for _, mesh := range doc.Meshes {
		if mesh == nil {
			continue
		}
		for _, name := range MorphTargetNames(mesh) {
			r.addExpression(name)
		}
	}

	if len(r.bones) == 0 && len(r.exprIndex) == 0 {
		return nil, fmt.Errorf("gltf has no joints or morph targets")
	}

	r.finish()
	return r, nil
}

// MorphTargetNames reads the conventional "targetNames" list from mesh extras.
func MorphTargetNames(mesh *gltf.Mesh) []string {
	var extras map[string]interface{}
	switch e := mesh.Extras.(type) {
	case map[string]interface{}:
		extras = e
	case json.RawMessage:
		if err := json.Unmarshal(e, &extras); err != nil {
			return nil
		}
	default:
		return nil
	}

	raw, ok := extras["targetNames"].([]interface{})
	if !ok {
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, n := range raw {
		if s, ok := n.(string); ok {
			names = append(names, s)
		}
	}
	return names
}
