package rig

// Standard humanoid bone names, following the VRM humanoid naming.
const (
	BoneHips          = "hips"
	BoneSpine         = "spine"
	BoneChest         = "chest"
	BoneUpperChest    = "upperChest"
	BoneNeck          = "neck"
	BoneHead          = "head"
	BoneLeftEye       = "leftEye"
	BoneRightEye      = "rightEye"
	BoneLeftShoulder  = "leftShoulder"
	BoneRightShoulder = "rightShoulder"
	BoneLeftUpperArm  = "leftUpperArm"
	BoneRightUpperArm = "rightUpperArm"
	BoneLeftLowerArm  = "leftLowerArm"
	BoneRightLowerArm = "rightLowerArm"
	BoneLeftHand      = "leftHand"
	BoneRightHand     = "rightHand"
	BoneLeftUpperLeg  = "leftUpperLeg"
	BoneRightUpperLeg = "rightUpperLeg"
	BoneLeftLowerLeg  = "leftLowerLeg"
	BoneRightLowerLeg = "rightLowerLeg"
	BoneLeftFoot      = "leftFoot"
	BoneRightFoot     = "rightFoot"
)

var StandardBones = []string{
	BoneHips, BoneSpine, BoneChest, BoneUpperChest, BoneNeck, BoneHead,
	BoneLeftEye, BoneRightEye,
	BoneLeftShoulder, BoneRightShoulder,
	BoneLeftUpperArm, BoneRightUpperArm,
	BoneLeftLowerArm, BoneRightLowerArm,
	BoneLeftHand, BoneRightHand,
	BoneLeftUpperLeg, BoneRightUpperLeg,
	BoneLeftLowerLeg, BoneRightLowerLeg,
	BoneLeftFoot, BoneRightFoot,
}

// Expression preset names. The five mouth shapes are reserved for lip sync.
const (
	ExprNeutral   = "neutral"
	ExprHappy     = "happy"
	ExprAngry     = "angry"
	ExprSad       = "sad"
	ExprRelaxed   = "relaxed"
	ExprSurprised = "surprised"

	ExprAa = "aa"
	ExprIh = "ih"
	ExprOu = "ou"
	ExprEe = "ee"
	ExprOh = "oh"

	ExprBlink      = "blink"
	ExprBlinkLeft  = "blinkLeft"
	ExprBlinkRight = "blinkRight"

	ExprLookUp    = "lookUp"
	ExprLookDown  = "lookDown"
	ExprLookLeft  = "lookLeft"
	ExprLookRight = "lookRight"
)

var StandardExpressions = []string{
	ExprNeutral, ExprHappy, ExprAngry, ExprSad, ExprRelaxed, ExprSurprised,
	ExprAa, ExprIh, ExprOu, ExprEe, ExprOh,
	ExprBlink, ExprBlinkLeft, ExprBlinkRight,
	ExprLookUp, ExprLookDown, ExprLookLeft, ExprLookRight,
}

// MouthShapes lists the viseme channels driven by lip sync, in analyzer order.
var MouthShapes = [5]string{ExprAa, ExprIh, ExprOu, ExprEe, ExprOh}

// ARKitBlendshapes are the 52 ARKit face channels. Rigs exported from
// face-capture tools usually carry these instead of, or next to, the presets.
var ARKitBlendshapes = []string{
	"browDownLeft",
	"browDownRight",
	"browInnerUp",
	"browOuterUpLeft",
	"browOuterUpRight",
	"cheekPuff",
	"cheekSquintLeft",
	"cheekSquintRight",
	"eyeBlinkLeft",
	"eyeBlinkRight",
	"eyeLookDownLeft",
	"eyeLookDownRight",
	"eyeLookInLeft",
	"eyeLookInRight",
	"eyeLookOutLeft",
	"eyeLookOutRight",
	"eyeLookUpLeft",
	"eyeLookUpRight",
	"eyeSquintLeft",
	"eyeSquintRight",
	"eyeWideLeft",
	"eyeWideRight",
	"jawForward",
	"jawLeft",
	"jawOpen",
	"jawRight",
	"mouthClose",
	"mouthDimpleLeft",
	"mouthDimpleRight",
	"mouthFrownLeft",
	"mouthFrownRight",
	"mouthFunnel",
	"mouthLeft",
	"mouthLowerDownLeft",
	"mouthLowerDownRight",
	"mouthPressLeft",
	"mouthPressRight",
	"mouthPucker",
	"mouthRight",
	"mouthRollLower",
	"mouthRollUpper",
	"mouthShrugLower",
	"mouthShrugUpper",
	"mouthSmileLeft",
	"mouthSmileRight",
	"mouthStretchLeft",
	"mouthStretchRight",
	"mouthUpperUpLeft",
	"mouthUpperUpRight",
	"noseSneerLeft",
	"noseSneerRight",
	"tongueOut",
}

// IsMouthShape reports whether name is one of the lip-sync viseme channels.
func IsMouthShape(name string) bool {
	for _, m := range MouthShapes {
		if m == name {
			return true
		}
	}
	return false
}
