package rig

import (
	"fmt"
	"strings"
)

// ChannelKind distinguishes expression weights from bone rotation axes.
type ChannelKind int

const (
	KindExpression ChannelKind = iota
	KindBoneRotation
)

// Axis selects one Euler component of a bone rotation.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

var axisNames = [3]string{"x", "y", "z"}

func (a Axis) String() string {
	if a < AxisX || a > AxisZ {
		return "?"
	}
	return axisNames[a]
}

// Channel addresses a single writable scalar on a rig.
type Channel struct {
	Kind ChannelKind
	Name string
	Axis Axis
}

// Expression returns the channel for a named expression weight.
func Expression(name string) Channel {
	return Channel{Kind: KindExpression, Name: name}
}

// BoneRotation returns the channel for one Euler axis of a bone, in radians.
func BoneRotation(bone string, axis Axis) Channel {
	return Channel{Kind: KindBoneRotation, Name: bone, Axis: axis}
}

// String renders the channel as "expr:<name>" or "bone:<name>.<axis>".
func (c Channel) String() string {
	if c.Kind == KindBoneRotation {
		return "bone:" + c.Name + "." + c.Axis.String()
	}
	return "expr:" + c.Name
}

// Less orders channels for deterministic iteration.
func (c Channel) Less(o Channel) bool {
	if c.Kind != o.Kind {
		return c.Kind < o.Kind
	}
	if c.Name != o.Name {
		return c.Name < o.Name
	}
	return c.Axis < o.Axis
}

// ParseChannel is the inverse of Channel.String.
func ParseChannel(s string) (Channel, error) {
	switch {
	case strings.HasPrefix(s, "expr:"):
		name := strings.TrimPrefix(s, "expr:")
		if name == "" {
			return Channel{}, fmt.Errorf("empty expression name in %q", s)
		}
		return Expression(name), nil
	case strings.HasPrefix(s, "bone:"):
		rest := strings.TrimPrefix(s, "bone:")
		dot := strings.LastIndexByte(rest, '.')
		if dot <= 0 {
			return Channel{}, fmt.Errorf("missing axis in %q", s)
		}
		for i, n := range axisNames {
			if rest[dot+1:] == n {
				return BoneRotation(rest[:dot], Axis(i)), nil
			}
		}
		return Channel{}, fmt.Errorf("unknown axis in %q", s)
	}
	return Channel{}, fmt.Errorf("unknown channel %q", s)
}
