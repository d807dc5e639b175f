package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/normanking/cortexmotion/internal/lipsync"
	"github.com/normanking/cortexmotion/internal/pose"
	"github.com/normanking/cortexmotion/internal/preset"
)

var ErrInvalidCommand = errors.New("invalid command")

type CommandType string

const (
	CommandPlay      CommandType = "play"
	CommandStop      CommandType = "stop"
	CommandIdle      CommandType = "idle"
	CommandPose      CommandType = "pose"
	CommandStopPoses CommandType = "stop_poses"
	CommandSpeak     CommandType = "speak"
	CommandSilence   CommandType = "silence"
)

// Command is a request for one avatar, applied at the start of its next
// update. Fade is in seconds and used by play, stop and idle.
type Command struct {
	Type   CommandType
	Preset string
	Fade   float32
	Pose   *pose.Payload
	Source lipsync.Source
}

func Play(name string, fade float32) Command {
	return Command{Type: CommandPlay, Preset: name, Fade: fade}
}

func Stop(fade float32) Command {
	return Command{Type: CommandStop, Fade: fade}
}

func Pose(p *pose.Payload) Command {
	return Command{Type: CommandPose, Pose: p}
}

func Speak(src lipsync.Source) Command {
	return Command{Type: CommandSpeak, Source: src}
}

// Validate rejects commands that must never reach an avatar: unknown presets,
// malformed poses and missing audio sources.
func (c Command) Validate() error {
	if c.Fade < 0 || math.IsNaN(float64(c.Fade)) || math.IsInf(float64(c.Fade), 0) {
		return fmt.Errorf("%w: fade %v", ErrInvalidCommand, c.Fade)
	}
	switch c.Type {
	case CommandPlay:
		if _, err := preset.Lookup(c.Preset); err != nil {
			return err
		}
	case CommandPose:
		if c.Pose == nil {
			return fmt.Errorf("%w: pose without payload", ErrInvalidCommand)
		}
		if err := c.Pose.Validate(); err != nil {
			return err
		}
	case CommandSpeak:
		if c.Source == nil {
			return fmt.Errorf("%w: speak without audio source", ErrInvalidCommand)
		}
	case CommandStop, CommandIdle, CommandStopPoses, CommandSilence:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, c.Type)
	}
	return nil
}

// rejectReason labels a validation failure for metrics.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, preset.ErrInvalidPreset):
		return "invalid_preset"
	case errors.Is(err, pose.ErrInvalidPayload):
		return "invalid_pose"
	case errors.Is(err, ErrUnknownAvatar):
		return "unknown_avatar"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	}
	return "invalid_command"
}
