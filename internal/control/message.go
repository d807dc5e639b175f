// Package control accepts preset triggers and pose payloads from external
// controllers and hands validated commands to the engine.
package control

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/normanking/cortexmotion/internal/engine"
	"github.com/normanking/cortexmotion/internal/pose"
)

var ErrUnknownAvatar = errors.New("no such avatar")

// Message is one trigger from a controller.
//
//	{"type": "play", "avatar": "ada", "preset": "wave", "fade": 0.3}
//	{"type": "pose", "payload": {"head": {"y": 15}, "timing": {"autoRevert": true}}}
//	{"type": "stop"}
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Avatar  string          `json:"avatar,omitempty"`
	Preset  string          `json:"preset,omitempty"`
	Fade    *float64        `json:"fade,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply answers a Message. Error is set when the message was rejected.
type Reply struct {
	ID    string `json:"id,omitempty"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Notice pushes an engine event to connected controllers.
type Notice struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Submitter is the part of the engine a controller talks to.
type Submitter interface {
	Lookup(name string) (engine.Handle, bool)
	Submit(h engine.Handle, cmd engine.Command) error
}

// Dispatcher turns messages into engine commands for a default avatar.
type Dispatcher struct {
	Submitter     Submitter
	DefaultAvatar string
	DefaultFade   float32
}

// Command builds the engine command for m. Audio commands can't travel over
// a controller connection, so speak is rejected.
func (d Dispatcher) Command(m Message) (engine.Command, error) {
	fade := d.DefaultFade
	if m.Fade != nil {
		fade = float32(*m.Fade)
	}

	cmd := engine.Command{Type: engine.CommandType(m.Type), Preset: m.Preset, Fade: fade}
	switch cmd.Type {
	case engine.CommandPose:
		if len(m.Payload) == 0 {
			return cmd, fmt.Errorf("%w: missing payload", pose.ErrInvalidPayload)
		}
		p, err := pose.Parse(m.Payload)
		if err != nil {
			return cmd, err
		}
		cmd.Pose = p
	case engine.CommandSpeak:
		return cmd, fmt.Errorf("%w: speak needs an audio source", engine.ErrInvalidCommand)
	}
	return cmd, cmd.Validate()
}

// Dispatch validates m and submits it. Nothing reaches the engine unless the
// whole message is valid.
func (d Dispatcher) Dispatch(m Message) error {
	cmd, err := d.Command(m)
	if err != nil {
		return err
	}
	name := m.Avatar
	if name == "" {
		name = d.DefaultAvatar
	}
	h, ok := d.Submitter.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAvatar, name)
	}
	return d.Submitter.Submit(h, cmd)
}
