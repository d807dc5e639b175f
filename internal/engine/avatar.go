package engine

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexmotion/internal/clip/asset"
	"github.com/normanking/cortexmotion/internal/lipsync"
	"github.com/normanking/cortexmotion/internal/playback"
	"github.com/normanking/cortexmotion/internal/rig"
	"github.com/normanking/cortexmotion/internal/tween"
)

// Avatar is the motion context of one rig. Its layers are only touched from
// the frame loop; the command queue is the one shared entry point.
type Avatar struct {
	name   string
	handle Handle
	rig    *rig.Rig
	logger zerolog.Logger

	loader   *asset.Loader
	watcher  *asset.Watcher
	playback *playback.Controller
	tweens   *tween.Scheduler
	lipsync  *lipsync.Analyzer

	mu    sync.Mutex
	queue []Command
	limit int
}

func (a *Avatar) Name() string                   { return a.name }
func (a *Avatar) Handle() Handle                 { return a.handle }
func (a *Avatar) Rig() *rig.Rig                  { return a.rig }
func (a *Avatar) Playback() *playback.Controller { return a.playback }
func (a *Avatar) Tweens() *tween.Scheduler       { return a.tweens }
func (a *Avatar) LipSync() *lipsync.Analyzer     { return a.lipsync }

// Loader is nil when the avatar has no asset manifest.
func (a *Avatar) Loader() *asset.Loader { return a.loader }

func (a *Avatar) enqueue(cmd Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) >= a.limit {
		return ErrQueueFull
	}
	a.queue = append(a.queue, cmd)
	return nil
}

func (a *Avatar) drain() []Command {
	a.mu.Lock()
	defer a.mu.Unlock()
	cmds := a.queue
	a.queue = nil
	return cmds
}

func (a *Avatar) update(dt float32) {
	for _, cmd := range a.drain() {
		a.apply(cmd)
	}
	a.playback.Update(dt)
	a.tweens.Update(dt)
	a.lipsync.Update(dt)
}

// apply never fails the frame; errors are logged and the command dropped.
func (a *Avatar) apply(cmd Command) {
	var err error
	switch cmd.Type {
	case CommandPlay:
		err = a.playback.Play(cmd.Preset, cmd.Fade)
	case CommandStop:
		a.playback.Stop(cmd.Fade)
	case CommandIdle:
		err = a.playback.ReturnToIdle(cmd.Fade)
	case CommandPose:
		_, err = a.tweens.Start(cmd.Pose.Target(a.rig), cmd.Pose.TweenTiming(), nil)
		if errors.Is(err, tween.ErrNoChannels) {
			a.logger.Debug().Msg("Pose touches no channels on this rig")
			return
		}
	case CommandStopPoses:
		a.tweens.StopAll()
	case CommandSpeak:
		_, err = a.lipsync.Start(cmd.Source)
	case CommandSilence:
		a.lipsync.Stop()
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("type", string(cmd.Type)).Msg("Command failed")
	}
}

func (a *Avatar) dispose() {
	if a.playback != nil {
		a.playback.Dispose()
	}
	if a.tweens != nil {
		a.tweens.StopAll()
	}
	if a.lipsync != nil {
		a.lipsync.Stop()
	}
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.logger.Debug().Err(err).Msg("Closing asset watcher")
		}
	}
	if a.loader != nil {
		a.loader.Close()
	}
	a.mu.Lock()
	a.queue = nil
	a.mu.Unlock()
}
