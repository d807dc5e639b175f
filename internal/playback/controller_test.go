package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexmotion/internal/bus"
	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/preset"
	"github.com/normanking/cortexmotion/internal/rig"
)

func newTestController(t *testing.T, assets clip.AssetSource) (*Controller, *rig.Rig) {
	t.Helper()
	r := rig.NewHumanoid()
	res := clip.NewResolver(r, assets, nil)
	c := NewController(r, res, Options{Avatar: "test", Logger: zerolog.Nop()})
	t.Cleanup(c.Dispose)
	return c, r
}

func TestFreshIdleStartsLoopingAtFullWeight(t *testing.T) {
	c, _ := newTestController(t, nil)
	require.NoError(t, c.Play(preset.Idle, 0.5))

	a := c.CurrentAction()
	require.NotNil(t, a)
	assert.True(t, a.Loop)
	assert.Equal(t, float32(1), a.Weight())
	assert.Len(t, c.Actions(), 1)

	// idle wraps instead of finishing
	for i := 0; i < 20; i++ {
		c.Update(0.25)
	}
	assert.False(t, a.Finished())
	assert.Less(t, a.Time(), float32(4))
}

func TestPlayInvalidPreset(t *testing.T) {
	c, _ := newTestController(t, nil)
	err := c.Play("moonwalk", 0.3)
	assert.ErrorIs(t, err, preset.ErrInvalidPreset)
	assert.Empty(t, c.Actions())
	assert.Equal(t, "", c.Current())
}

func TestReplayCurrentIsNoop(t *testing.T) {
	c, _ := newTestController(t, nil)
	require.NoError(t, c.Play(preset.Idle, 0))
	c.Update(0.25)
	require.NoError(t, c.Play(preset.Happy, 1))
	c.Update(0.25)

	before := c.Actions()
	action := c.CurrentAction()
	require.NoError(t, c.Play(preset.Happy, 1))
	assert.Equal(t, before, c.Actions())
	assert.Same(t, action, c.CurrentAction())
}

func TestCrossFadeInfluence(t *testing.T) {
	c, _ := newTestController(t, nil)
	require.NoError(t, c.Play(preset.Idle, 0))
	c.Update(0.25)

	require.NoError(t, c.Play(preset.Talking, 1))
	c.Update(0.25)
	c.Update(0.25)

	// halfway: both contribute
	assert.InDelta(t, 0.5, c.Influence(preset.Idle), 1e-5)
	assert.InDelta(t, 0.5, c.Influence(preset.Talking), 1e-5)

	c.Update(0.25)
	c.Update(0.25)
	assert.Equal(t, float32(0), c.Influence(preset.Idle))
	assert.Equal(t, float32(1), c.Influence(preset.Talking))

	c.Update(0.25)
	assert.Len(t, c.Actions(), 1)
}

func TestIdleToHappyScenario(t *testing.T) {
	c, _ := newTestController(t, nil)
	require.NoError(t, c.Play(preset.Idle, 0))
	require.True(t, c.CurrentAction().Loop)
	c.Update(0.25)

	require.NoError(t, c.Play(preset.Happy, 0.5))
	c.Update(0.25)
	c.Update(0.25)

	assert.InDelta(t, 0, c.Influence(preset.Idle), 1e-5)
	assert.InDelta(t, 1, c.Influence(preset.Happy), 1e-5)
	assert.Equal(t, preset.Happy, c.Current())
}

func TestBlendWithRest(t *testing.T) {
	c, r := newTestController(t, nil)
	require.NoError(t, c.Play(preset.Bow, 0))

	// Bow holds spine at 30 degrees between 0.4s and 1.6s
	c.Update(0.5)
	ch := rig.BoneRotation(rig.BoneSpine, rig.AxisX)
	v, _ := r.Read(ch)
	assert.InDelta(t, mgl32.DegToRad(30), v, 1e-5)

	c.Stop(1)
	assert.Equal(t, "", c.Current())
	c.Update(0.5)
	v, _ = r.Read(ch)
	assert.InDelta(t, mgl32.DegToRad(15), v, 1e-5)

	c.Update(0.5)
	v, _ = r.Read(ch)
	assert.InDelta(t, 0, v, 1e-6)
	assert.Empty(t, c.Actions())
}

func TestSingleShotHoldsLastFrame(t *testing.T) {
	b := bus.NewEventBus()
	finished := make(chan string, 1)
	b.Subscribe(bus.EventTypeClipFinished, func(e bus.Event) { finished <- e.Data["preset"].(string) })

	r := rig.NewHumanoid()
	c := NewController(r, clip.NewResolver(r, nil, nil), Options{Avatar: "a", Bus: b, Logger: zerolog.Nop()})
	defer c.Dispose()

	require.NoError(t, c.Play(preset.Happy, 0))
	for i := 0; i < 12; i++ {
		c.Update(0.25)
	}

	a := c.CurrentAction()
	require.NotNil(t, a)
	assert.True(t, a.Finished())
	assert.Equal(t, float32(2), a.Time())
	assert.Equal(t, preset.Happy, c.Current())

	happy, _ := r.Expression(rig.ExprHappy)
	assert.InDelta(t, 0.6, happy, 1e-5)

	select {
	case name := <-finished:
		assert.Equal(t, preset.Happy, name)
	case <-time.After(time.Second):
		t.Fatal("no finished event")
	}
}

type gatedAssets struct {
	mu    sync.Mutex
	gate  chan struct{}
	err   error
	cache map[string]*clip.Clip
}

func newGatedAssets() *gatedAssets {
	return &gatedAssets{gate: make(chan struct{}), cache: make(map[string]*clip.Clip)}
}

func (g *gatedAssets) Resolve(name string) string { return name }
func (g *gatedAssets) HasAsset(name string) bool  { return name == preset.Wave }

func (g *gatedAssets) Cached(name string) (*clip.Clip, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.cache[name]
	return c, ok
}

func (g *gatedAssets) Load(ctx context.Context, name string) (*clip.Clip, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	c := &clip.Clip{Name: name, Duration: 2, Tracks: []clip.Track{{
		Channel: rig.BoneRotation(rig.BoneRightUpperArm, rig.AxisZ),
		Times:   []float32{0, 2},
		Values:  []float32{0, 1},
	}}}
	g.mu.Lock()
	g.cache[name] = c
	g.mu.Unlock()
	return c, nil
}

func TestAsyncAssetLoadKeepsCurrentPlaying(t *testing.T) {
	assets := newGatedAssets()
	c, _ := newTestController(t, assets)
	require.NoError(t, c.Play(preset.Idle, 0))

	require.NoError(t, c.Play(preset.Wave, 0.5))
	pending, ok := c.Pending()
	require.True(t, ok)
	assert.Equal(t, preset.Wave, pending)

	// a repeated request while loading is a no-op
	require.NoError(t, c.Play(preset.Wave, 0.5))

	c.Update(0.25)
	assert.Equal(t, preset.Idle, c.Current())
	idleTime := c.CurrentAction().Time()
	assert.Equal(t, float32(0.25), idleTime)

	close(assets.gate)
	require.Eventually(t, func() bool {
		c.Update(0.01)
		return c.Current() == preset.Wave
	}, time.Second, 5*time.Millisecond)

	_, ok = c.Pending()
	assert.False(t, ok)
	assert.Equal(t, "wave", c.CurrentAction().Clip.Name)
}

func TestAsyncAssetFailureIsDropped(t *testing.T) {
	assets := newGatedAssets()
	assets.err = errors.New("404")
	c, _ := newTestController(t, assets)
	require.NoError(t, c.Play(preset.Idle, 0))
	require.NoError(t, c.Play(preset.Wave, 0.5))

	close(assets.gate)
	require.Eventually(t, func() bool {
		c.Update(0.01)
		_, pending := c.Pending()
		return !pending
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, preset.Idle, c.Current())
	assert.Len(t, c.Actions(), 1)
}

func TestSupersededLoadIsDiscarded(t *testing.T) {
	assets := newGatedAssets()
	c, _ := newTestController(t, assets)
	require.NoError(t, c.Play(preset.Idle, 0))
	require.NoError(t, c.Play(preset.Wave, 0.5))
	require.NoError(t, c.Play(preset.Nod, 0))

	close(assets.gate)
	// give the load goroutine time to deliver
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 5; i++ {
		c.Update(0.01)
	}
	assert.Equal(t, preset.Nod, c.Current())
	assert.Zero(t, c.Influence(preset.Wave))
}

func TestReturnToIdle(t *testing.T) {
	c, _ := newTestController(t, nil)
	require.NoError(t, c.Play(preset.Wave, 0))
	require.NoError(t, c.ReturnToIdle(0.5))
	assert.Equal(t, preset.Idle, c.Current())
}

func TestDisposeDropsLateLoads(t *testing.T) {
	assets := newGatedAssets()
	c, _ := newTestController(t, assets)
	require.NoError(t, c.Play(preset.Wave, 0.5))

	c.Dispose()
	close(assets.gate)
	time.Sleep(20 * time.Millisecond)
	c.Update(0.1)

	assert.Equal(t, "", c.Current())
	assert.Empty(t, c.Actions())
}
