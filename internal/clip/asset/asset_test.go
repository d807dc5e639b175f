package asset

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/playback"
	"github.com/normanking/cortexmotion/internal/preset"
	"github.com/normanking/cortexmotion/internal/rig"
)

func floatBytes(vals ...float32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// nodDocument animates the head around X and two morph targets.
func nodDocument() *gltf.Document {
	q := mgl32.AnglesToQuat(0.5, 0, 0, mgl32.XYZ)

	var buf []byte
	buf = append(buf, floatBytes(0, 0.5, 1)...)
	buf = append(buf, floatBytes(
		0, 0, 0, 1,
		q.V[0], q.V[1], q.V[2], q.W,
		0, 0, 0, 1,
	)...)
	buf = append(buf, floatBytes(0, 0.2, 1, 0.5, 0, 0)...)

	return &gltf.Document{
		Buffers: []*gltf.Buffer{{ByteLength: len(buf), Data: buf}},
		BufferViews: []*gltf.BufferView{
			{Buffer: 0, ByteOffset: 0, ByteLength: 12},
			{Buffer: 0, ByteOffset: 12, ByteLength: 48},
			{Buffer: 0, ByteOffset: 60, ByteLength: 24},
		},
		Accessors: []*gltf.Accessor{
			{BufferView: gltf.Index(0), ComponentType: gltf.ComponentFloat, Count: 3, Type: gltf.AccessorScalar},
			{BufferView: gltf.Index(1), ComponentType: gltf.ComponentFloat, Count: 3, Type: gltf.AccessorVec4},
			{BufferView: gltf.Index(2), ComponentType: gltf.ComponentFloat, Count: 6, Type: gltf.AccessorScalar},
		},
		Nodes: []*gltf.Node{
			{Name: "mixamorig:Head"},
			{Name: "Face", Mesh: gltf.Index(0)},
		},
		Meshes: []*gltf.Mesh{{
			Name:   "Face",
			Extras: map[string]interface{}{"targetNames": []interface{}{"happy", "aa"}},
		}},
		Animations: []*gltf.Animation{{
			Name: "nod",
			Channels: []*gltf.AnimationChannel{
				{Sampler: 0, Target: gltf.AnimationChannelTarget{Node: gltf.Index(0), Path: gltf.TRSRotation}},
				{Sampler: 1, Target: gltf.AnimationChannelTarget{Node: gltf.Index(1), Path: gltf.TRSWeights}},
			},
			Samplers: []*gltf.AnimationSampler{
				{Input: 0, Output: 1},
				{Input: 0, Output: 2},
			},
		}},
	}
}

func TestDecode(t *testing.T) {
	r := rig.NewHumanoid()
	c, err := Decode(nodDocument(), r, preset.Nod)
	require.NoError(t, err)

	assert.Equal(t, float32(1), c.Duration)
	// three head axes plus happy; the mouth shape is left to lip sync
	require.Len(t, c.Tracks, 4)

	x, ok := c.Track(rig.BoneRotation(rig.BoneHead, rig.AxisX))
	require.True(t, ok)
	assert.InDeltaSlice(t, []float32{0, 0.5, 0}, x.Values, 1e-4)

	happy, ok := c.Track(rig.Expression(rig.ExprHappy))
	require.True(t, ok)
	assert.Equal(t, []float32{0, 1, 0}, happy.Values)

	_, ok = c.Track(rig.Expression(rig.ExprAa))
	assert.False(t, ok)
}

func TestDecodeUnboundRig(t *testing.T) {
	r := rig.New([]string{rig.BoneHips}, nil)
	_, err := Decode(nodDocument(), r, preset.Nod)
	assert.Error(t, err)

	_, err = Decode(&gltf.Document{}, r, preset.Nod)
	assert.Error(t, err)
}

func TestDecodeCubicSpline(t *testing.T) {
	doc := nodDocument()
	// in-tangent, value, out-tangent per key
	var out []float32
	for _, v := range []float32{0.1, 0.9, 0.3} {
		out = append(out, 0, v, 0)
	}
	buf := append(floatBytes(0, 0.5, 1), floatBytes(out...)...)
	doc.Buffers[0].Data = buf
	doc.Buffers[0].ByteLength = len(buf)
	doc.BufferViews = []*gltf.BufferView{
		{Buffer: 0, ByteOffset: 0, ByteLength: 12},
		{Buffer: 0, ByteOffset: 12, ByteLength: 36},
	}
	doc.Accessors = []*gltf.Accessor{
		{BufferView: gltf.Index(0), ComponentType: gltf.ComponentFloat, Count: 3, Type: gltf.AccessorScalar},
		{BufferView: gltf.Index(1), ComponentType: gltf.ComponentFloat, Count: 9, Type: gltf.AccessorScalar},
	}
	doc.Meshes[0].Extras = map[string]interface{}{"targetNames": []interface{}{"happy"}}
	doc.Animations[0].Channels = doc.Animations[0].Channels[1:]
	doc.Animations[0].Channels[0].Sampler = 0
	doc.Animations[0].Samplers = []*gltf.AnimationSampler{
		{Input: 0, Output: 1, Interpolation: gltf.InterpolationCubicSpline},
	}

	c, err := Decode(doc, rig.NewHumanoid(), preset.Nod)
	require.NoError(t, err)
	require.Len(t, c.Tracks, 1)
	assert.InDeltaSlice(t, []float32{0.1, 0.9, 0.3}, c.Tracks[0].Values, 1e-6)
}

func TestDecodeMalformedIndices(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(doc *gltf.Document)
	}{
		{"buffer view out of range", func(doc *gltf.Document) { doc.Accessors[0].BufferView = gltf.Index(7) }},
		{"buffer out of range", func(doc *gltf.Document) { doc.BufferViews[1].Buffer = 4 }},
		{"empty accessor", func(doc *gltf.Document) { doc.Accessors[1] = nil }},
		{"empty buffer view", func(doc *gltf.Document) { doc.BufferViews[0] = nil }},
		{"empty buffer", func(doc *gltf.Document) { doc.Buffers[0] = nil }},
		{"empty sampler", func(doc *gltf.Document) { doc.Animations[0].Samplers[0] = nil }},
		{"empty node", func(doc *gltf.Document) { doc.Nodes[0] = nil }},
		{"empty animation", func(doc *gltf.Document) { doc.Animations[0] = nil }},
		{"huge count", func(doc *gltf.Document) { doc.Accessors[0].Count = math.MaxInt32 }},
		{"negative offset", func(doc *gltf.Document) { doc.Accessors[1].ByteOffset = -64 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := nodDocument()
			tt.mutate(doc)
			assert.NotPanics(t, func() {
				_, err := Decode(doc, rig.NewHumanoid(), preset.Nod)
				assert.Error(t, err)
			})
		})
	}

	// an empty mesh only loses the weight channel
	doc := nodDocument()
	doc.Meshes[0] = nil
	c, err := Decode(doc, rig.NewHumanoid(), preset.Nod)
	require.NoError(t, err)
	assert.Len(t, c.Tracks, 3)
}

func TestManifestResolve(t *testing.T) {
	m, err := ParseManifest([]byte(`
root: /clips
assets:
  idle: idle.glb
  wave: https://cdn.example.com/wave.glb
fallbacks:
  celebrate: wave
  happy: celebrate
  sad: shrug
  shrug: sad
`))
	require.NoError(t, err)

	assert.Equal(t, preset.Idle, m.Resolve(preset.Idle))
	assert.Equal(t, preset.Wave, m.Resolve(preset.Wave))
	assert.Equal(t, preset.Wave, m.Resolve(preset.Celebrate))
	assert.Equal(t, preset.Wave, m.Resolve(preset.Happy))
	assert.Equal(t, preset.Idle, m.Resolve(preset.Sad))
	assert.Equal(t, preset.Idle, m.Resolve(preset.Nod))

	loc, ok := m.Location(preset.Idle)
	require.True(t, ok)
	assert.Equal(t, filepath.Join("/clips", "idle.glb"), loc)
	loc, _ = m.Location(preset.Wave)
	assert.Equal(t, "https://cdn.example.com/wave.glb", loc)
}

func TestManifestRejectsUnknownPresets(t *testing.T) {
	_, err := ParseManifest([]byte("assets:\n  moonwalk: mw.glb\n"))
	assert.ErrorIs(t, err, preset.ErrInvalidPreset)

	_, err = ParseManifest([]byte("fallbacks:\n  wave: moonwalk\n"))
	assert.ErrorIs(t, err, preset.ErrInvalidPreset)
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	err   error
	doc   func() *gltf.Document
}

func (f *fakeFetcher) Fetch(ctx context.Context, _ string) (*gltf.Document, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.doc != nil {
		return f.doc(), nil
	}
	return nodDocument(), nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testManifest() *Manifest {
	return &Manifest{
		Root:      "/clips",
		Assets:    map[string]string{preset.Nod: "nod.glb"},
		Fallbacks: map[string]string{preset.ShakeHead: preset.Nod},
	}
}

func TestLoaderCoalescesConcurrentLoads(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	l := NewLoader(testManifest(), rig.NewHumanoid(), f, zerolog.Nop())
	defer l.Close()

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := preset.Nod
			if i%2 == 1 {
				req = preset.ShakeHead
			}
			_, errs[i] = l.Load(context.Background(), req)
		}(i)
	}

	require.Eventually(t, func() bool { return f.Calls() == 1 }, time.Second, 5*time.Millisecond)
	close(f.gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.Calls())

	c, ok := l.Cached(preset.Nod)
	require.True(t, ok)
	again, err := l.Load(context.Background(), preset.Nod)
	require.NoError(t, err)
	assert.Same(t, c, again)
	assert.Equal(t, 1, f.Calls())
}

func TestLoaderFailureIsNotCached(t *testing.T) {
	f := &fakeFetcher{err: errors.New("connection reset")}
	l := NewLoader(testManifest(), rig.NewHumanoid(), f, zerolog.Nop())
	defer l.Close()

	_, err := l.Load(context.Background(), preset.Nod)
	assert.ErrorIs(t, err, ErrAssetLoad)
	_, ok := l.Cached(preset.Nod)
	assert.False(t, ok)

	_, err = l.Load(context.Background(), preset.Nod)
	assert.ErrorIs(t, err, ErrAssetLoad)
	assert.Equal(t, 2, f.Calls())
}

func TestLoaderMalformedAssetIsDropped(t *testing.T) {
	f := &fakeFetcher{doc: func() *gltf.Document {
		doc := nodDocument()
		doc.Accessors[0].BufferView = gltf.Index(7)
		return doc
	}}
	r := rig.NewHumanoid()
	l := NewLoader(testManifest(), r, f, zerolog.Nop())
	defer l.Close()

	_, err := l.Load(context.Background(), preset.Nod)
	assert.ErrorIs(t, err, ErrAssetLoad)
	_, ok := l.Cached(preset.Nod)
	assert.False(t, ok)

	// through the mixer: the failed load is dropped and idle keeps playing
	c := playback.NewController(r, clip.NewResolver(r, l, nil), playback.Options{Avatar: "test", Logger: zerolog.Nop()})
	defer c.Dispose()
	require.NoError(t, c.Play(preset.Idle, 0))
	require.NoError(t, c.Play(preset.Nod, 0.3))

	require.Eventually(t, func() bool {
		c.Update(0.01)
		_, pending := c.Pending()
		return !pending
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, preset.Idle, c.Current())
	assert.Len(t, c.Actions(), 1)
}

type panickyFetcher struct{}

func (panickyFetcher) Fetch(context.Context, string) (*gltf.Document, error) {
	panic("corrupt container")
}

func TestFetchPanicBecomesLoadError(t *testing.T) {
	l := NewLoader(testManifest(), rig.NewHumanoid(), panickyFetcher{}, zerolog.Nop())
	defer l.Close()

	assert.NotPanics(t, func() {
		_, err := l.Load(context.Background(), preset.Nod)
		assert.ErrorIs(t, err, ErrAssetLoad)
	})
}

func TestLoaderNoAsset(t *testing.T) {
	l := NewLoader(testManifest(), rig.NewHumanoid(), &fakeFetcher{}, zerolog.Nop())
	defer l.Close()

	// resolves to idle, which has no asset
	_, err := l.Load(context.Background(), preset.Wave)
	assert.ErrorIs(t, err, ErrAssetLoad)
}

func TestLoaderCloseDiscardsInFlight(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	l := NewLoader(testManifest(), rig.NewHumanoid(), f, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), preset.Nod)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.Calls() == 1 }, time.Second, 5*time.Millisecond)
	l.Close()
	close(f.gate)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDisposed)
	case <-time.After(time.Second):
		t.Fatal("load did not finish after close")
	}

	_, ok := l.Cached(preset.Nod)
	assert.False(t, ok)
	_, err := l.Load(context.Background(), preset.Nod)
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestLoaderCallerCancel(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	l := NewLoader(testManifest(), rig.NewHumanoid(), f, zerolog.Nop())
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Load(ctx, preset.Nod)
	assert.ErrorIs(t, err, context.Canceled)

	// the shared fetch still completes for later callers
	close(f.gate)
	_, err = l.Load(context.Background(), preset.Nod)
	assert.NoError(t, err)
}

func TestWatcherEvictsChangedAsset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nod.glb")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	m := &Manifest{Root: dir, Assets: map[string]string{preset.Nod: "nod.glb"}}
	l := NewLoader(m, rig.NewHumanoid(), &fakeFetcher{}, zerolog.Nop())
	defer l.Close()

	_, err := l.Load(context.Background(), preset.Nod)
	require.NoError(t, err)

	evicted := make(chan []string, 4)
	w, err := NewWatcher(l, zerolog.Nop(), func(names []string) { evicted <- names })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0644))

	select {
	case names := <-evicted:
		assert.Equal(t, []string{preset.Nod}, names)
	case <-time.After(2 * time.Second):
		t.Fatal("no eviction")
	}
	_, ok := l.Cached(preset.Nod)
	assert.False(t, ok)
}
