package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FrameDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cortexmotion_frame_duration_seconds",
			Help:    "Wall time spent in one engine update",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.033},
		},
	)

	FrameOverruns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexmotion_frame_overruns_total",
			Help: "Engine updates that exceeded the frame budget",
		},
	)

	Avatars = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortexmotion_avatars",
			Help: "Number of live avatars in the engine",
		},
	)

	Commands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexmotion_commands_total",
			Help: "Commands accepted by the engine",
		},
		[]string{"type"},
	)

	CommandsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexmotion_commands_rejected_total",
			Help: "Commands rejected before reaching an avatar",
		},
		[]string{"reason"},
	)

	AssetLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexmotion_asset_loads_total",
			Help: "Authored clip fetches by result",
		},
		[]string{"result"},
	)

	AssetCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexmotion_asset_cache_hits_total",
			Help: "Authored clip requests served from cache",
		},
	)

	CrossFades = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexmotion_crossfades_total",
			Help: "Clip transitions started",
		},
	)

	ActiveTweens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortexmotion_active_tweens",
			Help: "Pose tweens currently scheduled across all avatars",
		},
	)

	LipSyncSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortexmotion_lipsync_sessions",
			Help: "Lip-sync sessions currently analyzing audio",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
