package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandlerExposesEngineMetrics(t *testing.T) {
	Avatars.Set(2)
	FrameDuration.Observe(0.001)
	CommandsRejected.WithLabelValues("invalid_preset").Inc()

	body := scrape(t)
	assert.Contains(t, body, "cortexmotion_avatars 2")
	assert.Contains(t, body, "cortexmotion_frame_duration_seconds_bucket")
	assert.Contains(t, body, `cortexmotion_commands_rejected_total{reason="invalid_preset"}`)
}
