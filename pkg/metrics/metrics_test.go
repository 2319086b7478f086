package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := NewCollector(nil)

	c.SessionCreated("chat", "terminating")
	c.SessionCreated("chat", "originating")
	c.StateTransition("chat", "CREATED", "RINGING_SENT")
	c.SessionEstablished("chat", 2*time.Second)
	c.SessionFinished("chat", "ESTABLISHED")
	c.UploadFinished("SUCCEEDED")
	c.UploadedBytes(1024)
	c.UploadedBytes(-1)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.sessionsActive.WithLabelValues("chat")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.sessionsTotal.WithLabelValues("chat", "terminating")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.sessionOutcomes.WithLabelValues("chat", "ESTABLISHED")))
	assert.Equal(t, float64(1024), testutil.ToFloat64(c.uploadedBytes))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "rcs_session_created_total"))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SessionCreated("ip_call", "terminating")
		c.SessionFinished("ip_call", "FAILED")
		c.StateTransition("ip_call", "a", "b")
		c.SessionEstablished("ip_call", time.Second)
		c.UploadFinished("FAILED")
		c.UploadedBytes(10)
	})
	assert.Nil(t, c.Registry())
}
