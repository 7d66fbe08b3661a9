// ABOUTME: Tests for metric registration and HTTP instrumentation
// ABOUTME: Reads counters back with prometheus testutil

package obs

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Idempotent(t *testing.T) {
	require.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(LicenseDecisions.WithLabelValues("granted", "org"))
	LicenseDecisions.WithLabelValues("granted", "org").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(LicenseDecisions.WithLabelValues("granted", "org")))
}

func TestInstrument_CapturesStatus(t *testing.T) {
	Register()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /teapot", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	Instrument(mux).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	metrics := httptest.NewRecorder()
	Handler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metrics.Body.String()
	assert.True(t, strings.Contains(body, `license_gateway_http_request_duration_seconds_count{method="GET",route="GET /teapot",status="418"}`), body)
}
