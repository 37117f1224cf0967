package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.IncCommits("signed")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.CommitsTotal.WithLabelValues("signed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CommitsTotal.WithLabelValues("signed")))
}

func TestMiddleware_UsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/apps/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, id := range []string{"app_1", "app_2"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/apps/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/apps/:id", "204")))
	assert.Equal(t, int64(2), m.Snapshot().TotalRequests)
}

func TestTimer(t *testing.T) {
	m := NewMetrics()

	NewTimer(m, "registry", "commit").StopWithError(nil, "")
	NewTimer(m, "registry", "commit").StopWithError(errors.New("x"), "IO_ERROR")
	NewTimer(nil, "registry", "commit").Stop("success")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ServiceCalls.WithLabelValues("registry", "commit", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ServiceErrors.WithLabelValues("registry", "commit", "IO_ERROR")))
}

func TestHandler_Exposition(t *testing.T) {
	m := NewMetrics()
	m.SetRegistryApps("downloaded", 3)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `registry_apps{kind="downloaded"} 3`))
	assert.Contains(t, body, "registry_uptime_seconds")
}
