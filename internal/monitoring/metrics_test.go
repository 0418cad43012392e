package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordHTTPRequest("GET", "/api/account/alias", "200", 10*time.Millisecond, 0, 128)
	m.RecordHTTPRequest("GET", "/api/account/alias", "200", 20*time.Millisecond, 0, 128)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/account/alias", "200")))

	m.ObserveDirectory("search", time.Millisecond, nil)
	m.ObserveDirectory("modify", time.Millisecond, errors.New("no such attribute"))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DirectoryErrorsTotal.WithLabelValues("search")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DirectoryErrorsTotal.WithLabelValues("modify")))

	m.RecordAliasOperation("create", "success")
	m.RecordAliasOperation("create", "AliasAlreadyExists")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AliasOperationsTotal.WithLabelValues("create", "success")))

	m.RecordLogin("InvalidCredentials")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues("InvalidCredentials")))

	m.RecordPanic()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PanicsTotal))

	m.RecordRateLimitBlock("login")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitBlocks.WithLabelValues("login")))

	m.UpdateSystemMetrics()
	assert.Greater(t, testutil.ToFloat64(m.Goroutines), 0.0)
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	// 每个实例使用独立的注册表，重复创建不会 panic
	require.NotPanics(t, func() {
		NewMetrics()
		NewMetrics()
	})
}

func TestMetrics_HTTPHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordLogin("success")

	w := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `aliasmanager_login_attempts_total{result="success"} 1`)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
