package ingress

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestAdminHealthReportsServerInfo(t *testing.T) {
	engine := gin.New()
	RegisterAdmin(engine, AdminInfo{ServerName: "routecodex", Version: "dev", Host: "0.0.0.0", Port: 8090})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
	require.Contains(t, rec.Body.String(), "routecodex")
}

func TestAdminConfigEchoesHostAndPort(t *testing.T) {
	engine := gin.New()
	RegisterAdmin(engine, AdminInfo{Host: "127.0.0.1", Port: 8090})

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "127.0.0.1")
	require.Contains(t, rec.Body.String(), "8090")
}

func TestAdminDebugRuntimeReflectsPipelineReady(t *testing.T) {
	engine := gin.New()
	RegisterAdmin(engine, AdminInfo{PipelineReady: func() bool { return false }})

	req := httptest.NewRequest(http.MethodGet, "/debug/runtime", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"pipelineReady":false`)
}

func TestAdminDebugRuntimeDefaultsToReadyWithNoCheck(t *testing.T) {
	engine := gin.New()
	RegisterAdmin(engine, AdminInfo{})

	req := httptest.NewRequest(http.MethodGet, "/debug/runtime", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Contains(t, rec.Body.String(), `"pipelineReady":true`)
}

func TestAdminDaemonAdminServesHTML(t *testing.T) {
	engine := gin.New()
	RegisterAdmin(engine, AdminInfo{})

	req := httptest.NewRequest(http.MethodGet, "/daemon/admin", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestAdminShutdownRejectsNonLoopback(t *testing.T) {
	engine := gin.New()
	RegisterAdmin(engine, AdminInfo{})

	req := httptest.NewRequest(http.MethodPost, "/shutdown", nil)
	req.RemoteAddr = "203.0.113.7:54321"
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminShutdownAcceptsLoopback(t *testing.T) {
	engine := gin.New()
	RegisterAdmin(engine, AdminInfo{})

	req := httptest.NewRequest(http.MethodPost, "/shutdown", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestIsLoopbackHandlesShortIPv6Port(t *testing.T) {
	require.True(t, isLoopback("[::1]:80"))
	require.True(t, isLoopback("127.0.0.1:8080"))
	require.False(t, isLoopback("203.0.113.7:54321"))
}

func TestAdminProvidersReturnsSnapshotFromFunc(t *testing.T) {
	engine := gin.New()
	RegisterAdmin(engine, AdminInfo{
		SnapshotProviders: func() []string { return []string{"p1", "p2"} },
	})

	req := httptest.NewRequest(http.MethodGet, "/providers", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "p1")
	require.Contains(t, rec.Body.String(), "p2")
}

func TestAdminProvidersDefaultsToEmptyWithNoFunc(t *testing.T) {
	engine := gin.New()
	RegisterAdmin(engine, AdminInfo{})

	req := httptest.NewRequest(http.MethodGet, "/providers", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"providers":null`)
}

func TestAdminQuotaHealthRoutingSnapshotsReturnProvidedValues(t *testing.T) {
	engine := gin.New()
	RegisterAdmin(engine, AdminInfo{
		SnapshotQuota:   func() interface{} { return map[string]string{"p1": "ok"} },
		SnapshotHealth:  func() interface{} { return map[string]string{"p1": "healthy"} },
		SnapshotRouting: func() interface{} { return []string{"session-1"} },
	})

	for _, tc := range []struct {
		path string
		want string
	}{
		{"/quota", "ok"},
		{"/health/providers", "healthy"},
		{"/routing", "session-1"},
	} {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, tc.path)
		require.Contains(t, rec.Body.String(), tc.want, tc.path)
	}
}
