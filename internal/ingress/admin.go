package ingress

import (
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

// AdminInfo carries the static fields echoed by the administrative
// endpoints (spec §6): GET /health, GET /config, GET /debug/runtime.
// The Snapshot* funcs are optional; when set they back the read-only
// provider/quota/health/routing snapshot endpoints recovered from the
// teacher's admin dashboard (spec §5). They are funcs rather than direct
// references so this package never needs to import internal/dispatch.
type AdminInfo struct {
	ServerName    string
	Version       string
	Host          string
	Port          int
	PipelineReady func() bool

	SnapshotProviders func() []string
	SnapshotQuota     func() interface{}
	SnapshotHealth    func() interface{}
	SnapshotRouting   func() interface{}

	// ExportConfig renders the active configuration in the requested
	// format ("yaml" or "json"). Optional; GET /config/export answers
	// 501 when unset.
	ExportConfig func(format string) ([]byte, error)
}

// RegisterAdmin mounts the administrative endpoints from spec §6.
func RegisterAdmin(root gin.IRouter, info AdminInfo) {
	root.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "server": info.ServerName, "version": info.Version})
	})

	root.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"host": info.Host, "port": info.Port})
	})

	root.GET("/config/export", func(c *gin.Context) {
		if info.ExportConfig == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "config export unavailable"})
			return
		}
		format := c.DefaultQuery("format", "yaml")
		data, err := info.ExportConfig(format)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		contentType := "application/x-yaml"
		if strings.ToLower(format) == "json" {
			contentType = "application/json"
		}
		c.Data(http.StatusOK, contentType, data)
	})

	root.GET("/debug/runtime", func(c *gin.Context) {
		ready := true
		if info.PipelineReady != nil {
			ready = info.PipelineReady()
		}
		c.JSON(http.StatusOK, gin.H{"pipelineReady": ready})
	})

	root.GET("/daemon/admin", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(daemonAdminHTML))
	})

	root.GET("/providers", func(c *gin.Context) {
		var providers []string
		if info.SnapshotProviders != nil {
			providers = info.SnapshotProviders()
		}
		c.JSON(http.StatusOK, gin.H{"providers": providers})
	})

	root.GET("/quota", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"quota": snapshotOrEmpty(info.SnapshotQuota)})
	})

	root.GET("/health/providers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"health": snapshotOrEmpty(info.SnapshotHealth)})
	})

	root.GET("/routing", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"routing": snapshotOrEmpty(info.SnapshotRouting)})
	})

	root.POST("/shutdown", func(c *gin.Context) {
		if !isLoopback(c.Request.RemoteAddr) {
			c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": "loopback only"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
		go func() {
			time.Sleep(50 * time.Millisecond)
			p, err := os.FindProcess(os.Getpid())
			if err == nil {
				_ = p.Signal(syscall.SIGTERM)
			}
		}()
	})
}

func snapshotOrEmpty(fn func() interface{}) interface{} {
	if fn == nil {
		return gin.H{}
	}
	return fn()
}

func isLoopback(remoteAddr string) bool {
	return strings.HasPrefix(remoteAddr, "127.0.0.1") || strings.HasPrefix(remoteAddr, "[::1]")
}

const daemonAdminHTML = `<!DOCTYPE html>
<html>
<head><title>routecodex daemon admin</title></head>
<body><h1>routecodex</h1><p>daemon admin placeholder</p></body>
</html>`
