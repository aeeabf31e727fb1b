package tc

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/galaxytx/galaxytx/txutil"
)

// HTTPServer exposes an admin/status surface alongside the binary TCP
// front door: health, per-xid status lookup, a paged listing of every
// global transaction, Prometheus scraping, and pprof debug routes.
type HTTPServer struct {
	engine      *gin.Engine
	coordinator *Coordinator
	registry    *prometheus.Registry
}

// NewHTTPServer builds the admin HTTP surface.
func NewHTTPServer(coordinator *Coordinator, registry *prometheus.Registry) *HTTPServer {
	s := &HTTPServer{engine: txutil.GetGinApp(), coordinator: coordinator, registry: registry}
	s.routes()
	return s
}

func (s *HTTPServer) routes() {
	s.engine.GET("/api/tc/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.engine.GET("/api/tc/status", txutil.WrapHandler(func(c *gin.Context) interface{} {
		xid := c.Query("xid")
		status, err := s.coordinator.Status(xid)
		if err != nil {
			return err
		}
		return gin.H{"xid": xid, "status": status}
	}))

	s.engine.POST("/api/tc/commit", txutil.WrapHandler(func(c *gin.Context) interface{} {
		var req struct {
			XID string `json:"xid"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			return err
		}
		if _, err := s.coordinator.Commit(context.Background(), req.XID); err != nil {
			return err
		}
		return gin.H{"xid": req.XID}
	}))

	s.engine.POST("/api/tc/rollback", txutil.WrapHandler(func(c *gin.Context) interface{} {
		var req struct {
			XID string `json:"xid"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			return err
		}
		if _, err := s.coordinator.Rollback(context.Background(), req.XID); err != nil {
			return err
		}
		return gin.H{"xid": req.XID}
	}))

	s.engine.GET("/api/tc/all", txutil.WrapHandler(func(c *gin.Context) interface{} {
		var position *string
		if p := c.Query("position"); p != "" {
			position = &p
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
		if err != nil || limit <= 0 {
			limit = 100
		}
		globals, err := s.coordinator.ScanGlobals(position, limit)
		if err != nil {
			return err
		}
		return gin.H{"globals": globals}
	}))

	s.engine.GET("/api/tc/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	pprof.Register(s.engine, "/api/tc/debug/pprof")
}

// Run blocks, serving HTTP on addr.
func (s *HTTPServer) Run(addr string) error {
	return s.engine.Run(addr)
}
