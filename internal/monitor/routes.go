package monitor

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kingrea/cortex/internal/results"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).String(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	r.GET("/status", func(c *gin.Context) {
		s.mu.RLock()
		st := s.status
		s.mu.RUnlock()
		c.JSON(http.StatusOK, st)
	})

	r.GET("/results", func(c *gin.Context) {
		s.mu.RLock()
		phases := make([]string, 0, len(s.phases))
		for name := range s.phases {
			phases = append(phases, name)
		}
		s.mu.RUnlock()
		sort.Strings(phases)
		c.JSON(http.StatusOK, gin.H{"phases": phases})
	})

	r.GET("/results/:phase", func(c *gin.Context) {
		acc, ok := s.accumulator(c.Param("phase"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown phase"})
			return
		}
		c.JSON(http.StatusOK, acc.Snapshot())
	})

	r.GET("/results/:phase/:key", func(c *gin.Context) {
		acc, ok := s.accumulator(c.Param("phase"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown phase"})
			return
		}
		key := c.Param("key")
		history := acc.History(key)
		if history == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown key"})
			return
		}
		// Wrapped in a Snapshot so non-finite values survive encoding.
		c.JSON(http.StatusOK, results.Snapshot{Values: map[string][]float64{key: history}})
	})

	r.GET("/groups/:phase/:group", func(c *gin.Context) {
		acc, ok := s.accumulator(c.Param("phase"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown phase"})
			return
		}
		name := c.Param("group")
		group := acc.Group(name)
		if len(group) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown group"})
			return
		}
		c.JSON(http.StatusOK, results.Snapshot{Groups: map[string]map[string][]float64{name: group}})
	})

	r.GET("/runs", func(c *gin.Context) {
		if s.store == nil {
			c.JSON(http.StatusOK, gin.H{"runs": []string{}})
			return
		}
		ids, err := s.store.ListRuns(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": ids})
	})

	r.GET("/runs/:id", func(c *gin.Context) {
		if s.store == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no results store"})
			return
		}
		run, ok, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
			return
		}
		c.JSON(http.StatusOK, run)
	})
}
