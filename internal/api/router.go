// Package api exposes the read and control endpoints over gin.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulsefeed/pulsefeed/internal/scheduler"
	"github.com/pulsefeed/pulsefeed/internal/storage"
)

type Server struct {
	store     *storage.Store
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
}

func NewServer(store *storage.Store, sched *scheduler.Scheduler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: store, scheduler: sched, logger: logger.Named("api")}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/items", s.listItems)
		v1.GET("/items/:id/matches", s.itemMatches)
		v1.GET("/jobs", s.listJobs)
		v1.GET("/errors", s.listErrors)
		v1.GET("/stats", s.stats)

		v1.GET("/keywords", s.listKeywords)
		v1.POST("/keywords", s.createKeyword)
		v1.POST("/keywords/:id/activate", s.setKeywordActive(true))
		v1.POST("/keywords/:id/deactivate", s.setKeywordActive(false))

		v1.POST("/collect/:source", s.collect)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listItems(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	items, err := s.store.ListItems(c.Request.Context(), c.Query("source"), c.Query("sentiment"), limit)
	if err != nil {
		s.internalError(c, "list items", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "count": len(items)})
}

func (s *Server) itemMatches(c *gin.Context) {
	matches, err := s.store.MatchesForItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, "item matches", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": matches})
}

func (s *Server) listJobs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 {
		limit = 10
	}

	var sourceID uint
	if name := c.Query("source"); name != "" {
		src, err := s.store.GetSourceByName(c.Request.Context(), name)
		if err != nil {
			s.internalError(c, "resolve source", err)
			return
		}
		if src == nil {
			c.JSON(http.StatusOK, gin.H{"data": []storage.Job{}})
			return
		}
		sourceID = src.ID
	}

	jobs, err := s.store.RecentJobs(c.Request.Context(), sourceID, limit)
	if err != nil {
		s.internalError(c, "list jobs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": jobs})
}

func (s *Server) listErrors(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	recs, err := s.store.RecentErrors(c.Request.Context(), limit)
	if err != nil {
		s.internalError(c, "list errors", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": recs})
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.internalError(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":      stats,
		"scheduler": gin.H{"draining": s.scheduler.Draining()},
	})
}

func (s *Server) listKeywords(c *gin.Context) {
	kws, err := s.store.ListKeywords(c.Request.Context())
	if err != nil {
		s.internalError(c, "list keywords", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": kws})
}

type createKeywordRequest struct {
	Term     string `json:"term" binding:"required"`
	Category string `json:"category"`
}

func (s *Server) createKeyword(c *gin.Context) {
	var req createKeywordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "term is required"})
		return
	}

	kw, err := s.store.CreateKeyword(c.Request.Context(), req.Term, req.Category)
	if err != nil {
		s.internalError(c, "create keyword", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": kw})
}

func (s *Server) setKeywordActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid keyword id"})
			return
		}
		if err := s.store.SetKeywordActive(c.Request.Context(), uint(id), active); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// collect triggers one synchronous cycle for the named source. The response
// carries the terminal job record, so slow origins make for slow responses;
// operators use it for spot checks, not steady-state collection.
func (s *Server) collect(c *gin.Context) {
	job, err := s.scheduler.RunSource(c.Request.Context(), c.Param("source"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": job})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.Error(op, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
