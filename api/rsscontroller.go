package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"feedtriage/types"

	"github.com/gin-gonic/gin"
)

// RegisterRSSRoutes registers fetch and stats endpoints.
func RegisterRSSRoutes(r *gin.Engine, s *Server) {
	r.POST("/api/fetch", s.handleFetch)
	r.GET("/api/stats", s.handleStats)
	r.GET("/api/news", s.handleNews)
}

const (
	defaultNewsLimit = 20
	defaultNewsHours = 24
)

// NewsQuery selects news the way the viewer does. Without a mode, a q
// parameter means search and anything else lists unprocessed news.
type NewsQuery struct {
	Mode     string `form:"mode" binding:"omitempty,oneof=unprocessed top recent search"`
	Category string `form:"category" binding:"omitempty,max=100"`
	Hours    int    `form:"hours" binding:"omitempty,min=1,max=720"`
	Q        string `form:"q" binding:"omitempty,max=200"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=200"`
}

func (q NewsQuery) filter() types.NewsFilter {
	f := types.NewsFilter{
		Mode:     q.Mode,
		Category: q.Category,
		Hours:    q.Hours,
		Keyword:  strings.TrimSpace(q.Q),
		Limit:    q.Limit,
	}
	if f.Mode == "" {
		f.Mode = types.NewsUnprocessed
		if f.Keyword != "" {
			f.Mode = types.NewsSearch
		}
	}
	if f.Mode == types.NewsTop && f.Hours == 0 {
		f.Hours = defaultNewsHours
	}
	if f.Limit == 0 {
		f.Limit = defaultNewsLimit
	}
	return f
}

// FetchRequest optionally limits a fetch to one category.
type FetchRequest struct {
	Category string `json:"category"`
}

// handleFetch runs a fetch synchronously and returns its summary. The run
// stops when the client goes away.
func (s *Server) handleFetch(c *gin.Context) {
	var req FetchRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := s.runner.RunFetch(c.Request.Context(), req.Category)
	if err != nil {
		if run != nil {
			s.log.Warn("fetch run interrupted", "run", run.ID, "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "summary": run.Summary})
			return
		}
		s.internalError(c, "fetch failed", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.internalError(c, "failed to load stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleNews lists stored news in one of the viewer modes.
func (s *Server) handleNews(c *gin.Context) {
	var q NewsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f := q.filter()
	if f.Mode == types.NewsSearch && f.Keyword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "search needs a q parameter"})
		return
	}

	news, err := s.store.ListNews(c.Request.Context(), f)
	if err != nil {
		s.internalError(c, "failed to load news", err)
		return
	}
	if news == nil {
		news = []types.NewsItem{}
	}
	c.JSON(http.StatusOK, gin.H{"mode": f.Mode, "count": len(news), "news": news})
}
