package api

import (
	"net/http"

	"feedtriage/priority"

	"github.com/gin-gonic/gin"
)

// RegisterPriorityRoutes registers the scoring endpoint.
func RegisterPriorityRoutes(r *gin.Engine, s *Server) {
	r.POST("/api/priority/score", s.handleScore)
}

// ScoreRequest scores one item. Keyword lists that are omitted come from the
// keyword store; an empty list means no keywords.
type ScoreRequest struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Positive    []string `json:"positive"`
	Negative    []string `json:"negative"`
}

// ScoreResponse is the priority of an item.
type ScoreResponse struct {
	Score           float64  `json:"score"`
	MatchedKeywords []string `json:"matched_keywords"`
	Filtered        bool     `json:"filtered"`
}

func (s *Server) handleScore(c *gin.Context) {
	var req ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Positive == nil || req.Negative == nil {
		positive, negative, err := s.store.Keywords(c.Request.Context())
		if err != nil {
			s.internalError(c, "failed to load keywords", err)
			return
		}
		if req.Positive == nil {
			req.Positive = positive
		}
		if req.Negative == nil {
			req.Negative = negative
		}
	}

	score, matched := priority.Score(req.Title, req.Description, req.Positive, req.Negative)
	c.JSON(http.StatusOK, ScoreResponse{
		Score:           score,
		MatchedKeywords: matched,
		Filtered:        score == priority.Filtered,
	})
}
