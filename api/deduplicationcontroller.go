package api

import (
	"net/http"

	"feedtriage/deduplication"
	"feedtriage/types"

	"github.com/gin-gonic/gin"
)

// RegisterDeduplicationRoutes registers deduplication service endpoints.
func RegisterDeduplicationRoutes(r *gin.Engine, s *Server) {
	g := r.Group("/api/deduplication")
	g.POST("/check", s.handleCheckDuplicate)
	g.POST("/similarity", s.handleSimilarity)
	g.POST("/batch", s.handleBatch)
}

// ItemText is the part of an item the duplicate checks look at.
type ItemText struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// SimilarityRequest compares two items.
type SimilarityRequest struct {
	A ItemText `json:"a" binding:"required"`
	B ItemText `json:"b" binding:"required"`
}

// SimilarityResponse is the score of a pair and whether live ingestion
// would treat them as the same story.
type SimilarityResponse struct {
	Similarity  float64 `json:"similarity"`
	Threshold   float64 `json:"threshold"`
	IsDuplicate bool    `json:"is_duplicate"`
}

// BatchRequest is a set of items to collapse. Threshold defaults to the
// batch threshold.
type BatchRequest struct {
	Items     []types.NewsItem `json:"items" binding:"required"`
	Threshold float64          `json:"threshold"`
}

// BatchResponse lists one survivor per group, in group order.
type BatchResponse struct {
	Items  []types.NewsItem `json:"items"`
	Input  int              `json:"input"`
	Groups int              `json:"groups"`
}

// handleCheckDuplicate checks an item against the live cache without recording it
func (s *Server) handleCheckDuplicate(c *gin.Context) {
	var req ItemText
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.dedup.CheckForDuplicates(c.Request.Context(), req.Title, req.Description)
	if err != nil {
		s.internalError(c, "failed to check duplicates", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleSimilarity scores two items against each other
func (s *Server) handleSimilarity(c *gin.Context) {
	var req SimilarityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	score := deduplication.Similarity(req.A.Title, req.A.Description, req.B.Title, req.B.Description)
	threshold := s.dedup.Threshold()
	c.JSON(http.StatusOK, SimilarityResponse{
		Similarity:  score,
		Threshold:   threshold,
		IsDuplicate: score >= threshold,
	})
}

// handleBatch groups near-duplicates and keeps the best item of each group
func (s *Server) handleBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	threshold := req.Threshold
	if threshold == 0 {
		threshold = s.batchThreshold
	}
	if threshold < 0 || threshold > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be within (0, 1]"})
		return
	}

	survivors, groups := deduplication.DeduplicateBatchWithGroups(req.Items, threshold)
	c.JSON(http.StatusOK, BatchResponse{
		Items:  survivors,
		Input:  len(req.Items),
		Groups: len(groups),
	})
}
