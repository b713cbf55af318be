package api

import (
	"context"
	"net/http"
	"time"

	"feedtriage/deduplication"
	"feedtriage/logging"
	"feedtriage/orchestrator"
	"feedtriage/types"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// DuplicateChecker checks an item against the live duplicate cache.
type DuplicateChecker interface {
	CheckForDuplicates(ctx context.Context, title, description string) (*deduplication.DeduplicationResult, error)
	Threshold() float64
}

// FetchRunner runs a fetch over the configured sources.
type FetchRunner interface {
	RunFetch(ctx context.Context, category string) (*orchestrator.FetchRun, error)
}

// Store supplies keywords, stored news and database statistics.
type Store interface {
	Keywords(ctx context.Context) (positive, negative []string, err error)
	ListNews(ctx context.Context, f types.NewsFilter) ([]types.NewsItem, error)
	Stats(ctx context.Context) (*types.Stats, error)
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	dedup          DuplicateChecker
	runner         FetchRunner
	store          Store
	batchThreshold float64
	log            *log.Logger
	started        time.Time
}

// NewServer creates a Server. batchThreshold is the default for batch
// deduplication requests.
func NewServer(dedup DuplicateChecker, runner FetchRunner, store Store, batchThreshold float64, logger *log.Logger) *Server {
	if batchThreshold <= 0 {
		batchThreshold = deduplication.DefaultBatchThreshold
	}
	return &Server{
		dedup:          dedup,
		runner:         runner,
		store:          store,
		batchThreshold: batchThreshold,
		log:            logging.OrDiscard(logger).WithPrefix("api"),
		started:        time.Now(),
	}
}

// NewRouter constructs a Gin engine with registered routes.
func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	// Minimal middleware: recovery; requests are logged by requestLogger
	r.Use(gin.Recovery(), s.requestLogger())

	// Register resource routers
	RegisterHealthRoutes(r, s)
	RegisterDeduplicationRoutes(r, s)
	RegisterPriorityRoutes(r, s)
	RegisterRSSRoutes(r, s)
	return r
}

// RegisterHealthRoutes registers the liveness endpoint.
func RegisterHealthRoutes(r *gin.Engine, s *Server) {
	r.GET("/api/health", s.handleHealth)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.log.Error(msg, "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg + ": " + err.Error()})
}
