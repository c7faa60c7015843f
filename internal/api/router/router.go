package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/agent-worker/internal/api/handler"
)

// UpdateJobPath is where workers post status updates
const UpdateJobPath = "/redis.updateJob"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":   "unhealthy",
					"service":  "job-api-service",
					"database": "down",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"service":  "job-api-service",
			"database": "up",
		})
	})

	jobHandler := handler.NewJobHandler(deps)

	// Worker status reports, at the root and under the /trpc prefix
	r.POST(UpdateJobPath, jobHandler.UpdateJob)
	r.POST("/trpc"+UpdateJobPath, jobHandler.UpdateJob)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Create and queue a search job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)
		}
	}

	return r
}
