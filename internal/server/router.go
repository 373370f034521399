package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/osok/project-memory/internal/handlers"
)

type RouterConfig struct {
	Mode               string
	AllowOrigins       []string
	MemoryHandler      *handlers.MemoryHandler
	GraphHandler       *handlers.GraphHandler
	JobsHandler        *handlers.JobsHandler
	MaintenanceHandler *handlers.MaintenanceHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Requested-With"},
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.GET("/jobs/:id", cfg.JobsHandler.Get)
		api.DELETE("/jobs/:id", cfg.JobsHandler.Cancel)

		project := api.Group("/projects/:project")
		{
			project.POST("/memories", cfg.MemoryHandler.Create)
			project.POST("/memories/bulk", cfg.MemoryHandler.Bulk)
			project.GET("/memories/:type", cfg.MemoryHandler.List)
			project.GET("/memories/:type/:id", cfg.MemoryHandler.Get)
			project.PATCH("/memories/:type/:id", cfg.MemoryHandler.Update)
			project.DELETE("/memories/:type/:id", cfg.MemoryHandler.Delete)
			project.GET("/memories/:type/:id/related", cfg.MemoryHandler.Related)

			project.POST("/search", cfg.MemoryHandler.Search)
			project.GET("/statistics", cfg.MemoryHandler.Statistics)
			project.GET("/export", cfg.MemoryHandler.Export)
			project.POST("/import", cfg.MemoryHandler.Import)

			project.POST("/graph/query", cfg.GraphHandler.Query)

			project.POST("/index", cfg.MaintenanceHandler.Index)
			project.POST("/normalize", cfg.MaintenanceHandler.Normalize)
		}
	}

	return router
}
