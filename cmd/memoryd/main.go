package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/osok/project-memory/internal/data/graph"
	"github.com/osok/project-memory/internal/data/vector"
	"github.com/osok/project-memory/internal/handlers"
	"github.com/osok/project-memory/internal/jobs"
	"github.com/osok/project-memory/internal/modules/indexing"
	"github.com/osok/project-memory/internal/modules/memory"
	"github.com/osok/project-memory/internal/modules/normalize"
	"github.com/osok/project-memory/internal/platform/envutil"
	"github.com/osok/project-memory/internal/platform/logger"
	"github.com/osok/project-memory/internal/platform/neo4jdb"
	"github.com/osok/project-memory/internal/platform/openai"
	"github.com/osok/project-memory/internal/platform/qdrant"
	"github.com/osok/project-memory/internal/server"
)

func main() {
	// Logger
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Qdrant
	log.Info("Setting up vector store from main...")
	qdrantCfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		log.Error("Qdrant config invalid", "error", err)
		os.Exit(1)
	}
	qdrantClient, err := qdrant.NewClient(log, qdrantCfg)
	if err != nil {
		log.Error("Could not init Qdrant client", "error", err)
		os.Exit(1)
	}
	if err := qdrantClient.Ping(ctx); err != nil {
		log.Warn("Qdrant not reachable at startup", "error", err)
	}
	vectorStore, err := vector.NewStore(log, qdrantClient)
	if err != nil {
		log.Error("Could not init vector store", "error", err)
		os.Exit(1)
	}

	// Neo4j (optional: the system degrades to vector-only)
	log.Info("Setting up graph store from main...")
	neo4jClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Warn("Neo4j init failed, running vector-only", "error", err)
		neo4jClient = nil
	}
	graphStore, err := graph.NewStore(log, neo4jClient)
	if err != nil {
		log.Error("Could not init graph store", "error", err)
		os.Exit(1)
	}

	// Embeddings
	embedder, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init embedding client", "error", err)
		os.Exit(1)
	}

	// Job store: redis when configured, process-local otherwise.
	var jobStore jobs.Store
	if redisAddr := envutil.String("REDIS_ADDR", ""); redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: envutil.String("REDIS_PASSWORD", ""),
			DB:       envutil.Int("REDIS_DB", 0),
		})
		jobStore, err = jobs.NewRedisStore(redisClient)
		if err != nil {
			log.Error("Could not init redis job store", "error", err)
			os.Exit(1)
		}
	} else {
		jobStore = jobs.NewMemoryStore()
	}

	// Services
	log.Info("Setting up services from main...")
	memoryService := memory.NewService(log, vectorStore, graphStore, embedder)
	indexingService := indexing.NewService(log, memoryService, jobStore)
	normalizeService := normalize.NewService(log, memoryService, jobStore, normalize.DefaultConfig())

	// Handlers
	log.Info("Setting up handlers from main...")
	memoryHandler := handlers.NewMemoryHandler(memoryService)
	graphHandler := handlers.NewGraphHandler(graphStore)
	jobsHandler := handlers.NewJobsHandler(jobStore)
	maintenanceHandler := handlers.NewMaintenanceHandler(indexingService, normalizeService)

	// Router
	log.Info("Setting up router from main...")
	var origins []string
	if raw := envutil.String("CORS_ALLOW_ORIGINS", ""); raw != "" {
		origins = strings.Split(raw, ",")
	}
	router := server.NewRouter(server.RouterConfig{
		Mode:               envutil.String("GIN_MODE", "debug"),
		AllowOrigins:       origins,
		MemoryHandler:      memoryHandler,
		GraphHandler:       graphHandler,
		JobsHandler:        jobsHandler,
		MaintenanceHandler: maintenanceHandler,
	})

	port := envutil.String("PORT", "8080")
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
