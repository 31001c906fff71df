package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/engagement-sync/internal/activecampaign"
	"github.com/ignite/engagement-sync/internal/api"
	"github.com/ignite/engagement-sync/internal/config"
	"github.com/ignite/engagement-sync/internal/engagement"
	"github.com/ignite/engagement-sync/internal/hotmart"
	"github.com/ignite/engagement-sync/internal/ingest"
	"github.com/ignite/engagement-sync/internal/memberkit"
	"github.com/ignite/engagement-sync/internal/membership"
	"github.com/ignite/engagement-sync/internal/pipeline"
	"github.com/ignite/engagement-sync/internal/pkg/distlock"
	"github.com/ignite/engagement-sync/internal/pkg/logger"
)

func main() {
	log.Println("Starting engagement-sync server...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Printf("Redis unavailable (%v), falling back to Postgres advisory lock", err)
			rdb = nil
		}
	}

	members := membership.NewStore(db)
	states := engagement.NewStore(db)
	executions := pipeline.NewStore(db)

	crm := activecampaign.NewClient(activecampaign.Config{
		BaseURL:  cfg.ActiveCampaign.BaseURL,
		APIToken: cfg.ActiveCampaign.APIToken,
	})

	var sources []ingest.Source
	if cfg.Hotmart.Enabled {
		clubs := make([]hotmart.Club, 0, len(cfg.Hotmart.Clubs))
		for _, c := range cfg.Hotmart.Clubs {
			clubs = append(clubs, hotmart.Club{
				Subdomain:   c.Subdomain,
				ProductCode: c.ProductCode,
				ProductName: c.ProductName,
			})
		}
		sources = append(sources, hotmart.NewClient(hotmart.Config{
			BaseURL:      cfg.Hotmart.BaseURL,
			TokenURL:     cfg.Hotmart.TokenURL,
			ClientID:     cfg.Hotmart.ClientID,
			ClientSecret: cfg.Hotmart.ClientSecret,
			PageSize:     cfg.Hotmart.PageSize,
			Clubs:        clubs,
		}, cfg.Pipeline.CallDelay()))
	}
	if cfg.Memberkit.Enabled {
		sources = append(sources, memberkit.NewClient(memberkit.Config{
			BaseURL:  cfg.Memberkit.BaseURL,
			APIKey:   cfg.Memberkit.APIKey,
			PageSize: cfg.Memberkit.PageSize,
		}, cfg.Pipeline.CallDelay()))
	}
	log.Printf("Ingestion sources enabled: %d", len(sources))

	builder := &pipeline.Builder{
		Ingestor:            ingest.NewIngestor(members),
		Sources:             sources,
		Recalc:              states,
		Pairs:               members,
		CRM:                 crm,
		States:              states,
		CallTimeout:         cfg.Pipeline.CallTimeout(),
		CallDelay:           cfg.Pipeline.CallDelay(),
		ProgressStepPercent: cfg.Pipeline.ProgressStepPercent,
		MaxSummaryErrors:    cfg.Pipeline.MaxSummaryErrors,
		Pruner:              states,
		RetentionDays:       cfg.Pipeline.AuditRetentionDays,
	}
	runner := pipeline.NewRunner(builder.Stages, executions, cfg.Pipeline.MaxSummaryErrors)

	if cfg.Archive.Enabled && cfg.Archive.Bucket != "" {
		archive, err := pipeline.NewS3Archive(context.Background(), cfg.Archive.Bucket, cfg.Archive.Region, cfg.Archive.Prefix)
		if err != nil {
			log.Printf("Execution archive disabled: %v", err)
		} else {
			archive.SetStateCounter(states)
			runner.SetArchiver(archive)
			log.Printf("Execution archive enabled: s3://%s", cfg.Archive.Bucket)
		}
	}

	lock := distlock.New(rdb, db, "engagement-sync:pipeline-run", cfg.Pipeline.LockTTL())
	scheduler := pipeline.NewScheduler(runner, lock, cfg.Pipeline.RunHourUTC)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.Start(ctx)

	handlers := api.NewHandlers(executions, members, states, scheduler)
	server := api.NewServer(cfg.Server, handlers)
	go func() {
		if err := server.ListenAndServe(); err != nil {
			log.Printf("API server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	log.Println("Server stopped")
}
