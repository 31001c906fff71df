// One-shot pipeline run for cron environments and manual operation.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/engagement-sync/internal/activecampaign"
	"github.com/ignite/engagement-sync/internal/config"
	"github.com/ignite/engagement-sync/internal/domain"
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

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancel()

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
		}
	}

	// The run lock guards against overlap with a server-scheduled run.
	lock := distlock.NewAdvisoryLock(db, "engagement-sync:pipeline-run")
	acquired, err := lock.TryAcquire(context.Background())
	if err != nil {
		log.Fatalf("Failed to acquire run lock: %v", err)
	}
	if !acquired {
		log.Fatal("Another pipeline run is in progress")
	}
	defer lock.Release(context.Background())

	exec := runner.Run(context.Background())
	if exec.Status == domain.ExecutionFailed {
		os.Exit(1)
	}
}
