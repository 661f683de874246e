package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/formloop/genwatch/internal/backend"
	"github.com/formloop/genwatch/internal/config"
	"github.com/formloop/genwatch/internal/genjobs"
	"github.com/formloop/genwatch/internal/httpapi"
	"github.com/formloop/genwatch/internal/observer"
	"github.com/formloop/genwatch/internal/readmodel"
	"github.com/formloop/genwatch/internal/realtime"
	"github.com/formloop/genwatch/internal/service"
	"github.com/formloop/genwatch/pkg/log"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	cache, err := readmodel.NewCache(cfg.System.CacheDBPath)
	if err != nil {
		log.Fatal("Failed to open read-model cache: %v", err)
	}
	defer cache.Close()

	store := genjobs.NewStore(cache, genjobs.WithTerminalListener(func(job genjobs.JobProjection) {
		if job.Status == genjobs.StatusFailed {
			log.Warn("Generation run %s for survey %s failed: %s", job.ID, job.SurveyID, job.Error)
			return
		}
		log.Info("Generation run %s for survey %s completed (%d/%d)",
			job.ID, job.SurveyID, job.GeneratedCount, job.TotalCount)
	}))

	client := backend.NewClient(cfg.Backend.APIURL, cfg.Backend.APIToken)
	channel := realtime.NewSSEClient(cfg.Backend.EventsURL, cfg.Backend.APIToken)
	controller := observer.NewController(client, channel, store, cfg.Observer)
	defer controller.Close()

	// Re-attach observers for the configured surveys so a restart picks
	// up runs that progressed while the daemon was down: poll first,
	// then layer push updates on top.
	for _, surveyID := range cfg.Schedule.SurveyIDs {
		controller.Observe(surveyID)
	}

	scheduler := service.NewScheduler(cfg.Schedule, controller, cron.New())
	server := httpapi.NewServer(controller, httpapi.WithScheduleExpr(cfg.Schedule.CronExpr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := scheduler.Schedule(ctx); err != nil {
		log.Fatal("Failed to schedule generation runs: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return channel.Run(ctx)
	})
	g.Go(func() error {
		log.Info("Listening on %s", cfg.System.HTTPAddr)
		err := server.ListenAndServe(cfg.System.HTTPAddr)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatal("genwatch exited: %v", err)
	}
}
