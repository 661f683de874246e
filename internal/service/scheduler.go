package service

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/formloop/genwatch/internal/config"
	"github.com/formloop/genwatch/internal/observer"
	"github.com/formloop/genwatch/pkg/log"
)

type generationStarter interface {
	StartGeneration(ctx context.Context, req observer.StartGenerationRequest) (*observer.StartOutcome, error)
}

// Scheduler kicks off generation runs for the configured surveys on a
// cron schedule. Overlapping triggers for the same survey collapse via
// singleflight; the backend's own resumption contract handles runs
// still in flight from a previous trigger.
type Scheduler struct {
	cfg     config.ScheduleConfig
	starter generationStarter
	cron    *cron.Cron
}

var singleflightGroup singleflight.Group

func NewScheduler(cfg config.ScheduleConfig, starter generationStarter, c *cron.Cron) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		starter: starter,
		cron:    c,
	}
}

// Schedule registers the cron entry and starts the cron runner. It is
// a no-op when no schedule is configured.
func (s *Scheduler) Schedule(ctx context.Context) error {
	if !s.cfg.Enabled() {
		log.Info("Scheduled generation disabled, no cron expression or surveys configured")
		return nil
	}

	_, err := s.cron.AddFunc(s.cfg.CronExpr, func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	log.Info("Scheduled generation for %d survey(s) on %q", len(s.cfg.SurveyIDs), s.cfg.CronExpr)
	return nil
}

// RunOnce triggers one generation round across the configured surveys.
func (s *Scheduler) RunOnce(ctx context.Context) {
	for _, surveyID := range s.cfg.SurveyIDs {
		id := surveyID
		_, err, _ := singleflightGroup.Do("generate:"+id, func() (any, error) {
			return s.starter.StartGeneration(ctx, observer.StartGenerationRequest{
				SurveyID:       id,
				RequestedCount: s.cfg.Count,
			})
		})
		if err != nil {
			var verr *observer.ValidationError
			if errors.As(err, &verr) {
				log.Warn("Scheduled generation for survey %s skipped: %v", id, err)
				continue
			}
			log.Error("Scheduled generation for survey %s failed: %v", id, err)
		}
	}
}

// Stop halts the cron runner and waits for in-flight entries.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
