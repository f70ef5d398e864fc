package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/healthpulse/pulse/internal/interfaces"
	"github.com/healthpulse/pulse/internal/models"
	"github.com/healthpulse/pulse/internal/services/extraction"
	"github.com/healthpulse/pulse/internal/services/jobs"
)

// Service kicks READY jobs on a cron schedule. Job documents themselves are
// created by the external scheduler surface; this service only starts the
// ones that are due.
type Service struct {
	controller   *jobs.Controller
	jobStorage   interfaces.JobStorage
	integrations interfaces.IntegrationStorage
	tenants      []int
	cron         *cron.Cron
	logger       arbor.ILogger
}

// NewService creates the scheduler.
func NewService(
	controller *jobs.Controller,
	jobStorage interfaces.JobStorage,
	integrations interfaces.IntegrationStorage,
	tenants []int,
	logger arbor.ILogger,
) *Service {
	return &Service{
		controller:   controller,
		jobStorage:   jobStorage,
		integrations: integrations,
		tenants:      tenants,
		logger:       logger,
	}
}

// Start registers the kick job on the given cron schedule.
func (s *Service) Start(schedule string) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, s.kickReadyJobs); err != nil {
		return err
	}
	s.cron.Start()

	s.logger.Info().
		Str("schedule", schedule).
		Int("tenants", len(s.tenants)).
		Msg("Scheduler started")

	return nil
}

// kickReadyJobs starts every READY job across the configured tenants.
func (s *Service) kickReadyJobs() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, tenantID := range s.tenants {
		jobList, err := s.jobStorage.ListJobsByStatus(ctx, tenantID, models.JobReady)
		if err != nil {
			s.logger.Warn().Err(err).Int("tenant_id", tenantID).Msg("Failed to list READY jobs")
			continue
		}

		for _, job := range jobList {
			integ, err := s.integrations.GetIntegration(ctx, tenantID, job.IntegrationID)
			if err != nil || !integ.Active {
				continue
			}

			first, err := extraction.FirstStep(integ.Provider)
			if err != nil {
				s.logger.Warn().
					Err(err).
					Str("provider", string(integ.Provider)).
					Msg("No step sequence for provider")
				continue
			}

			if err := s.controller.StartJob(ctx, tenantID, job.JobID, first.Name); err != nil {
				s.logger.Warn().
					Err(err).
					Str("job_id", job.JobID).
					Msg("Failed to start job")
			}
		}
	}
}

// Stop halts the cron loop, waiting for a running kick to finish.
func (s *Service) Stop() error {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}
