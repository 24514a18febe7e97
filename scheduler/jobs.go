// Package scheduler runs the daily dashboard update and the retention purge.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"crypto_dashboard/logger"
	"crypto_dashboard/models"
	"crypto_dashboard/services/pipeline"

	"github.com/go-co-op/gocron"
)

const (
	TagUpdate = "dashboard-update"
	TagPurge  = "retention-purge"

	jobTimeout = 5 * time.Minute
)

// Runner executes one pipeline run
type Runner interface {
	Run(ctx context.Context) *pipeline.Result
}

// Purger deletes data past the retention window
type Purger interface {
	PurgeOlderThan(ctx context.Context, retentionDays int) (*models.PurgeResult, error)
}

type Options struct {
	Location      *time.Location
	UpdateAt      string // "HH:MM"
	PurgeAt       string // "HH:MM"
	RetentionDays int
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron          *gocron.Scheduler
	runner        Runner
	purger        Purger
	retentionDays int
	log           *logger.Entry
}

// NewScheduler registers the update and purge jobs without starting them
func NewScheduler(runner Runner, purger Purger, opts Options) (*Scheduler, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	cron := gocron.NewScheduler(loc)
	cron.SingletonModeAll()

	s := &Scheduler{
		cron:          cron,
		runner:        runner,
		purger:        purger,
		retentionDays: opts.RetentionDays,
		log:           logger.GetLogger().WithComponent("scheduler"),
	}

	// Daily dashboard update
	if _, err := cron.Every(1).Day().At(opts.UpdateAt).Tag(TagUpdate).Do(s.runUpdate); err != nil {
		return nil, fmt.Errorf("schedule update at %q: %w", opts.UpdateAt, err)
	}

	// Daily cleanup of old snapshots and run logs
	if purger != nil {
		if _, err := cron.Every(1).Day().At(opts.PurgeAt).Tag(TagPurge).Do(s.runPurge); err != nil {
			return nil, fmt.Errorf("schedule purge at %q: %w", opts.PurgeAt, err)
		}
	}

	return s, nil
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	s.cron.StartAsync()
	s.log.WithField("jobs", len(s.cron.Jobs())).Info("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info("Scheduler stopped")
}

// Tags lists the tags of every registered job
func (s *Scheduler) Tags() []string {
	var tags []string
	for _, job := range s.cron.Jobs() {
		tags = append(tags, job.Tags()...)
	}
	return tags
}

func (s *Scheduler) runUpdate() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.RunUpdate(ctx)
}

func (s *Scheduler) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.RunPurge(ctx)
}

// RunUpdate performs one scheduled dashboard update
func (s *Scheduler) RunUpdate(ctx context.Context) *pipeline.Result {
	s.log.Info("Scheduled dashboard update triggered")
	result := s.runner.Run(ctx)
	if !result.Succeeded() {
		s.log.WithError(result.Err).WithField("state", result.State).Warn("Scheduled dashboard update failed")
	}
	return result
}

// RunPurge removes data older than the retention window
func (s *Scheduler) RunPurge(ctx context.Context) (*models.PurgeResult, error) {
	s.log.WithField("retention_days", s.retentionDays).Info("Cleaning up old data...")
	result, err := s.purger.PurgeOlderThan(ctx, s.retentionDays)
	if err != nil {
		s.log.WithError(err).Error("Error cleaning up old data")
		return nil, err
	}
	return result, nil
}
