package pipeline

import (
	"context"
	"fmt"
	"time"

	"crypto_dashboard/logger"
	"crypto_dashboard/metrics"
	"crypto_dashboard/models"
	"crypto_dashboard/services/archive"
)

// TopN is the number of assets tracked per run
const TopN = 10

// recordTimeout bounds the run-log and archive writes, which outlive the
// caller's context
const recordTimeout = 30 * time.Second

// Fetcher returns exactly n normalized quotes or an error
type Fetcher interface {
	FetchTop(ctx context.Context, n int) ([]models.Quote, error)
}

// Store is the part of the persistence layer the pipeline writes through
type Store interface {
	StoreSnapshot(ctx context.Context, quotes []models.Quote) (*models.Batch, error)
	LogRun(ctx context.Context, entry models.RunLogEntry) error
}

// Notifier delivers the run summary and failure alerts. The bool reports
// whether a message was actually dispatched.
type Notifier interface {
	SendSummary(ctx context.Context, quotes []models.Quote) (bool, error)
	SendErrorAlert(ctx context.Context, message string) (bool, error)
}

// CacheInvalidator drops cached read models after new data is stored
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Archiver mirrors finished runs to secondary storage
type Archiver interface {
	Archive(ctx context.Context, doc archive.RunDocument) error
}

type State string

const (
	StateFetching    State = "fetching"
	StateStoring     State = "storing"
	StateNotifying   State = "notifying"
	StateLogging     State = "logging"
	StateDone        State = "done"
	StateFetchFailed State = "fetch_failed"
	StateStoreFailed State = "store_failed"
)

const (
	msgFetchFailed = "Failed to fetch cryptocurrency data from CoinGecko API"
	msgStoreFailed = "Failed to store cryptocurrency data in database"
)

// Result describes one finished run. Status is decided by fetch and store
// alone; notify and log failures only show up in NotificationSent and LogErr.
type Result struct {
	Status           models.RunStatus `json:"status"`
	State            State            `json:"state"`
	Message          string           `json:"message"`
	RanAt            time.Time        `json:"ran_at"`
	AssetsUpdated    int              `json:"assets_updated"`
	NotificationSent bool             `json:"notification_sent"`
	BatchID          string           `json:"batch_id,omitempty"`
	Err              error            `json:"-"`
	LogErr           error            `json:"-"`
}

func (r *Result) Succeeded() bool {
	return r.Status == models.RunStatusSuccess
}

// Pipeline sequences fetch → store → notify → log for one run
type Pipeline struct {
	fetcher  Fetcher
	store    Store
	notifier Notifier
	cache    CacheInvalidator
	archiver Archiver
	topN     int
	now      func() time.Time
	log      *logger.Entry
}

type Option func(*Pipeline)

func WithCache(c CacheInvalidator) Option {
	return func(p *Pipeline) {
		p.cache = c
	}
}

func WithArchiver(a Archiver) Option {
	return func(p *Pipeline) {
		p.archiver = a
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func New(fetcher Fetcher, store Store, notifier Notifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:  fetcher,
		store:    store,
		notifier: notifier,
		topN:     TopN,
		now:      time.Now,
		log:      logger.GetLogger().WithComponent("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one pipeline run to completion
func (p *Pipeline) Run(ctx context.Context) *Result {
	start := p.now()
	result := &Result{RanAt: start.UTC(), State: StateFetching}
	p.log.Info("Starting cryptocurrency dashboard update")

	quotes, err := p.fetcher.FetchTop(ctx, p.topN)
	if err != nil {
		return p.fail(ctx, result, StateFetchFailed, msgFetchFailed, err, start)
	}

	result.State = StateStoring
	batch, err := p.store.StoreSnapshot(ctx, quotes)
	if err != nil {
		return p.fail(ctx, result, StateStoreFailed, msgStoreFailed, err, start)
	}
	result.BatchID = batch.ID
	result.AssetsUpdated = len(quotes)
	p.invalidateCache(ctx)

	result.State = StateNotifying
	sent, err := p.notifier.SendSummary(ctx, quotes)
	if err != nil {
		p.log.WithError(err).Warn("Daily summary was not sent")
		metrics.RecordStageFailure("notify")
		sent = false
	}
	metrics.RecordNotification("summary", sent)
	result.NotificationSent = sent

	result.State = StateLogging
	result.LogErr = p.logRun(ctx, models.RunLogEntry{
		Status:           models.RunStatusSuccess,
		NotificationSent: sent,
		BatchID:          batch.ID,
		Quotes:           quotes,
	})
	if result.LogErr != nil {
		p.log.WithError(result.LogErr).Error("Failed to record successful run")
		metrics.RecordStageFailure("log")
	}

	result.State = StateDone
	result.Status = models.RunStatusSuccess
	result.Message = "Dashboard updated successfully"
	p.archive(ctx, archive.NewRunDocument(batch.ID, result.RanAt, result.Status, "", sent, quotes))
	p.finish(result, start)
	return result
}

// fail runs the terminal error path shared by fetch and store failures:
// best-effort alert, then a failed run log with notificationSent=false.
func (p *Pipeline) fail(ctx context.Context, result *Result, state State, message string, cause error, start time.Time) *Result {
	result.State = state
	result.Status = models.RunStatusFailed
	result.Message = message
	result.Err = cause

	stage := "fetch"
	if state == StateStoreFailed {
		stage = "store"
	}
	p.log.WithError(cause).WithField("stage", stage).Error(message)
	metrics.RecordStageFailure(stage)

	detail := fmt.Sprintf("%s: %v", message, cause)
	sent, err := p.notifier.SendErrorAlert(ctx, detail)
	if err != nil {
		p.log.WithError(err).Warn("Error alert was not sent")
	}
	metrics.RecordNotification("error_alert", sent && err == nil)

	result.LogErr = p.logRun(ctx, models.RunLogEntry{
		Status:           models.RunStatusFailed,
		ErrorMessage:     detail,
		NotificationSent: false,
	})
	if result.LogErr != nil {
		p.log.WithError(result.LogErr).Error("Failed to record failed run")
		metrics.RecordStageFailure("log")
	}

	p.archive(ctx, archive.NewRunDocument("", result.RanAt, result.Status, detail, false, nil))
	p.finish(result, start)
	return result
}

// logRun writes the run log even if ctx was canceled after the snapshot
// was committed
func (p *Pipeline) logRun(ctx context.Context, entry models.RunLogEntry) error {
	ctx, cancel := detached(ctx)
	defer cancel()
	return p.store.LogRun(ctx, entry)
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}

func (p *Pipeline) invalidateCache(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Invalidate(ctx); err != nil {
		p.log.WithError(err).Warn("Failed to invalidate snapshot cache")
	}
}

func (p *Pipeline) archive(ctx context.Context, doc archive.RunDocument) {
	if p.archiver == nil {
		return
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := p.archiver.Archive(ctx, doc); err != nil {
		p.log.WithError(err).Warn("Failed to archive run")
		metrics.RecordStageFailure("archive")
	}
}

func (p *Pipeline) finish(result *Result, start time.Time) {
	end := p.now()
	metrics.RecordPipelineRun(string(result.Status), end.Sub(start), end)
	p.log.WithFields(logger.Fields{
		"status":            result.Status,
		"state":             result.State,
		"assets_updated":    result.AssetsUpdated,
		"notification_sent": result.NotificationSent,
		"batch_id":          result.BatchID,
	}).Info("Cryptocurrency dashboard update finished")
}
