package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pricewatch/pricewatch/internal/antiblock"
	"github.com/pricewatch/pricewatch/internal/extract"
	"github.com/pricewatch/pricewatch/internal/fetch"
	"github.com/pricewatch/pricewatch/internal/models"
)

var (
	// ErrRunLimitReached means the concurrency ceiling is occupied; no run
	// record is created.
	ErrRunLimitReached = errors.New("run limit reached")
	// ErrRegionNotFound means the requested region profile does not exist.
	ErrRegionNotFound = errors.New("region profile not found")
)

// maxRunErrorLen bounds the error message stored on a failed run.
const maxRunErrorLen = 500

// RunStore is the persistence surface the coordinator needs.
type RunStore interface {
	CountRunningRuns(ctx context.Context) (int, error)
	GetRegion(ctx context.Context, id int64) (*models.RegionProfile, error)
	ListEnabledTargets(ctx context.Context) ([]models.Target, error)
	CreateRun(ctx context.Context, regionID int64) (*models.Run, error)
	SetRunTotals(ctx context.Context, runID int64, total int) error
	FinishRun(ctx context.Context, runID int64, status models.RunStatus, success, fail int, errMsg string) error
	AppendPricePoint(ctx context.Context, p *models.PricePoint) error
}

// FetcherFactory builds the single fetcher a run uses for all its targets.
type FetcherFactory func(region *models.RegionProfile) (fetch.Fetcher, error)

// Pacer issues the randomized delay between consecutive targets.
type Pacer interface {
	Wait(ctx context.Context, min, max time.Duration) error
}

// BlockHandler runs the block classification and recovery loop.
type BlockHandler interface {
	Handle(ctx context.Context, url string, doc *fetch.RawDocument, refetch antiblock.Refetch, nudge antiblock.Nudge) (*fetch.RawDocument, antiblock.Classification)
}

// Extractor turns a fetched document into a price observation.
type Extractor interface {
	Run(doc *fetch.RawDocument) extract.Observation
}

// Publisher emits run lifecycle events. Publishing failures never affect
// the run itself.
type Publisher interface {
	RunCompleted(ctx context.Context, run *models.Run) error
	PricePointRecorded(ctx context.Context, point *models.PricePoint) error
}

// Options tune a coordinator.
type Options struct {
	MaxConcurrentRuns int
	PacingMin         time.Duration
	PacingMax         time.Duration
}

// Coordinator owns run execution: admission, the sequential target loop,
// per-target isolation and the terminal run transition. Admission is
// synchronous; collection happens on a background goroutine tracked until
// Stop.
type Coordinator struct {
	store     RunStore
	factory   FetcherFactory
	pacer     Pacer
	blocks    BlockHandler
	extractor Extractor
	publisher Publisher
	opts      Options
	logger    *slog.Logger

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store RunStore, factory FetcherFactory, pacer Pacer, blocks BlockHandler, extractor Extractor, publisher Publisher, opts Options, logger *slog.Logger) *Coordinator {
	if opts.MaxConcurrentRuns < 1 {
		opts.MaxConcurrentRuns = 1
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:     store,
		factory:   factory,
		pacer:     pacer,
		blocks:    blocks,
		extractor: extractor,
		publisher: publisher,
		opts:      opts,
		logger:    logger.With("component", "runner"),
		runCtx:    runCtx,
		cancel:    cancel,
	}
}

// Start admits a new run. The ceiling check and run creation happen
// synchronously so the caller gets either a running run or a typed
// rejection; collection then proceeds in the background.
func (c *Coordinator) Start(ctx context.Context, regionID int64) (*models.Run, error) {
	running, err := c.store.CountRunningRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check running runs: %w", err)
	}
	if running >= c.opts.MaxConcurrentRuns {
		return nil, ErrRunLimitReached
	}

	region, err := c.store.GetRegion(ctx, regionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load region: %w", err)
	}
	if region == nil {
		return nil, ErrRegionNotFound
	}

	run, err := c.store.CreateRun(ctx, regionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	c.logger.Info("run admitted", "run_id", run.ID, "region", region.Name)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.collect(c.runCtx, run, region)
	}()

	return run, nil
}

// Stop cancels in-flight runs at the next target boundary and waits for
// them to finalize.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) collect(ctx context.Context, run *models.Run, region *models.RegionProfile) {
	logger := c.logger.With("run_id", run.ID)

	targets, err := c.store.ListEnabledTargets(ctx)
	if err != nil {
		c.finalize(run, models.RunStatusFailed, 0, 0, fmt.Sprintf("failed to snapshot targets: %v", err))
		return
	}

	run.TotalTargets = len(targets)
	if err := c.store.SetRunTotals(ctx, run.ID, len(targets)); err != nil {
		logger.Error("failed to record run totals", "error", err)
	}

	fetcher, err := c.factory(region)
	if err != nil {
		c.finalize(run, models.RunStatusFailed, 0, 0, fmt.Sprintf("fetcher setup failed: %v", err))
		return
	}
	defer fetcher.Close()

	logger.Info("run started", "targets", len(targets))

	success, failed := 0, 0
	for i, target := range targets {
		// Cancellation is honored between targets only; a target in
		// progress always records its point.
		if ctx.Err() != nil {
			c.finalize(run, models.RunStatusFailed, success, failed, "run cancelled")
			return
		}

		point := c.collectTarget(ctx, fetcher, run.ID, target)

		if err := c.store.AppendPricePoint(ctx, point); err != nil {
			logger.Error("failed to append price point", "target_id", target.ID, "error", err)
		} else if c.publisher != nil {
			if err := c.publisher.PricePointRecorded(ctx, point); err != nil {
				logger.Warn("failed to publish price point event", "target_id", target.ID, "error", err)
			}
		}

		if point.Success() {
			success++
		} else {
			failed++
		}

		if err := fetcher.Release(ctx); err != nil {
			logger.Warn("failed to release fetcher", "target_id", target.ID, "error", err)
		}

		if i < len(targets)-1 {
			if err := c.pacer.Wait(ctx, c.opts.PacingMin, c.opts.PacingMax); err != nil {
				continue
			}
		}
	}

	c.finalize(run, models.RunStatusDone, success, failed, "")
}

// collectTarget visits one target and always returns a point; failures of
// any kind become an error code, and a panic is contained here so one bad
// target cannot take down the run.
func (c *Coordinator) collectTarget(ctx context.Context, fetcher fetch.Fetcher, runID int64, target models.Target) (point *models.PricePoint) {
	logger := c.logger.With("run_id", runID, "target_id", target.ID)

	point = &models.PricePoint{
		RunID:       runID,
		TargetID:    target.ID,
		InStock:     true,
		CollectedAt: time.Now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while collecting target", "panic", fmt.Sprintf("%v", r))
			point.Price = nil
			point.OldPrice = nil
			point.CardPrice = nil
			point.Error = models.ErrCodeCriticalError
		}
	}()

	doc, err := fetcher.Fetch(ctx, target.URL)
	if err != nil {
		logger.Warn("fetch failed", "url", target.URL, "error", err)
		point.Error = fetch.Code(err)
		return point
	}

	doc, cls := c.blocks.Handle(ctx, target.URL, doc, refetchFor(fetcher, target.URL), nudgeFor(fetcher))
	if cls.Blocked {
		logger.Warn("target blocked", "url", target.URL, "reason", cls.Reason)
		point.Error = models.ErrCodeAccessBlocked
		return point
	}

	obs := c.extractor.Run(doc)
	point.Price = obs.Price
	point.OldPrice = obs.OldPrice
	point.CardPrice = obs.CardPrice
	point.InStock = obs.InStock
	point.RawCapture = obs.RawCapture
	point.Error = obs.ErrorCode

	if point.Success() {
		logger.Info("price collected", "price", *point.Price)
	} else {
		logger.Warn("no price collected", "error_code", point.Error, "in_stock", point.InStock)
	}

	return point
}

// refetchFor prefers an in-place reload when the fetcher supports one, so
// recovery re-checks reuse the live browser page.
func refetchFor(fetcher fetch.Fetcher, url string) antiblock.Refetch {
	if r, ok := fetcher.(fetch.Reloader); ok {
		return func(ctx context.Context) (*fetch.RawDocument, error) {
			return r.Reload(ctx)
		}
	}
	return func(ctx context.Context) (*fetch.RawDocument, error) {
		return fetcher.Fetch(ctx, url)
	}
}

func nudgeFor(fetcher fetch.Fetcher) antiblock.Nudge {
	if s, ok := fetcher.(fetch.Scroller); ok {
		return s.Scroll
	}
	return nil
}

// finalize performs the terminal transition and emits the completion
// event. It uses a background context so a cancelled run still gets its
// terminal record.
func (c *Coordinator) finalize(run *models.Run, status models.RunStatus, success, failed int, errMsg string) {
	if len(errMsg) > maxRunErrorLen {
		errMsg = errMsg[:maxRunErrorLen]
	}

	ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFn()

	if err := c.store.FinishRun(ctx, run.ID, status, success, failed, errMsg); err != nil {
		c.logger.Error("failed to finalize run", "run_id", run.ID, "error", err)
		return
	}

	now := time.Now().UTC()
	run.Status = status
	run.SuccessCount = success
	run.FailCount = failed
	run.Error = errMsg
	run.FinishedAt = &now

	c.logger.Info("run finished",
		"run_id", run.ID,
		"status", status,
		"total", run.TotalTargets,
		"success", success,
		"failed", failed)

	if c.publisher != nil {
		if err := c.publisher.RunCompleted(ctx, run); err != nil {
			c.logger.Warn("failed to publish run completion", "run_id", run.ID, "error", err)
		}
	}
}
