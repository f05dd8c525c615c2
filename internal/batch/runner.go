package batch

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-ingest/internal/business"
	"github.com/sells-group/lead-ingest/internal/dedupe"
)

// Ingester is the single-candidate write path the runner drives.
type Ingester interface {
	Ingest(ctx context.Context, c business.Candidate, source, sourceID string, raw json.RawMessage) (dedupe.Result, error)
}

// Config tunes a Runner.
type Config struct {
	Concurrency   int     // default 4
	WritesPerSec  float64 // 0 = unlimited
	DefaultSource string  // used when an item carries no source
}

// Summary counts what a run did with its items.
type Summary struct {
	RunID     string        `json:"run_id"`
	Total     int64         `json:"total"`
	Inserted  int64         `json:"inserted"`
	Merged    int64         `json:"merged"`
	Unchanged int64         `json:"unchanged"`
	Skipped   int64         `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// Runner feeds items through an Ingester with bounded concurrency.
type Runner struct {
	ingester Ingester
	cfg      Config
	limiter  *rate.Limiter
}

// NewRunner returns a Runner over in.
func NewRunner(in Ingester, cfg Config) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	r := &Runner{ingester: in, cfg: cfg}
	if cfg.WritesPerSec > 0 {
		burst := max(int(cfg.WritesPerSec), 1)
		r.limiter = rate.NewLimiter(rate.Limit(cfg.WritesPerSec), burst)
	}
	return r
}

// Run ingests every item from items until the channel closes or ctx is
// cancelled. A failed item is logged and counted as skipped; it never stops
// the run. The returned error is non-nil only when ctx ends the run early.
func (r *Runner) Run(ctx context.Context, items <-chan Item) (Summary, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := zap.L().With(zap.String("run_id", runID))

	var total, inserted, merged, unchanged, skipped atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	var runErr error
loop:
	for {
		var it Item
		var ok bool
		select {
		case it, ok = <-items:
		case <-gCtx.Done():
			runErr = gCtx.Err()
			break loop
		}
		if !ok {
			break loop
		}
		total.Add(1)

		g.Go(func() error {
			if r.limiter != nil {
				if err := r.limiter.Wait(gCtx); err != nil {
					skipped.Add(1)
					return nil
				}
			}

			source := it.Source
			if source == "" {
				source = r.cfg.DefaultSource
			}

			res, err := r.ingester.Ingest(gCtx, it.Candidate, source, it.SourceID, it.Raw)
			if err != nil {
				skipped.Add(1)
				log.Warn("batch: candidate skipped",
					zap.Int("line", it.Line),
					zap.String("name", it.Candidate.Name),
					zap.String("zip", it.Candidate.Zip),
					zap.String("source", source),
					zap.String("source_id", it.SourceID),
					zap.Error(err),
				)
				return nil // don't abort batch on individual failure
			}

			switch res.Outcome {
			case dedupe.OutcomeInserted:
				inserted.Add(1)
			case dedupe.OutcomeMerged:
				merged.Add(1)
			default:
				unchanged.Add(1)
			}
			return nil
		})
	}

	_ = g.Wait()

	sum := Summary{
		RunID:     runID,
		Total:     total.Load(),
		Inserted:  inserted.Load(),
		Merged:    merged.Load(),
		Unchanged: unchanged.Load(),
		Skipped:   skipped.Load(),
		Duration:  time.Since(start),
	}
	log.Info("batch: run complete",
		zap.Int64("total", sum.Total),
		zap.Int64("inserted", sum.Inserted),
		zap.Int64("merged", sum.Merged),
		zap.Int64("unchanged", sum.Unchanged),
		zap.Int64("skipped", sum.Skipped),
		zap.Duration("duration", sum.Duration),
	)

	if runErr != nil {
		return sum, eris.Wrap(runErr, "batch: run cancelled")
	}
	return sum, nil
}

// RunFile reads path with ReadFile and runs every item it yields. A read
// error is returned alongside the summary of the items read before it.
func (r *Runner) RunFile(ctx context.Context, path string) (Summary, error) {
	items, errs := ReadFile(ctx, path)
	sum, err := r.Run(ctx, items)
	if err != nil {
		return sum, err
	}
	if readErr := <-errs; readErr != nil {
		return sum, eris.Wrapf(readErr, "batch: read %s", path)
	}
	return sum, nil
}
