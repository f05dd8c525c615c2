package dedupe

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ingest/internal/business"
	"github.com/sells-group/lead-ingest/internal/resilience"
)

// ErrInvalidCandidate is returned, wrapped, for input rejected before any
// store access.
var ErrInvalidCandidate = eris.New("dedupe: invalid candidate")

// Outcome is what an ingest did with a candidate.
type Outcome string

// Ingest outcomes.
const (
	OutcomeInserted      Outcome = "inserted"
	OutcomeMerged        Outcome = "merged"
	OutcomeSourceIDMatch Outcome = "source_id_match"
	OutcomeKnownSource   Outcome = "known_source"
)

// Result describes a successful ingest.
type Result struct {
	ID      int64    `json:"id"`
	Outcome Outcome  `json:"outcome"`
	Tier    Tier     `json:"-"`
	Changes []Change `json:"changes,omitempty"`
}

// MarshalJSON renders Tier by name.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		Tier string `json:"tier"`
	}{plain(r), r.Tier.String()})
}

var sourceTagRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Ingester resolves candidates against a store and writes the outcome.
type Ingester struct {
	store   business.Store
	writer  *writer
	retry   resilience.RetryConfig
	metrics *Metrics
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithPriorities sets the source priority table.
func WithPriorities(p Priorities) Option {
	return func(in *Ingester) { in.writer.fields = NewFieldResolver(p) }
}

// WithRetry sets the replay policy for conflicting transactions.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(in *Ingester) { in.retry = cfg }
}

// WithMetrics records outcomes to m.
func WithMetrics(m *Metrics) Option {
	return func(in *Ingester) { in.metrics = m }
}

// NewIngester returns an Ingester over store.
func NewIngester(store business.Store, opts ...Option) *Ingester {
	in := &Ingester{
		store:  store,
		writer: &writer{fields: NewFieldResolver(DefaultPriorities())},
		retry:  resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Ingest resolves one observation of a business from source and inserts or
// merges it. Lock, match, resolution and write share one transaction; on error
// nothing is written and the returned Result is zero.
func (in *Ingester) Ingest(ctx context.Context, c business.Candidate, source, sourceID string, raw json.RawMessage) (Result, error) {
	start := time.Now()

	c.Normalize()
	source = strings.ToLower(strings.TrimSpace(source))
	sourceID = strings.TrimSpace(sourceID)

	log := zap.L().With(
		zap.String("name", c.Name),
		zap.String("zip", c.Zip),
		zap.String("source", source),
		zap.String("source_id", sourceID),
	)

	if err := validateInput(&c, source, raw); err != nil {
		log.Warn("dedupe: rejected candidate", zap.Error(err))
		in.metrics.fail("invalid")
		return Result{}, err
	}

	probe := NewProbe(&c, source, sourceID)

	var res Result
	retry := in.retry
	retry.OnRetry = resilience.RetryLogger("dedupe.ingest",
		zap.String("name", c.Name), zap.String("zip", c.Zip), zap.String("source", source))

	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		res = Result{}
		return in.store.InTx(ctx, func(tx business.Tx) error {
			var err error
			res, err = in.ingestTx(ctx, tx, &c, probe, raw, log)
			return err
		})
	})
	if err != nil {
		log.Error("dedupe: ingest failed", zap.Error(err))
		in.metrics.fail("store")
		return Result{}, eris.Wrapf(err, "dedupe: ingest %q (%s)", c.Name, source)
	}

	in.metrics.observe(res, source, time.Since(start))
	return res, nil
}

func (in *Ingester) ingestTx(ctx context.Context, tx business.Tx, c *business.Candidate, probe Probe, raw json.RawMessage, log *zap.Logger) (Result, error) {
	if err := tx.LockKeys(ctx, probe.Keys()); err != nil {
		return Result{}, err
	}

	m, err := Resolve(ctx, tx, probe)
	if err != nil {
		return Result{}, err
	}

	if m == nil {
		r, err := in.writer.insert(ctx, tx, c, probe.Source, probe.SourceID, raw, log)
		if err != nil {
			return Result{}, err
		}
		log.Info("dedupe: inserted new business", zap.Int64("id", r.ID))
		return Result{ID: r.ID, Outcome: OutcomeInserted, Tier: TierNone}, nil
	}

	log = log.With(zap.Int64("id", m.Record.ID), zap.Stringer("tier", m.Tier))
	log.Debug("dedupe: matched existing business")

	if m.Tier == TierSourceID {
		// Same source already delivered this id: the stored record stands.
		return Result{ID: m.Record.ID, Outcome: OutcomeSourceIDMatch, Tier: m.Tier}, nil
	}

	if HasSource(m.Record.Source, probe.Source) {
		// TODO: merge fresh fields and refresh the payload column for repeat
		// sightings from a recorded source once downstream stages tolerate
		// rewrites of enriched records.
		log.Info("dedupe: source already recorded, skipping merge")
		return Result{ID: m.Record.ID, Outcome: OutcomeKnownSource, Tier: m.Tier}, nil
	}

	changes, err := in.writer.merge(ctx, tx, m.Record, c, probe.Source, raw, log)
	if err != nil {
		return Result{}, err
	}
	log.Info("dedupe: merged into existing business", zap.Int("changes", len(changes)))
	return Result{ID: m.Record.ID, Outcome: OutcomeMerged, Tier: m.Tier, Changes: changes}, nil
}

func validateInput(c *business.Candidate, source string, raw json.RawMessage) error {
	if err := c.Validate(); err != nil {
		return eris.Wrap(ErrInvalidCandidate, err.Error())
	}
	if !sourceTagRe.MatchString(source) {
		return eris.Wrapf(ErrInvalidCandidate, "malformed source tag %q", source)
	}
	if len(raw) > 0 && !json.Valid(raw) {
		return eris.Wrap(ErrInvalidCandidate, "raw payload is not valid JSON")
	}
	return nil
}
