// Package orchestrator drives one collection cycle for one source: job
// lifecycle, rate-limit admission, fetch, enrichment and deduplicated
// persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pulsefeed/pulsefeed/internal/keyword"
	"github.com/pulsefeed/pulsefeed/internal/ratelimit"
	"github.com/pulsefeed/pulsefeed/internal/sentiment"
	"github.com/pulsefeed/pulsefeed/internal/source"
	"github.com/pulsefeed/pulsefeed/internal/storage"
)

// persistenceFailureLimit fails the job after this many consecutive upsert
// errors within one cycle.
const persistenceFailureLimit = 5

type Orchestrator struct {
	store   *storage.Store
	tracker *ratelimit.Tracker
	scorer  *sentiment.Scorer
	pacing  source.Pacing
	logger  *zap.Logger
}

func New(store *storage.Store, tracker *ratelimit.Tracker, scorer *sentiment.Scorer, pacing source.Pacing, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:   store,
		tracker: tracker,
		scorer:  scorer,
		pacing:  pacing,
		logger:  logger.Named("orchestrator"),
	}
}

// RunCycle executes one cycle for the adapter's source. The returned error
// covers infrastructure failures only (job record could not be opened); a
// failed cycle is reported through the terminal Job state, not the error.
// An adapter panic is caught here so the job still ends failed; it never
// leaves a job stuck in running.
func (o *Orchestrator) RunCycle(ctx context.Context, adapter source.Adapter) (finished *storage.Job, err error) {
	src, err := o.store.EnsureSource(ctx, adapter.Name())
	if err != nil {
		return nil, err
	}

	job, err := o.store.CreateJob(ctx, src.ID, adapter.Endpoint())
	if err != nil {
		return nil, err
	}
	if err := o.store.MarkJobRunning(ctx, job.ID); err != nil {
		return nil, err
	}

	logger := o.logger.With(zap.String("source", src.Name), zap.String("job_id", job.ID))
	logger.Info("cycle started")

	var (
		created         int
		scrapeErrs      int
		persistFailures int
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("cycle panicked", zap.Any("panic", r))
			o.failJob(ctx, job.ID, src.ID, created, fmt.Sprintf("panic: %v", r))
			finished, err = o.store.GetJob(ctx, job.ID)
		}
	}()

	keywords, err := o.store.ActiveKeywords(ctx)
	if err != nil {
		o.failJob(ctx, job.ID, src.ID, created, fmt.Sprintf("load keywords: %v", err))
		return o.store.GetJob(ctx, job.ID)
	}

criteria:
	for _, crit := range adapter.Criteria() {
		if ctx.Err() != nil {
			logger.Info("cycle interrupted, finishing with partial results")
			break
		}

		if !o.tracker.Admit(ctx, src.ID, src.Name, adapter.Endpoint()) {
			logger.Info("criterion deferred by rate limit", zap.String("criterion", crit.String()))
			continue
		}

		items, quota, err := adapter.Fetch(ctx, crit, o.pacing)
		if !quota.Empty() {
			o.tracker.RecordUsage(ctx, src.ID, adapter.Endpoint(), quota.Made, quota.Allowed, quota.ResetAt)
		}

		switch {
		case err == nil:
			// fall through to item processing
		case source.IsFatal(err):
			o.failJob(ctx, job.ID, src.ID, created, err.Error())
			return o.store.GetJob(ctx, job.ID)
		case errors.Is(err, source.ErrThrottled):
			// Deferred like a denied admission; retried next cycle.
			logger.Warn("criterion throttled by origin", zap.String("criterion", crit.String()))
			continue
		default:
			scrapeErrs++
			logger.Warn("fetch failed", zap.String("criterion", crit.String()), zap.Error(err))
			o.logError(ctx, src.ID, storage.ErrorKindScraping,
				fmt.Sprintf("job %s: fetch %s: %v", job.ID, crit, err))
			continue
		}

		for _, raw := range items {
			wasCreated, err := o.ingest(ctx, src, raw, keywords)
			if err != nil {
				persistFailures++
				logger.Warn("persist failed", zap.String("native_id", raw.NativeID), zap.Error(err))
				o.logError(ctx, src.ID, storage.ErrorKindPersistence,
					fmt.Sprintf("job %s: item %s: %v", job.ID, raw.NativeID, err))
				if persistFailures >= persistenceFailureLimit {
					o.failJob(ctx, job.ID, src.ID, created,
						fmt.Sprintf("%d consecutive persistence failures", persistFailures))
					return o.store.GetJob(ctx, job.ID)
				}
				continue
			}
			persistFailures = 0
			if wasCreated {
				created++
			}
		}

		if o.pacing.Delay > 0 {
			select {
			case <-ctx.Done():
				break criteria
			case <-time.After(o.pacing.Delay):
			}
		}
	}

	if created == 0 && scrapeErrs > 0 {
		o.failJob(ctx, job.ID, src.ID, 0,
			fmt.Sprintf("no progress: %d scraping errors, 0 items ingested", scrapeErrs))
		return o.store.GetJob(ctx, job.ID)
	}

	if err := o.store.MarkJobCompleted(ctx, job.ID, created); err != nil {
		return nil, err
	}
	logger.Info("cycle completed", zap.Int("items_ingested", created), zap.Int("scrape_errors", scrapeErrs))
	return o.store.GetJob(ctx, job.ID)
}

// ingest enriches one raw item and commits it as a unit. Reports whether a
// new row was created; a repeat of an already-stored native id is a no-op.
func (o *Orchestrator) ingest(ctx context.Context, src *storage.Source, raw source.RawItem, keywords []storage.Keyword) (bool, error) {
	res := o.scorer.Score(raw.Text)

	terms := make([]string, len(keywords))
	byTerm := make(map[string]uint, len(keywords))
	for i, kw := range keywords {
		terms[i] = kw.Term
		byTerm[kw.Term] = kw.ID
	}

	var matches []storage.MatchDraft
	for _, term := range keyword.Extract(raw.Text, terms) {
		matches = append(matches, storage.MatchDraft{
			KeywordID: byTerm[term],
			Count:     keyword.Count(raw.Text, term),
		})
	}

	draft := storage.ItemDraft{
		SourceName: src.Name,
		SourceID:   src.ID,
		NativeID:   raw.NativeID,
		Text:       raw.Text,
		Author:     raw.Author,
		AuthorID:   raw.AuthorID,
		URL:        raw.URL,
		PostedAt:   raw.PostedAt,
		Likes:      raw.Likes,
		Shares:     raw.Shares,
		Comments:   raw.Comments,
		Views:      raw.Views,
		Language:   raw.Language,
		Extra:      raw.Extra,
	}
	ann := storage.AnnotationDraft{
		Label:      res.Label,
		Confidence: res.Confidence,
		Score:      res.Score,
		Version:    res.Version,
	}

	_, createdNew, err := o.store.UpsertItem(ctx, draft, ann, matches)
	return createdNew, err
}

func (o *Orchestrator) failJob(ctx context.Context, jobID string, sourceID uint, itemsIngested int, msg string) {
	if err := o.store.MarkJobFailed(ctx, jobID, itemsIngested, msg); err != nil {
		o.logger.Error("mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
	o.logError(ctx, sourceID, storage.ErrorKindScraping, fmt.Sprintf("job %s: %s", jobID, msg))
}

func (o *Orchestrator) logError(ctx context.Context, sourceID uint, kind, msg string) {
	if err := o.store.LogError(ctx, &sourceID, kind, msg); err != nil {
		o.logger.Error("log error record", zap.Error(err))
	}
}
