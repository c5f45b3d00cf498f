package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateJob opens a job record in the pending state.
func (s *Store) CreateJob(ctx context.Context, sourceID uint, kind string) (*Job, error) {
	job := &Job{
		ID:       uuid.NewString(),
		SourceID: sourceID,
		Kind:     kind,
		State:    JobPending,
	}
	if err := s.DB.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("storage: create job: %w", err)
	}
	return job, nil
}

// MarkJobRunning transitions pending -> running, stamping the start time.
// Any other current state is an invalid transition.
func (s *Store) MarkJobRunning(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	res := s.DB.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND state = ?", jobID, JobPending).
		Updates(map[string]any{"state": JobRunning, "started_at": now})
	if res.Error != nil {
		return fmt.Errorf("storage: mark job %s running: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("storage: job %s is not pending", jobID)
	}
	return nil
}

// MarkJobCompleted transitions running -> completed with the ingested count.
func (s *Store) MarkJobCompleted(ctx context.Context, jobID string, itemsIngested int) error {
	return s.finishJob(ctx, jobID, JobCompleted, itemsIngested, "")
}

// MarkJobFailed transitions running -> failed with the error detail. Items
// created before the failure still count.
func (s *Store) MarkJobFailed(ctx context.Context, jobID string, itemsIngested int, errMsg string) error {
	return s.finishJob(ctx, jobID, JobFailed, itemsIngested, errMsg)
}

// finishJob guards the terminal transition: only a running job may finish,
// and a terminal job is never reopened.
func (s *Store) finishJob(ctx context.Context, jobID, state string, items int, errMsg string) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"state":          state,
		"completed_at":   now,
		"items_ingested": items,
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}

	res := s.DB.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND state = ?", jobID, JobRunning).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("storage: mark job %s %s: %w", jobID, state, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("storage: job %s is not running", jobID)
	}
	return nil
}

// GetJob loads one job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := s.DB.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return nil, fmt.Errorf("storage: get job %s: %w", jobID, err)
	}
	return &job, nil
}

// RecentJobs lists jobs newest-first, optionally filtered by source.
func (s *Store) RecentJobs(ctx context.Context, sourceID uint, limit int) ([]Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	q := s.DB.WithContext(ctx).Model(&Job{}).Order("created_at DESC").Limit(limit)
	if sourceID != 0 {
		q = q.Where("source_id = ?", sourceID)
	}

	var jobs []Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("storage: recent jobs: %w", err)
	}
	return jobs, nil
}

// LogError appends an operator-visible error record. Failures here are
// swallowed by callers on purpose: error logging must never fail a cycle.
func (s *Store) LogError(ctx context.Context, sourceID *uint, kind, message string) error {
	rec := &ErrorRecord{
		SourceID:   sourceID,
		Kind:       kind,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("storage: log error: %w", err)
	}
	return nil
}

// RecentErrors lists error records newest-first.
func (s *Store) RecentErrors(ctx context.Context, limit int) ([]ErrorRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	var recs []ErrorRecord
	err := s.DB.WithContext(ctx).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("storage: recent errors: %w", err)
	}
	return recs, nil
}
