package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	itemListCacheTTL = 5 * time.Minute
	statsCacheTTL    = time.Minute
)

// KeywordSeed is one default tracked term inserted at startup if missing.
type KeywordSeed struct {
	Term     string
	Category string
}

// SeedKeywords inserts the seeds that do not exist yet; existing rows
// (including operator-deactivated ones) are left untouched.
func (s *Store) SeedKeywords(ctx context.Context, seeds []KeywordSeed) error {
	for _, seed := range seeds {
		kw := &Keyword{Term: seed.Term, Category: seed.Category, Active: true}
		err := s.DB.WithContext(ctx).
			Where("term = ?", seed.Term).
			FirstOrCreate(kw).Error
		if err != nil {
			return fmt.Errorf("storage: seed keyword %s: %w", seed.Term, err)
		}
	}
	return nil
}

// ActiveKeywords returns the active tracked terms in insertion order.
func (s *Store) ActiveKeywords(ctx context.Context) ([]Keyword, error) {
	var kws []Keyword
	err := s.DB.WithContext(ctx).
		Where("active = ?", true).
		Order("id ASC").
		Find(&kws).Error
	if err != nil {
		return nil, fmt.Errorf("storage: active keywords: %w", err)
	}
	return kws, nil
}

// ListKeywords returns all tracked terms, active or not.
func (s *Store) ListKeywords(ctx context.Context) ([]Keyword, error) {
	var kws []Keyword
	if err := s.DB.WithContext(ctx).Order("id ASC").Find(&kws).Error; err != nil {
		return nil, fmt.Errorf("storage: list keywords: %w", err)
	}
	return kws, nil
}

// CreateKeyword registers a new tracked term.
func (s *Store) CreateKeyword(ctx context.Context, term, category string) (*Keyword, error) {
	kw := &Keyword{Term: term, Category: category, Active: true}
	if err := s.DB.WithContext(ctx).Create(kw).Error; err != nil {
		return nil, fmt.Errorf("storage: create keyword %s: %w", term, err)
	}
	return kw, nil
}

// SetKeywordActive flips a keyword's active flag.
func (s *Store) SetKeywordActive(ctx context.Context, id uint, active bool) error {
	res := s.DB.WithContext(ctx).
		Model(&Keyword{}).
		Where("id = ?", id).
		Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("storage: set keyword %d active: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("storage: unknown keyword %d", id)
	}
	return nil
}

// EnrichedItem is an item joined with its sentiment annotation for the read
// API.
type EnrichedItem struct {
	Item
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Score      float64 `json:"score"`
}

// ListItems returns recent items joined with their annotations, optionally
// filtered by source name and sentiment label, newest-first. Results are
// cached in Redis for a short TTL; invalidation relies on expiry alone.
func (s *Store) ListItems(ctx context.Context, sourceName, label string, limit int) ([]EnrichedItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 20
	}

	cacheKey := fmt.Sprintf("items:list:%s:%s:%d", sourceName, label, limit)
	var cached []EnrichedItem
	if s.cacheGet(ctx, cacheKey, &cached) {
		return cached, nil
	}

	q := s.DB.WithContext(ctx).
		Model(&Item{}).
		Select("items.*, sentiment_annotations.label, sentiment_annotations.confidence, sentiment_annotations.score").
		Joins("JOIN sentiment_annotations ON sentiment_annotations.item_id = items.id").
		Order("items.posted_at DESC").
		Limit(limit)

	if sourceName != "" {
		q = q.Joins("JOIN sources ON sources.id = items.source_id").
			Where("sources.name = ?", sourceName)
	}
	if label != "" {
		q = q.Where("sentiment_annotations.label = ?", label)
	}

	var out []EnrichedItem
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("storage: list items: %w", err)
	}

	if len(out) > 0 {
		s.cacheSet(ctx, cacheKey, out, itemListCacheTTL)
	}
	return out, nil
}

// MatchesForItem lists the keyword matches recorded for one item.
func (s *Store) MatchesForItem(ctx context.Context, itemID string) ([]KeywordMatch, error) {
	var matches []KeywordMatch
	err := s.DB.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("keyword_id ASC").
		Find(&matches).Error
	if err != nil {
		return nil, fmt.Errorf("storage: matches for %s: %w", itemID, err)
	}
	return matches, nil
}

// SourceStats is the per-source aggregate the stats endpoint serves.
type SourceStats struct {
	Source     string `json:"source"`
	Active     bool   `json:"active"`
	TotalItems int64  `json:"totalItems"`
	Items24h   int64  `json:"items24h"`
}

// Stats aggregates item counts per source (total and last 24h).
func (s *Store) Stats(ctx context.Context) ([]SourceStats, error) {
	const cacheKey = "stats:sources"
	var cached []SourceStats
	if s.cacheGet(ctx, cacheKey, &cached) {
		return cached, nil
	}

	var sources []Source
	if err := s.DB.WithContext(ctx).Order("id ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("storage: list sources: %w", err)
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	out := make([]SourceStats, 0, len(sources))
	for _, src := range sources {
		var total, recent int64
		if err := s.DB.WithContext(ctx).Model(&Item{}).
			Where("source_id = ?", src.ID).
			Count(&total).Error; err != nil {
			return nil, fmt.Errorf("storage: count items for %s: %w", src.Name, err)
		}
		if err := s.DB.WithContext(ctx).Model(&Item{}).
			Where("source_id = ? AND scraped_at >= ?", src.ID, cutoff).
			Count(&recent).Error; err != nil {
			return nil, fmt.Errorf("storage: count recent items for %s: %w", src.Name, err)
		}
		out = append(out, SourceStats{
			Source:     src.Name,
			Active:     src.Active,
			TotalItems: total,
			Items24h:   recent,
		})
	}

	if len(out) > 0 {
		s.cacheSet(ctx, cacheKey, out, statsCacheTTL)
	}
	return out, nil
}

// GetWindow loads the rate-limit window for (sourceID, endpoint); nil when
// none has been created yet.
func (s *Store) GetWindow(ctx context.Context, sourceID uint, endpoint string) (*RateLimitWindow, error) {
	var w RateLimitWindow
	err := s.DB.WithContext(ctx).
		Where("source_id = ? AND endpoint = ?", sourceID, endpoint).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get window %d/%s: %w", sourceID, endpoint, err)
	}
	return &w, nil
}

// SaveWindow writes the window, inserting or overwriting the tracked state
// for its (source, endpoint) pair.
func (s *Store) SaveWindow(ctx context.Context, w *RateLimitWindow) error {
	var err error
	if w.ID != 0 {
		err = s.DB.WithContext(ctx).
			Model(w).
			Select("made", "allowed", "reset_at").
			Updates(w).Error
	} else {
		err = s.DB.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "source_id"}, {Name: "endpoint"}},
				DoUpdates: clause.AssignmentColumns([]string{"made", "allowed", "reset_at"}),
			}).
			Create(w).Error
	}
	if err != nil {
		return fmt.Errorf("storage: save window %d/%s: %w", w.SourceID, w.Endpoint, err)
	}
	return nil
}

// cacheGet unmarshals a cached JSON value; false on miss, decode failure or
// when no cache is configured.
func (s *Store) cacheGet(ctx context.Context, key string, dest any) bool {
	if s.Redis == nil {
		return false
	}
	bs, err := s.Redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(bs, dest) == nil
}

func (s *Store) cacheSet(ctx context.Context, key string, value any, ttl time.Duration) {
	if s.Redis == nil {
		return
	}
	if bs, err := json.Marshal(value); err == nil {
		_ = s.Redis.Set(ctx, key, bs, ttl).Err()
	}
}
