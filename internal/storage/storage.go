package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store owns the lifecycles of Item, SentimentAnnotation and KeywordMatch,
// plus the persisted reference data and job/error bookkeeping. Redis is an
// optional read cache; a nil client degrades to DB-only reads.
type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
}

func NewStore(dsn, redisAddr string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}

	store, err := NewStoreWithDB(db)
	if err != nil {
		return nil, err
	}

	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("warn: redis ping failed, continuing without cache: %v", err)
		} else {
			store.Redis = rdb
		}
	}

	return store, nil
}

// NewStoreWithDB migrates the schema onto an already-open gorm handle.
// Production uses Postgres; tests hand in sqlite.
func NewStoreWithDB(db *gorm.DB) (*Store, error) {
	err := db.AutoMigrate(
		&Source{}, &Item{}, &SentimentAnnotation{},
		&Keyword{}, &KeywordMatch{},
		&RateLimitWindow{}, &Job{}, &ErrorRecord{},
	)
	if err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &Store{DB: db}, nil
}

// EnsureSource returns the Source named name, creating it active on first
// reference.
func (s *Store) EnsureSource(ctx context.Context, name string) (*Source, error) {
	src := &Source{Name: name, Active: true}
	err := s.DB.WithContext(ctx).
		Where("name = ?", name).
		FirstOrCreate(src).Error
	if err != nil {
		return nil, fmt.Errorf("storage: ensure source %s: %w", name, err)
	}
	return src, nil
}

// GetSourceByName looks a source up without creating it; nil when no source
// has that name. Read paths use this so arbitrary query strings never mint
// Source rows.
func (s *Store) GetSourceByName(ctx context.Context, name string) (*Source, error) {
	var src Source
	err := s.DB.WithContext(ctx).Where("name = ?", name).First(&src).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get source %s: %w", name, err)
	}
	return &src, nil
}

// SetSourceActive flips scheduling eligibility; sources are never deleted.
func (s *Store) SetSourceActive(ctx context.Context, name string, active bool) error {
	res := s.DB.WithContext(ctx).
		Model(&Source{}).
		Where("name = ?", name).
		Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("storage: set source %s active: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("storage: unknown source %s", name)
	}
	return nil
}

// IdentityKey builds the globally unique item key. The source-name prefix is
// the sole guard against native-id collisions across origins.
func IdentityKey(sourceName, nativeID string) string {
	return sourceName + "_" + nativeID
}

// ItemDraft is the pre-persistence form of an item.
type ItemDraft struct {
	SourceName string
	SourceID   uint
	NativeID   string

	Text     string
	Author   string
	AuthorID string
	URL      string
	PostedAt time.Time

	Likes    int
	Shares   int
	Comments int
	Views    int

	Language string
	Extra    map[string]any
}

// AnnotationDraft carries the scoring outcome into the upsert.
type AnnotationDraft struct {
	Label      string
	Confidence float64
	Score      float64
	Version    string
}

// MatchDraft is one matched keyword with its occurrence count.
type MatchDraft struct {
	KeywordID uint
	Count     int
}

// errLostRace marks a concurrent insert of the same identity key; the
// transaction is rolled back and the winner's row is returned instead.
var errLostRace = errors.New("storage: identity key inserted concurrently")

// UpsertItem persists the item with its annotation and keyword matches as
// one atomic unit. If the identity key already exists, whether before the
// call or via a concurrent racer, the stored row is returned with
// created=false and
// nothing is written; enrichment is never recomputed for an existing item.
func (s *Store) UpsertItem(ctx context.Context, draft ItemDraft, ann AnnotationDraft, matches []MatchDraft) (*Item, bool, error) {
	id := IdentityKey(draft.SourceName, draft.NativeID)

	var existing Item
	err := s.DB.WithContext(ctx).First(&existing, "id = ?", id).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("storage: lookup item %s: %w", id, err)
	}

	item := &Item{
		ID:        id,
		SourceID:  draft.SourceID,
		Text:      draft.Text,
		Author:    draft.Author,
		AuthorID:  draft.AuthorID,
		URL:       draft.URL,
		PostedAt:  draft.PostedAt,
		ScrapedAt: time.Now().UTC(),
		Likes:     draft.Likes,
		Shares:    draft.Shares,
		Comments:  draft.Comments,
		Views:     draft.Views,
		Language:  draft.Language,
		ExtraData: datatypes.JSONMap(draft.Extra),
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(item)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errLostRace
		}

		annotation := &SentimentAnnotation{
			ItemID:        item.ID,
			Label:         ann.Label,
			Confidence:    ann.Confidence,
			Score:         ann.Score,
			ScorerVersion: ann.Version,
			AnalyzedAt:    time.Now().UTC(),
		}
		if err := tx.Create(annotation).Error; err != nil {
			return err
		}

		for _, m := range matches {
			if m.Count <= 0 {
				continue
			}
			match := &KeywordMatch{
				ItemID:     item.ID,
				KeywordID:  m.KeywordID,
				MatchCount: m.Count,
			}
			if err := tx.Create(match).Error; err != nil {
				return err
			}
		}
		return nil
	})

	if errors.Is(err, errLostRace) {
		var won Item
		if lookupErr := s.DB.WithContext(ctx).First(&won, "id = ?", id).Error; lookupErr != nil {
			return nil, false, fmt.Errorf("storage: reload item %s after lost race: %w", id, lookupErr)
		}
		return &won, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: upsert item %s: %w", id, err)
	}

	return item, true, nil
}
