package storage

import (
	"time"

	"gorm.io/datatypes"
)

// Source is one external content origin. Created on first reference, never
// deleted; deactivation takes it out of scheduling instead.
type Source struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Name   string `gorm:"size:64;uniqueIndex" json:"name"`
	Active bool   `gorm:"index;default:true" json:"active"`

	CreatedAt time.Time `json:"createdAt"`
}

// Item is one ingested unit of content. ID is the identity key
// "<source>_<nativeID>"; it is globally unique and immutable, and rows are
// never updated after creation.
type Item struct {
	ID       string `gorm:"primaryKey;size:255" json:"id"`
	SourceID uint   `gorm:"index:idx_source_posted;not null" json:"sourceId"`

	Text     string `gorm:"type:text;not null" json:"text"`
	Author   string `gorm:"size:255" json:"author"`
	AuthorID string `gorm:"size:255" json:"authorId"`
	URL      string `gorm:"size:512" json:"url"`

	PostedAt  time.Time `gorm:"index:idx_source_posted" json:"postedAt"`
	ScrapedAt time.Time `gorm:"index" json:"scrapedAt"`

	Likes    int `json:"likes"`
	Shares   int `json:"shares"`
	Comments int `json:"comments"`
	Views    int `json:"views"`

	Language  string            `gorm:"size:10" json:"language"`
	ExtraData datatypes.JSONMap `gorm:"type:jsonb" json:"extraData"`
}

// SentimentAnnotation is the one-per-item scoring outcome, written in the
// same transaction as its Item and never updated.
type SentimentAnnotation struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	ItemID string `gorm:"size:255;uniqueIndex;not null" json:"itemId"`

	Label         string  `gorm:"size:20;index" json:"label"`
	Confidence    float64 `json:"confidence"`
	Score         float64 `json:"score"`
	ScorerVersion string  `gorm:"size:50" json:"scorerVersion"`

	AnalyzedAt time.Time `json:"analyzedAt"`
}

// Keyword is operator-managed reference data.
type Keyword struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Term     string `gorm:"size:255;uniqueIndex" json:"term"`
	Category string `gorm:"size:100" json:"category"`
	Active   bool   `gorm:"index;default:true" json:"active"`

	CreatedAt time.Time `json:"createdAt"`
}

// KeywordMatch joins an Item to a Keyword that actually occurred in it.
// Zero-count rows are never written.
type KeywordMatch struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ItemID     string `gorm:"size:255;uniqueIndex:idx_item_keyword" json:"itemId"`
	KeywordID  uint   `gorm:"uniqueIndex:idx_item_keyword" json:"keywordId"`
	MatchCount int    `json:"matchCount"`
}

// RateLimitWindow tracks the outbound-call budget for one (source, endpoint)
// pair.
type RateLimitWindow struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	SourceID uint   `gorm:"uniqueIndex:idx_source_endpoint" json:"sourceId"`
	Endpoint string `gorm:"size:255;uniqueIndex:idx_source_endpoint" json:"endpoint"`

	Made    int       `json:"made"`
	Allowed int       `json:"allowed"`
	ResetAt time.Time `json:"resetAt"`
}

// Job states. pending -> running -> completed | failed; terminal states are
// never left.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job records one execution of a collection cycle for one source.
type Job struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	SourceID uint   `gorm:"index" json:"sourceId"`
	Kind     string `gorm:"size:100" json:"kind"`
	State    string `gorm:"size:20;index" json:"state"`

	StartedAt     *time.Time `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt"`
	ItemsIngested int        `json:"itemsIngested"`
	Error         string     `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// ErrorRecord kinds (append-only operator log).
const (
	ErrorKindInitialization = "initialization"
	ErrorKindScraping       = "scraping"
	ErrorKindPersistence    = "persistence"
	ErrorKindScheduling     = "scheduling"
)

type ErrorRecord struct {
	ID       uint  `gorm:"primaryKey" json:"id"`
	SourceID *uint `gorm:"index" json:"sourceId,omitempty"`

	Kind    string `gorm:"size:100" json:"kind"`
	Message string `gorm:"type:text" json:"message"`

	OccurredAt time.Time `gorm:"index" json:"occurredAt"`
}
