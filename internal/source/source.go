package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrThrottled signals a transient throttle from the origin: the affected
// criterion is deferred to the next cycle, the job keeps going.
var ErrThrottled = errors.New("source: throttled by origin")

// FatalError marks an unrecoverable adapter failure (bad credentials, the
// origin rejecting the client outright). The orchestrator fails the job
// immediately instead of moving on to the next criterion.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("source: fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so the orchestrator treats it as unrecoverable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Criterion is one unit of search work within a cycle: a target (subreddit,
// channel, ...) optionally narrowed by a keyword. Adapters return their
// criteria in a fixed configured order and the orchestrator processes them
// in that order.
type Criterion struct {
	Target  string
	Keyword string
}

func (c Criterion) String() string {
	if c.Keyword == "" {
		return c.Target
	}
	return c.Target + "/" + c.Keyword
}

// Pacing is the caller-supplied hint bounding one fetch.
type Pacing struct {
	MaxItems int
	Delay    time.Duration
}

// RawItem is one unit of content as fetched, before enrichment. NativeID is
// the origin's own identifier; the store derives the global identity key
// from it.
type RawItem struct {
	NativeID string
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

// QuotaReport carries authoritative rate-limit state an origin returned
// alongside a response. Zero value means the origin reported nothing.
type QuotaReport struct {
	Made    int
	Allowed int
	ResetAt time.Time
}

func (q QuotaReport) Empty() bool { return q.Allowed == 0 }

// Adapter is the per-platform fetch capability the orchestrator consumes.
// Implementations hold their own credentials and wire parsing; the pipeline
// never sees platform specifics beyond this contract.
type Adapter interface {
	Name() string
	// Endpoint identifies the origin API surface for rate-limit bookkeeping.
	Endpoint() string
	// Criteria returns the configured search criteria in processing order.
	Criteria() []Criterion
	// Fetch returns one bounded batch for the criterion. The QuotaReport is
	// origin-reported truth when non-empty.
	Fetch(ctx context.Context, c Criterion, p Pacing) ([]RawItem, QuotaReport, error)
}
