package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	redditBaseURL          = "https://www.reddit.com"
	redditMaxResponseBytes = 4 << 20 // 4MB
	redditClientTimeout    = 10 * time.Second
	redditListingLimitCap  = 100 // origin caps listing pages at 100
)

// RedditAdapter pulls fresh submissions from the public listing JSON of the
// configured subreddits. No authentication: the public endpoint is enough
// for new-listing polling, and the origin reports quota state in response
// headers which we pass back through the QuotaReport.
type RedditAdapter struct {
	subreddits []string
	userAgent  string
	client     *http.Client
}

func NewRedditAdapter(subreddits []string, userAgent string) (*RedditAdapter, error) {
	if len(subreddits) == 0 {
		return nil, fmt.Errorf("reddit: no subreddits configured")
	}
	if userAgent == "" {
		return nil, fmt.Errorf("reddit: user agent is required")
	}
	return &RedditAdapter{
		subreddits: subreddits,
		userAgent:  userAgent,
		client:     &http.Client{Timeout: redditClientTimeout},
	}, nil
}

func (r *RedditAdapter) Name() string     { return "reddit" }
func (r *RedditAdapter) Endpoint() string { return "listing_new" }

func (r *RedditAdapter) Criteria() []Criterion {
	out := make([]Criterion, 0, len(r.subreddits))
	for _, sub := range r.subreddits {
		out = append(out, Criterion{Target: sub})
	}
	return out
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	Author      string  `json:"author"`
	AuthorID    string  `json:"author_fullname"`
	Permalink   string  `json:"permalink"`
	CreatedUTC  float64 `json:"created_utc"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Stickied    bool    `json:"stickied"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	Subreddit   string  `json:"subreddit"`
}

func (r *RedditAdapter) Fetch(ctx context.Context, c Criterion, p Pacing) ([]RawItem, QuotaReport, error) {
	limit := p.MaxItems
	if limit <= 0 || limit > redditListingLimitCap {
		limit = redditListingLimitCap
	}

	url := fmt.Sprintf("%s/r/%s/new.json?limit=%d", redditBaseURL, c.Target, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, QuotaReport{}, fmt.Errorf("reddit: build request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, QuotaReport{}, fmt.Errorf("reddit: fetch r/%s: %w", c.Target, err)
	}
	defer resp.Body.Close()

	quota := redditQuota(resp.Header)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, quota, fmt.Errorf("reddit: r/%s: %w", c.Target, ErrThrottled)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, quota, Fatal(fmt.Errorf("reddit: r/%s rejected with status %d", c.Target, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, quota, fmt.Errorf("reddit: r/%s unexpected status %d", c.Target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, redditMaxResponseBytes))
	if err != nil {
		return nil, quota, fmt.Errorf("reddit: read r/%s: %w", c.Target, err)
	}

	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, quota, fmt.Errorf("reddit: unmarshal r/%s: %w", c.Target, err)
	}

	items := make([]RawItem, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		post := child.Data
		if post.Stickied || post.ID == "" {
			continue
		}

		text := post.Title
		if post.SelfText != "" {
			text += "\n\n" + post.SelfText
		}

		items = append(items, RawItem{
			NativeID: post.ID,
			Text:     text,
			Author:   post.Author,
			AuthorID: post.AuthorID,
			URL:      redditBaseURL + post.Permalink,
			PostedAt: time.Unix(int64(post.CreatedUTC), 0).UTC(),
			Likes:    post.Score,
			Comments: post.NumComments,
			Language: "en",
			Extra: map[string]any{
				"subreddit":    post.Subreddit,
				"upvote_ratio": post.UpvoteRatio,
			},
		})
	}

	return items, quota, nil
}

// redditQuota reads the x-ratelimit-* trio the listing endpoint returns.
// Remaining/used are fractional strings; reset is seconds until the window
// boundary.
func redditQuota(h http.Header) QuotaReport {
	used, err1 := strconv.ParseFloat(h.Get("X-Ratelimit-Used"), 64)
	remaining, err2 := strconv.ParseFloat(h.Get("X-Ratelimit-Remaining"), 64)
	resetSec, err3 := strconv.Atoi(h.Get("X-Ratelimit-Reset"))
	if err1 != nil || err2 != nil || err3 != nil {
		return QuotaReport{}
	}
	return QuotaReport{
		Made:    int(used),
		Allowed: int(used + remaining),
		ResetAt: time.Now().UTC().Add(time.Duration(resetSec) * time.Second),
	}
}
