package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

const (
	telegramPreviewHost    = "t.me"
	telegramUserAgent      = "pulsefeedBot/1.0"
	telegramFetchTimeout   = 10 * time.Second
	telegramViewSuffixKilo = 1000
	telegramViewSuffixMega = 1000000
)

// TelegramAdapter scrapes the public preview pages (t.me/s/<channel>) of the
// configured channels. Preview pages need no API credentials and carry the
// last ~20 messages with ids, timestamps and view counts, which is enough
// for interval polling. The markup is best-effort parsed; structural changes
// upstream degrade to empty batches, not errors.
type TelegramAdapter struct {
	channels []string
}

func NewTelegramAdapter(channels []string) (*TelegramAdapter, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("telegram: no channels configured")
	}
	cleaned := make([]string, 0, len(channels))
	for _, ch := range channels {
		ch = strings.TrimPrefix(strings.TrimSpace(ch), "@")
		if ch != "" {
			cleaned = append(cleaned, ch)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("telegram: no usable channel names")
	}
	return &TelegramAdapter{channels: cleaned}, nil
}

func (t *TelegramAdapter) Name() string     { return "telegram" }
func (t *TelegramAdapter) Endpoint() string { return "channel_preview" }

func (t *TelegramAdapter) Criteria() []Criterion {
	out := make([]Criterion, 0, len(t.channels))
	for _, ch := range t.channels {
		out = append(out, Criterion{Target: ch})
	}
	return out
}

func (t *TelegramAdapter) Fetch(ctx context.Context, c Criterion, p Pacing) ([]RawItem, QuotaReport, error) {
	coll := colly.NewCollector(
		colly.AllowedDomains(telegramPreviewHost),
		colly.UserAgent(telegramUserAgent),
	)
	coll.SetRequestTimeout(telegramFetchTimeout)

	items := make([]RawItem, 0, 20)

	coll.OnHTML("div.tgme_widget_message", func(e *colly.HTMLElement) {
		if p.MaxItems > 0 && len(items) >= p.MaxItems {
			return
		}

		// data-post is "<channel>/<message id>".
		post := e.Attr("data-post")
		slash := strings.LastIndex(post, "/")
		if slash < 0 || slash == len(post)-1 {
			return
		}
		msgID := post[slash+1:]

		text := strings.TrimSpace(e.DOM.Find("div.tgme_widget_message_text").Text())
		if text == "" {
			return
		}

		items = append(items, RawItem{
			NativeID: c.Target + "_" + msgID,
			Text:     text,
			Author:   "@" + c.Target,
			AuthorID: c.Target,
			URL:      fmt.Sprintf("https://%s/%s/%s", telegramPreviewHost, c.Target, msgID),
			PostedAt: messageTime(e.DOM),
			Views:    parseViewCount(e.DOM.Find("span.tgme_widget_message_views").Text()),
			Extra: map[string]any{
				"channel": c.Target,
			},
		})
	})

	var fetchErr error
	coll.OnError(func(resp *colly.Response, err error) {
		switch resp.StatusCode {
		case 429:
			fetchErr = fmt.Errorf("telegram: %s: %w", c.Target, ErrThrottled)
		case 404:
			fetchErr = Fatal(fmt.Errorf("telegram: channel %s not found", c.Target))
		default:
			fetchErr = fmt.Errorf("telegram: fetch %s: %w", c.Target, err)
		}
	})

	if err := ctx.Err(); err != nil {
		return nil, QuotaReport{}, err
	}
	if err := coll.Visit(fmt.Sprintf("https://%s/s/%s", telegramPreviewHost, c.Target)); err != nil {
		return nil, QuotaReport{}, fmt.Errorf("telegram: visit %s: %w", c.Target, err)
	}
	coll.Wait()

	if fetchErr != nil {
		return nil, QuotaReport{}, fetchErr
	}

	// Preview pages render newest last; the pipeline processes in fetch order.
	return items, QuotaReport{}, nil
}

func messageTime(sel *goquery.Selection) time.Time {
	dt, ok := sel.Find("a.tgme_widget_message_date time").Attr("datetime")
	if !ok {
		return time.Now().UTC()
	}
	ts, err := time.Parse(time.RFC3339, dt)
	if err != nil {
		return time.Now().UTC()
	}
	return ts.UTC()
}

// parseViewCount handles telegram's abbreviated counters ("3.4K", "1.2M").
func parseViewCount(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	mult := 1
	switch {
	case strings.HasSuffix(s, "K"):
		mult = telegramViewSuffixKilo
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult = telegramViewSuffixMega
		s = strings.TrimSuffix(s, "M")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(f * float64(mult))
}
