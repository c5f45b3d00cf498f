package source

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFatalWrapping(t *testing.T) {
	base := errors.New("credentials rejected")
	err := Fatal(base)

	assert.True(t, IsFatal(err))
	assert.True(t, IsFatal(fmt.Errorf("fetch: %w", err)), "fatal survives wrapping")
	assert.ErrorIs(t, err, base)

	assert.False(t, IsFatal(base))
	assert.False(t, IsFatal(ErrThrottled))
	assert.Nil(t, Fatal(nil))
}

func TestCriterionString(t *testing.T) {
	assert.Equal(t, "cryptocurrency", Criterion{Target: "cryptocurrency"}.String())
	assert.Equal(t, "cryptocurrency/bitcoin", Criterion{Target: "cryptocurrency", Keyword: "bitcoin"}.String())
}

func TestQuotaReportEmpty(t *testing.T) {
	assert.True(t, QuotaReport{}.Empty())
	assert.False(t, QuotaReport{Made: 1, Allowed: 60}.Empty())
}

func TestRedditAdapterCriteriaKeepConfiguredOrder(t *testing.T) {
	a, err := NewRedditAdapter([]string{"CryptoCurrency", "Bitcoin", "ethereum"}, "test/1.0")
	require.NoError(t, err)

	crits := a.Criteria()
	require.Len(t, crits, 3)
	assert.Equal(t, "CryptoCurrency", crits[0].Target)
	assert.Equal(t, "Bitcoin", crits[1].Target)
	assert.Equal(t, "ethereum", crits[2].Target)
}

func TestNewRedditAdapterValidates(t *testing.T) {
	_, err := NewRedditAdapter(nil, "test/1.0")
	require.Error(t, err)

	_, err = NewRedditAdapter([]string{"Bitcoin"}, "")
	require.Error(t, err)
}

func TestRedditQuotaHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-Ratelimit-Used", "42.0")
	h.Set("X-Ratelimit-Remaining", "58.0")
	h.Set("X-Ratelimit-Reset", "300")

	q := redditQuota(h)
	assert.Equal(t, 42, q.Made)
	assert.Equal(t, 100, q.Allowed)
	assert.WithinDuration(t, time.Now().UTC().Add(5*time.Minute), q.ResetAt, 5*time.Second)
}

func TestRedditQuotaMissingHeaders(t *testing.T) {
	assert.True(t, redditQuota(http.Header{}).Empty())
}

func TestNewTelegramAdapterNormalizesChannelNames(t *testing.T) {
	a, err := NewTelegramAdapter([]string{"@bitcoinmagazine", " ethereum ", "@"})
	require.NoError(t, err)

	crits := a.Criteria()
	require.Len(t, crits, 2)
	assert.Equal(t, "bitcoinmagazine", crits[0].Target)
	assert.Equal(t, "ethereum", crits[1].Target)

	_, err = NewTelegramAdapter([]string{"@", "  "})
	require.Error(t, err)
}

func TestParseViewCount(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"512", 512},
		{"3.4K", 3400},
		{"1.2M", 1200000},
		{"bogus", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseViewCount(tc.in), "input %q", tc.in)
	}
}
