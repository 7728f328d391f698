package source

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mohammad-safakhou/trendwatch/config"
	"github.com/mohammad-safakhou/trendwatch/internal/helpers"
)

var highAuthority = []string{"reuters", "ap", "bbc", "cnn", "nytimes", "washingtonpost", "wsj", "bloomberg", "npr", "abc", "cbs", "nbc"}

var mediumAuthority = []string{"fox", "usa today", "guardian", "independent", "time", "newsweek", "politico", "axios"}

var breakingMarkers = []string{"breaking", "urgent", "just in", "developing", "alert"}

var categoryQueries = map[string]string{
	"politics":      "politics breaking news latest",
	"technology":    "tech news latest breakthrough",
	"business":      "business news market latest",
	"sports":        "sports news latest scores",
	"entertainment": "entertainment news celebrity latest",
	"health":        "health news medical breakthrough",
	"science":       "science news discovery latest",
	"world":         "world news international breaking",
}

// ExpandQuery turns a bare category name into a richer news query. Other
// topics are returned trimmed.
func ExpandQuery(topic string) string {
	topic = strings.TrimSpace(topic)
	if q, ok := categoryQueries[strings.ToLower(topic)]; ok {
		return q
	}
	return topic
}

// IsBreaking reports whether a headline carries a breaking-news marker.
func IsBreaking(title string) bool {
	title = strings.ToLower(title)
	for _, m := range breakingMarkers {
		if strings.Contains(title, m) {
			return true
		}
	}
	return false
}

// Authority scores a publisher 1, 3 or 5. Configured host weights win.
func Authority(c Candidate, policy config.SourcePolicyConfig) int {
	if host := helpers.Host(c.URL); host != "" {
		for domain, w := range policy.Authority {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return w
			}
		}
	}
	name := strings.ToLower(c.Source)
	if name == "" {
		name = helpers.Host(c.URL)
	}
	for _, s := range highAuthority {
		if strings.Contains(name, s) {
			return 5
		}
	}
	for _, s := range mediumAuthority {
		if strings.Contains(name, s) {
			return 3
		}
	}
	return 1
}

// Recency scores how fresh an item is, 10 for the last hour down to 1 for
// older than a week. Unknown dates score 0.
func Recency(published, now time.Time) int {
	if published.IsZero() {
		return 0
	}
	age := now.Sub(published)
	switch {
	case age <= time.Hour:
		return 10
	case age <= 6*time.Hour:
		return 8
	case age <= 24*time.Hour:
		return 6
	case age <= 7*24*time.Hour:
		return 3
	default:
		return 1
	}
}

var relativeAge = regexp.MustCompile(`(?i)^\s*(\d+)\s+(minute|min|hour|day|week|month)s?\s+ago\s*$`)

// ParseDate reads the date strings search APIs return: relative forms such
// as "3 hours ago" or one of a few absolute layouts. Unparseable input
// yields the zero time.
func ParseDate(s string, now time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if m := relativeAge.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		unit := map[string]time.Duration{
			"minute": time.Minute,
			"min":    time.Minute,
			"hour":   time.Hour,
			"day":    24 * time.Hour,
			"week":   7 * 24 * time.Hour,
			"month":  30 * 24 * time.Hour,
		}[strings.ToLower(m[2])]
		return now.Add(-time.Duration(n) * unit)
	}
	for _, layout := range []string{time.RFC3339, time.RFC1123Z, time.RFC1123, "01/02/2006, 03:04 PM, -0700 MST", "Jan 2, 2006", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Rank scores candidates by breaking*10 + recency + authority, sorts them
// hottest first and drops repeats of the same canonical url. Candidates whose
// host the policy rejects are removed.
func Rank(items []Candidate, policy config.SourcePolicyConfig, now time.Time) []Candidate {
	out := make([]Candidate, 0, len(items))
	for _, c := range items {
		c.Topic = helpers.SanitizeHTMLStrict(c.Topic)
		c.Summary = helpers.SanitizeHTMLStrict(c.Summary)
		if host := helpers.Host(c.URL); host != "" && !policy.Permits(host) {
			continue
		}
		c.URL = helpers.CanonicalOrRaw(c.URL)
		c.Breaking = c.Breaking || IsBreaking(c.Topic)
		score := Recency(c.PublishedAt, now) + Authority(c, policy)
		if c.Breaking {
			score += 10
		}
		c.Score = score
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	seen := make(map[string]struct{}, len(out))
	uniq := out[:0]
	for _, c := range out {
		key := strings.ToLower(c.URL)
		if _, ok := seen[key]; ok && key != "" {
			continue
		}
		seen[key] = struct{}{}
		uniq = append(uniq, c)
	}
	return uniq
}

// Ranked wraps a source so its results are always ranked with policy.
type Ranked struct {
	Source Source
	Policy config.SourcePolicyConfig
	Now    func() time.Time
}

func (r *Ranked) Name() string { return nameOf(r.Source) }

func (r *Ranked) Fetch(ctx context.Context, query string) ([]Candidate, error) {
	items, err := r.Source.Fetch(ctx, ExpandQuery(query))
	if err != nil {
		return nil, err
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return Rank(items, r.Policy, now()), nil
}
