package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"nephbot/internal/storage"
)

// DailyStats summarises a window of the interaction journal, usually one day.
type DailyStats struct {
	Date           string              `json:"date"`
	From           time.Time           `json:"from"`
	To             time.Time           `json:"to"`
	TotalRequests  int                 `json:"total_requests"`
	DirectRequests int                 `json:"direct_requests"`
	GroupRequests  int                 `json:"group_requests"`
	UniqueChats    int                 `json:"unique_chats"`
	UniqueUsers    int                 `json:"unique_users"`
	Failures       int                 `json:"failures"`
	Flavored       int                 `json:"flavored"`
	TotalTokens    int                 `json:"total_tokens"`
	ChatStats      map[int64]ChatStats `json:"chat_stats"`
}

type ChatStats struct {
	ChatID   int64  `json:"chat_id"`
	ChatType string `json:"chat_type"`
	Requests int    `json:"requests"`
	Failures int    `json:"failures"`
}

// AnalyzeDay aggregates the events that fall on targetDate's calendar day.
func AnalyzeDay(events []storage.Event, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	stats := AnalyzeWindow(events, startOfDay, startOfDay.AddDate(0, 0, 1))
	stats.Date = startOfDay.Format("2006-01-02")
	return stats
}

// AnalyzeWindow aggregates the events in [from, to).
func AnalyzeWindow(events []storage.Event, from, to time.Time) *DailyStats {
	day := lo.Filter(events, func(ev storage.Event, _ int) bool {
		return !ev.Timestamp.Before(from) && ev.Timestamp.Before(to)
	})

	isDirect := func(ev storage.Event) bool { return ev.ChatType == "direct" }
	isGroup := func(ev storage.Event) bool { return ev.ChatType == "group" }
	failed := func(ev storage.Event) bool { return ev.Failed }

	stats := &DailyStats{
		Date:           from.Format("2006-01-02 15:04") + " to " + to.Format("2006-01-02 15:04 MST"),
		From:           from,
		To:             to,
		TotalRequests:  len(day),
		DirectRequests: lo.CountBy(day, isDirect),
		GroupRequests:  lo.CountBy(day, isGroup),
		UniqueChats:    len(lo.Uniq(lo.Map(day, func(ev storage.Event, _ int) int64 { return ev.ChatID }))),
		UniqueUsers:    len(lo.Uniq(lo.Map(day, func(ev storage.Event, _ int) int64 { return ev.UserID }))),
		Failures:       lo.CountBy(day, failed),
		Flavored:       lo.CountBy(day, func(ev storage.Event) bool { return ev.Flavored }),
		TotalTokens:    lo.SumBy(day, func(ev storage.Event) int { return ev.TotalTokens }),
		ChatStats:      make(map[int64]ChatStats),
	}

	for chatID, chatEvents := range lo.GroupBy(day, func(ev storage.Event) int64 { return ev.ChatID }) {
		stats.ChatStats[chatID] = ChatStats{
			ChatID:   chatID,
			ChatType: chatEvents[0].ChatType,
			Requests: len(chatEvents),
			Failures: lo.CountBy(chatEvents, failed),
		}
	}
	return stats
}

// Reporter hands out back-to-back report windows: each call covers the time
// since the previous one, so no event falls between two reports.
type Reporter struct {
	mu   sync.Mutex
	last time.Time
	span time.Duration
}

// NewReporter starts the first window at now-span.
func NewReporter(now time.Time, span time.Duration) *Reporter {
	return &Reporter{last: now.Add(-span), span: span}
}

// Report aggregates [previous report, now). A clock that went backwards
// yields an empty window instead of a negative one.
func (r *Reporter) Report(events []storage.Event, now time.Time) *DailyStats {
	r.mu.Lock()
	from := r.last
	if now.After(r.last) {
		r.last = now
	} else {
		now = from
	}
	r.mu.Unlock()
	return AnalyzeWindow(events, from, now)
}

// Summary renders the stats as a plain-text report, busiest chats first.
func (ds *DailyStats) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Nephbot activity for %s:\n", ds.Date)
	fmt.Fprintf(&sb, "- requests: %d (direct %d, group %d)\n", ds.TotalRequests, ds.DirectRequests, ds.GroupRequests)
	fmt.Fprintf(&sb, "- unique chats: %d, unique users: %d\n", ds.UniqueChats, ds.UniqueUsers)
	fmt.Fprintf(&sb, "- failed completions: %d\n", ds.Failures)
	fmt.Fprintf(&sb, "- flavored replies: %d\n", ds.Flavored)
	fmt.Fprintf(&sb, "- tokens: %d\n", ds.TotalTokens)

	chats := lo.Values(ds.ChatStats)
	sort.Slice(chats, func(i, j int) bool {
		if chats[i].Requests != chats[j].Requests {
			return chats[i].Requests > chats[j].Requests
		}
		return chats[i].ChatID < chats[j].ChatID
	})
	for _, c := range chats {
		fmt.Fprintf(&sb, "- chat %d (%s): %d requests", c.ChatID, c.ChatType, c.Requests)
		if c.Failures > 0 {
			fmt.Fprintf(&sb, ", %d failed", c.Failures)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
