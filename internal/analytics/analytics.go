package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"sautai-client/internal/storage"
)

// DailyStats summarises the assistant turns of one day.
type DailyStats struct {
	Date           string              `json:"date"`
	TotalTurns     int                 `json:"total_turns"`
	FailedTurns    int                 `json:"failed_turns"`
	CancelledTurns int                 `json:"cancelled_turns"`
	GuestTurns     int                 `json:"guest_turns"`
	UniqueUsers    int                 `json:"unique_users"`
	Threads        int                 `json:"threads"`
	AvgReplyChars  int                 `json:"avg_reply_chars"`
	UserStats      map[int64]UserStats `json:"user_stats"`
}

type UserStats struct {
	UserID int64 `json:"user_id"`
	Turns  int   `json:"turns"`
	Failed int   `json:"failed"`
}

// AnalyzeDailyLogs aggregates the events that fall on targetDate in its
// location. Events without a user message are ignored.
func AnalyzeDailyLogs(events []storage.Event, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:      startOfDay.Format("2006-01-02"),
		UserStats: make(map[int64]UserStats),
	}
	threads := make(map[string]struct{})
	replyChars, replies := 0, 0

	for _, ev := range events {
		if ev.Timestamp.Before(startOfDay) || !ev.Timestamp.Before(endOfDay) {
			continue
		}
		if ev.UserMessage == "" {
			continue
		}
		stats.TotalTurns++
		us := stats.UserStats[ev.UserID]
		us.UserID = ev.UserID
		us.Turns++
		switch {
		case ev.Failed:
			stats.FailedTurns++
			us.Failed++
		case ev.Cancelled:
			stats.CancelledTurns++
		default:
			replyChars += len([]rune(ev.AssistantResponse))
			replies++
		}
		if ev.Guest {
			stats.GuestTurns++
		}
		if ev.ThreadID != "" {
			threads[ev.ThreadID] = struct{}{}
		}
		stats.UserStats[ev.UserID] = us
	}

	stats.UniqueUsers = len(stats.UserStats)
	stats.Threads = len(threads)
	if replies > 0 {
		stats.AvgReplyChars = replyChars / replies
	}
	return stats
}

// GenerateReportSummary renders the stats as a short plain-text report.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assistant usage for %s\n\n", ds.Date)
	fmt.Fprintf(&b, "Turns: %d (failed %d, stopped %d, guest %d)\n", ds.TotalTurns, ds.FailedTurns, ds.CancelledTurns, ds.GuestTurns)
	fmt.Fprintf(&b, "Users: %d\n", ds.UniqueUsers)
	fmt.Fprintf(&b, "Conversations: %d\n", ds.Threads)
	fmt.Fprintf(&b, "Average reply: %d chars\n", ds.AvgReplyChars)

	if len(ds.UserStats) == 0 {
		return b.String()
	}
	ids := make([]int64, 0, len(ds.UserStats))
	for id := range ds.UserStats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	b.WriteString("\nPer user:\n")
	for _, id := range ids {
		us := ds.UserStats[id]
		fmt.Fprintf(&b, "- user %d: %d turns", id, us.Turns)
		if us.Failed > 0 {
			fmt.Fprintf(&b, ", %d failed", us.Failed)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
