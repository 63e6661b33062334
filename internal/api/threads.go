package api

import (
	"context"
	"net/url"
	"sort"
	"time"

	"sautai-client/internal/history"
)

const (
	threadHistoryPath = "/customer_dashboard/api/thread_history/"
	threadDetailPath  = "/customer_dashboard/api/thread_detail/"
)

func (c *Client) ThreadHistory(ctx context.Context, page int) (Page[ThreadSummary], error) {
	return getPage[ThreadSummary](ctx, c, threadHistoryPath, nil, page)
}

type chatEntry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// ThreadMessages loads a stored conversation, oldest message first.
func (c *Client) ThreadMessages(ctx context.Context, threadID string) ([]history.Message, error) {
	var resp struct {
		ChatHistory []chatEntry `json:"chat_history"`
	}
	if err := c.get(ctx, threadDetailPath+url.PathEscape(threadID)+"/", nil, &resp); err != nil {
		return nil, err
	}
	entries := resp.ChatHistory
	sort.SliceStable(entries, func(i, j int) bool {
		return parseTime(entries[i].CreatedAt).Before(parseTime(entries[j].CreatedAt))
	})
	msgs := make([]history.Message, 0, len(entries))
	for _, e := range entries {
		role := history.RoleAssistant
		if e.Role == string(history.RoleUser) {
			role = history.RoleUser
		}
		msgs = append(msgs, history.Message{Role: role, Content: e.Content})
	}
	return msgs, nil
}

// parseTime returns the zero time for values it cannot read, which keeps
// such entries in their original relative order.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
