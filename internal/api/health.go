package api

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
)

const healthMetricsPath = "/customer_dashboard/api/health_metrics/"

func (c *Client) HealthMetrics(ctx context.Context, userID int64) ([]HealthMetric, error) {
	var raw json.RawMessage
	q := url.Values{}
	if userID != 0 {
		q.Set("user_id", strconv.FormatInt(userID, 10))
	}
	if err := c.get(ctx, healthMetricsPath, q, &raw); err != nil {
		return nil, err
	}
	p, err := DecodePage[HealthMetric](raw, 1)
	if err != nil {
		return nil, err
	}
	return p.Items, nil
}

func (c *Client) SaveHealthMetric(ctx context.Context, m HealthMetric) (HealthMetric, error) {
	var out HealthMetric
	err := c.post(ctx, healthMetricsPath, m, &out)
	return out, err
}
