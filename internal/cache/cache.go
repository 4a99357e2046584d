package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

const (
	dailyPrefix = "report:daily:"
	// DashboardPrefix namespaces every dashboard aggregate so a sale can
	// drop them together.
	DashboardPrefix = "report:dashboard:"
)

// ReportCache holds encoded report payloads. Keys are built with DailyKey
// and DashboardKey; implementations may namespace them further.
type ReportCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores payload for ttl. A ttl <= 0 uses the implementation default.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// DailyKey is the key of the sales aggregate for the UTC date of day.
func DailyKey(day time.Time) string {
	return dailyPrefix + day.UTC().Format(time.DateOnly)
}

// DashboardKey joins name and params under DashboardPrefix, e.g.
// report:dashboard:top-products:2026-05-02:month:10.
func DashboardKey(name string, params ...string) string {
	parts := append([]string{name}, params...)
	return DashboardPrefix + strings.Join(parts, ":")
}

// GetJSON decodes the payload under key into T. A corrupt payload is an
// error, not a miss.
func GetJSON[T any](ctx context.Context, c ReportCache, key string) (T, bool, error) {
	var value T
	payload, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return value, false, err
	}
	if err := json.Unmarshal(payload, &value); err != nil {
		return value, false, err
	}
	return value, true, nil
}

func SetJSON(ctx context.Context, c ReportCache, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, payload, ttl)
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Delete(_ context.Context, _ ...string) error {
	return nil
}

func (NoopReportCache) DeletePrefix(_ context.Context, _ string) error {
	return nil
}
