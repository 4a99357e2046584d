package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posledger/backend/internal/domain"
)

func newTestCache(t *testing.T) (*RedisReportCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisReportCache(RedisOptions{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestKeyBuilders(t *testing.T) {
	day := time.Date(2026, 1, 2, 23, 30, 0, 0, time.FixedZone("east", -2*3600))
	assert.Equal(t, "report:daily:2026-01-03", DailyKey(day))
	assert.Equal(t, "report:dashboard:summary:2026-01-03:week", DashboardKey("summary", "2026-01-03", "week"))
	assert.Equal(t, "report:dashboard:cashiers", DashboardKey("cashiers"))
}

func TestRedisReportCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	require.NoError(t, c.Ping(ctx))
	key := DailyKey(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	_, found, err := GetJSON[domain.DailySales](ctx, c, key)
	require.NoError(t, err)
	assert.False(t, found)

	report := domain.DailySales{
		Date:       "2026-01-02",
		NumTickets: 3,
		TotalSales: decimal.RequireFromString("120.50"),
		TotalCash:  decimal.RequireFromString("100.00"),
	}
	require.NoError(t, SetJSON(ctx, c, key, report, 30*time.Second))
	assert.True(t, mr.Exists("posledger:report:daily:2026-01-02"), "keys are namespaced")

	got, found, err := GetJSON[domain.DailySales](ctx, c, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, got.NumTickets)
	assert.True(t, report.TotalSales.Equal(got.TotalSales))

	mr.FastForward(31 * time.Second)
	_, found, err = GetJSON[domain.DailySales](ctx, c, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisReportCacheDefaultTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := NewRedisReportCache(RedisOptions{Addr: mr.Addr(), KeyPrefix: "shop-a:", DefaultTTL: time.Minute})
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Set(ctx, "k", []byte(`{}`), 0))
	assert.Equal(t, time.Minute, mr.TTL("shop-a:k"))

	require.NoError(t, c.Set(ctx, "empty", nil, 0))
	assert.False(t, mr.Exists("shop-a:empty"))
}

func TestRedisReportCacheDelete(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, "a", []byte(`"a"`), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte(`"b"`), time.Minute))
	require.NoError(t, c.Delete(ctx, "a", "b"))
	assert.False(t, mr.Exists("posledger:a"))
	assert.False(t, mr.Exists("posledger:b"))
	require.NoError(t, c.Delete(ctx))
}

func TestRedisReportCacheDeletePrefix(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	for i := 0; i < scanCount+5; i++ {
		require.NoError(t, c.Set(ctx, DashboardKey("top-products", "2026-01-02", strconv.Itoa(i)), []byte(`{}`), time.Minute))
	}
	daily := DailyKey(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, c.Set(ctx, daily, []byte(`{}`), time.Minute))
	require.NoError(t, mr.Set("other-app:report:dashboard:x", "keep"))

	require.NoError(t, c.DeletePrefix(ctx, DashboardPrefix))
	assert.Equal(t, []string{"other-app:report:dashboard:x", "posledger:" + daily}, mr.Keys())
}

func TestRedisReportCacheCorruptPayload(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set("posledger:bad", "{not json"))

	_, found, err := GetJSON[domain.DailySales](ctx, c, "bad")
	assert.Error(t, err)
	assert.False(t, found)
}
