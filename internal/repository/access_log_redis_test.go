package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisAccessLogRepoCapsList(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewRedisAccessLogRepo(client, "test:logs", 3)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Insert(ctx, &model.AccessLog{
			ID:        fmt.Sprintf("log-%d", i),
			TenantID:  "shop-1",
			Allowed:   true,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	items, err := mr.List("test:logs")
	require.NoError(t, err)
	assert.Len(t, items, 3)

	got, err := repo.List(ctx, model.AccessLogFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "log-4", got[0].ID)
	assert.Equal(t, "log-2", got[2].ID)
}

func TestRedisAccessLogRepoFilters(t *testing.T) {
	_, client := newTestRedis(t)
	repo := NewRedisAccessLogRepo(client, "", 0)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	entries := []*model.AccessLog{
		{ID: "a", TenantID: "shop-1", Allowed: true, CreatedAt: base},
		{ID: "b", TenantID: "shop-2", Allowed: false, CreatedAt: base.Add(time.Minute)},
		{ID: "c", TenantID: "shop-1", Allowed: false, CreatedAt: base.Add(2 * time.Minute),
			Context: &model.ClientContext{SourceIP: "203.0.113.1", RefererDomain: "evil.com"}},
	}
	for _, e := range entries {
		require.NoError(t, repo.Insert(ctx, e))
	}

	got, err := repo.List(ctx, model.AccessLogFilter{TenantID: "shop-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	require.NotNil(t, got[0].Context)
	assert.Equal(t, "evil.com", got[0].Context.RefererDomain)

	denied := false
	got, err = repo.List(ctx, model.AccessLogFilter{Allowed: &denied})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	from := base.Add(30 * time.Second)
	to := base.Add(90 * time.Second)
	got, err = repo.List(ctx, model.AccessLogFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)

	got, err = repo.List(ctx, model.AccessLogFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRedisAccessLogRepoUnavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewRedisAccessLogRepo(client, "", 0)
	mr.Close()

	assert.Error(t, repo.Insert(context.Background(), &model.AccessLog{ID: "x"}))
	_, err := repo.List(context.Background(), model.AccessLogFilter{})
	assert.Error(t, err)
}
