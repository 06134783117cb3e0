package repository

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
)

// RedisAccessLogRepo keeps the newest entries in a capped list.
type RedisAccessLogRepo struct {
	client  redis.UniversalClient
	listKey string
	listMax int
}

func NewRedisAccessLogRepo(client redis.UniversalClient, listKey string, listMax int) *RedisAccessLogRepo {
	if listKey == "" {
		listKey = "quicktalk:access_logs"
	}
	if listMax <= 0 {
		listMax = 10000
	}
	return &RedisAccessLogRepo{
		client:  client,
		listKey: listKey,
		listMax: listMax,
	}
}

func (r *RedisAccessLogRepo) Insert(ctx context.Context, entry *model.AccessLog) error {
	if entry == nil {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.listKey, payload)
	pipe.LTrim(ctx, r.listKey, 0, int64(r.listMax-1))
	_, err = pipe.Exec(ctx)
	return err
}

// List scans newest first. Filters are applied client side, so at most a
// few times the limit is fetched.
func (r *RedisAccessLogRepo) List(ctx context.Context, filter model.AccessLogFilter) ([]*model.AccessLog, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	fetch := limit * 5
	if fetch < 100 {
		fetch = 100
	}

	items, err := r.client.LRange(ctx, r.listKey, 0, int64(fetch-1)).Result()
	if err != nil {
		return nil, err
	}
	results := make([]*model.AccessLog, 0, limit)
	for _, raw := range items {
		var entry model.AccessLog
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		if !filter.Match(&entry) {
			continue
		}
		results = append(results, &entry)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}
