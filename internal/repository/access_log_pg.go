package repository

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
)

type accessLogRecord struct {
	ID        string    `gorm:"primaryKey;type:text"`
	RequestID string    `gorm:"size:64"`
	Stage     string    `gorm:"size:20;not null"`
	Allowed   bool      `gorm:"not null"`
	MatchedBy string    `gorm:"size:20"`
	Reason    string    `gorm:"type:text"`
	ShopID    string    `gorm:"size:128;index:idx_access_logs_shop,priority:1"`
	ShopName  string    `gorm:"size:255"`
	Class     string    `gorm:"size:32"`
	IP        string    `gorm:"size:64"`
	Domain    string    `gorm:"size:255"`
	Referer   string    `gorm:"type:text"`
	Origin    string    `gorm:"type:text"`
	UserAgent string    `gorm:"type:text"`
	Method    string    `gorm:"size:16"`
	Path      string    `gorm:"type:text"`
	Context   []byte    `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"index;index:idx_access_logs_shop,priority:2"`
}

func (accessLogRecord) TableName() string { return "access_logs" }

func newAccessLogRecord(e *model.AccessLog) *accessLogRecord {
	var ctxJSON []byte
	if e.Context != nil {
		ctxJSON, _ = json.Marshal(e.Context)
	}
	return &accessLogRecord{
		ID:        e.ID,
		RequestID: e.RequestID,
		Stage:     string(e.Stage),
		Allowed:   e.Allowed,
		MatchedBy: string(e.MatchedBy),
		Reason:    e.Reason,
		ShopID:    e.TenantID,
		ShopName:  e.TenantName,
		Class:     string(e.Class),
		IP:        e.IP,
		Domain:    e.Domain,
		Referer:   e.Referer,
		Origin:    e.Origin,
		UserAgent: e.UserAgent,
		Method:    e.Method,
		Path:      e.Path,
		Context:   ctxJSON,
		CreatedAt: e.CreatedAt,
	}
}

func (r *accessLogRecord) toDomain() *model.AccessLog {
	e := &model.AccessLog{
		ID:         r.ID,
		RequestID:  r.RequestID,
		Stage:      model.AccessStage(r.Stage),
		Allowed:    r.Allowed,
		MatchedBy:  model.MatchedBy(r.MatchedBy),
		Reason:     r.Reason,
		TenantID:   r.ShopID,
		TenantName: r.ShopName,
		Class:      model.OperationClass(r.Class),
		IP:         r.IP,
		Domain:     r.Domain,
		Referer:    r.Referer,
		Origin:     r.Origin,
		UserAgent:  r.UserAgent,
		Method:     r.Method,
		Path:       r.Path,
		CreatedAt:  r.CreatedAt,
	}
	if len(r.Context) > 0 {
		var cc model.ClientContext
		if err := json.Unmarshal(r.Context, &cc); err == nil {
			e.Context = &cc
		}
	}
	return e
}

type PostgresAccessLogRepo struct {
	db *gorm.DB
}

func NewPostgresAccessLogRepo(db *gorm.DB) *PostgresAccessLogRepo {
	return &PostgresAccessLogRepo{db: db}
}

func (r *PostgresAccessLogRepo) Insert(ctx context.Context, entry *model.AccessLog) error {
	if entry == nil {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(newAccessLogRecord(entry)).Error
}

func (r *PostgresAccessLogRepo) List(ctx context.Context, filter model.AccessLogFilter) ([]*model.AccessLog, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := r.db.WithContext(ctx).Model(&accessLogRecord{})
	if filter.TenantID != "" {
		q = q.Where("shop_id = ?", filter.TenantID)
	}
	if filter.Allowed != nil {
		q = q.Where("allowed = ?", *filter.Allowed)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at <= ?", *filter.To)
	}

	var rows []accessLogRecord
	if err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.AccessLog, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// Cleanup deletes entries older than olderThan.
func (r *PostgresAccessLogRepo) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&accessLogRecord{})
	return res.RowsAffected, res.Error
}
